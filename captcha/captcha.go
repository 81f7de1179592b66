// Package captcha reads CAPTCHA images through an HTTP OCR service
// (a ddddocr wrapper or anything speaking the same JSON).
//
// Request:  POST {endpoint}  {"image": "<base64 png>"}
// Response: {"text": "ab12", "confidence": 0.93}, or a text/plain body
// holding just the answer.
package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/agentcheck/connectivity"
)

// Request is the OCR request body.
type Request struct {
	Image string `json:"image"`
}

// Response is the OCR JSON answer. Result is accepted as an alias of Text.
type Response struct {
	Text       string  `json:"text"`
	Result     string  `json:"result,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Config configures an HTTPSolver.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// HTTPSolver implements lia.CaptchaSolver over HTTP.
type HTTPSolver struct {
	endpoint string
	client   *http.Client
	guard    *connectivity.Guard
}

// NewHTTPSolver builds a solver. Timeout defaults to 10s, retries to 2.
func NewHTTPSolver(cfg Config, logger *slog.Logger) *HTTPSolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	g := connectivity.NewGuard("ocr", logger)
	if cfg.Retries > 0 {
		g.MaxRetries = cfg.Retries
	}
	return &HTTPSolver{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		guard:    g,
	}
}

// Classify sends image to the OCR service and returns its raw answer.
func (s *HTTPSolver) Classify(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("captcha: empty image")
	}
	body, err := json.Marshal(Request{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return "", fmt.Errorf("captcha: marshal: %w", err)
	}

	var answer string
	err = s.guard.Do(ctx, func(ctx context.Context) error {
		a, perr := s.post(ctx, body)
		answer = a
		return perr
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (s *HTTPSolver) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", connectivity.Permanent(fmt.Errorf("captcha: new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("captcha: post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("captcha: read: %w", err)
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("captcha: ocr status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if resp.StatusCode < 500 {
			return "", connectivity.Permanent(err)
		}
		return "", err
	}

	var r Response
	if jerr := json.Unmarshal(data, &r); jerr == nil {
		if r.Text == "" {
			r.Text = r.Result
		}
		return r.Text, nil
	} else if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/plain" {
		return "", connectivity.Permanent(fmt.Errorf("captcha: decode: %w", jerr))
	}
	return strings.TrimSpace(string(data)), nil
}
