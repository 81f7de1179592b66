// Package trello is the small slice of the Trello REST API the verifier
// needs: read a card description, comment, attach a file, and manage the
// webhook that announces new cards.
package trello

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/agentcheck/connectivity"
)

// DefaultBaseURL is the Trello REST root.
const DefaultBaseURL = "https://api.trello.com/1"

// ErrNotConfigured is returned when the API key or token is missing.
var ErrNotConfigured = errors.New("trello: TRELLO_API_KEY or TRELLO_TOKEN not set")

// Config holds the API credentials.
type Config struct {
	APIKey  string `yaml:"api_key"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	// AppSecret signs webhook deliveries. Empty disables verification.
	AppSecret string `yaml:"app_secret"`
	// CallbackURL is the public URL Trello posts to, also part of the
	// signed payload.
	CallbackURL string `yaml:"callback_url"`
	BoardID     string `yaml:"board_id"`
	// TriggerKeyword selects the cards to verify by name.
	TriggerKeyword string `yaml:"trigger_keyword"`
}

// Client calls the Trello API with retries on transient failures.
type Client struct {
	cfg    Config
	http   *http.Client
	guard  *connectivity.Guard
	logger *slog.Logger
}

// NewClient returns a Client. A nil logger uses slog.Default().
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		guard:  connectivity.NewGuard("trello", logger),
		logger: logger,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.APIKey != "" && c.cfg.Token != ""
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// CardDescription returns the description of card id (short link or ID).
func (c *Client) CardDescription(ctx context.Context, id string) (string, error) {
	var card struct {
		Desc string `json:"desc"`
	}
	q := url.Values{"fields": {"desc"}}
	if err := c.do(ctx, http.MethodGet, "/cards/"+url.PathEscape(id), q, nil, "", &card); err != nil {
		return "", err
	}
	return card.Desc, nil
}

// Comment posts text as a comment on card id.
func (c *Client) Comment(ctx context.Context, id, text string) error {
	q := url.Values{"text": {text}}
	if err := c.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(id)+"/actions/comments", q, nil, "", nil); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "trello: comment posted", "card", id)
	return nil
}

// Attach uploads data as an attachment named filename.
func (c *Client) Attach(ctx context.Context, id, filename, mimeType string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", filename)
	_ = mw.WriteField("mimeType", mimeType)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("trello: multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("trello: multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("trello: multipart: %w", err)
	}

	if err := c.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(id)+"/attachments", nil,
		buf.Bytes(), mw.FormDataContentType(), nil); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "trello: attachment uploaded", "card", id, "filename", filename, "bytes", len(data))
	return nil
}

// Webhook is a registered Trello webhook.
type Webhook struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	IDModel     string `json:"idModel"`
	CallbackURL string `json:"callbackURL"`
	Active      bool   `json:"active"`
}

// CreateWebhook registers callbackURL for events on model (a board ID).
// Trello probes callbackURL with HEAD before accepting it.
func (c *Client) CreateWebhook(ctx context.Context, callbackURL, model, description string) (*Webhook, error) {
	q := url.Values{
		"callbackURL": {callbackURL},
		"idModel":     {model},
		"description": {description},
		"active":      {"true"},
	}
	var wh Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks/", q, nil, "", &wh); err != nil {
		return nil, err
	}
	return &wh, nil
}

// ListWebhooks lists the webhooks owned by the token.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var out []Webhook
	if err := c.do(ctx, http.MethodGet, "/tokens/"+url.PathEscape(c.cfg.Token)+"/webhooks", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteWebhook removes webhook id.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil, nil, "", nil)
}

// APIError is a non-2xx answer from Trello.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trello: api status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, contentType string, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("key", c.cfg.APIKey)
	q.Set("token", c.cfg.Token)
	target := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + q.Encode()

	return c.guard.Do(ctx, func(ctx context.Context) error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return connectivity.Permanent(fmt.Errorf("trello: new request: %w", err))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("trello: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("trello: read: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			return connectivity.Permanent(apiErr)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return connectivity.Permanent(fmt.Errorf("trello: decode: %w", err))
		}
		return nil
	})
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
