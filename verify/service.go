// Package verify is the caller layer around the registry query: input
// resolution, bounded concurrency, metrics, the status-code
// API, Trello card reporting and the MCP tool.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/agentcheck/evidence"
	"github.com/hazyhaar/agentcheck/kit"
	"github.com/hazyhaar/agentcheck/lia"
	"github.com/hazyhaar/agentcheck/observability"
)

// Querier runs one registry query. *lia.Orchestrator implements it.
type Querier interface {
	Query(ctx context.Context, number string, maxRetries int, opts ...lia.QueryOption) (*lia.Result, error)
}

// Cards is the part of the Trello client the service uses.
// *trello.Client implements it.
type Cards interface {
	Configured() bool
	CardDescription(ctx context.Context, id string) (string, error)
	Comment(ctx context.Context, id, text string) error
	Attach(ctx context.Context, id, filename, mimeType string, data []byte) error
}

// Sources label where a query came from in metrics and logs.
const (
	SourceAPI     = "api"
	SourceConsole = "console"
	SourceWebhook = "webhook"
	SourceCLI     = "cli"
	SourceMCP     = "mcp"
)

// Service runs queries for every front-end.
type Service struct {
	querier  Querier
	cards    Cards
	renderer *evidence.Renderer
	metrics  *observability.Metrics
	logger   *slog.Logger

	sem        *semaphore.Weighted
	flight     singleflight.Group
	pending    pendingDeliveries
	now        func() time.Time
	maxRetries int
	timeout    time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCards enables card resolution and reporting.
func WithCards(c Cards) Option { return func(s *Service) { s.cards = c } }

// WithMetrics records query and job metrics.
func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMaxConcurrent bounds simultaneous browser sessions. Default: 1.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMaxRetries overrides the orchestrator's default attempt budget.
func WithMaxRetries(n int) Option { return func(s *Service) { s.maxRetries = n } }

// WithTimeout bounds one query, waiting for a slot included. Default: 3m.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// New builds a Service around q.
func New(q Querier, opts ...Option) *Service {
	s := &Service{
		querier:  q,
		renderer: evidence.NewRenderer(),
		logger:   slog.Default(),
		sem:      semaphore.NewWeighted(1),
		timeout:  3 * time.Minute,
		now:      time.Now,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Request is one query.
type Request struct {
	Number         string
	Source         string
	CardID         string
	SkipScreenshot bool
}

// Query validates the number and runs it. Identical concurrent requests
// share one browser run. The run is detached from ctx and bounded by the
// service timeout, so a caller that gives up does not abort it for the
// others waiting on the same number.
func (s *Service) Query(ctx context.Context, req Request) (*lia.Result, error) {
	number, err := lia.NormalizeRegistrationNumber(req.Number)
	if err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = kit.GetTransport(ctx)
	}
	key := fmt.Sprintf("%s|%t", number, req.SkipScreenshot)

	ch := s.flight.DoChan(key, func() (any, error) {
		return s.run(context.WithoutCancel(ctx), number, req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		// Merged callers each get their own copy. The screenshot and
		// table bytes stay shared and are never written to.
		res := *r.Val.(*lia.Result)
		return &res, nil
	}
}

func (s *Service) run(ctx context.Context, number string, req Request) (*lia.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer s.metrics.TrackInFlight()()

	log := s.logger.With("reg_no", number, "source", req.Source, "trace_id", kit.GetTraceID(ctx))
	if req.CardID != "" {
		log = log.With("card_id", req.CardID)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Warn("verify: no browser slot", "error", err)
		return nil, &lia.Error{Kind: lia.KindTimeout, Op: "wait for browser slot", Err: err}
	}
	defer s.sem.Release(1)

	var opts []lia.QueryOption
	if req.SkipScreenshot {
		opts = append(opts, lia.SkipScreenshot())
	}

	start := time.Now()
	res, err := s.querier.Query(ctx, number, s.maxRetries, opts...)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("verify: query failed", "error", err, "kind", lia.KindOf(err), "elapsed", elapsed)
		s.metrics.ObserveQuery(req.Source, string(lia.StatusError), 0, elapsed)
		return nil, err
	}

	s.metrics.ObserveQuery(req.Source, string(res.Status), res.Attempts, elapsed)
	log.Info("verify: query done", "status", res.Status, "attempts", res.Attempts, "elapsed", elapsed)
	return res, nil
}

// Check is the console flow: resolve the input, query with a screenshot,
// and report back to the card when the input was one. A reporting failure
// is logged and does not fail the check.
type Check struct {
	Target   Target
	Result   *lia.Result
	Reported bool
}

// Check resolves input and runs it for source.
func (s *Service) Check(ctx context.Context, input, source string) (*Check, error) {
	t, err := s.Resolve(ctx, input)
	if err != nil {
		var ie *InputError
		if errors.As(err, &ie) {
			return nil, &InputError{Msg: "輸入解析錯誤: " + ie.Msg}
		}
		return nil, err
	}
	if _, err := lia.NormalizeRegistrationNumber(t.Number); err != nil {
		return nil, &InputError{Msg: fmt.Sprintf("無效的登錄字號格式: %s", t.Number)}
	}
	res, err := s.Query(ctx, Request{Number: t.Number, Source: source, CardID: t.CardID})
	if err != nil {
		return nil, err
	}
	c := &Check{Target: t, Result: res}
	if t.FromCard() && Reportable(res) {
		if err := s.ReportToCard(ctx, t.CardID, res, t.ContactEmail); err != nil {
			s.logger.Warn("verify: card report failed", "card_id", t.CardID, "error", err)
		} else {
			c.Reported = true
		}
	}
	return c, nil
}

// Reportable reports whether res is a completed query with evidence.
func Reportable(res *lia.Result) bool {
	return res != nil && res.Status.Completed() && len(res.Screenshot) > 0
}
