// Package lia verifies insurance agents against the Life Insurance
// Association of the R.O.C. public registry.
//
// The registry has no API: an Orchestrator drives its CAPTCHA-protected
// lookup form through a browser Session, retries when the CAPTCHA answer
// is rejected, classifies the answer page, and decides from the printed
// first-registration date whether the agent registered within the last
// 365 days. Each query returns a Result with a screenshot, a suggested
// filename and a reply template.
package lia

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/agentcheck/rocdate"
)

// Config controls the submit loop.
type Config struct {
	FormURL   string    `yaml:"form_url"`
	Selectors Selectors `yaml:"selectors"`
	Markers   Markers   `yaml:"markers"`
	// MaxRetries bounds submissions per query when the caller passes 0.
	MaxRetries int `yaml:"max_retries"`
	// CaptchaDelay lets the CAPTCHA image load before it is captured.
	CaptchaDelay time.Duration `yaml:"captcha_delay"`
	// SettleDelay follows WaitSettle; the registry renders client-side
	// after the network goes idle.
	SettleDelay  time.Duration `yaml:"settle_delay"`
	RefreshDelay time.Duration `yaml:"refresh_delay"`
	// ScreenshotFraction of the page height kept in the evidence capture.
	ScreenshotFraction float64 `yaml:"screenshot_fraction"`
}

// DefaultConfig matches the registry's behaviour as of this writing.
func DefaultConfig() Config {
	return Config{
		FormURL:            DefaultFormURL,
		Selectors:          DefaultSelectors(),
		Markers:            DefaultMarkers(),
		MaxRetries:         5,
		CaptchaDelay:       time.Second,
		SettleDelay:        time.Second,
		RefreshDelay:       time.Second,
		ScreenshotFraction: 0.6,
	}
}

// Orchestrator runs queries. It holds no per-query state and may be shared;
// every Query gets its own Session from the factory.
type Orchestrator struct {
	cfg        Config
	sessions   SessionFactory
	solver     CaptchaSolver
	classifier Classifier
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithClock sets the time source used for the recency window. Its
// location decides the calendar day.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// NewOrchestrator wires an Orchestrator. Zero config fields take defaults,
// except the delays, which may legitimately be zero.
func NewOrchestrator(cfg Config, sessions SessionFactory, solver CaptchaSolver, opts ...Option) *Orchestrator {
	d := DefaultConfig()
	if cfg.FormURL == "" {
		cfg.FormURL = d.FormURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.ScreenshotFraction <= 0 || cfg.ScreenshotFraction > 1 {
		cfg.ScreenshotFraction = d.ScreenshotFraction
	}
	cfg.Selectors = cfg.Selectors.withDefaults()
	cfg.Markers = cfg.Markers.withDefaults()

	o := &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		solver:     solver,
		classifier: NewClassifier(cfg.Markers),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

type queryOptions struct {
	skipScreenshot bool
}

// QueryOption tunes a single Query.
type QueryOption func(*queryOptions)

// SkipScreenshot omits the evidence capture (status-code callers).
func SkipScreenshot() QueryOption { return func(q *queryOptions) { q.skipScreenshot = true } }

// Query verifies one registration number, submitting the form at most
// maxRetries times (0 means the configured default). The number is
// validated before any browser work. The session is released exactly once
// on every path.
//
// A completed query, including an inconclusive one, returns a Result and a
// nil error. Running out of attempts while the CAPTCHA keeps being
// rejected returns KindRetriesExhausted.
func (o *Orchestrator) Query(ctx context.Context, number string, maxRetries int, opts ...QueryOption) (*Result, error) {
	number, err := NormalizeRegistrationNumber(number)
	if err != nil {
		return nil, err
	}
	if maxRetries <= 0 {
		maxRetries = o.cfg.MaxRetries
	}
	var qo queryOptions
	for _, fn := range opts {
		fn(&qo)
	}

	start := time.Now()
	log := o.logger.With("reg_no", number)

	sess, err := o.sessions(ctx)
	if err != nil {
		return nil, browserError("acquire session", KindSession, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("lia: release session", "error", cerr)
		}
	}()

	if err := sess.Navigate(ctx, o.cfg.FormURL); err != nil {
		return nil, browserError("navigate", KindNavigation, err)
	}

	state := StateInit
	var page string
	attempts := 0
	for attempts < maxRetries && !state.Terminal() {
		attempts++
		state, page, err = o.submit(ctx, sess, number)
		if err != nil {
			return nil, err
		}
		log.Info("lia: attempt", "attempt", attempts, "state", state)

		if state == StateCaptchaRejected && attempts < maxRetries {
			if err := o.refreshCaptcha(ctx, sess); err != nil {
				return nil, err
			}
		}
	}
	if !state.Terminal() {
		return nil, &Error{Kind: KindRetriesExhausted, Op: "submit",
			Err: errAttempts(attempts)}
	}

	res := &Result{RegistrationNumber: number, Attempts: attempts, CheckedAt: o.now()}
	res.Outcome, res.TableHTML, err = o.resolve(state, page, res.CheckedAt)
	if err != nil {
		return nil, err
	}
	res.Status = res.Outcome.Status
	res.Message = res.Outcome.Message()
	res.Filename = Filename(number, res.Outcome)
	res.Email = Email(res.Outcome, res.CheckedAt)

	if !qo.skipScreenshot {
		img, err := sess.PageImage(ctx, o.cfg.ScreenshotFraction)
		if err != nil {
			return nil, browserError("screenshot", KindInternal, err)
		}
		res.Screenshot = img
	}
	res.Elapsed = time.Since(start)

	log.Info("lia: query done", "status", res.Status, "attempts", attempts, "elapsed", res.Elapsed)
	return res, nil
}

// submit runs one solve, fill, submit, classify cycle.
func (o *Orchestrator) submit(ctx context.Context, sess Session, number string) (State, string, error) {
	sel := o.cfg.Selectors
	if err := sleep(ctx, o.cfg.CaptchaDelay); err != nil {
		return StateSubmitting, "", err
	}
	img, err := sess.ElementImage(ctx, sel.Captcha)
	if err != nil {
		return StateSubmitting, "", browserError("capture captcha", KindElementNotFound, err)
	}
	text, err := o.solver.Classify(ctx, img)
	if err != nil {
		return StateSubmitting, "", &Error{Kind: KindOCR, Op: "solve captcha", Err: err}
	}
	answer := strings.ToLower(strings.TrimSpace(text))
	o.logger.Debug("lia: captcha read", "answer", answer)

	if err := sess.Fill(ctx, sel.Number, number); err != nil {
		return StateSubmitting, "", browserError("fill number", KindElementNotFound, err)
	}
	if err := sess.Fill(ctx, sel.Answer, answer); err != nil {
		return StateSubmitting, "", browserError("fill captcha", KindElementNotFound, err)
	}

	dlg, err := sess.ArmDialog(ctx)
	if err != nil {
		return StateSubmitting, "", browserError("arm dialog", KindInternal, err)
	}
	defer dlg.Disarm()

	if err := sess.Click(ctx, sel.Submit); err != nil {
		return StateSubmitting, "", browserError("submit", KindElementNotFound, err)
	}
	if err := sess.WaitSettle(ctx); err != nil {
		return StateSubmitting, "", browserError("settle", KindTimeout, err)
	}
	if err := sleep(ctx, o.cfg.SettleDelay); err != nil {
		return StateSubmitting, "", err
	}

	msg, _ := dlg.Message()
	if msg != "" {
		o.logger.Debug("lia: dialog", "message", msg)
	}
	if o.cfg.Markers.captchaRejected(msg) {
		return StateCaptchaRejected, "", nil
	}
	page, err := sess.HTML(ctx)
	if err != nil {
		return StateSubmitting, "", browserError("read page", KindInternal, err)
	}
	return o.classifier.Decide(msg, page), page, nil
}

func (o *Orchestrator) refreshCaptcha(ctx context.Context, sess Session) error {
	if err := sess.Click(ctx, o.cfg.Selectors.RefreshButton); err != nil {
		return browserError("refresh captcha", KindElementNotFound, err)
	}
	return sleep(ctx, o.cfg.RefreshDelay)
}

// resolve maps a terminal state to an Outcome, reading the date for
// found pages. A date the calendar rejects is an error, not a guess.
func (o *Orchestrator) resolve(state State, page string, now time.Time) (Outcome, string, error) {
	switch state {
	case StateNotFound:
		return Outcome{Status: StatusNotFound}, "", nil
	case StateFoundWithTable:
		d, table, ok := o.classifier.RegistrationDate(page)
		if !ok {
			return Outcome{Status: StatusFoundUndetermined}, table, nil
		}
		within, err := rocdate.WithinWindow(d, now)
		if err != nil {
			return Outcome{}, "", &Error{Kind: KindInvalidDate, Op: "registration date", Err: err}
		}
		if within {
			return Outcome{Status: StatusFoundValid, Date: d}, table, nil
		}
		return Outcome{Status: StatusFoundInvalid, Date: d}, table, nil
	default:
		return Outcome{Status: StatusUnknown}, "", nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProbeCaptcha opens the form, captures the CAPTCHA and returns it with the
// solver's reading. Nothing is submitted. It is a smoke test for the
// browser and OCR wiring.
func (o *Orchestrator) ProbeCaptcha(ctx context.Context) (image []byte, text string, err error) {
	sess, err := o.sessions(ctx)
	if err != nil {
		return nil, "", browserError("acquire session", KindSession, err)
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, o.cfg.FormURL); err != nil {
		return nil, "", browserError("navigate", KindNavigation, err)
	}
	if err := sleep(ctx, o.cfg.CaptchaDelay); err != nil {
		return nil, "", err
	}
	image, err = sess.ElementImage(ctx, o.cfg.Selectors.Captcha)
	if err != nil {
		return nil, "", browserError("capture captcha", KindElementNotFound, err)
	}
	text, err = o.solver.Classify(ctx, image)
	if err != nil {
		return image, "", &Error{Kind: KindOCR, Op: "solve captcha", Err: err}
	}
	return image, strings.ToLower(strings.TrimSpace(text)), nil
}
