package lia

import "context"

// Session is one browser process with one page, used by exactly one query.
// Blocking operations honour ctx and bound their own waits.
type Session interface {
	// Navigate loads url and returns once the document is minimally loaded.
	Navigate(ctx context.Context, url string) error
	// Fill replaces the value of the field at selector.
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// ElementImage waits for selector to be visible and returns a PNG of it.
	ElementImage(ctx context.Context, selector string) ([]byte, error)
	// PageImage returns a PNG of the top fraction (0 < f <= 1) of the full
	// page height at viewport width.
	PageImage(ctx context.Context, fraction float64) ([]byte, error)
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	// ArmDialog starts capturing the next native dialog, which is accepted
	// automatically. It must be called before the action that may raise
	// the dialog.
	ArmDialog(ctx context.Context) (Dialog, error)
	// WaitSettle waits for network and DOM activity to calm down. Its own
	// timeout is not an error.
	WaitSettle(ctx context.Context) error
	// Close releases the page and the browser. Idempotent.
	Close() error
}

// Dialog is an armed one-shot dialog capture.
type Dialog interface {
	// Message returns the captured text, ok false if no dialog appeared.
	Message() (text string, ok bool)
	// Disarm stops listening.
	Disarm()
}

// SessionFactory starts a fresh Session.
type SessionFactory func(ctx context.Context) (Session, error)

// CaptchaSolver reads CAPTCHA images. Its answers may be wrong; only the
// registry decides.
type CaptchaSolver interface {
	Classify(ctx context.Context, image []byte) (string, error)
}

// SolverFunc adapts a function to CaptchaSolver.
type SolverFunc func(ctx context.Context, image []byte) (string, error)

func (f SolverFunc) Classify(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}
