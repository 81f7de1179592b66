package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

const settleQuiet = 300 * time.Millisecond

// Dialog captures the first JavaScript dialog raised after ArmDialog and
// accepts it so the page can continue.
type Dialog struct {
	cancel context.CancelFunc
	ch     chan string

	mu   sync.Mutex
	msg  string
	seen bool
}

// ArmDialog subscribes to dialog events before returning, so a dialog
// raised by the next action is not missed.
func (s *Session) ArmDialog(ctx context.Context) (*Dialog, error) {
	dctx, cancel := context.WithCancel(ctx)
	d := &Dialog{cancel: cancel, ch: make(chan string, 1)}

	page := s.page
	wait := page.Context(dctx).EachEvent(func(e *proto.PageJavascriptDialogOpening) bool {
		select {
		case d.ch <- e.Message:
		default:
		}
		if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(page); err != nil {
			s.cfg.Logger.Warn("browser: accept dialog", "error", err)
		}
		return true
	})
	go wait()
	return d, nil
}

// Message returns the captured text without blocking.
func (d *Dialog) Message() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.seen {
		select {
		case m := <-d.ch:
			d.msg, d.seen = m, true
		default:
		}
	}
	return d.msg, d.seen
}

// Disarm stops the listener. A dialog already captured stays readable.
func (d *Dialog) Disarm() { d.cancel() }
