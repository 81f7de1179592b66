package lia

import (
	"context"
	"errors"
	"sync"
	"time"
)

// reply is what the registry sends back for one submission.
type reply struct {
	dialog string
	page   string
}

type fakeDialog struct {
	s *fakeSession
}

func (d fakeDialog) Message() (string, bool) {
	return d.s.pendingDialog, d.s.pendingDialog != ""
}
func (d fakeDialog) Disarm() { d.s.armed = false }

// fakeSession scripts the registry: each submit click consumes the next
// reply. Once the script runs out, every submission is rejected.
type fakeSession struct {
	mu sync.Mutex

	replies  []reply
	submits  int
	refresh  int
	closes   int
	filled   map[string]string
	armed    bool
	armedAt  []bool // armed state seen at each submit click
	navErr   error
	failStep string

	pendingDialog string
	page          string
}

func newFakeSession(replies ...reply) *fakeSession {
	return &fakeSession{replies: replies, filled: map[string]string{}}
}

func (s *fakeSession) fail(step string) error {
	if s.failStep == step {
		return errors.New("boom at " + step)
	}
	return nil
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	if s.navErr != nil {
		return s.navErr
	}
	return s.fail("navigate")
}

func (s *fakeSession) Fill(ctx context.Context, selector, value string) error {
	if err := s.fail("fill"); err != nil {
		return err
	}
	s.filled[selector] = value
	return nil
}

func (s *fakeSession) Click(ctx context.Context, selector string) error {
	switch selector {
	case DefaultSelectors().Submit:
		s.armedAt = append(s.armedAt, s.armed)
		s.submits++
		r := reply{dialog: "驗證碼錯誤！"}
		if s.submits <= len(s.replies) {
			r = s.replies[s.submits-1]
		}
		if s.armed {
			s.pendingDialog = r.dialog
		}
		s.page = r.page
	case DefaultSelectors().RefreshButton:
		s.refresh++
		s.pendingDialog = ""
	case "#missing":
		return ErrElementNotFound
	}
	return nil
}

func (s *fakeSession) ElementImage(ctx context.Context, selector string) ([]byte, error) {
	if err := s.fail("captcha"); err != nil {
		return nil, err
	}
	return []byte("captcha-png"), nil
}

func (s *fakeSession) PageImage(ctx context.Context, fraction float64) ([]byte, error) {
	if err := s.fail("screenshot"); err != nil {
		return nil, err
	}
	return []byte("page-png"), nil
}

func (s *fakeSession) HTML(ctx context.Context) (string, error) { return s.page, nil }

func (s *fakeSession) ArmDialog(ctx context.Context) (Dialog, error) {
	s.armed = true
	s.pendingDialog = ""
	return fakeDialog{s: s}, nil
}

func (s *fakeSession) WaitSettle(ctx context.Context) error { return nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

type countingSolver struct {
	calls  int
	answer string
	err    error
}

func (c *countingSolver) Classify(ctx context.Context, img []byte) (string, error) {
	c.calls++
	return c.answer, c.err
}

var fixedNow = time.Date(2026, 5, 13, 10, 0, 0, 0, time.FixedZone("CST", 8*3600))

func newTestOrchestrator(sess *fakeSession, solver CaptchaSolver) (*Orchestrator, *int) {
	acquired := 0
	factory := func(ctx context.Context) (Session, error) {
		acquired++
		return sess, nil
	}
	cfg := DefaultConfig()
	cfg.CaptchaDelay, cfg.SettleDelay, cfg.RefreshDelay = 0, 0, 0
	return NewOrchestrator(cfg, factory, solver, WithClock(func() time.Time { return fixedNow })), &acquired
}

func resultsPage(date string) string {
	return `<html><body><table class="formStyle02">
<tr><th>登錄字號</th><td>0012345678</td></tr>
<tr><th>初次登錄日期</th><td>` + date + `</td></tr>
</table></body></html>`
}
