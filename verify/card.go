package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/agentcheck/lia"
)

// Card comments. The %s verbs take the detail shown to the operator.
const (
	commentResolveFailed = "自動驗證失敗：%s\n請確認卡片描述中的登錄證字號格式是否正確（應為 8-10 位數字）。"
	commentBadNumber     = "自動驗證失敗：登錄證字號格式無效「%s」\n證號應為 8-10 位純數字，請確認後重新建立卡片。"
	commentQueryFailed   = "自動驗證失敗：%s\n請稍後重試或手動查詢。"
	commentSystemError   = "自動驗證發生系統錯誤，請通知管理員或手動查詢。"
	commentDone          = "查詢完成：%s\n%s"
)

// Job results recorded in metrics.
const (
	jobDone       = "done"
	jobFailed     = "failed"
	jobSkipped    = "skipped"
	jobUnreported = "unreported"
)

// pendingTTL bounds how long an undelivered card report is kept for the
// redelivered job to resume.
const pendingTTL = time.Hour

// delivery is what a card is still owed: the screenshot, then comments in
// order. Each step is dropped once posted, so a resumed delivery never
// repeats one.
type delivery struct {
	result   string
	attach   *lia.Result
	comments []string
	created  time.Time
}

// pendingDeliveries holds deliveries that failed part-way, by card.
type pendingDeliveries struct {
	mu sync.Mutex
	m  map[string]*delivery
}

func (p *pendingDeliveries) put(cardID string, d *delivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*delivery)
	}
	p.m[cardID] = d
}

// take removes and returns the pending delivery for cardID, dropping
// every expired one on the way.
func (p *pendingDeliveries) take(cardID string, now time.Time) *delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.m[cardID]
	delete(p.m, cardID)
	for id, old := range p.m {
		if now.Sub(old.created) > pendingTTL {
			delete(p.m, id)
		}
	}
	if d == nil || now.Sub(d.created) > pendingTTL {
		return nil
	}
	return d
}

// ProcessCard verifies the agent named on a card and reports on the card.
// Every outcome, failures included, ends as a comment. The returned error
// is non-nil only when the card could not be written to; the undelivered
// part is kept, and the next ProcessCard for the card posts it without
// querying the registry again.
func (s *Service) ProcessCard(ctx context.Context, cardID string) error {
	log := s.logger.With("card_id", cardID)
	if s.cards == nil || !s.cards.Configured() {
		log.Warn("verify: trello not configured, skipping card")
		s.metrics.IncrementCardJob(jobSkipped)
		return nil
	}

	if d := s.pending.take(cardID, s.now()); d != nil {
		log.Info("verify: resuming card report", "attach", d.attach != nil, "comments_left", len(d.comments))
		return s.finish(ctx, cardID, d)
	}

	t, err := s.resolveCard(ctx, cardID)
	if err != nil {
		var ie *InputError
		if errors.As(err, &ie) {
			log.Info("verify: card unresolved", "reason", ie.Msg)
			return s.finish(ctx, cardID, failure(fmt.Sprintf(commentResolveFailed, ie.Msg)))
		}
		log.Error("verify: card lookup failed", "error", err)
		return s.finish(ctx, cardID, failure(commentSystemError))
	}
	log = log.With("reg_no", t.Number)

	if _, err := lia.NormalizeRegistrationNumber(t.Number); err != nil {
		log.Info("verify: malformed number on card")
		return s.finish(ctx, cardID, failure(
			fmt.Sprintf(commentBadNumber, t.Number),
			EmailComment(lia.NotFoundEmail(), t.ContactEmail),
		))
	}

	res, err := s.Query(ctx, Request{Number: t.Number, Source: SourceWebhook, CardID: cardID})
	switch {
	case err != nil && lia.KindOf(err) != lia.KindInternal:
		return s.finish(ctx, cardID, failure(fmt.Sprintf(commentQueryFailed, FailureMessage(err))))
	case err != nil:
		log.Error("verify: card query failed", "error", err)
		return s.finish(ctx, cardID, failure(commentSystemError))
	case !Reportable(res):
		return s.finish(ctx, cardID, failure(fmt.Sprintf(commentQueryFailed, res.Message)))
	}

	if err := s.finish(ctx, cardID, s.report(res, t.ContactEmail)); err != nil {
		return err
	}
	log.Info("verify: card reported", "status", res.Status)
	return nil
}

func failure(comments ...string) *delivery {
	return &delivery{result: jobFailed, comments: comments}
}

func (s *Service) report(res *lia.Result, contactEmail string) *delivery {
	return &delivery{
		result:   jobDone,
		attach:   res,
		comments: []string{s.ResultComment(res), EmailComment(res.Email, contactEmail)},
	}
}

// finish delivers d, keeping whatever is left of it when the card refuses.
func (s *Service) finish(ctx context.Context, cardID string, d *delivery) error {
	if d.created.IsZero() {
		d.created = s.now()
	}
	if err := s.deliver(ctx, cardID, d); err != nil {
		s.pending.put(cardID, d)
		s.metrics.IncrementCardJob(jobUnreported)
		return err
	}
	s.metrics.IncrementCardJob(d.result)
	return nil
}

func (s *Service) deliver(ctx context.Context, cardID string, d *delivery) error {
	if d.attach != nil {
		if err := s.cards.Attach(ctx, cardID, d.attach.Filename, "image/png", d.attach.Screenshot); err != nil {
			return fmt.Errorf("verify: attach: %w", err)
		}
		d.attach = nil
	}
	for len(d.comments) > 0 {
		if err := s.cards.Comment(ctx, cardID, d.comments[0]); err != nil {
			return fmt.Errorf("verify: comment: %w", err)
		}
		d.comments = d.comments[1:]
	}
	return nil
}

// ReportToCard attaches the screenshot, comments the outcome with the
// results table, then comments the reply template.
func (s *Service) ReportToCard(ctx context.Context, cardID string, res *lia.Result, contactEmail string) error {
	if s.cards == nil || !s.cards.Configured() {
		return errors.New("verify: trello not configured")
	}
	return s.deliver(ctx, cardID, s.report(res, contactEmail))
}

// ResultComment is the "查詢完成" comment, followed by the results table
// when the registry returned one.
func (s *Service) ResultComment(res *lia.Result) string {
	text := fmt.Sprintf(commentDone, lia.Stem(res.Filename), res.Message)
	if res.TableHTML == "" {
		return text
	}
	md, err := s.renderer.TableMarkdown(res.TableHTML)
	if err != nil || md == "" {
		s.logger.Debug("verify: table markdown skipped", "error", err)
		return text
	}
	return text + "\n\n" + md
}

// EmailComment formats a reply template for pasting into the mail client.
func EmailComment(e lia.EmailTemplate, to string) string {
	var b strings.Builder
	b.WriteString("回信範本\n")
	if to != "" {
		b.WriteString("收件人：" + to + "\n")
	}
	b.WriteString("信件標題：" + e.Subject + "\n\n")
	b.WriteString(e.Body)
	return b.String()
}

// FailureMessage describes a failed query for an operator.
func FailureMessage(err error) string {
	switch lia.KindOf(err) {
	case lia.KindRetriesExhausted:
		return "驗證碼辨識失敗，已達最大重試次數"
	case lia.KindOCR:
		return "驗證碼辨識服務無法使用"
	case lia.KindSession, lia.KindNavigation, lia.KindElementNotFound:
		return "無法開啟壽險公會查詢頁面"
	case lia.KindTimeout:
		return "查詢逾時"
	case lia.KindInvalidDate:
		return "查詢結果的初次登錄日期無效"
	case lia.KindValidation:
		return "登錄證字號格式無效"
	default:
		return lia.Outcome{Status: lia.StatusError}.Message()
	}
}
