package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hazyhaar/agentcheck/jobs"
	"github.com/hazyhaar/agentcheck/lia"
	"github.com/hazyhaar/agentcheck/shield"
	"github.com/hazyhaar/agentcheck/trello"
	"github.com/hazyhaar/agentcheck/verify"
)

type handlers struct {
	d Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.d.Ready != nil {
		if err := h.d.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checkResponse is what the console script reads.
type checkResponse struct {
	Success       bool               `json:"success"`
	Message       string             `json:"message,omitempty"`
	Image         string             `json:"image,omitempty"`
	Filename      string             `json:"filename,omitempty"`
	Status        lia.Status         `json:"status,omitempty"`
	Email         *lia.EmailTemplate `json:"email,omitempty"`
	Attempts      int                `json:"attempts,omitempty"`
	TrelloCardURL string             `json:"trello_card_url,omitempty"`
	Reported      bool               `json:"reported,omitempty"`
}

func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	input := r.URL.Query().Get("id")
	if strings.TrimSpace(input) == "" {
		writeJSON(w, http.StatusBadRequest, checkResponse{Message: "請提供 id 參數"})
		return
	}

	c, err := h.d.Service.Check(r.Context(), input, verify.SourceConsole)
	switch {
	case err == nil:
	case verify.IsInputError(err):
		writeJSON(w, http.StatusBadRequest, checkResponse{Message: err.Error()})
		return
	case lia.KindOf(err) == lia.KindRetriesExhausted:
		log.Warn("httpapi: check failed", "error", err)
		writeJSON(w, http.StatusNotFound, checkResponse{Message: "查詢失敗或查無資料: " + verify.FailureMessage(err)})
		return
	default:
		log.Error("httpapi: check error", "error", err)
		writeJSON(w, http.StatusInternalServerError, checkResponse{Message: "系統發生錯誤，請稍後再試"})
		return
	}

	res := c.Result
	if !verify.Reportable(res) {
		writeJSON(w, http.StatusNotFound, checkResponse{Message: "查詢失敗或查無資料: " + res.Message})
		return
	}
	resp := checkResponse{
		Success:  true,
		Message:  res.Message,
		Image:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(res.Screenshot),
		Filename: res.Filename,
		Status:   res.Status,
		Email:    &res.Email,
		Attempts: res.Attempts,
		Reported: c.Reported,
	}
	if c.Target.FromCard() {
		resp.TrelloCardURL = c.Target.Input
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) verifyLicense(w http.ResponseWriter, r *http.Request) {
	var req verify.APIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, verify.InvalidFormat())
		return
	}
	number, ok := req.Number()
	if !ok {
		writeJSON(w, http.StatusOK, verify.InvalidFormat())
		return
	}
	writeJSON(w, http.StatusOK, h.d.Service.StatusCode(r.Context(), number))
}

// webhookOK is the answer to Trello's HEAD check and to every well-signed
// delivery.
func (h *handlers) webhookOK(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// webhook answers 200 to every well-signed delivery, quickly: Trello
// disables webhooks that fail or time out. Work is queued.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.d.Metrics.IncrementWebhook("rejected")
		writeError(w, http.StatusBadRequest, errors.New("unreadable body"))
		return
	}

	cfg := h.d.Webhook
	if cfg.AppSecret != "" && !trello.VerifySignature(cfg.AppSecret, cfg.CallbackURL, body, r.Header.Get(trello.SignatureHeader)) {
		log.Warn("httpapi: webhook signature mismatch")
		h.d.Metrics.IncrementWebhook("rejected")
		writeError(w, http.StatusUnauthorized, errors.New("invalid signature"))
		return
	}

	h.d.Metrics.IncrementWebhook(h.queueCard(r.Context(), body))
	h.webhookOK(w, r)
}

// queueCard queues the card a delivery created when its name carries the
// trigger keyword. It returns the delivery's metrics result.
func (h *handlers) queueCard(ctx context.Context, body []byte) string {
	log := shield.GetLogger(ctx)
	ev, err := trello.ParseEvent(body)
	if err != nil {
		log.Warn("httpapi: webhook payload", "error", err)
		return "ignored"
	}
	card, ok := ev.CreatedCard()
	if !ok {
		return "ignored"
	}
	if !strings.Contains(card.Name, h.d.Webhook.TriggerKeyword) {
		log.Info("httpapi: card ignored", "card_id", card.ID, "name", card.Name)
		return "ignored"
	}
	if h.d.Queue == nil {
		log.Warn("httpapi: no queue, card dropped", "card_id", card.ID)
		return "ignored"
	}

	id, err := h.d.Queue.Publish(ctx, jobs.CardJob{CardID: card.ID, CardName: card.Name})
	if err != nil {
		log.Error("httpapi: enqueue card", "card_id", card.ID, "error", err)
		return "rejected"
	}
	log.Info("httpapi: card queued", "card_id", card.ID, "job_id", id, "short_link", card.ShortLink)
	return "queued"
}

func (h *handlers) debugOCR(w http.ResponseWriter, r *http.Request) {
	img, text, err := h.d.Probe(r.Context())
	resp := map[string]any{"text": text}
	if len(img) > 0 {
		resp["image"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
	}
	if err != nil {
		shield.GetLogger(r.Context()).Warn("httpapi: ocr probe", "error", err)
		resp["error"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
