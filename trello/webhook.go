package trello

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SignatureHeader carries the delivery signature.
const SignatureHeader = "X-Trello-Webhook"

// Event is the subset of a webhook delivery the verifier reads.
type Event struct {
	Action struct {
		Type string `json:"type"`
		Data struct {
			Card Card `json:"card"`
		} `json:"data"`
	} `json:"action"`
}

// Card identifies a card in an event.
type Card struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortLink string `json:"shortLink"`
}

// ParseEvent decodes a delivery body.
func ParseEvent(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("trello: decode event: %w", err)
	}
	return &e, nil
}

// CreatedCard returns the card when e is a createCard action.
func (e *Event) CreatedCard() (Card, bool) {
	if e.Action.Type != "createCard" || e.Action.Data.Card.ID == "" {
		return Card{}, false
	}
	return e.Action.Data.Card, true
}

// Sign computes the signature Trello sends for body delivered to
// callbackURL: base64(HMAC-SHA1(secret, body + callbackURL)).
func Sign(secret, callbackURL string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callbackURL))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the expected signature.
func VerifySignature(secret, callbackURL string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, callbackURL, body)), []byte(header))
}
