package verify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/agentcheck/lia"
	"github.com/hazyhaar/agentcheck/trello"
)

// Target is what an input resolved to.
type Target struct {
	Input string `json:"input"`
	// Number is the registration number as found, not yet validated.
	Number string `json:"number"`
	// CardID is set when the input was a Trello card.
	CardID       string `json:"card_id,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

// FromCard reports whether the input named a card.
func (t Target) FromCard() bool { return t.CardID != "" }

// InputError is a resolution failure the operator can fix. Its message is
// shown to them verbatim.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// IsInputError reports whether err is an InputError or a lia validation error.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie) || lia.IsValidation(err)
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// ExtractContactEmail returns the first e-mail address in text.
func ExtractContactEmail(text string) (string, bool) {
	m := emailPattern.FindString(text)
	return m, m != ""
}

// Resolve turns console or CLI input into a Target. A Trello card URL is
// looked up and its description searched for the number; anything else is
// taken as the number itself.
func (s *Service) Resolve(ctx context.Context, input string) (Target, error) {
	input = strings.TrimSpace(input)
	if !strings.Contains(strings.ToLower(input), "trello.com") {
		return Target{Input: input, Number: input}, nil
	}
	id, ok := trello.CardIDFromURL(input)
	if !ok {
		return Target{Input: input}, &InputError{Msg: "無效的 Trello 網址"}
	}
	t, err := s.resolveCard(ctx, id)
	t.Input = input
	return t, err
}

func (s *Service) resolveCard(ctx context.Context, cardID string) (Target, error) {
	t := Target{CardID: cardID}
	if s.cards == nil || !s.cards.Configured() {
		return t, &InputError{Msg: "未設定 TRELLO_API_KEY 或 TRELLO_TOKEN"}
	}
	desc, err := s.cards.CardDescription(ctx, cardID)
	if err != nil {
		return t, fmt.Errorf("verify: card %s: %w", cardID, err)
	}
	if email, ok := ExtractContactEmail(desc); ok {
		t.ContactEmail = email
	}
	n, ok := lia.ExtractRegistrationNumber(desc)
	if !ok {
		// A labelled but malformed number is returned as typed; callers
		// validate it and report the format.
		if n, ok = lia.LabelledToken(desc); !ok {
			return t, &InputError{Msg: "Trello 卡片描述中找不到登錄證字號"}
		}
	}
	t.Number = n
	return t, nil
}
