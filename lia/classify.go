package lia

import (
	"strings"

	"github.com/hazyhaar/agentcheck/lia/internal/htmlq"
	"github.com/hazyhaar/agentcheck/rocdate"
)

// State is a step of the submit loop.
type State int

const (
	StateInit State = iota
	StateSubmitting
	// StateCaptchaRejected is the only state that loops back to submitting.
	StateCaptchaRejected
	StateNotFound
	StateFoundWithTable
	// StateAmbiguous: the form answered with nothing recognisable.
	// Terminal, a retry would not change the answer.
	StateAmbiguous
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSubmitting:
		return "submitting"
	case StateCaptchaRejected:
		return "captcha_rejected"
	case StateNotFound:
		return "not_found"
	case StateFoundWithTable:
		return "found_with_table"
	case StateAmbiguous:
		return "ambiguous"
	}
	return "invalid"
}

// Terminal reports whether s ends the loop.
func (s State) Terminal() bool {
	return s == StateNotFound || s == StateFoundWithTable || s == StateAmbiguous
}

// Classifier turns what the registry sent back into a loop state and
// reads the registration date from a results page.
type Classifier struct {
	Markers Markers
}

// NewClassifier fills missing markers with the defaults.
func NewClassifier(m Markers) Classifier {
	return Classifier{Markers: m.withDefaults()}
}

// Decide classifies one submission from the dialog text (empty when no
// dialog appeared) and the page markup. Both channels are checked: the
// registry reports errors through dialogs and results through the page.
func (c Classifier) Decide(dialog, page string) State {
	m := c.Markers
	switch {
	case m.captchaRejected(dialog):
		return StateCaptchaRejected
	case strings.Contains(dialog, m.NoData) || strings.Contains(page, m.NoData):
		return StateNotFound
	case strings.Contains(page, m.ResultsTableClass) && strings.Contains(page, m.FirstRegistrationLabel):
		return StateFoundWithTable
	default:
		return StateAmbiguous
	}
}

// RegistrationDate reads the first-registration row of the results table.
// table is the table's outer HTML when one exists. ok is false when the
// labelled row is missing or its date cannot be parsed.
func (c Classifier) RegistrationDate(page string) (d rocdate.Date, table string, ok bool) {
	doc, err := htmlq.Parse(page)
	if err != nil {
		return rocdate.Date{}, "", false
	}
	sel := "table." + c.Markers.ResultsTableClass
	if t := htmlq.First(doc, sel); t != nil {
		table = htmlq.Render(t)
	}
	for _, row := range htmlq.All(doc, sel+" tr") {
		text := htmlq.Text(row)
		if strings.Contains(text, c.Markers.FirstRegistrationLabel) {
			d, ok = rocdate.Parse(text)
			return d, table, ok
		}
	}
	return rocdate.Date{}, table, false
}
