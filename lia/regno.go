package lia

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// NumberLength is the canonical length of a registration number.
const NumberLength = 10

// ErrInvalidNumber rejects input that is not 8 to 10 ASCII digits.
var ErrInvalidNumber = errors.New("lia: registration number must be 8 to 10 digits")

// NormalizeRegistrationNumber validates s and left-pads it with zeros to
// ten digits. Nothing is trimmed: surrounding spaces make s invalid.
func NormalizeRegistrationNumber(s string) (string, error) {
	if len(s) < 8 || len(s) > NumberLength {
		return "", &Error{Kind: KindValidation, Op: "normalize", Err: ErrInvalidNumber}
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", &Error{Kind: KindValidation, Op: "normalize", Err: ErrInvalidNumber}
		}
	}
	return strings.Repeat("0", NumberLength-len(s)) + s, nil
}

var numberLabels = []*regexp.Regexp{
	regexp.MustCompile(`登錄證字號[：:]\s*(\d{8,10})`),
	regexp.MustCompile(`登錄字號[：:]\s*(\d{8,10})`),
	regexp.MustCompile(`證號[：:]\s*(\d{8,10})`),
}

// ExtractRegistrationNumber finds a labelled number ("登錄證字號：12345678")
// in free text such as a card description and returns it normalised.
// Labels are tried from most to least specific.
func ExtractRegistrationNumber(text string) (string, bool) {
	text = width.Narrow.String(text)
	for _, re := range numberLabels {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := NormalizeRegistrationNumber(m[1])
			return n, err == nil
		}
	}
	return "", false
}

var labelledToken = regexp.MustCompile(`(?:登錄證字號|登錄字號|證號)[：:][ \t]*([^\s，,。；;]+)`)

// LabelledToken returns whatever follows a number label, valid or not, so a
// malformed number can be shown back to whoever typed it.
func LabelledToken(text string) (string, bool) {
	m := labelledToken.FindStringSubmatch(width.Narrow.String(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}
