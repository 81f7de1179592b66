package verify

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/agentcheck/lia"
)

// Status codes of the license API.
const (
	CodeNewAgent      = 0
	CodeNotNewAgent   = 1
	CodeInvalidFormat = 2
	CodeNotFound      = 3
	CodeUnavailable   = 999
)

// API messages, one per code.
const (
	MsgNewAgent      = "Verification passed: New agent identified."
	MsgNotNewAgent   = "Failed: Not a new agent (seniority > 1 year)."
	MsgInvalidFormat = "Failed: Invalid ID alphanumeric format."
	MsgNotFound      = "Failed: License number not found in database."
	MsgUnavailable   = "Error: Third-party service is under maintenance."
)

// APIRequest is the license API body. LicenseNumber is kept raw so a
// non-string value maps to CodeInvalidFormat instead of a decode error.
type APIRequest struct {
	LicenseNumber json.RawMessage `json:"license_number"`
}

// Number returns the license number when it is a JSON string.
func (r APIRequest) Number() (string, bool) {
	var s string
	if len(r.LicenseNumber) == 0 || json.Unmarshal(r.LicenseNumber, &s) != nil {
		return "", false
	}
	return s, s != ""
}

// APIResponse is the license API answer.
type APIResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// InvalidFormat is the answer to a missing or malformed number.
func InvalidFormat() APIResponse {
	return APIResponse{StatusCode: CodeInvalidFormat, Message: MsgInvalidFormat}
}

// Unavailable is the answer to any failure on our side or the registry's.
func Unavailable() APIResponse {
	return APIResponse{StatusCode: CodeUnavailable, Message: MsgUnavailable}
}

// ResponseFor maps an outcome status to the API answer. Outcomes the API
// has no code for (undetermined date, unrecognised page) are reported as
// unavailable.
func ResponseFor(status lia.Status) APIResponse {
	switch status {
	case lia.StatusFoundValid:
		return APIResponse{StatusCode: CodeNewAgent, Message: MsgNewAgent}
	case lia.StatusFoundInvalid:
		return APIResponse{StatusCode: CodeNotNewAgent, Message: MsgNotNewAgent}
	case lia.StatusNotFound:
		return APIResponse{StatusCode: CodeNotFound, Message: MsgNotFound}
	default:
		return Unavailable()
	}
}

// StatusCode runs a screenshot-free query for number and maps the outcome.
// It never returns an error: every failure is CodeUnavailable.
func (s *Service) StatusCode(ctx context.Context, number string) APIResponse {
	if _, err := lia.NormalizeRegistrationNumber(number); err != nil {
		return InvalidFormat()
	}
	res, err := s.Query(ctx, Request{Number: number, Source: SourceAPI, SkipScreenshot: true})
	if err != nil {
		return Unavailable()
	}
	return ResponseFor(res.Status)
}
