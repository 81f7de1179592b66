package lia

import (
	"time"

	"github.com/hazyhaar/agentcheck/rocdate"
)

// Status is the business outcome of a query.
type Status string

const (
	StatusFoundValid        Status = "found_valid"
	StatusFoundInvalid      Status = "found_invalid"
	StatusFoundUndetermined Status = "found_undetermined"
	StatusNotFound          Status = "not_found"
	StatusUnknown           Status = "unknown"
	StatusError             Status = "error"
)

// Completed reports whether the registry answered, even inconclusively.
func (s Status) Completed() bool {
	switch s {
	case StatusFoundValid, StatusFoundInvalid, StatusFoundUndetermined, StatusNotFound, StatusUnknown:
		return true
	}
	return false
}

// Outcome is the classified result of a query. Date is set only for
// StatusFoundValid and StatusFoundInvalid.
type Outcome struct {
	Status Status
	Date   rocdate.Date
}

// Dated reports whether o carries a registration date.
func (o Outcome) Dated() bool {
	return o.Status == StatusFoundValid || o.Status == StatusFoundInvalid
}

// Message is the operator-facing summary of o.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusNotFound:
		return "查無此登錄字號資料"
	case StatusFoundValid:
		return "審核成功（初次登錄 " + o.Date.String() + "，在一年內）"
	case StatusFoundInvalid:
		return "審核失敗（初次登錄 " + o.Date.String() + "，超過一年）"
	case StatusFoundUndetermined:
		return "找到資料但無法解析日期"
	case StatusUnknown:
		return "表單已送出，無明確結果或非預期頁面"
	default:
		return "未完成查詢"
	}
}

// Result is everything a query produced. The caller owns it.
type Result struct {
	RegistrationNumber string        `json:"registration_number"`
	Outcome            Outcome       `json:"-"`
	Status             Status        `json:"status"`
	Message            string        `json:"message"`
	Attempts           int           `json:"attempts"`
	Screenshot         []byte        `json:"-"`
	Filename           string        `json:"filename"`
	Email              EmailTemplate `json:"email"`
	// TableHTML is the outer HTML of the results table when one was found.
	TableHTML string        `json:"-"`
	CheckedAt time.Time     `json:"checked_at"`
	Elapsed   time.Duration `json:"-"`
}
