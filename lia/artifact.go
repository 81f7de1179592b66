package lia

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hazyhaar/agentcheck/rocdate"
)

// Filename labels. Display code picks a status colour by looking for these
// substrings, so they are part of the contract.
const (
	LabelNotFound     = "查無資料"
	LabelApproved     = "審核通過"
	LabelNotQualified = "資格不符"
	LabelDateUnknown  = "日期未知"
	LabelInvalid      = "無效證號"
)

// Filename derives "{number}_{label}[_{yyy}_{mm}_{dd}].png" from the
// outcome. Pure.
func Filename(number string, o Outcome) string {
	var label string
	switch o.Status {
	case StatusNotFound:
		label = LabelNotFound
	case StatusFoundValid:
		label = LabelApproved
	case StatusFoundInvalid:
		label = LabelNotQualified
	case StatusFoundUndetermined:
		label = LabelDateUnknown
	default:
		label = LabelInvalid
	}
	stem := number + "_" + label
	if o.Dated() {
		stem += "_" + o.Date.Underscored()
	}
	return stem + ".png"
}

// Stem strips the extension from a filename produced by Filename.
func Stem(filename string) string {
	return strings.TrimSuffix(filename, path.Ext(filename))
}

// EmailTemplate is a canned reply to the applicant.
type EmailTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Email selects the reply for o. Valid and invalid outcomes have their own
// template; everything else asks the applicant to confirm the number.
// The invalid template quotes the window's first day in ROC form.
func Email(o Outcome, now time.Time) EmailTemplate {
	switch o.Status {
	case StatusFoundValid:
		return EmailTemplate{Subject: validSubject, Body: validBody}
	case StatusFoundInvalid:
		return EmailTemplate{
			Subject: invalidSubject,
			Body:    fmt.Sprintf(invalidBody, rocdate.OneYearAgo(now)),
		}
	default:
		return NotFoundEmail()
	}
}

// NotFoundEmail is the reply asking the applicant to check their number.
func NotFoundEmail() EmailTemplate {
	return EmailTemplate{Subject: notFoundSubject, Body: notFoundBody}
}

const validSubject = "Finfo 年繳方案付款通知 (審核通過，提供您刷卡升級連結)"

// The payment link placeholder is filled in by hand.
const validBody = `您好,

這裡是 Finfo 客服團隊的審核專員，我會協助您這次的年繳方案申請，感謝您申請年繳方案。
我們已確認您符合優惠資格，以下是您的付款連結：

[粗體文字：TODO，附上付款連結]

請於三天內完成付款 (付款連結將於三天後失效)。
收到款項後的一個工作天內，我們會為您升級帳號權限，並再次以 Email 通知您。

如有任何問題，隨時回覆此信與我們聯繫。

Finfo 客服團隊 敬上`

const invalidSubject = "Finfo 有收到您的年繳方案申請，您並非一年內的新進業務，可考慮月繳方案"

const invalidBody = `您好,

這裡是 Finfo 客服團隊的審核專員，感謝您申請年繳方案。

目前年繳方案屬於測試階段，第一階段先開放給新進一年的業務員。

也就是要在 %s 之後登錄的新進業務員，會是這次新進業務年繳方案的測試對象。

根據您提供的資料，您的登錄日期是比較早期的，不符合針對新進業務的資格，不好意思。

若您對年繳方案有興趣，可以等之後 Finfo 正式推出年繳方案後再填寫即可，感謝您的來信申請。

Finfo 客服團隊 敬上`

const notFoundSubject = "Finfo 有收到您的年繳方案申請，想詢問您的登錄證字號"

const notFoundBody = `您好,

這裡是 Finfo 客服團隊的審核專員，感謝您申請年繳方案。
根據您提供的登錄證字號，於 壽險公會 無法查詢到資格，
請再次確認提供的資料是否正確，再次感謝您的申請與支持。

如有任何問題，隨時回覆此信與我們聯繫。

如果有其他任何網站上的操作問題，也都歡迎您在此封信件中一併提出，我們會盡快協助，感謝您！

Finfo 客服團隊 敬上`
