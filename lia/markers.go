package lia

import "strings"

// DefaultFormURL is the registry's agent lookup form (program PGQ010S01).
const DefaultFormURL = "https://public.liaroc.org.tw/lia-public/DIS/Servlet/RD?" +
	"returnUrl=..%2F..%2FindexUsr.jsp&xml=%3C%3Fxml+version%3D%221.0%22+" +
	"encoding%3D%22BIG5%22%3F%3E%3CRoot%3E%3CForm%3E%3CreturnUrl%3E" +
	"..%2F..%2FindexUsr.jsp%3C%2FreturnUrl%3E%3Cxml%2F%3E%3Cfuncid%3E" +
	"PGQ010++++++++++++++++++++++++%3C%2Ffuncid%3E%3CprogId%3EPGQ010S01" +
	"%3C%2FprogId%3E%3C%2FForm%3E%3C%2FRoot%3E&funcid=" +
	"PGQ010++++++++++++++++++++++++&progId=PGQ010S01"

// Markers are the phrases the registry uses to signal each outcome. They
// track the site's wording and are configurable for that reason.
type Markers struct {
	CaptchaRejected        string `yaml:"captcha_rejected"`
	NoData                 string `yaml:"no_data"`
	ResultsTableClass      string `yaml:"results_table_class"`
	FirstRegistrationLabel string `yaml:"first_registration_label"`
}

// DefaultMarkers returns the registry's current wording.
func DefaultMarkers() Markers {
	return Markers{
		CaptchaRejected:        "驗證碼錯誤",
		NoData:                 "查無資料",
		ResultsTableClass:      "formStyle02",
		FirstRegistrationLabel: "初次登錄日期",
	}
}

func (m Markers) withDefaults() Markers {
	d := DefaultMarkers()
	if m.CaptchaRejected == "" {
		m.CaptchaRejected = d.CaptchaRejected
	}
	if m.NoData == "" {
		m.NoData = d.NoData
	}
	if m.ResultsTableClass == "" {
		m.ResultsTableClass = d.ResultsTableClass
	}
	if m.FirstRegistrationLabel == "" {
		m.FirstRegistrationLabel = d.FirstRegistrationLabel
	}
	return m
}

func (m Markers) captchaRejected(dialog string) bool {
	return dialog != "" && strings.Contains(dialog, m.CaptchaRejected)
}

// Selectors locate the form controls.
type Selectors struct {
	Captcha       string `yaml:"captcha"`
	Number        string `yaml:"number"`
	Answer        string `yaml:"answer"`
	Submit        string `yaml:"submit"`
	RefreshButton string `yaml:"refresh"`
}

// DefaultSelectors returns the registry form's current selectors.
func DefaultSelectors() Selectors {
	return Selectors{
		Captcha:       "#captcha",
		Number:        "#iusr",
		Answer:        `input[name="captchaAnswer"]`,
		Submit:        "#btn1",
		RefreshButton: "#btn3",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Captcha == "" {
		s.Captcha = d.Captcha
	}
	if s.Number == "" {
		s.Number = d.Number
	}
	if s.Answer == "" {
		s.Answer = d.Answer
	}
	if s.Submit == "" {
		s.Submit = d.Submit
	}
	if s.RefreshButton == "" {
		s.RefreshButton = d.RefreshButton
	}
	return s
}
