package lia

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeRegistrationNumber(t *testing.T) {
	for n := 8; n <= 10; n++ {
		in := strings.Repeat("7", n)
		got, err := NormalizeRegistrationNumber(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if len(got) != NumberLength || !strings.HasSuffix(got, in) || strings.TrimLeft(got[:NumberLength-n], "0") != "" {
			t.Errorf("%q -> %q", in, got)
		}
	}

	bad := []string{"", "1234567", "12345678901", "12345a78", "１２３４５６７８", "1234 5678", "-12345678", "12345678\n"}
	for _, in := range bad {
		if _, err := NormalizeRegistrationNumber(in); !errors.Is(err, ErrInvalidNumber) {
			t.Errorf("%q: err = %v, want ErrInvalidNumber", in, err)
		}
	}
}

func TestExtractRegistrationNumber(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"姓名：王小明\n登錄證字號：12345678\nEmail: a@b.tw", "0012345678", true},
		{"登錄字號: 1234567890", "1234567890", true},
		{"證號：123456789", "0123456789", true},
		{"登錄證字號：１２３４５６７８", "0012345678", true},
		{"證號：1234567 (七碼)", "", false},
		{"電話：0912345678", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractRegistrationNumber(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Extract(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLabelledToken(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"證號：1234567 (七碼)", "1234567", true},
		{"登錄證字號：12AB5678，謝謝", "12AB5678", true},
		{"登錄字號:１２３４５", "12345", true},
		{"登錄證字號：\n下一行", "", false},
		{"請幫我升級", "", false},
	}
	for _, tt := range tests {
		got, ok := LabelledToken(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("LabelledToken(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractPrefersMostSpecificLabel(t *testing.T) {
	text := "證號：11111111\n登錄證字號：22222222"
	got, _ := ExtractRegistrationNumber(text)
	if got != "0022222222" {
		t.Fatalf("got %q, want the 登錄證字號 value", got)
	}
}
