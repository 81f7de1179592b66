// Package rocdate parses Republic of China calendar dates as printed by the
// LIA registry ("114年 5月 13日") and applies the 365-day recency rule.
package rocdate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/width"
)

// Offset between ROC and Gregorian years.
const Offset = 1911

// WindowDays is the recency window. It is a fixed day count, not a
// calendar year.
const WindowDays = 365

var datePattern = regexp.MustCompile(`(\d+)年(\d+)月(\d+)日`)

// Date is an ROC calendar date. Month and Day are not range checked until
// Gregorian is called.
type Date struct {
	Year  int
	Month int
	Day   int
}

// Parse finds the first ROC date in text. Whitespace is removed and
// full-width digits are folded before matching. ok is false when no date
// is present.
func Parse(text string) (d Date, ok bool) {
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, width.Narrow.String(text))

	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return Date{}, false
	}
	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Date{}, false
		}
		parts[i] = n
	}
	return Date{Year: parts[0], Month: parts[1], Day: parts[2]}, true
}

// Gregorian converts d to midnight of the Gregorian date in loc (UTC when
// nil). Out-of-range months or days are an error, never normalised.
func (d Date) Gregorian(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if d.Year <= 0 {
		return time.Time{}, fmt.Errorf("rocdate: year %d out of range", d.Year)
	}
	y := d.Year + Offset
	t := time.Date(y, time.Month(d.Month), d.Day, 0, 0, 0, 0, loc)
	if d.Month < 1 || d.Month > 12 || t.Year() != y || int(t.Month()) != d.Month || t.Day() != d.Day {
		return time.Time{}, fmt.Errorf("rocdate: %s is not a calendar date", d)
	}
	return t, nil
}

// FromTime expresses t's calendar date in the ROC calendar.
func FromTime(t time.Time) Date {
	return Date{Year: t.Year() - Offset, Month: int(t.Month()), Day: t.Day()}
}

// WithinWindow reports whether d falls on or after the day WindowDays days
// before now. Comparison is by calendar day in now's location, so a date
// exactly 365 days back is inside and 366 days back is outside.
func WithinWindow(d Date, now time.Time) (bool, error) {
	g, err := d.Gregorian(now.Location())
	if err != nil {
		return false, err
	}
	return !g.Before(Cutoff(now)), nil
}

// Cutoff is midnight of the earliest day inside the window ending at now.
func Cutoff(now time.Time) time.Time {
	y, m, day := now.Date()
	return time.Date(y, m, day-WindowDays, 0, 0, 0, 0, now.Location())
}

// OneYearAgo is the ROC date of Cutoff(now), used in reply templates.
func OneYearAgo(now time.Time) Date {
	return FromTime(Cutoff(now))
}

// String formats d the way the registry does, without padding: "113年5月13日".
func (d Date) String() string {
	return fmt.Sprintf("%d年%d月%d日", d.Year, d.Month, d.Day)
}

// Underscored formats d for filenames: "114_05_13".
func (d Date) Underscored() string {
	return fmt.Sprintf("%d_%02d_%02d", d.Year, d.Month, d.Day)
}
