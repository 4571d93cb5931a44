package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BusinessDateLayout is the ISO-8601 calendar date used for policy dates.
const BusinessDateLayout = "2006-01-02"

// CARRIER/BRANCH/LOB/YY/SEQ, e.g. AIICO/LAG/MOT/24/000123
var policyNumberPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}/[A-Z0-9]{2,10}/[A-Z0-9]{2,10}/[0-9]{2}/[0-9]{1,10}$`)

func ValidatePolicyNumber(policyNumber string) error {
	if !policyNumberPattern.MatchString(strings.TrimSpace(policyNumber)) {
		return ValidationError{Field: "policyNumber", Message: "expected CARRIER/BRANCH/LOB/YY/SEQ"}
	}
	return nil
}

// ParseBusinessDate parses a YYYY-MM-DD date in UTC.
func ParseBusinessDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(BusinessDateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return t, nil
}

func FormatBusinessDate(t time.Time) string {
	return t.UTC().Format(BusinessDateLayout)
}

// StartOfDay truncates a timestamp to its UTC calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths steps t by n calendar months, clamping to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(d, lastDay),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
