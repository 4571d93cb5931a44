package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePolicyNumber(t *testing.T) {
	valid := []string{"AIICO/LAG/MOT/24/000123", "AXA/ABJ/FIR/23/7", " LEAD/PH/MAR/24/99 "}
	for _, n := range valid {
		assert.NoError(t, ValidatePolicyNumber(n), n)
	}

	invalid := []string{"", "AIICO-LAG-MOT-24-1", "aiico/lag/mot/24/1", "AIICO/LAG/MOT/2024/1", "AIICO/LAG/MOT/24/"}
	for _, n := range invalid {
		err := ValidatePolicyNumber(n)
		require.Error(t, err, n)
		var verr ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Equal(t, "policyNumber", verr.Field)
	}
}

func TestParseBusinessDate(t *testing.T) {
	d, err := ParseBusinessDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2024-02-29", FormatBusinessDate(d))

	_, err = ParseBusinessDate("2023-02-29")
	assert.Error(t, err)
	_, err = ParseBusinessDate("29/02/2024")
	assert.Error(t, err)
}

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2024, 5, 17, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC), StartOfDay(ts))
}

func TestAddMonths(t *testing.T) {
	cases := []struct {
		start string
		n     int
		want  string
	}{
		{"2024-01-01", 3, "2024-04-01"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-08-31", 6, "2025-02-28"},
		{"2024-11-15", 2, "2025-01-15"},
		{"2024-03-31", 0, "2024-03-31"},
	}
	for _, c := range cases {
		start, err := ParseBusinessDate(c.start)
		require.NoError(t, err)
		assert.Equal(t, c.want, FormatBusinessDate(AddMonths(start, c.n)), "%s + %d", c.start, c.n)
	}
}
