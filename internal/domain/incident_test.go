package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected Severity
		ok       bool
	}{
		{"1", SeverityCritical, true},
		{"critical", SeverityCritical, true},
		{"2", SeverityMajor, true},
		{"major", SeverityMajor, true},
		{"3", SeverityMinor, true},
		{"minor", SeverityMinor, true},
		{"4", "", false},
		{"sev1", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sev, ok := ParseSeverity(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, sev)
		})
	}
}

func TestStatusUpdateInterval(t *testing.T) {
	assert.Equal(t, 5*time.Minute, StatusUpdateIn5.Minutes())
	assert.Equal(t, time.Hour, StatusUpdateIn60.Minutes())
	assert.Equal(t, "30 mins", StatusUpdateIn30.Text())
	assert.Equal(t, "1 hour", StatusUpdateIn60.Text())
	assert.False(t, StatusUpdateInterval("15").IsValid())
}

func TestIncident_IsClosed(t *testing.T) {
	inc := &Incident{}
	assert.False(t, inc.IsClosed())
	assert.Equal(t, "live", inc.StatusText())

	now := time.Now()
	inc.EndTime = &now
	assert.True(t, inc.IsClosed())
	assert.Equal(t, "resolved", inc.StatusText())
}

func TestIncident_Duration(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		expected string
	}{
		{"seconds only", start.Add(42 * time.Second), "42 secs"},
		{"minutes", start.Add(5 * time.Minute), "5 mins"},
		{"one minute", start.Add(1 * time.Minute), "1 min"},
		{"hours and minutes", start.Add(2*time.Hour + 30*time.Minute), "2 hrs 30 mins"},
		{"exactly one hour", start.Add(time.Hour), "1 hr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc := &Incident{StartTime: start}
			assert.Equal(t, tt.expected, inc.Duration(tt.now))
		})
	}
}

func TestIncident_Duration_UsesEndTime(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	inc := &Incident{StartTime: start, EndTime: &end}
	assert.Equal(t, "10 mins", inc.Duration(start.Add(5*time.Hour)))
}

func TestIncident_LeadOrReporter(t *testing.T) {
	reporter := &ExternalUser{ExternalID: "U1"}
	lead := &ExternalUser{ExternalID: "U2"}

	inc := &Incident{Reporter: reporter}
	assert.Equal(t, reporter, inc.LeadOrReporter())

	inc.Lead = lead
	assert.Equal(t, lead, inc.LeadOrReporter())
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hello", Sanitize("  hello  "))
	assert.Equal(t, "a\nb", Sanitize("a\nb"))
	assert.Equal(t, "ab", Sanitize("a\x00\x08b"))
	assert.Equal(t, "", Sanitize("\x1b\x07"))
	assert.Equal(t, "tab\tok", Sanitize("tab\tok"))
}

func TestSanitizePtr(t *testing.T) {
	assert.Nil(t, SanitizePtr(nil))

	empty := "   "
	assert.Nil(t, SanitizePtr(&empty))

	text := " fine "
	result := SanitizePtr(&text)
	assert.NotNil(t, result)
	assert.Equal(t, "fine", *result)
}
