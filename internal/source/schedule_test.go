package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCadence_Due(t *testing.T) {
	// 2025-08-20 is a Wednesday.
	now := ts("2025-08-20T12:00:00Z")

	tests := []struct {
		name    string
		cadence Cadence
		last    *time.Time
		due     bool
	}{
		{"never run is always due", Weekly, nil, true},
		{"daily, ran yesterday", Daily, ptr(ts("2025-08-19T23:00:00Z")), true},
		{"daily, ran this morning", Daily, ptr(ts("2025-08-20T01:00:00Z")), false},
		{"weekly, ran last week", Weekly, ptr(ts("2025-08-15T12:00:00Z")), true},
		{"weekly, ran monday", Weekly, ptr(ts("2025-08-18T08:00:00Z")), false},
		{"monthly, ran in july", Monthly, ptr(ts("2025-07-30T12:00:00Z")), true},
		{"monthly, ran on the 1st", Monthly, ptr(ts("2025-08-01T00:30:00Z")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.due, tt.cadence.Due(now, tt.last))
		})
	}
}

func TestCadence_Window(t *testing.T) {
	now := ts("2025-08-20T12:34:56Z")

	assert.Equal(t, ts("2025-08-20T00:00:00Z"), Daily.Window(now))
	assert.Equal(t, ts("2025-08-18T00:00:00Z"), Weekly.Window(now), "ISO weeks start Monday")
	assert.Equal(t, ts("2025-08-01T00:00:00Z"), Monthly.Window(now))
}

func TestCadence_WindowSundayBelongsToPriorWeek(t *testing.T) {
	// 2025-08-24 is a Sunday; its week started Monday the 18th.
	now := ts("2025-08-24T09:00:00Z")
	assert.Equal(t, ts("2025-08-18T00:00:00Z"), Weekly.Window(now))
}

func ptr[T any](v T) *T { return &v }
