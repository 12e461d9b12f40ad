package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/caribdata/opendata-cli/internal/model"
)

func TestComputeRunStats(t *testing.T) {
	now := time.Now()
	started := now.Add(-time.Hour)
	completed := started.Add(90 * time.Second)

	runs := []model.Run{
		{ID: "a", Source: "worldbank", Status: model.RunStatusComplete, Files: 3, Rows: 120, StartedAt: started, CompletedAt: &completed},
		{ID: "b", Source: "faostat", Status: model.RunStatusFailed, StartedAt: now.Add(-30 * time.Minute)},
		{ID: "c", Source: "messy", Status: model.RunStatusRunning, StartedAt: now},
		{ID: "d", Source: "worldbank", Status: model.RunStatusComplete, Files: 2, Rows: 40, StartedAt: now.Add(-100 * 24 * time.Hour)},
	}

	s := computeRunStats(runs, time.Time{})
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 5, s.Files)
	assert.Equal(t, 160, s.Rows)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 0.01)
}

func TestComputeRunStats_Cutoff(t *testing.T) {
	now := time.Now()
	runs := []model.Run{
		{ID: "recent", Status: model.RunStatusComplete, StartedAt: now.Add(-time.Hour)},
		{ID: "ancient", Status: model.RunStatusComplete, StartedAt: now.Add(-100 * 24 * time.Hour)},
	}

	s := computeRunStats(runs, now.Add(-7*24*time.Hour))
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Complete)
}

func TestFormatRunsList(t *testing.T) {
	completed := time.Date(2025, 8, 20, 10, 2, 30, 0, time.UTC)
	runs := []model.Run{
		{
			ID:          "0b5c9e4a-7d31-4a56-9b1f-2f4f6f1c8a21",
			Source:      "worldbank",
			Status:      model.RunStatusComplete,
			Files:       13,
			Rows:        650,
			StartedAt:   time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC),
			CompletedAt: &completed,
		},
		{
			ID:        "f0e1d2c3-9a8b-4c5d-8e7f-001122334455",
			Source:    "messy",
			Status:    model.RunStatusFailed,
			StartedAt: time.Date(2025, 8, 20, 11, 0, 0, 0, time.UTC),
			Error:     strings.Repeat("x", 80),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "0b5c9e4a")
	assert.NotContains(t, out, "0b5c9e4a-7d31")
	assert.Contains(t, out, "worldbank")
	assert.Contains(t, out, "2m30s")
	assert.Contains(t, out, "2025-08-20 10:00")
	// The failed run never completed, so its error is shown truncated.
	assert.Contains(t, out, strings.Repeat("x", 57)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 58))
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 5, Complete: 3, Failed: 1, Running: 1, Files: 40, Rows: 1200, AvgDurSecs: 12.34})

	out := buf.String()
	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "5")
	assert.Contains(t, out, "12.3s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "0b5c9e4a", truncateID("0b5c9e4a-7d31-4a56-9b1f-2f4f6f1c8a21"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hell...", truncate("hello world", 7))
}
