package logevidence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entriesWithErrorRate(total, errors int) []LogEntry {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	logs := make([]LogEntry, 0, total)
	for i := 0; i < errors; i++ {
		logs = append(logs, LogEntry{
			ID:        fmt.Sprintf("e%d", i),
			Timestamp: base,
			Message:   "connection timeout",
			Level:     "error",
		})
	}
	for i := errors; i < total; i++ {
		logs = append(logs, LogEntry{
			ID:        fmt.Sprintf("i%d", i),
			Timestamp: base,
			Message:   "request ok",
			Level:     "info",
		})
	}
	return logs
}

func TestClassifyImpact(t *testing.T) {
	tests := []struct {
		total, errors int
		want          string
	}{
		{100, 0, ImpactNone},
		{100, 5, ImpactLow},
		{100, 6, ImpactMedium},
		{100, 20, ImpactMedium},
		{100, 21, ImpactHigh},
		{100, 50, ImpactHigh},
		{100, 51, ImpactSevere},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.errors, tt.total), func(t *testing.T) {
			a := AnalyzeLogs(entriesWithErrorRate(tt.total, tt.errors))
			assert.Equal(t, tt.want, a.Impact)
			assert.Equal(t, tt.errors, a.ErrorLogs)
			assert.InDelta(t, float64(tt.errors)/float64(tt.total), a.ErrorRate, 1e-9)
		})
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	a := AnalyzeLogs(nil)
	assert.Equal(t, ImpactNone, a.Impact)
	assert.Equal(t, 0.0, a.ErrorRate)
	assert.Empty(t, a.Spikes)
}

func TestAnalyzeSpikes(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	var logs []LogEntry

	// minute 10:00, 4 errors out of 5: spike
	for i := 0; i < 4; i++ {
		logs = append(logs, LogEntry{Timestamp: base.Add(time.Duration(i) * time.Second), Message: "timeout", Level: "error"})
	}
	logs = append(logs, LogEntry{Timestamp: base.Add(5 * time.Second), Message: "ok", Level: "info"})

	// minute 10:01, 2 errors out of 2: below the error floor
	for i := 0; i < 2; i++ {
		logs = append(logs, LogEntry{Timestamp: base.Add(time.Minute), Message: "timeout", Level: "error"})
	}

	// minute 10:02, 3 errors out of 10: errors do not dominate
	for i := 0; i < 3; i++ {
		logs = append(logs, LogEntry{Timestamp: base.Add(2 * time.Minute), Message: "timeout", Level: "error"})
	}
	for i := 0; i < 7; i++ {
		logs = append(logs, LogEntry{Timestamp: base.Add(2 * time.Minute), Message: "ok", Level: "info"})
	}

	a := AnalyzeLogs(logs)
	require.Len(t, a.Spikes, 1)
	assert.Equal(t, "2026-08-24T10:00", a.Spikes[0])
	assert.Len(t, a.PerMinute, 3)
}

func TestAnalyzeCategories(t *testing.T) {
	base := time.Now()
	logs := []LogEntry{
		{Timestamp: base, Level: "error", Message: "Connection refused by redis-p.internal:6379"},
		{Timestamp: base, Level: "error", Message: "read timed out after 5s"},
		{Timestamp: base, Level: "error", Message: "command timeout"},
		{Timestamp: base, Level: "error", Message: "OOM command not allowed when used memory > maxmemory"},
		{Timestamp: base, Level: "error", Message: "invalid password"},
		{Timestamp: base, Level: "info", Message: "connection established"},
	}

	a := AnalyzeLogs(logs)
	assert.True(t, a.HasConnectionErrors)
	assert.Equal(t, 1, a.ConnectionErrors, "info lines are not categorized")
	assert.True(t, a.HasTimeoutErrors)
	assert.Equal(t, 2, a.TimeoutErrors)
	assert.True(t, a.HasMemoryErrors)
	assert.Equal(t, 1, a.MemoryErrors)
	assert.True(t, a.HasAuthenticationErrors)
	assert.Equal(t, 1, a.AuthenticationErrors)
}

func TestAnalyzeCategoriesAbsent(t *testing.T) {
	a := AnalyzeLogs([]LogEntry{
		{Timestamp: time.Now(), Level: "error", Message: "unexpected reply type"},
	})
	assert.False(t, a.HasConnectionErrors)
	assert.False(t, a.HasTimeoutErrors)
	assert.False(t, a.HasMemoryErrors)
	assert.False(t, a.HasAuthenticationErrors)
}

func TestAnalyzeTopErrors(t *testing.T) {
	base := time.Now()
	var logs []LogEntry
	for msg, count := range map[string]int{
		"timeout":     4,
		"oom":         2,
		"refused":     6,
		"reset":       1,
		"auth failed": 3,
		"slowlog":     1,
	} {
		for i := 0; i < count; i++ {
			logs = append(logs, LogEntry{Timestamp: base, Message: msg, Level: "error"})
		}
	}

	a := AnalyzeLogs(logs)
	require.Len(t, a.TopErrors, 5, "top errors are capped")
	assert.Equal(t, "refused", a.TopErrors[0].Message)
	assert.Equal(t, 6, a.TopErrors[0].Count)
	assert.Equal(t, "timeout", a.TopErrors[1].Message)
}

func TestIsError(t *testing.T) {
	assert.True(t, LogEntry{Level: "error"}.IsError())
	assert.True(t, LogEntry{Level: "CRITICAL"}.IsError())
	assert.True(t, LogEntry{Level: "fatal"}.IsError())
	assert.False(t, LogEntry{Level: "warn"}.IsError())
	assert.False(t, LogEntry{Level: "info"}.IsError())
}
