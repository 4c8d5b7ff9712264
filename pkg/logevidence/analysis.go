package logevidence

import (
	"sort"
	"strings"
	"time"
)

// Client impact classifications by error fraction
const (
	ImpactUnknown = "unknown"
	ImpactNone    = "none"
	ImpactLow     = "low"
	ImpactMedium  = "medium"
	ImpactHigh    = "high"
	ImpactSevere  = "severe"
)

// MinuteStats is the per-minute log distribution
type MinuteStats struct {
	Total  int `json:"total"`
	Errors int `json:"errors"`
}

// Analysis summarizes a window of client logs
type Analysis struct {
	TotalLogs int     `json:"total_logs"`
	ErrorLogs int     `json:"error_count"`
	ErrorRate float64 `json:"error_rate"`
	Impact    string  `json:"client_impact"`

	HasConnectionErrors     bool `json:"has_connection_errors"`
	HasTimeoutErrors        bool `json:"has_timeout_errors"`
	HasMemoryErrors         bool `json:"has_memory_errors"`
	HasAuthenticationErrors bool `json:"has_authentication_errors"`
	ConnectionErrors        int  `json:"connection_error_count"`
	TimeoutErrors           int  `json:"timeout_error_count"`
	MemoryErrors            int  `json:"memory_error_count"`
	AuthenticationErrors    int  `json:"authentication_error_count"`

	TopErrors []ErrorCount           `json:"top_errors,omitempty"`
	PerMinute map[string]MinuteStats `json:"error_distribution,omitempty"`
	Spikes    []string               `json:"error_spikes,omitempty"`
}

// ErrorCount is one distinct error message with its frequency
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// spike thresholds: a minute counts as a spike when it has at least
// this many errors and errors dominate its traffic
const (
	spikeMinErrors = 3
	spikeFraction  = 0.5
)

// AnalyzeLogs computes the impact summary for a set of log entries
func AnalyzeLogs(logs []LogEntry) Analysis {
	a := Analysis{
		TotalLogs: len(logs),
		PerMinute: make(map[string]MinuteStats),
	}

	errorCounts := make(map[string]int)
	for _, entry := range logs {
		minute := entry.Timestamp.Truncate(time.Minute).Format("2006-01-02T15:04")
		stats := a.PerMinute[minute]
		stats.Total++
		if entry.IsError() {
			a.ErrorLogs++
			stats.Errors++
			errorCounts[entry.Message]++
			categorize(&a, entry.Message)
		}
		a.PerMinute[minute] = stats
	}
	a.HasConnectionErrors = a.ConnectionErrors > 0
	a.HasTimeoutErrors = a.TimeoutErrors > 0
	a.HasMemoryErrors = a.MemoryErrors > 0
	a.HasAuthenticationErrors = a.AuthenticationErrors > 0

	if a.TotalLogs > 0 {
		a.ErrorRate = float64(a.ErrorLogs) / float64(a.TotalLogs)
	}
	a.Impact = classifyImpact(a.ErrorRate)

	for message, count := range errorCounts {
		a.TopErrors = append(a.TopErrors, ErrorCount{Message: message, Count: count})
	}
	sort.Slice(a.TopErrors, func(i, j int) bool {
		if a.TopErrors[i].Count != a.TopErrors[j].Count {
			return a.TopErrors[i].Count > a.TopErrors[j].Count
		}
		return a.TopErrors[i].Message < a.TopErrors[j].Message
	})
	if len(a.TopErrors) > 5 {
		a.TopErrors = a.TopErrors[:5]
	}

	for minute, stats := range a.PerMinute {
		if stats.Errors >= spikeMinErrors && float64(stats.Errors)/float64(stats.Total) > spikeFraction {
			a.Spikes = append(a.Spikes, minute)
		}
	}
	sort.Strings(a.Spikes)

	return a
}

// categorize counts an error message against the keyword categories
func categorize(a *Analysis, message string) {
	msg := strings.ToLower(message)
	if strings.Contains(msg, "connect") {
		a.ConnectionErrors++
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		a.TimeoutErrors++
	}
	if strings.Contains(msg, "memory") || strings.Contains(msg, "oom") {
		a.MemoryErrors++
	}
	if strings.Contains(msg, "auth") || strings.Contains(msg, "password") || strings.Contains(msg, "unauthorized") {
		a.AuthenticationErrors++
	}
}

func classifyImpact(errorRate float64) string {
	switch {
	case errorRate == 0:
		return ImpactNone
	case errorRate <= 0.05:
		return ImpactLow
	case errorRate <= 0.2:
		return ImpactMedium
	case errorRate <= 0.5:
		return ImpactHigh
	default:
		return ImpactSevere
	}
}
