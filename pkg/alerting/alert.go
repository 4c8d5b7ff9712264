package alerting

import (
	"fmt"
	"time"
)

// Alert severities, mildest first
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Alert is one event dispatched to the configured channels
type Alert struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// newAlert stamps an alert with its id and timestamp
func newAlert(alertType, severity, message string, details map[string]interface{}) Alert {
	now := time.Now()
	return Alert{
		ID:        fmt.Sprintf("%s_%d", alertType, now.Unix()),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: now,
	}
}

// suppression window between identical alerts, by severity
func dedupInterval(severity string) time.Duration {
	switch severity {
	case SeverityCritical:
		return 60 * time.Second
	case SeverityError:
		return 180 * time.Second
	case SeverityWarning:
		return 300 * time.Second
	default:
		return 600 * time.Second
	}
}
