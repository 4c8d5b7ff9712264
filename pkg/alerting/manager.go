package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/telemetry"
)

const historyCap = 1000

// Channel delivers alerts to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to the configured channels, suppressing
// repeats per (type, instance) within a severity-dependent window.
type Manager struct {
	channels []Channel
	logger   *logging.Logger
	tele     *telemetry.Metrics

	mu       sync.Mutex
	lastSent map[string]time.Time
	history  []Alert
}

// NewManager builds the channel set from config. An empty channel set
// is valid: alerts are still recorded in history.
func NewManager(cfg *config.Config, tele *telemetry.Metrics, logger *logging.Logger) *Manager {
	m := &Manager{
		logger:   logger.WithField("component", "alerting"),
		tele:     tele,
		lastSent: make(map[string]time.Time),
	}

	if sc := cfg.AlertEndpoints.Slack; sc != nil && sc.WebhookURL != "" {
		m.channels = append(m.channels, NewSlackChannel(sc))
	}
	if ec := cfg.AlertEndpoints.Email; ec != nil && ec.SMTPServer != "" {
		m.channels = append(m.channels, NewEmailChannel(ec))
	}
	if pc := cfg.AlertEndpoints.PagerDuty; pc != nil && pc.ServiceKey != "" {
		m.channels = append(m.channels, NewPagerDutyChannel(pc))
	}

	return m
}

func dedupKey(alert Alert) string {
	uid, _ := alert.Details["instance_uid"].(string)
	return alert.Type + "/" + uid
}

// failover outcomes at error or critical severity always go through
func bypassesDedup(alert Alert) bool {
	if !strings.HasPrefix(alert.Type, "failover_") {
		return false
	}
	return alert.Severity == SeverityError || alert.Severity == SeverityCritical
}

// Raise records an alert and dispatches it unless suppressed
func (m *Manager) Raise(alertType, severity, message string, details map[string]interface{}) {
	alert := newAlert(alertType, severity, message, details)

	m.mu.Lock()
	key := dedupKey(alert)
	if last, ok := m.lastSent[key]; ok && !bypassesDedup(alert) {
		if time.Since(last) < dedupInterval(alert.Severity) {
			m.mu.Unlock()
			m.logger.Debug("alert suppressed", "type", alertType, "key", key)
			return
		}
	}
	m.lastSent[key] = alert.Timestamp
	m.history = append(m.history, alert)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	m.mu.Unlock()

	if m.tele != nil {
		m.tele.AlertsTotal.WithLabelValues(alert.Type, alert.Severity).Inc()
	}

	m.logger.Info("alert raised",
		"type", alert.Type,
		"severity", alert.Severity,
		"message", alert.Message)

	m.dispatch(alert)
}

// dispatch sends to every channel; failures are logged and swallowed
func (m *Manager) dispatch(alert Alert) {
	for _, channel := range m.channels {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := channel.Send(ctx, alert); err != nil {
			m.logger.Error("alert delivery failed",
				"channel", channel.Name(),
				"alert_id", alert.ID,
				"error", err.Error())
		}
		cancel()
	}
}

// History returns up to n most recent alerts, newest first
func (m *Manager) History(n int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]Alert, n)
	for i := 0; i < n; i++ {
		out[i] = m.history[len(m.history)-1-i]
	}
	return out
}

// severityColor maps severities to attachment colors
func severityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#d00000"
	case SeverityError:
		return "#e85d04"
	case SeverityWarning:
		return "#ffba08"
	default:
		return "#43aa8b"
	}
}

// formatDetails renders details as sorted "key: value" lines
func formatDetails(details map[string]interface{}) []string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	// stable order for humans and tests
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s: %v", k, details[k])
	}
	return out
}
