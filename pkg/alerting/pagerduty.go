package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jihwankim/redisguard/pkg/config"
)

const pagerdutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyChannel triggers Events API v2 incidents
type PagerDutyChannel struct {
	serviceKey string
	eventsURL  string
	http       *http.Client
}

// NewPagerDutyChannel creates an Events v2 channel
func NewPagerDutyChannel(cfg *config.PagerDutyConfig) *PagerDutyChannel {
	return &PagerDutyChannel{
		serviceKey: cfg.ServiceKey,
		eventsURL:  pagerdutyEventsURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *PagerDutyChannel) Name() string { return "pagerduty" }

// pagerduty accepts critical, error, warning and info
func pagerdutySeverity(severity string) string {
	switch severity {
	case SeverityCritical, SeverityError, SeverityWarning, SeverityInfo:
		return severity
	default:
		return SeverityInfo
	}
}

// Send triggers an incident for the alert
func (p *PagerDutyChannel) Send(ctx context.Context, alert Alert) error {
	payload := map[string]interface{}{
		"routing_key":  p.serviceKey,
		"event_action": "trigger",
		"dedup_key":    alert.ID,
		"payload": map[string]interface{}{
			"summary":        alert.Message,
			"source":         "redisguard",
			"severity":       pagerdutySeverity(alert.Severity),
			"timestamp":      alert.Timestamp.Format(time.RFC3339),
			"custom_details": alert.Details,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.eventsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("pagerduty returned status %d", resp.StatusCode)
	}
	return nil
}
