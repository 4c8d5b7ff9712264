package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/jihwankim/redisguard/pkg/config"
)

func jsonNumber(v int64) json.Number {
	return json.Number(strconv.FormatInt(v, 10))
}

// SlackChannel posts alerts to an incoming webhook
type SlackChannel struct {
	webhookURL string
	channel    string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackChannel creates a webhook-backed Slack channel
func NewSlackChannel(cfg *config.SlackConfig) *SlackChannel {
	return &SlackChannel{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		post:       slack.PostWebhookContext,
	}
}

func (s *SlackChannel) Name() string { return "slack" }

// Send posts the alert as a colored attachment with detail fields
func (s *SlackChannel) Send(ctx context.Context, alert Alert) error {
	fields := make([]slack.AttachmentField, 0, len(alert.Details))
	for _, line := range formatDetails(alert.Details) {
		key, value, _ := strings.Cut(line, ": ")
		fields = append(fields, slack.AttachmentField{
			Title: key,
			Value: value,
			Short: true,
		})
	}

	msg := &slack.WebhookMessage{
		Channel: s.channel,
		Attachments: []slack.Attachment{{
			Color:      severityColor(alert.Severity),
			Title:      fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity), alert.Type),
			Text:       alert.Message,
			Fields:     fields,
			Footer:     alert.ID,
			Ts:         jsonNumber(alert.Timestamp.Unix()),
		}},
	}

	if err := s.post(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("slack webhook failed: %w", err)
	}
	return nil
}
