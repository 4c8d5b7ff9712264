package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/logging"
)

type recordingChannel struct {
	sent []Alert
	err  error
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(ctx context.Context, alert Alert) error {
	r.sent = append(r.sent, alert)
	return r.err
}

func newTestManager(channels ...Channel) *Manager {
	return &Manager{
		channels: channels,
		logger:   logging.Nop(),
		lastSent: make(map[string]time.Time),
	}
}

func TestRaiseDispatchesAndRecords(t *testing.T) {
	ch := &recordingChannel{}
	m := newTestManager(ch)

	m.Raise("high_latency", SeverityWarning, "latency above threshold",
		map[string]interface{}{"instance_uid": "bdb1"})

	require.Len(t, ch.sent, 1)
	alert := ch.sent[0]
	assert.Equal(t, "high_latency", alert.Type)
	assert.Equal(t, fmt.Sprintf("high_latency_%d", alert.Timestamp.Unix()), alert.ID)

	history := m.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, alert.ID, history[0].ID)
}

func TestRaiseDeduplicates(t *testing.T) {
	ch := &recordingChannel{}
	m := newTestManager(ch)

	details := map[string]interface{}{"instance_uid": "bdb1"}
	m.Raise("high_latency", SeverityWarning, "first", details)
	m.Raise("high_latency", SeverityWarning, "suppressed", details)
	assert.Len(t, ch.sent, 1)

	// different instance is a different key
	m.Raise("high_latency", SeverityWarning, "other instance",
		map[string]interface{}{"instance_uid": "bdb2"})
	assert.Len(t, ch.sent, 2)

	// different type is a different key
	m.Raise("memory_pressure", SeverityWarning, "other type", details)
	assert.Len(t, ch.sent, 3)

	// expired window sends again
	m.mu.Lock()
	m.lastSent["high_latency/bdb1"] = time.Now().Add(-dedupInterval(SeverityWarning) - time.Second)
	m.mu.Unlock()
	m.Raise("high_latency", SeverityWarning, "after window", details)
	assert.Len(t, ch.sent, 4)
}

func TestFailoverAlertsBypassDedup(t *testing.T) {
	ch := &recordingChannel{}
	m := newTestManager(ch)

	details := map[string]interface{}{"instance_uid": "bdb1"}
	m.Raise("failover_failed", SeverityCritical, "first", details)
	m.Raise("failover_failed", SeverityCritical, "second", details)
	assert.Len(t, ch.sent, 2, "critical failover alerts are never suppressed")

	m.Raise("failover_impact", SeverityInfo, "first", details)
	m.Raise("failover_impact", SeverityInfo, "second", details)
	assert.Len(t, ch.sent, 3, "info failover alerts still deduplicate")

	m.Raise("manual_failover_required", SeverityWarning, "first", details)
	m.Raise("manual_failover_required", SeverityWarning, "second", details)
	assert.Len(t, ch.sent, 4, "manual failover requests deduplicate like ordinary alerts")
}

func TestChannelFailureDoesNotPropagate(t *testing.T) {
	failing := &recordingChannel{err: fmt.Errorf("boom")}
	working := &recordingChannel{}
	m := newTestManager(failing, working)

	m.Raise("high_latency", SeverityError, "msg", map[string]interface{}{"instance_uid": "bdb1"})
	assert.Len(t, failing.sent, 1)
	assert.Len(t, working.sent, 1, "later channels still receive the alert")
	assert.Len(t, m.History(10), 1)
}

func TestHistoryCapAndOrder(t *testing.T) {
	m := newTestManager()
	for i := 0; i < historyCap+10; i++ {
		// distinct types sidestep dedup
		m.Raise(fmt.Sprintf("t%d", i), SeverityInfo, "msg", nil)
	}

	history := m.History(0)
	assert.Len(t, history, historyCap)
	assert.Equal(t, fmt.Sprintf("t%d", historyCap+9), history[0].Type, "newest first")

	assert.Len(t, m.History(5), 5)
}

func TestDedupIntervals(t *testing.T) {
	assert.Equal(t, 60*time.Second, dedupInterval(SeverityCritical))
	assert.Equal(t, 180*time.Second, dedupInterval(SeverityError))
	assert.Equal(t, 300*time.Second, dedupInterval(SeverityWarning))
	assert.Equal(t, 600*time.Second, dedupInterval(SeverityInfo))
}

func TestSlackChannelSend(t *testing.T) {
	var captured []byte
	ch := &SlackChannel{
		webhookURL: "https://hooks.example.com/T000/B000",
		post: func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
			captured, _ = json.Marshal(msg)
			return nil
		},
	}

	alert := newAlert("anomaly_detected", SeverityError, "odd metrics",
		map[string]interface{}{"instance_uid": "bdb1", "anomaly_score": 0.93})
	require.NoError(t, ch.Send(context.Background(), alert))

	payload := string(captured)
	assert.Contains(t, payload, severityColor(SeverityError))
	assert.Contains(t, payload, "ERROR")
	assert.Contains(t, payload, "odd metrics")
	assert.Contains(t, payload, "instance_uid")
}

func TestEmailChannelSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	ch := &EmailChannel{
		cfg: &config.EmailConfig{
			SMTPServer:  "smtp.example.com",
			Port:        587,
			FromAddress: "agent@example.com",
			ToAddresses: []string{"oncall@example.com"},
		},
		send: func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			return nil
		},
	}

	alert := newAlert("memory_pressure", SeverityCritical, "memory at 97%",
		map[string]interface{}{"instance_uid": "bdb1"})
	require.NoError(t, ch.Send(context.Background(), alert))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "agent@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [CRITICAL] memory_pressure")
	assert.Contains(t, string(gotMsg), "memory at 97%")
}

func TestPagerDutyChannelSend(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewPagerDutyChannel(&config.PagerDutyConfig{ServiceKey: "rk123"})
	ch.eventsURL = srv.URL

	alert := newAlert("instance_down", SeverityCritical, "bdb1 unreachable",
		map[string]interface{}{"instance_uid": "bdb1"})
	require.NoError(t, ch.Send(context.Background(), alert))

	assert.Equal(t, "rk123", captured["routing_key"])
	assert.Equal(t, "trigger", captured["event_action"])
	payload := captured["payload"].(map[string]interface{})
	assert.Equal(t, "critical", payload["severity"])
	assert.Equal(t, "bdb1 unreachable", payload["summary"])
}

func TestPagerDutyRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewPagerDutyChannel(&config.PagerDutyConfig{ServiceKey: "rk123"})
	ch.eventsURL = srv.URL

	err := ch.Send(context.Background(), newAlert("x", SeverityInfo, "m", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
