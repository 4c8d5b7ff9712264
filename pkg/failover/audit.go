package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/jihwankim/redisguard/pkg/alerting"
	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/logevidence"
)

// Audit verdicts comparing client error rates before and after a switch
const (
	AuditImproved = "Significant improvement"
	AuditSlight   = "Slight improvement"
	AuditNoChange = "No significant change"
	AuditWorsened = "Situation worsened"
)

// classifyAudit compares pre and post failover error rates
func classifyAudit(pre, post float64) string {
	if pre == 0 {
		if post == 0 {
			return AuditNoChange
		}
		return AuditWorsened
	}

	ratio := post / pre
	switch {
	case ratio < 0.5:
		return AuditImproved
	case ratio < 1:
		return AuditSlight
	case ratio > 1.5:
		return AuditWorsened
	default:
		return AuditNoChange
	}
}

// scheduleAudit waits out the settling period and then verifies that
// the switch actually helped the clients.
func (m *Manager) scheduleAudit(instance *config.Instance, decision Decision, preErrorRate float64) {
	timer := time.NewTimer(m.auditAfter)
	defer timer.Stop()

	select {
	case <-m.stopCh:
		return
	case <-timer.C:
	}

	m.runAudit(context.Background(), instance, decision, preErrorRate)
}

func (m *Manager) runAudit(ctx context.Context, instance *config.Instance, decision Decision, preErrorRate float64) {
	logs, err := m.evidence.FetchLogs(ctx, instance, auditWindow, true)
	if err != nil {
		m.logger.Warn("post-failover audit skipped",
			"instance", instance.UID, "error", err.Error())
		return
	}

	post := logevidence.AnalyzeLogs(logs).ErrorRate
	verdict := classifyAudit(preErrorRate, post)

	severity := alerting.SeverityInfo
	if verdict == AuditWorsened {
		severity = alerting.SeverityWarning
	}

	m.logger.Info("post-failover audit",
		"instance", instance.UID,
		"decision_id", decision.ID,
		"pre_error_rate", preErrorRate,
		"post_error_rate", post,
		"verdict", verdict)

	m.alerts.Raise("failover_impact", severity,
		fmt.Sprintf("Failover of %s to %s: %s (error rate %.3f -> %.3f)",
			instance.Name, decision.ToDC, verdict, preErrorRate, post),
		map[string]interface{}{
			"instance_uid":    instance.UID,
			"decision_id":     decision.ID,
			"pre_error_rate":  preErrorRate,
			"post_error_rate": post,
			"verdict":         verdict,
		})
}
