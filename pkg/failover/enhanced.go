package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/jihwankim/redisguard/pkg/advisor"
	"github.com/jihwankim/redisguard/pkg/alerting"
	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logevidence"
)

// evidence window handed to the advisor
const adviceWindow = 15 * time.Minute

// shouldConsult decides whether the snapshot looks troubled enough to
// spend an advisor call on. Server-side trouble and client-side log
// evidence both count.
func (m *Manager) shouldConsult(active health.Status, analysis logevidence.Analysis) bool {
	switch {
	case active.State == health.StateFailing || active.State == health.StateFailed:
		return true
	case !active.CanServeTraffic:
		return true
	case active.ConsecutiveErrors >= 2:
		return true
	case active.IsAnomaly && active.AnomalyScore > 0.7:
		return true
	case analysis.Impact == logevidence.ImpactMedium,
		analysis.Impact == logevidence.ImpactHigh,
		analysis.Impact == logevidence.ImpactSevere:
		return true
	case analysis.ErrorRate > 0.05:
		return true
	case analysis.HasConnectionErrors || analysis.HasTimeoutErrors:
		return true
	case analysis.ErrorLogs > 10:
		return true
	case active.MemoryUsedPercent > 90:
		return true
	case active.LatencyMs > 200:
		return true
	}
	return false
}

// evaluateEnhanced consults the advisor and acts on its answer. It
// returns false when the consultation failed and the standard path
// should decide instead.
func (m *Manager) evaluateEnhanced(ctx context.Context, instance *config.Instance, statuses map[string]health.Status, active health.Status, analysis logevidence.Analysis) bool {
	var logs []logevidence.LogEntry
	if m.evidence != nil {
		fetched, err := m.evidence.FetchLogs(ctx, instance, adviceWindow, false)
		if err == nil {
			logs = fetched
		}
	}

	recent := m.samples.Since(instance.UID, adviceWindow)

	rec, err := m.advisor.Consult(ctx, instance, statuses, recent, analysis, logs)
	if err != nil {
		m.logger.Warn("advisor unavailable, using standard path",
			"instance", instance.UID, "error", err.Error())
		return false
	}

	prev := m.lastRecommendation(instance.UID)
	m.recordRecommendation(instance.UID, AIRecommendation{
		Timestamp:      rec.Timestamp,
		Recommendation: rec.RecommendedAction,
		TargetDC:       rec.TargetDC,
		Confidence:     rec.Confidence,
	})

	if rec.RecommendedAction != advisor.ActionFailover {
		m.logger.Info("advisor recommends holding",
			"instance", instance.UID,
			"action", rec.RecommendedAction,
			"confidence", rec.Confidence)
		return true
	}

	if rec.Confidence < m.cfg.AIFailoverConfidence {
		m.logger.Info("advisor confidence below threshold",
			"instance", instance.UID,
			"confidence", rec.Confidence,
			"threshold", m.cfg.AIFailoverConfidence)
		return true
	}

	// one strong answer is not enough: the previous consultation must
	// have proposed the same move with the same conviction
	if prev == nil || prev.Recommendation != advisor.ActionFailover || prev.TargetDC != rec.TargetDC ||
		prev.Confidence < m.cfg.AIFailoverConfidence {
		m.logger.Info("advisor failover awaiting confirmation",
			"instance", instance.UID, "target_dc", rec.TargetDC)
		m.alerts.Raise("manual_failover_required", alerting.SeverityWarning,
			fmt.Sprintf("Advisor recommends failover of %s to %s (confidence %.2f), awaiting confirmation",
				instance.Name, rec.TargetDC, rec.Confidence),
			map[string]interface{}{
				"instance_uid": instance.UID,
				"to_dc":        rec.TargetDC,
				"confidence":   rec.Confidence,
				"reasoning":    rec.Reasoning,
			})
		return true
	}

	decision := newDecision(instance.UID, instance.Name, instance.ActiveDC, rec.TargetDC, rec.Confidence,
		fmt.Sprintf("Advisor: %s", rec.Reasoning))
	if target, ok := statuses[rec.TargetDC]; ok {
		decision.Metrics = decisionMetrics(active, target)
	}

	if !m.cfg.AutoFailover {
		m.recordDecision(decision)
		m.alerts.Raise("manual_failover_required", alerting.SeverityWarning,
			fmt.Sprintf("Advisor confirms failover of %s to %s (confidence %.2f); auto failover is disabled",
				instance.Name, rec.TargetDC, rec.Confidence),
			map[string]interface{}{
				"instance_uid": instance.UID,
				"to_dc":        rec.TargetDC,
				"confidence":   rec.Confidence,
				"reasoning":    rec.Reasoning,
			})
		return true
	}

	m.execute(ctx, instance, decision)
	return true
}

func (m *Manager) lastRecommendation(uid string) *AIRecommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.aiRecs[uid]
	if len(recs) == 0 {
		return nil
	}
	last := recs[len(recs)-1]
	return &last
}

func (m *Manager) recordRecommendation(uid string, rec AIRecommendation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := append(m.aiRecs[uid], rec)
	if len(recs) > aiHistoryCap {
		recs = recs[len(recs)-aiHistoryCap:]
	}
	m.aiRecs[uid] = recs
}
