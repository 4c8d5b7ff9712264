package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jihwankim/redisguard/pkg/advisor"
	"github.com/jihwankim/redisguard/pkg/alerting"
	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logevidence"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/metrics"
	"github.com/jihwankim/redisguard/pkg/telemetry"
)

const (
	decisionHistoryCap = 100
	aiHistoryCap       = 5

	settleDelay = 60 * time.Second
	auditDelay  = 300 * time.Second
	auditWindow = 10 * time.Minute
)

// HealthSource provides the latest status per datacenter for an instance
type HealthSource interface {
	InstanceHealth(uid string) map[string]health.Status
}

// MetricsReader provides recent samples for advisor evidence
type MetricsReader interface {
	Since(uid string, age time.Duration) []metrics.Sample
}

// EvidenceSource provides client log evidence; nil disables it
type EvidenceSource interface {
	Analyze(ctx context.Context, instance *config.Instance, window time.Duration) logevidence.Analysis
	FetchLogs(ctx context.Context, instance *config.Instance, window time.Duration, force bool) ([]logevidence.LogEntry, error)
}

// Consultant is the advisor seam; nil disables the enhanced path
type Consultant interface {
	Consult(ctx context.Context, instance *config.Instance, statuses map[string]health.Status,
		recent []metrics.Sample, analysis logevidence.Analysis, logs []logevidence.LogEntry) (advisor.Recommendation, error)
}

// Executor switches routing to the target datacenter
type Executor interface {
	Execute(ctx context.Context, instance *config.Instance, targetDC string) error
}

// Registry mutates the authoritative active datacenter
type Registry interface {
	SwitchActiveDC(uid, dc string) error
}

// AlertSink receives failover lifecycle alerts
type AlertSink interface {
	Raise(alertType, severity, message string, details map[string]interface{})
}

// Manager runs the failover decision loop
type Manager struct {
	cfg      *config.Config
	healths  HealthSource
	samples  MetricsReader
	evidence EvidenceSource
	advisor  Consultant
	executor Executor
	registry Registry
	alerts   AlertSink
	tele     *telemetry.Metrics
	logger   *logging.Logger

	mu        sync.Mutex
	decisions []Decision
	aiRecs    map[string][]AIRecommendation
	cooldown  map[string]time.Time

	auditAfter time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager wires the decision engine. evidence and consultant may be
// nil; the engine then runs the standard path only.
func NewManager(
	cfg *config.Config,
	healths HealthSource,
	samples MetricsReader,
	evidence EvidenceSource,
	consultant Consultant,
	executor Executor,
	registry Registry,
	alerts AlertSink,
	tele *telemetry.Metrics,
	logger *logging.Logger,
) *Manager {
	return &Manager{
		cfg:        cfg,
		healths:    healths,
		samples:    samples,
		evidence:   evidence,
		advisor:    consultant,
		executor:   executor,
		registry:   registry,
		alerts:     alerts,
		tele:       tele,
		logger:     logger.WithField("component", "failover"),
		aiRecs:     make(map[string][]AIRecommendation),
		cooldown:   make(map[string]time.Time),
		auditAfter: auditDelay,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the decision loop in a background goroutine
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts the decision loop
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	// let the monitor collect a few rounds before judging anything
	settle := time.NewTimer(settleDelay)
	defer settle.Stop()

	select {
	case <-m.stopCh:
		return
	case <-ctx.Done():
		return
	case <-settle.C:
	}

	ticker := time.NewTicker(m.cfg.DecisionPeriod())
	defer ticker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	for _, instance := range m.cfg.Instances {
		m.EvaluateInstance(ctx, instance)
	}
}

// EvaluateInstance runs one decision round for one instance
func (m *Manager) EvaluateInstance(ctx context.Context, instance *config.Instance) {
	statuses := m.healths.InstanceHealth(instance.UID)
	active, ok := statuses[instance.ActiveDC]
	if !ok {
		return
	}

	if m.advisor != nil {
		var analysis logevidence.Analysis
		if m.evidence != nil {
			analysis = m.evidence.Analyze(ctx, instance, adviceWindow)
		}
		if m.shouldConsult(active, analysis) && m.evaluateEnhanced(ctx, instance, statuses, active, analysis) {
			return
		}
	}

	m.evaluateStandard(ctx, instance, statuses, active)
}

// evaluateStandard is the threshold-based decision path. It acts only
// when the active endpoint can no longer take traffic.
func (m *Manager) evaluateStandard(ctx context.Context, instance *config.Instance, statuses map[string]health.Status, active health.Status) {
	if active.CanServeTraffic {
		return
	}

	targetDC, target, ok := m.selectTarget(instance, statuses)
	if !ok {
		m.logger.Warn("no viable failover target",
			"instance", instance.UID, "active_dc", instance.ActiveDC)
		m.alerts.Raise("manual_failover_required", alerting.SeverityCritical,
			fmt.Sprintf("%s is unhealthy in %s and no other datacenter can take traffic", instance.Name, instance.ActiveDC),
			map[string]interface{}{
				"instance_uid": instance.UID,
				"active_dc":    instance.ActiveDC,
				"active_state": string(active.State),
			})
		return
	}

	m.mu.Lock()
	last := m.cooldown[instance.UID]
	m.mu.Unlock()

	confidence := computeConfidence(active, target, last, m.cfg.FailoverConsecutiveThreshold)

	decision := newDecision(instance.UID, instance.Name, instance.ActiveDC, targetDC, confidence,
		fmt.Sprintf("Active datacenter %s is %s", instance.ActiveDC, active.State))
	decision.Metrics = decisionMetrics(active, target)

	if !m.cfg.AutoFailover || confidence < m.cfg.FailoverConfidenceThreshold {
		m.recordDecision(decision)
		m.logger.Info("failover recommended, not executed",
			"instance", instance.UID,
			"target_dc", targetDC,
			"confidence", confidence,
			"auto_failover", m.cfg.AutoFailover)
		m.alerts.Raise("manual_failover_required", alerting.SeverityWarning,
			fmt.Sprintf("Failover of %s from %s to %s recommended (confidence %.2f)",
				instance.Name, instance.ActiveDC, targetDC, confidence),
			map[string]interface{}{
				"instance_uid": instance.UID,
				"from_dc":      instance.ActiveDC,
				"to_dc":        targetDC,
				"confidence":   confidence,
			})
		return
	}

	m.execute(ctx, instance, decision)
}

// selectTarget picks the highest-scoring non-active datacenter that
// can serve traffic.
func (m *Manager) selectTarget(instance *config.Instance, statuses map[string]health.Status) (string, health.Status, bool) {
	var bestDC string
	var best health.Status
	var bestScore float64
	found := false

	for dc, st := range statuses {
		if dc == instance.ActiveDC || !st.CanServeTraffic {
			continue
		}
		score := scoreDatacenter(st)
		if !found || score > bestScore {
			bestDC, best, bestScore, found = dc, st, score, true
		}
	}
	return bestDC, best, found
}

// execute performs the switch and schedules the audit
func (m *Manager) execute(ctx context.Context, instance *config.Instance, decision Decision) {
	var preErrorRate float64
	if m.evidence != nil {
		preErrorRate = m.evidence.Analyze(ctx, instance, auditWindow).ErrorRate
	}

	if err := m.executor.Execute(ctx, instance, decision.ToDC); err != nil {
		m.tele.FailoversTotal.WithLabelValues(instance.UID, "failed").Inc()
		m.logger.Error("failover execution failed",
			"instance", instance.UID,
			"target_dc", decision.ToDC,
			"error", err.Error())
		m.alerts.Raise("failover_failed", alerting.SeverityCritical,
			fmt.Sprintf("Failover of %s to %s failed: %v", instance.Name, decision.ToDC, err),
			map[string]interface{}{
				"instance_uid": instance.UID,
				"to_dc":        decision.ToDC,
				"error":        err.Error(),
			})
		m.recordDecision(decision)
		return
	}

	if err := m.registry.SwitchActiveDC(instance.UID, decision.ToDC); err != nil {
		m.logger.Error("active datacenter switch failed", "instance", instance.UID, "error", err.Error())
	}

	decision.Executed = true
	m.mu.Lock()
	m.cooldown[instance.UID] = time.Now()
	m.mu.Unlock()
	m.recordDecision(decision)

	m.tele.FailoversTotal.WithLabelValues(instance.UID, "succeeded").Inc()
	m.logger.Info("failover executed",
		"instance", instance.UID,
		"from_dc", decision.FromDC,
		"to_dc", decision.ToDC,
		"confidence", decision.Confidence,
		"reason", decision.Reason)
	m.alerts.Raise("failover_succeeded", alerting.SeverityInfo,
		fmt.Sprintf("Failover of %s from %s to %s completed (confidence %.2f)",
			instance.Name, decision.FromDC, decision.ToDC, decision.Confidence),
		map[string]interface{}{
			"instance_uid": instance.UID,
			"from_dc":      decision.FromDC,
			"to_dc":        decision.ToDC,
			"confidence":   decision.Confidence,
			"reason":       decision.Reason,
		})

	if m.evidence != nil {
		go m.scheduleAudit(instance, decision, preErrorRate)
	}
}

// ManualFailover executes an operator-requested switch. It bypasses
// confidence gating but still refuses unknown targets.
func (m *Manager) ManualFailover(ctx context.Context, uid, targetDC, reason string) (Decision, error) {
	instance := m.cfg.FindInstance(uid)
	if instance == nil {
		return Decision{}, fmt.Errorf("unknown instance %s", uid)
	}
	if _, ok := instance.Endpoints[targetDC]; !ok {
		return Decision{}, fmt.Errorf("instance %s has no endpoint in %s", uid, targetDC)
	}
	if targetDC == instance.ActiveDC {
		return Decision{}, fmt.Errorf("instance %s is already active in %s", uid, targetDC)
	}

	if reason == "" {
		reason = "Manual failover"
	}
	decision := newDecision(uid, instance.Name, instance.ActiveDC, targetDC, 1.0, reason)

	m.execute(ctx, instance, decision)

	m.mu.Lock()
	final := m.decisions[len(m.decisions)-1]
	m.mu.Unlock()
	if !final.Executed {
		return final, fmt.Errorf("manual failover of %s to %s failed", uid, targetDC)
	}
	return final, nil
}

func (m *Manager) recordDecision(decision Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decisions = append(m.decisions, decision)
	if len(m.decisions) > decisionHistoryCap {
		m.decisions = m.decisions[len(m.decisions)-decisionHistoryCap:]
	}
}

// Decisions returns the decision history, newest first
func (m *Manager) Decisions() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Decision, len(m.decisions))
	for i := range m.decisions {
		out[i] = m.decisions[len(m.decisions)-1-i]
	}
	return out
}

// Recommendations returns the stored advisor answers for an instance,
// newest first
func (m *Manager) Recommendations(uid string) []AIRecommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.aiRecs[uid]
	out := make([]AIRecommendation, len(recs))
	for i := range recs {
		out[i] = recs[len(recs)-1-i]
	}
	return out
}

func decisionMetrics(active, target health.Status) map[string]interface{} {
	return map[string]interface{}{
		"active_state":          string(active.State),
		"active_latency_ms":     active.LatencyMs,
		"active_memory_percent": active.MemoryUsedPercent,
		"active_errors":         active.ConsecutiveErrors,
		"target_state":          string(target.State),
		"target_latency_ms":     target.LatencyMs,
		"target_score":          scoreDatacenter(target),
	}
}
