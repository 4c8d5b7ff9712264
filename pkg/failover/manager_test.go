package failover

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/redisguard/pkg/advisor"
	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logevidence"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/metrics"
	"github.com/jihwankim/redisguard/pkg/telemetry"
)

type fakeHealth struct {
	statuses map[string]health.Status
}

func (f *fakeHealth) InstanceHealth(uid string) map[string]health.Status {
	return f.statuses
}

type fakeSamples struct{}

func (f *fakeSamples) Since(uid string, age time.Duration) []metrics.Sample { return nil }

type fakeExecutor struct {
	calls []string
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, instance *config.Instance, targetDC string) error {
	f.calls = append(f.calls, targetDC)
	return f.err
}

type fakeRegistry struct {
	cfg *config.Config
}

func (f *fakeRegistry) SwitchActiveDC(uid, dc string) error {
	instance := f.cfg.FindInstance(uid)
	if instance == nil {
		return fmt.Errorf("unknown instance %s", uid)
	}
	instance.ActiveDC = dc
	return nil
}

type fakeAlerts struct {
	raised []struct {
		Type     string
		Severity string
	}
}

func (f *fakeAlerts) Raise(alertType, severity, message string, details map[string]interface{}) {
	f.raised = append(f.raised, struct {
		Type     string
		Severity string
	}{alertType, severity})
}

func (f *fakeAlerts) types() []string {
	out := make([]string, len(f.raised))
	for i, a := range f.raised {
		out[i] = a.Type
	}
	return out
}

type fakeConsultant struct {
	recs  []advisor.Recommendation
	calls int
	err   error
}

func (f *fakeConsultant) Consult(ctx context.Context, instance *config.Instance, statuses map[string]health.Status,
	recent []metrics.Sample, analysis logevidence.Analysis, logs []logevidence.LogEntry) (advisor.Recommendation, error) {
	f.calls++
	if f.err != nil {
		return advisor.Recommendation{}, f.err
	}
	rec := f.recs[0]
	if len(f.recs) > 1 {
		f.recs = f.recs[1:]
	}
	return rec, nil
}

type fakeEvidence struct {
	analysis logevidence.Analysis
	postLogs []logevidence.LogEntry
	fetchErr error
}

func (f *fakeEvidence) Analyze(ctx context.Context, instance *config.Instance, window time.Duration) logevidence.Analysis {
	return f.analysis
}

func (f *fakeEvidence) FetchLogs(ctx context.Context, instance *config.Instance, window time.Duration, force bool) ([]logevidence.LogEntry, error) {
	return f.postLogs, f.fetchErr
}

func failoverConfig() *config.Config {
	cfg := config.Default()
	cfg.AutoFailover = true
	cfg.Instances = []*config.Instance{{
		Name:     "cache-main",
		UID:      "bdb1",
		ActiveDC: "primary",
		Endpoints: map[string]config.Endpoint{
			"primary":   {Host: "redis-p.internal", Port: 6379},
			"secondary": {Host: "redis-s.internal", Port: 6379},
		},
	}}
	return cfg
}

type managerFixture struct {
	cfg      *config.Config
	healths  *fakeHealth
	executor *fakeExecutor
	alerts   *fakeAlerts
	mgr      *Manager
}

func newFixture(t *testing.T, cfg *config.Config, consultant Consultant, evidence EvidenceSource) *managerFixture {
	t.Helper()
	f := &managerFixture{
		cfg:      cfg,
		healths:  &fakeHealth{statuses: map[string]health.Status{}},
		executor: &fakeExecutor{},
		alerts:   &fakeAlerts{},
	}
	f.mgr = NewManager(cfg, f.healths, &fakeSamples{}, evidence, consultant,
		f.executor, &fakeRegistry{cfg: cfg}, f.alerts, telemetry.New(), logging.Nop())
	return f
}

func TestStandardFailoverExecutes(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {Datacenter: "primary", State: health.StateFailed, ConsecutiveErrors: 5, CanServeTraffic: false},
		"secondary": {Datacenter: "secondary", State: health.StateHealthy, CanServeTraffic: true, HitRate: 0.9},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])

	require.Equal(t, []string{"secondary"}, f.executor.calls)
	assert.Equal(t, "secondary", cfg.Instances[0].ActiveDC, "active datacenter switched")
	assert.Contains(t, f.alerts.types(), "failover_succeeded")

	decisions := f.mgr.Decisions()
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Executed)
	assert.Equal(t, 1.0, decisions[0].Confidence)

	f.mgr.mu.Lock()
	_, hasCooldown := f.mgr.cooldown["bdb1"]
	f.mgr.mu.Unlock()
	assert.True(t, hasCooldown)
}

func TestStandardBelowThresholdOnlyRecommends(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)
	// failing active, healthy target: confidence 0.8 < 0.95
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailing, CanServeTraffic: false},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])

	assert.Empty(t, f.executor.calls)
	assert.Equal(t, "primary", cfg.Instances[0].ActiveDC)
	assert.Contains(t, f.alerts.types(), "manual_failover_required")

	decisions := f.mgr.Decisions()
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Executed)
	assert.InDelta(t, 0.8, decisions[0].Confidence, 1e-9)
}

func TestAutoFailoverDisabledOnlyRecommends(t *testing.T) {
	cfg := failoverConfig()
	cfg.AutoFailover = false
	f := newFixture(t, cfg, nil, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailed, ConsecutiveErrors: 5},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Empty(t, f.executor.calls)
	assert.Contains(t, f.alerts.types(), "manual_failover_required")
}

func TestHealthyActiveDoesNothing(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateHealthy, CanServeTraffic: true},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Empty(t, f.executor.calls)
	assert.Empty(t, f.alerts.raised)
	assert.Empty(t, f.mgr.Decisions())
}

func TestNoViableTargetBlocks(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailed, ConsecutiveErrors: 5},
		"secondary": {State: health.StateFailed, CanServeTraffic: false},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Empty(t, f.executor.calls)
	require.Len(t, f.alerts.raised, 1)
	assert.Equal(t, "manual_failover_required", f.alerts.raised[0].Type)
	assert.Equal(t, "critical", f.alerts.raised[0].Severity)
}

func TestExecutionFailureKeepsActiveDC(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)
	f.executor.err = fmt.Errorf("zone unavailable")
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailed, ConsecutiveErrors: 5},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])

	assert.Equal(t, "primary", cfg.Instances[0].ActiveDC, "active datacenter untouched on failure")
	assert.Contains(t, f.alerts.types(), "failover_failed")

	decisions := f.mgr.Decisions()
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Executed)

	f.mgr.mu.Lock()
	_, hasCooldown := f.mgr.cooldown["bdb1"]
	f.mgr.mu.Unlock()
	assert.False(t, hasCooldown, "failed failover records no cooldown")
}

func TestManualFailover(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)

	decision, err := f.mgr.ManualFailover(context.Background(), "bdb1", "secondary", "maintenance window")
	require.NoError(t, err)
	assert.True(t, decision.Executed)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.Equal(t, "maintenance window", decision.Reason)
	assert.Equal(t, "secondary", cfg.Instances[0].ActiveDC)

	// validation
	_, err = f.mgr.ManualFailover(context.Background(), "bdb9", "secondary", "")
	assert.ErrorContains(t, err, "unknown instance")

	_, err = f.mgr.ManualFailover(context.Background(), "bdb1", "tertiary", "")
	assert.ErrorContains(t, err, "no endpoint")

	_, err = f.mgr.ManualFailover(context.Background(), "bdb1", "secondary", "")
	assert.ErrorContains(t, err, "already active")
}

func TestEnhancedTwoInARow(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{recs: []advisor.Recommendation{{
		RecommendedAction: advisor.ActionFailover,
		TargetDC:          "secondary",
		Confidence:        0.9,
		Reasoning:         "primary is failing",
	}}}
	f := newFixture(t, cfg, consultant, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailing, CanServeTraffic: false},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	// first strong answer only arms the decision
	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Equal(t, 1, consultant.calls)
	assert.Empty(t, f.executor.calls)
	assert.Contains(t, f.alerts.types(), "manual_failover_required")

	// identical second answer executes
	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	require.Equal(t, []string{"secondary"}, f.executor.calls)
	assert.Equal(t, "secondary", cfg.Instances[0].ActiveDC)

	recs := f.mgr.Recommendations("bdb1")
	require.Len(t, recs, 2)
	assert.Equal(t, advisor.ActionFailover, recs[0].Recommendation)
}

func TestEnhancedLowConfidenceHolds(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{recs: []advisor.Recommendation{{
		RecommendedAction: advisor.ActionFailover,
		TargetDC:          "secondary",
		Confidence:        0.6,
	}}}
	f := newFixture(t, cfg, consultant, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailing, CanServeTraffic: false},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Empty(t, f.executor.calls, "advisor confidence below ai_failover_confidence never executes")
}

func TestEnhancedNoActionHoldsStandardPath(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{recs: []advisor.Recommendation{{
		RecommendedAction: advisor.ActionNoAction,
		Confidence:        0.9,
	}}}
	f := newFixture(t, cfg, consultant, nil)
	// standard path alone would have executed this
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailed, ConsecutiveErrors: 5},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Empty(t, f.executor.calls, "an explicit advisor hold overrides thresholds")
}

func TestEnhancedAdvisorErrorFallsBack(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{err: fmt.Errorf("deployment unavailable")}
	f := newFixture(t, cfg, consultant, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailed, ConsecutiveErrors: 5},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	require.Equal(t, []string{"secondary"}, f.executor.calls, "standard path decides when the advisor is down")
}

func TestHealthyActiveSkipsConsultation(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{recs: []advisor.Recommendation{{RecommendedAction: advisor.ActionNoAction}}}
	f := newFixture(t, cfg, consultant, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateHealthy, CanServeTraffic: true},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Equal(t, 0, consultant.calls)
}

func TestLogEvidenceTriggersConsultation(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{recs: []advisor.Recommendation{{
		RecommendedAction: advisor.ActionMonitor,
		Confidence:        0.7,
	}}}
	evidence := &fakeEvidence{analysis: logevidence.Analysis{
		ErrorRate: 0.5,
		ErrorLogs: 40,
		Impact:    logevidence.ImpactSevere,
	}}
	f := newFixture(t, cfg, consultant, evidence)
	// server-side metrics look fine; only the client logs are on fire
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateHealthy, CanServeTraffic: true},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Equal(t, 1, consultant.calls, "client impact alone warrants a consultation")
	assert.Empty(t, f.executor.calls)
}

func TestConnectionErrorsTriggerConsultation(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{recs: []advisor.Recommendation{{
		RecommendedAction: advisor.ActionNoAction,
		Confidence:        0.9,
	}}}
	evidence := &fakeEvidence{analysis: logevidence.Analysis{
		HasConnectionErrors: true,
		ConnectionErrors:    3,
	}}
	f := newFixture(t, cfg, consultant, evidence)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateHealthy, CanServeTraffic: true},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Equal(t, 1, consultant.calls)
}

func TestEnhancedWeakPriorDoesNotConfirm(t *testing.T) {
	cfg := failoverConfig()
	consultant := &fakeConsultant{recs: []advisor.Recommendation{
		{RecommendedAction: advisor.ActionFailover, TargetDC: "secondary", Confidence: 0.5},
		{RecommendedAction: advisor.ActionFailover, TargetDC: "secondary", Confidence: 0.9},
		{RecommendedAction: advisor.ActionFailover, TargetDC: "secondary", Confidence: 0.9},
	}}
	f := newFixture(t, cfg, consultant, nil)
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailing, CanServeTraffic: false},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	// a weak answer followed by a strong one is not two in a row
	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Empty(t, f.executor.calls, "prior answer below the confidence bar does not confirm")

	// two strong answers back to back do
	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	require.Equal(t, []string{"secondary"}, f.executor.calls)
}

func TestServingActiveHoldsDespiteState(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)
	// degraded but still taking traffic: the standard path stays put
	f.healths.statuses = map[string]health.Status{
		"primary":   {State: health.StateFailing, CanServeTraffic: true, ConsecutiveErrors: 2},
		"secondary": {State: health.StateHealthy, CanServeTraffic: true},
	}

	f.mgr.EvaluateInstance(context.Background(), cfg.Instances[0])
	assert.Empty(t, f.executor.calls)
	assert.Empty(t, f.alerts.raised)
	assert.Empty(t, f.mgr.Decisions())
}

func TestRunAudit(t *testing.T) {
	cfg := failoverConfig()
	evidence := &fakeEvidence{
		postLogs: []logevidence.LogEntry{
			{ID: "1", Level: "info", Timestamp: time.Now()},
			{ID: "2", Level: "info", Timestamp: time.Now()},
			{ID: "3", Level: "error", Timestamp: time.Now()},
			{ID: "4", Level: "info", Timestamp: time.Now()},
		},
	}
	f := newFixture(t, cfg, nil, evidence)
	decision := newDecision("bdb1", "cache-main", "primary", "secondary", 1.0, "r")

	// pre 0.6 -> post 0.25: ratio < 0.5
	f.mgr.runAudit(context.Background(), cfg.Instances[0], decision, 0.6)
	require.Len(t, f.alerts.raised, 1)
	assert.Equal(t, "failover_impact", f.alerts.raised[0].Type)
	assert.Equal(t, "info", f.alerts.raised[0].Severity)

	// pre 0.1 -> post 0.25: worsened, warning severity
	f.mgr.runAudit(context.Background(), cfg.Instances[0], decision, 0.1)
	require.Len(t, f.alerts.raised, 2)
	assert.Equal(t, "warning", f.alerts.raised[1].Severity)
}

func TestRunAuditFetchErrorSkips(t *testing.T) {
	cfg := failoverConfig()
	evidence := &fakeEvidence{fetchErr: fmt.Errorf("search down")}
	f := newFixture(t, cfg, nil, evidence)

	f.mgr.runAudit(context.Background(), cfg.Instances[0], newDecision("bdb1", "n", "a", "b", 1, "r"), 0.5)
	assert.Empty(t, f.alerts.raised)
}

func TestDecisionHistoryCap(t *testing.T) {
	cfg := failoverConfig()
	f := newFixture(t, cfg, nil, nil)

	for i := 0; i < decisionHistoryCap+20; i++ {
		f.mgr.recordDecision(newDecision("bdb1", "n", "a", "b", 0.5, fmt.Sprintf("r%d", i)))
	}

	decisions := f.mgr.Decisions()
	assert.Len(t, decisions, decisionHistoryCap)
	assert.Equal(t, fmt.Sprintf("r%d", decisionHistoryCap+19), decisions[0].Reason, "newest first")
}
