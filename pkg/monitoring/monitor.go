package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/metrics"
	"github.com/jihwankim/redisguard/pkg/telemetry"
)

// HealthSink receives evaluated statuses, one per endpoint per tick
type HealthSink interface {
	UpdateHealth(st health.Status)
}

// Enhancer adjusts a status using the anomaly detector before publication
type Enhancer interface {
	Enhance(st *health.Status, sample metrics.Sample)
}

// Monitor runs the probe loop across all instances and datacenters
type Monitor struct {
	cfg      *config.Config
	prober   *Prober
	admins   map[string]*AdminClient
	store    *metrics.Store
	sink     HealthSink
	enhancer Enhancer
	tele     *telemetry.Metrics
	logger   *logging.Logger

	mu        sync.Mutex
	errCounts map[string]int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor wires the probe loop. enhancer may be nil when anomaly
// detection is disabled.
func NewMonitor(cfg *config.Config, store *metrics.Store, sink HealthSink, enhancer Enhancer, tele *telemetry.Metrics, logger *logging.Logger) *Monitor {
	admins := make(map[string]*AdminClient)
	for name, dc := range cfg.Datacenters {
		if client := NewAdminClient(dc); client != nil {
			admins[name] = client
		}
	}

	return &Monitor{
		cfg:       cfg,
		prober:    NewProber(),
		admins:    admins,
		store:     store,
		sink:      sink,
		enhancer:  enhancer,
		tele:      tele,
		logger:    logger.WithField("component", "monitor"),
		errCounts: make(map[string]int),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the probe loop in a background goroutine
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop stops the probe loop and waits for the current tick to finish
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
	m.prober.Close()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	m.logger.Info("monitoring started",
		"instances", len(m.cfg.Instances),
		"interval", m.cfg.MonitoringPeriod().String())

	for dc, admin := range m.admins {
		if err := admin.Ping(ctx); err != nil {
			m.logger.Warn("admin API connectivity check failed",
				"datacenter", dc, "error", err.Error())
		} else {
			m.logger.Info("admin API reachable", "datacenter", dc)
		}
	}

	ticker := time.NewTicker(m.cfg.MonitoringPeriod())
	defer ticker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-m.stopCh:
			m.logger.Info("monitoring stopped")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick probes every endpoint of every instance. Endpoints of one
// instance are probed concurrently.
func (m *Monitor) tick(ctx context.Context) {
	for _, instance := range m.cfg.Instances {
		var wg sync.WaitGroup
		for dc, endpoint := range instance.Endpoints {
			wg.Add(1)
			go func(dc string, endpoint config.Endpoint) {
				defer wg.Done()
				m.probeOne(ctx, instance, dc, endpoint)
			}(dc, endpoint)
		}
		wg.Wait()
	}
}

func (m *Monitor) probeOne(ctx context.Context, instance *config.Instance, dc string, endpoint config.Endpoint) {
	sample := m.prober.Probe(ctx, instance, dc, endpoint)
	m.tele.ProbesTotal.WithLabelValues(instance.UID, dc).Inc()

	if sample.ProbeError == "" {
		if admin, ok := m.admins[dc]; ok {
			stats, err := admin.InstanceStats(ctx, instance.UID)
			if err != nil {
				m.logger.Warn("admin API stats unavailable",
					"instance", instance.UID, "datacenter", dc, "error", err.Error())
			} else if len(stats) > 0 {
				sample.API = stats
			}
		}
	}

	m.store.Append(sample)

	var st health.Status
	if sample.ProbeError != "" {
		m.tele.ProbeErrorsTotal.WithLabelValues(instance.UID, dc).Inc()
		count := m.bumpErrors(instance.UID, dc)
		st = health.EvaluateFailure(sample, count)
		m.logger.Error("probe failed",
			"instance", instance.UID,
			"datacenter", dc,
			"consecutive_errors", count,
			"error", sample.ProbeError)
	} else {
		m.resetErrors(instance.UID, dc)
		st = health.Evaluate(sample)
		if m.enhancer != nil {
			m.enhancer.Enhance(&st, sample)
		}
		m.tele.ProbeLatency.WithLabelValues(instance.UID, dc).Set(sample.LatencyMs)
		m.tele.AnomalyScore.WithLabelValues(instance.UID, dc).Set(st.AnomalyScore)
		if st.IsAnomaly {
			m.tele.AnomaliesTotal.WithLabelValues(instance.UID, dc).Inc()
		}
	}
	m.tele.HealthState.WithLabelValues(instance.UID, dc).Set(stateValue(st.State))

	m.sink.UpdateHealth(st)
}

func stateValue(s health.State) float64 {
	switch s {
	case health.StateHealthy:
		return 1
	case health.StateDegraded:
		return 2
	case health.StateFailing:
		return 3
	case health.StateFailed:
		return 4
	default:
		return 0
	}
}

func (m *Monitor) bumpErrors(uid, dc string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCounts[uid+"/"+dc]++
	return m.errCounts[uid+"/"+dc]
}

func (m *Monitor) resetErrors(uid, dc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCounts[uid+"/"+dc] = 0
}
