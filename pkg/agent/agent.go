package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jihwankim/redisguard/pkg/advisor"
	"github.com/jihwankim/redisguard/pkg/alerting"
	"github.com/jihwankim/redisguard/pkg/api"
	"github.com/jihwankim/redisguard/pkg/anomaly"
	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/failover"
	"github.com/jihwankim/redisguard/pkg/failover/dns"
	"github.com/jihwankim/redisguard/pkg/logevidence"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/metrics"
	"github.com/jihwankim/redisguard/pkg/monitoring"
	"github.com/jihwankim/redisguard/pkg/telemetry"
)

// how often the emergency stop file is checked
const stopFileInterval = 5 * time.Second

// Options are runtime switches from the CLI
type Options struct {
	DisableFailover bool
	DisableAI       bool
	DisableELK      bool
}

// Agent wires and runs all subsystems
type Agent struct {
	cfg    *config.Config
	opts   Options
	logger *logging.Logger

	core     *Core
	store    *metrics.Store
	tele     *telemetry.Metrics
	alerts   *alerting.Manager
	detector *anomaly.Detector
	monitor  *monitoring.Monitor
	engine   *failover.Manager
	server   *api.Server
}

// unconfiguredExecutor rejects failovers when no provider is wired
type unconfiguredExecutor struct{}

func (unconfiguredExecutor) Execute(ctx context.Context, instance *config.Instance, targetDC string) error {
	return fmt.Errorf("no failover provider configured")
}

// New builds the full agent from configuration
func New(cfg *config.Config, opts Options, logger *logging.Logger) (*Agent, error) {
	a := &Agent{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}

	a.core = NewCore(cfg, logger)
	a.store = metrics.NewStore()
	a.tele = telemetry.New()
	a.alerts = alerting.NewManager(cfg, a.tele, logger)
	a.detector = anomaly.NewDetector(cfg, a.store, a.alerts, logger)
	a.monitor = monitoring.NewMonitor(cfg, a.store, a.core, a.detector, a.tele, logger)

	var evidence failover.EvidenceSource
	if cfg.UseELK && !opts.DisableELK {
		svc, err := logevidence.NewService(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to set up log evidence: %w", err)
		}
		evidence = svc
	}

	var consultant failover.Consultant
	if cfg.UseAzureOpenAI && !opts.DisableAI {
		consultant = advisor.New(cfg, logger)
	}

	executor, err := a.buildExecutor(cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	if opts.DisableFailover {
		cfg.AutoFailover = false
	}

	a.engine = failover.NewManager(cfg, a.core, a.store, evidence, consultant,
		executor, a.core, a.alerts, a.tele, logger)

	if cfg.API.Enabled {
		a.server = api.NewServer(cfg, a.core, a.store, a.engine, a.alerts, a.tele, logger)
	}

	return a, nil
}

func (a *Agent) buildExecutor(cfg *config.Config, opts Options, logger *logging.Logger) (failover.Executor, error) {
	if opts.DisableFailover || cfg.FailoverProvider != "dns" {
		return unconfiguredExecutor{}, nil
	}

	var provider dns.Provider
	var err error
	switch cfg.DNSProvider {
	case "route53":
		provider, err = dns.NewRoute53Provider(context.Background(), cfg)
	case "clouddns":
		provider, err = dns.NewCloudDNSProvider(context.Background(), cfg)
	default:
		err = fmt.Errorf("unsupported dns provider: %s", cfg.DNSProvider)
	}
	if err != nil {
		if cfg.AutoFailover {
			return nil, fmt.Errorf("failed to set up DNS provider: %w", err)
		}
		logger.Warn("DNS provider unavailable, failovers disabled", "error", err.Error())
		return unconfiguredExecutor{}, nil
	}

	return dns.NewExecutor(cfg, provider, logger), nil
}

// Run starts all subsystems and blocks until a shutdown signal, the
// emergency stop file, or context cancellation.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		"instances", len(a.cfg.Instances),
		"auto_failover", a.cfg.AutoFailover,
		"elk", a.cfg.UseELK && !a.opts.DisableELK,
		"advisor", a.cfg.UseAzureOpenAI && !a.opts.DisableAI)

	a.monitor.Start(ctx)
	a.detector.Start(ctx)
	a.engine.Start(ctx)
	if a.server != nil {
		a.server.Start()
	}

	a.waitForShutdown(ctx)

	a.logger.Info("agent shutting down")

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("admin API shutdown failed", "error", err.Error())
		}
		cancel()
	}

	a.engine.Stop()
	a.monitor.Stop()
	// persists trained models
	a.detector.Stop()

	a.logger.Info("agent stopped")
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, the stop file appears,
// or the context is cancelled.
func (a *Agent) waitForShutdown(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(stopFileInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			a.logger.Info("received signal", "signal", sig.String())
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.cfg.StopFile == "" {
				continue
			}
			if _, err := os.Stat(a.cfg.StopFile); err == nil {
				a.logger.Warn("emergency stop file detected", "path", a.cfg.StopFile)
				if err := os.Remove(a.cfg.StopFile); err != nil {
					a.logger.Warn("could not remove stop file", "error", err.Error())
				}
				return
			}
		}
	}
}
