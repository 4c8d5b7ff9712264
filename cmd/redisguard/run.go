package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jihwankim/redisguard/pkg/agent"
	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Run the supervisor agent",
	Long: `Run starts the monitoring loop, the anomaly detector, the failover
engine, and the admin API, and blocks until a shutdown signal or the
emergency stop file.`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().Bool("no-failover", false, "monitor only, never change DNS")
	runCmd.Flags().Bool("no-ai", false, "skip the Azure OpenAI advisor")
	runCmd.Flags().Bool("no-elk", false, "skip Elasticsearch log evidence")
}

func runAgent(cmd *cobra.Command, args []string) error {
	noFailover, _ := cmd.Flags().GetBool("no-failover")
	noAI, _ := cmd.Flags().GetBool("no-ai")
	noELK, _ := cmd.Flags().GetBool("no-elk")

	path := cfgFile
	if path == "" {
		path = "config.json"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := logging.Level(cfg.LogLevel)
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:  level,
		Format: logging.Format(cfg.LogFormat),
	})

	logger.Info("redisguard starting", "version", version, "config", path)

	a, err := agent.New(cfg, agent.Options{
		DisableFailover: noFailover,
		DisableAI:       noAI,
		DisableELK:      noELK,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}

	return a.Run(context.Background())
}
