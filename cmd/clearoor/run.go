package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gw2clears/clearoor/pkg/aggregate"
	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/discord"
	"github.com/gw2clears/clearoor/pkg/logsvc"
	"github.com/gw2clears/clearoor/pkg/orchestrator"
	"github.com/gw2clears/clearoor/pkg/parser"
	"github.com/gw2clears/clearoor/pkg/rank"
	"github.com/gw2clears/clearoor/pkg/registry"
	"github.com/gw2clears/clearoor/pkg/report"
	"github.com/gw2clears/clearoor/pkg/store"
)

var runDate string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process logs for one day",
	Long: `Watch the configured log directories, parse and upload new logs,
and rebuild the day's clears until the day passes or no new logs
arrive.`,
	RunE: runDay,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDate, "date", "",
		"date to process as YYYYMMDD (defaults to today)")
}

func runDay(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	day := time.Now()

	if runDate != "" {
		day, err = time.ParseInLocation("20060102", runDate, time.Local)
		if err != nil {
			return fmt.Errorf("invalid date %q: expected YYYYMMDD", runDate)
		}
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	s := store.NewStore(log, &cfg.Database)
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := s.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	if err := s.SeedEncounters(ctx); err != nil {
		return fmt.Errorf("seeding encounters: %w", err)
	}

	if err := s.SeedPlayers(ctx, cfg.Players); err != nil {
		return fmt.Errorf("seeding players: %w", err)
	}

	// Make sure the local parser binary is present and current before
	// touching any logs.
	updater := parser.NewUpdater(log, &cfg.Parser)
	if err := updater.EnsureBinary(ctx); err != nil {
		return fmt.Errorf("preparing parser binary: %w", err)
	}

	p, err := parser.New(log, &cfg.Parser)
	if err != nil {
		return fmt.Errorf("creating parser: %w", err)
	}

	reg := registry.New(log, s)
	logs := logsvc.New(log, cfg, s, reg)
	agg := aggregate.New(log, s)
	engine := rank.New(log, cfg, s)
	publisher := discord.NewPublisher(
		log, &cfg.Discord, discord.NewClient(log), s, engine,
	)

	orch := orchestrator.New(
		log, cfg, s, p, report.NewClient(log, &cfg.Report), logs, agg, publisher,
	)

	if err := orch.Run(ctx, day); err != nil {
		return fmt.Errorf("running day %s: %w", day.Format("20060102"), err)
	}

	log.Info("Run completed")

	return nil
}
