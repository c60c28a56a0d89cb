package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database",
	Long: `Create or update the static reference data (instances, encounters)
and the configured player roster without processing any logs.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

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

	log.WithField("players", len(cfg.Players)).Info("Database seeded")

	return nil
}
