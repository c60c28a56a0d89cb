package registry_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/registry"
	"github.com/gw2clears/clearoor/pkg/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		meta     registry.BossMeta
		detailed string
		want     registry.BossMeta
	}{
		{
			name:     "dark ai phase gets negated id",
			meta:     registry.BossMeta{Boss: "Ai", BossID: 23254},
			detailed: "Dark Ai, Keeper of the Peak",
			want:     registry.BossMeta{Boss: "Dark Ai", BossID: -23254},
		},
		{
			name:     "elemental ai keeps id",
			meta:     registry.BossMeta{Boss: "Ai", BossID: 23254},
			detailed: "Elemental Ai, Keeper of the Peak",
			want:     registry.BossMeta{Boss: "Elemental Ai", BossID: 23254},
		},
		{
			name: "olc vermilion collapses",
			meta: registry.BossMeta{Boss: "Prototype Vermilion", BossID: 25413},
			want: registry.BossMeta{Boss: "Prototype Vermilion", BossID: 25414},
		},
		{
			name: "olc indigo collapses",
			meta: registry.BossMeta{Boss: "Prototype Indigo", BossID: 25423},
			want: registry.BossMeta{Boss: "Prototype Indigo", BossID: 25414},
		},
		{
			name: "olc arsenite collapses",
			meta: registry.BossMeta{Boss: "Prototype Arsenite", BossID: 25416},
			want: registry.BossMeta{Boss: "Prototype Arsenite", BossID: 25414},
		},
		{
			name: "eye of judgement renamed",
			meta: registry.BossMeta{Boss: "Eye of Judgement", BossID: 19845},
			want: registry.BossMeta{Boss: "Eye of Fate", BossID: 19844},
		},
		{
			name: "regular boss untouched",
			meta: registry.BossMeta{Boss: "Dhuum", BossID: 19450},
			want: registry.BossMeta{Boss: "Dhuum", BossID: 19450},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fetcher registry.DetailedFetcher
			if tt.detailed != "" {
				fetcher = func() (string, error) { return tt.detailed, nil }
			}

			got, err := registry.Normalize(tt.meta, fetcher)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_DetailedFetchRequired(t *testing.T) {
	_, err := registry.Normalize(registry.BossMeta{Boss: "Ai", BossID: 23254}, nil)
	require.Error(t, err)

	_, err = registry.Normalize(
		registry.BossMeta{Boss: "Ai", BossID: 23254},
		func() (string, error) { return "", fmt.Errorf("network down") },
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
}

func setupRegistry(t *testing.T) registry.Registry {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.SeedEncounters(context.Background()))

	return registry.New(log, s)
}

func TestRegistry_ByBossMeta(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	enc, err := r.ByBossMeta(ctx,
		registry.BossMeta{Boss: "Ai", BossID: 23254},
		func() (string, error) { return "Dark Ai, Keeper of the Peak", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "Dark Ai, Keeper of the Peak", enc.Name)

	enc, err = r.ByBossMeta(ctx,
		registry.BossMeta{Boss: "Prototype Vermilion", BossID: 25413}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Old Lion's Court", enc.Name)
}

func TestRegistry_Missing(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	_, err := r.ByTriggerID(ctx, 99999999)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrEncounterMissing)

	_, err = r.ByBossMeta(ctx, registry.BossMeta{Boss: "Nobody", BossID: 4}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrEncounterMissing)
}

func TestRegistry_StoreFailureIsNotMissing(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.SeedEncounters(context.Background()))

	r := registry.New(log, s)

	// A broken database connection must surface as a real error, not
	// as an unknown encounter the caller would skip.
	require.NoError(t, s.Stop())

	_, err := r.ByTriggerID(context.Background(), 15438)
	require.Error(t, err)
	assert.NotErrorIs(t, err, registry.ErrEncounterMissing)

	_, err = r.ByBossMeta(context.Background(),
		registry.BossMeta{Boss: "Vale Guardian", BossID: 15438}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, registry.ErrEncounterMissing)
}
