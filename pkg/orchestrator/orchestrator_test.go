package orchestrator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// build wires a full orchestrator against a temp log tree, a parser
// binary that rejects everything, and the given report handler.
func build(t *testing.T, reportHandler http.Handler) (*orchestrator.Orchestrator, *config.Config, store.Store) {
	t.Helper()

	srv := httptest.NewServer(reportHandler)
	t.Cleanup(srv.Close)

	logsDir := t.TempDir()

	cfg := &config.Config{
		Logs: config.LogsConfig{Dir: logsDir},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: ":memory:"},
		},
		Report: config.ReportConfig{BaseURL: srv.URL, TimeoutSeconds: 5},
		Parser: config.ParserConfig{
			ExePath: "/bin/false",
			OutDir:  filepath.Join(t.TempDir(), "parsed"),
		},
		Ranking:    config.RankingConfig{MedalsType: rank.StrategyOriginal, MeanOrMedian: "mean"},
		Emboldened: config.EmboldenedConfig{BaseYear: 2022, BaseWeek: 26, Wings: 7},
		Orchestrator: config.OrchestratorConfig{
			IdleMinutes:        1,
			ProcessingSequence: []string{"local", "upload"},
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	ctx := context.Background()

	s := store.NewStore(log, &cfg.Database)
	require.NoError(t, s.Start(ctx))

	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.SeedEncounters(ctx))

	p, err := parser.New(log, &cfg.Parser)
	require.NoError(t, err)

	reg := registry.New(log, s)
	svc := logsvc.New(log, cfg, s, reg)
	agg := aggregate.New(log, s)
	pub := discord.NewPublisher(log, &cfg.Discord, discord.NewClient(log), s, rank.New(log, cfg, s))

	return orchestrator.New(log, cfg, s, p, report.NewClient(log, &cfg.Report), svc, agg, pub), cfg, s
}

func writeLog(t *testing.T, root, folder, name string) string {
	t.Helper()

	dir := filepath.Join(root, "arcdps.cbtlogs", folder)
	require.NoError(t, os.MkdirAll(dir, 0755))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("evtc"), 0644))

	return path
}

func TestRun_StopsWhenIdle(t *testing.T) {
	o, _, _ := build(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), time.Now()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("run loop did not stop on idle countdown")
	}
}

func TestRun_ForbiddenUploadMovesFile(t *testing.T) {
	o, cfg, _ := build(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/uploadContent" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("Forbidden"))

			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))

	// Skip the local pass so the upload outcome decides the file's fate.
	cfg.Orchestrator.ProcessingSequence = []string{"upload"}

	day := time.Now()
	name := day.Format("20060102") + "-190000.zevtc"
	src := writeLog(t, cfg.Logs.Dir, "Vale Guardian", name)

	require.NoError(t, o.Run(context.Background(), day))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	moved := filepath.Join(cfg.Logs.Dir, "forbidden_logs", day.Format("20060102"),
		"arcdps.cbtlogs", "Vale Guardian", name)
	assert.FileExists(t, moved)
}

func TestRun_RejectedLogNeverUploaded(t *testing.T) {
	uploads := 0

	o, cfg, _ := build(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/uploadContent" {
			uploads++
		}

		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	day := time.Now()
	writeLog(t, cfg.Logs.Dir, "Vale Guardian", day.Format("20060102")+"-190000.zevtc")

	require.NoError(t, o.Run(context.Background(), day))
	assert.Zero(t, uploads)
}

func TestRun_MirroredLogUploadedOnce(t *testing.T) {
	day := time.Now()
	uploads := 0

	o, cfg, _ := build(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/getJson" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"fightName":  "Vale Guardian",
				"durationMS": 240500,
				"success":    true,
			})

			return
		}

		if r.URL.Path != "/uploadContent" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		uploads++

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "mirror-test-1",
			"permalink":     "https://dps.report/mirror-test-1",
			"encounterTime": day.Unix(),
			"encounter": map[string]any{
				"bossId":   15438,
				"boss":     "Vale Guardian",
				"success":  true,
				"duration": 240.5,
			},
		})
	}))

	cfg.Orchestrator.ProcessingSequence = []string{"upload"}
	cfg.Logs.ExtraDir = t.TempDir()

	// The same fight in both roots: once uploaded, the mirrored copy
	// captured in the same pass must not go out again.
	name := day.Format("20060102") + "-190000.zevtc"
	writeLog(t, cfg.Logs.Dir, "Vale Guardian", name)
	writeLog(t, cfg.Logs.ExtraDir, "Vale Guardian", name)

	require.NoError(t, o.Run(context.Background(), day))
	assert.Equal(t, 1, uploads)
}

func TestRun_UploadPersistsLog(t *testing.T) {
	day := time.Now()

	o, cfg, s := build(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/getJson" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"fightName":  "Vale Guardian",
				"durationMS": 240500,
				"success":    true,
			})

			return
		}

		if r.URL.Path != "/uploadContent" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "run-test-1",
			"permalink":     "https://dps.report/run-test-1",
			"encounterTime": day.Unix(),
			"encounter": map[string]any{
				"bossId":   15438,
				"boss":     "Vale Guardian",
				"success":  true,
				"duration": 240.5,
			},
			"players": map[string]any{
				"alice.1234": map[string]string{"display_name": "alice.1234"},
			},
		})
	}))

	cfg.Orchestrator.ProcessingSequence = []string{"upload"}

	writeLog(t, cfg.Logs.Dir, "Vale Guardian", day.Format("20060102")+"-190000.zevtc")

	require.NoError(t, o.Run(context.Background(), day))

	ctx := context.Background()

	vg, err := s.EncounterByBossID(ctx, 15438)
	require.NoError(t, err)

	row, err := s.FindDpsLogNear(ctx, day, vg.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "https://dps.report/run-test-1", row.URL)
	assert.True(t, row.Success)

	// The day's clear group was rebuilt after the successful pass.
	group, err := s.GroupByName(ctx, store.GroupName(store.GroupRaid, day))
	require.NoError(t, err)
	assert.NotNil(t, group)
}
