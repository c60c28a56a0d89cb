package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/store"
)

func setupRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: ":memory:"},
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, &cfg.Database)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.SeedEncounters(context.Background()))

	srv := &server{log: log, cfg: cfg, store: s}

	return srv.buildRouter(), s
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestHandleHealth(t *testing.T) {
	router, _ := setupRouter(t)

	rec := get(t, router, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleClearsForDay(t *testing.T) {
	router, s := setupRouter(t)
	ctx := context.Background()

	day := time.Date(2025, 12, 18, 0, 0, 0, 0, time.Local)

	group, err := s.GetOrCreateClearGroup(ctx,
		store.GroupName(store.GroupRaid, day), store.GroupRaid, "1_1", day)
	require.NoError(t, err)

	instances, err := s.InstancesForGroup(ctx, store.GroupRaid)
	require.NoError(t, err)

	clear, err := s.GetOrCreateInstanceClear(ctx,
		store.ClearName(&instances[0], day), instances[0].ID)
	require.NoError(t, err)

	clear.InstanceClearGroupID = &group.ID
	require.NoError(t, s.SaveInstanceClear(ctx, clear))

	rec := get(t, router, "/api/v1/clears/20251218")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []groupView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "raids__20251218", views[0].Group.Name)
	require.Len(t, views[0].Clears, 1)
	assert.Equal(t, "spirit-vale__20251218", views[0].Clears[0].Name)

	// Malformed dates are rejected.
	rec = get(t, router, "/api/v1/clears/tomorrow")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGroup_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	rec := get(t, router, "/api/v1/groups/raids__19700101")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLeaderboard(t *testing.T) {
	router, s := setupRouter(t)
	ctx := context.Background()

	vg, err := s.EncounterByBossID(ctx, 15438)
	require.NoError(t, err)

	l := &store.DpsLog{
		StartTime:        time.Date(2025, 12, 18, 19, 0, 0, 0, time.UTC),
		DurationMS:       240000,
		Success:          true,
		UseInLeaderboard: true,
		EncounterID:      &vg.ID,
	}
	require.NoError(t, s.CreateDpsLog(ctx, l))

	rec := get(t, router, "/api/v1/leaderboard/raid")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []leaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "Vale Guardian", entries[0].Encounter.Name)
	require.Len(t, entries[0].Logs, 1)

	rec = get(t, router, "/api/v1/leaderboard/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLeaderboard_ChallengeMoteFlavor(t *testing.T) {
	router, s := setupRouter(t)
	ctx := context.Background()

	mama, err := s.EncounterByBossID(ctx, 17021)
	require.NoError(t, err)

	// Fractal kills are challenge-mote logs; the board must pick them
	// up even though the encounter has no normal-mode cohort.
	l := &store.DpsLog{
		StartTime:        time.Date(2025, 12, 18, 19, 0, 0, 0, time.UTC),
		DurationMS:       180000,
		Success:          true,
		CM:               true,
		UseInLeaderboard: true,
		EncounterID:      &mama.ID,
	}
	require.NoError(t, s.CreateDpsLog(ctx, l))

	rec := get(t, router, "/api/v1/leaderboard/fractal")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []leaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)

	logsSeen := -1

	for _, e := range entries {
		if e.Encounter.Name == "MAMA" {
			logsSeen = len(e.Logs)
		}
	}

	assert.Equal(t, 1, logsSeen)
}

func TestHandleLog(t *testing.T) {
	router, s := setupRouter(t)
	ctx := context.Background()

	vg, err := s.EncounterByBossID(ctx, 15438)
	require.NoError(t, err)

	l := &store.DpsLog{
		StartTime:   time.Date(2025, 12, 18, 19, 0, 0, 0, time.UTC),
		DurationMS:  240000,
		Success:     true,
		EncounterID: &vg.ID,
	}
	require.NoError(t, s.CreateDpsLog(ctx, l))

	rec := get(t, router, "/api/v1/logs/1")
	require.Equal(t, http.StatusOK, rec.Code)

	var row store.DpsLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
	assert.Equal(t, int64(240000), row.DurationMS)

	rec = get(t, router, "/api/v1/logs/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, "/api/v1/logs/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
