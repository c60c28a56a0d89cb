package discord_test

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
	"github.com/gw2clears/clearoor/pkg/discord"
	"github.com/gw2clears/clearoor/pkg/rank"
	"github.com/gw2clears/clearoor/pkg/store"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestClient_SendAndEdit(t *testing.T) {
	var (
		posts   int
		patches []string
		lastMsg discord.Message
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastMsg))

		switch r.Method {
		case http.MethodPost:
			posts++

			require.Equal(t, "true", r.URL.Query().Get("wait"))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "123456"})
		case http.MethodPatch:
			patches = append(patches, r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "123456"})
		}
	}))
	defer srv.Close()

	c := discord.NewClient(testLogger())
	ctx := context.Background()

	id, err := c.Send(ctx, srv.URL+"/webhook", &discord.Message{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "123456", id)
	assert.Equal(t, 1, posts)
	assert.Equal(t, "hello", lastMsg.Content)

	require.NoError(t, c.Edit(ctx, srv.URL+"/webhook", id, &discord.Message{Content: "edited"}))
	require.Len(t, patches, 1)
	assert.Equal(t, "/webhook/messages/123456", patches[0])
	assert.Equal(t, "edited", lastMsg.Content)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "04:05", discord.FormatDuration(245000))
	assert.Equal(t, "1:01:05", discord.FormatDuration(3665000))
	assert.Equal(t, "00:00", discord.FormatDuration(0))
}

func TestEmote_InvalidPrefix(t *testing.T) {
	plain := discord.Emote(rank.Result{Medal: rank.MedalGold})
	flagged := discord.Emote(rank.Result{Medal: rank.MedalGold, Invalid: true})

	assert.NotEqual(t, plain, flagged)
	assert.Contains(t, flagged, plain)
}

func setupPublisher(t *testing.T, handler http.Handler) (*discord.Publisher, store.Store, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: ":memory:"},
		},
		Discord: config.DiscordConfig{
			Enabled: true,
			Webhooks: map[string]string{
				store.GroupRaid:    srv.URL + "/webhook",
				store.GroupFractal: srv.URL + "/webhook",
			},
		},
		Ranking: config.RankingConfig{MedalsType: rank.StrategyOriginal, MeanOrMedian: "mean"},
	}

	log := testLogger()
	ctx := context.Background()

	s := store.NewStore(log, &cfg.Database)
	require.NoError(t, s.Start(ctx))

	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.SeedEncounters(ctx))

	engine := rank.New(log, cfg, s)
	pub := discord.NewPublisher(log, &cfg.Discord, discord.NewClient(log), s, engine)

	return pub, s, srv
}

func TestPublishGroup_SendThenEdit(t *testing.T) {
	var (
		posts, patches int
		last           discord.Message
	)

	pub, s, _ := setupPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))

		if r.Method == http.MethodPost {
			posts++
		} else {
			patches++
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"id": "999"})
	}))

	ctx := context.Background()
	day := time.Date(2025, 12, 18, 19, 0, 0, 0, time.Local)

	group, err := s.GetOrCreateClearGroup(ctx,
		store.GroupName(store.GroupRaid, day), store.GroupRaid, "1_1", day)
	require.NoError(t, err)

	instances, err := s.InstancesForGroup(ctx, store.GroupRaid)
	require.NoError(t, err)

	clear, err := s.GetOrCreateInstanceClear(ctx,
		store.ClearName(&instances[0], day), instances[0].ID)
	require.NoError(t, err)

	clear.Success = true
	clear.DurationMS = 1800000
	clear.StartTime = day
	clear.InstanceClearGroupID = &group.ID
	require.NoError(t, s.SaveInstanceClear(ctx, clear))

	// First publish posts a new message.
	require.NoError(t, pub.PublishGroup(ctx, group))
	assert.Equal(t, 1, posts)
	assert.Zero(t, patches)

	require.Len(t, last.Embeds, 1)
	require.NotEmpty(t, last.Embeds[0].Fields)
	assert.Contains(t, last.Embeds[0].Fields[0].Name, "Spirit Vale")
	assert.Contains(t, last.Embeds[0].Fields[0].Value, "30:00")

	// Subsequent publishes edit in place.
	require.NoError(t, pub.PublishGroup(ctx, group))
	assert.Equal(t, 1, posts)
	assert.Equal(t, 1, patches)

	msg, err := s.GetOrCreateMessage(ctx, group.Name+"__summary", "clear_group", group.Name)
	require.NoError(t, err)
	assert.Equal(t, "999", msg.ExternalID)
	assert.Equal(t, 2, msg.UpdateCount)
}

func TestPublishGroup_NoWebhookConfigured(t *testing.T) {
	pub, s, _ := setupPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no webhook call expected")
	}))

	ctx := context.Background()
	day := time.Date(2025, 12, 18, 19, 0, 0, 0, time.Local)

	group, err := s.GetOrCreateClearGroup(ctx,
		store.GroupName(store.GroupStrike, day), store.GroupStrike, "1_1", day)
	require.NoError(t, err)

	require.NoError(t, pub.PublishGroup(ctx, group))
}

func TestPublishLeaderboard(t *testing.T) {
	var last discord.Message

	pub, s, _ := setupPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "1000"})
	}))

	ctx := context.Background()

	vg, err := s.EncounterByBossID(ctx, 15438)
	require.NoError(t, err)

	base := time.Date(2025, 12, 1, 19, 0, 0, 0, time.UTC)
	for i, d := range []int64{240000, 200000, 260000, 280000} {
		l := &store.DpsLog{
			StartTime:        base.Add(time.Duration(i) * time.Hour),
			DurationMS:       d,
			Success:          true,
			UseInLeaderboard: true,
			URL:              "https://dps.report/x",
			EncounterID:      &vg.ID,
		}
		require.NoError(t, s.CreateDpsLog(ctx, l))
	}

	require.NoError(t, pub.PublishLeaderboard(ctx, store.GroupRaid))

	require.Len(t, last.Embeds, 1)
	require.Len(t, last.Embeds[0].Fields, 1)
	assert.Contains(t, last.Embeds[0].Fields[0].Name, "Vale Guardian")

	// Top three only, fastest first.
	assert.Contains(t, last.Embeds[0].Fields[0].Value, "03:20")
	assert.NotContains(t, last.Embeds[0].Fields[0].Value, "04:40")
}

func TestPublishLeaderboard_ChallengeMoteFlavor(t *testing.T) {
	var last discord.Message

	pub, s, _ := setupPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "1001"})
	}))

	ctx := context.Background()

	mama, err := s.EncounterByBossID(ctx, 17021)
	require.NoError(t, err)

	// Fractal kills carry the challenge mote; the board must list
	// them despite the missing normal-mode cohort.
	l := &store.DpsLog{
		StartTime:        time.Date(2025, 12, 1, 19, 0, 0, 0, time.UTC),
		DurationMS:       150000,
		Success:          true,
		CM:               true,
		UseInLeaderboard: true,
		EncounterID:      &mama.ID,
	}
	require.NoError(t, s.CreateDpsLog(ctx, l))

	require.NoError(t, pub.PublishLeaderboard(ctx, store.GroupFractal))

	require.Len(t, last.Embeds, 1)
	require.Len(t, last.Embeds[0].Fields, 1)
	assert.Contains(t, last.Embeds[0].Fields[0].Name, "MAMA")
	assert.Contains(t, last.Embeds[0].Fields[0].Value, "02:30")
}
