package parser_test

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/parser"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func writeArtifact(t *testing.T, path string, a map[string]any) {
	t.Helper()

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	_, err = gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestNew_WritesSettings(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "parsed")

	_, err := parser.New(testLogger(), &config.ParserConfig{
		ExePath: "/usr/local/bin/GuildWars2EliteInsights-CLI",
		OutDir:  outDir,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "parser.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "OutLocation="+outDir)
	assert.Contains(t, string(data), "SaveOutJSON=true")
}

func TestFindParsed_Idempotent(t *testing.T) {
	outDir := t.TempDir()

	p, err := parser.New(testLogger(), &config.ParserConfig{
		ExePath: "/nonexistent",
		OutDir:  outDir,
	})
	require.NoError(t, err)

	assert.Empty(t, p.FindParsed("/logs/20251218-190000.zevtc"))

	artifact := filepath.Join(outDir, "20251218-190000_vg_kill.json.gz")
	writeArtifact(t, artifact, map[string]any{"fightName": "Vale Guardian"})

	assert.Equal(t, artifact, p.FindParsed("/logs/20251218-190000.zevtc"))

	// Parse short-circuits on the existing artifact without invoking
	// the missing binary.
	got, err := p.Parse(context.Background(), "/logs/20251218-190000.zevtc")
	require.NoError(t, err)
	assert.Equal(t, artifact, got)
}

func TestParse_RejectedLogIsTerminal(t *testing.T) {
	outDir := t.TempDir()

	p, err := parser.New(testLogger(), &config.ParserConfig{
		ExePath: "/bin/false",
		OutDir:  outDir,
	})
	require.NoError(t, err)

	got, err := p.Parse(context.Background(), "/logs/20251218-190000.zevtc")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fight.json.gz")

	writeArtifact(t, path, map[string]any{
		"fightName":    "Temple of Febe CM",
		"triggerID":    25989,
		"timeStartStd": "2025-12-18 19:00:00 +01:00",
		"durationMS":   543210,
		"success":      true,
		"isCM":         true,
		"players": []map[string]any{
			{"account": "alice.1234", "name": "Alice"},
			{"account": "bob.5678", "name": "Bob"},
		},
		"targets": []map[string]any{
			{"name": "Cerus", "healthPercentBurned": 100.0},
		},
		"phases": []map[string]any{
			{"name": "Full Fight", "start": 0, "end": 543210},
			{"name": "80% - Breakbar", "start": 60000, "end": 90000},
		},
		"presentInstanceBuffs": []map[string]any{{"id": 68087}},
	})

	a, err := parser.LoadArtifact(path)
	require.NoError(t, err)

	assert.Equal(t, "Temple of Febe CM", a.FightName)
	assert.Equal(t, int64(25989), a.TriggerID)
	assert.Equal(t, int64(543210), a.DurationMS)
	assert.True(t, a.Success)
	assert.True(t, a.IsCM)
	assert.False(t, a.IsLegendaryCM)

	start, err := a.StartTime()
	require.NoError(t, err)
	assert.Equal(t, 2025, start.Year())
	assert.Equal(t, 19, start.Hour())

	assert.Equal(t, []string{"alice.1234", "bob.5678"}, a.Accounts())
	assert.True(t, a.HasBuff(68087))
	assert.False(t, a.HasBuff(12345))
	assert.InDelta(t, 0.0, a.FinalHealthPercent(), 0.001)
	require.Len(t, a.Phases, 2)
}

func zipWithBinary(t *testing.T, name, content string) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)

	f, err := w.Create(name)
	require.NoError(t, err)

	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func TestUpdater_InstallsMissingBinary(t *testing.T) {
	archive := zipWithBinary(t, "GuildWars2EliteInsights-CLI", "#!/bin/sh\n")

	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	})
	mux.HandleFunc("/release", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"tag_name": "v3.14.0"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cfg := &config.ParserConfig{
		ExePath:         filepath.Join(dir, "GuildWars2EliteInsights-CLI"),
		ReleaseURL:      srv.URL + "/release",
		DownloadURL:     srv.URL + "/download",
		UpdateCheckDays: 7,
	}

	u := parser.NewUpdater(testLogger(), cfg)
	require.NoError(t, u.EnsureBinary(context.Background()))

	info, err := os.Stat(cfg.ExePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	version, err := os.ReadFile(filepath.Join(dir, "version.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v3.14.0\n", string(version))

	assert.FileExists(t, filepath.Join(dir, "last_checked.txt"))

	// A second call inside the check window is a no-op.
	require.NoError(t, u.EnsureBinary(context.Background()))
}
