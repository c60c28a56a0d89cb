package report_test

import (
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
	"github.com/gw2clears/clearoor/pkg/fsutil"
	"github.com/gw2clears/clearoor/pkg/report"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newClient(t *testing.T, handler http.Handler) *report.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return report.NewClient(testLogger(), &config.ReportConfig{
		BaseURL:        srv.URL,
		UserToken:      "token123",
		TimeoutSeconds: 5,
	})
}

func tempLog(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "20251218-190000.zevtc")
	require.NoError(t, os.WriteFile(path, []byte("evtc-data"), 0644))

	return path
}

func TestUpload_Success(t *testing.T) {
	var gotToken, gotJSON string

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/uploadContent", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		gotToken = r.FormValue("userToken")
		gotJSON = r.FormValue("json")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "20251218-190000.zevtc", header.Filename)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "abcd-1218",
			"permalink": "https://dps.report/abcd-1218",
			"encounter": map[string]any{
				"bossId":   15438,
				"boss":     "Vale Guardian",
				"success":  true,
				"duration": 240.5,
				"isCm":     false,
			},
			"players": map[string]any{
				"alice.1234": map[string]string{"display_name": "alice.1234"},
			},
		})
	}))

	meta, reason, err := c.Upload(context.Background(), tempLog(t))
	require.NoError(t, err)
	assert.Empty(t, reason)
	require.NotNil(t, meta)

	assert.Equal(t, "token123", gotToken)
	assert.Equal(t, "1", gotJSON)
	assert.Equal(t, "abcd-1218", meta.ID)
	assert.Equal(t, int64(15438), meta.Encounter.BossID)
	assert.False(t, meta.Incomplete())
	assert.Equal(t, []string{"alice.1234"}, meta.Accounts())
}

func TestUpload_FailureTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
	}{
		{
			name:       "service unavailable is transient",
			status:     http.StatusServiceUnavailable,
			body:       "try later",
			wantReason: "",
		},
		{
			name:       "too short is a permanent data fault",
			status:     http.StatusForbidden,
			body:       `{"error": "Encounter is too short for a useful report to be made"}`,
			wantReason: fsutil.ReasonFailed,
		},
		{
			name:       "plain forbidden is an api rejection",
			status:     http.StatusForbidden,
			body:       "Forbidden",
			wantReason: fsutil.ReasonForbidden,
		},
		{
			name:       "other errors are logged and retried",
			status:     http.StatusBadGateway,
			body:       "bad gateway",
			wantReason: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			meta, reason, err := c.Upload(context.Background(), tempLog(t))
			require.NoError(t, err)
			assert.Nil(t, meta)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestMetadata_ByIDAndPermalink(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getUploadMetadata", r.URL.Path)

		switch {
		case r.URL.Query().Get("id") == "abcd-1218":
		case r.URL.Query().Get("permalink") == "https://dps.report/abcd-1218":
		default:
			t.Fatalf("unexpected query %q", r.URL.RawQuery)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "abcd-1218",
			"encounter": map[string]any{"duration": 240.5},
		})
	}))

	meta, err := c.Metadata(context.Background(), "abcd-1218")
	require.NoError(t, err)
	assert.Equal(t, "abcd-1218", meta.ID)

	meta, err = c.Metadata(context.Background(), "https://dps.report/abcd-1218")
	require.NoError(t, err)
	assert.Equal(t, "abcd-1218", meta.ID)
}

func TestMetadata_ServiceError(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no such upload"})
	}))

	_, err := c.Metadata(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such upload")
}

func TestRepair_FillsFromDetailed(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getJson", r.URL.Path)
		require.Equal(t, "abcd-1218", r.URL.Query().Get("id"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"fightName":  "Vale Guardian",
			"durationMS": 240500,
			"success":    true,
			"isCM":       true,
		})
	}))

	meta := &report.Metadata{ID: "abcd-1218"}
	require.True(t, meta.Incomplete())

	require.NoError(t, c.Repair(context.Background(), meta))
	assert.InDelta(t, 240.5, meta.Encounter.Duration, 0.001)
	assert.True(t, meta.Encounter.IsCM)
	assert.True(t, meta.Encounter.Success)
	assert.False(t, meta.Incomplete())
}
