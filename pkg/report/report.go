// Package report talks to the remote report service: uploads, short
// metadata, and full parser-grade JSON.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/fsutil"
	"github.com/gw2clears/clearoor/pkg/parser"
)

// tooShortError is the service's permanent rejection for logs with no
// analyzable content.
const tooShortError = "Encounter is too short for a useful report to be made"

// Metadata is the short per-upload record returned by the service.
type Metadata struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
	Error     string `json:"error"`

	EncounterTime int64 `json:"encounterTime"`

	Encounter struct {
		BossID   int64   `json:"bossId"`
		Boss     string  `json:"boss"`
		Success  bool    `json:"success"`
		Duration float64 `json:"duration"`
		IsCM     bool    `json:"isCm"`
	} `json:"encounter"`

	Players map[string]struct {
		DisplayName   string `json:"display_name"`
		CharacterName string `json:"character_name"`
	} `json:"players"`
}

// Incomplete reports whether the short metadata needs a detailed
// fetch to be usable.
func (m *Metadata) Incomplete() bool {
	return m.Encounter.Duration <= 0
}

// Accounts returns the display names of all participants.
func (m *Metadata) Accounts() []string {
	accounts := make([]string, 0, len(m.Players))

	for _, p := range m.Players {
		if p.DisplayName != "" {
			accounts = append(accounts, p.DisplayName)
		}
	}

	return accounts
}

// Client is the HTTP adapter. Uploads are throttled to one per second
// to stay within the service's per-client budget; retries are the
// caller's concern.
type Client struct {
	log     logrus.FieldLogger
	cfg     *config.ReportConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a report service client.
func NewClient(log logrus.FieldLogger, cfg *config.ReportConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		log:     log.WithField("component", "report"),
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Upload posts a log file. The move reason is non-empty only for
// permanent rejections; a nil metadata with an empty reason means the
// attempt should be retried later.
func (c *Client) Upload(ctx context.Context, path string) (*Metadata, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	body, contentType, err := c.uploadBody(path)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/uploadContent", body)
	if err != nil {
		return nil, "", fmt.Errorf("building upload request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("uploading %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading upload response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, "", fmt.Errorf("decoding upload response: %w", err)
		}

		return &meta, "", nil

	case http.StatusServiceUnavailable:
		c.log.WithField("log", path).Info("Report service unavailable, will retry")

		return nil, "", nil

	case http.StatusForbidden:
		if strings.Contains(string(data), tooShortError) {
			return nil, fsutil.ReasonFailed, nil
		}

		return nil, fsutil.ReasonForbidden, nil

	default:
		c.log.WithFields(logrus.Fields{
			"log":    path,
			"status": resp.StatusCode,
			"body":   strings.TrimSpace(string(data)),
		}).Warn("Upload failed")

		return nil, "", nil
	}
}

func (c *Client) uploadBody(path string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"json":        "1",
		"generator":   "ei",
		"anonymous":   "false",
		"detailedwvw": "false",
	}
	if c.cfg.UserToken != "" {
		fields["userToken"] = c.cfg.UserToken
	}

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", name, err)
		}
	}

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}

	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copying log into form: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

// Metadata fetches the short metadata for an upload id or permalink.
func (c *Client) Metadata(ctx context.Context, idOrURL string) (*Metadata, error) {
	var meta Metadata
	if err := c.getJSON(ctx, "/getUploadMetadata", idOrURL, &meta); err != nil {
		return nil, err
	}

	if meta.Error != "" {
		return nil, fmt.Errorf("report service error: %s", meta.Error)
	}

	return &meta, nil
}

// Detailed fetches the full parser-grade JSON for an upload.
func (c *Client) Detailed(ctx context.Context, idOrURL string) (*parser.Artifact, error) {
	var artifact parser.Artifact
	if err := c.getJSON(ctx, "/getJson", idOrURL, &artifact); err != nil {
		return nil, err
	}

	return &artifact, nil
}

// Repair fills incomplete short metadata from the detailed JSON.
func (c *Client) Repair(ctx context.Context, meta *Metadata) error {
	detailed, err := c.Detailed(ctx, meta.ID)
	if err != nil {
		return fmt.Errorf("fetching detailed info for repair: %w", err)
	}

	meta.Encounter.Duration = float64(detailed.DurationMS) / 1000
	meta.Encounter.IsCM = detailed.IsCM
	meta.Encounter.Success = detailed.Success

	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, idOrURL string, out any) error {
	params := url.Values{}
	if strings.HasPrefix(idOrURL, "http") {
		params.Set("permalink", idOrURL)
	} else {
		params.Set("id", idOrURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}

	return nil
}
