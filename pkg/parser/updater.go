package parser

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/fsutil"
)

const (
	versionFile     = "version.txt"
	lastCheckedFile = "last_checked.txt"
	checkedLayout   = time.RFC3339
)

// Updater keeps the CLI binary present and reasonably fresh. A
// release check runs at most once per configured number of days.
type Updater struct {
	log    logrus.FieldLogger
	cfg    *config.ParserConfig
	client *http.Client
}

// NewUpdater creates an updater for the configured binary location.
func NewUpdater(log logrus.FieldLogger, cfg *config.ParserConfig) *Updater {
	return &Updater{
		log:    log.WithField("component", "parser-updater"),
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// EnsureBinary downloads the CLI when missing and refreshes it when
// the upstream release moved past the installed version.
func (u *Updater) EnsureBinary(ctx context.Context) error {
	dir := filepath.Dir(u.cfg.ExePath)

	if _, err := os.Stat(u.cfg.ExePath); os.IsNotExist(err) {
		u.log.Info("Parser binary missing, downloading")

		return u.install(ctx, dir)
	}

	due, err := u.checkDue(dir)
	if err != nil || !due {
		return err
	}

	latest, err := u.latestVersion(ctx)
	if err != nil {
		// Upstream check failures never block a run with a working
		// binary already in place.
		u.log.WithError(err).Warn("Release check failed")

		return nil
	}

	if err := u.touchChecked(dir); err != nil {
		return err
	}

	installed := u.installedVersion(dir)
	if installed == latest {
		return nil
	}

	u.log.WithFields(logrus.Fields{
		"installed": installed,
		"latest":    latest,
	}).Info("Updating parser binary")

	return u.install(ctx, dir)
}

func (u *Updater) checkDue(dir string) (bool, error) {
	days := u.cfg.UpdateCheckDays
	if days <= 0 {
		return false, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, lastCheckedFile))
	if err != nil {
		return true, nil
	}

	checked, err := time.Parse(checkedLayout, strings.TrimSpace(string(data)))
	if err != nil {
		return true, nil
	}

	return time.Since(checked) >= time.Duration(days)*24*time.Hour, nil
}

func (u *Updater) installedVersion(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, versionFile))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func (u *Updater) touchChecked(dir string) error {
	return fsutil.WriteFileAtomic(
		filepath.Join(dir, lastCheckedFile),
		[]byte(time.Now().Format(checkedLayout)+"\n"), 0644)
}

// latestVersion queries the release endpoint for the current tag.
func (u *Updater) latestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.ReleaseURL, nil)
	if err != nil {
		return "", fmt.Errorf("building release request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release endpoint returned %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decoding release info: %w", err)
	}

	return release.TagName, nil
}

// install downloads the release archive and unpacks it next to the
// configured binary path.
func (u *Updater) install(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating parser directory: %w", err)
	}

	archive, err := u.download(ctx)
	if err != nil {
		return err
	}
	defer os.Remove(archive)

	if err := extractZip(archive, dir); err != nil {
		return fmt.Errorf("extracting parser archive: %w", err)
	}

	if err := os.Chmod(u.cfg.ExePath, 0755); err != nil {
		return fmt.Errorf("marking parser binary executable: %w", err)
	}

	version, err := u.latestVersion(ctx)
	if err != nil {
		version = "unknown"
	}

	if err := fsutil.WriteFileAtomic(
		filepath.Join(dir, versionFile), []byte(version+"\n"), 0644); err != nil {
		return err
	}

	return u.touchChecked(dir)
}

func (u *Updater) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.DownloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("building download request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading parser: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "parser-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating download temp file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return "", fmt.Errorf("saving parser archive: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return "", err
	}

	return tmp.Name(), nil
}

func extractZip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(dir, filepath.Clean(f.Name))
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes target directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}

			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}

		if err := extractFile(f, dest); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(f *zip.File, dest string) error {
	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return err
	}

	return out.Close()
}
