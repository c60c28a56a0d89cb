// Package fsutil holds small filesystem helpers shared by the
// discovery and processing layers.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Move reasons for log files the pipeline will not process again.
const (
	ReasonFailed    = "failed"
	ReasonForbidden = "forbidden"
)

// MoveToSink relocates a rejected log file under
// <root>/<reason>_logs/<YYYYMMDD>/..., preserving the last three path
// segments of the source so the boss folder layout stays recognizable.
// Returns the destination path.
func MoveToSink(path, root, reason string, day time.Time) (string, error) {
	if reason != ReasonFailed && reason != ReasonForbidden {
		return "", fmt.Errorf("unknown move reason %q", reason)
	}

	segments := strings.Split(filepath.ToSlash(path), "/")
	keep := 3

	if len(segments) < keep {
		keep = len(segments)
	}

	tail := filepath.Join(segments[len(segments)-keep:]...)

	dest := filepath.Join(root, reason+"_logs", day.Format("20060102"), tail)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating sink directory: %w", err)
	}

	if err := moveFile(path, dest); err != nil {
		return "", fmt.Errorf("moving %s: %w", path, err)
	}

	return dest, nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return err
	}

	if err := out.Close(); err != nil {
		return err
	}

	return os.Remove(src)
}

// WriteFileAtomic writes data to a temp file in the target directory
// and renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("setting permissions: %w", err)
	}

	return os.Rename(tmpName, path)
}
