// Package discovery scans the configured log roots for combat log
// files of a single calendar date and tracks per-file processing
// state across refreshes.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/config"
)

// Processing pass names understood by Unprocessed.
const (
	PassLocal  = "local"
	PassUpload = "upload"
)

// logSegment is the directory the game client writes logs under; the
// folder immediately inside it names the encounter.
const logSegment = "arcdps.cbtlogs"

var logExtensions = map[string]struct{}{
	".evtc":  {},
	".zevtc": {},
}

// LogFile is one discovered combat log with its processing state.
type LogFile struct {
	// ID is stable across refreshes. Files under the extra directory
	// are prefixed so a log copied between mirrored directories is
	// tracked twice but processed once.
	ID              string
	Path            string
	Folder          string
	ModTime         time.Time
	LocalProcessed  bool
	UploadProcessed bool
}

// Processed reports the file's state for one pass.
func (f *LogFile) Processed(pass string) bool {
	switch pass {
	case PassLocal:
		return f.LocalProcessed
	case PassUpload:
		return f.UploadProcessed
	default:
		return false
	}
}

// View is a refreshable table of the date's log files. It is not safe
// for concurrent use; the run loop owns it.
type View struct {
	log      logrus.FieldLogger
	cfg      *config.LogsConfig
	day      string
	allow    map[string]struct{}
	files    map[string]*LogFile
	extraDir string
}

// NewView validates the configured roots and returns an empty view
// for the given date. Call Refresh to populate it.
func NewView(log logrus.FieldLogger, cfg *config.LogsConfig, day time.Time) (*View, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("logs directory not configured")
	}

	if _, err := os.Stat(cfg.Dir); err != nil {
		return nil, fmt.Errorf("logs directory %s: %w", cfg.Dir, err)
	}

	var allow map[string]struct{}

	if len(cfg.FolderNames) > 0 {
		allow = make(map[string]struct{}, len(cfg.FolderNames))
		for _, name := range cfg.FolderNames {
			allow[name] = struct{}{}
		}
	}

	return &View{
		log:      log.WithField("component", "discovery"),
		cfg:      cfg,
		day:      day.Format("20060102"),
		allow:    allow,
		files:    make(map[string]*LogFile),
		extraDir: cfg.ExtraDir,
	}, nil
}

// Refresh rescans the roots and adds newly discovered files. Existing
// per-file state is never overwritten.
func (v *View) Refresh() error {
	if err := v.scan(v.cfg.Dir, false); err != nil {
		return fmt.Errorf("scanning %s: %w", v.cfg.Dir, err)
	}

	if v.extraDir != "" {
		if err := v.scan(v.extraDir, true); err != nil {
			// The extra directory is optional and may be a network
			// mount; a failed scan only costs this refresh.
			v.log.WithError(err).Warn("Extra logs directory scan failed")
		}
	}

	return nil
}

func (v *View) scan(root string, extra bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		stem, ok := v.matchName(d.Name())
		if !ok {
			return nil
		}

		id := stem
		if extra {
			id = "extra" + stem
		}

		if _, seen := v.files[id]; seen {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Disappeared mid-scan; the next refresh sees it again.
			return nil
		}

		file := &LogFile{
			ID:      id,
			Path:    path,
			Folder:  encounterFolder(path),
			ModTime: info.ModTime(),
		}

		if v.allow != nil {
			if _, ok := v.allow[file.Folder]; !ok {
				file.LocalProcessed = true
				file.UploadProcessed = true
			}
		}

		v.files[id] = file

		return nil
	})
}

// matchName reports whether a filename is a combat log of the view's
// date, returning the filename stem.
func (v *View) matchName(name string) (string, bool) {
	ext := filepath.Ext(name)
	if _, ok := logExtensions[ext]; !ok {
		return "", false
	}

	stem := strings.TrimSuffix(name, ext)
	if !strings.HasPrefix(stem, v.day) {
		return "", false
	}

	return stem, true
}

// encounterFolder derives the folder name immediately inside the
// game's log segment, or "" when the path has no such segment.
func encounterFolder(path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, seg := range segments {
		if seg == logSegment && i+2 < len(segments) {
			return segments[i+1]
		}
	}

	return ""
}

// Unprocessed returns the files still pending the given pass, oldest
// modification time first.
func (v *View) Unprocessed(pass string) []*LogFile {
	var pending []*LogFile

	for _, f := range v.files {
		switch pass {
		case PassLocal:
			if !f.LocalProcessed {
				pending = append(pending, f)
			}
		case PassUpload:
			if !f.UploadProcessed {
				pending = append(pending, f)
			}
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ModTime.Before(pending[j].ModTime)
	})

	return pending
}

// Get returns the tracked file for an id, or nil.
func (v *View) Get(id string) *LogFile {
	return v.files[id]
}

// MarkProcessed marks every file sharing the given file's stem as done
// for the pass, so a log mirrored into the extra directory is not
// processed a second time.
func (v *View) MarkProcessed(id, pass string) {
	stem := strings.TrimPrefix(id, "extra")

	for _, candidate := range []string{stem, "extra" + stem} {
		f, ok := v.files[candidate]
		if !ok {
			continue
		}

		switch pass {
		case PassLocal:
			f.LocalProcessed = true
		case PassUpload:
			f.UploadProcessed = true
		}
	}
}

// MarkDone marks a file processed for every pass. Used after a
// terminal classification such as a moved or invalid log.
func (v *View) MarkDone(id string) {
	v.MarkProcessed(id, PassLocal)
	v.MarkProcessed(id, PassUpload)
}

// Len returns the number of tracked files.
func (v *View) Len() int {
	return len(v.files)
}
