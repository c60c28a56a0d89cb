// Package parser wraps the external Elite Insights CLI: settings
// generation, invocation, artifact lookup, and binary updates.
package parser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/fsutil"
)

// Parser runs the CLI against individual log files. Outputs land in a
// run-scoped directory embedded in the generated settings file.
type Parser struct {
	log          logrus.FieldLogger
	cfg          *config.ParserConfig
	settingsPath string
}

// New prepares the output directory and writes the settings file.
func New(log logrus.FieldLogger, cfg *config.ParserConfig) (*Parser, error) {
	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("creating parser output directory: %w", err)
	}

	p := &Parser{
		log: log.WithField("component", "parser"),
		cfg: cfg,
	}

	if err := p.writeSettings(); err != nil {
		return nil, err
	}

	return p, nil
}

// writeSettings generates the CLI configuration once per run. The
// output location is embedded so artifacts are co-located with the
// settings.
func (p *Parser) writeSettings() error {
	var b strings.Builder

	b.WriteString("# Generated; do not edit.\n")
	b.WriteString("SaveOutJSON=true\n")
	b.WriteString("SaveOutHTML=false\n")
	b.WriteString("IndentJSON=false\n")
	b.WriteString("CompressRaw=true\n")
	b.WriteString("SaveAtOut=false\n")
	b.WriteString("OutLocation=" + p.cfg.OutDir + "\n")

	p.settingsPath = filepath.Join(p.cfg.OutDir, "parser.conf")

	if err := fsutil.WriteFileAtomic(p.settingsPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing parser settings: %w", err)
	}

	return nil
}

// Parse runs the CLI on the log and returns the path to the gzipped
// JSON artifact. An empty path with a nil error means the parser
// rejected the log (typically a fight too short to analyze); that is
// terminal and the file must not be retried.
func (p *Parser) Parse(ctx context.Context, logPath string) (string, error) {
	if existing := p.FindParsed(logPath); existing != "" {
		p.log.WithField("artifact", existing).Debug("Log already parsed")

		return existing, nil
	}

	cmd := exec.CommandContext(ctx, p.cfg.ExePath, "-c", p.settingsPath, logPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		p.log.WithFields(logrus.Fields{
			"log":    logPath,
			"output": strings.TrimSpace(string(output)),
		}).Info("Parser rejected log")

		return "", nil
	}

	artifact := p.FindParsed(logPath)
	if artifact == "" {
		return "", fmt.Errorf("parser produced no artifact for %s", logPath)
	}

	return artifact, nil
}

// FindParsed returns an existing artifact for the log, or "". The CLI
// names outputs after the source file, so a prefix match on the stem
// inside the output directory is sufficient.
func (p *Parser) FindParsed(logPath string) string {
	stem := strings.TrimSuffix(filepath.Base(logPath), filepath.Ext(logPath))

	entries, err := os.ReadDir(p.cfg.OutDir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, stem) && strings.HasSuffix(name, ".gz") {
			return filepath.Join(p.cfg.OutDir, name)
		}
	}

	return ""
}
