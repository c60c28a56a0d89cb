// Package orchestrator drives the date-bound run loop: discover log
// files, parse them locally, upload them, and rebuild the day's
// clears after every successful pass.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/aggregate"
	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/discord"
	"github.com/gw2clears/clearoor/pkg/discovery"
	"github.com/gw2clears/clearoor/pkg/fsutil"
	"github.com/gw2clears/clearoor/pkg/logsvc"
	"github.com/gw2clears/clearoor/pkg/parser"
	"github.com/gw2clears/clearoor/pkg/registry"
	"github.com/gw2clears/clearoor/pkg/report"
	"github.com/gw2clears/clearoor/pkg/store"
)

var groupTypes = []string{
	store.GroupRaid,
	store.GroupStrike,
	store.GroupFractal,
	store.GroupGolem,
}

// Orchestrator wires the pipeline components into a run loop.
type Orchestrator struct {
	log       logrus.FieldLogger
	cfg       *config.Config
	store     store.Store
	parser    *parser.Parser
	report    *report.Client
	logs      *logsvc.Service
	aggregate *aggregate.Aggregator
	publisher *discord.Publisher
}

// New creates an orchestrator from its collaborators.
func New(
	log logrus.FieldLogger,
	cfg *config.Config,
	s store.Store,
	p *parser.Parser,
	r *report.Client,
	l *logsvc.Service,
	a *aggregate.Aggregator,
	pub *discord.Publisher,
) *Orchestrator {
	return &Orchestrator{
		log:       log.WithField("component", "orchestrator"),
		cfg:       cfg,
		store:     s,
		parser:    p,
		report:    r,
		logs:      l,
		aggregate: a,
		publisher: pub,
	}
}

// Run processes the given date until it either passes or the idle
// countdown expires, then recomputes the leaderboards.
func (o *Orchestrator) Run(ctx context.Context, day time.Time) error {
	runID := uuid.New().String()
	log := o.log.WithField("run_id", runID)

	view, err := discovery.NewView(log, &o.cfg.Logs, day)
	if err != nil {
		return err
	}

	sequence := o.cfg.Orchestrator.ProcessingSequence
	if len(sequence) == 0 {
		sequence = config.DefaultProcessingSequence
	}

	idle := o.cfg.Orchestrator.IdleMinutes
	if idle <= 0 {
		idle = config.DefaultIdleMinutes
	}

	countdown := idle

	log.WithField("date", day.Format("20060102")).Info("Run loop started")

	for {
		if err := view.Refresh(); err != nil {
			return err
		}

		produced := 0

		for _, pass := range sequence {
			n, err := o.runPass(ctx, view, pass, day)
			if err != nil {
				return err
			}

			produced += n

			if n > 0 {
				if err := o.rebuildAndPublish(ctx, day); err != nil {
					return err
				}
			}

			if pass == discovery.PassLocal {
				if err := o.sleep(ctx); err != nil {
					return err
				}
			}
		}

		if !sameDay(day, time.Now()) {
			log.Info("Date rolled over, stopping")

			break
		}

		if produced > 0 {
			countdown = idle
		} else {
			countdown--
		}

		if countdown <= 0 {
			log.Info("Idle window expired, stopping")

			break
		}
	}

	return o.finalize(ctx)
}

// runPass processes the view's pending files for one pass in mtime
// order, returning the number of logs that made progress.
func (o *Orchestrator) runPass(ctx context.Context, view *discovery.View, pass string, day time.Time) (int, error) {
	produced := 0

	for _, f := range view.Unprocessed(pass) {
		if err := ctx.Err(); err != nil {
			return produced, err
		}

		// A mirrored copy earlier in this pass may have flagged this
		// entry already; skip it instead of processing the fight twice.
		if f.Processed(pass) {
			continue
		}

		var (
			ok  bool
			err error
		)

		switch pass {
		case discovery.PassLocal:
			ok, err = o.processLocal(ctx, view, f, day)
		case discovery.PassUpload:
			ok, err = o.processUpload(ctx, view, f, day)
		default:
			return produced, fmt.Errorf("unknown pass %q", pass)
		}

		if err != nil {
			return produced, err
		}

		if ok {
			produced++
		}
	}

	return produced, nil
}

func (o *Orchestrator) processLocal(ctx context.Context, view *discovery.View, f *discovery.LogFile, day time.Time) (bool, error) {
	artifact, err := o.parser.Parse(ctx, f.Path)
	if err != nil {
		return false, err
	}

	if artifact == "" {
		// Rejected by the parser; never retried, never uploaded.
		view.MarkDone(f.ID)

		return false, nil
	}

	a, err := parser.LoadArtifact(artifact)
	if err != nil {
		return false, err
	}

	_, err = o.logs.FromArtifact(ctx, a, f.Path)
	if handled, herr := o.handleWriteError(view, f, day, err); handled || herr != nil {
		return false, herr
	}

	view.MarkProcessed(f.ID, discovery.PassLocal)

	return true, nil
}

func (o *Orchestrator) processUpload(ctx context.Context, view *discovery.View, f *discovery.LogFile, day time.Time) (bool, error) {
	meta, reason, err := o.report.Upload(ctx, f.Path)
	if err != nil {
		return false, err
	}

	if reason != "" {
		if err := o.moveAside(view, f, day, reason); err != nil {
			return false, err
		}

		return false, nil
	}

	if meta == nil {
		// Transient; the file stays pending for the next loop.
		return false, nil
	}

	if meta.Incomplete() {
		if err := o.report.Repair(ctx, meta); err != nil {
			return false, err
		}
	}

	_, err = o.logs.FromMetadata(ctx, meta, f.Path, func(ctx context.Context) (*parser.Artifact, error) {
		return o.report.Detailed(ctx, meta.ID)
	})
	if handled, herr := o.handleWriteError(view, f, day, err); handled || herr != nil {
		return false, herr
	}

	view.MarkProcessed(f.ID, discovery.PassUpload)

	return true, nil
}

// handleWriteError resolves the terminal write-path classifications.
// It reports true when the file was dealt with and processing should
// move on without counting progress.
func (o *Orchestrator) handleWriteError(view *discovery.View, f *discovery.LogFile, day time.Time, err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil

	case errors.Is(err, logsvc.ErrInvalidLog):
		o.log.WithField("log", f.Path).Warn("Invalid log, moving aside")

		return true, o.moveAside(view, f, day, fsutil.ReasonFailed)

	case errors.Is(err, registry.ErrEncounterMissing):
		if o.cfg.Global.Debug {
			return false, err
		}

		o.log.WithError(err).WithField("log", f.Path).Warn("Unknown encounter, skipping")
		view.MarkDone(f.ID)

		return true, nil

	default:
		return false, err
	}
}

func (o *Orchestrator) moveAside(view *discovery.View, f *discovery.LogFile, day time.Time, reason string) error {
	if _, err := fsutil.MoveToSink(f.Path, o.cfg.Logs.Dir, reason, day); err != nil {
		return err
	}

	view.MarkDone(f.ID)

	return nil
}

// rebuildAndPublish refreshes every group type's clears for the day
// and pushes the chat summaries.
func (o *Orchestrator) rebuildAndPublish(ctx context.Context, day time.Time) error {
	for _, groupType := range groupTypes {
		group, err := o.aggregate.RebuildDay(ctx, day, groupType)
		if err != nil {
			return fmt.Errorf("rebuilding %s clears: %w", groupType, err)
		}

		if group == nil {
			continue
		}

		if err := o.publisher.PublishGroup(ctx, group); err != nil {
			o.log.WithError(err).WithField("group", group.Name).Warn("Publishing summary failed")
		}
	}

	return nil
}

// finalize recomputes the leaderboards once the run loop stops.
func (o *Orchestrator) finalize(ctx context.Context) error {
	for _, groupType := range groupTypes {
		if groupType == store.GroupGolem {
			continue
		}

		if err := o.publisher.PublishLeaderboard(ctx, groupType); err != nil {
			o.log.WithError(err).WithField("type", groupType).Warn("Publishing leaderboard failed")
		}
	}

	return nil
}

func (o *Orchestrator) sleep(ctx context.Context) error {
	seconds := o.cfg.Orchestrator.LocalSleepSeconds
	if seconds <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(seconds) * time.Second):
		return nil
	}
}

func sameDay(a, b time.Time) bool {
	return a.Format("20060102") == b.Format("20060102")
}
