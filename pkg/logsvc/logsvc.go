// Package logsvc is the single write path into the log table. It
// resolves encounter identity, deduplicates by start-time window, and
// fills the derived fields.
package logsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/parser"
	"github.com/gw2clears/clearoor/pkg/registry"
	"github.com/gw2clears/clearoor/pkg/report"
	"github.com/gw2clears/clearoor/pkg/store"
)

// ErrInvalidLog marks a log whose content contradicts its own success
// flag. The caller moves the source file aside; any persisted row has
// already been deleted.
var ErrInvalidLog = errors.New("log classified invalid")

// eyeOfFateBossID is the one encounter known to emit successful logs
// with the target at full health when the fight resets.
const eyeOfFateBossID = 19844

// DetailedFunc lazily fetches the full parser-grade JSON for a
// remotely uploaded log.
type DetailedFunc func(ctx context.Context) (*parser.Artifact, error)

// Service persists logs from either source.
type Service struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	store    store.Store
	registry registry.Registry
}

// New creates the log write service.
func New(log logrus.FieldLogger, cfg *config.Config, s store.Store, reg registry.Registry) *Service {
	return &Service{
		log:      log.WithField("component", "logsvc"),
		cfg:      cfg,
		store:    s,
		registry: reg,
	}
}

// FromArtifact persists a locally parsed log. When a row already
// exists in the dedup window it is returned after attaching the local
// path.
func (s *Service) FromArtifact(ctx context.Context, a *parser.Artifact, localPath string) (*store.DpsLog, error) {
	start, err := a.StartTime()
	if err != nil {
		return nil, err
	}

	enc, err := s.registry.ByTriggerID(ctx, a.TriggerID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindDpsLogNear(ctx, start, enc.ID)
	if err != nil {
		return nil, err
	}

	if err := s.checkInvalid(ctx, enc, a.Success, a.FinalHealthPercent(), existing); err != nil {
		return nil, err
	}

	if existing != nil {
		if existing.LocalPath == "" {
			existing.LocalPath = localPath
			if err := s.store.SaveDpsLog(ctx, existing); err != nil {
				return nil, err
			}
		}

		return existing, nil
	}

	accounts := a.Accounts()

	core, friend, err := s.roleCounts(ctx, accounts)
	if err != nil {
		return nil, err
	}

	row := &store.DpsLog{
		StartTime:          start,
		DurationMS:         a.DurationMS,
		LocalPath:          localPath,
		PlayerCount:        len(accounts),
		CorePlayerCount:    core,
		FriendPlayerCount:  friend,
		Success:            a.Success,
		CM:                 a.IsCM,
		LCM:                a.IsLegendaryCM,
		Emboldened:         s.emboldened(enc, a, start),
		FinalHealthPercent: finalHealth(a.Success, a.FinalHealthPercent()),
		PhaseTimeStr:       s.phaseTime(enc, a),
		UseInLeaderboard:   enc.UseInLeaderboard(a.IsCM, a.IsLegendaryCM),
		EncounterID:        &enc.ID,
	}
	row.SetPlayerAccounts(accounts)

	if err := s.store.CreateDpsLog(ctx, row); err != nil {
		return nil, fmt.Errorf("persisting log: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"encounter": enc.Name,
		"start":     start.Format(time.RFC3339),
		"success":   row.Success,
	}).Info("Persisted log from local parse")

	return row, nil
}

// FromMetadata persists an uploaded log. The detailed fetcher is only
// invoked when a derived field needs the full JSON; on a dedup hit
// the permalink is attached to the existing row without touching its
// identity.
func (s *Service) FromMetadata(ctx context.Context, meta *report.Metadata, localPath string, detailed DetailedFunc) (*store.DpsLog, error) {
	var cached *parser.Artifact

	fetch := func() (*parser.Artifact, error) {
		if cached != nil {
			return cached, nil
		}

		a, err := detailed(ctx)
		if err != nil {
			return nil, err
		}

		cached = a

		return cached, nil
	}

	enc, err := s.registry.ByBossMeta(ctx,
		registry.BossMeta{Boss: meta.Encounter.Boss, BossID: meta.Encounter.BossID},
		func() (string, error) {
			d, err := fetch()
			if err != nil {
				return "", err
			}

			return d.FightName, nil
		})
	if err != nil {
		return nil, err
	}

	start := time.Unix(meta.EncounterTime, 0)

	existing, err := s.store.FindDpsLogNear(ctx, start, enc.ID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if existing.URL == "" || existing.ReportID == "" {
			existing.URL = meta.Permalink
			existing.ReportID = meta.ID
			if err := s.store.SaveDpsLog(ctx, existing); err != nil {
				return nil, err
			}
		}

		return existing, nil
	}

	success := meta.Encounter.Success

	rawHealth := 0.0
	lcm := false

	if !success || enc.BossID == eyeOfFateBossID {
		d, err := fetch()
		if err != nil {
			return nil, fmt.Errorf("fetching detailed info: %w", err)
		}

		rawHealth = d.FinalHealthPercent()
		lcm = d.IsLegendaryCM
	}

	if err := s.checkInvalid(ctx, enc, success, rawHealth, nil); err != nil {
		return nil, err
	}

	accounts := meta.Accounts()

	core, friend, err := s.roleCounts(ctx, accounts)
	if err != nil {
		return nil, err
	}

	emboldened := false
	if s.emboldenedCandidate(enc, meta.Encounter.IsCM, start) {
		d, err := fetch()
		if err != nil {
			return nil, fmt.Errorf("fetching detailed info: %w", err)
		}

		emboldened = d.HasBuff(EmboldenedBuffID)
	}

	phaseStr := ""
	if _, ok := s.cfg.PhaseTimes[enc.Name]; ok {
		d, err := fetch()
		if err != nil {
			return nil, fmt.Errorf("fetching detailed info: %w", err)
		}

		phaseStr = s.phaseTime(enc, d)
	}

	blob, _ := json.Marshal(meta)

	row := &store.DpsLog{
		StartTime:          start,
		DurationMS:         int64(meta.Encounter.Duration * 1000),
		URL:                meta.Permalink,
		ReportID:           meta.ID,
		LocalPath:          localPath,
		PlayerCount:        len(accounts),
		CorePlayerCount:    core,
		FriendPlayerCount:  friend,
		Success:            success,
		CM:                 meta.Encounter.IsCM,
		LCM:                lcm,
		Emboldened:         emboldened,
		FinalHealthPercent: finalHealth(success, rawHealth),
		PhaseTimeStr:       phaseStr,
		Metadata:           string(blob),
		UseInLeaderboard:   enc.UseInLeaderboard(meta.Encounter.IsCM, lcm),
		EncounterID:        &enc.ID,
	}
	row.SetPlayerAccounts(accounts)

	if err := s.store.CreateDpsLog(ctx, row); err != nil {
		return nil, fmt.Errorf("persisting log: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"encounter": enc.Name,
		"permalink": meta.Permalink,
		"success":   row.Success,
	}).Info("Persisted log from upload")

	return row, nil
}

// checkInvalid classifies a successful fight that left its target at
// full health. Any already persisted row is deleted before the error
// is surfaced.
func (s *Service) checkInvalid(ctx context.Context, enc *store.Encounter, success bool, rawHealth float64, existing *store.DpsLog) error {
	if enc.BossID != eyeOfFateBossID || !success || rawHealth < 99.999 {
		return nil
	}

	if existing != nil {
		if err := s.store.DeleteDpsLog(ctx, existing.ID); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %s success with target at full health", ErrInvalidLog, enc.Name)
}

func (s *Service) emboldened(enc *store.Encounter, a *parser.Artifact, start time.Time) bool {
	if !s.emboldenedCandidate(enc, a.IsCM, start) {
		return false
	}

	return a.HasBuff(EmboldenedBuffID)
}

// emboldenedCandidate reports whether the rotation even applies: a
// normal-mode fight in the raid wing carrying the buff this week.
func (s *Service) emboldenedCandidate(enc *store.Encounter, cm bool, start time.Time) bool {
	if cm || enc.Instance.Group.Name != store.GroupRaid {
		return false
	}

	return enc.Instance.Nr == EmboldenedWingNr(start, &s.cfg.Emboldened)
}

func (s *Service) phaseTime(enc *store.Encounter, a *parser.Artifact) string {
	pt, ok := s.cfg.PhaseTimes[enc.Name]
	if !ok {
		return ""
	}

	return PhaseTimeString(a.Phases, pt.Marker, pt.Count, enc.EnrageSeconds)
}

func (s *Service) roleCounts(ctx context.Context, accounts []string) (int, int, error) {
	core, err := s.members(ctx, store.RoleCore, accounts)
	if err != nil {
		return 0, 0, err
	}

	friend, err := s.members(ctx, store.RoleFriend, accounts)
	if err != nil {
		return 0, 0, err
	}

	return core, friend, nil
}

func (s *Service) members(ctx context.Context, role string, accounts []string) (int, error) {
	players, err := s.store.PlayersByRole(ctx, role)
	if err != nil {
		return 0, fmt.Errorf("loading %s roster: %w", role, err)
	}

	roster := make(map[string]struct{}, len(players))
	for _, p := range players {
		roster[p.Account] = struct{}{}
	}

	count := 0

	for _, account := range accounts {
		if _, ok := roster[account]; ok {
			count++
		}
	}

	return count, nil
}

// finalHealth is 0 for successes and the rounded remaining health
// otherwise.
func finalHealth(success bool, raw float64) float64 {
	if success {
		return 0
	}

	return roundHealth(raw)
}
