// Package registry resolves incoming log identity to encounters,
// applying the known boss rewrites before lookup.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/gw2clears/clearoor/pkg/store"
)

// ErrEncounterMissing is returned when no encounter matches the
// normalized identity. Callers decide whether to raise or to warn and
// skip, depending on debug mode.
var ErrEncounterMissing = errors.New("encounter not found")

// Registry maps parser trigger ids and report-service boss ids to
// encounters.
type Registry interface {
	// ByTriggerID resolves a parser encounter id.
	ByTriggerID(ctx context.Context, triggerID int64) (*store.Encounter, error)

	// ByBossMeta normalizes report-service boss identity and resolves
	// it. The detailed fetcher is only invoked when a rewrite needs
	// the full fight name.
	ByBossMeta(ctx context.Context, meta BossMeta, detailed DetailedFetcher) (*store.Encounter, error)
}

// Compile-time interface check.
var _ Registry = (*registry)(nil)

type registry struct {
	log   logrus.FieldLogger
	store store.Store
}

// New creates an encounter registry backed by the store.
func New(log logrus.FieldLogger, s store.Store) Registry {
	return &registry{
		log:   log.WithField("component", "registry"),
		store: s,
	}
}

func (r *registry) ByTriggerID(
	ctx context.Context, triggerID int64,
) (*store.Encounter, error) {
	enc, err := r.store.EncounterByTriggerID(ctx, triggerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: trigger id %d", ErrEncounterMissing, triggerID)
	}

	if err != nil {
		return nil, err
	}

	return enc, nil
}

func (r *registry) ByBossMeta(
	ctx context.Context, meta BossMeta, detailed DetailedFetcher,
) (*store.Encounter, error) {
	normalized, err := Normalize(meta, detailed)
	if err != nil {
		return nil, fmt.Errorf("normalizing boss identity: %w", err)
	}

	enc, err := r.store.EncounterByBossID(ctx, normalized.BossID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: boss %q (id %d)",
			ErrEncounterMissing, normalized.Boss, normalized.BossID)
	}

	if err != nil {
		return nil, err
	}

	return enc, nil
}
