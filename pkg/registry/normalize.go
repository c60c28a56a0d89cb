package registry

import (
	"fmt"
	"strings"
)

// Dark Ai has no report-service boss id of its own; the convention is
// the negated Ai id.
const darkAiBossID = -23254

// eyeOfFateBossID replaces the legacy Eye of Judgement identity.
const eyeOfFateBossID = 19844

// olcBossID is the canonical Old Lion's Court id; the per-variant ids
// collapse onto it.
const olcBossID = 25414

var olcVariantIDs = map[int64]struct{}{
	25413: {},
	25423: {},
	25416: {},
}

// BossMeta is the identity view of an incoming log as reported by the
// upload service.
type BossMeta struct {
	Boss   string
	BossID int64
}

// DetailedFetcher lazily fetches the detailed fight name. It is only
// called when a rewrite requires boss disambiguation.
type DetailedFetcher func() (string, error)

// Normalize applies the known boss identity rewrites before registry
// lookup: the Ai light/dark split, the Old Lion's Court variant
// collapse, and the Eye of Judgement rename.
func Normalize(meta BossMeta, detailed DetailedFetcher) (BossMeta, error) {
	if meta.Boss == "Ai" {
		if detailed == nil {
			return meta, fmt.Errorf("ai phase split requires detailed fight name")
		}

		fightName, err := detailed()
		if err != nil {
			return meta, fmt.Errorf("fetching detailed fight name: %w", err)
		}

		meta.Boss = strings.TrimSpace(strings.Split(fightName, ",")[0])
		if meta.Boss == "Dark Ai" {
			meta.BossID = darkAiBossID
		}

		return meta, nil
	}

	if _, ok := olcVariantIDs[meta.BossID]; ok {
		meta.BossID = olcBossID

		return meta, nil
	}

	if meta.Boss == "Eye of Judgement" {
		meta.Boss = "Eye of Fate"
		meta.BossID = eyeOfFateBossID
	}

	return meta, nil
}
