// Package rank places a log, clear, or clear group within its
// historical cohort and assigns a categorical medal.
package rank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/store"
)

// Medal buckets. The chat renderer maps these to emotes.
const (
	MedalGold         = "gold"
	MedalSilver       = "silver"
	MedalBronze       = "bronze"
	MedalAboveAverage = "above_average"
	MedalAverage      = "average"
	MedalBelowAverage = "below_average"
	MedalEmboldened   = "emboldened"
)

// Medal table strategies.
const (
	StrategyOriginal   = "original"
	StrategyPercentile = "percentile"
	StrategyNewgame    = "newgame"
)

// deadBand is the tolerance around the cohort aggregate within which
// a duration still counts as average.
const deadBand = 5 * time.Second

// Subject is the ranked entity reduced to the fields ranking needs.
type Subject struct {
	DurationMS      int64
	Success         bool
	Emboldened      bool
	CorePlayerCount int
}

// Result is the computed rank.
type Result struct {
	// Position is the 0-based place in the cohort by ascending
	// duration, or -1 when the subject is not rankable.
	Position int

	Medal string

	// Percentile is set by the percentile strategies; 100 is fastest.
	Percentile int

	// Invalid marks a subject below the core player threshold. It is
	// still ranked, but rendered with the distinct invalid table.
	Invalid bool
}

// Engine computes ranks. Cohort queries come from the store; the
// pure computation is exported separately for testing.
type Engine struct {
	log   logrus.FieldLogger
	cfg   *config.Config
	store store.Store
}

// New creates a ranking engine.
func New(log logrus.FieldLogger, cfg *config.Config, s store.Store) *Engine {
	return &Engine{
		log:   log.WithField("component", "rank"),
		cfg:   cfg,
		store: s,
	}
}

// Rank places the subject within the cohort durations (milliseconds,
// any order) for the given instance group type.
func (e *Engine) Rank(subject Subject, cohort []int64, groupType string) Result {
	result := Result{
		Position: -1,
		Invalid:  subject.CorePlayerCount < e.cfg.CoreMinimum(groupType),
	}

	if subject.Emboldened {
		result.Medal = MedalEmboldened

		return result
	}

	if !subject.Success {
		result.Medal = MedalAverage

		return result
	}

	sorted := make([]int64, len(cohort))
	copy(sorted, cohort)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	result.Position = position(sorted, subject.DurationMS)

	switch result.Position {
	case 0:
		result.Medal = MedalGold

		return result
	case 1:
		result.Medal = MedalSilver

		return result
	case 2:
		result.Medal = MedalBronze

		return result
	}

	switch e.cfg.Ranking.MedalsType {
	case StrategyPercentile, StrategyNewgame:
		result.Percentile = percentile(sorted, subject.DurationMS)
		result.Medal = e.percentileBucket(result.Percentile)
	default:
		result.Medal = e.absoluteBucket(sorted, subject.DurationMS)
	}

	return result
}

// position counts cohort members strictly faster than the subject.
func position(sorted []int64, durationMS int64) int {
	pos := 0

	for _, d := range sorted {
		if d < durationMS {
			pos++
		}
	}

	return pos
}

// percentile of the subject within the cohort; 100 means nothing was
// faster.
func percentile(sorted []int64, durationMS int64) int {
	if len(sorted) == 0 {
		return 100
	}

	slowerOrEqual := 0

	for _, d := range sorted {
		if d >= durationMS {
			slowerOrEqual++
		}
	}

	return int(float64(slowerOrEqual) / float64(len(sorted)) * 100)
}

// percentileBucket maps a percentile onto the configured bin
// thresholds, naming the bucket by its upper bound.
func (e *Engine) percentileBucket(pct int) string {
	bins := e.cfg.Ranking.PercentileBins
	if len(bins) == 0 {
		bins = config.DefaultPercentileBins
	}

	for _, upper := range bins {
		if pct <= upper {
			return fmt.Sprintf("percentile_%d", upper)
		}
	}

	return fmt.Sprintf("percentile_%d", bins[len(bins)-1])
}

// absoluteBucket compares the subject against the cohort mean or
// median with a five second dead band.
func (e *Engine) absoluteBucket(sorted []int64, durationMS int64) string {
	aggregate := meanMS(sorted)
	if e.cfg.Ranking.MeanOrMedian == "median" {
		aggregate = medianMS(sorted)
	}

	diff := time.Duration(durationMS-aggregate) * time.Millisecond

	switch {
	case diff < -deadBand:
		return MedalAboveAverage
	case diff > deadBand:
		return MedalBelowAverage
	default:
		return MedalAverage
	}
}

func meanMS(sorted []int64) int64 {
	if len(sorted) == 0 {
		return 0
	}

	var sum int64
	for _, d := range sorted {
		sum += d
	}

	return sum / int64(len(sorted))
}

func medianMS(sorted []int64) int64 {
	if len(sorted) == 0 {
		return 0
	}

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}

	return (sorted[mid-1] + sorted[mid]) / 2
}

// RankLog ranks a log against its encounter's historical successes of
// the same difficulty, excluding emboldened runs.
func (e *Engine) RankLog(ctx context.Context, l *store.DpsLog) (Result, error) {
	if l.EncounterID == nil {
		return Result{Position: -1, Medal: MedalAverage}, nil
	}

	cohort, err := e.store.SuccessfulLogsForEncounter(ctx, *l.EncounterID, l.CM, l.LCM)
	if err != nil {
		return Result{}, fmt.Errorf("loading log cohort: %w", err)
	}

	durations := make([]int64, 0, len(cohort))
	for _, c := range cohort {
		durations = append(durations, c.DurationMS)
	}

	groupType := store.GroupRaid
	if l.Encounter != nil {
		groupType = l.Encounter.Instance.Group.Name
	}

	return e.Rank(Subject{
		DurationMS:      l.DurationMS,
		Success:         l.Success,
		Emboldened:      l.Emboldened,
		CorePlayerCount: l.CorePlayerCount,
	}, durations, groupType), nil
}

// RankClear ranks an instance clear against the instance's historical
// successful clears.
func (e *Engine) RankClear(ctx context.Context, c *store.InstanceClear, groupType string) (Result, error) {
	cohort, err := e.store.SuccessfulClearsForInstance(ctx, c.InstanceID)
	if err != nil {
		return Result{}, fmt.Errorf("loading clear cohort: %w", err)
	}

	durations := make([]int64, 0, len(cohort))
	for _, member := range cohort {
		durations = append(durations, member.DurationMS)
	}

	return e.Rank(Subject{
		DurationMS:      c.DurationMS,
		Success:         c.Success,
		Emboldened:      c.Emboldened,
		CorePlayerCount: c.CorePlayerCount,
	}, durations, groupType), nil
}

// RankGroup ranks a clear group against all groups sharing its
// duration fingerprint.
func (e *Engine) RankGroup(ctx context.Context, g *store.InstanceClearGroup) (Result, error) {
	cohort, err := e.store.GroupsWithFingerprint(ctx, g.DurationEncounters)
	if err != nil {
		return Result{}, fmt.Errorf("loading group cohort: %w", err)
	}

	durations := make([]int64, 0, len(cohort))

	for _, member := range cohort {
		if member.Success && member.DurationMS != nil {
			durations = append(durations, *member.DurationMS)
		}
	}

	var durationMS int64
	if g.DurationMS != nil {
		durationMS = *g.DurationMS
	}

	return e.Rank(Subject{
		DurationMS:      durationMS,
		Success:         g.Success,
		CorePlayerCount: g.CorePlayerCount,
	}, durations, g.Type), nil
}
