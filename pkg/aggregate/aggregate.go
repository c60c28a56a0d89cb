// Package aggregate rolls individual fight logs up into per-instance
// clears and day-level clear groups, and evaluates weekly and daily
// completion.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gw2clears/clearoor/pkg/store"
)

// ErrMixedInstances means a clear row was asked to adopt logs from a
// different instance than it was created for. That only happens when
// reference data changed underneath existing rows.
var ErrMixedInstances = errors.New("clear holds logs of mixed instances")

// Weekly reset for raids and strikes, local time.
const (
	resetWeekday = time.Monday
	resetHour    = 8
	resetMinute  = 30
)

// Aggregator owns the clear and clear-group rollups.
type Aggregator struct {
	log   logrus.FieldLogger
	store store.Store
}

// New creates an aggregator.
func New(log logrus.FieldLogger, s store.Store) *Aggregator {
	return &Aggregator{
		log:   log.WithField("component", "aggregate"),
		store: s,
	}
}

// Fingerprint canonicalizes the encounters counting toward clear
// group duration as sorted <instance-nr>_<encounter-nr> pairs.
func Fingerprint(encounters []store.Encounter) string {
	keys := make([]string, 0, len(encounters))

	for _, enc := range encounters {
		keys = append(keys, durationKey(enc.Instance.Nr, enc.Nr))
	}

	sort.Strings(keys)

	return strings.Join(keys, "__")
}

func durationKey(instanceNr, encounterNr int) string {
	return strconv.Itoa(instanceNr) + "_" + strconv.Itoa(encounterNr)
}

// RebuildDay recomputes every InstanceClear of the day for one group
// type, assigns them to the day's InstanceClearGroup, and re-runs the
// completion evaluation. Returns nil when the day has no logs.
func (a *Aggregator) RebuildDay(ctx context.Context, day time.Time, groupType string) (*store.InstanceClearGroup, error) {
	logs, err := a.store.LogsForDay(ctx, day, groupType)
	if err != nil {
		return nil, fmt.Errorf("loading day logs: %w", err)
	}

	if len(logs) == 0 {
		return nil, nil
	}

	durationEncs, err := a.store.DurationEncounters(ctx, groupType)
	if err != nil {
		return nil, fmt.Errorf("loading duration encounters: %w", err)
	}

	group, err := a.store.GetOrCreateClearGroup(ctx,
		store.GroupName(groupType, day), groupType,
		Fingerprint(durationEncs), logs[0].StartTime)
	if err != nil {
		return nil, fmt.Errorf("upserting clear group: %w", err)
	}

	byInstance := partitionByInstance(logs)

	clears := make([]*store.InstanceClear, 0, len(byInstance))

	for _, members := range byInstance {
		clear, err := a.rebuildClear(ctx, day, group, members)
		if err != nil {
			return nil, err
		}

		clears = append(clears, clear)
	}

	a.applyGroupRollup(group, clears)

	if err := a.Evaluate(ctx, group); err != nil {
		return nil, err
	}

	return group, nil
}

func partitionByInstance(logs []store.DpsLog) map[uint][]store.DpsLog {
	byInstance := make(map[uint][]store.DpsLog)

	for _, l := range logs {
		if l.Encounter == nil {
			continue
		}

		id := l.Encounter.InstanceID
		byInstance[id] = append(byInstance[id], l)
	}

	return byInstance
}

// rebuildClear upserts the InstanceClear for one instance partition
// and recomputes its derived state from the member logs.
func (a *Aggregator) rebuildClear(ctx context.Context, day time.Time, group *store.InstanceClearGroup, members []store.DpsLog) (*store.InstanceClear, error) {
	instance := members[0].Encounter.Instance

	// Success is judged against the instance's full boss roster, not
	// the leaderboard-filtered duration set.
	roster, err := a.store.EncountersForInstance(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("loading instance roster: %w", err)
	}

	clear, err := a.store.GetOrCreateInstanceClear(ctx,
		store.ClearName(&instance, day), instance.ID)
	if err != nil {
		return nil, fmt.Errorf("upserting clear: %w", err)
	}

	if clear.InstanceID != instance.ID {
		return nil, fmt.Errorf("%w: clear %s", ErrMixedInstances, clear.Name)
	}

	// Adopt orphans of this instance and day into the clear.
	for i := range members {
		l := &members[i]
		if l.InstanceClearID == nil || *l.InstanceClearID != clear.ID {
			l.InstanceClearID = &clear.ID
			if err := a.store.SaveDpsLog(ctx, l); err != nil {
				return nil, fmt.Errorf("adopting log: %w", err)
			}
		}
	}

	first := members[0].StartTime
	last := members[0].EndTime()
	succeeded := make(map[int]bool)

	var cores, friends []int

	emboldened := false

	for _, l := range members {
		if l.StartTime.Before(first) {
			first = l.StartTime
		}

		if l.EndTime().After(last) {
			last = l.EndTime()
		}

		if l.Success {
			succeeded[l.Encounter.Nr] = true

			if l.Emboldened {
				emboldened = true
			}
		}

		cores = append(cores, l.CorePlayerCount)
		friends = append(friends, l.FriendPlayerCount)
	}

	clear.StartTime = first
	clear.DurationMS = last.Sub(first).Milliseconds()
	clear.Success = allSlotsSucceeded(succeeded, maxEncounterNr(roster))
	clear.Emboldened = emboldened
	clear.CorePlayerCount = median(cores)
	clear.FriendPlayerCount = median(friends)
	clear.InstanceClearGroupID = &group.ID

	if err := a.store.SaveInstanceClear(ctx, clear); err != nil {
		return nil, fmt.Errorf("saving clear: %w", err)
	}

	return clear, nil
}

// allSlotsSucceeded checks that every boss slot from 1 to maxNr has a
// successful log. Extra wipes never invalidate a clear.
func allSlotsSucceeded(succeeded map[int]bool, maxNr int) bool {
	if maxNr == 0 {
		return false
	}

	for nr := 1; nr <= maxNr; nr++ {
		if !succeeded[nr] {
			return false
		}
	}

	return true
}

func maxEncounterNr(encounters []store.Encounter) int {
	maxNr := 0

	for _, enc := range encounters {
		if enc.Nr > maxNr {
			maxNr = enc.Nr
		}
	}

	return maxNr
}

func (a *Aggregator) applyGroupRollup(group *store.InstanceClearGroup, clears []*store.InstanceClear) {
	if len(clears) == 0 {
		return
	}

	start := clears[0].StartTime

	var cores, friends []int

	for _, c := range clears {
		if c.StartTime.Before(start) {
			start = c.StartTime
		}

		cores = append(cores, c.CorePlayerCount)
		friends = append(friends, c.FriendPlayerCount)
	}

	group.StartTime = start
	group.CorePlayerCount = median(cores)
	group.FriendPlayerCount = median(friends)
}

// median of ints; even-sized inputs average the two middle values.
func median(values []int) int {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}

	return (sorted[mid-1] + sorted[mid]) / 2
}
