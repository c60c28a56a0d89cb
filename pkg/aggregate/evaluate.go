package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gw2clears/clearoor/pkg/store"
)

// WeekStart returns the most recent weekly reset at or before t:
// Monday 08:30 local time.
func WeekStart(t time.Time) time.Time {
	daysBack := (int(t.Weekday()) - int(resetWeekday) + 7) % 7

	reset := time.Date(t.Year(), t.Month(), t.Day(), resetHour, resetMinute, 0, 0, t.Location()).
		AddDate(0, 0, -daysBack)

	if t.Before(reset) {
		reset = reset.AddDate(0, 0, -7)
	}

	return reset
}

// Evaluate recomputes a clear group's success and duration. Raids and
// strikes complete over the in-game week; fractals complete within
// the day. The group is saved either way.
func (a *Aggregator) Evaluate(ctx context.Context, group *store.InstanceClearGroup) error {
	var err error

	switch group.Type {
	case store.GroupRaid, store.GroupStrike:
		err = a.evaluateWeekly(ctx, group)
	case store.GroupFractal:
		err = a.evaluateDaily(ctx, group)
	default:
		// Golem sessions have no completion semantics.
		return a.store.SaveClearGroup(ctx, group)
	}

	if err != nil {
		return err
	}

	return a.store.SaveClearGroup(ctx, group)
}

// evaluateWeekly checks the week's qualifying successes against the
// group's frozen fingerprint.
func (a *Aggregator) evaluateWeekly(ctx context.Context, group *store.InstanceClearGroup) error {
	weekStart := WeekStart(group.StartTime)
	_, dayEnd := store.DayBounds(group.StartTime)

	logs, err := a.store.LogsInRange(ctx, group.Type, weekStart, dayEnd)
	if err != nil {
		return fmt.Errorf("loading week logs: %w", err)
	}

	qualifying := dedupEarliestSuccess(logs)

	if !fingerprintSatisfied(group.DurationEncounters, qualifying) {
		markIncomplete(group)

		return nil
	}

	group.Success = true

	duration := weeklyDuration(qualifying)
	group.DurationMS = &duration

	return nil
}

// dedupEarliestSuccess keeps the earliest qualifying success per
// encounter, in start-time order.
func dedupEarliestSuccess(logs []store.DpsLog) []store.DpsLog {
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].StartTime.Before(logs[j].StartTime)
	})

	seen := make(map[uint]bool)

	var kept []store.DpsLog

	for _, l := range logs {
		if !l.Success || !l.UseInLeaderboard || l.Encounter == nil || !l.Encounter.UseForDuration {
			continue
		}

		if seen[*l.EncounterID] {
			continue
		}

		seen[*l.EncounterID] = true
		kept = append(kept, l)
	}

	return kept
}

// fingerprintSatisfied compares the succeeded slot keys against the
// frozen fingerprint as sets.
func fingerprintSatisfied(fingerprint string, logs []store.DpsLog) bool {
	if fingerprint == "" {
		return false
	}

	want := make(map[string]bool)
	for _, key := range strings.Split(fingerprint, "__") {
		want[key] = true
	}

	got := make(map[string]bool)
	for _, l := range logs {
		got[durationKey(l.Encounter.Instance.Nr, l.Encounter.Nr)] = true
	}

	if len(got) != len(want) {
		return false
	}

	for key := range want {
		if !got[key] {
			return false
		}
	}

	return true
}

// weeklyDuration sums the active span per calendar day. A day with a
// single qualifying log contributes that fight's duration instead of
// a zero span.
func weeklyDuration(logs []store.DpsLog) int64 {
	byDay := make(map[string][]store.DpsLog)

	for _, l := range logs {
		key := l.StartTime.Format("20060102")
		byDay[key] = append(byDay[key], l)
	}

	var total int64

	for _, day := range byDay {
		if len(day) == 1 {
			total += day[0].DurationMS

			continue
		}

		first := day[0].StartTime
		last := day[0].EndTime()

		for _, l := range day[1:] {
			if l.StartTime.Before(first) {
				first = l.StartTime
			}

			if l.EndTime().After(last) {
				last = l.EndTime()
			}
		}

		total += last.Sub(first).Milliseconds()
	}

	return total
}

// evaluateDaily completes a fractal group when every fractal instance
// has a successful clear; the duration is the sum of member clears.
func (a *Aggregator) evaluateDaily(ctx context.Context, group *store.InstanceClearGroup) error {
	clears, err := a.store.ClearsForGroup(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("loading member clears: %w", err)
	}

	instances, err := a.store.InstancesForGroup(ctx, group.Type)
	if err != nil {
		return fmt.Errorf("loading instances: %w", err)
	}

	successful := 0

	var total int64

	for _, c := range clears {
		if c.Success {
			successful++
			total += c.DurationMS
		}
	}

	if successful != len(instances) || len(instances) == 0 {
		markIncomplete(group)

		return nil
	}

	group.Success = true
	group.DurationMS = &total

	return nil
}

func markIncomplete(group *store.InstanceClearGroup) {
	group.Success = false
	group.DurationMS = nil
	group.CorePlayerCount = 0
	group.FriendPlayerCount = 0
}
