package logsvc

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gw2clears/clearoor/pkg/config"
	"github.com/gw2clears/clearoor/pkg/parser"
)

// EmboldenedBuffID is the instance buff applied by the emboldened
// mode scaling.
const EmboldenedBuffID = 68087

// EmboldenedWingNr returns the raid wing carrying emboldened mode in
// the week of t. The rotation advances one wing per ISO week from the
// configured base week.
func EmboldenedWingNr(t time.Time, cfg *config.EmboldenedConfig) int {
	base := isoWeekMonday(cfg.BaseYear, cfg.BaseWeek)

	year, week := t.ISOWeek()
	current := isoWeekMonday(year, week)

	weeks := int(current.Sub(base).Hours() / (24 * 7))
	if weeks < 0 {
		return 0
	}

	return weeks%cfg.Wings + 1
}

// isoWeekMonday returns the Monday of the given ISO week. January 4th
// always falls in week 1.
func isoWeekMonday(year, week int) time.Time {
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)

	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}

	monday := jan4.AddDate(0, 0, 1-weekday)

	return monday.AddDate(0, 0, (week-1)*7)
}

// PhaseTimeString renders the remaining enrage time at the end of
// each matching phase as mm:ss, padded with a placeholder up to the
// configured count.
func PhaseTimeString(phases []parser.ArtifactPhase, marker string, count, enrageSeconds int) string {
	var entries []string

	enrageMS := int64(enrageSeconds) * 1000

	for _, phase := range phases {
		if !strings.Contains(phase.Name, marker) {
			continue
		}

		remaining := enrageMS - phase.End
		if remaining < 0 {
			remaining = 0
		}

		total := remaining / 1000
		entries = append(entries, fmt.Sprintf("%02d:%02d", total/60, total%60))
	}

	for len(entries) < count {
		entries = append(entries, " -- ")
	}

	return strings.Join(entries, ",")
}

// roundHealth rounds a health percentage to two decimals.
func roundHealth(v float64) float64 {
	return math.Round(v*100) / 100
}
