package parser

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// timeStartLayout is the fight start timestamp format used by the CLI.
const timeStartLayout = "2006-01-02 15:04:05 -07:00"

// Artifact is the typed view over a parsed fight JSON. Only the
// fields the pipeline consumes are mapped.
type Artifact struct {
	FightName     string `json:"fightName"`
	TriggerID     int64  `json:"triggerID"`
	EIEncounterID int64  `json:"eiEncounterID"`
	TimeStartStd  string `json:"timeStartStd"`
	DurationMS    int64  `json:"durationMS"`
	Success       bool   `json:"success"`
	IsCM          bool   `json:"isCM"`
	IsLegendaryCM bool   `json:"isLegendaryCM"`

	Players []ArtifactPlayer `json:"players"`
	Targets []ArtifactTarget `json:"targets"`
	Phases  []ArtifactPhase  `json:"phases"`

	PresentInstanceBuffs []ArtifactBuff `json:"presentInstanceBuffs"`
}

// ArtifactPlayer carries the account identity of one participant.
type ArtifactPlayer struct {
	Account string `json:"account"`
	Name    string `json:"name"`
}

// ArtifactTarget carries the health outcome of one fight target.
type ArtifactTarget struct {
	Name                string  `json:"name"`
	HealthPercentBurned float64 `json:"healthPercentBurned"`
}

// ArtifactPhase is a named fight phase with its end offset in ms.
type ArtifactPhase struct {
	Name  string `json:"name"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// ArtifactBuff is an instance-wide buff present during the fight.
type ArtifactBuff struct {
	ID int64 `json:"id"`
}

// LoadArtifact reads a gzipped fight JSON from disk.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing artifact: %w", err)
	}
	defer gz.Close()

	var a Artifact
	if err := json.NewDecoder(gz).Decode(&a); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}

	return &a, nil
}

// StartTime parses the fight start timestamp.
func (a *Artifact) StartTime() (time.Time, error) {
	t, err := time.Parse(timeStartLayout, a.TimeStartStd)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing fight start time %q: %w", a.TimeStartStd, err)
	}

	return t, nil
}

// Accounts returns the participating account names in fight order.
func (a *Artifact) Accounts() []string {
	accounts := make([]string, 0, len(a.Players))

	for _, p := range a.Players {
		if p.Account != "" {
			accounts = append(accounts, p.Account)
		}
	}

	return accounts
}

// HasBuff reports whether the given instance buff was present.
func (a *Artifact) HasBuff(id int64) bool {
	for _, b := range a.PresentInstanceBuffs {
		if b.ID == id {
			return true
		}
	}

	return false
}

// FinalHealthPercent is the remaining health of the primary target.
func (a *Artifact) FinalHealthPercent() float64 {
	if len(a.Targets) == 0 {
		return 0
	}

	return 100 - a.Targets[0].HealthPercentBurned
}
