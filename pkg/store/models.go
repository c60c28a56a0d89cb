package store

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// Instance group types.
const (
	GroupRaid    = "raid"
	GroupStrike  = "strike"
	GroupFractal = "fractal"
	GroupGolem   = "golem"
)

// Player roles.
const (
	RoleCore   = "core"
	RoleFriend = "friend"
	RoleOther  = "other"
)

// InstanceGroup is a top-level encounter category (raid wings, strike
// sets, fractal scales, golems).
type InstanceGroup struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"uniqueIndex;not null" json:"name"`
	MinCoreCount int    `json:"min_core_count"`
}

// Instance is a container of encounters: a raid wing, a fractal scale
// or a strike set.
type Instance struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	Name            string        `gorm:"uniqueIndex;not null" json:"name"`
	Nr              int           `json:"nr"`
	Emoji           string        `json:"emoji"`
	InstanceGroupID uint          `gorm:"not null" json:"instance_group_id"`
	Group           InstanceGroup `gorm:"foreignKey:InstanceGroupID" json:"group"`
}

// Slug returns the URL-safe identifier used in clear names.
func (i *Instance) Slug() string {
	return slug.Make(i.Name)
}

// Encounter is a single boss fight definition.
type Encounter struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"uniqueIndex;not null" json:"name"`
	ShortName string `json:"short_name"`

	// BossID is the report-service boss id; TriggerID the parser
	// encounter id.
	BossID    int64 `gorm:"index" json:"boss_id"`
	TriggerID int64 `gorm:"index" json:"trigger_id"`

	// Folders holds the allowed source-folder names, semicolon-separated.
	Folders string `json:"folders"`

	HasCM  bool `json:"has_cm"`
	HasLCM bool `json:"has_lcm"`

	LeaderboardNM  bool `json:"leaderboard_nm"`
	LeaderboardCM  bool `json:"leaderboard_cm"`
	LeaderboardLCM bool `json:"leaderboard_lcm"`

	// UseForDuration marks encounters counted toward clear-group
	// duration fingerprints.
	UseForDuration bool `json:"use_for_duration"`

	EnrageSeconds int    `json:"enrage_seconds"`
	Nr            int    `json:"nr"`
	Emoji         string `json:"emoji"`

	InstanceID uint     `gorm:"not null" json:"instance_id"`
	Instance   Instance `gorm:"foreignKey:InstanceID" json:"instance"`
}

// FolderNames returns the allowed source-folder names.
func (e *Encounter) FolderNames() []string {
	if e.Folders == "" {
		return nil
	}

	return strings.Split(e.Folders, ";")
}

// UseInLeaderboard reports whether a log of the given flavor is
// leaderboard-eligible for this encounter.
func (e *Encounter) UseInLeaderboard(cm, lcm bool) bool {
	switch {
	case lcm:
		return e.LeaderboardLCM
	case cm:
		return e.LeaderboardCM
	default:
		return e.LeaderboardNM
	}
}

// LeaderboardFlavor returns the cm/lcm flags of the encounter's
// primary leaderboard cohort: normal mode when ranked, otherwise the
// challenge mote, otherwise the legendary variant.
func (e *Encounter) LeaderboardFlavor() (cm, lcm bool) {
	switch {
	case e.LeaderboardNM:
		return false, false
	case e.LeaderboardCM:
		return true, false
	case e.LeaderboardLCM:
		return true, true
	default:
		return false, false
	}
}

// Player is a roster member with a role.
type Player struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Account string `gorm:"uniqueIndex;not null" json:"account"`
	Role    string `gorm:"not null" json:"role"`
}

// DpsLog is one recorded attempt at an encounter.
type DpsLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	StartTime  time.Time `gorm:"index;not null" json:"start_time"`
	DurationMS int64     `json:"duration_ms"`

	URL       string `json:"url"`
	ReportID  string `json:"report_id"`
	LocalPath string `json:"local_path"`

	PlayerCount       int    `json:"player_count"`
	Players           string `json:"players"`
	CorePlayerCount   int    `json:"core_player_count"`
	FriendPlayerCount int    `json:"friend_player_count"`

	Success    bool `json:"success"`
	CM         bool `json:"cm"`
	LCM        bool `json:"lcm"`
	Emboldened bool `json:"emboldened"`

	FinalHealthPercent float64 `json:"final_health_percent"`
	PhaseTimeStr       string  `json:"phase_time_str"`

	Metadata string `gorm:"type:text" json:"-"`

	UseInLeaderboard bool `json:"use_in_leaderboard"`

	EncounterID     *uint      `gorm:"index" json:"encounter_id"`
	Encounter       *Encounter `gorm:"foreignKey:EncounterID" json:"encounter,omitempty"`
	InstanceClearID *uint      `gorm:"index" json:"instance_clear_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the fight duration.
func (l *DpsLog) Duration() time.Duration {
	return time.Duration(l.DurationMS) * time.Millisecond
}

// EndTime returns start plus duration.
func (l *DpsLog) EndTime() time.Time {
	return l.StartTime.Add(l.Duration())
}

// PlayerAccounts returns the gw2 account identifiers on the log.
func (l *DpsLog) PlayerAccounts() []string {
	if l.Players == "" {
		return nil
	}

	return strings.Split(l.Players, ",")
}

// SetPlayerAccounts stores the account list and the player count.
func (l *DpsLog) SetPlayerAccounts(accounts []string) {
	l.Players = strings.Join(accounts, ",")
	l.PlayerCount = len(accounts)
}

// InstanceClear is the set of logs of a single instance on a single
// day.
type InstanceClear struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`

	StartTime  time.Time `json:"start_time"`
	DurationMS int64     `json:"duration_ms"`

	Success    bool `json:"success"`
	Emboldened bool `json:"emboldened"`

	CorePlayerCount   int `json:"core_player_count"`
	FriendPlayerCount int `json:"friend_player_count"`

	InstanceID           uint     `gorm:"not null" json:"instance_id"`
	Instance             Instance `gorm:"foreignKey:InstanceID" json:"instance"`
	InstanceClearGroupID *uint    `gorm:"index" json:"instance_clear_group_id"`

	DpsLogs []DpsLog `gorm:"foreignKey:InstanceClearID" json:"dps_logs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the clear span.
func (c *InstanceClear) Duration() time.Duration {
	return time.Duration(c.DurationMS) * time.Millisecond
}

// InstanceClearGroup is the day-level grouping of clears for one
// instance group type.
type InstanceClearGroup struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
	Type string `gorm:"index;not null" json:"type"`

	StartTime  time.Time `json:"start_time"`
	DurationMS *int64    `json:"duration_ms"`

	Success bool `json:"success"`

	CorePlayerCount   int `json:"core_player_count"`
	FriendPlayerCount int `json:"friend_player_count"`

	// DurationEncounters is the fingerprint of <instance-nr>_<encounter-nr>
	// pairs counting toward duration, frozen at creation time.
	DurationEncounters string `gorm:"index" json:"duration_encounters"`

	Clears []InstanceClear `gorm:"foreignKey:InstanceClearGroupID" json:"clears,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the total group duration, or zero when unset.
func (g *InstanceClearGroup) Duration() time.Duration {
	if g.DurationMS == nil {
		return 0
	}

	return time.Duration(*g.DurationMS) * time.Millisecond
}

// DiscordMessage is an opaque external chat message handle.
type DiscordMessage struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"uniqueIndex;not null" json:"name"`
	ExternalID string `json:"external_id"`
	OwnerKind  string `json:"owner_kind"`
	OwnerName  string `gorm:"index" json:"owner_name"`

	UpdateCount int `json:"update_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClearName builds the unique InstanceClear name for a day.
func ClearName(inst *Instance, day time.Time) string {
	return inst.Slug() + "__" + day.Format("20060102")
}

// GroupName builds the unique InstanceClearGroup name for a day.
func GroupName(groupType string, day time.Time) string {
	return groupType + "s__" + day.Format("20060102")
}
