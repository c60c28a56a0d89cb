package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gw2clears/clearoor/pkg/config"
)

// DedupWindow is the tolerance applied when matching an incoming log
// against existing rows by start time.
const DedupWindow = 5 * time.Second

// ErrDuplicateLogs is returned when more than one existing DpsLog
// matches the dedup window for the same encounter. This is an operator
// error; rows are never merged silently.
var ErrDuplicateLogs = errors.New("multiple dps logs match the dedup window")

// Store provides persistence for all clearoor entities.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Reference data.
	SeedEncounters(ctx context.Context) error
	SeedPlayers(ctx context.Context, players []config.PlayerSeed) error
	EncounterByTriggerID(ctx context.Context, id int64) (*Encounter, error)
	EncounterByBossID(ctx context.Context, id int64) (*Encounter, error)
	PlayersByRole(ctx context.Context, role string) ([]Player, error)
	InstancesForGroup(ctx context.Context, groupType string) ([]Instance, error)
	DurationEncounters(ctx context.Context, groupType string) ([]Encounter, error)
	EncountersForInstance(ctx context.Context, instanceID uint) ([]Encounter, error)

	// DpsLog write path. FindDpsLogNear is the only pre-insert lookup.
	FindDpsLogNear(ctx context.Context, start time.Time, encounterID uint) (*DpsLog, error)
	CreateDpsLog(ctx context.Context, l *DpsLog) error
	SaveDpsLog(ctx context.Context, l *DpsLog) error
	DeleteDpsLog(ctx context.Context, id uint) error
	DpsLogByID(ctx context.Context, id uint) (*DpsLog, error)
	LogsForDay(ctx context.Context, day time.Time, groupType string) ([]DpsLog, error)
	LogsInRange(ctx context.Context, groupType string, from, to time.Time) ([]DpsLog, error)

	// Clears and clear groups.
	GetOrCreateInstanceClear(ctx context.Context, name string, instanceID uint) (*InstanceClear, error)
	SaveInstanceClear(ctx context.Context, c *InstanceClear) error
	ClearByName(ctx context.Context, name string) (*InstanceClear, error)
	ClearsForGroup(ctx context.Context, groupID uint) ([]InstanceClear, error)
	GetOrCreateClearGroup(ctx context.Context, name, groupType, fingerprint string, start time.Time) (*InstanceClearGroup, error)
	SaveClearGroup(ctx context.Context, g *InstanceClearGroup) error
	GroupByName(ctx context.Context, name string) (*InstanceClearGroup, error)
	GroupsInRange(ctx context.Context, groupType string, from, to time.Time) ([]InstanceClearGroup, error)

	// Ranking cohorts.
	SuccessfulLogsForEncounter(ctx context.Context, encounterID uint, cm, lcm bool) ([]DpsLog, error)
	SuccessfulClearsForInstance(ctx context.Context, instanceID uint) ([]InstanceClear, error)
	GroupsWithFingerprint(ctx context.Context, fingerprint string) ([]InstanceClearGroup, error)

	// Chat message bookkeeping.
	GetOrCreateMessage(ctx context.Context, name, ownerKind, ownerName string) (*DiscordMessage, error)
	SaveMessage(ctx context.Context, m *DiscordMessage) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&InstanceGroup{},
		&Instance{},
		&Encounter{},
		&Player{},
		&DpsLog{},
		&InstanceClear{},
		&InstanceClearGroup{},
		&DiscordMessage{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Reference data ---

func (s *store) EncounterByTriggerID(
	ctx context.Context, id int64,
) (*Encounter, error) {
	var enc Encounter
	if err := s.db.WithContext(ctx).
		Preload("Instance").
		Preload("Instance.Group").
		Where("trigger_id = ?", id).
		First(&enc).Error; err != nil {
		return nil, fmt.Errorf("getting encounter by trigger id %d: %w", id, err)
	}

	return &enc, nil
}

func (s *store) EncounterByBossID(
	ctx context.Context, id int64,
) (*Encounter, error) {
	var enc Encounter
	if err := s.db.WithContext(ctx).
		Preload("Instance").
		Preload("Instance.Group").
		Where("boss_id = ?", id).
		First(&enc).Error; err != nil {
		return nil, fmt.Errorf("getting encounter by boss id %d: %w", id, err)
	}

	return &enc, nil
}

func (s *store) PlayersByRole(
	ctx context.Context, role string,
) ([]Player, error) {
	var players []Player
	if err := s.db.WithContext(ctx).
		Where("role = ?", role).
		Order("account ASC").
		Find(&players).Error; err != nil {
		return nil, fmt.Errorf("listing players by role: %w", err)
	}

	return players, nil
}

func (s *store) InstancesForGroup(
	ctx context.Context, groupType string,
) ([]Instance, error) {
	var instances []Instance
	if err := s.db.WithContext(ctx).
		Joins("JOIN instance_groups ON instance_groups.id = instances.instance_group_id").
		Where("instance_groups.name = ?", groupType).
		Preload("Group").
		Order("instances.nr ASC").
		Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("listing instances for group %s: %w", groupType, err)
	}

	return instances, nil
}

// DurationEncounters returns the leaderboard-eligible encounters that
// count toward clear-group duration for a group type. This is the
// source of the frozen fingerprint. Eligibility is satisfied by any
// flavor so that challenge-mote-only encounters (fractals) count too.
func (s *store) DurationEncounters(
	ctx context.Context, groupType string,
) ([]Encounter, error) {
	var encounters []Encounter
	if err := s.db.WithContext(ctx).
		Joins("JOIN instances ON instances.id = encounters.instance_id").
		Joins("JOIN instance_groups ON instance_groups.id = instances.instance_group_id").
		Where("instance_groups.name = ?", groupType).
		Where("encounters.use_for_duration = ?", true).
		Where("encounters.leaderboard_nm = ? OR encounters.leaderboard_cm = ? OR encounters.leaderboard_lcm = ?",
			true, true, true).
		Preload("Instance").
		Order("instances.nr ASC, encounters.nr ASC").
		Find(&encounters).Error; err != nil {
		return nil, fmt.Errorf("listing duration encounters: %w", err)
	}

	return encounters, nil
}

// EncountersForInstance returns the full encounter roster of one
// instance in slot order. Clear success is judged against this set,
// not against the leaderboard-filtered one.
func (s *store) EncountersForInstance(
	ctx context.Context, instanceID uint,
) ([]Encounter, error) {
	var encounters []Encounter
	if err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("nr ASC").
		Find(&encounters).Error; err != nil {
		return nil, fmt.Errorf("listing instance encounters: %w", err)
	}

	return encounters, nil
}

// --- DpsLog write path ---

// FindDpsLogNear looks up an existing log within the dedup window of
// the given start time for the same encounter. Returns (nil, nil) on no
// match and ErrDuplicateLogs when the window is ambiguous.
func (s *store) FindDpsLogNear(
	ctx context.Context, start time.Time, encounterID uint,
) (*DpsLog, error) {
	var logs []DpsLog
	if err := s.db.WithContext(ctx).
		Preload("Encounter").
		Preload("Encounter.Instance").
		Preload("Encounter.Instance.Group").
		Where("encounter_id = ?", encounterID).
		Where("start_time BETWEEN ? AND ?",
			start.Add(-DedupWindow), start.Add(DedupWindow)).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("querying dedup window: %w", err)
	}

	switch len(logs) {
	case 0:
		return nil, nil
	case 1:
		return &logs[0], nil
	default:
		return nil, fmt.Errorf("%w: %d rows at %s", ErrDuplicateLogs,
			len(logs), start.Format(time.RFC3339))
	}
}

func (s *store) CreateDpsLog(ctx context.Context, l *DpsLog) error {
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("creating dps log: %w", err)
	}

	return nil
}

func (s *store) SaveDpsLog(ctx context.Context, l *DpsLog) error {
	if err := s.db.WithContext(ctx).Save(l).Error; err != nil {
		return fmt.Errorf("saving dps log: %w", err)
	}

	return nil
}

func (s *store) DeleteDpsLog(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).
		Delete(&DpsLog{}, id).Error; err != nil {
		return fmt.Errorf("deleting dps log: %w", err)
	}

	return nil
}

func (s *store) DpsLogByID(ctx context.Context, id uint) (*DpsLog, error) {
	var l DpsLog
	if err := s.db.WithContext(ctx).
		Preload("Encounter").
		Preload("Encounter.Instance").
		Preload("Encounter.Instance.Group").
		First(&l, id).Error; err != nil {
		return nil, fmt.Errorf("getting dps log %d: %w", id, err)
	}

	return &l, nil
}

// DayBounds returns the [from, to) window of the local calendar day
// containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	return from, from.Add(24 * time.Hour)
}

func (s *store) LogsForDay(
	ctx context.Context, day time.Time, groupType string,
) ([]DpsLog, error) {
	from, to := DayBounds(day)

	return s.LogsInRange(ctx, groupType, from, to)
}

func (s *store) LogsInRange(
	ctx context.Context, groupType string, from, to time.Time,
) ([]DpsLog, error) {
	var logs []DpsLog
	if err := s.db.WithContext(ctx).
		Joins("JOIN encounters ON encounters.id = dps_logs.encounter_id").
		Joins("JOIN instances ON instances.id = encounters.instance_id").
		Joins("JOIN instance_groups ON instance_groups.id = instances.instance_group_id").
		Where("instance_groups.name = ?", groupType).
		Where("dps_logs.start_time >= ? AND dps_logs.start_time < ?", from, to).
		Preload("Encounter").
		Preload("Encounter.Instance").
		Preload("Encounter.Instance.Group").
		Order("dps_logs.start_time ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("listing logs in range: %w", err)
	}

	return logs, nil
}

// --- Clears and clear groups ---

func (s *store) GetOrCreateInstanceClear(
	ctx context.Context, name string, instanceID uint,
) (*InstanceClear, error) {
	clear := InstanceClear{
		Name:       name,
		InstanceID: instanceID,
	}

	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(&clear).Error; err != nil {
		return nil, fmt.Errorf("upserting instance clear %q: %w", name, err)
	}

	if err := s.db.WithContext(ctx).
		Preload("Instance").
		Preload("Instance.Group").
		Preload("DpsLogs").
		First(&clear, clear.ID).Error; err != nil {
		return nil, fmt.Errorf("reloading instance clear %q: %w", name, err)
	}

	return &clear, nil
}

func (s *store) SaveInstanceClear(ctx context.Context, c *InstanceClear) error {
	if err := s.db.WithContext(ctx).
		Omit("Instance", "DpsLogs").
		Save(c).Error; err != nil {
		return fmt.Errorf("saving instance clear: %w", err)
	}

	return nil
}

func (s *store) ClearByName(
	ctx context.Context, name string,
) (*InstanceClear, error) {
	var clear InstanceClear
	if err := s.db.WithContext(ctx).
		Preload("Instance").
		Preload("Instance.Group").
		Preload("DpsLogs").
		Where("name = ?", name).
		First(&clear).Error; err != nil {
		return nil, fmt.Errorf("getting instance clear %q: %w", name, err)
	}

	return &clear, nil
}

func (s *store) ClearsForGroup(
	ctx context.Context, groupID uint,
) ([]InstanceClear, error) {
	var clears []InstanceClear
	if err := s.db.WithContext(ctx).
		Preload("Instance").
		Preload("Instance.Group").
		Preload("DpsLogs").
		Where("instance_clear_group_id = ?", groupID).
		Order("start_time ASC").
		Find(&clears).Error; err != nil {
		return nil, fmt.Errorf("listing clears for group %d: %w", groupID, err)
	}

	return clears, nil
}

func (s *store) GetOrCreateClearGroup(
	ctx context.Context, name, groupType, fingerprint string, start time.Time,
) (*InstanceClearGroup, error) {
	group := InstanceClearGroup{
		Name:               name,
		Type:               groupType,
		StartTime:          start,
		DurationEncounters: fingerprint,
	}

	// The fingerprint is frozen at creation; Assign is intentionally
	// not used so later seeding changes do not rewrite it.
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(&group).Error; err != nil {
		return nil, fmt.Errorf("upserting clear group %q: %w", name, err)
	}

	return &group, nil
}

func (s *store) SaveClearGroup(ctx context.Context, g *InstanceClearGroup) error {
	if err := s.db.WithContext(ctx).
		Omit("Clears").
		Save(g).Error; err != nil {
		return fmt.Errorf("saving clear group: %w", err)
	}

	return nil
}

func (s *store) GroupByName(
	ctx context.Context, name string,
) (*InstanceClearGroup, error) {
	var group InstanceClearGroup
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&group).Error; err != nil {
		return nil, fmt.Errorf("getting clear group %q: %w", name, err)
	}

	return &group, nil
}

func (s *store) GroupsInRange(
	ctx context.Context, groupType string, from, to time.Time,
) ([]InstanceClearGroup, error) {
	var groups []InstanceClearGroup
	if err := s.db.WithContext(ctx).
		Where("type = ?", groupType).
		Where("start_time >= ? AND start_time <= ?", from, to).
		Order("start_time ASC").
		Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("listing clear groups in range: %w", err)
	}

	return groups, nil
}

// --- Ranking cohorts ---

// SuccessfulLogsForEncounter returns the historical successful,
// non-emboldened, leaderboard-eligible logs of the same cm/lcm flavor,
// fastest first.
func (s *store) SuccessfulLogsForEncounter(
	ctx context.Context, encounterID uint, cm, lcm bool,
) ([]DpsLog, error) {
	var logs []DpsLog
	if err := s.db.WithContext(ctx).
		Where("encounter_id = ?", encounterID).
		Where("success = ?", true).
		Where("emboldened = ?", false).
		Where("use_in_leaderboard = ?", true).
		Where("cm = ? AND lcm = ?", cm, lcm).
		Order("duration_ms ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("listing cohort logs: %w", err)
	}

	return logs, nil
}

// SuccessfulClearsForInstance returns the historical successful,
// non-emboldened clears of an instance, fastest first.
func (s *store) SuccessfulClearsForInstance(
	ctx context.Context, instanceID uint,
) ([]InstanceClear, error) {
	var clears []InstanceClear
	if err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Where("success = ?", true).
		Where("emboldened = ?", false).
		Order("duration_ms ASC").
		Find(&clears).Error; err != nil {
		return nil, fmt.Errorf("listing cohort clears: %w", err)
	}

	return clears, nil
}

// GroupsWithFingerprint returns all clear groups sharing a duration
// fingerprint. Fingerprint equality is the cohort key for cross-group
// ranking.
func (s *store) GroupsWithFingerprint(
	ctx context.Context, fingerprint string,
) ([]InstanceClearGroup, error) {
	var groups []InstanceClearGroup
	if err := s.db.WithContext(ctx).
		Where("duration_encounters = ?", fingerprint).
		Order("start_time ASC").
		Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("listing fingerprint cohort: %w", err)
	}

	return groups, nil
}

// --- Chat message bookkeeping ---

func (s *store) GetOrCreateMessage(
	ctx context.Context, name, ownerKind, ownerName string,
) (*DiscordMessage, error) {
	msg := DiscordMessage{
		Name:      name,
		OwnerKind: ownerKind,
		OwnerName: ownerName,
	}

	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(&msg).Error; err != nil {
		return nil, fmt.Errorf("upserting discord message %q: %w", name, err)
	}

	return &msg, nil
}

func (s *store) SaveMessage(ctx context.Context, m *DiscordMessage) error {
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("saving discord message: %w", err)
	}

	return nil
}
