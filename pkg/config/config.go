package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultReportBaseURL is the dps.report API endpoint.
	DefaultReportBaseURL = "https://dps.report"

	// DefaultReportTimeoutSeconds is the per-call HTTP timeout for the
	// report service.
	DefaultReportTimeoutSeconds = 120

	// DefaultParserReleaseURL is the endpoint consulted for parser
	// version checks.
	DefaultParserReleaseURL = "https://api.github.com/repos/baaron4/GW2-Elite-Insights-Parser/releases/latest"

	// DefaultParserDownloadURL is the fixed URL of the parser CLI
	// release asset.
	DefaultParserDownloadURL = "https://github.com/baaron4/GW2-Elite-Insights-Parser/releases/latest/download/GW2EICLI.zip"

	// DefaultParserUpdateCheckDays limits how often the release endpoint
	// is consulted.
	DefaultParserUpdateCheckDays = 7

	// DefaultIdleMinutes is how long the orchestrator waits for new logs
	// before stopping.
	DefaultIdleMinutes = 30

	// DefaultLocalSleepSeconds is the pause between local parse passes.
	DefaultLocalSleepSeconds = 10

	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":8080"
)

// DefaultProcessingSequence parses each newly discovered file locally
// before the next upload attempt.
var DefaultProcessingSequence = []string{"local", "upload", "local", "local", "local"}

// DefaultPercentileBins are the ascending percentile boundaries for the
// percentile ranking strategy.
var DefaultPercentileBins = []int{20, 40, 50, 60, 70, 80, 90, 100}

// Config is the root configuration for clearoor.
type Config struct {
	Global       GlobalConfig         `yaml:"global"`
	Logs         LogsConfig           `yaml:"logs"`
	Database     DatabaseConfig       `yaml:"database"`
	Report       ReportConfig         `yaml:"report"`
	Parser       ParserConfig         `yaml:"parser"`
	Discord      DiscordConfig        `yaml:"discord"`
	Ranking      RankingConfig        `yaml:"ranking"`
	Emboldened   EmboldenedConfig     `yaml:"emboldened"`
	Orchestrator OrchestratorConfig   `yaml:"orchestrator"`
	API          *APIConfig           `yaml:"api,omitempty"`
	PhaseTimes   map[string]PhaseTime `yaml:"phase_times,omitempty"`
	Players      []PlayerSeed         `yaml:"players,omitempty"`
}

// PlayerSeed declares a roster member and their role.
type PlayerSeed struct {
	Account string `yaml:"account"`
	Role    string `yaml:"role"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	Debug    bool   `yaml:"debug"`
}

// LogsConfig describes where combat logs are discovered.
type LogsConfig struct {
	Dir         string   `yaml:"dir"`
	ExtraDir    string   `yaml:"extra_dir,omitempty"`
	FolderNames []string `yaml:"folder_names,omitempty"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ReportConfig contains settings for the report upload service.
type ReportConfig struct {
	BaseURL        string `yaml:"base_url"`
	UserToken      string `yaml:"user_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ParserConfig contains settings for the local parser CLI.
type ParserConfig struct {
	ExePath         string `yaml:"exe_path"`
	OutDir          string `yaml:"out_dir"`
	ReleaseURL      string `yaml:"release_url"`
	DownloadURL     string `yaml:"download_url"`
	UpdateCheckDays int    `yaml:"update_check_days"`
}

// DiscordConfig contains outbound webhook settings per instance group
// type.
type DiscordConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Webhooks map[string]string `yaml:"webhooks,omitempty"`
}

// RankingConfig controls the ranking engine.
type RankingConfig struct {
	MedalsType     string         `yaml:"medals_type"`
	MeanOrMedian   string         `yaml:"mean_or_median"`
	PercentileBins []int          `yaml:"percentile_bins,omitempty"`
	CoreMinimum    map[string]int `yaml:"core_minimum,omitempty"`
	IncludeNonCore bool           `yaml:"include_non_core"`
}

// EmboldenedConfig anchors the emboldened wing rotation.
type EmboldenedConfig struct {
	BaseYear int `yaml:"base_year"`
	BaseWeek int `yaml:"base_week"`
	Wings    int `yaml:"wings"`
}

// OrchestratorConfig controls the run loop.
type OrchestratorConfig struct {
	IdleMinutes        int      `yaml:"idle_minutes"`
	LocalSleepSeconds  int      `yaml:"local_sleep_seconds"`
	ProcessingSequence []string `yaml:"processing_sequence,omitempty"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Listen            string   `yaml:"listen"`
	CORSOrigins       []string `yaml:"cors_origins,omitempty"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

// PhaseTime configures the phase-time string derivation for a single
// encounter.
type PhaseTime struct {
	Marker string `yaml:"marker"`
	Count  int    `yaml:"count"`
}

// Load reads and parses a configuration file from the given path, then
// applies defaults and environment overrides. A .env file next to the
// working directory is honoured when present.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./clearoor.db"
	}

	if c.Report.BaseURL == "" {
		c.Report.BaseURL = DefaultReportBaseURL
	}

	if c.Report.TimeoutSeconds == 0 {
		c.Report.TimeoutSeconds = DefaultReportTimeoutSeconds
	}

	if c.Parser.ReleaseURL == "" {
		c.Parser.ReleaseURL = DefaultParserReleaseURL
	}

	if c.Parser.DownloadURL == "" {
		c.Parser.DownloadURL = DefaultParserDownloadURL
	}

	if c.Parser.UpdateCheckDays == 0 {
		c.Parser.UpdateCheckDays = DefaultParserUpdateCheckDays
	}

	if c.Ranking.MedalsType == "" {
		c.Ranking.MedalsType = "original"
	}

	if c.Ranking.MeanOrMedian == "" {
		c.Ranking.MeanOrMedian = "median"
	}

	if len(c.Ranking.PercentileBins) == 0 {
		c.Ranking.PercentileBins = append([]int(nil), DefaultPercentileBins...)
	}

	if c.Ranking.CoreMinimum == nil {
		c.Ranking.CoreMinimum = map[string]int{
			"raid":    5,
			"strike":  5,
			"fractal": 3,
		}
	}

	if c.Emboldened.BaseYear == 0 {
		c.Emboldened.BaseYear = 2022
	}

	if c.Emboldened.BaseWeek == 0 {
		c.Emboldened.BaseWeek = 26
	}

	if c.Emboldened.Wings == 0 {
		c.Emboldened.Wings = 7
	}

	if c.Orchestrator.IdleMinutes == 0 {
		c.Orchestrator.IdleMinutes = DefaultIdleMinutes
	}

	if c.Orchestrator.LocalSleepSeconds == 0 {
		c.Orchestrator.LocalSleepSeconds = DefaultLocalSleepSeconds
	}

	if len(c.Orchestrator.ProcessingSequence) == 0 {
		c.Orchestrator.ProcessingSequence = append([]string(nil), DefaultProcessingSequence...)
	}

	if c.API != nil {
		if c.API.Listen == "" {
			c.API.Listen = DefaultAPIListen
		}

		if c.API.RequestsPerMinute == 0 {
			c.API.RequestsPerMinute = 120
		}
	}
}

// applyEnv overlays the recognized environment variables on top of the
// file configuration. All values are string-valued; booleans accept
// "true", "True" and "1".
func (c *Config) applyEnv() {
	if v := os.Getenv("DPS_LOGS_DIR"); v != "" {
		c.Logs.Dir = v
	}

	if v := os.Getenv("EXTRA_LOGS_DIR"); v != "" {
		c.Logs.ExtraDir = v
	}

	if v := os.Getenv("DPS_REPORT_USERTOKEN"); v != "" {
		c.Report.UserToken = v
	}

	for env, key := range map[string]string{
		"CORE_MINIMUM_RAID":    "raid",
		"CORE_MINIMUM_STRIKE":  "strike",
		"CORE_MINIMUM_FRACTAL": "fractal",
	} {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Ranking.CoreMinimum[key] = n
			}
		}
	}

	if v := os.Getenv("INCLUDE_NON_CORE_LOGS"); v != "" {
		c.Ranking.IncludeNonCore = envBool(v)
	}

	if v := os.Getenv("MEAN_OR_MEDIAN"); v != "" {
		c.Ranking.MeanOrMedian = strings.ToLower(v)
	}

	if v := os.Getenv("MEDALS_TYPE"); v != "" {
		c.Ranking.MedalsType = strings.ToLower(v)
	}

	if v := os.Getenv("RANK_BINS_PERCENTILE"); v != "" {
		if bins := parseIntList(v); len(bins) > 0 {
			c.Ranking.PercentileBins = bins
		}
	}

	if v := os.Getenv("DEBUG"); v != "" {
		c.Global.Debug = envBool(v)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Logs.Dir == "" {
		return fmt.Errorf("logs.dir is required (or set DPS_LOGS_DIR)")
	}

	if _, err := os.Stat(c.Logs.Dir); os.IsNotExist(err) {
		return fmt.Errorf("logs directory %q does not exist", c.Logs.Dir)
	}

	if c.Logs.ExtraDir != "" {
		if _, err := os.Stat(c.Logs.ExtraDir); os.IsNotExist(err) {
			return fmt.Errorf("extra logs directory %q does not exist", c.Logs.ExtraDir)
		}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Ranking.MedalsType {
	case "original", "percentile", "newgame":
	default:
		return fmt.Errorf("unsupported medals_type %q", c.Ranking.MedalsType)
	}

	switch c.Ranking.MeanOrMedian {
	case "mean", "median":
	default:
		return fmt.Errorf("unsupported mean_or_median %q", c.Ranking.MeanOrMedian)
	}

	for i := 1; i < len(c.Ranking.PercentileBins); i++ {
		if c.Ranking.PercentileBins[i] <= c.Ranking.PercentileBins[i-1] {
			return fmt.Errorf("percentile_bins must be strictly ascending")
		}
	}

	for _, pass := range c.Orchestrator.ProcessingSequence {
		if pass != "local" && pass != "upload" {
			return fmt.Errorf("unknown processing pass %q", pass)
		}
	}

	return nil
}

// ValidateAPI checks the subset of the configuration the API server
// uses. The API never touches the log directories, so those are not
// required here.
func (c *Config) ValidateAPI() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	return nil
}

// CoreMinimum returns the minimum core player count for the given
// instance group type. When non-core logs are included the minimum is
// always zero.
func (c *Config) CoreMinimum(groupType string) int {
	if c.Ranking.IncludeNonCore {
		return 0
	}

	return c.Ranking.CoreMinimum[groupType]
}

// envBool interprets a string-valued boolean environment variable.
func envBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// parseIntList parses a comma-separated list of integers.
func parseIntList(v string) []int {
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))

	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil
		}

		out = append(out, n)
	}

	return out
}
