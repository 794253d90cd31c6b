package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Detector   DetectorConfig   `yaml:"detector"`
	CodeScan   CodeScanConfig   `yaml:"code_scan"`
	Heuristics HeuristicsConfig `yaml:"heuristics"`
	Cache      CacheConfig      `yaml:"cache"`
	Server     ServerConfig     `yaml:"server"`
}

type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
}

type MonitorConfig struct {
	ScanIntervalMinutes   int      `yaml:"scan_interval_minutes"`
	AutoFixEnabled        bool     `yaml:"auto_fix_enabled"`
	CriticalCooldownHours int      `yaml:"critical_cooldown_hours"`
	HighCooldownHours     int      `yaml:"high_cooldown_hours"`
	BackupRetentionDays   int      `yaml:"backup_retention_days"`
	CriticalTables        []string `yaml:"critical_tables"`
	HighPriorityTables    []string `yaml:"high_priority_tables"`
}

type DetectorConfig struct {
	SynthesisMinOccurrences int      `yaml:"synthesis_min_occurrences"`
	SynthesisBypassTables   []string `yaml:"synthesis_bypass_tables"`
	MaxDuplicateProbes      int      `yaml:"max_duplicate_probes"`
}

type CodeScanConfig struct {
	ProjectRoot   string `yaml:"project_root"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb"`
}

// HeuristicsConfig makes the naming-convention inference overridable. The
// defaults match the conventions observed in the monitored codebase; they are
// not universal truths and operators can replace them wholesale.
type HeuristicsConfig struct {
	SuffixTypes    map[string]string `yaml:"suffix_types"`
	PrefixTypes    map[string]string `yaml:"prefix_types"`
	KeywordTypes   map[string]string `yaml:"keyword_types"`
	DefaultType    string            `yaml:"default_type"`
	UniqueSuffixes []string          `yaml:"unique_suffixes"`
	UniqueNames    []string          `yaml:"unique_names"`
}

type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	TTLHours  int    `yaml:"ttl_hours"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoadConfig loads configuration from YAML file with environment variable substitution
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (set DATABASE_URL)")
	}

	if c.Monitor.ScanIntervalMinutes <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}

	if c.Detector.SynthesisMinOccurrences <= 0 {
		return fmt.Errorf("synthesis minimum occurrences must be positive")
	}

	if c.CodeScan.ProjectRoot == "" {
		return fmt.Errorf("code scan project root is required")
	}

	return nil
}

// applyDefaults fills in the tunables that are optional in the YAML file.
func (c *Config) applyDefaults() {
	if c.Database.Schema == "" {
		c.Database.Schema = "public"
	}
	if c.Monitor.ScanIntervalMinutes == 0 {
		c.Monitor.ScanIntervalMinutes = 5
	}
	if c.Monitor.CriticalCooldownHours == 0 {
		c.Monitor.CriticalCooldownHours = 1
	}
	if c.Monitor.HighCooldownHours == 0 {
		c.Monitor.HighCooldownHours = 6
	}
	if c.Monitor.BackupRetentionDays == 0 {
		c.Monitor.BackupRetentionDays = 30
	}
	if c.Detector.SynthesisMinOccurrences == 0 {
		c.Detector.SynthesisMinOccurrences = 3
	}
	if c.Detector.MaxDuplicateProbes == 0 {
		c.Detector.MaxDuplicateProbes = 50
	}
	if c.CodeScan.MaxFileSizeMB == 0 {
		c.CodeScan.MaxFileSizeMB = 2
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = ".schema-doctor/cache"
	}
	if c.Cache.TTLHours == 0 {
		c.Cache.TTLHours = 24
	}

	if c.Heuristics.SuffixTypes == nil {
		c.Heuristics.SuffixTypes = map[string]string{
			"_id":   "integer",
			"_at":   "timestamptz",
			"_date": "timestamptz",
		}
	}
	if c.Heuristics.PrefixTypes == nil {
		c.Heuristics.PrefixTypes = map[string]string{
			"is_":  "boolean",
			"has_": "boolean",
		}
	}
	if c.Heuristics.KeywordTypes == nil {
		c.Heuristics.KeywordTypes = map[string]string{
			"price":       "numeric(10,2)",
			"cost":        "numeric(10,2)",
			"rate":        "numeric(10,2)",
			"description": "text",
			"notes":       "text",
			"json":        "jsonb",
			"config":      "jsonb",
			"metadata":    "jsonb",
		}
	}
	if c.Heuristics.DefaultType == "" {
		c.Heuristics.DefaultType = "text"
	}
	if c.Heuristics.UniqueSuffixes == nil {
		c.Heuristics.UniqueSuffixes = []string{"_id", "_key", "_code", "_hash", "_token"}
	}
	if c.Heuristics.UniqueNames == nil {
		c.Heuristics.UniqueNames = []string{"email", "username"}
	}
}

// expandEnvVars expands environment variables in the format ${VAR_NAME}
func expandEnvVars(content string) string {
	return os.Expand(content, func(key string) string {
		return os.Getenv(key)
	})
}

// ScanInterval returns the monitor scan interval as a time.Duration
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Monitor.ScanIntervalMinutes) * time.Minute
}

// CriticalCooldown returns the auto-fix cooldown for critical-tier tables
func (c *Config) CriticalCooldown() time.Duration {
	return time.Duration(c.Monitor.CriticalCooldownHours) * time.Hour
}

// HighCooldown returns the auto-fix cooldown for high-tier tables
func (c *Config) HighCooldown() time.Duration {
	return time.Duration(c.Monitor.HighCooldownHours) * time.Hour
}

// BackupRetention returns how long backup tables should be retained. The
// window is recorded alongside each backup; removal is an operator task.
func (c *Config) BackupRetention() time.Duration {
	return time.Duration(c.Monitor.BackupRetentionDays) * 24 * time.Hour
}

// CacheTTL returns how long cached scan artifacts stay valid
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}
