package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"schedsync/internal/fsutil"
)

// NOTE: YAML config with first-run creation, 0600 permissions and
// SCHEDSYNC_* environment overrides applied after the file is read.

const (
	DefaultBaseURL        = "https://ptgh.onego.ru/9006/"
	DefaultMondayTimesURL = "https://r1.nubex.ru/s1748-17b/47698615b7_fit-in~1280x800~filters:no_upscale()__f44488_08.jpg"
	DefaultOtherTimesURL  = "https://r1.nubex.ru/s1748-17b/320e9d2d69_fit-in~1280x800~filters:no_upscale()__f44489_bb.jpg"
	DefaultUpdateURL      = "https://api.github.com/repos/ghostwalker18/ScheduleCompose/releases/latest"

	envPrefix = "SCHEDSYNC_"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// HTTPConfig tunes the outbound client.
type HTTPConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`
}

// CacheConfig selects the HTTP response cache. An empty Dir keeps the
// cache in memory.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// UpdateConfig points at the release feed checked by -check-update.
type UpdateConfig struct {
	URL string `yaml:"url" json:"url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// DataDir holds the database, settings file, cache and reference images.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Database is the SQLite file; relative paths resolve against DataDir.
	Database string `yaml:"database" json:"database"`

	BaseURL        string `yaml:"base_url" json:"base_url"`
	MondayTimesURL string `yaml:"monday_times_url" json:"monday_times_url"`
	OtherTimesURL  string `yaml:"other_times_url" json:"other_times_url"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */2 * * *")
	// for periodic syncs. Empty disables them.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Workers bounds how many campuses sync at once.
	Workers int `yaml:"workers" json:"workers"`

	HTTP  HTTPConfig  `yaml:"http" json:"http"`
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CORSOrigins lists origins allowed to call the API. Empty disables CORS.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Update UpdateConfig `yaml:"update" json:"update"`

	// Timezone is the IANA zone used for "today" and calendar export.
	Timezone string `yaml:"timezone" json:"timezone"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		DataDir:        "data",
		Database:       "schedule.db",
		BaseURL:        DefaultBaseURL,
		MondayTimesURL: DefaultMondayTimesURL,
		OtherTimesURL:  DefaultOtherTimesURL,
		RefreshCron:    "0 */2 * * *",
		Workers:        3,
		HTTP: HTTPConfig{
			TimeoutSeconds: 30,
			UserAgent:      "schedsync/1.0",
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     "cache",
		},
		LogLevel:    "info",
		CORSOrigins: []string{},
		Update:      UpdateConfig{URL: DefaultUpdateURL},
		Timezone:    "Europe/Moscow",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.MondayTimesURL == "" {
		c.MondayTimesURL = def.MondayTimesURL
	}
	if c.OtherTimesURL == "" {
		c.OtherTimesURL = def.OtherTimesURL
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		c.HTTP.TimeoutSeconds = def.HTTP.TimeoutSeconds
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = def.HTTP.UserAgent
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = def.LogLevel
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
	if c.Update.URL == "" {
		c.Update.URL = def.Update.URL
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// DatabasePath resolves Database against DataDir.
func (c *Config) DatabasePath() string {
	return c.resolve(c.Database)
}

// CachePath resolves the cache directory against DataDir. It is empty for
// the in-memory cache.
func (c *Config) CachePath() string {
	if c.Cache.Dir == "" {
		return ""
	}
	return c.resolve(c.Cache.Dir)
}

// SettingsPath is where the user settings file lives.
func (c *Config) SettingsPath() string {
	return c.resolve("settings.yaml")
}

// Timeout is the outbound request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Location loads Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - An optional .env in the working directory is loaded into the
//     environment first.
//   - If the file does not exist, a default config is written with 0600
//     perms.
//   - SCHEDSYNC_* variables override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		if err := cfg.applyEnv(os.LookupEnv); err != nil {
			return cfg, err
		}
		cfg.Normalize()
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// applyEnv overrides fields from SCHEDSYNC_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LISTEN":           &c.Listen,
		"DATA_DIR":         &c.DataDir,
		"DATABASE":         &c.Database,
		"BASE_URL":         &c.BaseURL,
		"MONDAY_TIMES_URL": &c.MondayTimesURL,
		"OTHER_TIMES_URL":  &c.OtherTimesURL,
		"REFRESH":          &c.RefreshCron,
		"USER_AGENT":       &c.HTTP.UserAgent,
		"CACHE_DIR":        &c.Cache.Dir,
		"LOG_LEVEL":        &c.LogLevel,
		"UPDATE_URL":       &c.Update.URL,
		"TIMEZONE":         &c.Timezone,
	}
	for key, dst := range str {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKERS":      &c.Workers,
		"HTTP_TIMEOUT": &c.HTTP.TimeoutSeconds,
	}
	for key, dst := range ints {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup(envPrefix + "CACHE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sCACHE_ENABLED: %w", envPrefix, err)
		}
		c.Cache.Enabled = b
	}
	if v, ok := lookup(envPrefix + "CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}

	user, hasUser := lookup(envPrefix + "AUTH_USER")
	pass, hasPass := lookup(envPrefix + "AUTH_PASSWORD")
	if hasUser || hasPass {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFile(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
