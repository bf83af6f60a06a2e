package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen            = "127.0.0.1:8080"
	defaultTimezone          = "Asia/Seoul"
	defaultRefreshCron       = "*/15 * * * *"
	defaultHolidayCalendarID = "ko.south_korea#holiday@group.v.calendar.google.com"
	defaultFetchTimeout      = 10 * time.Second
	defaultCacheTTL          = 5 * time.Minute
	defaultICSCacheDir       = "/var/lib/orgcal/ics-cache"
)

var defaultHolidayMarkers = []string{"공휴일", "Public holiday"}

// CalendarConfig controls which calendars the engine shows.
type CalendarConfig struct {
	// PrimaryID is the organization's calendar (Google id or ICS feed id).
	PrimaryID string `yaml:"primary_id" json:"primary_id"`
	// HolidayID is the public-holiday calendar; empty disables it.
	HolidayID string `yaml:"holiday_id" json:"holiday_id"`
	// HolidayMarkers are description substrings that mark a public holiday.
	HolidayMarkers []string `yaml:"holiday_markers" json:"holiday_markers"`
	// FetchTimeout bounds each source fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	// ClearSelectionOnNavigate drops the selected day when the month or
	// calendar changes. Default false keeps it.
	ClearSelectionOnNavigate bool `yaml:"clear_selection_on_navigate" json:"clear_selection_on_navigate"`
}

// GoogleConfig holds Google Calendar API access.
type GoogleConfig struct {
	APIKey          string `yaml:"api_key" json:"api_key"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Enabled reports whether any Google credential is configured.
func (g GoogleConfig) Enabled() bool {
	return g.APIKey != "" || g.CredentialsFile != ""
}

// ICSConfig describes a single ICS subscription served as a calendar id.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// CacheConfig enables the Redis event cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"redis_password"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for "today" and month windows.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for refetching
	// the displayed months.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Google   GoogleConfig   `yaml:"google" json:"google"`

	// ICS feeds are served under their ID instead of going to Google.
	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Cache CacheConfig `yaml:"cache" json:"cache"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		LogLevel:    "info",
		RefreshCron: defaultRefreshCron,
		Calendar: CalendarConfig{
			HolidayID:      defaultHolidayCalendarID,
			HolidayMarkers: append([]string(nil), defaultHolidayMarkers...),
			FetchTimeout:   defaultFetchTimeout,
		},
		ICS:         []ICSConfig{},
		ICSCacheDir: defaultICSCacheDir,
		Cache:       CacheConfig{TTL: defaultCacheTTL},
	}
}

// Normalize fills in missing/zero values so partially filled files still
// behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Calendar.HolidayMarkers == nil {
		c.Calendar.HolidayMarkers = append([]string(nil), defaultHolidayMarkers...)
	}
	if c.Calendar.FetchTimeout <= 0 {
		c.Calendar.FetchTimeout = defaultFetchTimeout
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = defaultCacheTTL
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// ApplyEnv overlays ORGCAL_* environment variables onto c. Secrets are
// usually supplied this way (or via a .env file) rather than in YAML.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("ORGCAL_LISTEN", &c.Listen)
	set("ORGCAL_TIMEZONE", &c.Timezone)
	set("ORGCAL_LOG_LEVEL", &c.LogLevel)
	set("ORGCAL_PRIMARY_CALENDAR_ID", &c.Calendar.PrimaryID)
	set("ORGCAL_GOOGLE_API_KEY", &c.Google.APIKey)
	set("ORGCAL_GOOGLE_CREDENTIALS_FILE", &c.Google.CredentialsFile)
	set("ORGCAL_REDIS_ADDR", &c.Cache.RedisAddr)
	set("ORGCAL_REDIS_PASSWORD", &c.Cache.RedisPassword)

	if v, ok := lookup("ORGCAL_CLEAR_SELECTION_ON_NAVIGATE"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Calendar.ClearSelectionOnNavigate = b
		}
	}
}

// Validate reports configuration that cannot produce a working calendar.
func (c *Config) Validate() error {
	if c.Calendar.PrimaryID == "" {
		return errors.New("calendar.primary_id is required")
	}
	if !c.Google.Enabled() && !c.hasICS(c.Calendar.PrimaryID) {
		return errors.New("calendar.primary_id is not an ICS feed id and no google credentials are configured")
	}
	return nil
}

func (c *Config) hasICS(id string) bool {
	for _, f := range c.ICS {
		if f.ID == id {
			return true
		}
	}
	return false
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".orgcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
