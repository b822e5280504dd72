package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

// Config holds service configuration loaded from YAML and env.
// All values are read-only after Load.
type Config struct {
	ServerPort string

	DatabaseURL string
	APIKey      string // bearer token for /signals endpoints; empty leaves them open

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// RefreshTimeout bounds one upstream refresh attempt.
	RefreshTimeout time.Duration

	// SignalTypes are the types composed into every aggregate response.
	SignalTypes []models.SignalType
	// SignalTTLs maps each configured signal type to its freshness TTL.
	SignalTTLs map[models.SignalType]time.Duration

	// NSSPPathogen selects the pathogen column for ED-visit trajectory pulls.
	NSSPPathogen models.Pathogen
	// NSSPWeeks is the lookback window for trajectory-style signals.
	NSSPWeeks int

	// SocrataAppToken raises CDC SODA rate limits when set. Optional.
	SocrataAppToken string

	SweepInterval time.Duration
	SweepMaxAge   time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	MemcachedEnabled      bool
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Refresh struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"refresh"`

	Signals struct {
		Enabled  []string          `yaml:"enabled"`
		TTLHours map[string]string `yaml:"ttl_hours"`
	} `yaml:"signals"`

	NSSP struct {
		Pathogen string `yaml:"pathogen"`
		Weeks    int    `yaml:"weeks"`
	} `yaml:"nssp"`

	Sweep struct {
		Interval string `yaml:"interval"`
		MaxAge   string `yaml:"max_age"`
	} `yaml:"sweep"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Memcached struct {
		Enabled      bool   `yaml:"enabled"`
		Addrs        string `yaml:"addrs"`
		Timeout      string `yaml:"timeout"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"memcached"`
}

// defaultTTLs are applied for configured signal types without a ttl_hours entry.
var defaultTTLs = map[models.SignalType]time.Duration{
	models.SignalWastewater:  12 * time.Hour,
	models.SignalNSSPEDVisit: 12 * time.Hour,
	models.SignalILINet:      24 * time.Hour,
	models.SignalSeverity:    24 * time.Hour,
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) plus env.
// A missing config file is tolerated; env and defaults then supply everything.
// DATABASE_URL and UVCEED_API_KEY come from env only. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.ServerPort = envDefault("PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	cfg.APIKey = strings.TrimSpace(os.Getenv("UVCEED_API_KEY"))
	cfg.SocrataAppToken = strings.TrimSpace(envDefault("CDC_APP_TOKEN", os.Getenv("SOCRATA_APP_TOKEN")))

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 60*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.RefreshTimeout = parseDuration(envDefault("UVCEED_REFRESH_TIMEOUT", fc.Refresh.Timeout), 55*time.Second)

	cfg.SignalTypes, err = parseSignalTypes(fc.Signals.Enabled)
	if err != nil {
		return nil, err
	}
	cfg.SignalTTLs, err = parseTTLs(cfg.SignalTypes, fc.Signals.TTLHours)
	if err != nil {
		return nil, err
	}

	cfg.NSSPPathogen = models.Pathogen(strings.TrimSpace(envDefault("UVCEED_NSSP_PATHOGEN", fc.NSSP.Pathogen)))
	if cfg.NSSPPathogen == "" {
		cfg.NSSPPathogen = models.PathogenCombined
	}
	cfg.NSSPWeeks = fc.NSSP.Weeks
	if cfg.NSSPWeeks <= 0 {
		cfg.NSSPWeeks = 16
	}

	cfg.SweepInterval = parseDuration(fc.Sweep.Interval, time.Hour)
	cfg.SweepMaxAge = parseDuration(fc.Sweep.MaxAge, 30*24*time.Hour)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.MemcachedEnabled = fc.Memcached.Enabled
	cfg.MemcachedAddrs = strings.TrimSpace(envDefault("MEMCACHED_ADDRS", fc.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSignalTypes maps the enabled list to SignalTypes. An empty list yields
// the default set (wastewater + nssp_ed_visits); an unknown name is an error.
func parseSignalTypes(enabled []string) ([]models.SignalType, error) {
	if len(enabled) == 0 {
		return []models.SignalType{models.SignalWastewater, models.SignalNSSPEDVisit}, nil
	}
	out := make([]models.SignalType, 0, len(enabled))
	for _, name := range enabled {
		st, ok := models.ParseSignalType(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("signals.enabled: unknown signal type %q", name)
		}
		out = append(out, st)
	}
	return out, nil
}

// parseTTLs builds the TTL map for the configured types. Every configured type
// ends up with a positive TTL; entries for unconfigured types are an error so
// typos in config surface at startup.
func parseTTLs(types []models.SignalType, ttlHours map[string]string) (map[models.SignalType]time.Duration, error) {
	configured := make(map[models.SignalType]bool, len(types))
	for _, st := range types {
		configured[st] = true
	}
	out := make(map[models.SignalType]time.Duration, len(types))
	for name, raw := range ttlHours {
		st, ok := models.ParseSignalType(name)
		if !ok {
			return nil, fmt.Errorf("signals.ttl_hours: unknown signal type %q", name)
		}
		if !configured[st] {
			return nil, fmt.Errorf("signals.ttl_hours: %q is not in signals.enabled", name)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw) + "h")
		if err != nil {
			return nil, fmt.Errorf("signals.ttl_hours.%s: %w", name, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("signals.ttl_hours.%s must be positive", name)
		}
		out[st] = d
	}
	for _, st := range types {
		if _, ok := out[st]; !ok {
			out[st] = defaultTTLs[st]
		}
	}
	return out, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0. Bare integers are read as seconds.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		d, err = time.ParseDuration(s + "s")
		if err != nil {
			return defaultVal
		}
	}
	if d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout must exceed
// RefreshTimeout so a synchronous read-through can wait out one attempt.
func validate(cfg *Config) error {
	if cfg.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.RefreshTimeout {
		cfg.RequestTimeout = cfg.RefreshTimeout + 5*time.Second
	}
	if len(cfg.SignalTypes) == 0 {
		return fmt.Errorf("signals.enabled must not be empty")
	}
	seen := make(map[models.SignalType]bool, len(cfg.SignalTypes))
	for _, st := range cfg.SignalTypes {
		if seen[st] {
			return fmt.Errorf("signals.enabled lists %q twice", st)
		}
		seen[st] = true
		if cfg.SignalTTLs[st] <= 0 {
			return fmt.Errorf("no TTL configured for signal type %q", st)
		}
	}
	switch cfg.NSSPPathogen {
	case models.PathogenCovid, models.PathogenFlu, models.PathogenRSV, models.PathogenCombined:
	default:
		return fmt.Errorf("nssp.pathogen must be covid, flu, rsv, or combined, got %q", cfg.NSSPPathogen)
	}
	return nil
}
