package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/daviddao/peerbus/pkg/bus"
	"github.com/daviddao/peerbus/pkg/store"
)

// Config drives store selection and bus timing for every subcommand.
// A zero duration means "use the library default".
type Config struct {
	ID         string
	Backend    string
	Dir        string
	Table      string
	Namespace  string
	Capacity   int
	Tick       time.Duration
	Expiration time.Duration
	Freshness  time.Duration
	Heartbeat  time.Duration
	LogLevel   string
}

func defaultConfig() Config {
	return Config{
		Backend:    "dir",
		Capacity:   store.DefaultCapacity,
		Tick:       bus.DefaultTickInterval,
		Expiration: bus.DefaultExpiration,
	}
}

// storeRoot resolves the dir backend root: an explicit dir wins, then
// the namespace scopes the per-user default, then the library default.
func (c Config) storeRoot() string {
	if c.Dir != "" {
		return c.Dir
	}
	if c.Namespace != "" {
		return filepath.Join(store.DefaultDir(), c.Namespace)
	}
	return ""
}

// tablePath resolves the table backend database path the same way.
func (c Config) tablePath() string {
	if c.Table != "" {
		return c.Table
	}
	root := store.DefaultDir()
	if c.Namespace != "" {
		root = filepath.Join(root, c.Namespace)
	}
	return filepath.Join(root, "instances.db")
}

// fileConfig is the TOML shape. Durations ride as strings so the file
// can say "250ms" the way the flags do.
type fileConfig struct {
	ID         string `toml:"id"`
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	Table      string `toml:"table"`
	Namespace  string `toml:"namespace"`
	Capacity   int    `toml:"capacity"`
	Tick       string `toml:"tick"`
	Expiration string `toml:"expiration"`
	Freshness  string `toml:"freshness"`
	Heartbeat  string `toml:"heartbeat"`
	LogLevel   string `toml:"log_level"`
}

// envConfig mirrors Config with pointer fields so presence is
// detectable: a nil field means the variable was not set.
type envConfig struct {
	ID         *string        `envconfig:"ID"`
	Backend    *string        `envconfig:"BACKEND"`
	Dir        *string        `envconfig:"DIR"`
	Table      *string        `envconfig:"TABLE"`
	Namespace  *string        `envconfig:"NAMESPACE"`
	Capacity   *int           `envconfig:"CAPACITY"`
	Tick       *time.Duration `envconfig:"TICK"`
	Expiration *time.Duration `envconfig:"EXPIRATION"`
	Freshness  *time.Duration `envconfig:"FRESHNESS"`
	Heartbeat  *time.Duration `envconfig:"HEARTBEAT"`
	LogLevel   *string        `envconfig:"LOG_LEVEL"`
}

// loadConfig layers the TOML file (when given) and PEERBUS_* environment
// variables over the defaults. Only keys actually present override.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := overlayEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("backend") {
		cfg.Backend = strings.TrimSpace(raw.Backend)
	}
	if meta.IsDefined("dir") {
		cfg.Dir = strings.TrimSpace(raw.Dir)
	}
	if meta.IsDefined("table") {
		cfg.Table = strings.TrimSpace(raw.Table)
	}
	if meta.IsDefined("namespace") {
		cfg.Namespace = strings.TrimSpace(raw.Namespace)
	}
	if meta.IsDefined("capacity") {
		cfg.Capacity = raw.Capacity
	}
	if meta.IsDefined("tick") {
		if cfg.Tick, err = fileDuration("tick", raw.Tick); err != nil {
			return err
		}
	}
	if meta.IsDefined("expiration") {
		if cfg.Expiration, err = fileDuration("expiration", raw.Expiration); err != nil {
			return err
		}
	}
	if meta.IsDefined("freshness") {
		if cfg.Freshness, err = fileDuration("freshness", raw.Freshness); err != nil {
			return err
		}
	}
	if meta.IsDefined("heartbeat") {
		if cfg.Heartbeat, err = fileDuration("heartbeat", raw.Heartbeat); err != nil {
			return err
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return nil
}

func fileDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load config: %s: %w", key, err)
	}
	return d, nil
}

func overlayEnv(cfg *Config) error {
	var e envConfig
	if err := envconfig.Process("peerbus", &e); err != nil {
		return fmt.Errorf("load config: environment: %w", err)
	}
	if e.ID != nil {
		cfg.ID = *e.ID
	}
	if e.Backend != nil {
		cfg.Backend = *e.Backend
	}
	if e.Dir != nil {
		cfg.Dir = *e.Dir
	}
	if e.Table != nil {
		cfg.Table = *e.Table
	}
	if e.Namespace != nil {
		cfg.Namespace = *e.Namespace
	}
	if e.Capacity != nil {
		cfg.Capacity = *e.Capacity
	}
	if e.Tick != nil {
		cfg.Tick = *e.Tick
	}
	if e.Expiration != nil {
		cfg.Expiration = *e.Expiration
	}
	if e.Freshness != nil {
		cfg.Freshness = *e.Freshness
	}
	if e.Heartbeat != nil {
		cfg.Heartbeat = *e.Heartbeat
	}
	if e.LogLevel != nil {
		cfg.LogLevel = *e.LogLevel
	}
	return nil
}

// busFlags registers the store and timing flags every bus-backed command
// shares and returns the --config destination. The registered defaults
// are sentinels; only flags the user actually set override the config.
func busFlags(flags *flag.FlagSet) *string {
	cfgPath := flags.String("config", "", "TOML config file")
	flags.String("id", "", "instance id (default: generated from pid)")
	flags.String("backend", "", "store backend: dir or table")
	flags.String("store-dir", "", "directory backend root")
	flags.String("table", "", "table backend SQLite path")
	flags.String("namespace", "", "scope for the default store locations")
	flags.Int("capacity", 0, "table backend row capacity")
	flags.Duration("tick", 0, "scheduler tick interval")
	flags.Duration("expiration", 0, "message expiration window")
	flags.Duration("freshness", 0, "peer descriptor freshness window")
	flags.Duration("heartbeat", 0, "quiet republish interval")
	flags.String("log-level", "", "bus log level")
	return cfgPath
}

// applyFlagOverrides copies explicitly set flags into cfg. Unset flags
// leave the file/env/default value alone.
func applyFlagOverrides(flags *flag.FlagSet, cfg *Config) {
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.ID = f.Value.String()
		case "backend":
			cfg.Backend = f.Value.String()
		case "store-dir":
			cfg.Dir = f.Value.String()
		case "table":
			cfg.Table = f.Value.String()
		case "namespace":
			cfg.Namespace = f.Value.String()
		case "capacity":
			cfg.Capacity = f.Value.(flag.Getter).Get().(int)
		case "tick":
			cfg.Tick = f.Value.(flag.Getter).Get().(time.Duration)
		case "expiration":
			cfg.Expiration = f.Value.(flag.Getter).Get().(time.Duration)
		case "freshness":
			cfg.Freshness = f.Value.(flag.Getter).Get().(time.Duration)
		case "heartbeat":
			cfg.Heartbeat = f.Value.(flag.Getter).Get().(time.Duration)
		case "log-level":
			cfg.LogLevel = f.Value.String()
		}
	})
}

// resolveConfig builds the effective configuration for one parsed
// command line: defaults, then the config file, then PEERBUS_*
// environment, then explicitly passed flags.
func resolveConfig(flags *flag.FlagSet, path string) (Config, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return Config{}, err
	}
	applyFlagOverrides(flags, &cfg)
	return cfg, nil
}
