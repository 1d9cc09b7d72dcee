package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/persist"
	"github.com/13illydakid/p-lizard-ext/internal/store"
)

const (
	maxBodySize  = 1 << 20  // 1MB
	maxImageSize = 16 << 20 // 16MB raw image uploads
)

// Config is the host configuration: defaults, then config.yaml in the state
// dir, then PLIZARD_* environment variables.
type Config struct {
	Port            string          `yaml:"port"`
	CDPURL          string          `yaml:"cdp_url"`
	Token           string          `yaml:"token"`
	StateDir        string          `yaml:"-"`
	ProfileDir      string          `yaml:"profile"`
	Headless        bool            `yaml:"headless"`
	NoRestore       bool            `yaml:"no_restore"`
	PinnedTab       string          `yaml:"pinned_tab"`
	StoreBackend    string          `yaml:"store"`
	DatabaseURL     string          `yaml:"database_url"`
	QuotaBytes      int             `yaml:"quota_bytes"`
	SaveDelay       time.Duration   `yaml:"save_delay"`
	LogFormat       string          `yaml:"log_format"`
	LogLevel        string          `yaml:"log_level"`
	ActionTimeout   time.Duration   `yaml:"action_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Plan            automation.Plan `yaml:"plan"`
}

func defaultConfig(stateDir string) Config {
	return Config{
		Port:            "18800",
		StateDir:        stateDir,
		ProfileDir:      filepath.Join(stateDir, "chrome-profile"),
		StoreBackend:    "file",
		QuotaBytes:      store.DefaultQuotaBytesPerItem,
		SaveDelay:       persist.DefaultDelay,
		LogFormat:       "text",
		LogLevel:        "info",
		ActionTimeout:   60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Plan:            automation.DefaultPlan(),
	}
}

// loadConfig builds the configuration for this process.
func loadConfig() (Config, error) {
	stateDir := envOr("PLIZARD_STATE_DIR", filepath.Join(homeDir(), ".plizard"))
	cfg := defaultConfig(stateDir)

	path := envOr("PLIZARD_CONFIG", filepath.Join(stateDir, "config.yaml"))
	if err := cfg.loadFile(path); err != nil {
		return cfg, err
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path. A missing file is not an error.
func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = envOr("PLIZARD_PORT", c.Port)
	c.CDPURL = envOr("CDP_URL", c.CDPURL)
	c.Token = envOr("PLIZARD_TOKEN", c.Token)
	c.ProfileDir = envOr("PLIZARD_PROFILE", c.ProfileDir)
	c.PinnedTab = envOr("PLIZARD_TAB", c.PinnedTab)
	c.StoreBackend = envOr("PLIZARD_STORE", c.StoreBackend)
	c.DatabaseURL = envOr("PLIZARD_DATABASE_URL", c.DatabaseURL)
	c.LogFormat = envOr("PLIZARD_LOG_FORMAT", c.LogFormat)
	c.LogLevel = envOr("PLIZARD_LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("PLIZARD_HEADLESS"); v != "" {
		c.Headless = v == "true"
	}
	if v := os.Getenv("PLIZARD_NO_RESTORE"); v != "" {
		c.NoRestore = v == "true"
	}
	if v := os.Getenv("PLIZARD_QUOTA_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PLIZARD_QUOTA_BYTES: %w", err)
		}
		c.QuotaBytes = n
	}
	for key, dst := range map[string]*time.Duration{
		"PLIZARD_SAVE_DELAY":     &c.SaveDelay,
		"PLIZARD_ACTION_TIMEOUT": &c.ActionTimeout,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "file", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("store %q needs database_url or PLIZARD_DATABASE_URL", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store %q (file, postgres, memory)", c.StoreBackend)
	}
	if err := c.Plan.Validate(); err != nil {
		return err
	}
	return nil
}

// newLogger builds the process logger from the log settings.
func (c Config) newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}
