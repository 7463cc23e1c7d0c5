package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
)

const (
	appName           = "gcalappt"
	configFileName    = ".gcalappt.toml"
	defaultListenAddr = "127.0.0.1:8080"
	defaultInterval   = 60
	defaultWindowDays = 30
)

type Config struct {
	General GeneralConfig `toml:"general"`
	Google  GoogleConfig  `toml:"google"`
	CalDAV  CalDAVConfig  `toml:"caldav"`
	Server  ServerConfig  `toml:"server"`
}

type GeneralConfig struct {
	Provider        string `toml:"provider"`
	CalendarID      string `toml:"calendar_id"`
	IntervalMinutes int    `toml:"interval_minutes"`
	WindowDays      int    `toml:"window_days"`
	VerbosityLevel  int    `toml:"verbosity_level"`
	Database        string `toml:"database"`
}

type GoogleConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	APIEndpoint  string `toml:"api_endpoint"`
}

type CalDAVConfig struct {
	ServerURL    string `toml:"server_url"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	CalendarPath string `toml:"calendar_path"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

// Normalize fills in defaults for anything the config file left out.
func (c *Config) Normalize() {
	if c.General.Provider == "" {
		c.General.Provider = providerGoogle
	}
	c.General.Provider = strings.ToLower(c.General.Provider)
	if c.General.CalendarID == "" {
		c.General.CalendarID = "primary"
	}
	if c.General.IntervalMinutes == 0 {
		c.General.IntervalMinutes = defaultInterval
	}
	if c.General.WindowDays == 0 {
		c.General.WindowDays = defaultWindowDays
	}
	if c.General.Database == "" {
		c.General.Database = filepath.Join(xdg.DataHome, appName, appName+".db")
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = "http://" + defaultListenAddr + "/oauth/callback"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListenAddr
	}
}

func (c *Config) Validate() error {
	if c.General.IntervalMinutes < 0 {
		return fmt.Errorf("interval_minutes must be positive, got %d", c.General.IntervalMinutes)
	}
	if c.General.WindowDays < 0 {
		return fmt.Errorf("window_days must be positive, got %d", c.General.WindowDays)
	}
	switch c.General.Provider {
	case providerGoogle, providerCalDAV:
	default:
		return fmt.Errorf("unsupported provider type: %s", c.General.Provider)
	}
	return nil
}

// configCandidates lists where a config file is looked up, in order.
func configCandidates(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	return []string{
		configFileName,
		filepath.Join(xdg.ConfigHome, appName, configFileName),
	}
}

func readConfig(explicit string) (*Config, error) {
	// A missing .env is fine; it only seeds the environment overrides.
	_ = godotenv.Load()

	var config Config
	found := false
	for _, path := range configCandidates(explicit) {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && explicit == "" {
				continue
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		found = true
		break
	}
	if !found {
		log.Debug("No config file found, using defaults")
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		config.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		config.Google.ClientSecret = v
	}

	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// Scheduled cycles and HTTP handlers share one connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := dbInit(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newLogger maps verbosity_level onto log levels:
// 0 - errors only
// 1, 2 - sync cycles and published records
// 3 and above - per-event detail
func newLogger(w io.Writer, verbosity int) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          appName,
	})
	switch {
	case verbosity <= 0:
		logger.SetLevel(log.ErrorLevel)
	case verbosity < 3:
		logger.SetLevel(log.InfoLevel)
	default:
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}
