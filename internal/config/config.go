// Package config provides configuration management for the Frameloop Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort            = 8645
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".frameloop"
	DefaultFPS             = 30.0
	DefaultTickIntervalMs  = 16
	DefaultStepFrames      = 1
	DefaultSnapThreshold   = 8 // pixels
	DefaultPixelsPerSecond = 60.0
	DefaultAutosaveDelayMs = 1500

	// Environment variable names
	EnvPort          = "FRAMELOOP_PORT"
	EnvLogLevel      = "FRAMELOOP_LOG_LEVEL"
	EnvDataDir       = "FRAMELOOP_DATA_DIR"
	EnvMediaDir      = "FRAMELOOP_MEDIA_DIR"
	EnvTickInterval  = "FRAMELOOP_TICK_MS"
	EnvHeadless      = "FRAMELOOP_HEADLESS"
	EnvAutosaveDelay = "FRAMELOOP_AUTOSAVE_MS"

	// Database filename
	DBFilename = "frameloop.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	TickInterval() time.Duration
	AutosaveDelay() time.Duration
	StepFrames() int64
	SnapThresholdPx() float64
	PixelsPerSecond() float64
	Headless() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	mediaDir   string
	tickMs     int
	autosaveMs int
	headless   bool
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:       DefaultPort,
		logLevel:   DefaultLogLevel,
		dataDir:    defaultDataDir(),
		tickMs:     DefaultTickIntervalMs,
		autosaveMs: DefaultAutosaveDelayMs,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.mediaDir = os.Getenv(EnvMediaDir)

	if tm := os.Getenv(EnvTickInterval); tm != "" {
		ms, err := strconv.Atoi(tm)
		if err != nil || ms < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive millisecond count", EnvTickInterval)
		}
		cfg.tickMs = ms
	}

	if am := os.Getenv(EnvAutosaveDelay); am != "" {
		ms, err := strconv.Atoi(am)
		if err != nil || ms < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive millisecond count", EnvAutosaveDelay)
		}
		cfg.autosaveMs = ms
	}

	cfg.headless = os.Getenv(EnvHeadless) == "1" || os.Getenv(EnvHeadless) == "true"

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir returns the directory local clips are imported from. Empty means
// imports must use absolute paths.
func (c *EnvConfig) MediaDir() string {
	return c.mediaDir
}

// TickInterval returns the engine frame-loop interval
func (c *EnvConfig) TickInterval() time.Duration {
	return time.Duration(c.tickMs) * time.Millisecond
}

// AutosaveDelay returns the debounce window for snapshot autosaves
func (c *EnvConfig) AutosaveDelay() time.Duration {
	return time.Duration(c.autosaveMs) * time.Millisecond
}

// StepFrames returns the arrow-key frame increment
func (c *EnvConfig) StepFrames() int64 {
	return DefaultStepFrames
}

// SnapThresholdPx returns the magnetic snapping distance in pixels
func (c *EnvConfig) SnapThresholdPx() float64 {
	return DefaultSnapThreshold
}

// PixelsPerSecond returns the base timeline scale at zoom 1.0
func (c *EnvConfig) PixelsPerSecond() float64 {
	return DefaultPixelsPerSecond
}

// Headless reports whether the system tray should be skipped
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
