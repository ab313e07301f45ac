// Package config handles loading and validation of OffTimes configuration.
// It loads from .env files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration.
type Config struct {
	DBPath         string        // OFFTIMES_DB_PATH
	DBPathExplicit bool          // true if user explicitly set --db or OFFTIMES_DB_PATH
	Port           int           // OFFTIMES_PORT
	PollInterval   time.Duration // OFFTIMES_POLL_INTERVAL (seconds → Duration)
	RetentionDays  int           // OFFTIMES_RETENTION_DAYS
	SpoolPath      string        // OFFTIMES_SPOOL_PATH (observation spool file; optional)
	AdminUser      string        // OFFTIMES_ADMIN_USER
	AdminPass      string        // OFFTIMES_ADMIN_PASS
	LogLevel       string        // OFFTIMES_LOG_LEVEL
	DebugMode      bool          // --debug flag (foreground mode)
	TestMode       bool          // --test flag (isolated PID/log files)
}

// flagValues holds parsed CLI flags.
type flagValues struct {
	interval  int
	port      int
	retention int
	db        string
	spool     string
	debug     bool
	test      bool
}

// Load reads configuration from .env file, environment variables, and CLI
// flags. Flags take precedence over environment variables.
func Load() (*Config, error) {
	return loadWithArgs(os.Args[1:])
}

// loadWithArgs loads config with specific arguments (for testing).
func loadWithArgs(args []string) (*Config, error) {
	flags := &flagValues{}

	// Parse CLI flags manually to avoid flag.ExitOnError in tests
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--debug":
			flags.debug = true
		case arg == "--test":
			flags.test = true
		case strings.HasPrefix(arg, "--interval="):
			if v, err := strconv.Atoi(strings.TrimPrefix(arg, "--interval=")); err == nil {
				flags.interval = v
			}
		case arg == "--interval":
			if i+1 < len(args) {
				if v, err := strconv.Atoi(args[i+1]); err == nil {
					flags.interval = v
					i++
				}
			}
		case strings.HasPrefix(arg, "--port="):
			if v, err := strconv.Atoi(strings.TrimPrefix(arg, "--port=")); err == nil {
				flags.port = v
			}
		case arg == "--port":
			if i+1 < len(args) {
				if v, err := strconv.Atoi(args[i+1]); err == nil {
					flags.port = v
					i++
				}
			}
		case strings.HasPrefix(arg, "--retention="):
			if v, err := strconv.Atoi(strings.TrimPrefix(arg, "--retention=")); err == nil {
				flags.retention = v
			}
		case arg == "--retention":
			if i+1 < len(args) {
				if v, err := strconv.Atoi(args[i+1]); err == nil {
					flags.retention = v
					i++
				}
			}
		case strings.HasPrefix(arg, "--db="):
			flags.db = strings.TrimPrefix(arg, "--db=")
		case arg == "--db":
			if i+1 < len(args) {
				flags.db = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--spool="):
			flags.spool = strings.TrimPrefix(arg, "--spool=")
		case arg == "--spool":
			if i+1 < len(args) {
				flags.spool = args[i+1]
				i++
			}
		}
	}

	return loadFromEnvAndFlags(flags)
}

// loadFromEnvAndFlags combines environment variables with CLI flags.
func loadFromEnvAndFlags(flags *flagValues) (*Config, error) {
	// .env file is optional
	_ = godotenv.Load(".env")

	cfg := &Config{}

	if flags.interval > 0 {
		cfg.PollInterval = time.Duration(flags.interval) * time.Second
	} else if env := os.Getenv("OFFTIMES_POLL_INTERVAL"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.PollInterval = time.Duration(v) * time.Second
		}
	}

	if flags.port > 0 {
		cfg.Port = flags.port
	} else if env := os.Getenv("OFFTIMES_PORT"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.Port = v
		}
	}

	if flags.retention > 0 {
		cfg.RetentionDays = flags.retention
	} else if env := os.Getenv("OFFTIMES_RETENTION_DAYS"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.RetentionDays = v
		}
	}

	if flags.db != "" {
		cfg.DBPath = flags.db
		cfg.DBPathExplicit = true
	} else if envDB := os.Getenv("OFFTIMES_DB_PATH"); envDB != "" {
		cfg.DBPath = envDB
		cfg.DBPathExplicit = true
	}

	if flags.spool != "" {
		cfg.SpoolPath = flags.spool
	} else {
		cfg.SpoolPath = os.Getenv("OFFTIMES_SPOOL_PATH")
	}

	cfg.AdminUser = os.Getenv("OFFTIMES_ADMIN_USER")
	cfg.AdminPass = os.Getenv("OFFTIMES_ADMIN_PASS")
	cfg.LogLevel = os.Getenv("OFFTIMES_LOG_LEVEL")
	cfg.DebugMode = flags.debug
	cfg.TestMode = flags.test

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for empty config fields.
func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.Port == 0 {
		c.Port = 9310
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 60
	}
	if c.AdminUser == "" {
		c.AdminUser = "admin"
	}
	if c.AdminPass == "" {
		c.AdminPass = "changeme"
	}
	if c.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			c.DBPath = "./offtimes.db"
		} else {
			c.DBPath = filepath.Join(home, ".offtimes", "data", "offtimes.db")
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PollInterval < 5*time.Second {
		return fmt.Errorf("poll interval must be at least %v", 5*time.Second)
	}
	if c.PollInterval > time.Hour {
		return fmt.Errorf("poll interval must be at most %v", time.Hour)
	}
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535")
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention must be at least 1 day")
	}
	return nil
}

// String returns a redacted string representation of the config.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Config{\n")
	fmt.Fprintf(&sb, "  DBPath: %s,\n", c.DBPath)
	fmt.Fprintf(&sb, "  Port: %d,\n", c.Port)
	fmt.Fprintf(&sb, "  PollInterval: %v,\n", c.PollInterval)
	fmt.Fprintf(&sb, "  RetentionDays: %d,\n", c.RetentionDays)
	if c.SpoolPath != "" {
		fmt.Fprintf(&sb, "  SpoolPath: %s,\n", c.SpoolPath)
	}
	fmt.Fprintf(&sb, "  AdminUser: %s,\n", c.AdminUser)
	fmt.Fprintf(&sb, "  AdminPass: ****,\n")
	fmt.Fprintf(&sb, "  LogLevel: %s,\n", c.LogLevel)
	fmt.Fprintf(&sb, "  DebugMode: %v,\n", c.DebugMode)
	fmt.Fprintf(&sb, "}")
	return sb.String()
}

// LogWriter returns the log destination: stdout in debug mode, otherwise a
// file next to the database.
func (c *Config) LogWriter() (io.Writer, error) {
	if c.DebugMode {
		return os.Stdout, nil
	}

	logName := ".offtimes.log"
	if c.TestMode {
		logName = ".offtimes-test.log"
	}
	logPath := filepath.Join(filepath.Dir(c.DBPath), logName)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
