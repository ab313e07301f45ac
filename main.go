package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shuifeng1988/OffTimes-sub002/internal/classify"
	"github.com/shuifeng1988/OffTimes-sub002/internal/collector"
	"github.com/shuifeng1988/OffTimes-sub002/internal/config"
	"github.com/shuifeng1988/OffTimes-sub002/internal/registry"
	"github.com/shuifeng1988/OffTimes-sub002/internal/store"
	"github.com/shuifeng1988/OffTimes-sub002/internal/usage"
	"github.com/shuifeng1988/OffTimes-sub002/internal/web"
)

//go:embed VERSION
var embeddedVersion string

var version = "dev"

func init() {
	if version == "dev" {
		version = strings.TrimSpace(embeddedVersion)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	pidDir  = defaultPIDDir()
	pidFile = filepath.Join(pidDir, "offtimes.pid")
)

func defaultPIDDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return os.TempDir()
	}
	return filepath.Join(home, ".offtimes")
}

// hasFlag checks if a flag exists anywhere in os.Args[1:].
func hasFlag(flag string) bool {
	for _, arg := range os.Args[1:] {
		if arg == flag {
			return true
		}
	}
	return false
}

// hasCommand checks if any of the given commands/flags exist in os.Args[1:].
func hasCommand(cmds ...string) bool {
	for _, arg := range os.Args[1:] {
		for _, cmd := range cmds {
			if arg == cmd {
				return true
			}
		}
	}
	return false
}

func writePIDFile(port int) error {
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	content := fmt.Sprintf("%d:%d", os.Getpid(), port)
	return os.WriteFile(pidFile, []byte(content), 0644)
}

func removePIDFile() {
	os.Remove(pidFile)
}

// readPIDFile parses the "PID" or "PID:PORT" content of the PID file.
func readPIDFile() (pid, port int, ok bool) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, 0, false
	}
	content := strings.TrimSpace(string(data))
	if strings.Contains(content, ":") {
		parts := strings.Split(content, ":")
		if len(parts) >= 2 {
			pid, _ = strconv.Atoi(parts[0])
			port, _ = strconv.Atoi(parts[1])
		}
	} else {
		pid, _ = strconv.Atoi(content)
	}
	return pid, port, pid > 0
}

// stopPreviousInstance stops any running offtimes instance via the PID file.
func stopPreviousInstance() {
	pid, _, ok := readPIDFile()
	if !ok || pid == os.Getpid() {
		return
	}
	if proc, err := os.FindProcess(pid); err == nil {
		if err := proc.Signal(syscall.SIGTERM); err == nil {
			fmt.Printf("Stopped previous instance (PID %d)\n", pid)
			time.Sleep(500 * time.Millisecond)
		}
	}
	os.Remove(pidFile)
}

func run() error {
	testMode := hasFlag("--test")
	if testMode {
		pidFile = filepath.Join(pidDir, "offtimes-test.pid")
	}

	if hasCommand("stop", "--stop") {
		return runStop(testMode)
	}
	if hasCommand("status", "--status") {
		return runStatus(testMode)
	}
	if hasCommand("--version", "-v", "version") {
		fmt.Printf("OffTimes v%s\n", version)
		return nil
	}
	if hasCommand("--help", "-h") {
		printHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stopPreviousInstance()

	if err := writePIDFile(cfg.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not write PID file: %v\n", err)
	}
	defer removePIDFile()

	// Setup logging
	logWriter, err := cfg.LogWriter()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() {
		if closer, ok := logWriter.(interface{ Close() error }); ok && !cfg.DebugMode {
			closer.Close()
		}
	}()

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if cfg.DebugMode {
		printBanner(cfg, version)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		logger.Warn("Failed to create database directory", "error", err)
	}

	// Open database
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger.Info("Database opened", "path", cfg.DBPath)

	// Close any timers left open by a previous run (e.g., process was killed)
	if closed, err := db.CloseOrphanedTimers(); err != nil {
		logger.Warn("Failed to close orphaned timers", "error", err)
	} else if closed > 0 {
		logger.Info("Closed orphaned timers", "count", closed)
	}

	// Password precedence: DB-stored hash takes priority over .env
	passwordHash, hashErr := db.GetSetting("admin_pass_hash")
	if hashErr != nil || passwordHash == "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPass), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}
		passwordHash = string(hashed)
		if storeErr := db.SetSetting("admin_pass_hash", passwordHash); storeErr != nil {
			logger.Warn("Failed to store initial password hash", "error", storeErr)
		} else {
			logger.Info("Stored initial password hash in database")
		}
	} else {
		logger.Info("Using database-stored password for auth")
	}

	// Create components
	reg := registry.New(db, registry.NewSyntheticSource(), classify.Classify, logger)
	filter := usage.NewFilter(reg)
	engine := usage.NewEngine(db, reg, filter, logger)
	maint := usage.NewMaintenance(db, engine, logger)
	timers := usage.NewTimerManager(db, logger)

	var coll *collector.Collector
	if cfg.SpoolPath != "" {
		source := collector.NewSpoolSource(cfg.SpoolPath, logger)
		coll = collector.New(source, engine, cfg.PollInterval, logger)
		logger.Info("Spool collector configured", "path", cfg.SpoolPath, "interval", cfg.PollInterval)
	} else {
		logger.Info("No spool configured, observations arrive via the API only")
	}

	handler := web.NewHandler(db, engine, maint, timers, reg, logger)
	handler.SetVersion(version)
	handler.SetRetentionDays(cfg.RetentionDays)
	server := web.NewServer(cfg.Port, handler, logger, cfg.AdminUser, passwordHash)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start collector
	collErr := make(chan error, 1)
	if coll != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Collector panicked", "panic", r)
					collErr <- fmt.Errorf("collector panic: %v", r)
				}
			}()
			logger.Info("Starting collector", "interval", cfg.PollInterval)
			if err := coll.Run(ctx); err != nil {
				collErr <- fmt.Errorf("collector error: %w", err)
			}
		}()
	}

	// Timer heartbeats run regardless of collector configuration
	go timers.Run(ctx)

	// Daily maintenance: run once on startup, then every 24 hours
	go func() {
		runMaintenance(maint, cfg.RetentionDays, logger)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runMaintenance(maint, cfg.RetentionDays, logger)
			}
		}
	}()

	// Start web server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting web server", "port", cfg.Port)
		if err := server.Start(); err != nil {
			serverErr <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for signal or error
	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down gracefully", "signal", sig)
	case err := <-collErr:
		logger.Error("Collector failed", "error", err)
		cancel()
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
		cancel()
	}

	logger.Info("Shutting down...")
	cancel()

	// Give goroutines a moment to close open timers and flush
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("Database close error", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// runMaintenance executes the retention purge and duplicate cleanup.
func runMaintenance(maint *usage.Maintenance, retentionDays int, logger *slog.Logger) {
	if err := maint.PurgeOld(retentionDays); err != nil {
		logger.Error("Retention purge failed", "error", err)
	}
	if deleted, err := maint.CleanupDuplicates(); err != nil {
		logger.Error("Duplicate cleanup failed", "error", err)
	} else if deleted > 0 {
		logger.Info("Duplicate cleanup finished", "deleted", deleted)
	}
}

// runStop stops any running offtimes instance via the PID file.
func runStop(testMode bool) error {
	label := "offtimes"
	if testMode {
		label = "offtimes (test)"
	}

	pid, port, ok := readPIDFile()
	if !ok || pid == os.Getpid() {
		fmt.Printf("No running %s instance found\n", label)
		return nil
	}

	if proc, err := os.FindProcess(pid); err == nil {
		if err := proc.Signal(syscall.SIGTERM); err == nil {
			if port > 0 {
				fmt.Printf("Stopped %s (PID %d) on port %d\n", label, pid, port)
			} else {
				fmt.Printf("Stopped %s (PID %d)\n", label, pid)
			}
		} else {
			fmt.Printf("Process %d not running (stale PID file)\n", pid)
		}
	}
	os.Remove(pidFile)
	return nil
}

// runStatus reports whether an offtimes instance is running.
func runStatus(testMode bool) error {
	label := "offtimes"
	if testMode {
		label = "offtimes (test)"
	}

	pid, port, ok := readPIDFile()
	if !ok || pid == os.Getpid() {
		fmt.Printf("%s is not running\n", label)
		return nil
	}

	if proc, err := os.FindProcess(pid); err == nil {
		// On Unix, signal 0 checks if process exists without killing it
		if err := proc.Signal(syscall.Signal(0)); err == nil {
			fmt.Printf("%s is running (PID %d)\n", label, pid)
			if port > 0 {
				fmt.Printf("  API:      http://localhost:%d\n", port)
			}
			fmt.Printf("  PID file: %s\n", pidFile)
			return nil
		}
	}
	fmt.Printf("%s is not running (stale PID file for PID %d)\n", label, pid)
	return nil
}

func printBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Printf("OffTimes v%s\n", version)
	fmt.Printf("  Polling:   every %v\n", cfg.PollInterval)
	fmt.Printf("  API:       http://localhost:%d\n", cfg.Port)
	fmt.Printf("  Database:  %s\n", cfg.DBPath)
	fmt.Printf("  Retention: %d days\n", cfg.RetentionDays)
	if cfg.SpoolPath != "" {
		fmt.Printf("  Spool:     %s\n", cfg.SpoolPath)
	}
	if cfg.TestMode {
		fmt.Println("  Mode:      TEST (isolated)")
	}
	fmt.Println()
}

func printHelp() {
	fmt.Println("OffTimes - App Usage Session Tracker")
	fmt.Println()
	fmt.Println("Usage: offtimes [COMMAND] [OPTIONS]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  stop, --stop       Stop the running offtimes instance")
	fmt.Println("  status, --status   Show status of the running instance")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  version, --version Print version and exit")
	fmt.Println("  --help             Print this help message")
	fmt.Println("  --interval SEC     Spool polling interval in seconds (default: 60)")
	fmt.Println("  --port PORT        API HTTP port (default: 9310)")
	fmt.Println("  --retention DAYS   Session retention window in days (default: 60)")
	fmt.Println("  --db PATH          SQLite database file path (default: ~/.offtimes/data/offtimes.db)")
	fmt.Println("  --spool PATH       Observation spool file to poll (optional)")
	fmt.Println("  --debug            Run in foreground mode, log to stdout")
	fmt.Println("  --test             Test mode: isolated PID/log files")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  OFFTIMES_POLL_INTERVAL   Spool polling interval in seconds")
	fmt.Println("  OFFTIMES_PORT            API HTTP port")
	fmt.Println("  OFFTIMES_RETENTION_DAYS  Session retention window in days")
	fmt.Println("  OFFTIMES_SPOOL_PATH      Observation spool file")
	fmt.Println("  OFFTIMES_ADMIN_USER      API admin username")
	fmt.Println("  OFFTIMES_ADMIN_PASS      API admin password")
	fmt.Println("  OFFTIMES_DB_PATH         SQLite database file path")
	fmt.Println("  OFFTIMES_LOG_LEVEL       Log level: debug, info, warn, error")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  offtimes --debug                   # Run in foreground mode")
	fmt.Println("  offtimes --spool /var/log/obs.jsonl")
	fmt.Println("  offtimes stop                      # Stop running instance")
	fmt.Println("  offtimes --test --debug            # Run test instance (isolated)")
}
