package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWithArgs(nil)
	if err != nil {
		t.Fatalf("loadWithArgs failed: %v", err)
	}

	if cfg.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v, want 60s", cfg.PollInterval)
	}
	if cfg.Port != 9310 {
		t.Errorf("Port = %d, want 9310", cfg.Port)
	}
	if cfg.RetentionDays != 60 {
		t.Errorf("RetentionDays = %d, want 60", cfg.RetentionDays)
	}
	if cfg.AdminUser != "admin" {
		t.Errorf("AdminUser = %q, want admin", cfg.AdminUser)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.DBPath == "" {
		t.Error("Expected a default DB path")
	}
	if cfg.DBPathExplicit {
		t.Error("Expected DBPathExplicit to be false for the default path")
	}
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := loadWithArgs([]string{
		"--interval", "30",
		"--port=8080",
		"--retention=7",
		"--db", "/tmp/test.db",
		"--spool=/tmp/obs.jsonl",
		"--debug",
		"--test",
	})
	if err != nil {
		t.Fatalf("loadWithArgs failed: %v", err)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.RetentionDays)
	}
	if cfg.DBPath != "/tmp/test.db" || !cfg.DBPathExplicit {
		t.Errorf("DBPath = %q (explicit %v)", cfg.DBPath, cfg.DBPathExplicit)
	}
	if cfg.SpoolPath != "/tmp/obs.jsonl" {
		t.Errorf("SpoolPath = %q", cfg.SpoolPath)
	}
	if !cfg.DebugMode || !cfg.TestMode {
		t.Error("Expected debug and test modes to be set")
	}
}

func TestLoad_EnvVars(t *testing.T) {
	t.Setenv("OFFTIMES_POLL_INTERVAL", "120")
	t.Setenv("OFFTIMES_PORT", "9999")
	t.Setenv("OFFTIMES_RETENTION_DAYS", "14")
	t.Setenv("OFFTIMES_DB_PATH", "/tmp/env.db")
	t.Setenv("OFFTIMES_ADMIN_USER", "boss")
	t.Setenv("OFFTIMES_ADMIN_PASS", "secret")
	t.Setenv("OFFTIMES_LOG_LEVEL", "debug")

	cfg, err := loadWithArgs(nil)
	if err != nil {
		t.Fatalf("loadWithArgs failed: %v", err)
	}

	if cfg.PollInterval != 120*time.Second {
		t.Errorf("PollInterval = %v, want 120s", cfg.PollInterval)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.RetentionDays != 14 {
		t.Errorf("RetentionDays = %d, want 14", cfg.RetentionDays)
	}
	if cfg.DBPath != "/tmp/env.db" || !cfg.DBPathExplicit {
		t.Errorf("DBPath = %q (explicit %v)", cfg.DBPath, cfg.DBPathExplicit)
	}
	if cfg.AdminUser != "boss" || cfg.AdminPass != "secret" {
		t.Errorf("Admin = %q / %q", cfg.AdminUser, cfg.AdminPass)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	t.Setenv("OFFTIMES_PORT", "9999")

	cfg, err := loadWithArgs([]string{"--port", "8080"})
	if err != nil {
		t.Fatalf("loadWithArgs failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want flag value 8080", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"interval too short", []string{"--interval", "1"}},
		{"interval too long", []string{"--interval", "7200"}},
		{"privileged port", []string{"--port", "80"}},
		{"port out of range", []string{"--port", "70000"}},
	}
	for _, c := range cases {
		if _, err := loadWithArgs(c.args); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestValidate_NegativeRetention(t *testing.T) {
	t.Setenv("OFFTIMES_RETENTION_DAYS", "-3")
	if _, err := loadWithArgs(nil); err == nil {
		t.Error("Expected validation error for negative retention")
	}
}

func TestString_RedactsPassword(t *testing.T) {
	t.Setenv("OFFTIMES_ADMIN_PASS", "supersecret")

	cfg, err := loadWithArgs(nil)
	if err != nil {
		t.Fatalf("loadWithArgs failed: %v", err)
	}
	s := cfg.String()
	if strings.Contains(s, "supersecret") {
		t.Error("Config.String leaked the admin password")
	}
	if !strings.Contains(s, "****") {
		t.Error("Expected a redaction marker in Config.String")
	}
}
