package main

import (
	"os"
	"path/filepath"
	"testing"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"offtimes"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func TestHasFlag(t *testing.T) {
	withArgs(t, "--debug", "--port", "8080")

	if !hasFlag("--debug") {
		t.Error("Expected --debug to be present")
	}
	if hasFlag("--test") {
		t.Error("Expected --test to be absent")
	}
}

func TestHasCommand(t *testing.T) {
	withArgs(t, "stop")

	if !hasCommand("stop", "--stop") {
		t.Error("Expected stop command to match")
	}
	if hasCommand("status", "--status") {
		t.Error("Expected status command to not match")
	}
}

func TestReadPIDFile(t *testing.T) {
	oldPIDFile := pidFile
	t.Cleanup(func() { pidFile = oldPIDFile })
	pidFile = filepath.Join(t.TempDir(), "offtimes.pid")

	if _, _, ok := readPIDFile(); ok {
		t.Error("Expected ok=false for missing PID file")
	}

	if err := os.WriteFile(pidFile, []byte("1234:9310\n"), 0644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	pid, port, ok := readPIDFile()
	if !ok || pid != 1234 || port != 9310 {
		t.Errorf("readPIDFile = %d, %d, %v; want 1234, 9310, true", pid, port, ok)
	}

	// Legacy bare-PID format.
	if err := os.WriteFile(pidFile, []byte("5678"), 0644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	pid, port, ok = readPIDFile()
	if !ok || pid != 5678 || port != 0 {
		t.Errorf("readPIDFile = %d, %d, %v; want 5678, 0, true", pid, port, ok)
	}

	if err := os.WriteFile(pidFile, []byte("garbage"), 0644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	if _, _, ok := readPIDFile(); ok {
		t.Error("Expected ok=false for unparseable PID file")
	}
}

func TestVersionEmbedded(t *testing.T) {
	if version == "" || version == "dev" {
		t.Errorf("version = %q, expected the embedded release version", version)
	}
}
