//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shuifeng1988/OffTimes-sub002/internal/classify"
	"github.com/shuifeng1988/OffTimes-sub002/internal/collector"
	"github.com/shuifeng1988/OffTimes-sub002/internal/registry"
	"github.com/shuifeng1988/OffTimes-sub002/internal/store"
	"github.com/shuifeng1988/OffTimes-sub002/internal/usage"
	"github.com/shuifeng1988/OffTimes-sub002/internal/web"
)

// discardLogger returns a logger that discards all output
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// components holds the fully wired stack over a temp-dir database.
type components struct {
	db      *store.Store
	engine  *usage.Engine
	maint   *usage.Maintenance
	timers  *usage.TimerManager
	handler *web.Handler
}

func wire(t *testing.T) *components {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := registry.New(db, registry.NewSyntheticSource(), classify.Classify, discardLogger())
	filter := usage.NewFilter(reg)
	engine := usage.NewEngine(db, reg, filter, discardLogger())
	maint := usage.NewMaintenance(db, engine, discardLogger())
	timers := usage.NewTimerManager(db, discardLogger())

	handler := web.NewHandler(db, engine, maint, timers, reg, discardLogger())
	handler.SetVersion("test")

	return &components{db: db, engine: engine, maint: maint, timers: timers, handler: handler}
}

// writeSpoolLines appends JSON-lines observations to the spool file.
func writeSpoolLines(t *testing.T, path string, obs []collector.Observation) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("Failed to open spool file: %v", err)
	}
	defer f.Close()
	for _, o := range obs {
		line, _ := json.Marshal(o)
		fmt.Fprintf(f, "%s\n", line)
	}
}

// TestIntegration_FullCycle tests the complete flow from spool file to API data
func TestIntegration_FullCycle(t *testing.T) {
	c := wire(t)

	spoolPath := filepath.Join(t.TempDir(), "observations.jsonl")

	// Two overlapping chunks of the same foreground stretch; reconciliation
	// should merge them into one 90s session.
	now := time.Now()
	base := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.Local)
	date := base.Format(usage.DayKeyFormat)
	writeSpoolLines(t, spoolPath, []collector.Observation{
		{PackageName: "com.instagram.android", StartTime: base.UnixMilli(), EndTime: base.Add(60 * time.Second).UnixMilli()},
		{PackageName: "com.instagram.android", StartTime: base.Add(30 * time.Second).UnixMilli(), EndTime: base.Add(90 * time.Second).UnixMilli()},
	})

	source := collector.NewSpoolSource(spoolPath, discardLogger())
	coll := collector.New(source, c.engine, 50*time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- coll.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Collector error: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Collector did not stop in time")
	}

	// Verify the merged session was stored
	sessions, err := c.db.SessionsByDate(date, "")
	if err != nil {
		t.Fatalf("Failed to query sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].DurationSec != 90 {
		t.Errorf("Expected duration 90, got %d", sessions[0].DurationSec)
	}
	if sessions[0].CategoryID != classify.CategorySocial {
		t.Errorf("Expected category %d, got %d", classify.CategorySocial, sessions[0].CategoryID)
	}

	// Verify the web handler reports the same totals
	req := httptest.NewRequest("GET", "/api/usage/daily?date="+date, nil)
	w := httptest.NewRecorder()
	c.handler.DailyUsage(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse daily response: %v", err)
	}
	if resp["totalSec"] != 90.0 {
		t.Errorf("Expected totalSec 90, got %v", resp["totalSec"])
	}
	apps, ok := resp["apps"].([]interface{})
	if !ok || len(apps) != 1 {
		t.Fatalf("Expected 1 app in response, got %v", resp["apps"])
	}
	app := apps[0].(map[string]interface{})
	if app["package"] != "com.instagram.android" {
		t.Errorf("Expected package com.instagram.android, got %v", app["package"])
	}
}

// TestIntegration_SpoolRedelivery tests that a truncated-and-rewritten spool
// file does not duplicate sessions
func TestIntegration_SpoolRedelivery(t *testing.T) {
	c := wire(t)

	spoolPath := filepath.Join(t.TempDir(), "observations.jsonl")

	now := time.Now()
	base := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.Local)
	date := base.Format(usage.DayKeyFormat)
	obs := []collector.Observation{
		{PackageName: "com.spotify.music", StartTime: base.UnixMilli(), EndTime: base.Add(45 * time.Second).UnixMilli()},
	}
	writeSpoolLines(t, spoolPath, obs)

	source := collector.NewSpoolSource(spoolPath, discardLogger())
	coll := collector.New(source, c.engine, 30*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- coll.Run(ctx)
	}()

	// Let the first poll land, then truncate and rewrite the same content
	// so the next poll redelivers it from offset zero.
	time.Sleep(100 * time.Millisecond)
	if err := os.Truncate(spoolPath, 0); err != nil {
		t.Fatalf("Failed to truncate spool: %v", err)
	}
	writeSpoolLines(t, spoolPath, obs)
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Collector did not stop in time")
	}

	sessions, err := c.db.SessionsByDate(date, "com.spotify.music")
	if err != nil {
		t.Fatalf("Failed to query sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session after redelivery, got %d", len(sessions))
	}
	if sessions[0].DurationSec != 45 {
		t.Errorf("Expected duration 45, got %d", sessions[0].DurationSec)
	}
}

// TestIntegration_MidnightSplitViaAPI tests that an observation crossing
// midnight ingested over HTTP lands as two sessions on two dates
func TestIntegration_MidnightSplitViaAPI(t *testing.T) {
	c := wire(t)

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	start := today.Add(-time.Minute)  // yesterday 23:59:00
	end := today.Add(5 * time.Minute) // today 00:05:00
	firstDate := start.Format(usage.DayKeyFormat)
	secondDate := today.Format(usage.DayKeyFormat)

	body := fmt.Sprintf(`[{"package":"com.netflix.mediaclient","start":%d,"end":%d}]`,
		start.UnixMilli(), end.UnixMilli())
	req := httptest.NewRequest("POST", "/api/observations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c.handler.IngestObservations(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	first, err := c.db.SessionsByDate(firstDate, "com.netflix.mediaclient")
	if err != nil {
		t.Fatalf("Failed to query first day: %v", err)
	}
	second, err := c.db.SessionsByDate(secondDate, "com.netflix.mediaclient")
	if err != nil {
		t.Fatalf("Failed to query second day: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Expected 1 session per day, got %d and %d", len(first), len(second))
	}
	if first[0].DurationSec != 59 {
		t.Errorf("Expected first half duration 59, got %d", first[0].DurationSec)
	}
	if second[0].DurationSec != 300 {
		t.Errorf("Expected second half duration 300, got %d", second[0].DurationSec)
	}
	if first[0].EndTime != usage.DayEndMillis(start.UnixMilli()) {
		t.Errorf("First half should end at the day boundary, got %d", first[0].EndTime)
	}
	if second[0].StartTime != first[0].EndTime+1 {
		t.Errorf("Second half should start 1ms after the first ends, got %d", second[0].StartTime)
	}

	// Redeliver the same observation; both boundary halves already match,
	// so nothing should change.
	req = httptest.NewRequest("POST", "/api/observations", strings.NewReader(body))
	w = httptest.NewRecorder()
	c.handler.IngestObservations(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202 on redelivery, got %d", w.Code)
	}

	first, _ = c.db.SessionsByDate(firstDate, "com.netflix.mediaclient")
	second, _ = c.db.SessionsByDate(secondDate, "com.netflix.mediaclient")
	if len(first) != 1 || len(second) != 1 {
		t.Errorf("Redelivery duplicated sessions: %d and %d", len(first), len(second))
	}
}

// TestIntegration_ServerRoundTrip exercises the handlers over a real HTTP
// listener via httptest
func TestIntegration_ServerRoundTrip(t *testing.T) {
	c := wire(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			c.handler.Health(w, r)
		case "/api/timers/start":
			c.handler.StartTimer(w, r)
		case "/api/timers/stop":
			c.handler.StopTimer(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	resp, body := makeRequest(t, "GET", ts.URL+"/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("Expected ok status in body, got %s", body)
	}

	resp, body = makeRequest(t, "POST", ts.URL+"/api/timers/start", `{"activity":"Reading"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = makeRequest(t, "POST", ts.URL+"/api/timers/start", `{"activity":"Running"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409 for second timer, got %d", resp.StatusCode)
	}

	resp, _ = makeRequest(t, "POST", ts.URL+"/api/timers/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 on stop, got %d", resp.StatusCode)
	}
}

// Helper to make HTTP requests in tests
func makeRequest(t *testing.T, method, url string, body string) (*http.Response, string) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp, string(respBody)
}
