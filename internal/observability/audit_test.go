package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ==================== AuditConfig Tests ====================

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	if !cfg.Enabled {
		t.Fatal("expected enabled by default")
	}
	if cfg.OutputPath != "stderr" {
		t.Fatalf("expected stderr, got %s", cfg.OutputPath)
	}
}

// ==================== AuditLogger Tests ====================

func TestAuditLogger_New_Outputs(t *testing.T) {
	for _, out := range []string{"stdout", "stderr", ""} {
		l, err := NewAuditLogger(&AuditConfig{Enabled: true, OutputPath: out})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", out, err)
		}
		if l == nil {
			t.Fatalf("%q: expected non-nil logger", out)
		}
	}
}

func TestAuditLogger_New_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	l, err := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: logPath,
		Workbook:   "book.xlsx",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestAuditLogger_New_BadPath(t *testing.T) {
	_, err := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: filepath.Join(t.TempDir(), "missing", "audit.log"),
	})
	if err == nil {
		t.Fatal("expected error for unwritable path")
	}
}

func TestAuditLogger_New_NilConfig(t *testing.T) {
	l, err := NewAuditLogger(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.enabled {
		t.Fatal("expected enabled logger")
	}
}

func TestAuditLogger_Log_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{
		writer:  &buf,
		enabled: false,
	}

	if err := l.Log(&AuditEvent{EventType: AuditEventFlag}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() > 0 {
		t.Fatal("expected no output when disabled")
	}
}

func TestAuditLogger_Log_NilLogger(t *testing.T) {
	var l *AuditLogger
	if err := l.Log(&AuditEvent{EventType: AuditEventFlag}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditLogger_Log_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{
		writer:    &buf,
		sessionID: "test-session",
		userID:    "test-user",
		workbook:  "budget.xlsx",
		enabled:   true,
	}

	err := l.Log(&AuditEvent{
		EventType: AuditEventFlag,
		Cell:      "Sheet1!A2",
		Success:   true,
		Message:   "test message",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var event AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	if event.EventType != AuditEventFlag {
		t.Fatalf("expected workflow.flag, got %s", event.EventType)
	}
	if event.Cell != "Sheet1!A2" {
		t.Fatalf("expected Sheet1!A2, got %s", event.Cell)
	}
	if event.SessionID != "test-session" || event.UserID != "test-user" || event.Workbook != "budget.xlsx" {
		t.Fatalf("defaults not filled: %+v", event)
	}
}

func TestAuditLogger_Log_FillsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditWriter(&buf, "s")

	before := time.Now().UTC()
	l.Log(&AuditEvent{EventType: AuditEventReset})
	after := time.Now().UTC()

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Fatal("timestamp should be set automatically")
	}
}

func TestAuditLogger_SessionID_Generated(t *testing.T) {
	l := NewAuditWriter(&bytes.Buffer{}, "")
	if !strings.HasPrefix(l.sessionID, "session-") {
		t.Fatalf("expected session- prefix, got %s", l.sessionID)
	}
}

// ==================== Convenience Methods Tests ====================

func decodeEvents(t *testing.T, buf *bytes.Buffer) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e AuditEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func TestAuditLogger_WorkflowEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditWriter(&buf, "s")
	ctx := context.Background()

	l.LogAnalyze(ctx, time.Second, 12, 1, false)
	l.LogFlag(ctx, "Sheet1!A2", 3)
	l.LogMarkOK(ctx, "Sheet1!A2")
	l.LogFix(ctx, "Sheet1!A3", "1000", "100")
	l.LogNoBugs(ctx)
	l.LogReset(ctx, 2)
	l.LogError(ctx, "analyze", errors.New("boom"))

	events := decodeEvents(t, &buf)
	want := []AuditEventType{
		AuditEventAnalyze, AuditEventFlag, AuditEventMarkOK, AuditEventFix,
		AuditEventNoBugs, AuditEventReset, AuditEventError,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if e.EventType != want[i] {
			t.Errorf("event %d = %s, want %s", i, e.EventType, want[i])
		}
	}
	if events[1].Details["score"] != float64(3) {
		t.Errorf("flag score = %v", events[1].Details["score"])
	}
	if events[3].Details["new_value"] != "100" {
		t.Errorf("fix details = %v", events[3].Details)
	}
	if events[6].Success || events[6].ErrorDetail != "boom" {
		t.Errorf("error event = %+v", events[6])
	}
}

func TestAuditLogger_Close_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: logPath,
	})

	l.Log(&AuditEvent{EventType: AuditEventFlag})
	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log content")
	}
}

func TestAuditLogger_Close_Stdout(t *testing.T) {
	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	})

	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ==================== Global Logger Tests ====================

func TestAudit_DisabledByDefault(t *testing.T) {
	globalAuditLogger = nil

	if Audit().enabled {
		t.Fatal("expected disabled logger when not initialized")
	}
}
