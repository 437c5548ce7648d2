package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventAnalyze  AuditEventType = "workflow.analyze"
	AuditEventFlag     AuditEventType = "workflow.flag"
	AuditEventMarkOK   AuditEventType = "workflow.mark_ok"
	AuditEventFix      AuditEventType = "workflow.fix"
	AuditEventReset    AuditEventType = "workflow.reset"
	AuditEventNoBugs   AuditEventType = "workflow.no_bugs"
	AuditEventError    AuditEventType = "workflow.error"
	AuditEventPassDone AuditEventType = "pass.complete"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	Workbook    string         `json:"workbook,omitempty"`
	Cell        string         `json:"cell,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	workbook  string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
	Workbook   string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stderr",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	l := NewAuditWriter(writer, config.SessionID)
	l.userID = config.UserID
	l.workbook = config.Workbook
	l.enabled = config.Enabled
	return l, nil
}

// NewAuditWriter returns an enabled logger writing to w.
func NewAuditWriter(w io.Writer, sessionID string) *AuditLogger {
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return &AuditLogger{writer: w, sessionID: sessionID, enabled: true}
}

// Disabled returns a logger that drops every event.
func Disabled() *AuditLogger {
	return &AuditLogger{enabled: false}
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}
	if event.Workbook == "" {
		event.Workbook = l.workbook
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogAnalyze logs a completed analysis with its flaggable count.
func (l *AuditLogger) LogAnalyze(ctx context.Context, duration time.Duration, scored, flaggable int, truncated bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventAnalyze,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Analyzed %d cells, %d flaggable", scored, flaggable),
		Details: map[string]any{
			"scored":    scored,
			"flaggable": flaggable,
			"truncated": truncated,
		},
	})
}

// LogFlag logs the cell presented for review.
func (l *AuditLogger) LogFlag(ctx context.Context, cell string, score int) {
	l.Log(&AuditEvent{
		EventType: AuditEventFlag,
		Cell:      cell,
		Success:   true,
		Message:   fmt.Sprintf("Flagged %s", cell),
		Details:   map[string]any{"score": score},
	})
}

// LogMarkOK logs a flagged cell accepted as correct.
func (l *AuditLogger) LogMarkOK(ctx context.Context, cell string) {
	l.Log(&AuditEvent{
		EventType: AuditEventMarkOK,
		Cell:      cell,
		Success:   true,
		Message:   fmt.Sprintf("Marked %s as correct", cell),
	})
}

// LogFix logs a correction written to a flagged cell.
func (l *AuditLogger) LogFix(ctx context.Context, cell, oldValue, newValue string) {
	l.Log(&AuditEvent{
		EventType: AuditEventFix,
		Cell:      cell,
		Success:   true,
		Message:   fmt.Sprintf("Fixed %s", cell),
		Details: map[string]any{
			"old_value": oldValue,
			"new_value": newValue,
		},
	})
}

// LogReset logs a tool reset.
func (l *AuditLogger) LogReset(ctx context.Context, restored int) {
	l.Log(&AuditEvent{
		EventType: AuditEventReset,
		Success:   true,
		Message:   "Reset tool state",
		Details:   map[string]any{"restored_cells": restored},
	})
}

// LogNoBugs logs that no flaggable cells remain.
func (l *AuditLogger) LogNoBugs(ctx context.Context) {
	l.Log(&AuditEvent{
		EventType: AuditEventNoBugs,
		Success:   true,
		Message:   "No remaining suspicious cells",
	})
}

// LogError logs a failed workflow operation.
func (l *AuditLogger) LogError(ctx context.Context, op string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventError,
		Success:     false,
		Message:     fmt.Sprintf("%s failed", op),
		ErrorDetail: err.Error(),
		Details:     map[string]any{"op": op},
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		return Disabled()
	}
	return globalAuditLogger
}
