package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gzhole/accessguard/internal/redact"
)

// defaultMaxLogBytes is the size at which the audit log is rotated to a
// single ".1" backup.
const defaultMaxLogBytes = 10 << 20

// Actions recorded in the audit log.
const (
	ActionLoad         = "load"
	ActionScan         = "scan"
	ActionScanAll      = "scan-all"
	ActionClear        = "clear"
	ActionCustomCreate = "custom-create"
	ActionCustomRun    = "custom-run"
	ActionServe        = "serve"
)

type AuditEvent struct {
	Timestamp  string `json:"timestamp"`
	Action     string `json:"action"`
	Source     string `json:"source,omitempty"`
	Category   string `json:"category,omitempty"`
	Detector   string `json:"detector,omitempty"`
	Records    int    `json:"records,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
	Flagged    int    `json:"flagged,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

type AuditLogger struct {
	path     string
	maxBytes int64
	file     *os.File
	size     int64
	mu       sync.Mutex
}

func New(path string) (*AuditLogger, error) {
	l := &AuditLogger{path: path, maxBytes: defaultMaxLogBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// rotate moves the current log to path.1, replacing any older backup.
func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return l.open()
}

func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	// Redact sensitive data before logging
	event.Source = redact.Redact(event.Source)
	event.Detail = redact.Redact(event.Detail)
	if event.Error != "" {
		event.Error = redact.Redact(event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if l.size+int64(len(data)) > l.maxBytes && l.size > 0 {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(data)
	l.size += int64(n)
	return err
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
