// Package eventlog persists feature status transitions as daily rotated
// JSONL files, giving the board an auditable history independent of the
// database's current-state view.
package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"conductor/pkg/proto"
)

// Writer appends status change notifications to daily rotated JSONL files.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates a writer rooted at logDir, creating the directory and
// the current day's file as needed.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log file: %w", err)
	}
	return w, nil
}

// WriteTransition appends one status change as a JSON line.
func (w *Writer) WriteTransition(n *proto.StatusChangeNotification) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate event log: %w", err)
	}

	jsonData, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}

	if _, err := w.currentFile.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

// Consume drains notifications from the channel until it is closed, logging
// each transition. Intended to run as a goroutine fed by the scheduler.
func (w *Writer) Consume(ch <-chan proto.StatusChangeNotification) {
	for n := range ch {
		notification := n
		_ = w.WriteTransition(&notification) //nolint:errcheck // Transition log is best effort
	}
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == newDate {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("transitions-%s.jsonl", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// ReadDay returns the transitions logged on the given date (local time).
func (w *Writer) ReadDay(date time.Time) ([]proto.StatusChangeNotification, error) {
	path := filepath.Join(w.logDir, fmt.Sprintf("transitions-%s.jsonl", date.Format("2006-01-02")))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read event log file %s: %w", path, err)
	}

	var out []proto.StatusChangeNotification
	decoder := json.NewDecoder(bytes.NewReader(data))
	for decoder.More() {
		var n proto.StatusChangeNotification
		if err := decoder.Decode(&n); err != nil {
			return nil, fmt.Errorf("failed to decode event log line: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}
