/*
Package audit provides append-only sinks for the audit trail.

PURPOSE:
  The audit trail records who did what when, with an action-specific
  payload, decoupled from the saga's control flow. It is an
  observability side-channel: appends that fail are logged by the
  caller and never affect the orchestration outcome.

SINKS:
  Memory:   in-process slice; tests and dev.
  FileSink: JSON lines appended to a file; one object per entry, never
            rewritten.
  The SQLite sink lives with the rest of the persistence in
  store/sqlite.
*/
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY SINK
// =============================================================================

// Memory collects audit entries in-process.
type Memory struct {
	mu      sync.RWMutex
	entries []leave.AuditEntry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, entry leave.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *Memory) ByRequest(_ context.Context, requestID string) ([]leave.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if requestID == "" {
		result := make([]leave.AuditEntry, len(m.entries))
		copy(result, m.entries)
		return result, nil
	}
	var result []leave.AuditEntry
	for _, e := range m.entries {
		if e.RequestID == requestID {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// FILE SINK - JSON lines, append-only
// =============================================================================

type fileEntry struct {
	Timestamp string         `json:"timestamp"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// FileSink appends entries as JSON lines. Reads scan the whole file;
// this sink is for operator forensics, not hot-path queries.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (f *FileSink) Append(_ context.Context, entry leave.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(fileEntry{
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
		Action:    entry.Action,
		ActorID:   entry.ActorID,
		RequestID: entry.RequestID,
		Details:   entry.Details,
	})
	if err != nil {
		return err
	}
	_, err = file.Write(append(line, '\n'))
	return err
}

func (f *FileSink) ByRequest(_ context.Context, requestID string) ([]leave.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result []leave.AuditEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var fe fileEntry
		if err := dec.Decode(&fe); err != nil {
			return nil, fmt.Errorf("corrupt audit line: %w", err)
		}
		if requestID != "" && fe.RequestID != requestID {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, fe.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("corrupt audit timestamp: %w", err)
		}
		result = append(result, leave.AuditEntry{
			Timestamp: ts,
			Action:    fe.Action,
			ActorID:   fe.ActorID,
			RequestID: fe.RequestID,
			Details:   fe.Details,
		})
	}
	return result, nil
}
