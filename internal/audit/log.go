// Package audit writes an encrypted append-only activity log and serves
// bounded queries over the retained window.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/logging"
	"aegis/internal/secure"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record is one audit event. Records are written in insertion order and
// never mutated.
type Record struct {
	ID        string            `json:"id"`
	TS        time.Time         `json:"ts"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Resource  string            `json:"resource"`
	Details   map[string]string `json:"details,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Success   bool              `json:"success"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Filter restricts Query. Zero fields match everything.
type Filter struct {
	Actor    string
	Action   string
	Resource string
	From     time.Time
	To       time.Time
	Success  *bool
	Limit    int
}

// Log appends newline-delimited GCM envelopes to a file and retains a
// recent window in memory for queries.
type Log struct {
	mu        sync.Mutex
	ring      []Record
	retention time.Duration

	path  string
	codec *secure.Codec
	bus   *bus.Bus
}

// Options configures NewLog.
type Options struct {
	Path      string
	Codec     *secure.Codec
	Bus       *bus.Bus
	Retention time.Duration
}

// NewLog builds a log; retention defaults to 30 days.
func NewLog(opts Options) *Log {
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	return &Log{
		retention: opts.Retention,
		path:      opts.Path,
		codec:     opts.Codec,
		bus:       opts.Bus,
	}
}

// Load replays the file into the in-memory window. A line that fails to
// decrypt is a PersistenceCorrupt error: the log is evidence and is never
// silently truncated.
func (l *Log) Load() error {
	const op = "audit.Load"
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return aerr.E(aerr.KindInternal, op, err)
	}
	defer f.Close()

	cutoff := time.Now().Add(-l.retention)
	var ring []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env secure.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return aerr.E(aerr.KindPersistenceCorrupt, op, "malformed audit line", err)
		}
		raw, err := l.codec.Open(&env)
		if err != nil {
			return aerr.E(aerr.KindPersistenceCorrupt, op, err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return aerr.E(aerr.KindPersistenceCorrupt, op, err)
		}
		if rec.TS.After(cutoff) {
			ring = append(ring, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}

	l.mu.Lock()
	l.ring = ring
	l.mu.Unlock()
	return nil
}

// Append writes one record. The file write happens under the lock so
// insertion order on disk matches the in-memory window.
func (l *Log) Append(ctx context.Context, rec Record) error {
	const op = "audit.Append"
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now()
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	env, err := l.codec.Seal(raw)
	if err != nil {
		return err
	}
	line, err := json.Marshal(env)
	if err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}

	l.mu.Lock()
	if err := l.appendLineLocked(line); err != nil {
		l.mu.Unlock()
		return aerr.E(aerr.KindInternal, op, err)
	}
	l.ring = append(l.ring, rec)
	l.pruneLocked()
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(ctx, bus.Event{Topic: bus.TopicAuditCreated, Payload: map[string]any{
			"action":   rec.Action,
			"actor":    rec.Actor,
			"resource": rec.Resource,
			"success":  rec.Success,
		}})
	}
	return nil
}

func (l *Log) appendLineLocked(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (l *Log) pruneLocked() {
	cutoff := time.Now().Add(-l.retention)
	i := 0
	for i < len(l.ring) && l.ring[i].TS.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.ring = l.ring[i:]
	}
}

// Record implements the authentication auditor hook.
func (l *Log) Record(ctx context.Context, actor, action, resource string, success bool, details map[string]string) {
	err := l.Append(ctx, Record{
		Actor:    actor,
		Action:   action,
		Resource: resource,
		Success:  success,
		Details:  details,
	})
	if err != nil {
		logging.Get(logging.CategoryAudit).Error("audit append failed", zap.Error(err))
	}
}

// Query filters the retained window, newest first, bounded by
// Filter.Limit (default 100).
func (l *Log) Query(f Filter) []Record {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for i := len(l.ring) - 1; i >= 0 && len(out) < f.Limit; i-- {
		rec := l.ring[i]
		if f.Actor != "" && rec.Actor != f.Actor {
			continue
		}
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		if f.Resource != "" && rec.Resource != f.Resource {
			continue
		}
		if !f.From.IsZero() && rec.TS.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.TS.After(f.To) {
			continue
		}
		if f.Success != nil && rec.Success != *f.Success {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Len returns the retained record count.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring)
}
