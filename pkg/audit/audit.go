// Package audit records who changed a cluster's active set and how it went.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-dbcluster/pkg/auth"
)

// Action types for audit events
type Action string

const (
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
)

// Status represents the outcome of an action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Anonymous is the actor recorded when the admin API is unauthenticated.
const Anonymous = "anonymous"

// DefaultBufferSize is the number of events kept in memory.
const DefaultBufferSize = 1000

// Event represents a single audit log entry
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	Role         string    `json:"role,omitempty"`
	Action       Action    `json:"action"`
	MemberID     string    `json:"member_id"`
	Strategy     string    `json:"strategy,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	Via          string    `json:"via,omitempty"`
}

// NewEvent describes the outcome of action on memberID. The actor comes from
// the authenticated claims in ctx.
func NewEvent(ctx context.Context, action Action, memberID, strategy string, err error) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Actor:     Anonymous,
		Action:    action,
		MemberID:  memberID,
		Strategy:  strategy,
		Status:    StatusSuccess,
	}
	if claims, ok := auth.FromContext(ctx); ok {
		e.Actor = claims.Subject
		e.Role = claims.Role
	}
	if err != nil {
		e.Status = StatusFailure
		e.ErrorMessage = err.Error()
	}
	return e
}

// String returns a human-readable representation of an event
func (e *Event) String() string {
	s := fmt.Sprintf("[%s] %s %s %s: %s",
		e.Timestamp.Format(time.RFC3339), e.Actor, e.Action, e.MemberID, e.Status)
	if e.ErrorMessage != "" {
		s += " (" + e.ErrorMessage + ")"
	}
	return s
}

// Filter represents filtering criteria for audit events
type Filter struct {
	Actor    string
	Action   Action
	MemberID string
	Status   Status
	Since    time.Time
}

func (f *Filter) matches(e *Event) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Actor != "" && e.Actor != f.Actor,
		f.Action != "" && e.Action != f.Action,
		f.MemberID != "" && e.MemberID != f.MemberID,
		f.Status != "" && e.Status != f.Status,
		!f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// Logger is the interface for audit logging implementations.
type Logger interface {
	Log(event *Event) error
}

// AuditLogger keeps the most recent events in a circular buffer
type AuditLogger struct {
	events     []*Event
	bufferSize int
	index      int
	count      int
	mu         sync.RWMutex
}

// NewAuditLogger creates a logger holding bufferSize events.
// bufferSize <= 0 uses DefaultBufferSize.
func NewAuditLogger(bufferSize int) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &AuditLogger{
		events:     make([]*Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Log records an audit event
func (l *AuditLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	l.events[l.index] = event
	l.index = (l.index + 1) % l.bufferSize
	if l.count < l.bufferSize {
		l.count++
	}
	return nil
}

// Events returns up to limit matching events, newest first. limit <= 0
// returns all matches.
func (l *AuditLogger) Events(filter *Filter, limit int) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Event, 0, min(l.count, max(limit, 0)))
	for i := 0; i < l.count; i++ {
		event := l.events[(l.index-1-i+l.bufferSize)%l.bufferSize]
		if event == nil || !filter.matches(event) {
			continue
		}
		result = append(result, event)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

// Count returns the number of events currently stored
func (l *AuditLogger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Trail keeps recent events in memory and, when opened with a path, also
// appends them to a hash-chained file.
type Trail struct {
	*AuditLogger
	file *FileLogger
}

// NewTrail creates a trail. An empty path keeps events in memory only.
func NewTrail(bufferSize int, path string) (*Trail, error) {
	t := &Trail{AuditLogger: NewAuditLogger(bufferSize)}
	if path != "" {
		f, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		t.file = f
	}
	return t, nil
}

// Log records event in memory even when the file write fails.
func (t *Trail) Log(event *Event) error {
	err := t.AuditLogger.Log(event)
	if t.file != nil {
		err = errors.Join(err, t.file.Log(event))
	}
	return err
}

// Close closes the backing file, if any.
func (t *Trail) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}
