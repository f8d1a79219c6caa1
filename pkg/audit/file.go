package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrChainBroken is returned by Verify when an entry was altered, removed or
// reordered.
var ErrChainBroken = errors.New("audit hash chain broken")

// chainedEvent is one JSONL line of an audit file.
type chainedEvent struct {
	*Event
	PreviousHash string `json:"previous_hash,omitempty"`
	EventHash    string `json:"event_hash"`
}

func (c *chainedEvent) hash() (string, error) {
	unhashed := chainedEvent{Event: c.Event, PreviousHash: c.PreviousHash}
	data, err := json.Marshal(unhashed)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FileLogger appends events to a JSONL file. Each entry carries the hash of
// the previous one so edits to the file are detectable with Verify.
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	lastHash string
}

// OpenFile opens or creates the audit file at path and continues its chain.
func OpenFile(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	last, err := lastHash(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileLogger{file: file, writer: bufio.NewWriter(file), lastHash: last}, nil
}

// Log appends event and syncs it to disk before returning.
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &chainedEvent{Event: event, PreviousHash: l.lastHash}
	hash, err := entry.hash()
	if err != nil {
		return fmt.Errorf("failed to hash event: %w", err)
	}
	entry.EventHash = hash

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	l.lastHash = hash
	return nil
}

// Close flushes and closes the file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Join(l.writer.Flush(), l.file.Close())
}

// Verify checks the hash chain of the audit file at path and returns the
// number of entries.
func Verify(path string) (int, error) {
	n := 0
	_, err := scan(path, func(line int, e *chainedEvent, previous string) error {
		if e.PreviousHash != previous {
			return fmt.Errorf("%w: line %d: previous hash mismatch", ErrChainBroken, line)
		}
		hash, err := e.hash()
		if err != nil {
			return err
		}
		if hash != e.EventHash {
			return fmt.Errorf("%w: line %d: event hash mismatch", ErrChainBroken, line)
		}
		n++
		return nil
	})
	return n, err
}

func lastHash(path string) (string, error) {
	last, err := scan(path, func(int, *chainedEvent, string) error { return nil })
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return last, err
}

// scan calls fn for every entry with the hash of the entry before it and
// returns the hash of the last entry.
func scan(path string, fn func(line int, e *chainedEvent, previous string) error) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	previous := ""
	for line := 1; scanner.Scan(); line++ {
		e := &chainedEvent{Event: &Event{}}
		if err := json.Unmarshal(scanner.Bytes(), e); err != nil {
			return "", fmt.Errorf("line %d: failed to parse event: %w", line, err)
		}
		if err := fn(line, e, previous); err != nil {
			return "", err
		}
		previous = e.EventHash
	}
	return previous, scanner.Err()
}
