package state

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

const (
	appDir    = "cluso-dbcluster"
	stateFile = "state.yaml"
	separator = ","
)

// DefaultPath is the per-user state file.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, appDir, stateFile), nil
}

// LocalConfig configures a LocalManager.
type LocalConfig struct {
	ClusterID string
	// Path of the state file; DefaultPath when empty.
	Path string
	// Members are the ids a record may reference.
	Members  []string
	Logger   logging.Logger
	Listener Listener
}

// document is the file layout: cluster id to a comma delimited id list. An
// empty list records that the cluster ran with no active members.
type document struct {
	Clusters map[string]string `yaml:"clusters"`
}

// LocalManager keeps the active set in a YAML file shared by every cluster
// the user runs, one entry per cluster id.
type LocalManager struct {
	clusterID string
	path      string
	known     map[string]bool
	logger    logging.Logger

	mu        sync.Mutex
	listeners listeners
}

// NewLocalManager creates a file backed manager.
func NewLocalManager(cfg LocalConfig) (*LocalManager, error) {
	if err := validation.NewConfigValidator("state").
		Required("cluster_id", cfg.ClusterID).
		Unique("members", cfg.Members).
		Validate(); err != nil {
		return nil, err
	}
	path := cfg.Path
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	known := make(map[string]bool, len(cfg.Members))
	for _, id := range cfg.Members {
		known[id] = true
	}
	m := &LocalManager{
		clusterID: cfg.ClusterID,
		path:      path,
		known:     known,
		logger:    logging.OrNop(cfg.Logger).With(logging.Component("state"), logging.ClusterID(cfg.ClusterID)),
	}
	m.listeners.add(cfg.Listener)
	return m, nil
}

// Path returns the state file location.
func (m *LocalManager) Path() string { return m.path }

func (m *LocalManager) Start() error { return nil }
func (m *LocalManager) Stop() error  { return nil }

func (m *LocalManager) InitialState() ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loadLocked()
}

func (m *LocalManager) MemberAdded(id string) error {
	if err := m.apply(id, true); err != nil {
		return err
	}
	m.listeners.notify(Event{MemberID: id, Added: true})
	return nil
}

func (m *LocalManager) MemberRemoved(id string) error {
	if err := m.apply(id, false); err != nil {
		return err
	}
	m.listeners.notify(Event{MemberID: id, Added: false})
	return nil
}

// Subscribe registers a listener for changes made through this manager.
func (m *LocalManager) Subscribe(l Listener) { m.listeners.add(l) }

func (m *LocalManager) apply(id string, added bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, _, err := m.loadLocked()
	if err != nil {
		return err
	}
	if added {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	} else {
		ids = slices.DeleteFunc(ids, func(s string) bool { return s == id })
	}
	return m.storeLocked(ids)
}

// Replace records ids as the whole active set.
func (m *LocalManager) Replace(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeLocked(slices.Clone(ids))
}

// loadLocked returns this cluster's recorded ids. resolved is false when the
// record is missing or names an unknown member; a present but empty record
// is a resolved empty set.
func (m *LocalManager) loadLocked() (ids []string, resolved bool, err error) {
	doc, err := m.readLocked()
	if err != nil {
		return nil, false, err
	}
	raw, ok := doc.Clusters[m.clusterID]
	if !ok {
		return nil, false, nil
	}

	ids = []string{}
	for _, id := range strings.Split(raw, separator) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !m.known[id] {
			m.logger.Warn("discarding recorded state referencing unknown member",
				logging.MemberID(id), logging.String("path", m.path))
			return nil, false, nil
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, true, nil
}

func (m *LocalManager) readLocked() (document, error) {
	doc := document{Clusters: make(map[string]string)}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse state file %s: %w", m.path, err)
	}
	if doc.Clusters == nil {
		doc.Clusters = make(map[string]string)
	}
	return doc, nil
}

func (m *LocalManager) storeLocked(ids []string) error {
	doc, err := m.readLocked()
	if err != nil {
		return err
	}
	slices.Sort(ids)
	doc.Clusters[m.clusterID] = strings.Join(ids, separator)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := writeFileAtomic(m.path, data); err != nil {
		return err
	}
	m.logger.Debug("state recorded", logging.Strings("members", ids))
	return nil
}

// writeFileAtomic writes to a temporary file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, stateFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

var _ Manager = (*LocalManager)(nil)
