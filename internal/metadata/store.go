// Package metadata persists per-container records under an application-local
// directory. Records are a cache over engine state, not the source of truth:
// list/status flows reconcile them against what the engine actually reports,
// and a record with no matching container is pruned, never surfaced as an
// error.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Mount summarizes one bind mount for display.
type Mount struct {
	Host      string `json:"host"`
	Container string `json:"container"`
	Mode      string `json:"mode,omitempty"`
}

// Port summarizes one port mapping for display.
type Port struct {
	Host      int `json:"host"`
	Container int `json:"container"`
}

// Forwarding records which credential forwarding steps a container was
// provisioned with.
type Forwarding struct {
	Git          bool   `json:"git"`
	GH           bool   `json:"gh"`
	SSH          bool   `json:"ssh"`
	DotfilesRepo string `json:"dotfiles_repo,omitempty"`
}

// Record is the durable state for one managed container.
type Record struct {
	Name           string     `json:"name"`
	ContainerID    string     `json:"container_id"`
	Image          string     `json:"image"`
	Purpose        string     `json:"purpose,omitempty"`
	Created        time.Time  `json:"created"`
	Persistent     bool       `json:"persistent"`
	Workdir        string     `json:"workdir"`
	MountCWD       bool       `json:"mount_cwd"`
	Mounts         []Mount    `json:"mounts,omitempty"`
	Ports          []Port     `json:"ports,omitempty"`
	EnvKeys        []string   `json:"env_keys,omitempty"`
	ExecUser       string     `json:"exec_user,omitempty"`
	ComposeProject string     `json:"compose_project,omitempty"`
	ComposeFile    string     `json:"compose_file,omitempty"`
	ComposeNetwork string     `json:"compose_network,omitempty"`
	Forwarding     Forwarding `json:"forwarding"`
}

// Store reads and writes records keyed by container name. Writes to the same
// name are serialized through a per-name lock so a provisioning step and a
// status query cannot race a record into a lost update. Cross-container
// operations never coordinate.
type Store struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) containersDir() string {
	return filepath.Join(s.baseDir, "containers")
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.containersDir(), name, "metadata.json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.containersDir(), "index.json")
}

func (s *Store) nameLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Save writes the record for rec.Name and adds the name to the index.
func (s *Store) Save(rec *Record) error {
	l := s.nameLock(rec.Name)
	l.Lock()
	defer l.Unlock()
	return s.writeLocked(rec)
}

func (s *Store) writeLocked(rec *Record) error {
	dir := filepath.Dir(s.recordPath(rec.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := atomicWrite(s.recordPath(rec.Name), data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return s.indexAdd(rec.Name)
}

// atomicWrite stages the content in a temp file in the same directory and
// renames it into place, so a concurrent reader never sees a truncated file.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Load returns the record for name, or nil when no record exists.
func (s *Store) Load(name string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", name, err)
	}
	return &rec, nil
}

// Update applies fn to the stored record for name under its lock. fn receives
// nil when no record exists; returning a record saves it, returning nil leaves
// the store untouched.
func (s *Store) Update(name string, fn func(*Record) *Record) error {
	l := s.nameLock(name)
	l.Lock()
	defer l.Unlock()
	rec, err := s.Load(name)
	if err != nil {
		return err
	}
	updated := fn(rec)
	if updated == nil {
		return nil
	}
	return s.writeLocked(updated)
}

// Remove deletes the record and index entry for name. Removing a record that
// does not exist is not an error.
func (s *Store) Remove(name string) error {
	l := s.nameLock(name)
	l.Lock()
	defer l.Unlock()
	if err := os.RemoveAll(filepath.Join(s.containersDir(), name)); err != nil {
		return fmt.Errorf("remove record dir: %w", err)
	}
	return s.indexRemove(name)
}

// ListNames returns all known container names, sorted.
func (s *Store) ListNames() ([]string, error) {
	names, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ListAll loads every record the index knows about. Index entries whose
// record file is missing are skipped, not errors.
func (s *Store) ListAll() ([]*Record, error) {
	names, err := s.ListNames()
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(names))
	for _, name := range names {
		rec, err := s.Load(name)
		if err != nil || rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) readIndex() ([]string, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return names, nil
}

func (s *Store) writeIndex(names []string) error {
	if err := os.MkdirAll(s.containersDir(), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	sort.Strings(names)
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := atomicWrite(s.indexPath(), data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (s *Store) indexAdd(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.readIndex()
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	return s.writeIndex(append(names, name))
}

func (s *Store) indexRemove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.readIndex()
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	return s.writeIndex(kept)
}
