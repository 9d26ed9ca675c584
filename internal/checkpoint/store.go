package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

const schemaVersion = 1

var (
	// ErrCorrupted means the checkpoint file exists but is not parseable.
	ErrCorrupted = errors.New("checkpoint file is corrupted")
	// ErrIncompatibleVersion means the checkpoint was written by an
	// incompatible schema.
	ErrIncompatibleVersion = errors.New("checkpoint schema version is incompatible")
)

// Snapshot is the durable record of a run: every contact id in exactly one
// bucket, plus the ledger balance. Contacts are referenced by integer id only
// so the snapshot stays trivially serializable.
type Snapshot struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Resolved maps contact id to the discovered address.
	Resolved map[int64]string `json:"resolved"`
	// Unresolved maps contact id to its terminal reason code.
	Unresolved map[int64]string `json:"unresolved"`
	// Pending lists contacts not yet in a terminal state.
	Pending []int64 `json:"pending"`

	CreditsConsumed int `json:"credits_consumed"`
}

// Empty returns an initialized snapshot for a fresh run.
func Empty(runID string) Snapshot {
	return Snapshot{
		SchemaVersion: schemaVersion,
		RunID:         runID,
		Resolved:      make(map[int64]string),
		Unresolved:    make(map[int64]string),
	}
}

// Terminal reports whether the contact already reached a terminal state in a
// previous (or the current) run.
func (s Snapshot) Terminal(id int64) bool {
	if _, ok := s.Resolved[id]; ok {
		return true
	}
	_, ok := s.Unresolved[id]
	return ok
}

// Store persists snapshots with an atomic temp-file-plus-rename write so an
// interrupt mid-flush can never leave a truncated checkpoint behind.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore manages the checkpoint file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Write flushes the snapshot atomically.
func (s *Store) Write(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.SchemaVersion = schemaVersion
	snap.UpdatedAt = time.Now().UTC()
	sort.Slice(snap.Pending, func(i, j int) bool { return snap.Pending[i] < snap.Pending[j] })

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint. A missing file is a fresh start, not an error.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(""), nil
		}
		return Snapshot{}, fmt.Errorf("read checkpoint: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if snap.SchemaVersion != schemaVersion {
		return Snapshot{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, snap.SchemaVersion, schemaVersion)
	}
	if snap.Resolved == nil {
		snap.Resolved = make(map[int64]string)
	}
	if snap.Unresolved == nil {
		snap.Unresolved = make(map[int64]string)
	}
	return snap, nil
}
