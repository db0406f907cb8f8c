package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/seqrun/internal/fsutil"
)

// ErrStateNotFound is returned when no persisted run state exists yet.
var ErrStateNotFound = errors.New("runstate: state not found")

// Store persists run state snapshots.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores run state as JSON at a fixed path.
type Repository struct {
	path  string
	clock func() time.Time
}

// NewRepository creates a repository writing to path, typically
// <workdir>/.seqrun/state.json.
func NewRepository(path string) *Repository {
	return &Repository{path: path, clock: time.Now}
}

// Path returns the state file location.
func (r *Repository) Path() string { return r.path }

// Load reads the persisted state if present.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("runstate: decode %s: %w", r.path, err)
	}
	return state, nil
}

// Save stamps UpdatedAt and replaces the state file atomically.
func (r *Repository) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	state.UpdatedAt = r.clock().UTC()
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(r.path, append(encoded, '\n'), 0o644)
}

// Discard is a Store that keeps nothing. Load always reports ErrStateNotFound.
type Discard struct{}

func (Discard) Load() (State, error) { return State{}, ErrStateNotFound }
func (Discard) Save(State) error     { return nil }
