package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ServerState contains the runtime state for a telemetry server.
type ServerState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Sources contains the last known value of each simulated source.
	Sources []SourceState `json:"sources,omitempty"`
}

// SourceState captures a single simulated source for persistence.
type SourceState struct {
	// Name is the source name as configured, also the node identifier.
	Name string `json:"name"`

	// Value is the last value written to the address space.
	Value float64 `json:"value"`

	// UpdatedAt is when the value was last written.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ServerStateStore manages persistence of server state to a JSON file.
type ServerStateStore struct {
	mu   sync.Mutex
	path string
}

// NewServerStateStore creates a new server state store.
func NewServerStateStore(path string) *ServerStateStore {
	return &ServerStateStore{path: path}
}

// Save persists the server state to disk.
func (s *ServerStateStore) Save(state *ServerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the server state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *ServerStateStore) Load() (*ServerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &ServerState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes the state file.
func (s *ServerStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Source returns the saved state for the named source, or false if absent.
func (st *ServerState) Source(name string) (SourceState, bool) {
	for _, src := range st.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceState{}, false
}
