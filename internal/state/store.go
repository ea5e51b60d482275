package state

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ihavespoons/gatehouse/internal/logger"
)

// CorruptionError reports a state file that could not be parsed. The store
// recovers by quarantining the file and starting that session from
// defaults; callers surface the recovery as a warning, never a crash.
type CorruptionError struct {
	Namespace string
	Path      string
	Err       error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("state file for session %s is corrupt: %v", e.Namespace, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Store is the file-backed session state store. One JSON file per session
// namespace; every read-merge-write cycle runs under an exclusive flock so
// concurrent hook invocations racing on the same session cannot lose an
// update.
type Store struct {
	dir string
}

// NewStore creates a store rooted at stateDir.
func NewStore(stateDir string) (*Store, error) {
	dir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(namespace string) string {
	return filepath.Join(s.dir, namespace+".json")
}

// Get returns the state for a namespace. A missing file yields a default
// record, not an error. A corrupt file is quarantined and Get returns the
// default record together with a *CorruptionError so the caller can record
// the recovery.
func (s *Store) Get(namespace string) (*SessionState, error) {
	path := s.path(namespace)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewSessionState(namespace), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH); err != nil {
		return nil, fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	st, perr := parseState(namespace, data)
	if perr != nil {
		s.quarantine(path)
		return NewSessionState(namespace), &CorruptionError{Namespace: namespace, Path: path, Err: perr}
	}
	return st, nil
}

// Apply applies mutations in a single read-merge-write cycle under an
// exclusive lock and returns the resulting state. A corrupt file is
// quarantined, the cycle proceeds from defaults, and a *CorruptionError is
// returned alongside the updated state.
func (s *Store) Apply(namespace string, muts []Mutation) (*SessionState, error) {
	path := s.path(namespace)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return nil, fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var corruption *CorruptionError
	st, perr := parseState(namespace, data)
	if perr != nil {
		corruption = &CorruptionError{Namespace: namespace, Path: path, Err: perr}
		st = NewSessionState(namespace)
	}

	for _, m := range muts {
		if err := st.apply(m); err != nil {
			return nil, err
		}
	}
	st.UpdatedAt = time.Now().UTC()

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		return nil, fmt.Errorf("failed to truncate state file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind state file: %w", err)
	}
	if _, err := f.Write(out); err != nil {
		return nil, fmt.Errorf("failed to write state file: %w", err)
	}

	if corruption != nil {
		return st, corruption
	}
	return st, nil
}

// Reset deletes a session's state file. Used by explicit session-end
// events and manual resets only.
func (s *Store) Reset(namespace string) error {
	err := os.Remove(s.path(namespace))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset session %s: %w", namespace, err)
	}
	return nil
}

// List returns the namespaces with persisted state.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		out = append(out, name[:len(name)-len(".json")])
	}
	return out, nil
}

func parseState(namespace string, data []byte) (*SessionState, error) {
	if len(data) == 0 {
		return NewSessionState(namespace), nil
	}
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.SessionID == "" {
		st.SessionID = namespace
	}
	return &st, nil
}

// quarantine renames a corrupt state file aside so the next write starts
// clean while the bad bytes stay available for inspection.
func (s *Store) quarantine(path string) {
	dst := path + ".corrupt"
	if err := os.Rename(path, dst); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to quarantine corrupt state file")
	}
}
