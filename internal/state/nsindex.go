package state

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// NamespaceIndex persists session-namespace derivations for runtimes that
// have no native session id. It satisfies hooks.NamespaceRecorder.
type NamespaceIndex struct {
	path string
}

// NewNamespaceIndex creates an index file under stateDir.
func NewNamespaceIndex(stateDir string) (*NamespaceIndex, error) {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &NamespaceIndex{path: filepath.Join(stateDir, "namespaces.json")}, nil
}

// Lookup returns the recorded namespace for a source key.
func (i *NamespaceIndex) Lookup(source string) (string, bool) {
	idx, err := i.read()
	if err != nil {
		return "", false
	}
	ns, ok := idx[source]
	return ns, ok
}

// Record stores a derivation under an exclusive lock. Re-recording the
// same pair is a no-op.
func (i *NamespaceIndex) Record(source, namespace string) error {
	f, err := os.OpenFile(i.path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open namespace index: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock namespace index: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read namespace index: %w", err)
	}

	idx := map[string]string{}
	if len(data) > 0 {
		// A corrupt index is rebuilt; derivations are deterministic so
		// nothing is lost beyond the historical record.
		_ = json.Unmarshal(data, &idx)
	}

	if existing, ok := idx[source]; ok && existing == namespace {
		return nil
	}
	idx[source] = namespace

	out, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal namespace index: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate namespace index: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind namespace index: %w", err)
	}
	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write namespace index: %w", err)
	}
	return nil
}

func (i *NamespaceIndex) read() (map[string]string, error) {
	f, err := os.Open(i.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH); err != nil {
		return nil, err
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	idx := map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &idx); err != nil {
			return nil, err
		}
	}
	return idx, nil
}
