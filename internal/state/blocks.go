package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// BlockRecord is the persisted artifact marking a session as hard-blocked.
// Records are append-only history: clearing a block writes a clear marker
// and resets the session flag, it never deletes the originals.
type BlockRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Gate      string    `json:"gate"`
	Reason    string    `json:"reason"`
	Citation  string    `json:"citation,omitempty"`
	Cleared   bool      `json:"cleared,omitempty"`
	ClearedBy string    `json:"cleared_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockManager latches sessions into a blocked condition and clears them.
// It is the only writer of the blocks directory; the sticky flag itself
// lives in the session state store.
type BlockManager struct {
	dir   string
	store *Store
}

// NewBlockManager creates a block manager rooted at stateDir.
func NewBlockManager(stateDir string, store *Store) (*BlockManager, error) {
	dir := filepath.Join(stateDir, "blocks")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blocks directory: %w", err)
	}
	return &BlockManager{dir: dir, store: store}, nil
}

func (m *BlockManager) sessionDir(namespace string) string {
	return filepath.Join(m.dir, namespace)
}

// Latch sets custodiet_block_active and records a BlockRecord, hard-latching
// the session until Clear is called. The flag goes first: a crash between
// the two writes leaves the session blocked, never silently unblocked with
// an orphaned record.
func (m *BlockManager) Latch(namespace, gate, reason, citation string) (*BlockRecord, error) {
	if _, err := m.store.Apply(namespace, []Mutation{
		Set(FlagCustodietBlockActive, true),
	}); err != nil {
		return nil, fmt.Errorf("failed to latch block flag: %w", err)
	}

	rec := &BlockRecord{
		ID:        uuid.NewString(),
		SessionID: namespace,
		Gate:      gate,
		Reason:    reason,
		Citation:  citation,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.write(namespace, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Clear resets the sticky block flag and appends a clear marker naming who
// cleared it. Existing records are untouched.
func (m *BlockManager) Clear(namespace, clearedBy string) error {
	active, err := m.Active(namespace)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("session %s has no active block", namespace)
	}

	marker := &BlockRecord{
		ID:        uuid.NewString(),
		SessionID: namespace,
		Gate:      "block-manager",
		Reason:    "block cleared",
		Cleared:   true,
		ClearedBy: clearedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.write(namespace, marker); err != nil {
		return err
	}

	if _, err := m.store.Apply(namespace, []Mutation{
		Set(FlagCustodietBlockActive, false),
	}); err != nil {
		return fmt.Errorf("failed to clear block flag: %w", err)
	}
	return nil
}

// Active reports whether the session is currently hard-blocked.
func (m *BlockManager) Active(namespace string) (bool, error) {
	st, err := m.store.Get(namespace)
	if err != nil {
		var corrupt *CorruptionError
		if errors.As(err, &corrupt) {
			// A session whose state was lost is not silently unblocked if
			// block records show an uncleared block.
			return m.latestUncleared(namespace)
		}
		return false, err
	}
	return st.CustodietBlockActive, nil
}

// List returns the full block history for a session, oldest first.
func (m *BlockManager) List(namespace string) ([]*BlockRecord, error) {
	entries, err := os.ReadDir(m.sessionDir(namespace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list block records: %w", err)
	}

	var records []*BlockRecord
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.sessionDir(namespace), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read block record: %w", err)
		}
		var rec BlockRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to parse block record %s: %w", e.Name(), err)
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (m *BlockManager) latestUncleared(namespace string) (bool, error) {
	records, err := m.List(namespace)
	if err != nil {
		return false, err
	}
	active := false
	for _, rec := range records {
		if rec.Cleared {
			active = false
		} else {
			active = true
		}
	}
	return active, nil
}

func (m *BlockManager) write(namespace string, rec *BlockRecord) error {
	dir := m.sessionDir(namespace)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create block directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal block record: %w", err)
	}

	// Timestamp prefix keeps directory listings chronological.
	name := fmt.Sprintf("%d-%s.json", rec.CreatedAt.UnixNano(), rec.ID)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write block record: %w", err)
	}
	return nil
}
