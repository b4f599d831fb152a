package state

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"atomicqueue/storage"
	"atomicqueue/storage/trie"
)

// stateRootKey is the raw database key holding the last committed root.
var stateRootKey = []byte("atomicqueue/state-root")

// ErrUnknownSnapshot is returned when reverting to a snapshot that was
// already reverted past or committed.
var ErrUnknownSnapshot = errors.New("state: unknown snapshot")

// Manager reads and writes queue and ledger records in the state trie.
// Snapshots are whole-trie copies; reverting swaps the copy back in.
//
// Manager is not safe for concurrent use.
type Manager struct {
	db        storage.Database
	trie      *trie.Trie
	snapshots []*trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Open loads the last committed state from db, or an empty state on first use.
func Open(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	root, err := db.Get(stateRootKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("state: load root: %w", err)
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("state: open trie at %x: %w", root, err)
	}
	return &Manager{db: db, trie: tr}, nil
}

// Snapshot records the current state and returns an id for RevertToSnapshot.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, m.trie.Copy())
	return len(m.snapshots) - 1
}

// RevertToSnapshot discards every mutation made since the snapshot was taken,
// together with any snapshot taken after it.
func (m *Manager) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(m.snapshots) {
		return fmt.Errorf("%w: %d", ErrUnknownSnapshot, id)
	}
	m.trie = m.snapshots[id]
	m.snapshots = m.snapshots[:id]
	return nil
}

// Root returns the root hash including uncommitted mutations.
func (m *Manager) Root() common.Hash {
	return m.trie.Hash()
}

// Commit persists pending mutations and drops all snapshots. On failure the
// trie is reopened at the last committed root and snapshots are kept, so the
// caller can still revert.
func (m *Manager) Commit(height uint64) (common.Hash, error) {
	parent := m.trie.Root()
	root, err := m.trie.Commit(height)
	if err != nil {
		return common.Hash{}, m.abortCommit(parent, fmt.Errorf("state: commit: %w", err))
	}
	if m.db != nil {
		if err := m.db.Put(stateRootKey, root.Bytes()); err != nil {
			return common.Hash{}, m.abortCommit(parent, fmt.Errorf("state: persist root: %w", err))
		}
	}
	m.snapshots = nil
	return root, nil
}

func (m *Manager) abortCommit(parent common.Hash, err error) error {
	if resetErr := m.trie.Reset(parent); resetErr != nil {
		return errors.Join(err, fmt.Errorf("state: reset to %s: %w", parent.Hex(), resetErr))
	}
	return err
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func compositeKey(prefix string, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 to match the requirements of
// the underlying trie implementation.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// KVGetList decodes an RLP list stored under key into the slice pointed to by
// out. Absent keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	ok, err := m.KVGet(key, out)
	if err != nil || ok {
		return err
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	return nil
}
