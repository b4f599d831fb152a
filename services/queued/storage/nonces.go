// Package storage persists per-sender envelope nonces for queued so replayed
// calls are rejected across restarts.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
)

const nonceKeyPrefix = "nonce:"

// ErrNonceReplayed is returned when a nonce is not above the sender's last one.
var ErrNonceReplayed = errors.New("nonce already used")

// NonceStore records the highest nonce accepted from each sender.
type NonceStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenNonceStore opens (or creates) a LevelDB database at path.
func OpenNonceStore(path string) (*NonceStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("nonce store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve nonce store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open nonce store: %w", err)
	}
	return &NonceStore{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (s *NonceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Last returns the highest nonce accepted from sender, or 0.
func (s *NonceStore) Last(sender common.Address) (uint64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("nonce store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(sender)
}

// Reserve accepts nonce for sender when it is strictly greater than the last
// accepted one and records it. A consumed nonce stays consumed whatever the
// outcome of the call it authorised.
func (s *NonceStore) Reserve(sender common.Address, nonce uint64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("nonce store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, err := s.load(sender)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: %s sent %d, last %d", ErrNonceReplayed, sender.Hex(), nonce, last)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	if err := s.db.Put(nonceKey(sender), buf, nil); err != nil {
		return fmt.Errorf("record nonce: %w", err)
	}
	return nil
}

func (s *NonceStore) load(sender common.Address) (uint64, error) {
	raw, err := s.db.Get(nonceKey(sender), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("load nonce: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("load nonce: corrupt record for %s", sender.Hex())
	}
	return binary.BigEndian.Uint64(raw), nil
}

func nonceKey(sender common.Address) []byte {
	return append([]byte(nonceKeyPrefix), sender.Bytes()...)
}
