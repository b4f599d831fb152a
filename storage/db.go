package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Database is the key-value store backing the queue state. Both backends
// expose the trie database built on top of them so the state trie does not
// care whether it lives in memory or on disk.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close()
}

type kvDatabase struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

func newKVDatabase(kv ethdb.KeyValueStore) *kvDatabase {
	disk := rawdb.NewDatabase(kv)
	return &kvDatabase{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}
}

func (db *kvDatabase) Put(key []byte, value []byte) error {
	return db.disk.Put(key, value)
}

func (db *kvDatabase) Get(key []byte) ([]byte, error) {
	ok, err := db.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.disk.Get(key)
}

func (db *kvDatabase) TrieDB() *triedb.Database { return db.trieDB }

func (db *kvDatabase) Close() {
	_ = db.trieDB.Close()
	_ = db.disk.Close()
}

// MemDB keeps the whole state in memory. Used by tests and by nodes started
// without a data directory.
type MemDB struct {
	*kvDatabase
}

// NewMemDB returns an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{kvDatabase: newKVDatabase(memorydb.New())}
}

// LevelDB is the persistent backend.
type LevelDB struct {
	*kvDatabase
	path string
}

const (
	levelDBCacheMB   = 16
	levelDBHandles   = 64
	levelDBNamespace = "atomicqueue/state/"
)

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("storage: leveldb path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve leveldb path: %w", err)
	}
	kv, err := gethleveldb.New(abs, levelDBCacheMB, levelDBHandles, levelDBNamespace, false)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb: %w", err)
	}
	return &LevelDB{kvDatabase: newKVDatabase(kv), path: abs}, nil
}

// Path returns the absolute on-disk location.
func (ldb *LevelDB) Path() string { return ldb.path }
