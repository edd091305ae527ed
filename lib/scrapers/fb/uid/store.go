package uid

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Store maps a canonical profile handle to a numeric account id. It is
// shared by every crawl in the process, so implementations must be safe
// for concurrent use. Entries are append-only; a lost race on Insert is
// fine (last writer wins), entries are never mutated in place.
type Store interface {
	Lookup(handle string) (int64, bool)
	Insert(handle string, id int64)
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]int64{}}
}

func (s *MemoryStore) Lookup(handle string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entries[handle]
	return id, ok
}

func (s *MemoryStore) Insert(handle string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[handle] = id
}

// BadgerStore persists handle -> id mappings across runs. The crawl
// engine itself only requires MemoryStore; this exists so long-running
// tooling can skip repeat identity lookups.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) BadgerStore {
	return BadgerStore{db: db}
}

func storeKey(handle string) []byte {
	return []byte("uid/" + handle)
}

func (s BadgerStore) Lookup(handle string) (int64, bool) {
	var id int64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(handle))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return err
			}
			id = parsed
			found = true
			return nil
		})
	})
	if err != nil {
		slog.Warn("uid store lookup failed", "handle", handle, "err", err)
		return 0, false
	}
	return id, found
}

func (s BadgerStore) Insert(handle string, id int64) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(handle), []byte(strconv.FormatInt(id, 10)))
	})
	if err != nil {
		slog.Warn("uid store insert failed", "handle", handle, "err", err)
	}
}
