package idempotency

import (
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"riskcore/internal/logger"
)

// Store deduplicates order submissions. MarkPending is first-writer-wins:
// it returns true exactly once per key until the TTL expires.
type Store interface {
	MarkPending(key string, ttl time.Duration) (bool, error)
	Close() error
}

// Open returns a disk-backed store at path, degrading to the in-memory
// store when the database cannot be opened. Dedup across restarts is lost
// in the degraded mode, not dedup within a process.
func Open(path string) Store {
	s, err := OpenBadger(path)
	if err != nil {
		logger.Warnf("Idempotency store at %s unavailable, falling back to memory: %v", path, err)
		return NewMemory()
	}
	return s
}

type badgerStore struct {
	db *badger.DB
}

func OpenBadger(path string) (Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) MarkPending(key string, ttl time.Duration) (bool, error) {
	fresh := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil // already pending
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		fresh = true
		entry := badger.NewEntry([]byte(key), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, fmt.Errorf("mark pending %s: %w", key, err)
	}
	return fresh, nil
}

func (s *badgerStore) Close() error { return s.db.Close() }

// memoryStore keeps pending keys in a map with lazy expiry.
type memoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	nowFn   func() time.Time
}

func NewMemory() Store {
	return &memoryStore{
		expires: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

func (s *memoryStore) MarkPending(key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	if deadline, ok := s.expires[key]; ok && deadline.After(now) {
		return false, nil
	}
	for k, deadline := range s.expires {
		if !deadline.After(now) {
			delete(s.expires, k)
		}
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

func (s *memoryStore) Close() error { return nil }
