package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelKeyPrefix = "e:"
	expiryLen      = 8
)

// LevelDBStore persists entries in a LevelDB database so cached records
// survive restarts and can be shared by a server and its worker when both
// run on one host.
//
// Each value is stored as an 8 byte big-endian unix-nano expiry followed by
// the payload. An expiry of 0 never expires.
type LevelDBStore struct {
	db  *leveldb.DB
	now func() time.Time

	// serialises the expired-entry delete in Get against concurrent Sets
	mu sync.Mutex
}

// OpenLevelDB opens (or creates) the store at path. An empty path opens an
// in-memory database.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}

	return &LevelDBStore{db: db, now: time.Now}, nil
}

func (s *LevelDBStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.db.Get([]byte(levelKeyPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb get: %w", err)
	}

	value, expiresAt, err := decodeLevelValue(raw)
	if err != nil {
		return nil, false, err
	}
	if !expiresAt.IsZero() && !s.now().Before(expiresAt) {
		s.deleteIfExpired(key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set replaces the value for key. A non-positive ttl never expires.
func (s *LevelDBStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put([]byte(levelKeyPrefix+key), encodeLevelValue(value, expiresAt), nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (s *LevelDBStore) Delete(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(levelKeyPrefix+key), nil); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Purge deletes every expired entry in one batch and returns the count
func (s *LevelDBStore) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.db.NewIterator(util.BytesPrefix([]byte(levelKeyPrefix)), nil)
	defer it.Release()

	now := s.now()
	batch := new(leveldb.Batch)
	for it.Next() {
		_, expiresAt, err := decodeLevelValue(it.Value())
		if err != nil || (!expiresAt.IsZero() && !now.Before(expiresAt)) {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("leveldb iterate: %w", err)
	}

	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("leveldb purge: %w", err)
	}
	return batch.Len(), nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// deleteIfExpired re-reads under the lock so a fresh Set is not removed
func (s *LevelDBStore) deleteIfExpired(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get([]byte(levelKeyPrefix+key), nil)
	if err != nil {
		return
	}
	_, expiresAt, err := decodeLevelValue(raw)
	if err != nil || expiresAt.IsZero() || s.now().Before(expiresAt) {
		return
	}
	_ = s.db.Delete([]byte(levelKeyPrefix+key), nil)
}

func encodeLevelValue(value []byte, expiresAt time.Time) []byte {
	out := make([]byte, expiryLen+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(out[:expiryLen], uint64(expiresAt.UnixNano()))
	}
	copy(out[expiryLen:], value)
	return out
}

func decodeLevelValue(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < expiryLen {
		return nil, time.Time{}, fmt.Errorf("leveldb value too short: %d bytes", len(raw))
	}

	var expiresAt time.Time
	if n := binary.BigEndian.Uint64(raw[:expiryLen]); n != 0 {
		expiresAt = time.Unix(0, int64(n))
	}

	value := make([]byte, len(raw)-expiryLen)
	copy(value, raw[expiryLen:])
	return value, expiresAt, nil
}
