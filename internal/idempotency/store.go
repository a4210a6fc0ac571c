// Package idempotency replays the stored response for a repeated request key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record holds stored response data.
type Record struct {
	StatusCode  int       `json:"statusCode"`
	ContentType string    `json:"contentType"`
	Response    []byte    `json:"response"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// NewRecord stamps a response that stays replayable for window.
func NewRecord(status int, contentType string, body []byte, window time.Duration) Record {
	now := time.Now().UTC()
	return Record{
		StatusCode:  status,
		ContentType: contentType,
		Response:    body,
		CreatedAt:   now,
		ExpiresAt:   now.Add(window),
	}
}

// Store abstracts idempotency persistence. Get returns nil for unknown or
// expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
	// Purge drops expired records and reports how many were removed.
	Purge(ctx context.Context) (int64, error)
}

// records is the map shared by the in-process stores. Callers hold the lock.
type records map[string]Record

func (r records) live(key string, now time.Time) (*Record, bool) {
	rec, ok := r[key]
	if !ok {
		return nil, false
	}
	if now.After(rec.ExpiresAt) {
		return nil, true
	}
	return &rec, false
}

func (r records) purge(now time.Time) int64 {
	var n int64
	for key, rec := range r {
		if now.After(rec.ExpiresAt) {
			delete(r, key)
			n++
		}
	}
	return n
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu   sync.Mutex
	data records
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(records)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, expired := m.data.live(key, time.Now())
	if expired {
		delete(m.data, key)
	}
	return rec, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	m.data[key] = record
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Purge(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.purge(time.Now()), nil
}

// FileStore persists records to a JSON file, for single-node setups without
// Postgres. Writes go through a temp file and rename.
type FileStore struct {
	path string

	mu   sync.Mutex
	data records
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("idempotency store path is empty")
	}
	f := &FileStore{path: path, data: make(records)}

	blob, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	case len(blob) == 0:
		return f, nil
	}
	if err := json.Unmarshal(blob, &f.data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}

func (f *FileStore) Get(_ context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, expired := f.data.live(key, time.Now())
	if expired {
		delete(f.data, key)
		return nil, f.flush()
	}
	return rec, nil
}

func (f *FileStore) Save(_ context.Context, key string, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = record
	return f.flush()
}

func (f *FileStore) Purge(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.data.purge(time.Now())
	if n == 0 {
		return 0, nil
	}
	return n, f.flush()
}

func (f *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// KeyLock serializes work per key within the process, so concurrent
// duplicates wait for the first to store its record.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Lock blocks until key is free and returns its unlock func.
func (l *KeyLock) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
