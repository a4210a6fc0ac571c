package commission

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is mostly for testing and local runs without a database.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]Commission
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[int64]Commission)}
}

func (m *MemoryRepository) Create(_ context.Context, c Commission) (Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.TxHash != "" {
		if _, ok := m.byTxLocked(c.TxHash); ok {
			return Commission{}, ErrDuplicateTx
		}
	}
	m.nextID++
	c.ID = m.nextID
	c.Finished = false
	c.CreatedAt = time.Now().UTC()
	m.data[c.ID] = c
	return c, nil
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (*Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryRepository) GetByTxHash(_ context.Context, txHash string) (*Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byTxLocked(txHash)
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryRepository) byTxLocked(txHash string) (Commission, bool) {
	for _, c := range m.data {
		if c.TxHash == txHash {
			return c, true
		}
	}
	return Commission{}, false
}

func (m *MemoryRepository) CountUnfinished(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.data {
		if !c.Finished {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) MarkFinished(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data[id]
	if !ok {
		return ErrNotFound
	}
	c.Finished = true
	m.data[id] = c
	return nil
}
