package store

import (
	"context"
	"sync"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// Memory is an in-process Store used by tests and local mode.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.YieldStrategyRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]models.YieldStrategyRecord)}
}

func (m *Memory) Put(ctx context.Context, rec models.YieldStrategyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TaskID] = rec
	return nil
}

func (m *Memory) Get(ctx context.Context, taskID string) (models.YieldStrategyRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.YieldStrategyRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[taskID]
	if !ok {
		return models.YieldStrategyRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *Memory) SetHoldingProtocol(ctx context.Context, taskID string, p models.Protocol) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[taskID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.HoldingProtocol = p
	m.records[taskID] = rec
	return nil
}

func (m *Memory) Delete(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, taskID)
	return nil
}

func (m *Memory) Close() error { return nil }
