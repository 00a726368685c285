package core

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

// MemoryStaging keeps staged uploads in process memory with per-namespace
// TTLs. It suits single-instance deployments and tests; entries are not
// shared between instances.
type MemoryStaging struct {
	progress  *expirable.LRU[string, Progress]
	results   *expirable.LRU[string, StagedUpload]
	dataTypes *expirable.LRU[string, schema.DataType]

	mu     sync.Mutex
	claims *expirable.LRU[string, struct{}]
}

var _ Staging = (*MemoryStaging)(nil)

// NewMemoryStaging returns a store holding at most capacity uploads per
// namespace. Zero TTLs fall back to the defaults.
func NewMemoryStaging(capacity int, progressTTL, resultTTL time.Duration) *MemoryStaging {
	if capacity <= 0 {
		capacity = 1024
	}
	if progressTTL <= 0 {
		progressTTL = DefaultProgressTTL
	}
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}

	return &MemoryStaging{
		progress:  expirable.NewLRU[string, Progress](capacity, nil, progressTTL),
		results:   expirable.NewLRU[string, StagedUpload](capacity, nil, resultTTL),
		dataTypes: expirable.NewLRU[string, schema.DataType](capacity, nil, resultTTL),
		claims:    expirable.NewLRU[string, struct{}](capacity, nil, resultTTL),
	}
}

func (m *MemoryStaging) PutProgress(_ context.Context, uploadID string, p Progress) {
	m.progress.Add(uploadID, p)
}

func (m *MemoryStaging) GetProgress(_ context.Context, uploadID string) (Progress, bool) {
	return m.progress.Get(uploadID)
}

func (m *MemoryStaging) PutResult(_ context.Context, uploadID string, staged StagedUpload) {
	m.results.Add(uploadID, staged)
}

func (m *MemoryStaging) GetResult(_ context.Context, uploadID string) (StagedUpload, bool) {
	return m.results.Get(uploadID)
}

func (m *MemoryStaging) PutDataType(_ context.Context, uploadID string, dt schema.DataType) {
	m.dataTypes.Add(uploadID, dt)
}

func (m *MemoryStaging) GetDataType(_ context.Context, uploadID string) (schema.DataType, bool) {
	return m.dataTypes.Get(uploadID)
}

func (m *MemoryStaging) Delete(_ context.Context, uploadID string) {
	m.progress.Remove(uploadID)
	m.results.Remove(uploadID)
	m.dataTypes.Remove(uploadID)
	m.claims.Remove(uploadID)
}

func (m *MemoryStaging) ClaimCommit(_ context.Context, uploadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claims.Contains(uploadID) {
		return false, nil
	}
	m.claims.Add(uploadID, struct{}{})
	return true, nil
}

func (m *MemoryStaging) ReleaseCommit(_ context.Context, uploadID string) {
	m.claims.Remove(uploadID)
}
