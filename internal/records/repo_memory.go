package records

import (
	"context"
	"sync"
	"time"
)

// Repository stores retained call artifacts for later reporting.
type Repository interface {
	SaveCallRecord(ctx context.Context, rec CallRecord) error
	ListCallRecords(ctx context.Context, from, to time.Time) ([]CallRecord, error)
}

// MemoryRepo is an in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	records []CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) ListCallRecords(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.records {
		if !rec.CreatedAt.IsZero() {
			if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
