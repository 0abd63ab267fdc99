package usage

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests. It enforces owner isolation on reads.
type MemoryRepo struct {
	mu      sync.Mutex
	Records []Record

	// Err, when set, is returned by ListRecords.
	Err error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Add(recs ...Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Records = append(r.Records, recs...)
}

func (r *MemoryRepo) ListRecords(_ context.Context, ownerID, phoneNumberID string, period BillingPeriod) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]Record, 0)
	for _, rec := range r.Records {
		if ownerID == "" || rec.UserID != ownerID {
			continue
		}
		if rec.PhoneNumberID == phoneNumberID && rec.Period == period {
			out = append(out, rec)
		}
	}
	return out, nil
}
