package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []CallLog

	// Err, when set, is returned by every method.
	Err error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) History(_ context.Context, ownerID, number string, limit int) ([]CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]CallLog, 0)
	for _, c := range r.rows {
		if ownerID == "" || c.UserID != ownerID {
			continue
		}
		if number != "" && c.From != number && c.To != number {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Get(_ context.Context, ownerID, id string) (CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return CallLog{}, r.Err
	}
	for _, c := range r.rows {
		if c.ID == id && ownerID != "" && c.UserID == ownerID {
			return c, nil
		}
	}
	return CallLog{}, ErrNotFound
}

// Insert appends c as is. Tests use it to seed history.
func (r *MemoryRepo) Insert(_ context.Context, c CallLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.rows = append(r.rows, c)
	return nil
}

func (r *MemoryRepo) Record(_ context.Context, c CallLog) (CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return CallLog{}, r.Err
	}
	if c.CallSID != "" {
		for i := range r.rows {
			cur := &r.rows[i]
			if cur.CallSID != c.CallSID {
				continue
			}
			cur.Status = c.Status
			if c.Duration != nil {
				cur.Duration = c.Duration
			}
			if c.RecordingURL != "" {
				cur.RecordingURL = c.RecordingURL
			}
			return *cur, nil
		}
	}
	r.rows = append(r.rows, c)
	return c, nil
}

// Len reports the number of stored logs.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
