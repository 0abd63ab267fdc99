package numbers

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
// It enforces owner scoping on reads.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []PhoneNumber

	// InsertErr, when set, is returned by Insert.
	InsertErr error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListByOwner(_ context.Context, ownerID string) ([]PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PhoneNumber, 0)
	for _, n := range r.rows {
		if ownerID != "" && n.AssignedTo == ownerID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) Get(_ context.Context, ownerID, id string) (PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.ID == id && n.AssignedTo == ownerID {
			return n, nil
		}
	}
	return PhoneNumber{}, ErrNotFound
}

func (r *MemoryRepo) Insert(_ context.Context, n PhoneNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return r.InsertErr
	}
	for _, cur := range r.rows {
		if cur.ID == n.ID || cur.PhoneNumber == n.PhoneNumber {
			return errors.New("numbers: duplicate phone number")
		}
	}
	r.rows = append(r.rows, n)
	return nil
}

func (r *MemoryRepo) OwnerOf(_ context.Context, phoneNumber string) (PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.PhoneNumber == phoneNumber && n.Status == StatusActive {
			return n, nil
		}
	}
	return PhoneNumber{}, ErrNotFound
}
