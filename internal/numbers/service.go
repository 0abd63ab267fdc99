package numbers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/telephony"
	"phone-gateway/pkg/logger"

	"github.com/google/uuid"
)

// Directory lists, searches and provisions phone numbers for the calling principal.
type Directory struct {
	repo     Repository
	provider telephony.TelephonyProvider
	log      *slog.Logger
	now      func() time.Time
}

func NewDirectory(repo Repository, provider telephony.TelephonyProvider, log *slog.Logger) *Directory {
	return &Directory{repo: repo, provider: provider, log: logger.Component(log, "numbers"), now: time.Now}
}

// ListOwned returns the principal's numbers, newest first.
// Without a principal the answer is an empty list, not an error.
func (d *Directory) ListOwned(ctx context.Context) ([]PhoneNumber, error) {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return []PhoneNumber{}, nil
	}
	out, err := d.repo.ListByOwner(ctx, p.UserID)
	if err != nil {
		return nil, apperr.Store("numbers.list_owned", err)
	}
	return out, nil
}

// Get returns one of the principal's numbers.
func (d *Directory) Get(ctx context.Context, id string) (PhoneNumber, error) {
	const op = "numbers.get"
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return PhoneNumber{}, apperr.AuthRequired(op)
	}
	n, err := d.repo.Get(ctx, p.UserID, id)
	if errors.Is(err, ErrNotFound) {
		return PhoneNumber{}, apperr.NotFound(op, "phone number")
	}
	if err != nil {
		return PhoneNumber{}, apperr.Store(op, err)
	}
	return n, nil
}

// SearchAvailable delegates to the provider; its errors are returned unchanged.
func (d *Directory) SearchAvailable(ctx context.Context, q telephony.SearchQuery) ([]telephony.CandidateNumber, error) {
	return d.provider.SearchNumbers(ctx, q)
}

// Provision buys number from the provider with full capabilities and records it
// as an active number owned by the principal.
func (d *Directory) Provision(ctx context.Context, number, friendlyName string) (PhoneNumber, error) {
	const op = "numbers.provision"
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return PhoneNumber{}, apperr.AuthRequired(op)
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return PhoneNumber{}, apperr.InvalidInput(op, "phone number is required")
	}

	caps := telephony.FullCapabilities()
	res, err := d.provider.ProvisionNumber(ctx, telephony.ProvisionRequest{
		ClientID:     p.UserID,
		PhoneNumber:  number,
		FriendlyName: friendlyName,
		Capabilities: caps,
	})
	if err != nil {
		if apperr.Is(err, apperr.CodeProviderError) {
			return PhoneNumber{}, err
		}
		return PhoneNumber{}, apperr.Provider(op, 0, err)
	}

	n := PhoneNumber{
		ID:           uuid.NewString(),
		PhoneNumber:  res.PhoneNumber,
		FriendlyName: friendlyName,
		Capabilities: caps,
		Provider:     res.Provider,
		Status:       StatusActive,
		AssignedTo:   p.UserID,
		CreatedAt:    d.now().UTC(),
	}
	if n.PhoneNumber == "" {
		n.PhoneNumber = number
	}
	if n.Provider == "" {
		n.Provider = "default"
	}
	if err := d.repo.Insert(ctx, n); err != nil {
		// The provider already holds the number; surface the store failure so it can be reconciled.
		d.log.Error("provisioned number not recorded", "phone_number", n.PhoneNumber, "user_id", p.UserID, "err", err)
		return PhoneNumber{}, apperr.Store(op, err)
	}

	d.log.Info("number provisioned", "number_id", n.ID, "phone_number", n.PhoneNumber, "user_id", p.UserID)
	return n, nil
}

// Owner resolves the active number record for an E.164 string regardless of principal.
func (d *Directory) Owner(ctx context.Context, phoneNumber string) (PhoneNumber, error) {
	const op = "numbers.owner"
	n, err := d.repo.OwnerOf(ctx, phoneNumber)
	if errors.Is(err, ErrNotFound) {
		return PhoneNumber{}, apperr.NotFound(op, "phone number")
	}
	if err != nil {
		return PhoneNumber{}, apperr.Store(op, err)
	}
	return n, nil
}
