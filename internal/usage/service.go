package usage

import (
	"context"
	"math"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/telephony"
)

type Service struct {
	repo     Repository
	provider telephony.TelephonyProvider
	now      func() time.Time
}

func NewService(repo Repository, provider telephony.TelephonyProvider) *Service {
	return &Service{repo: repo, provider: provider, now: time.Now}
}

// Summarize returns per-type totals for one number in period.
// An empty period means the current month.
func (s *Service) Summarize(ctx context.Context, phoneNumberID, period string) (Summary, error) {
	const op = "usage.summarize"
	bp := PeriodOf(s.now())
	if period != "" {
		var err error
		if bp, err = ParsePeriod(period); err != nil {
			return Summary{}, apperr.InvalidInput(op, err.Error())
		}
	}
	if phoneNumberID == "" {
		return Summary{}, apperr.InvalidInput(op, "phone number id is required")
	}

	p, _ := auth.PrincipalFrom(ctx)
	records, err := s.repo.ListRecords(ctx, p.UserID, phoneNumberID, bp)
	if err != nil {
		return Summary{}, apperr.Store(op, err)
	}
	return Summary{PhoneNumberID: phoneNumberID, Period: bp, Totals: Summarize(records)}, nil
}

// ProviderSummary asks the provider for account usage between start and end inclusive.
// It reports the whole provider account, so it requires a principal.
func (s *Service) ProviderSummary(ctx context.Context, start, end time.Time) (Summary, error) {
	const op = "usage.provider_summary"
	if _, ok := auth.PrincipalFrom(ctx); !ok {
		return Summary{}, apperr.AuthRequired(op)
	}
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return Summary{}, apperr.InvalidInput(op, "start must not be after end")
	}
	res, err := s.provider.UsageSummary(ctx, start, end)
	if err != nil {
		if apperr.Is(err, apperr.CodeProviderError) {
			return Summary{}, err
		}
		return Summary{}, apperr.Provider(op, 0, err)
	}

	out := Summary{
		StartDate: start.Format(time.DateOnly),
		EndDate:   end.Format(time.DateOnly),
		Totals:    make(map[string]Totals, len(res.Totals)),
	}
	for typ, line := range res.Totals {
		out.Totals[typ] = Totals{Quantity: line.Quantity, CostMicros: int64(math.Round(line.Cost * MicrosPerUnit))}
	}
	return out, nil
}
