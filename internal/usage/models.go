package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPeriod = errors.New("usage: billing period must be YYYY-MM")

// MicrosPerUnit is the number of cost micros in one currency unit.
const MicrosPerUnit = 1_000_000

// Record is one billable event. Cost is kept in integer micros so folding
// is exact in any order.
type Record struct {
	ID            string        `json:"id"`
	PhoneNumberID string        `json:"phone_number_id"`
	UserID        string        `json:"user_id,omitempty"`
	Type          string        `json:"usage_type"`
	Quantity      int64         `json:"quantity"`
	CostMicros    int64         `json:"cost_micros"`
	Period        BillingPeriod `json:"billing_period"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Totals is the additive fold of records of one type.
type Totals struct {
	Quantity   int64
	CostMicros int64
}

func (t Totals) Cost() float64 { return float64(t.CostMicros) / MicrosPerUnit }

func (t Totals) add(r Record) Totals {
	return Totals{Quantity: t.Quantity + r.Quantity, CostMicros: t.CostMicros + r.CostMicros}
}

func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Quantity   int64   `json:"quantity"`
		Cost       float64 `json:"cost"`
		CostMicros int64   `json:"cost_micros"`
	}{t.Quantity, t.Cost(), t.CostMicros})
}

// Summary is the per-type usage for one number and period.
type Summary struct {
	PhoneNumberID string            `json:"phone_number_id,omitempty"`
	Period        BillingPeriod     `json:"period,omitempty"`
	StartDate     string            `json:"start_date,omitempty"`
	EndDate       string            `json:"end_date,omitempty"`
	Totals        map[string]Totals `json:"totals"`
}

// BillingPeriod is a calendar month formatted YYYY-MM.
type BillingPeriod string

const periodLayout = "2006-01"

func PeriodOf(t time.Time) BillingPeriod {
	return BillingPeriod(t.UTC().Format(periodLayout))
}

func ParsePeriod(s string) (BillingPeriod, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return PeriodOf(t), nil
}

// Bounds returns the half-open [start, end) range of the month in UTC.
func (p BillingPeriod) Bounds() (time.Time, time.Time, error) {
	start, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(p))
	}
	return start, start.AddDate(0, 1, 0), nil
}

// Summarize folds records additively by type. The result does not depend on
// record order. No records yields an empty, non-nil map.
func Summarize(records []Record) map[string]Totals {
	out := make(map[string]Totals)
	for _, r := range records {
		out[r.Type] = out[r.Type].add(r)
	}
	return out
}
