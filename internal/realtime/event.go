package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event is one row insert reported by the change stream.
type Event struct {
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// Decode unmarshals the inserted row into T.
func Decode[T any](ev Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Record, &out); err != nil {
		return out, fmt.Errorf("realtime: decode %s row: %w", ev.Table, err)
	}
	return out, nil
}

// RowID returns the row's "id" column, or "" when absent.
func (ev Event) RowID() string {
	var row struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(ev.Record, &row); err != nil || row.ID == nil {
		return ""
	}
	return fmt.Sprint(row.ID)
}

// Condition is an equality test on one column.
type Condition struct {
	Column string
	Value  string
}

func Eq(column, value string) Condition { return Condition{Column: column, Value: value} }

// Filter selects insert events on Table whose row satisfies every condition.
type Filter struct {
	Table      string
	Conditions []Condition
}

func (f Filter) Validate() error {
	if strings.TrimSpace(f.Table) == "" {
		return errors.New("realtime: filter table is required")
	}
	for _, c := range f.Conditions {
		if strings.TrimSpace(c.Column) == "" {
			return errors.New("realtime: filter condition column is required")
		}
	}
	return nil
}

// Matches reports whether ev is an insert on f.Table satisfying all conditions.
// Non-string column values are compared by their JSON text form.
func (f Filter) Matches(ev Event) bool {
	if ev.Table != f.Table {
		return false
	}
	if len(f.Conditions) == 0 {
		return true
	}
	var row map[string]json.RawMessage
	if err := json.Unmarshal(ev.Record, &row); err != nil {
		return false
	}
	for _, c := range f.Conditions {
		raw, ok := row[c.Column]
		if !ok {
			return false
		}
		s := string(raw)
		if strings.HasPrefix(s, `"`) {
			if err := json.Unmarshal(raw, &s); err != nil {
				return false
			}
		}
		if s != c.Value {
			return false
		}
	}
	return true
}

// String renders the filter as table:col=eq.val,... for logs.
func (f Filter) String() string {
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		parts = append(parts, c.Column+"=eq."+c.Value)
	}
	return f.Table + ":" + strings.Join(parts, ",")
}
