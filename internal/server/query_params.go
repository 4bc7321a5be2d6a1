package server

import (
	"strings"
	"time"
)

// queryTime is a query parameter holding either an RFC3339 instant or a
// calendar date in UTC.
type queryTime struct {
	field string
	raw   string
}

// bounds parses from and to. A bare date covers the whole day, so it opens a
// range at midnight and closes it at the last nanosecond.
func bounds(from, to queryTime) (*time.Time, *time.Time, error) {
	start, ok := from.resolve(false)
	if !ok {
		return nil, nil, from.invalid()
	}
	end, ok := to.resolve(true)
	if !ok {
		return nil, nil, to.invalid()
	}
	return start, end, nil
}

func (q queryTime) resolve(closing bool) (*time.Time, bool) {
	raw := strings.TrimSpace(q.raw)
	if raw == "" {
		return nil, true
	}
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return &at, true
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return nil, false
	}
	if closing {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, true
}

func (q queryTime) invalid() error {
	return newValidationError(q.field, "invalid_"+q.field, "invalid "+q.field)
}
