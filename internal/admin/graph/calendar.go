package graph

import (
	"context"
	"time"

	"github.com/conduit-lang/admin/internal/orm/query"
)

const calendarWeeks = 6

// ToCalendar counts records per day of the month containing selected,
// the current month when selected is zero. The grid always has six weeks
// starting on Monday; days outside the month are nil.
func (c *Collection) ToCalendar(ctx context.Context, field string, selected time.Time) (*CalendarDocument, error) {
	f, ok := c.mt.schema.Field(field)
	if !ok || !f.Type.IsTemporal() {
		return nil, &ConfigurationError{Model: c.mt.Name(), Name: field, Reason: "is not a date field"}
	}
	if selected.IsZero() {
		selected = time.Now().UTC()
	}

	first := time.Date(selected.Year(), selected.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	recs, err := c.Filter(field, query.OpGreaterThanOrEqual, first).
		Filter(field, query.OpLessThan, next).
		All(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int)
	for _, rec := range recs {
		if t, ok := rec.Time(field); ok {
			counts[t.UTC().Day()]++
		}
	}

	days := next.AddDate(0, 0, -1).Day()
	// Monday is column 0
	offset := (int(first.Weekday()) + 6) % 7

	weeks := make([][]*CalendarDay, calendarWeeks)
	for w := range weeks {
		weeks[w] = make([]*CalendarDay, 7)
		for d := 0; d < 7; d++ {
			day := w*7 + d - offset + 1
			if day < 1 || day > days {
				continue
			}
			weeks[w][d] = &CalendarDay{
				Date:     first.AddDate(0, 0, day-1).Format("2006-01-02"),
				Day:      day,
				Count:    counts[day],
				Selected: day == selected.Day(),
			}
		}
	}

	return &CalendarDocument{
		Type:     "calendar",
		Field:    field,
		Month:    first.Format("2006-01"),
		Previous: first.AddDate(0, -1, 0).Format("2006-01"),
		Next:     next.Format("2006-01"),
		Weeks:    weeks,
	}, nil
}
