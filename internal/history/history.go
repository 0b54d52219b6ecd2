// Package history is the append-only audit trail of check-in outcomes.
// Every terminal scan result produces exactly one CheckinRecord; records
// are never updated or removed.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/event-checkin/internal/model"
)

// Store appends and queries check-in records.
type Store interface {
	Append(ctx context.Context, r model.CheckinRecord) error
	Query(ctx context.Context, f Filter) ([]model.CheckinRecord, error)
}

// SizeClass groups bookings by ticket count.
type SizeClass string

const (
	SizeAny    SizeClass = ""
	SizeSingle SizeClass = "single" // 1 ticket
	SizeGroup  SizeClass = "group"  // 2 to 10 tickets
	SizeLarge  SizeClass = "large"  // more than 10 tickets
)

// ParseSizeClass accepts "", "all", "single", "group" and "large".
func ParseSizeClass(s string) (SizeClass, error) {
	switch c := SizeClass(strings.ToLower(strings.TrimSpace(s))); c {
	case SizeAny, SizeSingle, SizeGroup, SizeLarge:
		return c, nil
	case "all":
		return SizeAny, nil
	}
	return "", fmt.Errorf("unknown ticket size class %q", s)
}

// Contains reports whether a booking of n tickets falls in the class.
func (c SizeClass) Contains(n int) bool {
	switch c {
	case SizeSingle:
		return n == 1
	case SizeGroup:
		return n >= 2 && n <= 10
	case SizeLarge:
		return n > 10
	}
	return true
}

// Bounds returns the inclusive ticket range of the class; hi is zero
// when unbounded.
func (c SizeClass) Bounds() (lo, hi int) {
	switch c {
	case SizeSingle:
		return 1, 1
	case SizeGroup:
		return 2, 10
	case SizeLarge:
		return 11, 0
	}
	return 0, 0
}

// Filter selects records.  Zero fields match everything.  From and To
// are inclusive.
type Filter struct {
	Search      string
	Size        SizeClass
	EventID     string
	Outcome     model.Outcome
	From        time.Time
	To          time.Time
	OldestFirst bool
	Limit       int
}

// Match reports whether r satisfies the filter.  Search matches booking
// id, attendee name, attendee email and event title, ignoring case.
func (f Filter) Match(r model.CheckinRecord) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !containsFold(r.BookingID, q) && !containsFold(r.UserName, q) &&
			!containsFold(r.UserEmail, q) && !containsFold(r.EventTitle, q) {
			return false
		}
	}
	if !f.Size.Contains(r.Tickets) {
		return false
	}
	if f.EventID != "" && r.EventID != f.EventID {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.From.IsZero() && r.CheckedInAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.CheckedInAt.After(f.To) {
		return false
	}
	return true
}

func containsFold(s, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(s), lowerQuery)
}

// Sort orders records by check-in time, most recent first unless
// oldestFirst is set.  Ties keep their input order.
func Sort(records []model.CheckinRecord, oldestFirst bool) {
	sort.SliceStable(records, func(i, j int) bool {
		if oldestFirst {
			return records[i].CheckedInAt.Before(records[j].CheckedInAt)
		}
		return records[i].CheckedInAt.After(records[j].CheckedInAt)
	})
}
