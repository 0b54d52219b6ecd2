package history

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/event-checkin/internal/model"
)

// MaxQueryLimit caps the number of records a single query returns.
const MaxQueryLimit = 1000

// Values encodes f as URL query parameters understood by ParseFilter.
func (f Filter) Values() url.Values {
	v := url.Values{}
	if f.Search != "" {
		v.Set("q", f.Search)
	}
	if f.Size != SizeAny {
		v.Set("size", string(f.Size))
	}
	if f.EventID != "" {
		v.Set("event_id", f.EventID)
	}
	if f.Outcome != "" {
		v.Set("outcome", string(f.Outcome))
	}
	if !f.From.IsZero() {
		v.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		v.Set("to", f.To.UTC().Format(time.RFC3339))
	}
	if f.OldestFirst {
		v.Set("order", "oldest")
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v
}

// ParseFilter decodes query parameters.  Dates accept RFC 3339 or a
// plain YYYY-MM-DD; a plain "to" date covers that whole day.
func ParseFilter(v url.Values) (Filter, error) {
	var (
		f   Filter
		err error
	)
	f.Search = strings.TrimSpace(v.Get("q"))
	if f.Size, err = ParseSizeClass(v.Get("size")); err != nil {
		return f, err
	}
	f.EventID = strings.TrimSpace(v.Get("event_id"))
	switch o := model.Outcome(strings.ToUpper(strings.TrimSpace(v.Get("outcome")))); o {
	case "", model.OutcomeRedeemed, model.OutcomeRejected, model.OutcomeOverridden:
		f.Outcome = o
	default:
		return f, fmt.Errorf("unknown outcome %q", o)
	}
	if f.From, err = parseDate(v.Get("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseDate(v.Get("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("date range ends before it starts")
	}
	switch strings.ToLower(v.Get("order")) {
	case "", "newest":
	case "oldest":
		f.OldestFirst = true
	default:
		return f, fmt.Errorf("unknown order %q", v.Get("order"))
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", s)
		}
		f.Limit = n
	}
	if f.Limit == 0 || f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return f, nil
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	if endOfDay {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	return d, nil
}
