// Package ledger owns redemption state.  Ledger is the authoritative
// consume-once store that runs next to the database; DeviceLedger is the
// scanner-side view that falls back to tentative, locally queued
// redemptions when the authority cannot be reached, and Reconciler
// replays those once connectivity returns.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/model"
)

// Outcome is the result of a single redemption attempt.
type Outcome string

const (
	// OutcomeSuccess means this call created the redemption.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeDuplicate means a redemption for the booking already existed.
	OutcomeDuplicate Outcome = "DUPLICATE"
	// OutcomeTentative means the authority was unreachable and the
	// redemption was queued on the device for later reconciliation.
	OutcomeTentative Outcome = "TENTATIVE"
)

// Request asks the authority to consume a booking.
type Request struct {
	BookingID   string             `json:"booking_id"`
	EventID     string             `json:"event_id"`
	DeviceID    string             `json:"device_id"`
	RedeemedAt  time.Time          `json:"redeemed_at"`
	Geolocation *model.Geolocation `json:"geolocation,omitempty"`
	Replayed    bool               `json:"replayed,omitempty"`

	// Record is the history record a DeviceLedger keeps with a
	// tentative redemption so it can be appended on settlement.
	Record *model.CheckinRecord `json:"-"`
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.BookingID) == "":
		return errors.New("ledger: booking_id is required")
	case strings.TrimSpace(r.EventID) == "":
		return errors.New("ledger: event_id is required")
	case strings.TrimSpace(r.DeviceID) == "":
		return errors.New("ledger: device_id is required")
	}
	return nil
}

func (r Request) redemption() model.Redemption {
	return model.Redemption{
		BookingID:   r.BookingID,
		EventID:     r.EventID,
		DeviceID:    r.DeviceID,
		RedeemedAt:  model.RedemptionTime(r.RedeemedAt),
		Geolocation: r.Geolocation,
		Replayed:    r.Replayed,
	}
}

// Result describes what a redemption attempt did.  Record is the
// redemption written (or queued) by this call; Prior is the existing
// redemption on a duplicate.
type Result struct {
	Outcome Outcome           `json:"outcome"`
	Record  *model.Redemption `json:"record,omitempty"`
	Prior   *model.Redemption `json:"prior,omitempty"`
}

// Err converts the result into the error taxonomy: nil for success and
// tentative, ErrDuplicateRedemption for duplicates.
func (r Result) Err() error {
	if r.Outcome == OutcomeDuplicate {
		return model.ErrDuplicateRedemption
	}
	return nil
}

// Authority performs consume-once redemptions.  Implementations must
// guarantee that, across all callers, at most one Redeem for a booking
// reports OutcomeSuccess.  A returned error is either NetworkUnavailable
// (retryable) or a request problem.
type Authority interface {
	Redeem(ctx context.Context, req Request) (Result, error)
}

// Backend is the storage primitive underneath Ledger.  InsertIfAbsent
// must be linearizable per booking id.
type Backend interface {
	// InsertIfAbsent stores r unless a redemption for r.BookingID exists.
	// On conflict it returns the existing record and inserted=false.
	InsertIfAbsent(ctx context.Context, r model.Redemption) (prior *model.Redemption, inserted bool, err error)
	// Get returns the redemption for bookingID or ErrNotFound.
	Get(ctx context.Context, bookingID string) (*model.Redemption, error)
}

// ReviewQueue collects contested redemptions for manual review.
type ReviewQueue interface {
	Submit(ctx context.Context, item model.ReviewItem) error
	List(ctx context.Context, eventID string, limit int) ([]model.ReviewItem, error)
}

// ErrNotFound is returned by Backend.Get when no redemption exists.
var ErrNotFound = errors.New("ledger: redemption not found")

// Recorder receives ledger measurements.  monitoring.Metrics implements
// it; a nil Recorder is allowed.
type Recorder interface {
	ObserveRedeem(outcome string, d time.Duration)
	SetOfflineBacklog(pending int)
	ObserveReconcile(result string)
}

// Ledger is the authoritative Authority.  It wraps a Backend with the
// review queue so that every contested attempt stays visible.
type Ledger struct {
	backend Backend
	reviews ReviewQueue
	clock   clock.Clock
	log     *slog.Logger
	metrics Recorder
	retry   *RetryPolicy
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used to stamp review items.
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(l *Ledger) { l.log = log } }

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option { return func(l *Ledger) { l.metrics = r } }

// WithRetry bounds every backend write by p.  Without it each Redeem
// makes exactly one attempt with the caller's context.
func WithRetry(p RetryPolicy) Option { return func(l *Ledger) { l.retry = &p } }

// New returns a Ledger over backend.  reviews may be nil, in which case
// contested attempts are only logged.
func New(backend Backend, reviews ReviewQueue, opts ...Option) *Ledger {
	if backend == nil {
		panic("nil backend passed to ledger.New")
	}
	l := &Ledger{backend: backend, reviews: reviews, clock: clock.Real(), log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Redeem performs the single conditional write.  Backend failures are
// reported as NetworkUnavailable so callers can queue and retry.
func (l *Ledger) Redeem(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if req.RedeemedAt.IsZero() {
		req.RedeemedAt = l.clock.Now()
	}
	rec := req.redemption()

	start := time.Now()
	prior, inserted, err := l.insert(ctx, rec)
	if err != nil {
		l.observe("error", start)
		l.log.Error("ledger insert failed", "booking_id", req.BookingID, "err", err)
		return Result{}, model.Unavailable(fmt.Errorf("ledger insert: %w", err))
	}
	if inserted {
		l.observe(string(OutcomeSuccess), start)
		l.log.Info("redeemed", "booking_id", rec.BookingID, "event_id", rec.EventID,
			"device_id", rec.DeviceID, "replayed", rec.Replayed)
		return Result{Outcome: OutcomeSuccess, Record: &rec}, nil
	}

	l.observe(string(OutcomeDuplicate), start)
	l.log.Warn("duplicate redemption", "booking_id", rec.BookingID, "device_id", rec.DeviceID,
		"prior_device_id", priorDevice(prior), "replayed", rec.Replayed)
	source := model.ReviewOnline
	if rec.Replayed {
		source = model.ReviewReconcile
	}
	l.submitReview(ctx, NewReviewItem(rec, model.ReasonDuplicateRedemption, source, prior, ""))
	return Result{Outcome: OutcomeDuplicate, Record: &rec, Prior: prior}, nil
}

func (l *Ledger) insert(ctx context.Context, rec model.Redemption) (prior *model.Redemption, inserted bool, err error) {
	if l.retry == nil {
		return l.backend.InsertIfAbsent(ctx, rec)
	}
	err = l.retry.Do(ctx, l.clock, func(ctx context.Context) error {
		var err error
		prior, inserted, err = l.backend.InsertIfAbsent(ctx, rec)
		return model.Unavailable(err)
	})
	if err == nil && !inserted && ownPrior(rec, prior) {
		// An earlier attempt committed before its timeout fired.
		return nil, true, nil
	}
	return prior, inserted, err
}

// Lookup returns the stored redemption for bookingID.
func (l *Ledger) Lookup(ctx context.Context, bookingID string) (*model.Redemption, error) {
	return l.backend.Get(ctx, bookingID)
}

func (l *Ledger) submitReview(ctx context.Context, item model.ReviewItem) {
	if l.reviews == nil {
		return
	}
	if err := l.reviews.Submit(ctx, item); err != nil {
		l.log.Error("review submit failed", "booking_id", item.BookingID, "err", err)
	}
}

func (l *Ledger) observe(outcome string, start time.Time) {
	if l.metrics != nil {
		l.metrics.ObserveRedeem(outcome, time.Since(start))
	}
}

// NewReviewItem builds a review queue entry for an attempted redemption.
func NewReviewItem(attempt model.Redemption, reason model.Reason, source model.ReviewSource, prior *model.Redemption, detail string) model.ReviewItem {
	return model.ReviewItem{
		ID:          uuid.NewString(),
		BookingID:   attempt.BookingID,
		EventID:     attempt.EventID,
		DeviceID:    attempt.DeviceID,
		AttemptedAt: attempt.RedeemedAt,
		Reason:      reason,
		Detail:      detail,
		Source:      source,
		Prior:       prior,
	}
}

func priorDevice(p *model.Redemption) string {
	if p == nil {
		return ""
	}
	return p.DeviceID
}
