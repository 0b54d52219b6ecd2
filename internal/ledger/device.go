package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/model"
)

// Probe reports whether the authority is believed reachable.
type Probe interface {
	Online(ctx context.Context) bool
}

// DeviceLedger is the Authority a scanner uses.  It forwards to the
// remote authority when online and otherwise records the redemption
// tentatively in the offline store.  A booking already held locally is
// reported as a duplicate without contacting the authority.
type DeviceLedger struct {
	remote  Authority
	store   OfflineStore
	probe   Probe
	retry   RetryPolicy
	clock   clock.Clock
	log     *slog.Logger
	metrics Recorder

	// mu serialises the lookup-then-add against the offline store.
	mu sync.Mutex
}

// DeviceConfig wires a DeviceLedger.
type DeviceConfig struct {
	Remote  Authority
	Store   OfflineStore
	Probe   Probe
	Retry   RetryPolicy
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics Recorder
}

// NewDeviceLedger returns a DeviceLedger.  Remote and Store are required.
func NewDeviceLedger(cfg DeviceConfig) *DeviceLedger {
	if cfg.Remote == nil || cfg.Store == nil {
		panic("ledger: DeviceLedger needs a remote authority and an offline store")
	}
	d := &DeviceLedger{
		remote:  cfg.Remote,
		store:   cfg.Store,
		probe:   cfg.Probe,
		retry:   cfg.Retry,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

func (d *DeviceLedger) Redeem(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if req.RedeemedAt.IsZero() {
		req.RedeemedAt = d.clock.Now()
	}
	req.RedeemedAt = model.RedemptionTime(req.RedeemedAt)
	rec := req.redemption()

	d.mu.Lock()
	defer d.mu.Unlock()

	local, err := d.store.Lookup(ctx, req.BookingID)
	if err != nil {
		return Result{}, fmt.Errorf("offline lookup: %w", err)
	}
	if local != nil && local.Status.Blocks() {
		prior := local.Redemption
		d.log.Warn("duplicate redemption on device", "booking_id", rec.BookingID,
			"prior_status", local.Status, "prior_at", prior.RedeemedAt)
		item := NewReviewItem(rec, model.ReasonDuplicateRedemption, model.ReviewLocal, &prior, "repeat scan on the same device")
		if err := d.store.SpoolReview(ctx, item); err != nil {
			d.log.Error("spool review failed", "booking_id", rec.BookingID, "err", err)
		}
		return Result{Outcome: OutcomeDuplicate, Record: &rec, Prior: &prior}, nil
	}

	if d.probe != nil && !d.probe.Online(ctx) {
		d.log.Info("offline, queueing tentative redemption", "booking_id", rec.BookingID)
		return d.queue(ctx, req, rec, local)
	}

	var res Result
	start := time.Now()
	err = d.retry.Do(ctx, d.clock, func(ctx context.Context) error {
		var err error
		res, err = d.remote.Redeem(ctx, req)
		return err
	})
	switch {
	case err == nil:
		d.observe(string(res.Outcome), start)
		if res.Outcome == OutcomeSuccess {
			d.remember(ctx, rec, local)
		}
		return res, nil
	case model.IsUnavailable(err):
		d.observe("unavailable", start)
		d.log.Warn("authority unreachable, queueing tentative redemption", "booking_id", rec.BookingID, "err", err)
		return d.queue(ctx, req, rec, local)
	default:
		d.observe("error", start)
		return Result{}, err
	}
}

// queue stores rec as a tentative redemption.  A booking whose earlier
// replay failed stays out of the queue until the authority is reachable
// again.
func (d *DeviceLedger) queue(ctx context.Context, req Request, rec model.Redemption, existing *Entry) (Result, error) {
	if existing != nil {
		return Result{}, model.Unavailable(fmt.Errorf("booking %s has an unresolved offline entry: %s", rec.BookingID, existing.Detail))
	}
	_, err := d.store.Add(ctx, Entry{Redemption: rec, Record: req.Record, Status: StatusPending})
	if errors.Is(err, ErrEntryExists) {
		return Result{}, model.Errorf(model.ReasonDuplicateRedemption, "booking %s already queued", rec.BookingID)
	}
	if err != nil {
		return Result{}, model.Unavailable(fmt.Errorf("queue offline redemption: %w", err))
	}
	d.updateBacklog(ctx)
	return Result{Outcome: OutcomeTentative, Record: &rec}, nil
}

func (d *DeviceLedger) remember(ctx context.Context, rec model.Redemption, existing *Entry) {
	if existing != nil {
		return
	}
	if _, err := d.store.Add(ctx, Entry{Redemption: rec, Status: StatusConfirmed}); err != nil && !errors.Is(err, ErrEntryExists) {
		d.log.Warn("remember redemption failed", "booking_id", rec.BookingID, "err", err)
	}
}

func (d *DeviceLedger) observe(outcome string, start time.Time) {
	if d.metrics != nil {
		d.metrics.ObserveRedeem(outcome, time.Since(start))
	}
}

func (d *DeviceLedger) updateBacklog(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	if b, err := d.store.Backlog(ctx); err == nil {
		d.metrics.SetOfflineBacklog(b.Pending)
	}
}
