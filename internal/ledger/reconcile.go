package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/model"
)

// Appender accepts history records.
type Appender interface {
	Append(ctx context.Context, r model.CheckinRecord) error
}

// DefaultReconcileInterval is how often Run polls connectivity.
const DefaultReconcileInterval = 10 * time.Second

// ReconcilerConfig wires a Reconciler.
type ReconcilerConfig struct {
	// Authority is the remote authority tentative redemptions are
	// replayed against.  Required.
	Authority Authority
	// Store holds tentative redemptions and spooled items.  Required.
	Store OfflineStore
	// History receives the record of every settled redemption.
	History Appender
	// Outbox forwards spooled history records.  Usually the remote
	// history endpoint, not a store that spools again.
	Outbox Appender
	// Reviews forwards spooled and newly raised review items.
	Reviews  ReviewQueue
	Probe    Probe
	Retry    RetryPolicy
	Interval time.Duration
	Batch    int
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  Recorder
}

// Report summarises one reconciliation pass.
type Report struct {
	Replayed       int     `json:"replayed"`
	Redeemed       int     `json:"redeemed"`
	Contested      int     `json:"contested"`
	Failed         int     `json:"failed"`
	RecordsFlushed int     `json:"records_flushed"`
	ReviewsFlushed int     `json:"reviews_flushed"`
	Interrupted    bool    `json:"interrupted"`
	Remaining      Backlog `json:"remaining"`
}

// Reconciler replays tentative redemptions once the authority is
// reachable and forwards everything the device spooled while offline.
type Reconciler struct {
	cfg ReconcilerConfig
	mu  sync.Mutex
}

// NewReconciler returns a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Authority == nil || cfg.Store == nil {
		panic("ledger: Reconciler needs an authority and an offline store")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcileInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{cfg: cfg}
}

// Settled reports whether no tentative redemption or spooled item is
// waiting.
func (r *Reconciler) Settled(ctx context.Context) (bool, error) {
	b, err := r.cfg.Store.Backlog(ctx)
	if err != nil {
		return false, err
	}
	return b.Empty(), nil
}

// Reconcile replays pending redemptions in the order they were taken.
// It stops early, leaving the remainder pending, as soon as the
// authority becomes unreachable again.  Errors are returned only for
// offline store failures.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rep Report
	pending, err := r.cfg.Store.Pending(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}

	for _, e := range pending {
		if err := r.replay(ctx, e, &rep); err != nil {
			return rep, err
		}
		if rep.Interrupted {
			break
		}
	}
	if !rep.Interrupted {
		if err := r.flushReviews(ctx, &rep); err != nil {
			return rep, err
		}
	}
	if !rep.Interrupted {
		if err := r.flushRecords(ctx, &rep); err != nil {
			return rep, err
		}
	}

	rep.Remaining, err = r.cfg.Store.Backlog(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SetOfflineBacklog(rep.Remaining.Pending)
	}
	return rep, nil
}

func (r *Reconciler) replay(ctx context.Context, e Entry, rep *Report) error {
	req := Request{
		BookingID:   e.Redemption.BookingID,
		EventID:     e.Redemption.EventID,
		DeviceID:    e.Redemption.DeviceID,
		RedeemedAt:  e.Redemption.RedeemedAt,
		Geolocation: e.Redemption.Geolocation,
		Replayed:    true,
	}
	var res Result
	err := r.cfg.Retry.Do(ctx, r.cfg.Clock, func(ctx context.Context) error {
		var err error
		res, err = r.cfg.Authority.Redeem(ctx, req)
		return err
	})
	log := r.cfg.Logger.With("booking_id", req.BookingID, "seq", e.Seq)

	switch {
	case model.IsUnavailable(err):
		log.Info("authority unreachable, reconciliation paused", "err", err)
		rep.Interrupted = true
		return nil

	case err != nil:
		rep.Replayed++
		rep.Failed++
		r.observe("failed")
		log.Warn("replay rejected", "err", err)
		if serr := r.cfg.Store.Settle(ctx, e.Seq, StatusFailed, err.Error()); serr != nil {
			return fmt.Errorf("reconcile: %w", serr)
		}
		reason := model.ReasonOf(err)
		if reason == model.ReasonNone {
			reason = model.ReasonMalformed
		}
		r.raise(ctx, NewReviewItem(e.Redemption, reason, model.ReviewReconcile, nil, err.Error()))
		return nil
	}

	rep.Replayed++
	if res.Outcome == OutcomeDuplicate && !ownPrior(e.Redemption, res.Prior) {
		rep.Contested++
		r.observe("contested")
		log.Warn("offline redemption contested", "prior_device_id", priorDevice(res.Prior))
		if err := r.cfg.Store.Settle(ctx, e.Seq, StatusContested, "redeemed by "+priorDevice(res.Prior)); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		r.appendHistory(ctx, e, model.OutcomeRejected, model.ReasonDuplicateRedemption)
		return nil
	}

	rep.Redeemed++
	r.observe("redeemed")
	log.Info("offline redemption settled")
	if err := r.cfg.Store.Settle(ctx, e.Seq, StatusSettled, ""); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	r.appendHistory(ctx, e, model.OutcomeRedeemed, model.ReasonNone)
	return nil
}

// ownPrior detects a replay whose earlier attempt reached the authority
// but was not settled locally.  Times are compared at store precision.
func ownPrior(mine model.Redemption, prior *model.Redemption) bool {
	return prior != nil && prior.DeviceID == mine.DeviceID &&
		model.RedemptionTime(prior.RedeemedAt).Equal(model.RedemptionTime(mine.RedeemedAt))
}

func (r *Reconciler) appendHistory(ctx context.Context, e Entry, outcome model.Outcome, reason model.Reason) {
	if r.cfg.History == nil {
		return
	}
	rec := RecordFor(e, outcome, reason)
	if err := r.cfg.History.Append(ctx, rec); err != nil {
		r.cfg.Logger.Warn("history append failed, spooling", "booking_id", rec.BookingID, "err", err)
		if serr := r.cfg.Store.SpoolRecord(ctx, rec); serr != nil {
			r.cfg.Logger.Error("spool history record failed", "booking_id", rec.BookingID, "err", serr)
		}
	}
}

// RecordFor builds the history record for a settled entry.  The draft
// stored with the entry supplies attendee and event details.
func RecordFor(e Entry, outcome model.Outcome, reason model.Reason) model.CheckinRecord {
	var rec model.CheckinRecord
	if e.Record != nil {
		rec = *e.Record
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.BookingID = e.Redemption.BookingID
	rec.EventID = e.Redemption.EventID
	rec.DeviceID = e.Redemption.DeviceID
	rec.CheckedInAt = e.Redemption.RedeemedAt
	rec.Location = e.Redemption.Geolocation
	if outcome == model.OutcomeRedeemed && rec.Outcome == model.OutcomeOverridden {
		// A supervisor override taken offline keeps its override reason.
		return rec
	}
	rec.Outcome = outcome
	rec.Reason = reason
	return rec
}

func (r *Reconciler) raise(ctx context.Context, item model.ReviewItem) {
	if r.cfg.Reviews != nil {
		if err := r.cfg.Reviews.Submit(ctx, item); err == nil {
			return
		}
	}
	if err := r.cfg.Store.SpoolReview(ctx, item); err != nil {
		r.cfg.Logger.Error("spool review failed", "booking_id", item.BookingID, "err", err)
	}
}

func (r *Reconciler) flushReviews(ctx context.Context, rep *Report) error {
	if r.cfg.Reviews == nil {
		return nil
	}
	items, err := r.cfg.Store.SpooledReviews(ctx, r.cfg.Batch)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, it := range items {
		if err := r.cfg.Reviews.Submit(ctx, it.Item); err != nil {
			if model.IsUnavailable(err) {
				rep.Interrupted = true
				return nil
			}
			r.cfg.Logger.Error("dropping undeliverable review item", "id", it.Item.ID, "err", err)
		} else {
			rep.ReviewsFlushed++
		}
		if err := r.cfg.Store.DeleteReview(ctx, it.Seq); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) flushRecords(ctx context.Context, rep *Report) error {
	if r.cfg.Outbox == nil {
		return nil
	}
	recs, err := r.cfg.Store.SpooledRecords(ctx, r.cfg.Batch)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, sr := range recs {
		if err := r.cfg.Outbox.Append(ctx, sr.Record); err != nil {
			if model.IsUnavailable(err) {
				rep.Interrupted = true
				return nil
			}
			r.cfg.Logger.Error("dropping undeliverable history record", "id", sr.Record.ID, "err", err)
		} else {
			rep.RecordsFlushed++
		}
		if err := r.cfg.Store.DeleteRecord(ctx, sr.Seq); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
	}
	return nil
}

// Run reconciles whenever the probe reports the authority reachable and
// there is work to do.  It returns when ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	settled, err := r.Settled(ctx)
	if err != nil {
		r.cfg.Logger.Error("reconcile backlog check failed", "err", err)
		return
	}
	if settled {
		return
	}
	if r.cfg.Probe != nil && !r.cfg.Probe.Online(ctx) {
		return
	}
	rep, err := r.Reconcile(ctx)
	if err != nil {
		r.cfg.Logger.Error("reconcile failed", "err", err)
		return
	}
	r.cfg.Logger.Info("reconcile pass",
		"replayed", rep.Replayed, "redeemed", rep.Redeemed, "contested", rep.Contested,
		"failed", rep.Failed, "interrupted", rep.Interrupted, "pending", rep.Remaining.Pending)
}

func (r *Reconciler) observe(result string) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveReconcile(result)
	}
}
