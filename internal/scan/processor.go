// Package scan drives a scanning device: it turns presented payloads
// into validated, redeemed and recorded check-ins and keeps the
// per-device session state the operator sees.
package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/credential"
	"github.com/iliyamo/event-checkin/internal/history"
	"github.com/iliyamo/event-checkin/internal/ledger"
	"github.com/iliyamo/event-checkin/internal/model"
)

// AttendeeLookup resolves customer details for a booking.  It is
// optional; without it exported records carry no name, email or amount.
type AttendeeLookup interface {
	Attendee(ctx context.Context, bookingID string) (model.Attendee, error)
}

// Recorder receives processing measurements.
type Recorder interface {
	ObserveCheckin(outcome model.Outcome, reason model.Reason)
}

// Session identifies where scans happen.
type Session struct {
	EventID  string             `json:"event_id" yaml:"event_id"`
	DeviceID string             `json:"device_id" yaml:"device_id"`
	Location *model.Geolocation `json:"location,omitempty" yaml:"location,omitempty"`
}

// Outcome is the result of processing one presentation.
type Outcome struct {
	Accepted bool `json:"accepted"`
	// Tentative is set when the redemption was queued offline and will
	// be confirmed by reconciliation.
	Tentative  bool                 `json:"tentative,omitempty"`
	Reason     model.Reason         `json:"reason,omitempty"`
	Detail     string               `json:"detail,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
	Credential *model.Credential    `json:"credential,omitempty"`
	Prior      *model.Redemption    `json:"prior,omitempty"`
	Record     *model.CheckinRecord `json:"record,omitempty"`
	At         time.Time            `json:"at"`
}

// TicketState maps the outcome onto the ticket lifecycle.  A tentative
// admission has passed validation but is not redeemed until the
// authority confirms it.
func (o Outcome) TicketState() model.TicketState {
	switch {
	case o.Accepted && o.Tentative:
		return model.TicketValidated
	case o.Accepted:
		return model.TicketRedeemed
	case o.Retryable():
		return model.TicketPresented
	}
	return model.TicketRejected
}

// Retryable reports whether presenting the same credential again may
// succeed.
func (o Outcome) Retryable() bool { return o.Reason.Retryable() }

// Processor runs decode, validate, redeem and record for one payload.
// It is stateless apart from its collaborators and is shared by the
// device controller and the server's scan endpoint.
type Processor struct {
	validator *credential.Validator
	ledger    ledger.Authority
	history   history.Store
	attendees AttendeeLookup
	clock     clock.Clock
	log       *slog.Logger
	metrics   Recorder
}

// ProcessorConfig wires a Processor.  Validator, Ledger and History are
// required.
type ProcessorConfig struct {
	Validator *credential.Validator
	Ledger    ledger.Authority
	History   history.Store
	Attendees AttendeeLookup
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   Recorder
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Validator == nil || cfg.Ledger == nil || cfg.History == nil {
		panic("scan: Processor needs a validator, a ledger and a history store")
	}
	p := &Processor{
		validator: cfg.Validator,
		ledger:    cfg.Ledger,
		history:   cfg.History,
		attendees: cfg.Attendees,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Process handles a presented payload.  Fatal rejections never reach
// the ledger.
func (p *Processor) Process(ctx context.Context, payload string, s Session) Outcome {
	now := p.clock.Now()
	c, err := credential.Decode(payload)
	if err != nil {
		out := Outcome{Reason: model.ReasonDecodeError, Detail: err.Error(), At: now}
		p.finish(ctx, &out, p.draft(ctx, nil, s, now))
		return out
	}

	res := p.validator.Validate(c, credential.Context{EventID: s.EventID, Now: now})
	if !res.Valid() {
		out := Outcome{Reason: res.Reason, Credential: &c, At: now}
		p.finish(ctx, &out, p.draft(ctx, &c, s, now))
		return out
	}
	return p.redeem(ctx, &c, s, now, res.Warnings, "", model.ReasonNone)
}

// Override admits a credential that was rejected for an overridable
// reason.  A duplicate is recorded without touching the ledger; any
// other reason re-runs the ledger step without validation.
func (p *Processor) Override(ctx context.Context, c model.Credential, rejected model.Reason, s Session, note string) Outcome {
	now := p.clock.Now()
	if rejected == model.ReasonDuplicateRedemption {
		out := Outcome{Accepted: true, Reason: rejected, Credential: &c, At: now}
		rec := p.draft(ctx, &c, s, now)
		rec.Note = note
		p.finish(ctx, &out, rec)
		return out
	}
	return p.redeem(ctx, &c, s, now, nil, note, rejected)
}

// redeem performs the ledger step.  overridden is the rejection being
// overridden, or ReasonNone for a regular scan.
func (p *Processor) redeem(ctx context.Context, c *model.Credential, s Session, now time.Time, warnings []string, note string, overridden model.Reason) Outcome {
	rec := p.draft(ctx, c, s, now)
	rec.Warnings = warnings
	rec.Note = note
	if overridden != model.ReasonNone {
		rec.Outcome = model.OutcomeOverridden
		rec.Reason = overridden
	}
	out := Outcome{Warnings: warnings, Credential: c, At: now}

	res, err := p.ledger.Redeem(ctx, ledger.Request{
		BookingID:   c.BookingID,
		EventID:     c.EventID,
		DeviceID:    s.DeviceID,
		RedeemedAt:  now,
		Geolocation: s.Location,
		Record:      &rec,
	})
	switch {
	case model.IsUnavailable(err):
		// Not terminal: nothing is recorded and the operator may retry.
		out.Reason = model.ReasonNetworkUnavailable
		out.Detail = err.Error()
		p.log.Warn("redemption unavailable", "booking_id", c.BookingID, "err", err)
		p.observe(model.OutcomeRejected, out.Reason)
		return out
	case err != nil:
		out.Reason = model.ReasonOf(err)
		if out.Reason == model.ReasonNone {
			out.Reason = model.ReasonMalformed
		}
		out.Detail = err.Error()
	case res.Outcome == ledger.OutcomeDuplicate:
		out.Reason = model.ReasonDuplicateRedemption
		out.Prior = res.Prior
	case res.Outcome == ledger.OutcomeTentative:
		out.Accepted = true
		out.Tentative = true
		out.Reason = overridden
		p.log.Info("tentative check-in", "booking_id", c.BookingID, "device_id", s.DeviceID)
		p.observe(model.OutcomeRedeemed, model.ReasonNone)
		return out
	default:
		out.Accepted = true
		out.Reason = overridden
	}
	p.finish(ctx, &out, rec)
	return out
}

// draft builds the history record for a presentation.
func (p *Processor) draft(ctx context.Context, c *model.Credential, s Session, now time.Time) model.CheckinRecord {
	rec := model.CheckinRecord{
		ID:          uuid.NewString(),
		EventID:     s.EventID,
		DeviceID:    s.DeviceID,
		CheckedInAt: now,
		Location:    s.Location,
	}
	if c == nil {
		return rec
	}
	rec.BookingID = c.BookingID
	rec.UserID = c.UserID
	rec.EventTitle = c.EventTitle
	rec.Tickets = c.TicketQuantity
	if p.attendees != nil {
		a, err := p.attendees.Attendee(ctx, c.BookingID)
		if err != nil {
			p.log.Warn("attendee lookup failed", "booking_id", c.BookingID, "err", err)
		} else {
			rec.UserName = a.Name
			rec.UserEmail = a.Email
			rec.Amount = a.Amount
		}
	}
	return rec
}

// finish appends the terminal record for out.
func (p *Processor) finish(ctx context.Context, out *Outcome, rec model.CheckinRecord) {
	switch {
	case out.Accepted && out.Reason != model.ReasonNone:
		rec.Outcome = model.OutcomeOverridden
	case out.Accepted:
		rec.Outcome = model.OutcomeRedeemed
	default:
		rec.Outcome = model.OutcomeRejected
	}
	rec.Reason = out.Reason
	if err := p.history.Append(ctx, rec); err != nil {
		p.log.Error("history append failed", "booking_id", rec.BookingID, "err", err)
	}
	out.Record = &rec
	p.observe(rec.Outcome, rec.Reason)
	p.log.Info("check-in", "booking_id", rec.BookingID, "outcome", rec.Outcome, "reason", rec.Reason)
}

func (p *Processor) observe(o model.Outcome, r model.Reason) {
	if p.metrics != nil {
		p.metrics.ObserveCheckin(o, r)
	}
}
