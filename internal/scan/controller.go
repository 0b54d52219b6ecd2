package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/utils"
)

// State is the session state of a scanning device.
type State string

const (
	StateIdle       State = "IDLE"
	StateScanning   State = "SCANNING"
	StatePresented  State = "PRESENTED"
	StateProcessing State = "PROCESSING"
	StateSuccess    State = "SUCCESS"
	StateRejected   State = "REJECTED"
)

// Displaying reports whether the state shows a result to the operator.
func (s State) Displaying() bool { return s == StateSuccess || s == StateRejected }

const (
	DefaultDisplayTimeout = 3 * time.Second
	DefaultScanInterval   = 250 * time.Millisecond
	DefaultDecodeTimeout  = 2 * time.Second
)

var (
	// ErrBusy is returned for a presentation while another one is being
	// processed or displayed.
	ErrBusy = errors.New("scan: session busy")
	// ErrNotOverridable is returned by Override when there is no
	// rejection that a supervisor may override.
	ErrNotOverridable = errors.New("scan: nothing to override")
	// ErrBadPIN is returned by Override for a wrong supervisor PIN.
	ErrBadPIN = errors.New("scan: supervisor PIN rejected")
)

// Snapshot is the operator-visible session state.
type Snapshot struct {
	State   State     `json:"state"`
	Outcome *Outcome  `json:"outcome,omitempty"`
	Since   time.Time `json:"since"`
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Session   Session
	Processor *Processor
	// Decoder feeds Run; it may be nil when only Submit is used.
	Decoder        Decoder
	DisplayTimeout time.Duration
	ScanInterval   time.Duration
	DecodeTimeout  time.Duration
	// SupervisorPINHash is a bcrypt hash; overrides are disabled when
	// it is empty.
	SupervisorPINHash string
	OnChange          func(Snapshot)
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Controller is the per-device scan session.  All transitions happen
// under one mutex; processing runs outside it while the state is
// Processing, which keeps further presentations out.
type Controller struct {
	cfg  ControllerConfig
	proc *Processor

	mu    sync.Mutex
	state State
	since time.Time
	last  *Outcome
	gen   uint64
	timer clock.Timer
	// discard drops the result of the presentation in flight.
	discard bool
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Processor == nil {
		panic("scan: Controller needs a Processor")
	}
	if cfg.DisplayTimeout <= 0 {
		cfg.DisplayTimeout = DefaultDisplayTimeout
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = DefaultDecodeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{cfg: cfg, proc: cfg.Processor, state: StateIdle, since: cfg.Clock.Now()}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{State: c.state, Since: c.since}
	if c.last != nil && c.state.Displaying() {
		o := *c.last
		s.Outcome = &o
	}
	return s
}

// setLocked changes state and returns the snapshot to publish once the
// lock is released.
func (c *Controller) setLocked(s State) Snapshot {
	c.state = s
	c.since = c.cfg.Clock.Now()
	return c.snapshotLocked()
}

func (c *Controller) publish(s Snapshot) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(s)
	}
}

// Start moves an idle session to Scanning.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	snap := c.setLocked(StateScanning)
	c.mu.Unlock()
	c.publish(snap)
}

// Stop returns the session to Idle, dropping any displayed result.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.last = nil
	c.discard = false
	snap := c.setLocked(StateIdle)
	c.mu.Unlock()
	c.publish(snap)
}

// Present processes a payload captured while Scanning.  Anything
// presented in another state is dropped with ErrBusy.
func (c *Controller) Present(ctx context.Context, payload string) (Outcome, error) {
	c.mu.Lock()
	if c.state != StateScanning {
		c.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	c.discard = false
	presented := c.setLocked(StatePresented)
	processing := c.setLocked(StateProcessing)
	c.mu.Unlock()
	c.publish(presented)
	c.publish(processing)

	out := c.proc.Process(ctx, payload, c.cfg.Session)
	c.show(out)
	return out, nil
}

// Submit is the manual text-entry path; it behaves like Present.
func (c *Controller) Submit(ctx context.Context, text string) (Outcome, error) {
	return c.Present(ctx, text)
}

// Override admits the attendee behind the displayed rejection after a
// supervisor PIN check.
func (c *Controller) Override(ctx context.Context, pin, note string) (Outcome, error) {
	c.mu.Lock()
	if c.state != StateRejected || c.last == nil || c.last.Credential == nil || !c.last.Reason.Overridable() {
		c.mu.Unlock()
		return Outcome{}, ErrNotOverridable
	}
	cred := *c.last.Credential
	reason := c.last.Reason
	if !utils.VerifyPIN(c.cfg.SupervisorPINHash, pin) {
		c.mu.Unlock()
		c.cfg.Logger.Warn("override refused", "booking_id", cred.BookingID)
		return Outcome{}, ErrBadPIN
	}
	c.stopTimerLocked()
	c.discard = false
	snap := c.setLocked(StateProcessing)
	c.mu.Unlock()
	c.publish(snap)

	c.cfg.Logger.Info("supervisor override", "booking_id", cred.BookingID, "reason", reason)
	out := c.proc.Override(ctx, cred, reason, c.cfg.Session, note)
	c.show(out)
	return out, nil
}

// Reset clears a displayed result immediately.  During processing it
// marks the pending result to be dropped: the session returns to
// Scanning once the ledger and history calls finish, without showing
// it.  Committed records are unaffected.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.state == StatePresented || c.state == StateProcessing {
		c.discard = true
		c.mu.Unlock()
		return
	}
	if !c.state.Displaying() {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.last = nil
	snap := c.setLocked(StateScanning)
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) show(out Outcome) {
	c.mu.Lock()
	if c.state != StateProcessing {
		// Stopped while processing.
		c.mu.Unlock()
		return
	}
	if c.discard {
		c.discard = false
		c.last = nil
		snap := c.setLocked(StateScanning)
		c.mu.Unlock()
		c.publish(snap)
		return
	}
	c.last = &out
	next := StateRejected
	if out.Accepted {
		next = StateSuccess
	}
	snap := c.setLocked(next)
	c.gen++
	gen := c.gen
	c.timer = c.cfg.Clock.AfterFunc(c.cfg.DisplayTimeout, func() { c.expire(gen) })
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.state.Displaying() {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.last = nil
	snap := c.setLocked(StateScanning)
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) stopTimerLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Run starts the session and polls the decoder every ScanInterval until
// ctx ends.  Each decode attempt is bounded by DecodeTimeout.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.Decoder == nil {
		return errors.New("scan: Run needs a Decoder")
	}
	c.Start()
	ticker := c.cfg.Clock.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
		if c.Snapshot().State != StateScanning {
			continue
		}
		payload, err := c.decode(ctx)
		if err != nil {
			if !errors.Is(err, ErrNoPayload) && ctx.Err() == nil {
				c.cfg.Logger.Warn("decode failed", "err", err)
			}
			continue
		}
		if _, err := c.Present(ctx, payload); err != nil && !errors.Is(err, ErrBusy) {
			c.cfg.Logger.Error("present failed", "err", err)
		}
	}
}

type decodeResult struct {
	payload string
	err     error
}

// decode runs one attempt bounded by DecodeTimeout.  The decoder runs in
// its own goroutine so one that ignores its context cannot stall the
// loop; its late result is dropped.
func (c *Controller) decode(ctx context.Context) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DecodeTimeout)
	defer cancel()

	done := make(chan decodeResult, 1)
	go func() {
		payload, err := c.cfg.Decoder.Decode(dctx)
		done <- decodeResult{payload, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && dctx.Err() != nil && ctx.Err() == nil {
			return "", ErrNoPayload
		}
		return r.payload, r.err
	case <-dctx.Done():
		select {
		case r := <-done:
			if r.err == nil {
				return r.payload, nil
			}
		default:
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", ErrNoPayload
	}
}

// Rejected reports the reason of the displayed rejection, if any.
func (s Snapshot) Rejected() model.Reason {
	if s.State != StateRejected || s.Outcome == nil {
		return model.ReasonNone
	}
	return s.Outcome.Reason
}
