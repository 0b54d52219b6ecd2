package credential

import (
	"crypto/hmac"
	"time"

	"github.com/iliyamo/event-checkin/internal/model"
)

const (
	// DefaultMaxAge is how long after issuance a credential stays fresh.
	DefaultMaxAge = 24 * time.Hour
	// DefaultClockSkew is how far in the future IssuedAt may lie before
	// the credential is considered malformed.
	DefaultClockSkew = 5 * time.Minute
	// LargeGroupThreshold triggers an operator warning above this size.
	LargeGroupThreshold = 10
)

// WarnLargeGroup is attached to valid results for big bookings.
const WarnLargeGroup = "large group, verify with customer"

// Context carries the scanner-side facts a credential is checked against.
type Context struct {
	EventID string
	Now     time.Time
}

// Result is the outcome of Validate.  Reason is empty when the credential
// is valid; Warnings never block redemption.
type Result struct {
	Reason   model.Reason `json:"reason,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Valid reports whether the credential passed every check.
func (r Result) Valid() bool { return r.Reason == model.ReasonNone }

// Err returns the result as a *model.Error, or nil when valid.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &model.Error{Reason: r.Reason}
}

// Validator performs stateless credential checks.  It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	keys        *Keyring
	maxAge      time.Duration
	skew        time.Duration
	maxQuantity int
}

// ValidatorOption customises a Validator.
type ValidatorOption func(*Validator)

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) ValidatorOption { return func(v *Validator) { v.maxAge = d } }

// WithClockSkew overrides DefaultClockSkew.
func WithClockSkew(d time.Duration) ValidatorOption { return func(v *Validator) { v.skew = d } }

// WithMaxQuantity overrides model.MaxTicketQuantity.
func WithMaxQuantity(n int) ValidatorOption { return func(v *Validator) { v.maxQuantity = n } }

// NewValidator returns a Validator verifying against keys.
func NewValidator(keys *Keyring, opts ...ValidatorOption) *Validator {
	if keys == nil {
		panic("nil keyring passed to NewValidator")
	}
	v := &Validator{keys: keys, maxAge: DefaultMaxAge, skew: DefaultClockSkew, maxQuantity: model.MaxTicketQuantity}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate applies, in order, the signature, event scope, freshness and
// sanity checks.  The first failing check determines the result.
func (v *Validator) Validate(c model.Credential, ctx Context) Result {
	key, ok := v.keys.key(c.KeyID)
	if !ok || !hmac.Equal(computeMAC(key, c), c.Signature) {
		return Result{Reason: model.ReasonInvalidSignature}
	}
	if c.EventID != ctx.EventID {
		return Result{Reason: model.ReasonWrongEvent}
	}
	issued := c.IssuedTime()
	if ctx.Now.Sub(issued) > v.maxAge {
		return Result{Reason: model.ReasonExpired}
	}
	if c.TicketQuantity <= 0 || c.TicketQuantity > v.maxQuantity || issued.Sub(ctx.Now) > v.skew {
		return Result{Reason: model.ReasonMalformed}
	}

	var res Result
	if c.TicketQuantity > LargeGroupThreshold {
		res.Warnings = append(res.Warnings, WarnLargeGroup)
	}
	return res
}
