package model

import (
    "errors"
    "fmt"
)

// Reason classifies why an operation on a credential did not succeed.
// The zero value means no failure.
type Reason string

const (
    ReasonNone                Reason = ""
    ReasonInvalidBooking      Reason = "INVALID_BOOKING"
    ReasonDecodeError         Reason = "DECODE_ERROR"
    ReasonInvalidSignature    Reason = "INVALID_SIGNATURE"
    ReasonWrongEvent          Reason = "WRONG_EVENT"
    ReasonExpired             Reason = "EXPIRED"
    ReasonMalformed           Reason = "MALFORMED"
    ReasonDuplicateRedemption Reason = "DUPLICATE_REDEMPTION"
    ReasonNetworkUnavailable  Reason = "NETWORK_UNAVAILABLE"
)

// Fatal reports whether the reason ends processing for good.  Fatal
// outcomes are never retried automatically and need an explicit human
// override to proceed.
func (r Reason) Fatal() bool {
    switch r {
    case ReasonInvalidSignature, ReasonWrongEvent, ReasonExpired, ReasonMalformed,
        ReasonDuplicateRedemption, ReasonDecodeError, ReasonInvalidBooking:
        return true
    }
    return false
}

// Retryable reports whether the operation may succeed if tried again.
func (r Reason) Retryable() bool { return r == ReasonNetworkUnavailable }

// Overridable reports whether a supervisor may admit the attendee despite
// the rejection.  Forged or unreadable credentials cannot be overridden
// because nothing trustworthy identifies the booking.
func (r Reason) Overridable() bool {
    switch r {
    case ReasonWrongEvent, ReasonExpired, ReasonMalformed, ReasonDuplicateRedemption:
        return true
    }
    return false
}

// Error carries a Reason together with optional detail and cause.
// errors.Is matches two *Error values when their reasons are equal, so
// callers can test against the sentinels below.
type Error struct {
    Reason Reason
    Detail string
    Err    error
}

func (e *Error) Error() string {
    msg := string(e.Reason)
    if e.Detail != "" {
        msg += ": " + e.Detail
    }
    if e.Err != nil {
        msg += ": " + e.Err.Error()
    }
    return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on reason only.
func (e *Error) Is(target error) bool {
    t, ok := target.(*Error)
    return ok && t.Reason == e.Reason
}

// Sentinel errors, one per reason.
var (
    ErrInvalidBooking      = &Error{Reason: ReasonInvalidBooking}
    ErrDecode              = &Error{Reason: ReasonDecodeError}
    ErrInvalidSignature    = &Error{Reason: ReasonInvalidSignature}
    ErrWrongEvent          = &Error{Reason: ReasonWrongEvent}
    ErrExpired             = &Error{Reason: ReasonExpired}
    ErrMalformed           = &Error{Reason: ReasonMalformed}
    ErrDuplicateRedemption = &Error{Reason: ReasonDuplicateRedemption}
    ErrNetworkUnavailable  = &Error{Reason: ReasonNetworkUnavailable}
)

// Errorf builds an *Error with a formatted detail message.
func Errorf(reason Reason, format string, args ...any) *Error {
    return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Unavailable wraps err as a NetworkUnavailable error.  A nil err yields
// nil.
func Unavailable(err error) error {
    if err == nil {
        return nil
    }
    if IsUnavailable(err) {
        return err
    }
    return &Error{Reason: ReasonNetworkUnavailable, Err: err}
}

// IsUnavailable reports whether err is (or wraps) NetworkUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrNetworkUnavailable) }

// ReasonOf extracts the reason from err.  Errors outside the taxonomy
// yield ReasonNone.
func ReasonOf(err error) Reason {
    var e *Error
    if errors.As(err, &e) {
        return e.Reason
    }
    return ReasonNone
}
