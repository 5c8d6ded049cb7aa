// Package syncerr classifies failures of channel synchronization.
package syncerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the class of a sync failure. It decides retry and propagation policy.
type Kind string

const (
	KindAuth            Kind = "auth"             // terminal, requires a credential fix
	KindRateLimited     Kind = "rate_limited"     // transient
	KindUnavailable     Kind = "unavailable"      // transient
	KindTransport       Kind = "transport"        // transient
	KindChannelRejected Kind = "channel_rejected" // data-level rejection, logged and not retried
	KindParse           Kind = "parse"            // one malformed record, batch continues
	KindFault           Kind = "fault"            // whole-batch fault indicator, aborts the step
	KindStore           Kind = "store"            // central store write failure
)

// Error carries the kind together with where it happened
type Error struct {
	Kind    Kind
	Op      string
	Channel string
	Status  int // HTTP status when the channel answered
	Err     error

	// RetryAfter is the delay the channel asked for on 429, zero when unspecified
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed [%s]", e.Op, e.Kind)
	if e.Channel != "" {
		msg = fmt.Sprintf("channel %s: %s", e.Channel, msg)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Faultf builds a fault-payload error from the channel's own code/message
func Faultf(op, format string, args ...any) *Error {
	return &Error{Kind: KindFault, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in the chain, or "" for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a bounded retry with backoff may succeed
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUnavailable, KindTransport:
		return true
	default:
		return false
	}
}

// RetryAfter returns the delay requested by the channel, if any
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// KindLabel is KindOf with a fallback suitable for metric labels and run error lists
func KindLabel(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}
