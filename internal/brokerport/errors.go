// Package brokerport defines the narrow capability contract the engine needs
// from a broker (MetaTrader-like), and the typed error taxonomy every other
// component reasons about when that contract fails.
package brokerport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a broker failure into the taxonomy the engine's
// reconciliation and retry logic branches on. Never inspect error strings to
// recover one of these — use errors.As against *BrokerError.
type ErrorKind int

const (
	// KindUnknown covers anything that doesn't fit a more specific kind,
	// including RPC timeouts (the call is retried on the next reconciliation
	// pass, never retried in-line from a timeout).
	KindUnknown ErrorKind = iota
	// KindNotFound means the ticket (position or pending order) no longer
	// exists on the broker. Common and benign: the caller should normalise
	// local state to closed/cancelled, not treat it as a failure.
	KindNotFound
	// KindInvalidPrice means the broker rejected the requested price (too
	// close to market, wrong side of bid/ask for the order type, etc).
	KindInvalidPrice
	// KindInvalidVolume means the requested lot size was rejected.
	KindInvalidVolume
	// KindMarketClosed means the symbol's market is not currently tradeable.
	KindMarketClosed
	// KindConnectionLost means the transport to the broker is down.
	KindConnectionLost
	// KindRejected means the broker actively refused the request for a
	// reason other than price/volume/market-state (margin, permissions).
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidPrice:
		return "invalid_price"
	case KindInvalidVolume:
		return "invalid_volume"
	case KindMarketClosed:
		return "market_closed"
	case KindConnectionLost:
		return "connection_lost"
	case KindRejected:
		return "broker_rejected"
	default:
		return "unknown"
	}
}

// BrokerError wraps a broker failure with its classification and, where the
// broker provided one, the underlying wire error for diagnostics.
type BrokerError struct {
	Kind    ErrorKind
	Op      string // the broker operation that failed, e.g. "place_pending"
	Ticket  uint64 // 0 if not applicable
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Ticket != 0 {
		return fmt.Sprintf("broker: %s ticket=%d: %s (%s)", e.Op, e.Ticket, e.Message, e.Kind)
	}
	return fmt.Sprintf("broker: %s: %s (%s)", e.Op, e.Message, e.Kind)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// NewBrokerError constructs a classified broker error.
func NewBrokerError(op string, kind ErrorKind, ticket uint64, msg string, cause error) *BrokerError {
	return &BrokerError{Op: op, Kind: kind, Ticket: ticket, Message: msg, Err: cause}
}

// IsNotFound reports whether err is a BrokerError classified as KindNotFound.
// The core treats this as "the order/position is already closed".
func IsNotFound(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind == KindNotFound
	}
	return false
}

// IsRetryableImmediately reports whether the resilient placer (C3) should
// spend one of its immediate retries on this failure rather than going
// straight to the background queue.
func IsRetryableImmediately(err error) bool {
	var be *BrokerError
	if !errors.As(err, &be) {
		return true // unclassified errors are assumed transient
	}
	switch be.Kind {
	case KindConnectionLost, KindUnknown, KindRejected:
		return true
	case KindInvalidPrice:
		// a requote is worth one re-quoted retry; the caller recomputes price.
		return true
	default:
		return false
	}
}
