// Package cycle owns the per-cycle state machine data model (spec.md §3,
// C4): direction, zone, the order ledger, trailing-stop trackers, recovery
// flags, and closure fields, all keyed off a frozen configuration snapshot.
package cycle

import (
	"time"

	"github.com/moveguard/engine/internal/brokerport"
)

// OrderStatus is the lifecycle state of a single Order (spec.md §3).
type OrderStatus int

const (
	StatusPending OrderStatus = iota
	StatusActive
	StatusClosed
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// OrderType mirrors spec.md §3's order_type string values.
type OrderType string

const (
	OrderTypeGridZero    OrderType = "grid_0"
	OrderTypeGridEntry   OrderType = "grid_entry"
	OrderTypeGridLevel   OrderType = "grid_level_k"
	OrderTypeRecovery    OrderType = "recovery"
)

// RecoveryGridLevel is the sentinel grid_level value meaning "not a grid
// order" (spec.md §4.4.9).
const RecoveryGridLevel = -2

// Order is owned by exactly one Cycle (spec.md §3).
type Order struct {
	OrderID     uint64 // broker ticket; 0 until submitted
	Direction   brokerport.Side
	Price       float64 // requested/open price
	LotSize     float64
	Status      OrderStatus
	GridLevel   int // non-negative; 0 = initial/entry; RecoveryGridLevel for recovery orders
	IsInitial   bool
	IsGrid      bool
	OrderType   OrderType
	SL          float64
	TP          float64
	OpenTime    time.Time
	Profit      float64
	ProfitPips  float64
	ClosedAt    time.Time
	CloseReason string

	// TriggeredAt records when a pending order was observed filled
	// (spec.md §4.4.5).
	TriggeredAt time.Time
}

// Validate enforces spec.md §3's order invariants: is_initial implies
// grid_level == 0, and grid_level == 0 implies is_initial (recovery orders
// use the RecoveryGridLevel sentinel, never 0).
func (o *Order) Validate() error {
	if o.IsInitial && o.GridLevel != 0 {
		return errInvalidOrder("is_initial order must have grid_level 0")
	}
	if !o.IsInitial && o.GridLevel == 0 {
		return errInvalidOrder("grid_level 0 is reserved for the initial order")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvalidOrder(msg string) error { return invariantError("cycle: " + msg) }
