// Package snapshot implements the snapshot and batching component (spec.md
// §4.9, C10): encoding a Cycle into its serialisable record form, decoding
// it back, and throttled/batched persistence.
package snapshot

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/config"
	"github.com/moveguard/engine/internal/cycle"
)

// OrderRecord is one order's serialisable form.
type OrderRecord struct {
	OrderID     uint64  `json:"order_id"`
	Direction   string  `json:"direction"`
	Price       float64 `json:"price"`
	LotSize     float64 `json:"lot_size"`
	Status      string  `json:"status"`
	GridLevel   int     `json:"grid_level"`
	IsInitial   bool    `json:"is_initial"`
	OrderType   string  `json:"order_type"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Profit      float64 `json:"profit"`
	ProfitPips  float64 `json:"profit_pips"`
	CloseReason string  `json:"close_reason,omitempty"`
}

// ZoneMovementRecord is one entry of the zone's relocation history.
type ZoneMovementRecord struct {
	At     time.Time `json:"at"`
	Upper  float64   `json:"upper"`
	Lower  float64   `json:"lower"`
	Reason string    `json:"reason,omitempty"`
}

// Record is the Cycle's persisted form (spec.md §6 store schema): arrays for
// orders and pending levels, the +Inf sentinel replaced by
// cycle.InfinitySentinel, booleans explicit, and the frozen per-cycle
// config snapshot carried alongside it.
type Record struct {
	CycleID    string        `json:"cycle_id"`
	Bot        string        `json:"bot,omitempty"`
	Account    string        `json:"account,omitempty"`
	Symbol     string        `json:"symbol"`
	Direction  string        `json:"direction"`
	EntryPrice float64       `json:"entry_price"`
	LotSize    float64       `json:"lot_size"`
	MagicNumber int          `json:"magic_number,omitempty"`
	Status     string        `json:"status"`
	Orders     []OrderRecord `json:"orders"`

	PendingOrderLevels []int `json:"pending_order_levels"`

	ZoneBase             float64              `json:"zone_base"`
	ZoneUpper            float64              `json:"zone_upper"`
	ZoneLower            float64              `json:"zone_lower"`
	ZoneMovementMode     string               `json:"zone_movement_mode"`
	ZoneMovementHistory  []ZoneMovementRecord `json:"zone_movement_history,omitempty"`

	TrailingStopLoss float64 `json:"trailing_stop_loss"`
	HighestBuyPrice  float64 `json:"highest_buy_price"`
	LowestSellPrice  float64 `json:"lowest_sell_price"`

	InRecoveryMode    bool   `json:"in_recovery_mode"`
	RecoveryActivated bool   `json:"recovery_activated"`
	RecoveryDirection string `json:"recovery_direction,omitempty"`

	IsClosed           bool      `json:"is_closed"`
	ClosingMethod      string    `json:"closing_method,omitempty"`
	CloseTime          time.Time `json:"close_time,omitempty"`
	CloseReason        string    `json:"close_reason,omitempty"`
	TotalProfit        float64   `json:"total_profit"`
	TotalProfitPips    float64   `json:"total_profit_pips"`
	TotalProfitDollars float64   `json:"total_profit_dollars"`

	TotalVolume      float64 `json:"total_volume"`
	TotalOrders      int     `json:"total_orders"`
	ProfitableOrders int     `json:"profitable_orders"`
	LossOrders       int     `json:"loss_orders"`
	DurationMinutes  float64 `json:"duration_minutes"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	// CycleConfig is the frozen configuration snapshot taken at cycle
	// creation (spec.md §3, §6, §9 design note, §11 resolution 3): every
	// cycle's geometry must be derivable from its own copy, not live
	// globals, so it travels with the record rather than being re-derived
	// from whatever the engine's current configuration happens to be.
	CycleConfig config.CycleConfig `json:"cycle_config"`
}

func parseSide(s string) brokerport.Side {
	if s == brokerport.Sell.String() {
		return brokerport.Sell
	}
	return brokerport.Buy
}

func parseOrderStatus(s string) cycle.OrderStatus {
	switch s {
	case "active":
		return cycle.StatusActive
	case "closed":
		return cycle.StatusClosed
	case "cancelled":
		return cycle.StatusCancelled
	default:
		return cycle.StatusPending
	}
}

func parseCycleStatus(s string) cycle.Status {
	if s == "closed" {
		return cycle.StatusClosedCycle
	}
	return cycle.StatusOpenCycle
}

// Encode converts a Cycle into its Record form, applying the +Inf sentinel
// substitution spec.md §6 requires at the persistence boundary.
func Encode(c *cycle.Cycle) Record {
	orders := make([]OrderRecord, 0, len(c.Orders))
	profitable, loss, totalVolume := 0, 0, 0.0
	for _, o := range c.Orders {
		orders = append(orders, OrderRecord{
			OrderID:     o.OrderID,
			Direction:   o.Direction.String(),
			Price:       o.Price,
			LotSize:     o.LotSize,
			Status:      o.Status.String(),
			GridLevel:   o.GridLevel,
			IsInitial:   o.IsInitial,
			OrderType:   string(o.OrderType),
			SL:          o.SL,
			TP:          o.TP,
			Profit:      o.Profit,
			ProfitPips:  o.ProfitPips,
			CloseReason: o.CloseReason,
		})
		totalVolume += o.LotSize
		if o.Status == cycle.StatusClosed {
			if o.Profit > 0 {
				profitable++
			} else {
				loss++
			}
		}
	}

	levels := c.OrderedPendingLevels()
	sort.Ints(levels)

	lowestSell := c.LowestSellPrice
	if math.IsInf(lowestSell, 1) {
		lowestSell = cycle.InfinitySentinel
	}

	recoveryDirection := ""
	if c.Recovery.InRecoveryMode || c.Recovery.RecoveryActivated {
		recoveryDirection = c.Recovery.RecoveryDirection.String()
	}

	movements := make([]ZoneMovementRecord, 0, len(c.Zone.MovementHistory))
	for _, m := range c.Zone.MovementHistory {
		movements = append(movements, ZoneMovementRecord{At: m.At, Upper: m.Upper, Lower: m.Lower, Reason: m.Reason})
	}

	endTime := time.Now()
	if c.Closure.IsClosed && !c.Closure.CloseTime.IsZero() {
		endTime = c.Closure.CloseTime
	}

	return Record{
		CycleID:             c.CycleID,
		Bot:                 c.Bot,
		Account:             c.Account,
		Symbol:              c.Symbol,
		Direction:           c.Direction.String(),
		EntryPrice:          c.EntryPrice,
		LotSize:             c.LotSize,
		MagicNumber:         c.Config.MagicNumber,
		Status:              c.Status.String(),
		Orders:              orders,
		PendingOrderLevels:  levels,
		ZoneBase:            c.Zone.Base,
		ZoneUpper:           c.Zone.Upper,
		ZoneLower:           c.Zone.Lower,
		ZoneMovementMode:    c.Zone.MovementMode.String(),
		ZoneMovementHistory: movements,
		TrailingStopLoss:    c.TrailingStopLoss,
		HighestBuyPrice:     c.HighestBuyPrice,
		LowestSellPrice:     lowestSell,
		InRecoveryMode:      c.Recovery.InRecoveryMode,
		RecoveryActivated:   c.Recovery.RecoveryActivated,
		RecoveryDirection:   recoveryDirection,
		IsClosed:            c.Closure.IsClosed,
		ClosingMethod:       c.Closure.ClosingMethod,
		CloseTime:           c.Closure.CloseTime,
		CloseReason:         c.Closure.CloseReason,
		TotalProfit:         c.Closure.TotalProfit,
		TotalProfitPips:     c.Closure.TotalProfitPips,
		TotalProfitDollars:  c.Closure.TotalProfitDollars,
		TotalVolume:         totalVolume,
		TotalOrders:         len(c.Orders),
		ProfitableOrders:    profitable,
		LossOrders:          loss,
		DurationMinutes:     endTime.Sub(c.CreatedAt).Minutes(),
		Created:             c.CreatedAt,
		Updated:             c.UpdatedAt,
		CycleConfig:         c.Config,
	}
}

// Decode reconstructs a Cycle from its persisted Record (spec.md §8's
// "snapshot → restore → snapshot must be a fixed point"). Fields the Record
// doesn't carry (order open/trigger/close timestamps) come back as zero
// values, the same way they're absent from the Record itself; the is_grid
// flag is re-derived as grid_level > 0. Re-encoding the result reproduces
// the original Record exactly.
func Decode(rec Record) *cycle.Cycle {
	orders := make([]*cycle.Order, 0, len(rec.Orders))
	for _, o := range rec.Orders {
		orders = append(orders, &cycle.Order{
			OrderID:     o.OrderID,
			Direction:   parseSide(o.Direction),
			Price:       o.Price,
			LotSize:     o.LotSize,
			Status:      parseOrderStatus(o.Status),
			GridLevel:   o.GridLevel,
			IsInitial:   o.IsInitial,
			IsGrid:      o.GridLevel > 0,
			OrderType:   cycle.OrderType(o.OrderType),
			SL:          o.SL,
			TP:          o.TP,
			Profit:      o.Profit,
			ProfitPips:  o.ProfitPips,
			CloseReason: o.CloseReason,
		})
	}

	pendingLevels := make(map[int]struct{}, len(rec.PendingOrderLevels))
	for _, lvl := range rec.PendingOrderLevels {
		pendingLevels[lvl] = struct{}{}
	}

	lowestSell := rec.LowestSellPrice
	if lowestSell == cycle.InfinitySentinel {
		lowestSell = math.Inf(1)
	}

	movements := make([]cycle.ZoneMovement, 0, len(rec.ZoneMovementHistory))
	for _, m := range rec.ZoneMovementHistory {
		movements = append(movements, cycle.ZoneMovement{At: m.At, Upper: m.Upper, Lower: m.Lower, Reason: m.Reason})
	}

	recoveryDirection := brokerport.Buy
	if rec.RecoveryDirection != "" {
		recoveryDirection = parseSide(rec.RecoveryDirection)
	}

	return &cycle.Cycle{
		CycleID:            rec.CycleID,
		Bot:                rec.Bot,
		Account:            rec.Account,
		Symbol:             rec.Symbol,
		Direction:          parseSide(rec.Direction),
		EntryPrice:         rec.EntryPrice,
		LotSize:            rec.LotSize,
		Status:             parseCycleStatus(rec.Status),
		Orders:             orders,
		PendingOrderLevels: pendingLevels,
		Zone: cycle.ZoneData{
			Base:             rec.ZoneBase,
			Upper:            rec.ZoneUpper,
			Lower:            rec.ZoneLower,
			MovementMode:     config.ParseMovementMode(rec.ZoneMovementMode),
			MovementHistory:  movements,
		},
		TrailingStopLoss: rec.TrailingStopLoss,
		HighestBuyPrice:  rec.HighestBuyPrice,
		LowestSellPrice:  lowestSell,
		Recovery: cycle.RecoveryState{
			InRecoveryMode:    rec.InRecoveryMode,
			RecoveryActivated: rec.RecoveryActivated,
			RecoveryDirection: recoveryDirection,
		},
		Closure: cycle.ClosureInfo{
			IsClosed:           rec.IsClosed,
			ClosingMethod:      rec.ClosingMethod,
			CloseTime:          rec.CloseTime,
			CloseReason:        rec.CloseReason,
			TotalProfit:        rec.TotalProfit,
			TotalProfitPips:    rec.TotalProfitPips,
			TotalProfitDollars: rec.TotalProfitDollars,
		},
		Config:    rec.CycleConfig,
		CreatedAt: rec.Created,
		UpdatedAt: rec.Updated,
	}
}

// Marshal encodes a Cycle directly to the JSON bytes a Store persists.
func Marshal(c *cycle.Cycle) ([]byte, error) {
	return json.Marshal(Encode(c))
}
