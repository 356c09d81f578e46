package brokerport

import (
	"context"
	"time"
)

// Side is a trade direction.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// StopType enumerates the pending-order flavours the engine places. The
// engine only ever submits STOP orders (§4.1): BUY orders use BUY_STOP
// (trigger strictly above current ask), SELL orders use SELL_STOP (trigger
// strictly below current bid).
type StopType int

const (
	Stop StopType = iota
)

// SymbolInfo is the narrow slice of symbol metadata the engine needs.
type SymbolInfo struct {
	Symbol string
	Point  float64 // smallest price increment, e.g. 0.00001 for 5-digit EURUSD
	Digits int32
}

// MarketOrderResult is returned by PlaceMarket.
type MarketOrderResult struct {
	Ticket    uint64
	PriceOpen float64
}

// PendingOrderResult is returned by PlacePending.
type PendingOrderResult struct {
	Ticket uint64
}

// Position mirrors the fields the engine reads back from the broker about a
// live position or pending order it is tracking.
type Position struct {
	Ticket       uint64
	Symbol       string
	Side         Side
	Volume       float64
	PriceOpen    float64
	PriceCurrent float64
	SL           float64
	TP           float64
	Profit       float64
	ProfitPips   float64
	Comment      string
	OpenTime     time.Time
	IsPending    bool
}

// MarketOrderRequest describes an immediate market order.
type MarketOrderRequest struct {
	Symbol  string
	Side    Side
	Volume  float64
	SL      float64
	TP      float64
	Comment string
}

// PendingOrderRequest describes a pending STOP order.
type PendingOrderRequest struct {
	Symbol      string
	Side        Side
	StopType    StopType
	TargetPrice float64
	Volume      float64
	SL          float64
	TP          float64
	Comment     string
}

// Port is the narrow capability set the engine needs from a broker. Every
// method takes a context carrying the caller's timeout (§5): on timeout, the
// call is treated as KindUnknown and is never retried in-line — the next
// reconciliation pass observes the real state.
type Port interface {
	Bid(ctx context.Context, symbol string) (float64, error)
	Ask(ctx context.Context, symbol string) (float64, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	PlaceMarket(ctx context.Context, req MarketOrderRequest) (MarketOrderResult, error)
	PlacePending(ctx context.Context, req PendingOrderRequest) (PendingOrderResult, error)
	ModifySLTP(ctx context.Context, ticket uint64, sl, tp float64) error
	CancelPending(ctx context.Context, ticket uint64, symbol string) error

	PositionByTicket(ctx context.Context, ticket uint64) (Position, bool, error)
	ListPositions(ctx context.Context, symbol string) ([]Position, error)
}
