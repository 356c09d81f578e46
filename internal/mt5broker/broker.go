package mt5broker

import (
	"context"
	"time"

	pb "git.mtapi.io/root/mrpc-proto/mt5/libraries/go"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/moveguard/engine/internal/brokerport"
)

// toTime converts the wire timestamp the MT5 API reports for a position's
// open time into a Go time.Time, treating an absent timestamp as the zero
// value rather than panicking.
func toTime(ts *timestamppb.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.AsTime()
}

// orderType maps the engine's Side + StopType onto the MT5 operation enum.
// The engine only ever submits market orders and STOP pending orders
// (brokerport.StopType only has the Stop value; spec.md §4.1).
func orderType(side brokerport.Side, pending bool) pb.TMT5_ENUM_ORDER_TYPE {
	switch {
	case !pending && side == brokerport.Buy:
		return pb.TMT5_ENUM_ORDER_TYPE_TMT5_ORDER_TYPE_BUY
	case !pending && side == brokerport.Sell:
		return pb.TMT5_ENUM_ORDER_TYPE_TMT5_ORDER_TYPE_SELL
	case pending && side == brokerport.Buy:
		return pb.TMT5_ENUM_ORDER_TYPE_TMT5_ORDER_TYPE_BUY_STOP
	default:
		return pb.TMT5_ENUM_ORDER_TYPE_TMT5_ORDER_TYPE_SELL_STOP
	}
}

func fromOrderType(t pb.TMT5_ENUM_ORDER_TYPE) brokerport.Side {
	switch t {
	case pb.TMT5_ENUM_ORDER_TYPE_TMT5_ORDER_TYPE_SELL, pb.TMT5_ENUM_ORDER_TYPE_TMT5_ORDER_TYPE_SELL_STOP, pb.TMT5_ENUM_ORDER_TYPE_TMT5_ORDER_TYPE_SELL_LIMIT:
		return brokerport.Sell
	default:
		return brokerport.Buy
	}
}

// Bid returns the current bid price (adapted from MT5Service.GetSymbolTick).
func (b *Broker) Bid(ctx context.Context, symbol string) (float64, error) {
	tick, err := b.market.SymbolInfoTick(b.outgoing(ctx), &pb.SymbolInfoTickRequest{Symbol: symbol})
	if err != nil {
		return 0, brokerport.NewBrokerError("bid", brokerport.KindUnknown, 0, err.Error(), err)
	}
	return tick.GetBid(), nil
}

// Ask returns the current ask price.
func (b *Broker) Ask(ctx context.Context, symbol string) (float64, error) {
	tick, err := b.market.SymbolInfoTick(b.outgoing(ctx), &pb.SymbolInfoTickRequest{Symbol: symbol})
	if err != nil {
		return 0, brokerport.NewBrokerError("ask", brokerport.KindUnknown, 0, err.Error(), err)
	}
	return tick.GetAsk(), nil
}

// SymbolInfo fetches the point size and digit count the engine needs to
// derive pip value (internal/pipclock.PipValue).
func (b *Broker) SymbolInfo(ctx context.Context, symbol string) (brokerport.SymbolInfo, error) {
	point, err := b.market.SymbolInfoDouble(b.outgoing(ctx), &pb.SymbolInfoDoubleRequest{
		Symbol: symbol, Property: pb.SymbolInfoDoubleProperty_SYMBOL_POINT,
	})
	if err != nil {
		return brokerport.SymbolInfo{}, brokerport.NewBrokerError("symbol_info", brokerport.KindUnknown, 0, err.Error(), err)
	}
	digits, err := b.market.SymbolInfoInteger(b.outgoing(ctx), &pb.SymbolInfoIntegerRequest{
		Symbol: symbol, Property: pb.SymbolInfoIntegerProperty_SYMBOL_DIGITS,
	})
	if err != nil {
		return brokerport.SymbolInfo{}, brokerport.NewBrokerError("symbol_info", brokerport.KindUnknown, 0, err.Error(), err)
	}
	return brokerport.SymbolInfo{
		Symbol: symbol,
		Point:  point.GetValue(),
		Digits: int32(digits.GetValue()),
	}, nil
}

// PlaceMarket submits an immediate market order.
func (b *Broker) PlaceMarket(ctx context.Context, req brokerport.MarketOrderRequest) (brokerport.MarketOrderResult, error) {
	pbReq := &pb.OrderSendRequest{
		Symbol:    req.Symbol,
		Operation: orderType(req.Side, false),
		Volume:    req.Volume,
		Comment:   &req.Comment,
	}
	if req.SL != 0 {
		pbReq.StopLoss = &req.SL
	}
	if req.TP != 0 {
		pbReq.TakeProfit = &req.TP
	}

	data, err := b.trade.OrderSend(b.outgoing(ctx), pbReq)
	if err != nil {
		return brokerport.MarketOrderResult{}, brokerport.NewBrokerError("place_market", brokerport.KindUnknown, 0, err.Error(), err)
	}
	if be := classify("place_market", data.GetReturnedCode(), data.GetComment(), data.GetOrder()); be != nil {
		return brokerport.MarketOrderResult{}, be
	}
	return brokerport.MarketOrderResult{Ticket: data.GetOrder(), PriceOpen: data.GetPrice()}, nil
}

// PlacePending submits a STOP pending order.
func (b *Broker) PlacePending(ctx context.Context, req brokerport.PendingOrderRequest) (brokerport.PendingOrderResult, error) {
	price := req.TargetPrice
	pbReq := &pb.OrderSendRequest{
		Symbol:    req.Symbol,
		Operation: orderType(req.Side, true),
		Volume:    req.Volume,
		Price:     &price,
		Comment:   &req.Comment,
	}
	if req.SL != 0 {
		pbReq.StopLoss = &req.SL
	}
	if req.TP != 0 {
		pbReq.TakeProfit = &req.TP
	}

	data, err := b.trade.OrderSend(b.outgoing(ctx), pbReq)
	if err != nil {
		return brokerport.PendingOrderResult{}, brokerport.NewBrokerError("place_pending", brokerport.KindUnknown, 0, err.Error(), err)
	}
	if be := classify("place_pending", data.GetReturnedCode(), data.GetComment(), data.GetOrder()); be != nil {
		return brokerport.PendingOrderResult{}, be
	}
	return brokerport.PendingOrderResult{Ticket: data.GetOrder()}, nil
}

// ModifySLTP updates the stop-loss/take-profit of an existing order or
// position.
func (b *Broker) ModifySLTP(ctx context.Context, ticket uint64, sl, tp float64) error {
	pbReq := &pb.OrderModifyRequest{Ticket: ticket}
	if sl != 0 {
		pbReq.StopLoss = &sl
	}
	if tp != 0 {
		pbReq.TakeProfit = &tp
	}
	data, err := b.trade.OrderModify(b.outgoing(ctx), pbReq)
	if err != nil {
		return brokerport.NewBrokerError("modify_sl_tp", brokerport.KindUnknown, ticket, err.Error(), err)
	}
	return classifyOrNil("modify_sl_tp", data.GetReturnedCode(), data.GetComment(), ticket)
}

// CancelPending deletes a pending order (MT5 uses the same close RPC for
// pending-order deletion and position closure).
func (b *Broker) CancelPending(ctx context.Context, ticket uint64, symbol string) error {
	data, err := b.trade.OrderClose(b.outgoing(ctx), &pb.OrderCloseRequest{Ticket: ticket})
	if err != nil {
		return brokerport.NewBrokerError("cancel_pending", brokerport.KindUnknown, ticket, err.Error(), err)
	}
	return classifyOrNil("cancel_pending", data.GetReturnedCode(), "", ticket)
}

func classifyOrNil(op string, retCode uint32, comment string, ticket uint64) error {
	if be := classify(op, retCode, comment, ticket); be != nil {
		return be
	}
	return nil
}

// PositionByTicket looks up one tracked position or pending order.
func (b *Broker) PositionByTicket(ctx context.Context, ticket uint64) (brokerport.Position, bool, error) {
	positions, err := b.ListPositions(ctx, "")
	if err != nil {
		return brokerport.Position{}, false, err
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return p, true, nil
		}
	}
	return brokerport.Position{}, false, nil
}

// ListPositions returns every open position and pending order, optionally
// filtered by symbol (empty string means all symbols).
func (b *Broker) ListPositions(ctx context.Context, symbol string) ([]brokerport.Position, error) {
	data, err := b.helper.OpenedOrders(b.outgoing(ctx), &pb.OpenedOrdersRequest{
		SortMode: pb.BMT5_ENUM_OPENED_ORDER_SORT_TYPE_BMT5_OPENED_ORDER_SORT_BY_OPEN_TIME_ASC,
	})
	if err != nil {
		return nil, brokerport.NewBrokerError("list_positions", brokerport.KindUnknown, 0, err.Error(), err)
	}

	out := make([]brokerport.Position, 0, len(data.GetPositionInfos()))
	for _, pos := range data.GetPositionInfos() {
		if symbol != "" && pos.GetSymbol() != symbol {
			continue
		}
		out = append(out, brokerport.Position{
			Ticket:       pos.GetTicket(),
			Symbol:       pos.GetSymbol(),
			Side:         fromOrderType(pos.GetType()),
			Volume:       pos.GetVolume(),
			PriceOpen:    pos.GetPriceOpen(),
			PriceCurrent: pos.GetPriceCurrent(),
			SL:           pos.GetStopLoss(),
			TP:           pos.GetTakeProfit(),
			Profit:       pos.GetProfit(),
			Comment:      pos.GetComment(),
			OpenTime:     toTime(pos.GetOpenTime()),
			IsPending:    false,
		})
	}
	for _, ord := range data.GetOpenedOrders() {
		if symbol != "" && ord.GetSymbol() != symbol {
			continue
		}
		out = append(out, brokerport.Position{
			Ticket:    ord.GetTicket(),
			Symbol:    ord.GetSymbol(),
			Side:      fromOrderType(ord.GetType()),
			Volume:    ord.GetVolumeInitial(),
			PriceOpen: ord.GetPriceOpen(),
			SL:        ord.GetStopLoss(),
			TP:        ord.GetTakeProfit(),
			Comment:   ord.GetComment(),
			OpenTime:  toTime(ord.GetOpenTime()),
			IsPending: true,
		})
	}
	return out, nil
}
