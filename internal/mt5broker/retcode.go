package mt5broker

import "github.com/moveguard/engine/internal/brokerport"

// MT5 trade server return codes (adapted from the upstream errors package's
// TradeRetCode* constants). Only TradeRetCodeDone and TradeRetCodePlaced
// mean success.
const (
	retCodeDone            uint32 = 10009
	retCodePlaced          uint32 = 10008
	retCodeRequote         uint32 = 10004
	retCodePriceChanged    uint32 = 10020
	retCodeInvalidPrice    uint32 = 10015
	retCodeInvalidStops    uint32 = 10016
	retCodeInvalidVolume   uint32 = 10014
	retCodeMarketClosed    uint32 = 10018
	retCodeTradeDisabled   uint32 = 10017
	retCodeNoConnection    uint32 = 10031
	retCodeTimeout         uint32 = 10012
	retCodePositionClosed  uint32 = 10036
	retCodeInvalidRequest  uint32 = 10013
)

// classify turns an MT5 return code into the engine's broker error taxonomy
// (spec.md's KindNotFound/KindInvalidPrice/etc., grounded on the upstream
// TradeRetCode* table).
func classify(op string, retCode uint32, comment string, ticket uint64) *brokerport.BrokerError {
	switch retCode {
	case retCodeDone, retCodePlaced:
		return nil
	case retCodePositionClosed:
		return brokerport.NewBrokerError(op, brokerport.KindNotFound, ticket, comment, nil)
	case retCodeInvalidPrice, retCodeRequote, retCodePriceChanged:
		return brokerport.NewBrokerError(op, brokerport.KindInvalidPrice, ticket, comment, nil)
	case retCodeInvalidVolume:
		return brokerport.NewBrokerError(op, brokerport.KindInvalidVolume, ticket, comment, nil)
	case retCodeMarketClosed, retCodeTradeDisabled:
		return brokerport.NewBrokerError(op, brokerport.KindMarketClosed, ticket, comment, nil)
	case retCodeNoConnection, retCodeTimeout:
		return brokerport.NewBrokerError(op, brokerport.KindConnectionLost, ticket, comment, nil)
	case retCodeInvalidStops, retCodeInvalidRequest:
		return brokerport.NewBrokerError(op, brokerport.KindRejected, ticket, comment, nil)
	default:
		return brokerport.NewBrokerError(op, brokerport.KindRejected, ticket, comment, nil)
	}
}
