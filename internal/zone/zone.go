// Package zone computes zone geometry and direction decisions (spec.md §4.1
// "Zone & Direction Engine", C6). Every function here is pure: no broker
// side effects, no mutation of a Cycle. Callers commit the results.
package zone

import "github.com/moveguard/engine/internal/config"

// Direction is the advisory direction hint returned by Decide. It carries no
// broker side effects — committing it to a cycle is the caller's job
// (spec.md §4.5).
type Direction int

const (
	DirectionNone Direction = iota
	DirectionBuy
	DirectionSell
)

// Bounds is the zone's [lower, upper] interval.
type Bounds struct {
	Upper float64
	Lower float64
}

// BoundsFromEntry computes zone bounds anchored to an order price (spec.md
// §4.4.1, first case: "bounds track the initial order's price").
func BoundsFromEntry(entryPrice, zoneThresholdPips, pipValue float64) Bounds {
	zt := zoneThresholdPips * pipValue
	return Bounds{Upper: entryPrice + zt, Lower: entryPrice - zt}
}

// BoundsFromTrailingStop computes zone bounds anchored to the trailing stop
// once grid orders exist (spec.md §4.4.1, second case). If trailingStop is
// zero ("not set"), the caller must preserve the previous bounds instead of
// calling this function.
func BoundsFromTrailingStop(trailingStop, zoneThresholdPips, pipValue float64, direction DirectionSide) Bounds {
	zt := zoneThresholdPips * pipValue
	if direction == Buy {
		return Bounds{Lower: trailingStop, Upper: trailingStop + zt}
	}
	return Bounds{Upper: trailingStop, Lower: trailingStop - zt}
}

// DirectionSide is a minimal direction type so this package has no import
// dependency on the order side type used elsewhere — kept pure and leaf-level.
type DirectionSide int

const (
	Buy DirectionSide = iota
	Sell
)

// Decide implements spec.md §4.4.8's table: given current price, the zone
// bounds, and the movement mode, return the direction hint for a cycle with
// zero active orders.
//
//	Mode           | price >= upper | price <= lower | otherwise
//	No Move        | BUY            | SELL            | null
//	Move Up Only   | BUY            | SELL (far below)| null
//	Move Down Only | BUY (far above)| SELL            | null
//	Move Both Sides| BUY            | SELL            | null
//
// "far below"/"far above" is operationalised as the price clearing the
// opposite boundary by at least one more zone width, matching the
// asymmetric-tolerance intent of spec.md's table (a mode that only moves
// one way requires stronger evidence before committing to the side it
// doesn't re-zone toward).
func Decide(bounds Bounds, mode config.MovementMode, price float64) Direction {
	width := bounds.Upper - bounds.Lower
	switch mode {
	case config.MoveUpOnly:
		if price >= bounds.Upper {
			return DirectionBuy
		}
		if price <= bounds.Lower-width {
			return DirectionSell
		}
		return DirectionNone
	case config.MoveDownOnly:
		if price >= bounds.Upper+width {
			return DirectionBuy
		}
		if price <= bounds.Lower {
			return DirectionSell
		}
		return DirectionNone
	default: // MoveNone, MoveBothSides
		if price >= bounds.Upper {
			return DirectionBuy
		}
		if price <= bounds.Lower {
			return DirectionSell
		}
		return DirectionNone
	}
}
