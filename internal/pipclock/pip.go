// Package pipclock derives pip values from broker symbol metadata and gates
// processing on market-open hours, per spec.md §4.2.
package pipclock

import (
	"strings"
	"time"

	"github.com/moveguard/engine/internal/brokerport"
)

// PipValue derives the pip value for a symbol from its broker metadata, with
// a symbol-family fallback when the metadata is unavailable or non-positive.
//
// pip_value(symbol) = symbol_info.point * 10 when point is available and
// positive; otherwise 0.1 for "BTC*" symbols, 0.0001 otherwise.
func PipValue(info brokerport.SymbolInfo, symbol string) float64 {
	if info.Point > 0 {
		return info.Point * 10
	}
	if strings.HasPrefix(strings.ToUpper(symbol), "BTC") {
		return 0.1
	}
	return 0.0001
}

// Clock supplies monotonic time for throttling decisions. It exists so tests
// can fake the passage of time without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a test Clock that only advances when told to.
type FixedClock struct {
	At time.Time
}

func (c *FixedClock) Now() time.Time { return c.At }
func (c *FixedClock) Advance(d time.Duration) { c.At = c.At.Add(d) }
