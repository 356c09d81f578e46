package pipclock

import "time"

// IsMarketOpen is a conservative, broker-agnostic market-hours check (§4.2):
// closed all of Saturday and Sunday, and Friday from 22:00 UTC onward. Any
// ambiguity defaults to open — the real gate is the broker's own rejection of an order when the market is actually closed;
// this check only lets the engine skip needless broker round-trips.
func IsMarketOpen(now time.Time) bool {
	utc := now.UTC()
	switch utc.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		// Most FX markets reopen Sunday evening; treat all of Sunday as
		// closed since the exact reopen time is broker/server specific and
		// the broker itself will reject orders if we're wrong.
		return false
	case time.Friday:
		return utc.Hour() < 22
	default:
		return true
	}
}
