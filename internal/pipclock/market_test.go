package pipclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func utc(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func TestIsMarketOpen_ClosedOnSaturday(t *testing.T) {
	require.False(t, IsMarketOpen(utc(2026, 8, 1, 12))) // a Saturday
}

func TestIsMarketOpen_ClosedOnSunday(t *testing.T) {
	require.False(t, IsMarketOpen(utc(2026, 8, 2, 23))) // a Sunday
}

func TestIsMarketOpen_ClosedFridayLateEvening(t *testing.T) {
	require.False(t, IsMarketOpen(utc(2026, 7, 31, 23))) // a Friday, after 22:00 UTC
}

func TestIsMarketOpen_OpenFridayBeforeClose(t *testing.T) {
	require.True(t, IsMarketOpen(utc(2026, 7, 31, 10)))
}

func TestIsMarketOpen_OpenOnWeekday(t *testing.T) {
	require.True(t, IsMarketOpen(utc(2026, 7, 29, 10))) // a Wednesday
}
