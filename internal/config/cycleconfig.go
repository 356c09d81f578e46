package config

// MovementMode governs whether and how a cycle's zone migrates when the
// trailing stop is triggered (spec.md §3, §4.4.1, §4.4.7).
type MovementMode int

const (
	MoveNone MovementMode = iota
	MoveUpOnly
	MoveDownOnly
	MoveBothSides
)

func (m MovementMode) String() string {
	switch m {
	case MoveUpOnly:
		return "Move Up Only"
	case MoveDownOnly:
		return "Move Down Only"
	case MoveBothSides:
		return "Move Both Sides"
	default:
		return "No Move"
	}
}

// ParseMovementMode parses the config-file spelling of a movement mode,
// falling back to MoveNone for anything unrecognised.
func ParseMovementMode(s string) MovementMode {
	switch s {
	case "Move Up Only":
		return MoveUpOnly
	case "Move Down Only":
		return MoveDownOnly
	case "Move Both Sides":
		return MoveBothSides
	default:
		return MoveNone
	}
}

// CycleConfig is the frozen snapshot of strategy configuration taken at
// cycle-creation time (spec.md §3). Every cycle derives its geometry from
// its own copy, never from live globals, so that cycles created under an
// old configuration keep their original contract (spec.md §9 design note).
//
// NOTE on CycleTakeProfitPips: despite the name, this value is compared
// directly against a dollar-denominated profit sum (spec.md §4.6, §9 Open
// Question 1, §11 resolution). It is NOT converted through pip value. The
// misleading name is preserved verbatim from the source system.
type CycleConfig struct {
	LotSize                     float64
	EntryIntervalPips           float64
	SubsequentEntryIntervalPips float64
	GridIntervalPips            float64
	InitialStopLossPips         float64
	CycleStopLossPips           float64
	RecoveryStopLossPips        float64
	CycleTakeProfitPips         float64 // interpreted as account-currency dollars; see doc above
	ZoneThresholdPips           float64
	ZoneMoveStepPips            float64
	ZoneMovementMode            MovementMode
	MaxActiveCycles             int
	MaxTradesPerCycle           int
	MaxActiveTradesPerCycle     int
	CycleIntervalPips           float64
	AutoPlaceCycles             bool
	RecoveryEnabled             bool

	// PendingAheadCount is "K" in spec.md §4.4.3: the number of pending
	// stop orders the grid manager keeps ahead of price. Not a spec.md
	// config key verbatim, but every example in spec.md §8 uses K=5, so it
	// is exposed here with that default rather than hardcoded in the grid
	// manager.
	PendingAheadCount int

	// RecoveryIntervalPips spaces recovery orders (spec.md §4.4.9). Not
	// named explicitly among the snapshot keys of spec.md §3 but required
	// by §4.4.9's "recovery_interval_pips spacing" language.
	RecoveryIntervalPips float64

	// ReversalConfirmTicks requires a TSL breach to persist this many
	// reconciled ticks before the cycle reset fires (SPEC_FULL.md §6.1,
	// grounded on original_source's ReversalMonitor). Default 1 reproduces
	// spec.md §4.4.7 exactly (fires on the first breaching tick).
	ReversalConfirmTicks int

	// MagicNumber tags the bot that owns a cycle (spec.md §6 store schema's
	// "magic_number" under Trading). Not yet threaded into broker order
	// requests; it is carried through the cycle and its snapshot so a
	// restored cycle can still be attributed to the bot that opened it.
	MagicNumber int
}

// Defaults returns the documented fallback configuration (spec.md §3:
// "invalid values fall back to documented defaults").
func Defaults() CycleConfig {
	return CycleConfig{
		LotSize:                     0.01,
		EntryIntervalPips:           10,
		SubsequentEntryIntervalPips: 10,
		GridIntervalPips:            50,
		InitialStopLossPips:         100,
		CycleStopLossPips:           300,
		RecoveryStopLossPips:        200,
		CycleTakeProfitPips:         100,
		ZoneThresholdPips:           300,
		ZoneMoveStepPips:            50,
		ZoneMovementMode:            MoveBothSides,
		MaxActiveCycles:             3,
		MaxTradesPerCycle:           50,
		MaxActiveTradesPerCycle:     10,
		CycleIntervalPips:           500,
		AutoPlaceCycles:             true,
		RecoveryEnabled:             false,
		PendingAheadCount:           5,
		RecoveryIntervalPips:        50,
		ReversalConfirmTicks:        1,
	}
}

// Validate returns a copy of c with every non-sensical field replaced by its
// documented default (spec.md §3, §7 ConfigurationError handling). It never
// errors: invalid configuration degrades to defaults rather than blocking
// startup.
func (c CycleConfig) Validate() CycleConfig {
	d := Defaults()
	out := c

	if out.LotSize <= 0 {
		out.LotSize = d.LotSize
	}
	if out.EntryIntervalPips <= 0 {
		out.EntryIntervalPips = d.EntryIntervalPips
	}
	if out.SubsequentEntryIntervalPips <= 0 {
		out.SubsequentEntryIntervalPips = d.SubsequentEntryIntervalPips
	}
	if out.GridIntervalPips <= 0 {
		out.GridIntervalPips = d.GridIntervalPips
	}
	if out.InitialStopLossPips <= 0 {
		out.InitialStopLossPips = d.InitialStopLossPips
	}
	if out.CycleStopLossPips <= 0 {
		out.CycleStopLossPips = d.CycleStopLossPips
	}
	if out.RecoveryStopLossPips <= 0 {
		out.RecoveryStopLossPips = d.RecoveryStopLossPips
	}
	if out.CycleTakeProfitPips <= 0 {
		out.CycleTakeProfitPips = d.CycleTakeProfitPips
	}
	if out.ZoneThresholdPips <= 0 {
		out.ZoneThresholdPips = d.ZoneThresholdPips
	}
	if out.ZoneMoveStepPips <= 0 {
		out.ZoneMoveStepPips = d.ZoneMoveStepPips
	}
	if out.MaxActiveCycles <= 0 {
		out.MaxActiveCycles = d.MaxActiveCycles
	}
	if out.MaxTradesPerCycle <= 0 {
		out.MaxTradesPerCycle = d.MaxTradesPerCycle
	}
	if out.MaxActiveTradesPerCycle <= 0 {
		out.MaxActiveTradesPerCycle = d.MaxActiveTradesPerCycle
	}
	if out.CycleIntervalPips <= 0 {
		out.CycleIntervalPips = d.CycleIntervalPips
	}
	if out.PendingAheadCount <= 0 {
		out.PendingAheadCount = d.PendingAheadCount
	}
	if out.RecoveryIntervalPips <= 0 {
		out.RecoveryIntervalPips = d.RecoveryIntervalPips
	}
	if out.ReversalConfirmTicks <= 0 {
		out.ReversalConfirmTicks = d.ReversalConfirmTicks
	}
	return out
}
