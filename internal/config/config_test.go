package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_ReplacesZeroAndNegativeFieldsWithDefaults(t *testing.T) {
	bad := CycleConfig{LotSize: -1, MaxActiveCycles: 0, GridIntervalPips: -5}
	out := bad.Validate()
	d := Defaults()

	require.Equal(t, d.LotSize, out.LotSize)
	require.Equal(t, d.MaxActiveCycles, out.MaxActiveCycles)
	require.Equal(t, d.GridIntervalPips, out.GridIntervalPips)
}

func TestValidate_PreservesValidFields(t *testing.T) {
	cfg := Defaults()
	cfg.LotSize = 0.5
	cfg.MaxActiveCycles = 7

	out := cfg.Validate()
	require.Equal(t, 0.5, out.LotSize)
	require.Equal(t, 7, out.MaxActiveCycles)
}

func TestValidate_DefaultsAreThemselvesValid(t *testing.T) {
	d := Defaults()
	require.Equal(t, d, d.Validate())
}

func TestParseMovementMode_RoundTripsThroughString(t *testing.T) {
	for _, m := range []MovementMode{MoveNone, MoveUpOnly, MoveDownOnly, MoveBothSides} {
		require.Equal(t, m, ParseMovementMode(m.String()))
	}
}

func TestParseMovementMode_FallsBackToNoneOnUnrecognised(t *testing.T) {
	require.Equal(t, MoveNone, ParseMovementMode("whatever"))
}

func TestLoad_FallsBackToDefaultsWithNoConfigFileOrEnv(t *testing.T) {
	cfg, err := Load("nonexistent-config-name")
	require.NoError(t, err)

	d := Defaults()
	require.Equal(t, d.LotSize, cfg.Strategy.LotSize)
	require.Equal(t, d.MaxActiveCycles, cfg.Strategy.MaxActiveCycles)
	require.Equal(t, d.ZoneMovementMode, cfg.Strategy.ZoneMovementMode)
}

func TestLoad_AppliesPersistenceDefaults(t *testing.T) {
	cfg, err := Load("nonexistent-config-name")
	require.NoError(t, err)

	require.Equal(t, "moveguard.db", cfg.Persistence.SQLitePath)
	require.True(t, cfg.Persistence.DatabaseUpdateInterval > 0)
	require.True(t, cfg.Persistence.BatchUpdateInterval > 0)
}

func TestLoad_DerivesGrpcServerFromHostAndPortWhenUnset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/config.yaml", []byte("connection:\n  host: mt5.example.com\n  port: 8443\n"), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "mt5.example.com:8443", cfg.Connection.GrpcServer)
}
