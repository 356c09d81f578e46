// Package config loads connection and strategy configuration through
// github.com/spf13/viper: an optional config file, MOVEGUARD_-prefixed
// environment variables, and documented defaults underneath. The file is
// read once per Load call; nothing watches it for changes. Strategy values
// are additionally frozen per cycle at creation time (spec.md §9).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConnectionConfig holds broker connection settings, shaped after the
// teacher's MT5Config (examples/demos/config/config.go).
type ConnectionConfig struct {
	User       uint64 `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Host       string `mapstructure:"host"`
	Port       int32  `mapstructure:"port"`
	GrpcServer string `mapstructure:"grpc_server"`
	Cluster    string `mapstructure:"cluster"`
	Symbol     string `mapstructure:"symbol"`
}

// PersistenceConfig governs the snapshot batcher (spec.md §4.9): how often a
// cycle's state may hit the store and how often the interim queue is
// flushed. These are engine-wide, not frozen per cycle like CycleConfig.
type PersistenceConfig struct {
	DatabaseUpdateInterval time.Duration `mapstructure:"database_update_interval"`
	BatchUpdateInterval    time.Duration `mapstructure:"batch_update_interval"`
	SQLitePath             string        `mapstructure:"sqlite_path"`
}

// AppConfig is the top-level configuration document: connection settings
// plus the strategy snapshot keys of spec.md §3, laid out under a
// "strategy" block.
type AppConfig struct {
	Connection  ConnectionConfig  `mapstructure:"connection"`
	Strategy    CycleConfig       `mapstructure:"-"`
	Persistence PersistenceConfig `mapstructure:"-"`

	rawStrategy map[string]any
}

// Load reads configuration via viper from config.yaml (or config.json) in
// the working directory or ./config/. Strategy and persistence keys are read
// one by one, so a MOVEGUARD_-prefixed environment variable (for example
// MOVEGUARD_STRATEGY_LOT_SIZE) overrides the file value for them, and an
// unset key falls back to its default. The connection block is decoded from
// the file as a whole; environment variables are not consulted for it.
func Load(configName string) (*AppConfig, error) {
	v := viper.New()
	if configName == "" {
		configName = "config"
	}
	v.SetConfigName(configName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MOVEGUARD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setStrategyDefaults(v)
	v.SetDefault("persistence.database_update_interval", 5*time.Second)
	v.SetDefault("persistence.batch_update_interval", 10*time.Second)
	v.SetDefault("persistence.sqlite_path", "moveguard.db")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		// No config file: environment variables (with defaults) carry us.
	}

	var cfg AppConfig
	if err := v.UnmarshalKey("connection", &cfg.Connection); err != nil {
		return nil, fmt.Errorf("config: unmarshal connection: %w", err)
	}
	if cfg.Connection.GrpcServer == "" && cfg.Connection.Host != "" {
		port := cfg.Connection.Port
		if port == 0 {
			port = 443
		}
		cfg.Connection.GrpcServer = fmt.Sprintf("%s:%d", cfg.Connection.Host, port)
	}

	strategy := decodeStrategy(v)
	cfg.Strategy = strategy.Validate()
	cfg.Persistence = decodePersistence(v)

	return &cfg, nil
}

func decodePersistence(v *viper.Viper) PersistenceConfig {
	dbInterval := v.GetDuration("persistence.database_update_interval")
	if dbInterval <= 0 {
		dbInterval = 5 * time.Second
	}
	batchInterval := v.GetDuration("persistence.batch_update_interval")
	if batchInterval <= 0 {
		batchInterval = 10 * time.Second
	}
	path := v.GetString("persistence.sqlite_path")
	if path == "" {
		path = "moveguard.db"
	}
	return PersistenceConfig{
		DatabaseUpdateInterval: dbInterval,
		BatchUpdateInterval:    batchInterval,
		SQLitePath:             path,
	}
}

func setStrategyDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("strategy.lot_size", d.LotSize)
	v.SetDefault("strategy.entry_interval_pips", d.EntryIntervalPips)
	v.SetDefault("strategy.subsequent_entry_interval_pips", d.SubsequentEntryIntervalPips)
	v.SetDefault("strategy.grid_interval_pips", d.GridIntervalPips)
	v.SetDefault("strategy.initial_stop_loss_pips", d.InitialStopLossPips)
	v.SetDefault("strategy.cycle_stop_loss_pips", d.CycleStopLossPips)
	v.SetDefault("strategy.recovery_stop_loss_pips", d.RecoveryStopLossPips)
	v.SetDefault("strategy.cycle_take_profit_pips", d.CycleTakeProfitPips)
	v.SetDefault("strategy.zone_threshold_pips", d.ZoneThresholdPips)
	v.SetDefault("strategy.zone_move_step_pips", d.ZoneMoveStepPips)
	v.SetDefault("strategy.zone_movement_mode", d.ZoneMovementMode.String())
	v.SetDefault("strategy.max_active_cycles", d.MaxActiveCycles)
	v.SetDefault("strategy.max_trades_per_cycle", d.MaxTradesPerCycle)
	v.SetDefault("strategy.max_active_trades_per_cycle", d.MaxActiveTradesPerCycle)
	v.SetDefault("strategy.cycle_interval_pips", d.CycleIntervalPips)
	v.SetDefault("strategy.auto_place_cycles", d.AutoPlaceCycles)
	v.SetDefault("strategy.recovery_enabled", d.RecoveryEnabled)
	v.SetDefault("strategy.pending_ahead_count", d.PendingAheadCount)
	v.SetDefault("strategy.recovery_interval_pips", d.RecoveryIntervalPips)
	v.SetDefault("strategy.reversal_confirm_ticks", d.ReversalConfirmTicks)
}

func decodeStrategy(v *viper.Viper) CycleConfig {
	return CycleConfig{
		LotSize:                     v.GetFloat64("strategy.lot_size"),
		EntryIntervalPips:           v.GetFloat64("strategy.entry_interval_pips"),
		SubsequentEntryIntervalPips: v.GetFloat64("strategy.subsequent_entry_interval_pips"),
		GridIntervalPips:            v.GetFloat64("strategy.grid_interval_pips"),
		InitialStopLossPips:         v.GetFloat64("strategy.initial_stop_loss_pips"),
		CycleStopLossPips:           v.GetFloat64("strategy.cycle_stop_loss_pips"),
		RecoveryStopLossPips:        v.GetFloat64("strategy.recovery_stop_loss_pips"),
		CycleTakeProfitPips:         v.GetFloat64("strategy.cycle_take_profit_pips"),
		ZoneThresholdPips:           v.GetFloat64("strategy.zone_threshold_pips"),
		ZoneMoveStepPips:            v.GetFloat64("strategy.zone_move_step_pips"),
		ZoneMovementMode:            ParseMovementMode(v.GetString("strategy.zone_movement_mode")),
		MaxActiveCycles:             v.GetInt("strategy.max_active_cycles"),
		MaxTradesPerCycle:           v.GetInt("strategy.max_trades_per_cycle"),
		MaxActiveTradesPerCycle:     v.GetInt("strategy.max_active_trades_per_cycle"),
		CycleIntervalPips:           v.GetFloat64("strategy.cycle_interval_pips"),
		AutoPlaceCycles:             v.GetBool("strategy.auto_place_cycles"),
		RecoveryEnabled:             v.GetBool("strategy.recovery_enabled"),
		PendingAheadCount:           v.GetInt("strategy.pending_ahead_count"),
		RecoveryIntervalPips:        v.GetFloat64("strategy.recovery_interval_pips"),
		ReversalConfirmTicks:        v.GetInt("strategy.reversal_confirm_ticks"),
	}
}
