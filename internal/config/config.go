// Package config loads the orchestrator's configuration through viper
// and hands it out as a plain struct. Components receive their slice
// of it at construction; nothing reads settings globally.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/agentflow/internal/assign"
	"github.com/t77yq/agentflow/internal/engine"
	"github.com/t77yq/agentflow/internal/monitor"
)

// NATSConfig holds connection settings for the NATS transport
type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LedgerConfig holds the memory ledger's storage and maintenance settings
type LedgerConfig struct {
	// Path is the SQLite database path; empty keeps the ledger in memory
	Path        string        `mapstructure:"path"`
	Retention   time.Duration `mapstructure:"retention"`
	ReflectSpec string        `mapstructure:"reflect_spec"`
	CleanupSpec string        `mapstructure:"cleanup_spec"`
}

// OracleConfig bounds the cognition oracle calls
type OracleConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// AgentSeed describes one agent of the fixed pool provisioned at startup
type AgentSeed struct {
	ID        string   `mapstructure:"id"`
	Name      string   `mapstructure:"name"`
	Role      string   `mapstructure:"role"`
	MaxLoad   int      `mapstructure:"max_load"`
	Expertise []string `mapstructure:"expertise"`
}

// Config is the full injected configuration
type Config struct {
	AppName string         `mapstructure:"app_name"`
	Seed    int64          `mapstructure:"seed"`
	NATS    NATSConfig     `mapstructure:"nats"`
	Ledger  LedgerConfig   `mapstructure:"ledger"`
	Oracle  OracleConfig   `mapstructure:"oracle"`
	Engine  engine.Config  `mapstructure:"engine"`
	Monitor monitor.Config `mapstructure:"monitor"`
	Scoring assign.Weights `mapstructure:"scoring"`
	Agents  []AgentSeed    `mapstructure:"agents"`
}

// Load reads config/config.yaml, applying defaults for everything the
// file leaves out.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Defaults carry a usable setup
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "agentflow")
	v.SetDefault("seed", 1)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("ledger.path", "memory_ledger.db")
	v.SetDefault("ledger.retention", 30*24*time.Hour)
	v.SetDefault("ledger.reflect_spec", "@every 10m")
	v.SetDefault("ledger.cleanup_spec", "@daily")

	v.SetDefault("oracle.timeout", 10*time.Second)

	ec := engine.DefaultConfig()
	v.SetDefault("engine.main_interval", ec.MainInterval)
	v.SetDefault("engine.health_interval", ec.HealthInterval)
	v.SetDefault("engine.sweep_interval", ec.SweepInterval)
	v.SetDefault("engine.stale_threshold", ec.StaleThreshold)
	v.SetDefault("engine.max_recovery_attempts", ec.MaxRecoveryAttempts)
	v.SetDefault("engine.recovery_window", ec.RecoveryWindow)
	v.SetDefault("engine.overload_factor", ec.OverloadFactor)
	v.SetDefault("engine.low_health_threshold", ec.LowHealthThreshold)
	v.SetDefault("engine.history_window", ec.HistoryWindow)

	mc := monitor.DefaultConfig()
	v.SetDefault("monitor.interval", mc.Interval)
	v.SetDefault("monitor.memory_window", mc.MemoryWindow)
	v.SetDefault("monitor.window_cap", mc.WindowCap)
	v.SetDefault("monitor.failure_rate_medium", mc.FailureRateMedium)
	v.SetDefault("monitor.failure_rate_high", mc.FailureRateHigh)
	v.SetDefault("monitor.response_time_medium", mc.ResponseTimeMedium)
	v.SetDefault("monitor.response_time_high", mc.ResponseTimeHigh)
	v.SetDefault("monitor.unread_medium", mc.UnreadMedium)
	v.SetDefault("monitor.unread_high", mc.UnreadHigh)
	v.SetDefault("monitor.failed_comms_medium", mc.FailedCommsMedium)
	v.SetDefault("monitor.stuck_window", mc.StuckWindow)
	v.SetDefault("monitor.loop_repeats", mc.LoopRepeats)
	v.SetDefault("monitor.active_tasks_medium", mc.ActiveTasksMedium)
	v.SetDefault("monitor.active_tasks_high", mc.ActiveTasksHigh)
	v.SetDefault("monitor.ledger_size_low", mc.LedgerSizeLow)
	v.SetDefault("monitor.learning_window", mc.LearningWindow)

	w := assign.DefaultWeights()
	v.SetDefault("scoring.load", w.Load)
	v.SetDefault("scoring.health", w.Health)
	v.SetDefault("scoring.role_match", w.RoleMatch)
	v.SetDefault("scoring.skill_match", w.SkillMatch)
	v.SetDefault("scoring.availability", w.Available)
}
