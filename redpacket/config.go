package redpacket

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log       LogConfig       `toml:"log"`
	DB        DBConfig        `toml:"db"`
	Engine    EngineConfig    `toml:"engine"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	NATS      NATSConfig      `toml:"nats"`
	Spaces    SpacesConfig    `toml:"spaces"`
	Ops       OpsConfig       `toml:"ops"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type EngineConfig struct {
	MinShareAmount    int64           `toml:"min_share_amount"`
	DefaultStrategy   string          `toml:"default_strategy"`
	GrabQueueSize     int             `toml:"grab_queue_size"`
	ActivityCacheSize int             `toml:"activity_cache_size"`
	SweepInterval     config.Duration `toml:"sweep_interval"`
}

type ReconcileConfig struct {
	Interval    config.Duration `toml:"interval"`
	BatchSize   int             `toml:"batch_size"`
	Concurrency int             `toml:"concurrency"`
	BaseBackoff config.Duration `toml:"base_backoff"`
	MaxBackoff  config.Duration `toml:"max_backoff"`
}

type NATSConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	Stream        string `toml:"stream"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type SpacesConfig struct {
	Key        string `toml:"key"`
	Secret     string `toml:"secret"`
	Region     string `toml:"region"`
	Bucket     string `toml:"bucket"`
	ReportRoot string `toml:"report_root"`
	Endpoint   string `toml:"endpoint"`
}

// Enabled reports whether audit reports should be uploaded.
func (c SpacesConfig) Enabled() bool {
	return c.Bucket != ""
}

type OpsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Validate fills unset fields with defaults and rejects values the engine
// cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MinShareAmount == 0 {
		c.Engine.MinShareAmount = config.DefaultMinShareAmount
	}
	if c.Engine.MinShareAmount < 0 {
		return fmt.Errorf("engine.min_share_amount must be positive, got %d", c.Engine.MinShareAmount)
	}
	if c.Engine.DefaultStrategy == "" {
		c.Engine.DefaultStrategy = config.DefaultStrategy
	}
	if c.Engine.GrabQueueSize <= 0 {
		c.Engine.GrabQueueSize = config.DefaultGrabQueueSize
	}
	if c.Engine.ActivityCacheSize <= 0 {
		c.Engine.ActivityCacheSize = config.DefaultActivityCacheSize
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = config.DefaultReconcileBatchSize
	}
	if c.Reconcile.Concurrency <= 0 {
		c.Reconcile.Concurrency = config.DefaultReconcileConcurrency
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = config.DefaultNATSStream
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = config.DefaultNATSSubjectPrefix
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	if c.Spaces.ReportRoot == "" {
		c.Spaces.ReportRoot = config.DefaultReportRoot
	}
	if c.Ops.ListenAddr == "" {
		c.Ops.ListenAddr = config.DefaultOpsListenAddr
	}
	return nil
}
