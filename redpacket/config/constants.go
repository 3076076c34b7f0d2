package config

import "time"

// Application-wide defaults organized by component

// Database and Performance Constants
const (
	// Timeouts
	DefaultQueryTimeout = 30 * time.Second
	BatchQueryTimeout   = 30 * time.Second
	DefaultTxTimeout    = 10 * time.Second
	NetworkDialTimeout  = 5 * time.Second
	ShutdownTimeout     = 15 * time.Second

	// Pagination
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Activity limits
const (
	MaxShareCount        = 10000
	MaxTotalAmount       = 10_000_000 // minor units
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

// Engine Constants
const (
	DefaultMinShareAmount    = 1
	DefaultStrategy          = "double_average"
	DefaultGrabQueueSize     = 1024
	DefaultActivityCacheSize = 512
	DefaultSweepInterval     = time.Minute
)

// Reconciliation Constants
const (
	DefaultReconcileInterval    = 5 * time.Minute
	DefaultReconcileBatchSize   = 100
	DefaultReconcileConcurrency = 8
	DefaultBaseBackoff          = 2 * time.Second
	DefaultMaxBackoff           = 10 * time.Minute
	DefaultCreditTimeout        = 10 * time.Second
)

// Messaging and Ops Constants
const (
	DefaultNATSStream        = "REDPACKET"
	DefaultNATSSubjectPrefix = "redpacket"
	DefaultOpsListenAddr     = ":9102"
	DefaultReportRoot        = "audits"
)

// Duration is a time.Duration that decodes from strings like "5m" in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Or returns d as a time.Duration, or fallback when d is unset.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return time.Duration(d)
}
