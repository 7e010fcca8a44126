package domain

import "time"

// Config is the full application configuration.
type Config struct {
	Log       LogConfig
	Upstream  UpstreamConfig
	Invoker   InvokerConfig
	Sync      SyncConfig
	Forecast  ForecastConfig
	Scheduler SchedulerConfig
	DataDir   string
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string
}

// UpstreamConfig locates the accounting API and its OAuth endpoints.
type UpstreamConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// InvokerConfig bounds every upstream call.
type InvokerConfig struct {
	// MaxConcurrency is the per-tenant ceiling of in-flight calls.
	MaxConcurrency int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// CallTimeout cancels a single in-flight attempt.
	CallTimeout time.Duration
	// RequestsPerSecond is the proactive throttle; zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// SyncConfig controls the orchestrator.
type SyncConfig struct {
	Tenants []string
	// ProgressTTL is how long a progress entry outlives its last write.
	ProgressTTL time.Duration
	// StateRetention is how long a completed SyncState is kept.
	StateRetention time.Duration
	// ReconciliationWindow bounds reconciliation when no dates are given.
	ReconciliationWindow time.Duration
	// ReconciliationPerHour is the per-tenant boundary limit.
	ReconciliationPerHour int
}

// ForecastConfig tunes the forecast engine.
type ForecastConfig struct {
	Currency       string
	HorizonDays    int
	MaxHorizonDays int
	// ConfidenceThreshold triggers a low-confidence alert below it.
	ConfidenceThreshold float64
	// LowBalanceFloor triggers a low-balance warning while non-negative.
	LowBalanceFloor string
	// DecayPerDay is the confidence lost per day of distance.
	DecayPerDay float64
	// ConfidenceFloor bounds the distance decay.
	ConfidenceFloor float64
	// SoftPenalty is the confidence lost when a day is entirely projected.
	SoftPenalty float64
	// ReuseWindow lets a fresh request reuse a recent computation.
	ReuseWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Invoker: InvokerConfig{
			MaxConcurrency:    4,
			MaxRetries:        5,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          30 * time.Second,
			CallTimeout:       30 * time.Second,
			RequestsPerSecond: 1,
			Burst:             5,
		},
		Sync: SyncConfig{
			ProgressTTL:           time.Hour,
			StateRetention:        24 * time.Hour,
			ReconciliationWindow:  90 * 24 * time.Hour,
			ReconciliationPerHour: 5,
		},
		Forecast: ForecastConfig{
			Currency:            "USD",
			HorizonDays:         90,
			MaxHorizonDays:      365,
			ConfidenceThreshold: 0.5,
			LowBalanceFloor:     "0",
			DecayPerDay:         0.005,
			ConfidenceFloor:     0.3,
			SoftPenalty:         0.5,
			ReuseWindow:         time.Minute,
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}
