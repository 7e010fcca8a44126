package file

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// LoadConfig decodes the store over domain.DefaultConfig. Absent keys keep
// their default; present keys are validated.
func LoadConfig(store driven.ConfigStore) (domain.Config, error) {
	cfg := domain.DefaultConfig()
	has := func(key string) bool {
		_, ok := store.Get(key)
		return ok
	}
	str := func(key string, dst *string) {
		if has(key) {
			*dst = store.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if has(key) {
			*dst = store.GetInt(key)
		}
	}

	str("log.level", &cfg.Log.Level)
	str("data_dir", &cfg.DataDir)

	str("upstream.base_url", &cfg.Upstream.BaseURL)
	str("upstream.token_url", &cfg.Upstream.TokenURL)
	str("upstream.client_id", &cfg.Upstream.ClientID)
	str("upstream.client_secret", &cfg.Upstream.ClientSecret)
	if has("upstream.scopes") {
		cfg.Upstream.Scopes = store.GetStringSlice("upstream.scopes")
	}

	inv := &cfg.Invoker
	integer("invoker.max_concurrency", &inv.MaxConcurrency)
	integer("invoker.max_retries", &inv.MaxRetries)
	integer("invoker.burst", &inv.Burst)
	if has("invoker.requests_per_second") {
		inv.RequestsPerSecond = store.GetFloat("invoker.requests_per_second")
	}
	for key, dst := range map[string]*time.Duration{
		"invoker.base_delay":   &inv.BaseDelay,
		"invoker.max_delay":    &inv.MaxDelay,
		"invoker.call_timeout": &inv.CallTimeout,
	} {
		if has(key) {
			*dst = store.GetDuration(key)
		}
	}

	syn := &cfg.Sync
	if has("sync.tenants") {
		syn.Tenants = store.GetStringSlice("sync.tenants")
	}
	integer("sync.reconciliation_per_hour", &syn.ReconciliationPerHour)
	for key, dst := range map[string]*time.Duration{
		"sync.progress_ttl":          &syn.ProgressTTL,
		"sync.state_retention":       &syn.StateRetention,
		"sync.reconciliation_window": &syn.ReconciliationWindow,
	} {
		if has(key) {
			*dst = store.GetDuration(key)
		}
	}

	fc := &cfg.Forecast
	str("forecast.currency", &fc.Currency)
	str("forecast.low_balance_floor", &fc.LowBalanceFloor)
	integer("forecast.horizon_days", &fc.HorizonDays)
	integer("forecast.max_horizon_days", &fc.MaxHorizonDays)
	for key, dst := range map[string]*float64{
		"forecast.confidence_threshold": &fc.ConfidenceThreshold,
		"forecast.decay_per_day":        &fc.DecayPerDay,
		"forecast.confidence_floor":     &fc.ConfidenceFloor,
		"forecast.soft_penalty":         &fc.SoftPenalty,
	} {
		if has(key) {
			*dst = store.GetFloat(key)
		}
	}
	if has("forecast.reuse_window") {
		fc.ReuseWindow = store.GetDuration("forecast.reuse_window")
	}

	if has("scheduler.enabled") {
		cfg.Scheduler.Enabled = store.GetBool("scheduler.enabled")
	}
	for id, task := range cfg.Scheduler.TaskConfigs {
		prefix := "scheduler.tasks." + id + "."
		if has(prefix + "enabled") {
			task.Enabled = store.GetBool(prefix + "enabled")
		}
		if has(prefix + "interval") {
			task.Interval = store.GetDuration(prefix + "interval")
		}
		cfg.Scheduler.TaskConfigs[id] = task
	}

	if err := validate(cfg); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

func validate(cfg domain.Config) error {
	inv := cfg.Invoker
	switch {
	case inv.MaxConcurrency <= 0:
		return domain.ValidationErrorf("invoker.max_concurrency must be positive, got %d", inv.MaxConcurrency)
	case inv.MaxRetries < 0:
		return domain.ValidationErrorf("invoker.max_retries must not be negative, got %d", inv.MaxRetries)
	case inv.BaseDelay <= 0 || inv.MaxDelay < inv.BaseDelay:
		return domain.ValidationErrorf("invoker delays must satisfy 0 < base_delay <= max_delay")
	case inv.CallTimeout <= 0:
		return domain.ValidationErrorf("invoker.call_timeout must be positive")
	case inv.RequestsPerSecond < 0:
		return domain.ValidationErrorf("invoker.requests_per_second must not be negative")
	case inv.RequestsPerSecond > 0 && inv.Burst <= 0:
		return domain.ValidationErrorf("invoker.burst must be positive when throttling")
	}

	syn := cfg.Sync
	switch {
	case syn.ProgressTTL <= 0:
		return domain.ValidationErrorf("sync.progress_ttl must be positive")
	case syn.StateRetention <= 0:
		return domain.ValidationErrorf("sync.state_retention must be positive")
	case syn.ReconciliationWindow <= 0:
		return domain.ValidationErrorf("sync.reconciliation_window must be positive")
	case syn.ReconciliationPerHour <= 0:
		return domain.ValidationErrorf("sync.reconciliation_per_hour must be positive")
	}

	fc := cfg.Forecast
	switch {
	case fc.Currency == "":
		return domain.ValidationErrorf("forecast.currency is required")
	case fc.HorizonDays <= 0 || fc.MaxHorizonDays < fc.HorizonDays:
		return domain.ValidationErrorf("forecast horizons must satisfy 0 < horizon_days <= max_horizon_days")
	case !unit(fc.ConfidenceThreshold) || !unit(fc.DecayPerDay) || !unit(fc.ConfidenceFloor) || !unit(fc.SoftPenalty):
		return domain.ValidationErrorf("forecast confidence parameters must lie in [0, 1]")
	case fc.ReuseWindow < 0:
		return domain.ValidationErrorf("forecast.reuse_window must not be negative")
	}
	if _, err := decimal.NewFromString(fc.LowBalanceFloor); err != nil {
		return domain.ValidationErrorf("forecast.low_balance_floor %q: %v", fc.LowBalanceFloor, err)
	}

	for id, task := range cfg.Scheduler.TaskConfigs {
		if task.Enabled && task.Interval <= 0 {
			return domain.ValidationErrorf("scheduler.tasks.%s.interval must be positive", id)
		}
	}
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}
