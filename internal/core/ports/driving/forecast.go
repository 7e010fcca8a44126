package driving

import (
	"context"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// ForecastService projects daily cash balances from the local ledger.
type ForecastService interface {
	// GetForecast returns a forecast of the given horizon, reusing a recent
	// computation when one is available.
	GetForecast(ctx context.Context, tenantID string, days int, includeScenarios bool) (*domain.Forecast, error)

	// RegenerateForecast drops any cached forecast and recomputes.
	RegenerateForecast(ctx context.Context, tenantID string, days int) (*domain.Forecast, error)
}
