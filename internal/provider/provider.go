// Package provider wraps the external market-data sources behind small
// interfaces so the collector can treat every source as "a thing that may
// return numbers or fail".
package provider

import (
	"context"

	"sentimentflow/internal/models"
)

// PriceProvider returns current spot-market data keyed by instrument id.
type PriceProvider interface {
	FetchPrices(ctx context.Context) (map[string]models.PriceData, error)
}

// FundingProvider returns the most recent funding rate for one perpetual
// contract symbol on a single exchange.
type FundingProvider interface {
	Exchange() string
	FundingRate(ctx context.Context, symbol string) (float64, error)
}
