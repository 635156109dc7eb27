package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
)

// BinanceFunding reads the latest funding rate from the Binance futures API.
type BinanceFunding struct {
	client *futures.Client
}

func NewBinanceFunding(timeout time.Duration) *BinanceFunding {
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceFunding{client: client}
}

// SetBaseURL points the underlying client at a different endpoint, used by
// tests.
func (b *BinanceFunding) SetBaseURL(url string) {
	b.client.BaseURL = url
}

func (b *BinanceFunding) Exchange() string { return "binance" }

func (b *BinanceFunding) FundingRate(ctx context.Context, symbol string) (float64, error) {
	rates, err := b.client.NewFundingRateService().Symbol(symbol).Limit(1).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance funding request failed for %s: %w", symbol, err)
	}
	if len(rates) == 0 {
		return 0, fmt.Errorf("binance returned no funding rates for %s", symbol)
	}

	rate, err := strconv.ParseFloat(rates[len(rates)-1].FundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("binance funding rate for %s is not numeric: %w", symbol, err)
	}
	return rate, nil
}
