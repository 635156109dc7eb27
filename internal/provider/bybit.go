package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

// BybitFunding reads the latest funding rate from the Bybit v5 tickers
// endpoint for linear perpetuals.
type BybitFunding struct {
	client *bybit.Client
}

func NewBybitFunding(baseURL string, timeout time.Duration) *BybitFunding {
	opts := []bybit.ClientOption{}
	if baseURL != "" {
		opts = append(opts, bybit.WithBaseURL(baseURL))
	}
	client := bybit.NewBybitHttpClient("", "", opts...)
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BybitFunding{client: client}
}

func (b *BybitFunding) Exchange() string { return "bybit" }

type bybitTickerList struct {
	Category string `json:"category"`
	List     []struct {
		Symbol      string `json:"symbol"`
		FundingRate string `json:"fundingRate"`
	} `json:"list"`
}

func (b *BybitFunding) FundingRate(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
	}

	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("bybit ticker request failed for %s: %w", symbol, err)
	}
	if resp.RetCode != 0 {
		return 0, fmt.Errorf("bybit ticker request for %s rejected: %s", symbol, resp.RetMsg)
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal bybit ticker result: %w", err)
	}

	var tickers bybitTickerList
	if err := json.Unmarshal(payload, &tickers); err != nil {
		return 0, fmt.Errorf("failed to decode bybit ticker result: %w", err)
	}
	if len(tickers.List) == 0 {
		return 0, fmt.Errorf("bybit returned no tickers for %s", symbol)
	}

	rate, err := strconv.ParseFloat(tickers.List[0].FundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit funding rate for %s is not numeric: %w", symbol, err)
	}
	return rate, nil
}
