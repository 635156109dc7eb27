package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sentimentflow/internal/models"
	"sentimentflow/logger"
)

// Coingecko fetches spot prices, 24h change, volume and market cap for
// bitcoin and ethereum from the CoinGecko simple-price endpoint.
type Coingecko struct {
	baseURL string
	client  *http.Client
	log     *logger.Log
}

func NewCoingecko(baseURL string, timeout time.Duration) *Coingecko {
	return &Coingecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logger.GetLogger(),
	}
}

type coingeckoQuote struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
	USD24hVol    float64 `json:"usd_24h_vol"`
	USDMarketCap float64 `json:"usd_market_cap"`
}

// FetchPrices returns one PriceData per instrument. A missing instrument in
// the response is an error: the snapshot model needs both markets.
func (c *Coingecko) FetchPrices(ctx context.Context) (map[string]models.PriceData, error) {
	query := url.Values{}
	query.Set("ids", models.InstrumentBitcoin+","+models.InstrumentEthereum)
	query.Set("vs_currencies", "usd")
	query.Set("include_24hr_change", "true")
	query.Set("include_24hr_vol", "true")
	query.Set("include_market_cap", "true")

	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build coingecko request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read coingecko response: %w", err)
	}

	var quotes map[string]coingeckoQuote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("failed to decode coingecko response: %w", err)
	}

	now := time.Now().UTC()
	prices := make(map[string]models.PriceData, 2)
	for _, instrument := range []string{models.InstrumentBitcoin, models.InstrumentEthereum} {
		quote, ok := quotes[instrument]
		if !ok {
			return nil, fmt.Errorf("coingecko response missing %s", instrument)
		}
		prices[instrument] = models.PriceData{
			Price:     quote.USD,
			Change24h: quote.USD24hChange,
			Volume:    quote.USD24hVol,
			MarketCap: quote.USDMarketCap,
			Timestamp: now,
		}
	}

	c.log.WithComponent("coingecko_provider").WithFields(logger.Fields{
		"bitcoin":  prices[models.InstrumentBitcoin].Price,
		"ethereum": prices[models.InstrumentEthereum].Price,
	}).Debug("price data fetched")

	return prices, nil
}
