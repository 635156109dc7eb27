package models

import "time"

// Instrument identifiers used as map keys throughout the pipeline.
const (
	InstrumentBitcoin  = "bitcoin"
	InstrumentEthereum = "ethereum"
)

// Side describes which kind of leveraged position was force-closed.
// Exchanges tag a long liquidation as a sell and a short liquidation as
// a buy.
type Side string

const (
	SideLongLiquidated  Side = "LONG_LIQUIDATED"
	SideShortLiquidated Side = "SHORT_LIQUIDATED"
)

// PriceData is an immutable spot-market snapshot for one instrument,
// created once per poll.
type PriceData struct {
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"`
	Volume    float64   `json:"volume"`
	MarketCap float64   `json:"market_cap"`
	Timestamp time.Time `json:"timestamp"`
}

// FundingData carries the most recent funding rate per exchange. A nil rate
// means the source failed for this poll. Average is defined iff at least one
// per-source rate is present.
type FundingData struct {
	Binance *float64 `json:"binance"`
	Bybit   *float64 `json:"bybit"`
	Okx     *float64 `json:"okx"`
	Average *float64 `json:"average"`
}

// RecomputeAverage derives Average as the arithmetic mean of the present
// per-source rates, or clears it when none are present.
func (f *FundingData) RecomputeAverage() {
	var sum float64
	var n int
	for _, rate := range []*float64{f.Binance, f.Bybit, f.Okx} {
		if rate != nil {
			sum += *rate
			n++
		}
	}
	if n == 0 {
		f.Average = nil
		return
	}
	avg := sum / float64(n)
	f.Average = &avg
}

// LiquidationEvent is a significant forced-position closure. Immutable once
// constructed.
type LiquidationEvent struct {
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Value    float64   `json:"value"`
	Time     time.Time `json:"time"`
	Exchange string    `json:"exchange"`
}

// ReferenceAnchor holds the daily anchor prices captured at the fixed
// wall-clock instant. Prices are nil until the first capture; Timestamp is
// set iff both prices are set (they are always written together).
type ReferenceAnchor struct {
	Bitcoin   *float64   `json:"bitcoin"`
	Ethereum  *float64   `json:"ethereum"`
	Timestamp *time.Time `json:"timestamp"`
}

// MarketSnapshot is the fully assembled per-poll aggregate handed to the
// persistence sink. Immutable once built.
type MarketSnapshot struct {
	Bitcoin        PriceData                     `json:"bitcoin"`
	Ethereum       PriceData                     `json:"ethereum"`
	FundingRates   map[string]FundingData        `json:"funding_rates"`
	Liquidations   map[string][]LiquidationEvent `json:"liquidations"`
	SentimentScore int                           `json:"sentiment_score"`
	Reference      ReferenceAnchor               `json:"reference_prices"`
	Timestamp      time.Time                     `json:"timestamp"`
}

// RawLiquidationMessage is a raw liquidation payload captured from an
// exchange stream. It keeps the raw JSON together with routing metadata so
// the collector can classify it without caring about the transport.
type RawLiquidationMessage struct {
	Exchange  string
	Symbol    string
	Market    string
	Data      []byte
	Timestamp time.Time
}
