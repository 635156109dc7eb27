package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentimentflow/internal/models"
)

func TestCoingeckoFetchPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin,ethereum" {
			t.Errorf("unexpected ids query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"bitcoin": {"usd": 60000, "usd_24h_change": 2.5, "usd_24h_vol": 1e9, "usd_market_cap": 1.2e12},
			"ethereum": {"usd": 3000, "usd_24h_change": -1.2, "usd_24h_vol": 5e8, "usd_market_cap": 3.6e11}
		}`))
	}))
	defer server.Close()

	provider := NewCoingecko(server.URL, time.Second)
	prices, err := provider.FetchPrices(context.Background())
	if err != nil {
		t.Fatalf("FetchPrices failed: %v", err)
	}

	btc := prices[models.InstrumentBitcoin]
	if btc.Price != 60000 || btc.Change24h != 2.5 {
		t.Errorf("unexpected bitcoin data: %+v", btc)
	}
	eth := prices[models.InstrumentEthereum]
	if eth.MarketCap != 3.6e11 {
		t.Errorf("unexpected ethereum data: %+v", eth)
	}
	if btc.Timestamp.IsZero() || btc.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", btc.Timestamp)
	}
}

func TestCoingeckoMissingInstrument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin": {"usd": 60000}}`))
	}))
	defer server.Close()

	provider := NewCoingecko(server.URL, time.Second)
	if _, err := provider.FetchPrices(context.Background()); err == nil {
		t.Fatal("expected error for missing ethereum quote")
	}
}

func TestCoingeckoServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewCoingecko(server.URL, time.Second)
	if _, err := provider.FetchPrices(context.Background()); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestOkxFundingRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/public/funding-rate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("instId"); got != "BTC-USDT-SWAP" {
			t.Errorf("unexpected instId %q", got)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","fundingRate":"0.000125"}]}`))
	}))
	defer server.Close()

	provider := NewOkxFunding(server.URL, time.Second)
	rate, err := provider.FundingRate(context.Background(), "BTC-USDT-SWAP")
	if err != nil {
		t.Fatalf("FundingRate failed: %v", err)
	}
	if rate != 0.000125 {
		t.Errorf("unexpected rate %v", rate)
	}
}

func TestOkxFundingRateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	}))
	defer server.Close()

	provider := NewOkxFunding(server.URL, time.Second)
	if _, err := provider.FundingRate(context.Background(), "NOPE-USDT-SWAP"); err == nil {
		t.Fatal("expected error for rejected request")
	}
}

func TestBinanceFundingRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"symbol":"BTCUSDT","fundingRate":"0.0001","fundingTime":1709280000000}]`))
	}))
	defer server.Close()

	provider := NewBinanceFunding(time.Second)
	provider.SetBaseURL(server.URL)

	rate, err := provider.FundingRate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FundingRate failed: %v", err)
	}
	if rate != 0.0001 {
		t.Errorf("unexpected rate %v", rate)
	}
	if provider.Exchange() != "binance" {
		t.Errorf("unexpected exchange tag %s", provider.Exchange())
	}
}

func TestBybitFundingRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[{"symbol":"BTCUSDT","fundingRate":"-0.00005"}]},"retExtInfo":{},"time":1709280000000}`))
	}))
	defer server.Close()

	provider := NewBybitFunding(server.URL, time.Second)
	rate, err := provider.FundingRate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FundingRate failed: %v", err)
	}
	if rate != -0.00005 {
		t.Errorf("unexpected rate %v", rate)
	}
	if provider.Exchange() != "bybit" {
		t.Errorf("unexpected exchange tag %s", provider.Exchange())
	}
}
