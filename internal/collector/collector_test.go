package collector

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	appconfig "sentimentflow/config"
	"sentimentflow/internal/aggregator"
	"sentimentflow/internal/channel/liq"
	"sentimentflow/internal/models"
	"sentimentflow/internal/reference"
	"sentimentflow/internal/store"
)

type fakePrices struct {
	prices map[string]models.PriceData
	err    error
}

func (f *fakePrices) FetchPrices(ctx context.Context) (map[string]models.PriceData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

type fakeFunding struct {
	exchange string
	rate     float64
	err      error
}

func (f *fakeFunding) Exchange() string { return f.exchange }

func (f *fakeFunding) FundingRate(ctx context.Context, symbol string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.rate, nil
}

type fakeArchive struct {
	events []models.LiquidationEvent
}

func (f *fakeArchive) Enqueue(event models.LiquidationEvent) {
	f.events = append(f.events, event)
}

func testPrices() *fakePrices {
	return &fakePrices{prices: map[string]models.PriceData{
		models.InstrumentBitcoin:  {Price: 50000, Change24h: 1.2, Volume: 3e10, MarketCap: 1e12, Timestamp: time.Now().UTC()},
		models.InstrumentEthereum: {Price: 2500, Change24h: -0.5, Volume: 1e10, MarketCap: 3e11, Timestamp: time.Now().UTC()},
	}}
}

func newTestCollector(t *testing.T, price *fakePrices, funding []FundingSource, archive Archiver) *Collector {
	t.Helper()

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	cfg := &appconfig.Config{}
	cfg.Collector.PollInterval = 30 * time.Second
	cfg.Collector.RequestTimeout = 5 * time.Second

	agg := aggregator.New(map[string]string{
		"BTCUSDT": models.InstrumentBitcoin,
		"ETHUSDT": models.InstrumentEthereum,
	})
	tracker := reference.NewTracker(st)

	c := New(cfg, liq.NewChannels(8), agg, tracker, st, price, funding, archive)
	c.ctx = context.Background()
	// pin the clock well away from the daily capture minute
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local) }
	return c
}

func symbols(btc, eth string) appconfig.InstrumentSymbols {
	return appconfig.InstrumentSymbols{Bitcoin: btc, Ethereum: eth}
}

func TestPollOnceAssemblesSnapshot(t *testing.T) {
	funding := []FundingSource{
		{Provider: &fakeFunding{exchange: "binance", rate: 0.0001}, Symbols: symbols("BTCUSDT", "ETHUSDT")},
		{Provider: &fakeFunding{exchange: "bybit", err: errors.New("rate limited")}, Symbols: symbols("BTCUSDT", "ETHUSDT")},
		{Provider: &fakeFunding{exchange: "okx", rate: 0.0003}, Symbols: symbols("BTC-USDT-SWAP", "ETH-USDT-SWAP")},
	}
	c := newTestCollector(t, testPrices(), funding, nil)

	if err := c.pollOnce(); err != nil {
		t.Fatalf("pollOnce returned error: %v", err)
	}

	var snapshot models.MarketSnapshot
	if err := c.store.Load(SnapshotBlobName, &snapshot); err != nil {
		t.Fatalf("failed to load persisted snapshot: %v", err)
	}

	if snapshot.Bitcoin.Price != 50000 || snapshot.Ethereum.Price != 2500 {
		t.Errorf("unexpected prices: btc=%v eth=%v", snapshot.Bitcoin.Price, snapshot.Ethereum.Price)
	}

	btcFunding := snapshot.FundingRates[models.InstrumentBitcoin]
	if btcFunding.Binance == nil || *btcFunding.Binance != 0.0001 {
		t.Errorf("expected binance rate 0.0001, got %v", btcFunding.Binance)
	}
	if btcFunding.Bybit != nil {
		t.Errorf("expected bybit rate absent after source failure, got %v", *btcFunding.Bybit)
	}
	if btcFunding.Okx == nil || *btcFunding.Okx != 0.0003 {
		t.Errorf("expected okx rate 0.0003, got %v", btcFunding.Okx)
	}
	if btcFunding.Average == nil || math.Abs(*btcFunding.Average-0.0002) > 1e-12 {
		t.Errorf("expected average 0.0002, got %v", btcFunding.Average)
	}

	// low funding +25, momentum cancels out, no liquidations, no anchor
	if snapshot.SentimentScore != 25 {
		t.Errorf("expected sentiment score 25, got %d", snapshot.SentimentScore)
	}

	if snapshot.Reference.Bitcoin != nil || snapshot.Reference.Timestamp != nil {
		t.Errorf("expected empty reference anchor, got %+v", snapshot.Reference)
	}
	if len(snapshot.Liquidations) != 2 {
		t.Errorf("expected both instruments in liquidations map, got %v", snapshot.Liquidations)
	}
}

func TestPollOnceSkipsTickOnPriceFailure(t *testing.T) {
	c := newTestCollector(t, &fakePrices{err: errors.New("upstream 502")}, nil, nil)

	if err := c.pollOnce(); err == nil {
		t.Fatal("expected pollOnce to fail when prices are unavailable")
	}

	var snapshot models.MarketSnapshot
	if err := c.store.Load(SnapshotBlobName, &snapshot); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no snapshot persisted, got err=%v", err)
	}
}

func TestPollOnceCapturesAnchor(t *testing.T) {
	c := newTestCollector(t, testPrices(), nil, nil)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 6, 43, 20, 0, time.Local) }

	if err := c.pollOnce(); err != nil {
		t.Fatalf("pollOnce returned error: %v", err)
	}

	anchor := c.tracker.Anchor()
	if anchor.Bitcoin == nil || *anchor.Bitcoin != 50000 {
		t.Fatalf("expected anchor captured at 50000, got %+v", anchor)
	}
	if anchor.Ethereum == nil || *anchor.Ethereum != 2500 {
		t.Fatalf("expected eth anchor captured at 2500, got %+v", anchor)
	}

	var snapshot models.MarketSnapshot
	if err := c.store.Load(SnapshotBlobName, &snapshot); err != nil {
		t.Fatalf("failed to load persisted snapshot: %v", err)
	}
	if snapshot.Reference.Bitcoin == nil {
		t.Error("expected snapshot to carry the captured anchor")
	}
	// zero deviation from a fresh anchor scores as non-positive bias:
	// funding absent +25, momentum 0, reference -20
	if snapshot.SentimentScore != 5 {
		t.Errorf("expected sentiment score 5, got %d", snapshot.SentimentScore)
	}
}

func TestHandleRawRecordsAndArchives(t *testing.T) {
	archive := &fakeArchive{}
	c := newTestCollector(t, testPrices(), nil, archive)
	log := c.log.WithComponent("test")

	big := []byte(`{"o":{"s":"BTCUSDT","S":"SELL","q":"5","p":"43000","T":1700000000123}}`)
	c.handleRaw(models.RawLiquidationMessage{Exchange: "binance", Data: big, Timestamp: time.Now().UTC()}, log)

	small := []byte(`{"o":{"s":"BTCUSDT","S":"BUY","q":"0.001","p":"43000","T":1700000000456}}`)
	c.handleRaw(models.RawLiquidationMessage{Exchange: "binance", Data: small, Timestamp: time.Now().UTC()}, log)

	c.handleRaw(models.RawLiquidationMessage{Exchange: "binance", Data: []byte(`garbage`)}, log)

	history := c.agg.Snapshot(models.InstrumentBitcoin)
	if len(history) != 1 {
		t.Fatalf("expected exactly the significant event recorded, got %d", len(history))
	}
	if history[0].Side != models.SideLongLiquidated || history[0].Value != 215000 {
		t.Errorf("unexpected recorded event: %+v", history[0])
	}

	if len(archive.events) != 1 || archive.events[0].Value != 215000 {
		t.Errorf("expected the significant event archived, got %+v", archive.events)
	}
}

func TestStartAndStop(t *testing.T) {
	c := newTestCollector(t, testPrices(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Error("expected second Start to fail while running")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
