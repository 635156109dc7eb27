package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "sentimentflow/config"
	"sentimentflow/internal/aggregator"
	"sentimentflow/internal/channel/liq"
	"sentimentflow/internal/models"
	"sentimentflow/internal/provider"
	"sentimentflow/internal/reference"
	"sentimentflow/internal/sentiment"
	"sentimentflow/internal/store"
	"sentimentflow/logger"
)

// SnapshotBlobName is the store key each assembled market snapshot is
// persisted under.
const SnapshotBlobName = "market_data"

// FundingSource pairs a funding provider with its per-instrument contract
// symbols.
type FundingSource struct {
	Provider provider.FundingProvider
	Symbols  appconfig.InstrumentSymbols
}

// Archiver receives every classified significant liquidation for long-term
// archival. Nil when archival is disabled.
type Archiver interface {
	Enqueue(event models.LiquidationEvent)
}

// Collector drives the two long-running loops: the periodic snapshot poll
// and the liquidation stream consumer. The aggregator and tracker are shared
// mutable collaborators owned by the caller.
type Collector struct {
	config   *appconfig.Config
	channels *liq.Channels
	agg      *aggregator.Aggregator
	tracker  *reference.Tracker
	store    *store.Store
	price    provider.PriceProvider
	funding  []FundingSource
	archive  Archiver

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	// now is swapped out in tests to pin the capture clock.
	now func() time.Time
}

func New(
	cfg *appconfig.Config,
	channels *liq.Channels,
	agg *aggregator.Aggregator,
	tracker *reference.Tracker,
	st *store.Store,
	price provider.PriceProvider,
	funding []FundingSource,
	archive Archiver,
) *Collector {
	return &Collector{
		config:   cfg,
		channels: channels,
		agg:      agg,
		tracker:  tracker,
		store:    st,
		price:    price,
		funding:  funding,
		archive:  archive,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		now:      time.Now,
	}
}

// Start launches the poll and consume loops.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("collector already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	c.log.WithComponent("collector").WithFields(logger.Fields{
		"poll_interval": c.config.Collector.PollInterval.String(),
	}).Info("starting collector")

	c.wg.Add(2)
	go c.pollLoop()
	go c.consumeLoop()
	return nil
}

// Stop waits for both loops to exit. Callers cancel the context first.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.log.WithComponent("collector").Info("stopping collector")
	c.wg.Wait()
	c.log.WithComponent("collector").Info("collector stopped")
}

// pollLoop runs one poll immediately, then one per tick. A tick never
// overlaps a running iteration; an overrun simply delays the next poll.
func (c *Collector) pollLoop() {
	defer c.wg.Done()

	log := c.log.WithComponent("collector").WithFields(logger.Fields{"worker": "poll_loop"})

	if err := c.pollOnce(); err != nil {
		log.WithError(err).Warn("initial poll failed, will retry on next tick")
	}

	ticker := time.NewTicker(c.config.Collector.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			log.Info("poll loop stopped")
			return
		case <-ticker.C:
			if err := c.pollOnce(); err != nil {
				log.WithError(err).Warn("poll failed, skipping tick")
			}
		}
	}
}

// pollOnce fetches all sources, assembles a snapshot and persists it. Only a
// total price failure aborts the tick; funding sources degrade to absent
// rates.
func (c *Collector) pollOnce() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.Collector.RequestTimeout)
	defer cancel()

	prices, err := c.price.FetchPrices(ctx)
	if err != nil {
		return fmt.Errorf("price fetch failed: %w", err)
	}
	btc, eth := prices[models.InstrumentBitcoin], prices[models.InstrumentEthereum]

	fundingRates := c.fetchFunding()

	c.tracker.MaybeCapture(btc.Price, eth.Price, c.now())

	snapshot := c.buildSnapshot(btc, eth, fundingRates)

	if err := c.store.Save(SnapshotBlobName, snapshot); err != nil {
		// the tick's data is lost but the loop keeps running
		c.log.WithComponent("collector").WithError(err).Error("failed to persist market snapshot")
	} else {
		logger.IncrementSnapshotPoll()
	}

	c.log.WithComponent("collector").WithFields(logger.Fields{
		"sentiment_score": snapshot.SentimentScore,
		"btc_price":       btc.Price,
		"eth_price":       eth.Price,
	}).Info("market snapshot collected")
	logger.PublishGauge(c.ctx, "SentimentScore", float64(snapshot.SentimentScore), nil)

	return nil
}

// fetchFunding queries every funding source independently; a failed source
// leaves its rate absent for this tick.
func (c *Collector) fetchFunding() map[string]models.FundingData {
	rates := map[string]models.FundingData{
		models.InstrumentBitcoin:  {},
		models.InstrumentEthereum: {},
	}

	for _, source := range c.funding {
		for _, instrument := range []string{models.InstrumentBitcoin, models.InstrumentEthereum} {
			symbol := source.Symbols.Bitcoin
			if instrument == models.InstrumentEthereum {
				symbol = source.Symbols.Ethereum
			}

			ctx, cancel := context.WithTimeout(c.ctx, c.config.Collector.RequestTimeout)
			rate, err := source.Provider.FundingRate(ctx, symbol)
			cancel()
			if err != nil {
				c.log.WithComponent("collector_funding").WithError(err).WithFields(logger.Fields{
					"exchange":   source.Provider.Exchange(),
					"instrument": instrument,
				}).Warn("funding source failed, leaving rate absent")
				continue
			}

			data := rates[instrument]
			value := rate
			switch source.Provider.Exchange() {
			case "binance":
				data.Binance = &value
			case "bybit":
				data.Bybit = &value
			case "okx":
				data.Okx = &value
			}
			rates[instrument] = data
		}
	}

	for instrument, data := range rates {
		data.RecomputeAverage()
		rates[instrument] = data
	}
	return rates
}

func (c *Collector) buildSnapshot(btc, eth models.PriceData, fundingRates map[string]models.FundingData) models.MarketSnapshot {
	var btcDeviation, ethDeviation *float64
	if dev, ok := c.tracker.PercentDeviation(btc.Price, models.InstrumentBitcoin); ok {
		btcDeviation = &dev
	}
	if dev, ok := c.tracker.PercentDeviation(eth.Price, models.InstrumentEthereum); ok {
		ethDeviation = &dev
	}

	liquidations := c.agg.Snapshots()
	score := sentiment.Score(
		btc, eth,
		fundingRates[models.InstrumentBitcoin], fundingRates[models.InstrumentEthereum],
		liquidations[models.InstrumentBitcoin],
		btcDeviation, ethDeviation,
	)

	return models.MarketSnapshot{
		Bitcoin:        btc,
		Ethereum:       eth,
		FundingRates:   fundingRates,
		Liquidations:   liquidations,
		SentimentScore: score,
		Reference:      c.tracker.Anchor(),
		Timestamp:      time.Now().UTC(),
	}
}

// consumeLoop drains the raw liquidation channel, classifying and recording
// each message. Malformed payloads are logged and skipped; nothing in here
// terminates the loop short of context cancellation.
func (c *Collector) consumeLoop() {
	defer c.wg.Done()

	log := c.log.WithComponent("collector_liq").WithFields(logger.Fields{"worker": "consume_loop"})

	for {
		select {
		case <-c.ctx.Done():
			log.Info("consume loop stopped")
			return
		case msg, ok := <-c.channels.Raw:
			if !ok {
				log.Info("raw channel closed, consume loop exiting")
				return
			}
			c.handleRaw(msg, log)
		}
	}
}

func (c *Collector) handleRaw(msg models.RawLiquidationMessage, log *logger.Entry) {
	raws, err := normalizeRaw(msg)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"exchange": msg.Exchange,
			"symbol":   msg.Symbol,
		}).Warn("skipping malformed liquidation message")
		return
	}

	for _, raw := range raws {
		event, ok := c.agg.Classify(raw)
		if !ok {
			continue
		}
		c.agg.Record(event)
		if c.archive != nil {
			c.archive.Enqueue(event)
		}
	}
}
