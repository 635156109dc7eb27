package aggregator

import (
	"strings"
	"sync"
	"time"

	"sentimentflow/internal/models"
	"sentimentflow/logger"
)

// SignificantValue is the minimum notional (quantity x price) a liquidation
// must reach before it is stored.
const SignificantValue = 100_000

// HistoryLimit bounds the per-instrument history; the oldest event is evicted
// when a newer one would exceed it.
const HistoryLimit = 20

// RawLiquidation is a liquidation event after transport-level decoding but
// before classification: the side is still the exchange's buy/sell tag.
type RawLiquidation struct {
	Exchange string
	Symbol   string
	SideTag  string
	Quantity float64
	Price    float64
	Time     time.Time
}

// Aggregator owns the bounded per-instrument liquidation histories shared by
// the stream consumer (append) and the poll loop (snapshot).
type Aggregator struct {
	mu        sync.RWMutex
	histories map[string][]models.LiquidationEvent
	symbols   map[string]string // exchange contract symbol -> instrument id
	log       *logger.Log
}

// New builds an aggregator. symbolMap routes exchange contract symbols
// (e.g. BTCUSDT) to instrument ids (e.g. bitcoin); events for unmapped
// symbols are ignored.
func New(symbolMap map[string]string) *Aggregator {
	symbols := make(map[string]string, len(symbolMap))
	for sym, instrument := range symbolMap {
		symbols[strings.ToUpper(sym)] = instrument
	}
	return &Aggregator{
		histories: make(map[string][]models.LiquidationEvent),
		symbols:   symbols,
		log:       logger.GetLogger(),
	}
}

// Classify maps the exchange side tag onto a liquidation side, computes the
// notional value, and filters out insignificant events and unmapped symbols.
// A false return means the event was processed but is not worth storing.
func (a *Aggregator) Classify(raw RawLiquidation) (models.LiquidationEvent, bool) {
	var side models.Side
	switch strings.ToUpper(strings.TrimSpace(raw.SideTag)) {
	case "SELL":
		side = models.SideLongLiquidated
	case "BUY":
		side = models.SideShortLiquidated
	default:
		a.log.WithComponent("liq_aggregator").WithFields(logger.Fields{
			"exchange": raw.Exchange,
			"symbol":   raw.Symbol,
			"side":     raw.SideTag,
		}).Debug("unrecognized liquidation side tag, skipping")
		return models.LiquidationEvent{}, false
	}

	symbol := strings.ToUpper(raw.Symbol)
	if _, ok := a.symbols[symbol]; !ok {
		return models.LiquidationEvent{}, false
	}

	value := raw.Quantity * raw.Price
	if value <= SignificantValue {
		return models.LiquidationEvent{}, false
	}

	return models.LiquidationEvent{
		Symbol:   symbol,
		Side:     side,
		Quantity: raw.Quantity,
		Price:    raw.Price,
		Value:    value,
		Time:     raw.Time,
		Exchange: raw.Exchange,
	}, true
}

// Record appends the event to its instrument history, evicting the oldest
// entry once the history exceeds HistoryLimit.
func (a *Aggregator) Record(event models.LiquidationEvent) {
	instrument, ok := a.symbols[strings.ToUpper(event.Symbol)]
	if !ok {
		return
	}

	a.mu.Lock()
	history := append(a.histories[instrument], event)
	if len(history) > HistoryLimit {
		history = append([]models.LiquidationEvent(nil), history[len(history)-HistoryLimit:]...)
	}
	a.histories[instrument] = history
	a.mu.Unlock()

	a.log.WithComponent("liq_aggregator").WithFields(logger.Fields{
		"exchange": event.Exchange,
		"symbol":   event.Symbol,
		"side":     string(event.Side),
		"value":    event.Value,
	}).Info("large liquidation recorded")
}

// Snapshot returns a point-in-time copy of one instrument's history. Later
// appends do not affect the returned slice.
func (a *Aggregator) Snapshot(instrument string) []models.LiquidationEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	history := a.histories[instrument]
	out := make([]models.LiquidationEvent, len(history))
	copy(out, history)
	return out
}

// Snapshots returns point-in-time copies of every instrument history, keyed
// by instrument id. Instruments with no events map to empty slices.
func (a *Aggregator) Snapshots() map[string][]models.LiquidationEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string][]models.LiquidationEvent, len(a.symbols))
	for _, instrument := range a.symbols {
		history := a.histories[instrument]
		copied := make([]models.LiquidationEvent, len(history))
		copy(copied, history)
		out[instrument] = copied
	}
	return out
}
