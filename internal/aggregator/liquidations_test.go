package aggregator

import (
	"fmt"
	"testing"
	"time"

	"sentimentflow/internal/models"
)

func testSymbolMap() map[string]string {
	return map[string]string{
		"BTCUSDT": models.InstrumentBitcoin,
		"ETHUSDT": models.InstrumentEthereum,
	}
}

func TestClassifySides(t *testing.T) {
	agg := New(testSymbolMap())

	event, ok := agg.Classify(RawLiquidation{
		Exchange: "binance", Symbol: "BTCUSDT", SideTag: "SELL",
		Quantity: 10, Price: 50_000, Time: time.Now(),
	})
	if !ok {
		t.Fatal("expected significant sell event to classify")
	}
	if event.Side != models.SideLongLiquidated {
		t.Errorf("expected SELL to map to long liquidation, got %s", event.Side)
	}
	if event.Value != 500_000 {
		t.Errorf("expected value 500000, got %v", event.Value)
	}

	event, ok = agg.Classify(RawLiquidation{
		Exchange: "bybit", Symbol: "ethusdt", SideTag: "Buy",
		Quantity: 100, Price: 3_000, Time: time.Now(),
	})
	if !ok {
		t.Fatal("expected significant buy event to classify")
	}
	if event.Side != models.SideShortLiquidated {
		t.Errorf("expected BUY to map to short liquidation, got %s", event.Side)
	}
	if event.Symbol != "ETHUSDT" {
		t.Errorf("expected symbol upper-cased, got %s", event.Symbol)
	}
}

func TestClassifyRejectsInsignificant(t *testing.T) {
	agg := New(testSymbolMap())

	// exactly at the threshold is still insignificant
	if _, ok := agg.Classify(RawLiquidation{Symbol: "BTCUSDT", SideTag: "SELL", Quantity: 2, Price: 50_000}); ok {
		t.Error("expected event at threshold to be discarded")
	}
	if _, ok := agg.Classify(RawLiquidation{Symbol: "BTCUSDT", SideTag: "SELL", Quantity: 1, Price: 99_999}); ok {
		t.Error("expected small event to be discarded")
	}
	if _, ok := agg.Classify(RawLiquidation{Symbol: "BTCUSDT", SideTag: "SELL", Quantity: 1, Price: 100_001}); !ok {
		t.Error("expected event just above threshold to classify")
	}
}

func TestClassifyIgnoresUnknownSymbol(t *testing.T) {
	agg := New(testSymbolMap())
	if _, ok := agg.Classify(RawLiquidation{Symbol: "DOGEUSDT", SideTag: "SELL", Quantity: 10, Price: 100_000}); ok {
		t.Error("expected unmapped symbol to be ignored")
	}
}

func TestClassifyIgnoresUnknownSide(t *testing.T) {
	agg := New(testSymbolMap())
	if _, ok := agg.Classify(RawLiquidation{Symbol: "BTCUSDT", SideTag: "HOLD", Quantity: 10, Price: 100_000}); ok {
		t.Error("expected unknown side tag to be ignored")
	}
}

func TestRecordEvictsOldestFIFO(t *testing.T) {
	agg := New(testSymbolMap())

	for i := 0; i < HistoryLimit+3; i++ {
		agg.Record(models.LiquidationEvent{
			Symbol:   "BTCUSDT",
			Side:     models.SideLongLiquidated,
			Quantity: float64(i + 1),
			Price:    200_000,
			Value:    float64(i+1) * 200_000,
			Exchange: fmt.Sprintf("exchange-%d", i),
		})
	}

	history := agg.Snapshot(models.InstrumentBitcoin)
	if len(history) != HistoryLimit {
		t.Fatalf("expected history capped at %d, got %d", HistoryLimit, len(history))
	}
	// the three oldest entries must have been evicted, order preserved
	if history[0].Exchange != "exchange-3" {
		t.Errorf("expected oldest surviving entry exchange-3, got %s", history[0].Exchange)
	}
	if history[len(history)-1].Exchange != fmt.Sprintf("exchange-%d", HistoryLimit+2) {
		t.Errorf("unexpected newest entry %s", history[len(history)-1].Exchange)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	agg := New(testSymbolMap())
	agg.Record(models.LiquidationEvent{Symbol: "BTCUSDT", Side: models.SideShortLiquidated, Value: 150_000})

	snapshot := agg.Snapshot(models.InstrumentBitcoin)
	agg.Record(models.LiquidationEvent{Symbol: "BTCUSDT", Side: models.SideLongLiquidated, Value: 250_000})

	if len(snapshot) != 1 {
		t.Fatalf("expected snapshot unaffected by later append, got %d entries", len(snapshot))
	}
}

func TestSnapshotsIncludeEmptyInstruments(t *testing.T) {
	agg := New(testSymbolMap())
	agg.Record(models.LiquidationEvent{Symbol: "BTCUSDT", Side: models.SideLongLiquidated, Value: 150_000})

	all := agg.Snapshots()
	if len(all[models.InstrumentBitcoin]) != 1 {
		t.Errorf("expected one bitcoin event, got %d", len(all[models.InstrumentBitcoin]))
	}
	if events, ok := all[models.InstrumentEthereum]; !ok || len(events) != 0 {
		t.Errorf("expected empty ethereum history present, got %v", all)
	}
}
