package models

import "testing"

func floatPtr(v float64) *float64 { return &v }

func TestRecomputeAverageNoRates(t *testing.T) {
	f := FundingData{}
	f.RecomputeAverage()
	if f.Average != nil {
		t.Fatalf("expected undefined average, got %v", *f.Average)
	}
}

func TestRecomputeAverageSingleRate(t *testing.T) {
	f := FundingData{Bybit: floatPtr(0.0003)}
	f.RecomputeAverage()
	if f.Average == nil {
		t.Fatal("expected average to be defined")
	}
	if *f.Average != 0.0003 {
		t.Fatalf("expected average 0.0003, got %v", *f.Average)
	}
}

func TestRecomputeAverageTwoRates(t *testing.T) {
	f := FundingData{Binance: floatPtr(0.01), Okx: floatPtr(0.03)}
	f.RecomputeAverage()
	if f.Average == nil {
		t.Fatal("expected average to be defined")
	}
	if *f.Average != 0.02 {
		t.Fatalf("expected average 0.02, got %v", *f.Average)
	}
}

func TestRecomputeAverageClearsStale(t *testing.T) {
	f := FundingData{Average: floatPtr(0.5)}
	f.RecomputeAverage()
	if f.Average != nil {
		t.Fatalf("expected stale average cleared, got %v", *f.Average)
	}
}
