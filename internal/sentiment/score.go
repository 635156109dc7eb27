// Package sentiment derives a composite directional score from the collected
// market signals. Scoring is pure: all state is passed in by the caller.
package sentiment

import (
	"math"

	"sentimentflow/internal/models"
)

// Component weights. The four contributions sum to a nominal [-105, 105]
// range (the skew term can reach ±30 while the others are capped at ±25,
// ±25 and ±20). The final sum is intentionally not clamped.
const (
	skewSpread        = 60 // maps the [0,1] short ratio onto [-30, +30]
	fundingWeight     = 25
	fundingHighLevel  = 0.02
	fundingLowLevel   = 0.01
	fundingMidpoint   = 0.015
	fundingSlope      = 1250 // linear interpolation between the thresholds
	momentumPerMarket = 12.5
	referenceWeight   = 20
)

// Score combines liquidation skew, funding level, 24h momentum and the
// deviation from the daily reference anchor into one integer. Deviations are
// nil while no anchor has been captured.
func Score(
	bitcoin, ethereum models.PriceData,
	btcFunding, ethFunding models.FundingData,
	btcHistory []models.LiquidationEvent,
	btcDeviation, ethDeviation *float64,
) int {
	sum := LiquidationSkew(btcHistory) +
		FundingLevel(btcFunding, ethFunding) +
		Momentum(bitcoin, ethereum) +
		ReferenceBias(btcDeviation, ethDeviation)
	return int(math.Round(sum))
}

// LiquidationSkew rewards a history dominated by short liquidations (forced
// buying) and penalizes one dominated by long liquidations. An empty history
// contributes nothing.
func LiquidationSkew(history []models.LiquidationEvent) float64 {
	var longs, shorts int
	for _, event := range history {
		switch event.Side {
		case models.SideLongLiquidated:
			longs++
		case models.SideShortLiquidated:
			shorts++
		}
	}
	total := longs + shorts
	if total == 0 {
		return 0
	}
	shortRatio := float64(shorts) / float64(total)
	return (shortRatio - 0.5) * skewSpread
}

// FundingLevel scores the blended average funding rate: high funding (crowded
// longs) is bearish, low funding is bullish, with a linear ramp in between.
// An absent average counts as zero, matching the original feed behaviour.
func FundingLevel(btc, eth models.FundingData) float64 {
	avg := (orZero(btc.Average) + orZero(eth.Average)) / 2
	switch {
	case avg > fundingHighLevel:
		return -fundingWeight
	case avg < fundingLowLevel:
		return fundingWeight
	default:
		return (fundingMidpoint - avg) * fundingSlope
	}
}

// Momentum contributes per instrument by the sign of its 24h change; a flat
// market counts as negative.
func Momentum(bitcoin, ethereum models.PriceData) float64 {
	sum := 0.0
	for _, price := range []models.PriceData{bitcoin, ethereum} {
		if price.Change24h > 0 {
			sum += momentumPerMarket
		} else {
			sum -= momentumPerMarket
		}
	}
	return sum
}

// ReferenceBias contributes only once both instruments have a defined
// deviation from the daily anchor: positive mean deviation is bullish.
func ReferenceBias(btcDeviation, ethDeviation *float64) float64 {
	if btcDeviation == nil || ethDeviation == nil {
		return 0
	}
	if (*btcDeviation+*ethDeviation)/2 > 0 {
		return referenceWeight
	}
	return -referenceWeight
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
