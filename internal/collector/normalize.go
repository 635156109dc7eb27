package collector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"sentimentflow/internal/aggregator"
	"sentimentflow/internal/models"
)

// normalizeRaw decodes an exchange-specific liquidation payload into neutral
// raw events. One message may carry several events (bybit batches them).
func normalizeRaw(msg models.RawLiquidationMessage) ([]aggregator.RawLiquidation, error) {
	switch msg.Exchange {
	case "binance":
		return normalizeBinance(msg)
	case "bybit":
		return normalizeBybit(msg)
	default:
		return nil, fmt.Errorf("unknown liquidation exchange %q", msg.Exchange)
	}
}

// binanceForceOrder mirrors the futures websocket forceOrder event.
type binanceForceOrder struct {
	EventTime int64 `json:"E"`
	Order     struct {
		Symbol   string `json:"s"`
		Side     string `json:"S"`
		Quantity string `json:"q"`
		Price    string `json:"p"`
		Time     int64  `json:"T"`
	} `json:"o"`
}

func normalizeBinance(msg models.RawLiquidationMessage) ([]aggregator.RawLiquidation, error) {
	var event binanceForceOrder
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode binance liquidation payload: %w", err)
	}
	if event.Order.Symbol == "" {
		return nil, fmt.Errorf("binance liquidation payload missing order")
	}

	quantity, err := strconv.ParseFloat(event.Order.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("binance liquidation quantity not numeric: %w", err)
	}
	price, err := strconv.ParseFloat(event.Order.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance liquidation price not numeric: %w", err)
	}

	ts := msg.Timestamp
	if event.Order.Time > 0 {
		ts = time.UnixMilli(event.Order.Time).UTC()
	}

	return []aggregator.RawLiquidation{{
		Exchange: "binance",
		Symbol:   event.Order.Symbol,
		SideTag:  event.Order.Side,
		Quantity: quantity,
		Price:    price,
		Time:     ts,
	}}, nil
}

// bybitLiquidationBatch mirrors the v5 allLiquidation topic payload.
type bybitLiquidationBatch struct {
	Topic string `json:"topic"`
	Data  []struct {
		Time     int64  `json:"T"`
		Symbol   string `json:"s"`
		Side     string `json:"S"`
		Quantity string `json:"v"`
		Price    string `json:"p"`
	} `json:"data"`
}

func normalizeBybit(msg models.RawLiquidationMessage) ([]aggregator.RawLiquidation, error) {
	var batch bybitLiquidationBatch
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode bybit liquidation payload: %w", err)
	}
	if len(batch.Data) == 0 {
		return nil, fmt.Errorf("bybit liquidation payload carried no events")
	}

	out := make([]aggregator.RawLiquidation, 0, len(batch.Data))
	for _, entry := range batch.Data {
		quantity, err := strconv.ParseFloat(entry.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit liquidation quantity not numeric: %w", err)
		}
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit liquidation price not numeric: %w", err)
		}

		ts := msg.Timestamp
		if entry.Time > 0 {
			ts = time.UnixMilli(entry.Time).UTC()
		}

		out = append(out, aggregator.RawLiquidation{
			Exchange: "bybit",
			Symbol:   entry.Symbol,
			SideTag:  entry.Side,
			Quantity: quantity,
			Price:    price,
			Time:     ts,
		})
	}
	return out, nil
}
