package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tacoreio/tacore/pkg/worker"
)

// Reference trading handlers. Prices are simulated deterministically from
// the symbol so repeated calls are reproducible in test environments; a
// production deployment swaps these for exchange-backed implementations.

func registerHandlers(rt *worker.Runtime) {
	rt.Register("health.check", healthCheck)
	rt.Register("scan.market", scanMarket)
	rt.Register("execute.order", executeOrder)
	rt.Register("evaluate.risk", evaluateRisk)
	rt.Register("analyze.symbol", analyzeSymbol)
	rt.Register("get.market_data", getMarketData)
}

// basePrice derives a stable pseudo price in [10, 510) from the symbol.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToUpper(symbol)))
	return 10 + float64(h.Sum32()%50000)/100
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %s must be a non-empty string", key)
	}
	return s, nil
}

func floatParam(params map[string]interface{}, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing required parameter: %s", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %s must be numeric", key)
	}
}

func healthCheck(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"status":  "healthy",
		"version": version,
	}, nil
}

func scanMarket(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	universe := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	if raw, ok := params["symbols"].([]interface{}); ok && len(raw) > 0 {
		universe = universe[:0]
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				universe = append(universe, s)
			}
		}
	}

	candidates := make([]map[string]interface{}, 0, len(universe))
	for _, sym := range universe {
		price := basePrice(sym)
		candidates = append(candidates, map[string]interface{}{
			"symbol": sym,
			"price":  price,
			"score":  float64(int(price)%100) / 100,
		})
	}
	return map[string]interface{}{
		"candidates": candidates,
		"scanned_at": time.Now().Unix(),
	}, nil
}

func executeOrder(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	symbol, err := stringParam(params, "symbol")
	if err != nil {
		return nil, err
	}
	side, err := stringParam(params, "side")
	if err != nil {
		return nil, err
	}
	side = strings.ToLower(side)
	if side != "buy" && side != "sell" {
		return nil, fmt.Errorf("parameter side must be buy or sell, got %q", side)
	}
	quantity, err := floatParam(params, "quantity")
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("parameter quantity must be positive, got %v", quantity)
	}

	price := basePrice(symbol)
	return map[string]interface{}{
		"order_id": uuid.New().String(),
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"price":    price,
		"status":   "filled",
	}, nil
}

func evaluateRisk(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	symbol, err := stringParam(params, "symbol")
	if err != nil {
		return nil, err
	}
	quantity, err := floatParam(params, "quantity")
	if err != nil {
		return nil, err
	}

	exposure := basePrice(symbol) * quantity
	score := exposure / 100000
	if score > 1 {
		score = 1
	}
	return map[string]interface{}{
		"symbol":     symbol,
		"exposure":   exposure,
		"risk_score": score,
		"approved":   score < 0.8,
	}, nil
}

func analyzeSymbol(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	symbol, err := stringParam(params, "symbol")
	if err != nil {
		return nil, err
	}

	price := basePrice(symbol)
	trend := "neutral"
	switch int(price) % 3 {
	case 0:
		trend = "bullish"
	case 1:
		trend = "bearish"
	}
	return map[string]interface{}{
		"symbol":     symbol,
		"trend":      trend,
		"support":    price * 0.95,
		"resistance": price * 1.05,
	}, nil
}

func getMarketData(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	symbol, err := stringParam(params, "symbol")
	if err != nil {
		return nil, err
	}

	price := basePrice(symbol)
	return map[string]interface{}{
		"symbol": symbol,
		"open":   price * 0.99,
		"high":   price * 1.02,
		"low":    price * 0.97,
		"close":  price,
		"bid":    price * 0.999,
		"ask":    price * 1.001,
		"ts":     time.Now().Unix(),
	}, nil
}
