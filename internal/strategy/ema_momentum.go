package strategy

import (
	"github.com/goccy/go-json"
	"github.com/markcheno/go-talib"

	"quantflow/internal/model"
)

// ========== EMA 动量策略 ==========
// 快慢EMA判定方向，ATR定止损止盈距离。
// 已有同向持仓时不再发信号，去重交给引擎的幂等id兜底

type EMAMomentum struct {
	FastPeriod int
	SlowPeriod int
	ATRPeriod  int
	// 止损距离 = ATRMult * ATR
	ATRMult float64
}

func NewEMAMomentum() *EMAMomentum {
	return &EMAMomentum{
		FastPeriod: 9,
		SlowPeriod: 21,
		ATRPeriod:  14,
		ATRMult:    2.0,
	}
}

func (e *EMAMomentum) Name() string { return "ema_momentum" }

func (e *EMAMomentum) Evaluate(c Context) []model.Signal {
	if len(c.Bars) < e.SlowPeriod+e.ATRPeriod {
		return nil
	}

	closes := make([]float64, len(c.Bars))
	highs := make([]float64, len(c.Bars))
	lows := make([]float64, len(c.Bars))
	for i, b := range c.Bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	fastEMA := talib.Ema(closes, e.FastPeriod)
	slowEMA := talib.Ema(closes, e.SlowPeriod)
	atrArr := talib.Atr(highs, lows, closes, e.ATRPeriod)

	fast := fastEMA[len(fastEMA)-1]
	slow := slowEMA[len(slowEMA)-1]
	atr := atrArr[len(atrArr)-1]
	price := closes[len(closes)-1]
	if atr <= 0 {
		return nil
	}

	var side model.PosSide
	switch {
	case fast > slow && price > slow:
		side = model.Long
	case fast < slow && price < slow:
		side = model.Short
	default:
		return nil
	}

	// 同向已有持仓就不重复开仓
	for _, p := range c.OpenPositions {
		if p.Symbol == c.Instrument.Symbol && p.Side == side {
			return nil
		}
	}

	dist := e.ATRMult * atr
	sig := model.Signal{
		Strategy:  e.Name(),
		Symbol:    c.Instrument.Symbol,
		Side:      side,
		Price:     price,
		OrderType: model.Market,
		Timestamp: c.Timestamp,
	}
	if side == model.Long {
		sig.Stop = price - dist
		sig.TP1 = price + dist
		sig.TP2 = price + 2*dist
	} else {
		sig.Stop = price + dist
		sig.TP1 = price - dist
		sig.TP2 = price - 2*dist
	}

	meta, _ := json.Marshal(map[string]float64{
		"fast": fast, "slow": slow, "atr": atr,
	})
	sig.Meta = meta

	return []model.Signal{sig}
}
