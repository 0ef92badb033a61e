// Package signal 纯计算的信号引擎: 给定K线序列计算涨跌幅与均线排列信号。
// 无共享状态, 任意并发调用安全。
package signal

import (
	"errors"
	"fmt"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/KNICEX/crypto-monitor/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientData = errors.New("signal: insufficient data")
	ErrInvalidPeriods   = errors.New("signal: invalid ma periods")
)

type Arrangement string

const (
	ArrangementNone    Arrangement = "none"
	ArrangementBullish Arrangement = "bullish"
	ArrangementBearish Arrangement = "bearish"
)

// 中轨偏离容差: 最新收盘价偏离中期均线超过1%时不评估排列信号
var mediumBandTolerance = decimal.NewFromFloat(0.01)

// 排列确认所需的最近K线数量
const confirmCandles = 10

func Closes(candles []exchange.Candle) []decimal.Decimal {
	return lo.Map(candles, func(c exchange.Candle, index int) decimal.Decimal {
		return c.Close
	})
}

// PercentChange 最近 period 根K线窗口内首尾收盘价的涨跌幅(百分比)。
// 数据不足或首收盘价非正时返回 ErrInsufficientData。
func PercentChange(candles []exchange.Candle, period int) (decimal.Decimal, error) {
	if period < 2 || len(candles) < period {
		return decimal.Zero, fmt.Errorf("%w: need %d candles, got %d", ErrInsufficientData, period, len(candles))
	}
	window := candles[len(candles)-period:]
	first := window[0].Close
	last := window[len(window)-1].Close
	if first.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: non-positive first close %s", ErrInsufficientData, first)
	}
	return last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)), nil
}

// MAArrangement 计算短/中/长三组简单均线的排列信号。
// 仅当最新收盘价在中期均线1%带内才评估; 多头要求短>中>长且最近10根
// 收盘价全部严格高于中期均线, 空头为镜像条件。
func MAArrangement(candles []exchange.Candle, shortP, mediumP, longP int) (Arrangement, error) {
	if !(shortP < mediumP && mediumP < longP) || shortP <= 0 {
		return ArrangementNone, fmt.Errorf("%w: %d/%d/%d", ErrInvalidPeriods, shortP, mediumP, longP)
	}
	required := longP + confirmCandles
	if len(candles) < required {
		return ArrangementNone, fmt.Errorf("%w: need %d candles, got %d", ErrInsufficientData, required, len(candles))
	}

	closes := Closes(candles)
	shortVal := lastSMA(closes, shortP)
	mediumVal := lastSMA(closes, mediumP)
	longVal := lastSMA(closes, longP)
	if mediumVal.LessThanOrEqual(decimal.Zero) {
		return ArrangementNone, fmt.Errorf("%w: non-positive medium sma %s", ErrInsufficientData, mediumVal)
	}

	current := closes[len(closes)-1]
	deviation := current.Sub(mediumVal).Abs().Div(mediumVal)
	if deviation.GreaterThan(mediumBandTolerance) {
		return ArrangementNone, nil
	}

	recent := closes[len(closes)-confirmCandles:]
	if shortVal.GreaterThan(mediumVal) && mediumVal.GreaterThan(longVal) && allAbove(recent, mediumVal) {
		return ArrangementBullish, nil
	}
	if shortVal.LessThan(mediumVal) && mediumVal.LessThan(longVal) && allBelow(recent, mediumVal) {
		return ArrangementBearish, nil
	}
	return ArrangementNone, nil
}

// Deviation 最新收盘价相对 period 均线的偏离百分比(绝对值)
func Deviation(candles []exchange.Candle, period int) (decimal.Decimal, error) {
	if period <= 0 || len(candles) < period {
		return decimal.Zero, fmt.Errorf("%w: need %d candles, got %d", ErrInsufficientData, period, len(candles))
	}
	closes := Closes(candles)
	ma := decimalx.Avg(closes[len(closes)-period:])
	if ma.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: non-positive sma %s", ErrInsufficientData, ma)
	}
	current := closes[len(closes)-1]
	return current.Sub(ma).Abs().Div(ma).Mul(decimal.NewFromInt(100)), nil
}

func lastSMA(closes []decimal.Decimal, period int) decimal.Decimal {
	sma := decimalx.SMA(closes, period)
	if len(sma) == 0 {
		return decimal.Zero
	}
	return sma[len(sma)-1]
}

func allAbove(values []decimal.Decimal, bound decimal.Decimal) bool {
	return lo.EveryBy(values, func(v decimal.Decimal) bool {
		return v.GreaterThan(bound)
	})
}

func allBelow(values []decimal.Decimal, bound decimal.Decimal) bool {
	return lo.EveryBy(values, func(v decimal.Decimal) bool {
		return v.LessThan(bound)
	})
}
