package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candlesFromCloses(closes ...float64) []exchange.Candle {
	res := make([]exchange.Candle, 0, len(closes))
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		res = append(res, exchange.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open:      d,
			Close:     d,
			High:      d,
			Low:       d,
			Volume:    decimal.NewFromInt(1),
		})
	}
	return res
}

func trend(start, step float64, n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = start + step*float64(i)
	}
	return res
}

func TestPercentChange(t *testing.T) {
	// 20根K线收盘价从100单调上涨, 窗口15 => ((close[19]-close[5])/close[5])*100
	candles := candlesFromCloses(trend(100, 1, 20)...)
	change, err := PercentChange(candles, 15)
	require.NoError(t, err)
	want := (119.0 - 105.0) / 105.0 * 100
	assert.InDelta(t, want, change.InexactFloat64(), 1e-6)

	// 纯函数: 相同输入结果一致
	again, err := PercentChange(candles, 15)
	require.NoError(t, err)
	assert.True(t, change.Equal(again))
}

func TestPercentChangeErrors(t *testing.T) {
	testCases := []struct {
		name    string
		candles []exchange.Candle
		period  int
	}{
		{
			name:    "数据不足",
			candles: candlesFromCloses(100, 101),
			period:  15,
		},
		{
			name:    "窗口过短",
			candles: candlesFromCloses(100, 101, 102),
			period:  1,
		},
		{
			name:    "首收盘价为0",
			candles: candlesFromCloses(0, 101, 102),
			period:  3,
		},
		{
			name:    "首收盘价为负",
			candles: candlesFromCloses(-5, 101, 102),
			period:  3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PercentChange(tc.candles, tc.period)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInsufficientData))
		})
	}
}

func TestMAArrangementBullish(t *testing.T) {
	// 缓慢上涨: SMA5 > SMA20 > SMA60, 最近10根收盘价高于SMA20,
	// 且最新收盘价贴近SMA20(1%带内)
	candles := candlesFromCloses(trend(100, 0.02, 70)...)
	got, err := MAArrangement(candles, 5, 20, 60)
	require.NoError(t, err)
	assert.Equal(t, ArrangementBullish, got)
}

func TestMAArrangementBearish(t *testing.T) {
	candles := candlesFromCloses(trend(103, -0.02, 70)...)
	got, err := MAArrangement(candles, 5, 20, 60)
	require.NoError(t, err)
	assert.Equal(t, ArrangementBearish, got)
}

func TestMAArrangementOutsideMediumBand(t *testing.T) {
	// 最新收盘价偏离中轨约5%, 无论排列如何都不触发
	closes := trend(100, 0.02, 70)
	closes[69] = 106.25
	candles := candlesFromCloses(closes...)
	got, err := MAArrangement(candles, 5, 20, 60)
	require.NoError(t, err)
	assert.Equal(t, ArrangementNone, got)
}

func TestMAArrangementErrors(t *testing.T) {
	candles := candlesFromCloses(trend(100, 0.02, 70)...)

	_, err := MAArrangement(candles, 20, 5, 60)
	assert.True(t, errors.Is(err, ErrInvalidPeriods))

	_, err = MAArrangement(candles[:30], 5, 20, 60)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestDeviation(t *testing.T) {
	// 收盘价恒定时偏离为0
	candles := candlesFromCloses(trend(100, 0, 30)...)
	dev, err := Deviation(candles, 20)
	require.NoError(t, err)
	assert.True(t, dev.IsZero())

	// 最新价110, 20期均线100 => 偏离10%
	closes := trend(100, 0, 30)
	closes[29] = 110
	candles = candlesFromCloses(closes...)
	dev, err = Deviation(candles, 20)
	require.NoError(t, err)
	want := (110.0 - 100.5) / 100.5 * 100
	assert.InDelta(t, want, dev.InexactFloat64(), 1e-9)

	_, err = Deviation(candles[:5], 20)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}
