package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name    string
	markets []exchange.Market
	err     error
	calls   int
}

func (f *fakeSource) Name() string {
	return f.name
}

func (f *fakeSource) QuoteCurrency() string {
	return "USDT"
}

func (f *fakeSource) MinRequestInterval() time.Duration {
	return 0
}

func (f *fakeSource) FetchCandles(ctx context.Context, symbol string, interval exchange.Interval, limit int) ([]exchange.Candle, error) {
	return nil, nil
}

func (f *fakeSource) ListMarkets(ctx context.Context) ([]exchange.Market, error) {
	f.calls++
	return f.markets, f.err
}

func testMarkets() []exchange.Market {
	return []exchange.Market{
		{Raw: "BTC/USDT", Active: true},
		{Raw: "ETH/USDT", Active: true},
		{Raw: "DOGE/USDT:USDT", Active: true}, // quote重复, 需要规范化
		{Raw: "OLD/USDT", Active: false},      // 非活跃
		{Raw: "SOL/BTC", Active: true},        // 非USDT计价
		{Raw: "BTC/USDT", Active: true},       // 重复项
	}
}

func TestSymbolsFilterAndNormalize(t *testing.T) {
	src := &fakeSource{name: "binance", markets: testMarkets()}
	r := New(time.Minute)

	symbols, err := r.Symbols(context.Background(), src, "USDT", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "DOGE/USDT"}, symbols)
}

func TestSymbolsCacheTTL(t *testing.T) {
	src := &fakeSource{name: "binance", markets: testMarkets()}
	r := New(time.Minute)
	current := time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	ctx := context.Background()
	_, err := r.Symbols(ctx, src, "USDT", nil, 0)
	require.NoError(t, err)
	_, err = r.Symbols(ctx, src, "USDT", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "TTL内应命中缓存")

	current = current.Add(2 * time.Minute)
	_, err = r.Symbols(ctx, src, "USDT", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "过期后应重新拉取")
}

func TestSymbolsExclusionAndCap(t *testing.T) {
	src := &fakeSource{name: "binance", markets: testMarkets()}
	r := New(time.Minute)
	ctx := context.Background()

	// 排除大小写不敏感
	symbols, err := r.Symbols(ctx, src, "USDT", []string{" btc/usdt "}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH/USDT", "DOGE/USDT"}, symbols)

	// 截断保持原有顺序
	symbols, err = r.Symbols(ctx, src, "USDT", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, symbols)

	// 过滤在缓存之上进行, 不触发重新拉取
	assert.Equal(t, 1, src.calls)
}

func TestSymbolsFetchError(t *testing.T) {
	src := &fakeSource{name: "binance", err: errors.New("down")}
	r := New(time.Minute)
	_, err := r.Symbols(context.Background(), src, "USDT", nil, 0)
	assert.Error(t, err)
}

func TestInvalidate(t *testing.T) {
	src := &fakeSource{name: "binance", markets: testMarkets()}
	r := New(time.Minute)
	ctx := context.Background()

	_, _ = r.Symbols(ctx, src, "USDT", nil, 0)
	r.Invalidate()
	_, _ = r.Symbols(ctx, src, "USDT", nil, 0)
	assert.Equal(t, 2, src.calls)
}
