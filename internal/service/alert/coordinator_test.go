package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/notification"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可推进的测试时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	name string
	err  error
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Name() string {
	return n.name
}

func (n *fakeNotifier) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return n.err
}

func (n *fakeNotifier) TestConnection(ctx context.Context) error {
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var _ notification.Notifier = (*fakeNotifier)(nil)

func newTestCoordinator(cooldown time.Duration, notifiers ...notification.Notifier) (*Coordinator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC)}
	c := NewCoordinator(NewHistory(100), NewPriceBook(),
		WithCooldown(cooldown),
		WithClock(clock.Now),
		WithNotifiers(notifiers...),
	)
	return c, clock
}

func TestCooldownSuppression(t *testing.T) {
	c, clock := newTestCoordinator(60 * time.Second)
	ctx := context.Background()
	rec := Record{Provider: "binance", Symbol: "BTC/USDT", Type: TypePrice, Message: "up 6%"}

	assert.True(t, c.Fire(ctx, rec), "首次触发应通过")

	clock.Advance(time.Second)
	assert.False(t, c.Fire(ctx, rec), "冷却窗口内应被抑制")

	clock.Advance(61 * time.Second)
	assert.True(t, c.Fire(ctx, rec), "冷却结束后应再次触发")

	// 冷却按 (symbol, type) 维度, 其他key不受影响
	assert.True(t, c.Fire(ctx, Record{Symbol: "BTC/USDT", Type: TypeBullish}))
	assert.True(t, c.Fire(ctx, Record{Symbol: "ETH/USDT", Type: TypePrice}))
}

// 任意速率的触发请求下, 两次实际触发的间隔不小于冷却时间
func TestCooldownInvariantUnderBurst(t *testing.T) {
	c, clock := newTestCoordinator(60 * time.Second)
	ctx := context.Background()
	rec := Record{Symbol: "BTC/USDT", Type: TypePrice}

	var firedAt []time.Time
	for i := 0; i < 300; i++ {
		if c.Fire(ctx, rec) {
			firedAt = append(firedAt, clock.Now())
		}
		clock.Advance(time.Second)
	}
	require.GreaterOrEqual(t, len(firedAt), 2)
	for i := 1; i < len(firedAt); i++ {
		assert.GreaterOrEqual(t, firedAt[i].Sub(firedAt[i-1]), 60*time.Second)
	}
}

func TestFireRecordsBeforeDispatch(t *testing.T) {
	failing := &fakeNotifier{name: "telegram", err: errors.New("boom")}
	ok := &fakeNotifier{name: "wechat"}
	c, _ := newTestCoordinator(time.Minute, failing, ok)

	fired := c.Fire(context.Background(), Record{Symbol: "BTC/USDT", Type: TypeBullish, Message: "m"})
	assert.True(t, fired)

	// 渠道失败不影响历史记录, 也不阻塞其他渠道
	assert.Len(t, c.Records(RecordFilter{}), 1)
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, ok.count())
}

func TestLeaderboard(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)

	// 基准100 现价110 => +10%; 基准价缺失/非正的剔除
	c.prices.Update("BTC/USDT", decimal.NewFromInt(100))
	c.prices.Update("BTC/USDT", decimal.NewFromInt(110))
	c.prices.Update("ETH/USDT", decimal.NewFromInt(200))
	c.prices.Update("ETH/USDT", decimal.NewFromInt(190))
	c.prices.Update("SOL/USDT", decimal.NewFromInt(50))

	entries, _ := c.Leaderboard(10)
	require.Len(t, entries, 3)
	assert.Equal(t, "BTC/USDT", entries[0].Symbol)
	assert.InDelta(t, 10.0, entries[0].Change.InexactFloat64(), 1e-9)
	assert.Equal(t, "SOL/USDT", entries[1].Symbol)
	assert.InDelta(t, 0.0, entries[1].Change.InexactFloat64(), 1e-9)
	assert.Equal(t, "ETH/USDT", entries[2].Symbol)
	assert.InDelta(t, -5.0, entries[2].Change.InexactFloat64(), 1e-9)

	// 降序排列
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].Change.GreaterThanOrEqual(entries[i].Change))
	}

	entries, _ = c.Leaderboard(2)
	assert.Len(t, entries, 2)
}

func TestLeaderboardExcludesNonPositiveBaseline(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)
	// 非正价格被 PriceBook 拒绝, 不会产生基准
	c.prices.Update("BAD/USDT", decimal.Zero)
	c.prices.Update("BAD/USDT", decimal.NewFromInt(-3))
	entries, _ := c.Leaderboard(10)
	assert.Empty(t, entries)
}

func TestCycleStatsReadThenReset(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)
	ctx := context.Background()
	c.Fire(ctx, Record{Symbol: "A/USDT", Type: TypeBullish})
	c.Fire(ctx, Record{Symbol: "B/USDT", Type: TypeBullish})

	stats := c.Stats()
	assert.Equal(t, 2, stats.Bullish)

	c.ResetCycleCounters()
	assert.Equal(t, 0, c.Stats().Bullish)
}
