package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/pkg/metrics"
	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
)

// Stats 数据源连通性统计
type Stats struct {
	Attempted  int64
	Succeeded  int64
	LastUpdate time.Time
}

// SuccessRate 成功率, 无请求时为0
func (s Stats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted)
}

var _ exchange.MarketSource = (*Executor)(nil)

// Executor 包装一个数据源, 提供请求间隔控制和分级重试。
// 同一数据源的连续请求之间保证最小间隔; K线请求最多重试3次,
// 数据格式错误不重试(重试解决不了格式问题)。
type Executor struct {
	src         exchange.MarketSource
	minInterval time.Duration

	callMu   sync.Mutex
	nextSlot time.Time

	statsMu sync.Mutex
	stats   Stats

	maxAttempts    int
	networkBackoff time.Duration
	unknownBackoff time.Duration
}

type Option func(e *Executor)

// WithMinIntervalFloor 配置层声明的最小间隔下限,
// 与数据源自身声明的间隔取较大者(部分数据源需要额外的固定间隔)。
func WithMinIntervalFloor(d time.Duration) Option {
	return func(e *Executor) {
		if d > e.minInterval {
			e.minInterval = d
		}
	}
}

func WithNetworkBackoff(d time.Duration) Option {
	return func(e *Executor) {
		e.networkBackoff = d
	}
}

func WithUnknownBackoff(d time.Duration) Option {
	return func(e *Executor) {
		e.unknownBackoff = d
	}
}

func NewExecutor(src exchange.MarketSource, opts ...Option) *Executor {
	e := &Executor{
		src:            src,
		minInterval:    src.MinRequestInterval(),
		maxAttempts:    3,
		networkBackoff: 10 * time.Second,
		unknownBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Name() string {
	return e.src.Name()
}

func (e *Executor) QuoteCurrency() string {
	return e.src.QuoteCurrency()
}

func (e *Executor) MinRequestInterval() time.Duration {
	return e.minInterval
}

func (e *Executor) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// waitTurn 预约下一个请求时隙, 锁只用于时隙计算, 不跨睡眠持有
func (e *Executor) waitTurn(ctx context.Context) error {
	e.callMu.Lock()
	now := time.Now()
	slot := e.nextSlot
	if slot.Before(now) {
		slot = now
	}
	e.nextSlot = slot.Add(e.minInterval)
	e.callMu.Unlock()
	return sleepUntil(ctx, slot)
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	return sleepUntil(ctx, time.Now().Add(d))
}

func (e *Executor) FetchCandles(ctx context.Context, symbol string, interval exchange.Interval, limit int) ([]exchange.Candle, error) {
	metrics.FetchAttemptsTotal.WithLabelValues(e.Name()).Inc()
	e.statsMu.Lock()
	e.stats.Attempted++
	e.statsMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := e.waitTurn(ctx); err != nil {
			return nil, err
		}
		candles, err := e.src.FetchCandles(ctx, symbol, interval, limit)
		if err == nil {
			metrics.FetchSuccessTotal.WithLabelValues(e.Name()).Inc()
			e.statsMu.Lock()
			e.stats.Succeeded++
			e.stats.LastUpdate = time.Now()
			e.statsMu.Unlock()
			return candles, nil
		}

		lastErr = err
		switch {
		case errors.Is(err, exchange.ErrMalformedData):
			// 格式问题重试不会好转, 直接放弃
			slog.Warn("malformed market data", "provider", e.Name(), "symbol", symbol, "error", err)
			return nil, err
		case errors.Is(err, exchange.ErrNetwork):
			slog.Warn("network error, backing off", "provider", e.Name(), "symbol", symbol,
				"attempt", attempt, "error", err)
			if err = sleep(ctx, e.networkBackoff); err != nil {
				return nil, err
			}
		case errors.Is(err, exchange.ErrProvider):
			slog.Warn("provider error", "provider", e.Name(), "symbol", symbol,
				"attempt", attempt, "error", err)
		default:
			slog.Warn("unknown fetch error", "provider", e.Name(), "symbol", symbol,
				"attempt", attempt, "error", err)
			if err = sleep(ctx, e.unknownBackoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("fetch %s %s: retries exhausted: %w", e.Name(), symbol, lastErr)
}

func (e *Executor) ListMarkets(ctx context.Context) ([]exchange.Market, error) {
	if err := e.waitTurn(ctx); err != nil {
		return nil, err
	}
	return e.src.ListMarkets(ctx)
}
