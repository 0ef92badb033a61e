package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/entity"
	"github.com/KNICEX/crypto-monitor/internal/pkg/metrics"
	"github.com/KNICEX/crypto-monitor/internal/repo"
	"github.com/KNICEX/crypto-monitor/internal/service/notification"
	"github.com/shopspring/decimal"
)

// LeaderboardEntry 涨幅榜条目, 按需计算不落库
type LeaderboardEntry struct {
	Symbol       string
	CurrentPrice decimal.Decimal
	BasePrice    decimal.Decimal
	Change       decimal.Decimal // 相对基准价的涨跌幅(百分比)
}

type cooldownKey struct {
	symbol    string
	alertType Type
}

// Coordinator 警报协调: 冷却去重、历史记录、统计与涨幅榜, 以及通知分发。
// 冷却状态与历史记录各自持锁, 互不嵌套。
type Coordinator struct {
	history *History
	prices  *PriceBook

	repo      repo.AlertRepo // 可选, 落库失败只记日志
	notifiers []notification.Notifier

	mu        sync.Mutex
	cooldown  time.Duration
	lastFired map[cooldownKey]time.Time
	now       func() time.Time
}

type Option func(c *Coordinator)

func WithRepo(r repo.AlertRepo) Option {
	return func(c *Coordinator) {
		c.repo = r
	}
}

func WithNotifiers(notifiers ...notification.Notifier) Option {
	return func(c *Coordinator) {
		c.notifiers = notifiers
	}
}

func WithCooldown(d time.Duration) Option {
	return func(c *Coordinator) {
		c.cooldown = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(history *History, prices *PriceBook, opts ...Option) *Coordinator {
	c := &Coordinator{
		history:   history,
		prices:    prices,
		cooldown:  100 * time.Minute,
		lastFired: make(map[cooldownKey]time.Time),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCooldown 配置热更新时调整冷却窗口
func (c *Coordinator) SetCooldown(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldown = d
}

// Fire 尝试触发一条警报。
// 同一 (symbol, type) 在冷却窗口内的请求被静默拒绝, 返回 false。
// 通过冷却后先记历史, 再尝试各通知渠道; 单渠道失败不影响其他渠道。
func (c *Coordinator) Fire(ctx context.Context, record Record) bool {
	key := cooldownKey{symbol: record.Symbol, alertType: record.Type}

	c.mu.Lock()
	now := c.now()
	if last, ok := c.lastFired[key]; ok && now.Sub(last) < c.cooldown {
		c.mu.Unlock()
		return false
	}
	c.lastFired[key] = now
	c.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = now
	}
	c.history.Add(record)
	metrics.AlertsFiredTotal.WithLabelValues(string(record.Type)).Inc()

	if c.repo != nil {
		_, err := c.repo.Create(ctx, entity.Alert{
			Provider:  record.Provider,
			Symbol:    record.Symbol,
			Message:   record.Message,
			AlertType: string(record.Type),
			Timeframe: record.Timeframe.ToString(),
			Period:    record.Period,
			FiredAt:   record.Timestamp,
		})
		if err != nil {
			slog.Error("failed to persist alert", "symbol", record.Symbol, "type", record.Type, "error", err)
		}
	}

	c.NotifyAll(ctx, c.formatAlert(record))
	return true
}

// NotifyAll 逐个渠道投递, 失败只记日志
func (c *Coordinator) NotifyAll(ctx context.Context, text string) {
	for _, n := range c.notifiers {
		if err := n.Send(ctx, text); err != nil {
			metrics.NotifySendFailedTotal.WithLabelValues(n.Name()).Inc()
			slog.Error("notifier send failed", "notifier", n.Name(), "error", err)
		}
	}
}

// Leaderboard 涨幅榜前 topN 与当前统计。
// 基准价非正的标的整条剔除, 按涨幅降序。
func (c *Coordinator) Leaderboard(topN int) ([]LeaderboardEntry, CycleStats) {
	samples, baselines := c.prices.Snapshot()

	entries := make([]LeaderboardEntry, 0, len(samples))
	hundred := decimal.NewFromInt(100)
	for symbol, sample := range samples {
		base, ok := baselines[symbol]
		if !ok || base.LessThanOrEqual(decimal.Zero) {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Symbol:       symbol,
			CurrentPrice: sample.Price,
			BasePrice:    base,
			Change:       sample.Price.Sub(base).Div(base).Mul(hundred),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Change.GreaterThan(entries[j].Change)
	})
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, c.history.Stats()
}

func (c *Coordinator) Stats() CycleStats {
	return c.history.Stats()
}

func (c *Coordinator) ResetCycleCounters() {
	c.history.ResetCycleCounters()
}

func (c *Coordinator) Records(filter RecordFilter) []Record {
	return c.history.Records(filter)
}

func (c *Coordinator) formatAlert(record Record) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s %s - %s",
		record.Timestamp.Format("2006-01-02 15:04:05"),
		strings.ToUpper(record.Provider), record.Symbol, record.Message))

	entries, stats := c.Leaderboard(10)
	sb.WriteString(FormatSummary(stats, entries))
	return sb.String()
}

// FormatSummary 统计与涨幅榜的通知文本
func FormatSummary(stats CycleStats, entries []LeaderboardEntry) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n📊 监控统计: 🔼 多头: %d 🔽 空头: %d", stats.Bullish, stats.Bearish))
	sb.WriteString("\n🏆 涨幅榜:")
	for i, e := range entries {
		sb.WriteString(fmt.Sprintf("\n%d. %s %.2f%%", i+1, e.Symbol, e.Change.InexactFloat64()))
	}
	return sb.String()
}
