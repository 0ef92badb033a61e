package alert

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Sample 一个标的的最新价格样本
type Sample struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// PriceBook 各标的最新价与基准价(首次观测价)。
// 基准价一经写入不再覆盖, 作为涨幅榜的分母; 保证非零非负。
type PriceBook struct {
	mu        sync.Mutex
	samples   map[string]Sample
	baselines map[string]decimal.Decimal
	now       func() time.Time
}

func NewPriceBook() *PriceBook {
	return &PriceBook{
		samples:   make(map[string]Sample),
		baselines: make(map[string]decimal.Decimal),
		now:       time.Now,
	}
}

// Update 记录一次成功抓取的最新价。
// 非正价格直接忽略, 抓取失败由调用方跳过, 样本时间戳只会前进。
func (b *PriceBook) Update(symbol string, price decimal.Decimal) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.baselines[symbol]; !ok {
		b.baselines[symbol] = price
	}
	b.samples[symbol] = Sample{Price: price, UpdatedAt: b.now()}
}

func (b *PriceBook) Sample(symbol string) (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.samples[symbol]
	return s, ok
}

func (b *PriceBook) Baseline(symbol string) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	base, ok := b.baselines[symbol]
	return base, ok
}

// Snapshot 样本与基准价的一致视图副本
func (b *PriceBook) Snapshot() (map[string]Sample, map[string]decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	samples := make(map[string]Sample, len(b.samples))
	for k, v := range b.samples {
		samples[k] = v
	}
	baselines := make(map[string]decimal.Decimal, len(b.baselines))
	for k, v := range b.baselines {
		baselines[k] = v
	}
	return samples, baselines
}

// CleanupOlderThan 淘汰超龄样本, 返回淘汰数量
func (b *PriceBook) CleanupOlderThan(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-maxAge)
	removed := 0
	for symbol, sample := range b.samples {
		if sample.UpdatedAt.Before(cutoff) {
			delete(b.samples, symbol)
			removed++
		}
	}
	return removed
}

// Clear 时间周期配置变更后历史基准失去意义, 全部清空
func (b *PriceBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = make(map[string]Sample)
	b.baselines = make(map[string]decimal.Decimal)
}
