package alert

import (
	"sync"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
)

type Type string

const (
	TypePrice       Type = "price"
	TypeBullish     Type = "bullish"
	TypeBearish     Type = "bearish"
	TypeMADeviation Type = "ma_deviation" // 钉住监控: 价格贴近均线
	TypeFastMove    Type = "fast_move"    // 钉住监控: 两根K线内急涨急跌
)

// Record 一条警报记录
type Record struct {
	Timestamp time.Time
	Provider  string
	Symbol    string
	Message   string
	Type      Type
	Timeframe exchange.Interval // 触发时生效的时间周期
	Period    int               // 触发时生效的周期数
}

type RecordFilter struct {
	Start time.Time
	End   time.Time
	Type  Type
}

// CycleStats 单轮多头/空头信号计数
type CycleStats struct {
	Bullish int
	Bearish int
}

const DefaultHistoryCapacity = 1000

// History 有界警报历史, 超容量时淘汰最旧记录; 线程安全。
// 周期计数器与记录同锁维护。
type History struct {
	mu       sync.Mutex
	capacity int
	records  []Record
	stats    CycleStats
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		records:  make([]Record, 0, capacity),
	}
}

func (h *History) Add(record Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) >= h.capacity {
		drop := len(h.records) - h.capacity + 1
		h.records = append(h.records[:0], h.records[drop:]...)
	}
	h.records = append(h.records, record)

	switch record.Type {
	case TypeBullish:
		h.stats.Bullish++
	case TypeBearish:
		h.stats.Bearish++
	}
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Records 按条件筛选, 返回副本
func (h *History) Records(filter RecordFilter) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	res := make([]Record, 0, len(h.records))
	for _, r := range h.records {
		if !filter.Start.IsZero() && r.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && r.Timestamp.After(filter.End) {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		res = append(res, r)
	}
	return res
}

func (h *History) Stats() CycleStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// ResetCycleCounters 清零周期计数。
// 调用方必须先读取 Stats 再清零, 否则会丢掉刚结束一轮的计数。
func (h *History) ResetCycleCounters() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = CycleStats{}
}
