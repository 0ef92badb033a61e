// Package registry 维护各数据源可交易标的的TTL缓存。
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/samber/lo"
)

const DefaultTTL = 300 * time.Second

type cacheEntry struct {
	fetchedAt time.Time
	symbols   []string // 规范化后的标识, 保持数据源返回顺序
}

type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Symbols 返回数据源以 quote 计价的活跃标的, 过期时重新拉取。
// 排除列表与数量上限在每次调用时应用(配置可能在缓存有效期内变化),
// 截断保持缓存原有顺序。
func (r *Registry) Symbols(ctx context.Context, src exchange.MarketSource, quote string,
	excluded []string, maxCount int) ([]string, error) {

	name := src.Name()
	r.mu.Lock()
	entry, ok := r.entries[name]
	fresh := ok && r.now().Sub(entry.fetchedAt) < r.ttl
	r.mu.Unlock()

	if !fresh {
		// 网络请求不持锁
		markets, err := src.ListMarkets(ctx)
		if err != nil {
			return nil, err
		}
		symbols := normalize(markets, quote)
		slog.Info("symbol cache refreshed", "provider", name, "count", len(symbols))

		r.mu.Lock()
		entry = cacheEntry{fetchedAt: r.now(), symbols: symbols}
		r.entries[name] = entry
		r.mu.Unlock()
	}

	return applyFilters(entry.symbols, excluded, maxCount), nil
}

func normalize(markets []exchange.Market, quote string) []string {
	symbols := make([]string, 0, len(markets))
	seen := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		if !m.Active {
			continue
		}
		// quote 为空表示数据源标识不含计价币种(股票代码), 原样保留
		s := m.Raw
		if quote != "" {
			if !exchange.IsQuotedIn(m.Raw, quote) {
				continue
			}
			s = exchange.CleanSymbol(m.Raw, quote)
		}
		// 每个数据源内唯一
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	return symbols
}

func applyFilters(symbols []string, excluded []string, maxCount int) []string {
	excludedSet := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		excludedSet[strings.ToUpper(strings.TrimSpace(e))] = struct{}{}
	}

	res := lo.Reject(symbols, func(s string, index int) bool {
		_, ok := excludedSet[strings.ToUpper(s)]
		return ok
	})
	if maxCount > 0 && len(res) > maxCount {
		res = res[:maxCount]
	}
	return res
}

// Invalidate 清空全部缓存, 下个周期重建
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]cacheEntry)
}

func (r *Registry) InvalidateProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}
