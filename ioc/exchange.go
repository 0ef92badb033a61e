package ioc

import (
	"log/slog"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/KNICEX/crypto-monitor/internal/service/exchange/binance"
	"github.com/KNICEX/crypto-monitor/internal/service/exchange/ratelimit"
	"github.com/KNICEX/crypto-monitor/internal/service/exchange/tencent"
	"github.com/KNICEX/crypto-monitor/internal/service/monitor"
)

// InitSources 按配置构建数据源, 统一包上限频重试层
func InitSources(cfg monitor.Config) []exchange.MarketSource {
	sources := make([]exchange.MarketSource, 0, len(cfg.Exchanges))
	for _, name := range cfg.Exchanges {
		var src exchange.MarketSource
		switch name {
		case "binance":
			src = binance.NewMarketSource(InitBinanceCli(cfg.Proxy))
		case "tencent":
			src = tencent.NewStockSource(cfg.StockList)
		default:
			slog.Warn("unsupported exchange in config, skipped", "exchange", name)
			continue
		}
		sources = append(sources, wrapRateLimit(cfg, src))
	}
	return sources
}

func wrapRateLimit(cfg monitor.Config, src exchange.MarketSource) *ratelimit.Executor {
	var opts []ratelimit.Option
	if ms, ok := cfg.MinIntervalOverrides[src.Name()]; ok {
		opts = append(opts, ratelimit.WithMinIntervalFloor(time.Duration(ms)*time.Millisecond))
	}
	return ratelimit.NewExecutor(src, opts...)
}
