package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/alert"
	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/KNICEX/crypto-monitor/internal/service/signal"
)

// DeviationStrategy 价格贴近均线时告警: 偏离不超过阈值触发
type DeviationStrategy struct {
	Timeframe exchange.Interval
	MAPeriod  int
	Threshold float64 // 偏离百分比上限
}

// FastMoveStrategy 两根K线内涨跌幅达到阈值时告警
type FastMoveStrategy struct {
	Timeframe exchange.Interval
	Threshold float64 // 涨跌幅百分比下限
}

// EnablePinned 对单个标的启动高频钉住监控, 与主轮询相互独立。
// 同一标的重复启用时替换旧的监控循环。
func (m *Monitor) EnablePinned(symbol string, dev DeviationStrategy, fast FastMoveStrategy) error {
	if dev.MAPeriod <= 0 || dev.Threshold <= 0 || fast.Threshold <= 0 {
		return fmt.Errorf("invalid pinned strategy for %q", symbol)
	}
	m.mu.Lock()
	runCtx := m.runCtx
	m.mu.Unlock()
	if runCtx == nil {
		return fmt.Errorf("monitor not running")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	ctx, cancel := context.WithCancel(runCtx)

	m.pinnedMu.Lock()
	if old, ok := m.pinned[symbol]; ok {
		old()
	}
	m.pinned[symbol] = cancel
	m.pinnedMu.Unlock()

	go m.pinnedLoop(ctx, symbol, dev, fast)
	slog.Info("pinned monitoring enabled", "symbol", symbol,
		"ma_period", dev.MAPeriod, "dev_threshold", dev.Threshold, "fast_threshold", fast.Threshold)
	return nil
}

func (m *Monitor) DisablePinned(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	m.pinnedMu.Lock()
	defer m.pinnedMu.Unlock()
	if cancel, ok := m.pinned[symbol]; ok {
		cancel()
		delete(m.pinned, symbol)
		slog.Info("pinned monitoring disabled", "symbol", symbol)
	}
}

func (m *Monitor) pinnedLoop(ctx context.Context, symbol string,
	dev DeviationStrategy, fast FastMoveStrategy) {

	ticker := time.NewTicker(m.pinnedRefresh)
	defer ticker.Stop()

	for {
		if m.State() == StateRunning {
			m.pinnedCheck(ctx, symbol, dev, fast)
		}
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) pinnedCheck(ctx context.Context, symbol string,
	dev DeviationStrategy, fast FastMoveStrategy) {

	provider, src := m.firstConnectedSource()
	if src == nil {
		slog.Warn("pinned check skipped, no connected provider", "symbol", symbol)
		return
	}

	// 策略一: 价格回踩均线
	candles, err := m.fetchCandles(ctx, src, symbol, dev.Timeframe, dev.MAPeriod+10)
	if err != nil {
		slog.Warn("pinned deviation fetch failed", "symbol", symbol, "error", err)
	} else if deviation, derr := signal.Deviation(candles, dev.MAPeriod); derr != nil {
		slog.Debug("pinned deviation unavailable", "symbol", symbol, "error", derr)
	} else if deviation.InexactFloat64() <= dev.Threshold {
		m.coord.Fire(ctx, alert.Record{
			Provider: provider, Symbol: symbol, Type: alert.TypeMADeviation,
			Timeframe: dev.Timeframe, Period: dev.MAPeriod,
			Message: fmt.Sprintf("🎯 价格贴近MA%d (偏离%.2f%%, %s)",
				dev.MAPeriod, deviation.InexactFloat64(), dev.Timeframe),
		})
	}

	// 策略二: 两根K线急涨急跌
	candles, err = m.fetchCandles(ctx, src, symbol, fast.Timeframe, 2)
	if err != nil {
		slog.Warn("pinned fast-move fetch failed", "symbol", symbol, "error", err)
		return
	}
	change, err := signal.PercentChange(candles, 2)
	if err != nil {
		slog.Debug("pinned fast-move unavailable", "symbol", symbol, "error", err)
		return
	}
	changeF := change.InexactFloat64()
	if changeF >= fast.Threshold || changeF <= -fast.Threshold {
		m.coord.Fire(ctx, alert.Record{
			Provider: provider, Symbol: symbol, Type: alert.TypeFastMove,
			Timeframe: fast.Timeframe, Period: 2,
			Message: fmt.Sprintf("⚡ 快速波动 %.2f%% (2根%s)", changeF, fast.Timeframe),
		})
	}
}
