// Package monitor 调度层: 周期性拉取行情、评估价格与均线信号并触发警报。
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/alert"
	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/KNICEX/crypto-monitor/internal/service/registry"
	"github.com/KNICEX/crypto-monitor/internal/service/signal"
)

type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateStopped
	StateEmergencyStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateEmergencyStopped:
		return "emergency_stopped"
	}
	return "unknown"
}

const (
	maxWorkers     = 10
	initAttempts   = 3
	symbolAttempts = 3

	defaultIdleWait        = time.Second
	defaultInitBackoff     = 10 * time.Second
	defaultSymbolBackoff   = 3 * time.Second
	defaultCycleErrBackoff = 30 * time.Second
	defaultPinnedRefresh   = 60 * time.Second
	defaultSampleMaxAge    = 7200 * time.Second
	defaultEvalMaxAge      = 86400 * time.Second
)

// evalKey 信号评估缓存的键, 标的+周期
type evalKey struct {
	symbol    string
	timeframe exchange.Interval
}

type evalEntry struct {
	arrangement signal.Arrangement
	at          time.Time
}

// Monitor 监控调度器。配置与连接状态同锁, 网络请求一律不持锁。
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	status  map[string]exchange.Status
	sources map[string]exchange.MarketSource

	registry *registry.Registry
	prices   *alert.PriceBook
	coord    *alert.Coordinator

	state    atomic.Int32
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once

	pinnedMu sync.Mutex
	pinned   map[string]context.CancelFunc

	evalMu sync.Mutex
	evals  map[evalKey]evalEntry

	// 测试可注入的时序参数
	idleWait        time.Duration
	initBackoff     time.Duration
	symbolBackoff   time.Duration
	cycleErrBackoff time.Duration
	pinnedRefresh   time.Duration
	sampleMaxAge    time.Duration
	evalMaxAge      time.Duration
	now             func() time.Time
}

type MonitorOption func(m *Monitor)

func WithInitBackoff(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.initBackoff = d
	}
}

func WithSymbolBackoff(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.symbolBackoff = d
	}
}

func WithCycleErrBackoff(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.cycleErrBackoff = d
	}
}

func WithPinnedRefresh(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.pinnedRefresh = d
	}
}

func New(cfg Config, sources []exchange.MarketSource, coord *alert.Coordinator,
	prices *alert.PriceBook, reg *registry.Registry, opts ...MonitorOption) *Monitor {

	m := &Monitor{
		cfg:      cfg,
		status:   make(map[string]exchange.Status, len(sources)),
		sources:  make(map[string]exchange.MarketSource, len(sources)),
		registry: reg,
		prices:   prices,
		coord:    coord,
		stopCh:   make(chan struct{}),
		pinned:   make(map[string]context.CancelFunc),
		evals:    make(map[evalKey]evalEntry),

		idleWait:        defaultIdleWait,
		initBackoff:     defaultInitBackoff,
		symbolBackoff:   defaultSymbolBackoff,
		cycleErrBackoff: defaultCycleErrBackoff,
		pinnedRefresh:   defaultPinnedRefresh,
		sampleMaxAge:    defaultSampleMaxAge,
		evalMaxAge:      defaultEvalMaxAge,
		now:             time.Now,
	}
	for _, src := range sources {
		m.sources[src.Name()] = src
		m.status[src.Name()] = exchange.StatusConnecting
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

// ProviderStatus 各数据源当前连接状态的副本
func (m *Monitor) ProviderStatus() map[string]exchange.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[string]exchange.Status, len(m.status))
	for k, v := range m.status {
		res[k] = v
	}
	return res
}

func (m *Monitor) setStatus(name string, status exchange.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[name] = status
}

// ConfigSnapshot 当前生效配置的副本
func (m *Monitor) ConfigSnapshot() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Run 进入主循环, 直到 ctx 取消或 Stop 被调用。
// 数据源初始化在后台并发进行, 不阻塞首轮监控:
// 尚未连接的源在该轮被跳过, 连上后下一轮自然纳入。
func (m *Monitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.runCtx = ctx
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	if !m.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning)) {
		// 启动前就收到停止请求是正常退出, 不是错误
		if s := m.State(); s == StateStopped || s == StateEmergencyStopped {
			slog.Info("monitor stopped before start", "state", s.String())
			return nil
		}
		return fmt.Errorf("monitor not startable in state %s", m.State())
	}

	var bgWg sync.WaitGroup
	for name := range m.sources {
		bgWg.Add(1)
		go func(name string) {
			defer bgWg.Done()
			m.initProvider(ctx, name)
		}(name)
	}
	slog.Info("monitor started", "providers", len(m.sources))

	bgWg.Add(1)
	go func() {
		defer bgWg.Done()
		m.housekeepingLoop(ctx)
	}()

	for m.State() == StateRunning && ctx.Err() == nil {
		// 数据源全部还在初始化(或全部断连)时短间隔等待,
		// 不把整个监控周期睡掉
		if len(m.connectedSources()) == 0 {
			if !m.sleep(ctx, m.idleWait) {
				break
			}
			continue
		}

		// 间隔取本轮开始时的快照, 轮内配置变更下轮生效
		interval := time.Duration(m.ConfigSnapshot().CheckInterval) * time.Second

		if err := m.runCycle(ctx); err != nil {
			slog.Error("monitor cycle failed", "error", err)
			if !m.sleep(ctx, m.cycleErrBackoff) {
				break
			}
			continue
		}
		if !m.sleep(ctx, interval) {
			break
		}
	}
	// 后台任务(初始化探测与清理)依赖ctx退出, 先取消再等待
	cancel()
	bgWg.Wait()
	slog.Info("monitor loop exited", "state", m.State().String())
	return nil
}

// sleep 可被停止信号与 ctx 打断, 返回是否自然睡满
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	}
}

// initProvider 数据源连接状态机: 最多3次探测, 间隔固定, 全部失败则断连
func (m *Monitor) initProvider(ctx context.Context, name string) {
	m.setStatus(name, exchange.StatusConnecting)
	src := m.sources[name]

	for attempt := 1; attempt <= initAttempts; attempt++ {
		if ctx.Err() != nil {
			m.setStatus(name, exchange.StatusDisconnected)
			return
		}
		if _, err := src.ListMarkets(ctx); err == nil {
			m.setStatus(name, exchange.StatusConnected)
			slog.Info("provider connected", "provider", name, "attempt", attempt)
			return
		} else {
			slog.Warn("provider probe failed", "provider", name, "attempt", attempt, "error", err)
		}
		if attempt < initAttempts && !m.sleep(ctx, m.initBackoff) {
			break
		}
	}
	m.setStatus(name, exchange.StatusDisconnected)
	slog.Error("provider marked disconnected", "provider", name)
}

// RetryProvider 对断连的数据源重新走初始化流程
func (m *Monitor) RetryProvider(name string) error {
	m.mu.Lock()
	_, known := m.sources[name]
	status := m.status[name]
	ctx := m.runCtx
	m.mu.Unlock()

	if !known {
		return fmt.Errorf("unknown provider %q", name)
	}
	if status == exchange.StatusConnecting {
		return fmt.Errorf("provider %q is already connecting", name)
	}
	if ctx == nil {
		return fmt.Errorf("monitor not running")
	}
	// 断连期间的标的缓存可能已经过期
	m.registry.InvalidateProvider(name)
	go m.initProvider(ctx, name)
	return nil
}

func (m *Monitor) connectedSources() map[string]exchange.MarketSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[string]exchange.MarketSource)
	for name, src := range m.sources {
		if m.status[name] == exchange.StatusConnected {
			res[name] = src
		}
	}
	return res
}

func workerCount(symbols int) int {
	w := symbols/2 + 1
	return int(math.Min(float64(w), maxWorkers))
}

// runCycle 一轮完整监控: 刷新标的、并发评估、汇总通知。
// panic 转为错误交给主循环退避, 不中断进程。
func (m *Monitor) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	cfg := m.ConfigSnapshot()
	start := m.now()
	evaluated := 0

	for name, src := range m.connectedSources() {
		symbols, serr := m.registry.Symbols(ctx, src, src.QuoteCurrency(), cfg.ExcludedPairs, cfg.MaxPairs)
		if serr != nil {
			slog.Error("failed to list symbols", "provider", name, "error", serr)
			continue
		}

		workers := workerCount(len(symbols))
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for _, symbol := range symbols {
			if m.State() != StateRunning || ctx.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(symbol string) {
				defer wg.Done()
				defer func() { <-sem }()
				m.monitorSymbol(ctx, cfg, name, src, symbol)
			}(symbol)
		}
		wg.Wait()
		evaluated += len(symbols)
	}

	m.sendCycleSummary(ctx)
	slog.Info("monitor cycle done", "symbols", evaluated, "elapsed", m.now().Sub(start).String())
	return nil
}

// sendCycleSummary 先读统计再清零, 顺序不可调换
func (m *Monitor) sendCycleSummary(ctx context.Context) {
	entries, stats := m.coord.Leaderboard(10)
	if stats.Bullish == 0 && stats.Bearish == 0 && len(entries) == 0 {
		return
	}
	m.coord.NotifyAll(ctx, "📊 本轮监控汇总"+alert.FormatSummary(stats, entries))
	m.coord.ResetCycleCounters()
}

// monitorSymbol 单标的评估, 异常最多重试3次, 每次间隔固定;
// panic 被捕获并计入失败, 不影响其他标的
func (m *Monitor) monitorSymbol(ctx context.Context, cfg Config, provider string,
	src exchange.MarketSource, symbol string) {

	for attempt := 1; attempt <= symbolAttempts; attempt++ {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("symbol task panic: %v", r)
				}
			}()
			return m.evaluateSymbol(ctx, cfg, provider, src, symbol)
		}()
		if err == nil {
			return
		}
		slog.Warn("symbol evaluation failed", "provider", provider, "symbol", symbol,
			"attempt", attempt, "error", err)
		if attempt < symbolAttempts && !m.sleep(ctx, m.symbolBackoff) {
			return
		}
	}
}

// fetchCandles 抓取K线, 成功时顺带刷新价格样本
func (m *Monitor) fetchCandles(ctx context.Context, src exchange.MarketSource,
	symbol string, interval exchange.Interval, limit int) ([]exchange.Candle, error) {

	candles, err := src.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		m.prices.Update(symbol, candles[len(candles)-1].Close)
	}
	return candles, nil
}

func (m *Monitor) evaluateSymbol(ctx context.Context, cfg Config, provider string,
	src exchange.MarketSource, symbol string) error {

	timeframe := exchange.Interval(cfg.PriceTimeframe)

	// 价格检查关闭时样本不会被顺带刷新, 缺失则单独补一次;
	// 抓取失败跳过本轮, 不算任务异常
	if !cfg.EnablePriceMonitor {
		if _, ok := m.prices.Sample(symbol); !ok {
			if _, err := m.fetchCandles(ctx, src, symbol, timeframe, 2); err != nil {
				slog.Warn("price sample fetch failed, skipping", "provider", provider, "symbol", symbol, "error", err)
				return nil
			}
		}
	}

	// 价格检查先于均线检查
	if cfg.EnablePriceMonitor {
		m.checkPriceMove(ctx, cfg, provider, src, symbol, timeframe)
	}
	for _, strat := range cfg.MAStrategies {
		m.checkMAArrangement(ctx, cfg, provider, src, symbol, strat)
	}
	return nil
}

func (m *Monitor) checkPriceMove(ctx context.Context, cfg Config, provider string,
	src exchange.MarketSource, symbol string, timeframe exchange.Interval) {

	candles, err := m.fetchCandles(ctx, src, symbol, timeframe, cfg.PricePeriod)
	if err != nil {
		slog.Warn("price candles fetch failed, skipping", "provider", provider, "symbol", symbol, "error", err)
		return
	}
	change, err := signal.PercentChange(candles, cfg.PricePeriod)
	if err != nil {
		slog.Debug("percent change unavailable", "symbol", symbol, "error", err)
		return
	}

	changeF := change.InexactFloat64()
	var direction string
	switch {
	case changeF >= cfg.PriceThreshold && (cfg.PriceDirection == "up" || cfg.PriceDirection == "both"):
		direction = "📈 上涨"
	case changeF <= -cfg.PriceThreshold && (cfg.PriceDirection == "down" || cfg.PriceDirection == "both"):
		direction = "📉 下跌"
	default:
		return
	}

	m.coord.Fire(ctx, alert.Record{
		Provider:  provider,
		Symbol:    symbol,
		Type:      alert.TypePrice,
		Timeframe: timeframe,
		Period:    cfg.PricePeriod,
		Message:   fmt.Sprintf("%s %.2f%% (%d根%s)", direction, math.Abs(changeF), cfg.PricePeriod, timeframe),
	})
}

func (m *Monitor) checkMAArrangement(ctx context.Context, cfg Config, provider string,
	src exchange.MarketSource, symbol string, strat MAStrategyConfig) {

	if len(strat.Periods) != 3 {
		return
	}
	shortP, mediumP, longP := strat.Periods[0], strat.Periods[1], strat.Periods[2]
	timeframe := exchange.Interval(strat.Timeframe)
	required := longP + 10

	candles, err := m.fetchCandles(ctx, src, symbol, timeframe, required)
	if err != nil {
		slog.Warn("ma candles fetch failed, skipping", "provider", provider, "symbol", symbol,
			"timeframe", timeframe, "error", err)
		return
	}
	arrangement, err := signal.MAArrangement(candles, shortP, mediumP, longP)
	if err != nil {
		slog.Debug("ma arrangement unavailable", "symbol", symbol, "error", err)
		return
	}
	m.recordEval(symbol, timeframe, arrangement)

	periodsDesc := fmt.Sprintf("MA%d/%d/%d %s", shortP, mediumP, longP, timeframe)
	switch arrangement {
	case signal.ArrangementBullish:
		if !cfg.EnableBullishMA {
			return
		}
		m.coord.Fire(ctx, alert.Record{
			Provider: provider, Symbol: symbol, Type: alert.TypeBullish,
			Timeframe: timeframe, Period: longP,
			Message: "🔼 均线多头排列 " + periodsDesc,
		})
	case signal.ArrangementBearish:
		if !cfg.EnableBearishMA {
			return
		}
		m.coord.Fire(ctx, alert.Record{
			Provider: provider, Symbol: symbol, Type: alert.TypeBearish,
			Timeframe: timeframe, Period: longP,
			Message: "🔽 均线空头排列 " + periodsDesc,
		})
	}
}

func (m *Monitor) recordEval(symbol string, timeframe exchange.Interval, arrangement signal.Arrangement) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()
	m.evals[evalKey{symbol: symbol, timeframe: timeframe}] = evalEntry{
		arrangement: arrangement,
		at:          m.now(),
	}
}

// LastArrangement 最近一次均线排列评估结果
func (m *Monitor) LastArrangement(symbol string, timeframe exchange.Interval) (signal.Arrangement, bool) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()
	e, ok := m.evals[evalKey{symbol: symbol, timeframe: timeframe}]
	return e.arrangement, ok
}

func (m *Monitor) pruneEvals(maxAge time.Duration) int {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()
	cutoff := m.now().Add(-maxAge)
	removed := 0
	for k, e := range m.evals {
		if e.at.Before(cutoff) {
			delete(m.evals, k)
			removed++
		}
	}
	return removed
}

func (m *Monitor) clearEvals() {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()
	m.evals = make(map[evalKey]evalEntry)
}

// UpdateConfig 原子应用部分更新; 校验失败时现行配置不变。
// 时间周期变化会使历史价格基准与标的缓存失效。
func (m *Monitor) UpdateConfig(patch Patch) error {
	m.mu.Lock()
	next := m.cfg.Apply(patch)
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("invalid config update: %w", err)
	}
	timeframeChanged := next.PriceTimeframe != m.cfg.PriceTimeframe
	cooldownChanged := next.AlertCooldown != m.cfg.AlertCooldown
	m.cfg = next
	m.mu.Unlock()

	if timeframeChanged {
		m.registry.Invalidate()
		m.prices.Clear()
		m.clearEvals()
		slog.Info("price timeframe changed, caches invalidated", "timeframe", next.PriceTimeframe)
	}
	if cooldownChanged {
		m.coord.SetCooldown(time.Duration(next.AlertCooldown) * time.Second)
	}
	slog.Info("config updated")
	return nil
}

// Stop 优雅停机: 不再调度新任务, 在途请求完成后主循环退出
func (m *Monitor) Stop() {
	if m.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) ||
		m.state.CompareAndSwap(int32(StateInitializing), int32(StateStopped)) {
		m.stopOnce.Do(func() { close(m.stopCh) })
		slog.Info("monitor stopping")
	}
}

// EmergencyStop 立即停机: 同时取消全部在途请求与后台任务
func (m *Monitor) EmergencyStop() {
	if m.State() == StateEmergencyStopped {
		return
	}
	m.state.Store(int32(StateEmergencyStopped))
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	slog.Warn("monitor emergency stopped")
}

// housekeepingLoop 周期性内存清理: 超龄价格样本、信号评估缓存与标的缓存。
// 间隔每轮重新取快照, 配置热更新在下个滴答生效。
func (m *Monitor) housekeepingLoop(ctx context.Context) {
	for {
		interval := time.Duration(m.ConfigSnapshot().MemCleanInterval) * time.Second
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			removedSamples := m.prices.CleanupOlderThan(m.sampleMaxAge)
			removedEvals := m.pruneEvals(m.evalMaxAge)
			m.registry.Invalidate()
			slog.Info("housekeeping done",
				"removed_samples", removedSamples, "removed_evals", removedEvals)
		}
	}
}

// firstConnectedSource 钉住监控默认使用第一个可用数据源
func (m *Monitor) firstConnectedSource() (string, exchange.MarketSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// 名称有序, 避免map遍历的随机性
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if m.status[name] == exchange.StatusConnected {
			return name, m.sources[name]
		}
	}
	return "", nil
}
