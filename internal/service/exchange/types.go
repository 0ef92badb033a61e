package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status 数据源连接状态
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// 数据源错误分类, 重试层通过 errors.Is 区分处理
var (
	// ErrNetwork 网络类错误, 可重试
	ErrNetwork = errors.New("exchange: network error")
	// ErrProvider 数据源侧错误(限频/暂时不可用), 可重试
	ErrProvider = errors.New("exchange: provider error")
	// ErrMalformedData 返回数据不完整或格式异常, 不可重试
	ErrMalformedData = errors.New("exchange: malformed market data")
)

type Interval string

func (i Interval) ToString() string {
	return string(i)
}

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// Candle 一根K线
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	Close     decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Volume    decimal.Decimal // 成交量
}

// Market 数据源返回的原始交易对信息
type Market struct {
	Raw    string // 数据源原始标识, 可能格式不规范
	Active bool
}

// MarketSource 一个行情数据源(交易所或股票行情)
type MarketSource interface {
	Name() string
	// QuoteCurrency 计价币种, 空串表示标的不按计价币种过滤(如股票代码)
	QuoteCurrency() string
	// MinRequestInterval 数据源声明的最小请求间隔
	MinRequestInterval() time.Duration
	// FetchCandles 获取最近 limit 根K线, 按时间升序
	FetchCandles(ctx context.Context, symbol string, interval Interval, limit int) ([]Candle, error)
	// ListMarkets 获取全部可交易标的
	ListMarkets(ctx context.Context) ([]Market, error)
}
