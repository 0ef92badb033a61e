package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var _ exchange.MarketSource = (*MarketSource)(nil)

type MarketSource struct {
	cli *binance.Client
}

func NewMarketSource(cli *binance.Client) *MarketSource {
	return &MarketSource{cli: cli}
}

func (m *MarketSource) Name() string {
	return "binance"
}

func (m *MarketSource) QuoteCurrency() string {
	return "USDT"
}

func (m *MarketSource) MinRequestInterval() time.Duration {
	return 100 * time.Millisecond
}

// apiSymbol 币安API使用 BTCUSDT 格式, 不是 BTC/USDT
func apiSymbol(symbol string) string {
	s := exchange.ParseSymbol(symbol)
	if s.IsZero() {
		return symbol
	}
	return s.ToString()
}

func (m *MarketSource) FetchCandles(ctx context.Context, symbol string, interval exchange.Interval, limit int) ([]exchange.Candle, error) {
	res, err := m.cli.NewKlinesService().
		Symbol(apiSymbol(symbol)).
		Interval(interval.ToString()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if len(res) < limit {
		return nil, fmt.Errorf("%w: %s need %d candles, got %d",
			exchange.ErrProvider, symbol, limit, len(res))
	}
	return convertCandles(symbol, res)
}

func convertCandles(symbol string, klines []*binance.Kline) ([]exchange.Candle, error) {
	candles := make([]exchange.Candle, len(klines))
	for i, k := range klines {
		if k == nil || k.Close == "" {
			return nil, fmt.Errorf("%w: %s empty kline record", exchange.ErrMalformedData, symbol)
		}
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, fmt.Errorf("%w: %s open %q", exchange.ErrMalformedData, symbol, k.Open)
		}
		cls, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, fmt.Errorf("%w: %s close %q", exchange.ErrMalformedData, symbol, k.Close)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, fmt.Errorf("%w: %s high %q", exchange.ErrMalformedData, symbol, k.High)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, fmt.Errorf("%w: %s low %q", exchange.ErrMalformedData, symbol, k.Low)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, fmt.Errorf("%w: %s volume %q", exchange.ErrMalformedData, symbol, k.Volume)
		}
		candles[i] = exchange.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Open:      open,
			Close:     cls,
			High:      high,
			Low:       low,
			Volume:    volume,
		}
	}
	return candles, nil
}

func (m *MarketSource) ListMarkets(ctx context.Context) ([]exchange.Market, error) {
	info, err := m.cli.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return lo.Map(info.Symbols, func(item binance.Symbol, index int) exchange.Market {
		return exchange.Market{
			Raw:    fmt.Sprintf("%s/%s", item.BaseAsset, item.QuoteAsset),
			Active: item.Status == "TRADING",
		}
	}), nil
}

// classify 把币安客户端错误映射到统一错误分类
func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", exchange.ErrProvider, apiErr.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", exchange.ErrNetwork, err.Error())
	}
	return err
}
