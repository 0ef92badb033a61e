package tencent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// 腾讯行情接口, 用于A股监控。
// K线来自 web.ifzq.gtimg.cn, 最新报价来自 qt.gtimg.cn(防止分钟线延迟)。
const (
	defaultQuoteURL = "https://qt.gtimg.cn"
	defaultKlineURL = "https://web.ifzq.gtimg.cn/appstock/app/kline/mkline"
)

var _ exchange.MarketSource = (*StockSource)(nil)

type StockSource struct {
	cli      *http.Client
	quoteURL string
	klineURL string
	stocks   []string // 配置的股票代码列表, 如 sh600519
}

type Option func(s *StockSource)

func WithHTTPClient(cli *http.Client) Option {
	return func(s *StockSource) {
		s.cli = cli
	}
}

func WithEndpoints(quoteURL, klineURL string) Option {
	return func(s *StockSource) {
		s.quoteURL = quoteURL
		s.klineURL = klineURL
	}
}

func NewStockSource(stocks []string, opts ...Option) *StockSource {
	s := &StockSource{
		cli:      &http.Client{Timeout: 5 * time.Second},
		quoteURL: defaultQuoteURL,
		klineURL: defaultKlineURL,
		stocks:   stocks,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StockSource) Name() string {
	return "tencent"
}

// QuoteCurrency 股票代码不按计价币种过滤
func (s *StockSource) QuoteCurrency() string {
	return ""
}

func (s *StockSource) MinRequestInterval() time.Duration {
	return 200 * time.Millisecond
}

func (s *StockSource) ListMarkets(ctx context.Context) ([]exchange.Market, error) {
	// 股票标的来自配置, 通过一次报价请求确认接口可用
	if len(s.stocks) == 0 {
		return nil, nil
	}
	if _, err := s.LatestPrice(ctx, s.stocks[0]); err != nil {
		return nil, err
	}
	return lo.Map(s.stocks, func(code string, index int) exchange.Market {
		return exchange.Market{Raw: code, Active: true}
	}), nil
}

// LatestPrice 获取最新价, 报文为 ~ 分隔的文本, 第4列为最新价
func (s *StockSource) LatestPrice(ctx context.Context, code string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/q=%s", s.quoteURL, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := s.cli.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", exchange.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: quote status %d", exchange.ErrProvider, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", exchange.ErrNetwork, err.Error())
	}
	fields := strings.Split(string(body), "~")
	if len(fields) <= 10 {
		return decimal.Zero, fmt.Errorf("%w: %s quote has %d fields", exchange.ErrMalformedData, code, len(fields))
	}
	price, err := decimal.NewFromString(fields[3])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s price %q", exchange.ErrMalformedData, code, fields[3])
	}
	return price, nil
}

// 分钟线周期映射
func klinePeriod(interval exchange.Interval) (string, error) {
	switch interval {
	case exchange.Interval1m:
		return "m1", nil
	case exchange.Interval5m:
		return "m5", nil
	case exchange.Interval15m:
		return "m15", nil
	case exchange.Interval30m:
		return "m30", nil
	case exchange.Interval1h:
		return "m60", nil
	default:
		return "", fmt.Errorf("unsupported stock interval: %s", interval)
	}
}

type klineResp struct {
	Code int                                   `json:"code"`
	Data map[string]map[string]json.RawMessage `json:"data"`
}

func (s *StockSource) FetchCandles(ctx context.Context, symbol string, interval exchange.Interval, limit int) ([]exchange.Candle, error) {
	period, err := klinePeriod(interval)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s?param=%s,%s,,%d", s.klineURL, symbol, period, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", exchange.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: kline status %d", exchange.ErrProvider, resp.StatusCode)
	}

	var decoded klineResp
	if err = json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %s", exchange.ErrMalformedData, err.Error())
	}
	if decoded.Code != 0 {
		return nil, fmt.Errorf("%w: kline code %d", exchange.ErrProvider, decoded.Code)
	}

	rawRows, ok := decoded.Data[symbol][period]
	if !ok {
		return nil, fmt.Errorf("%w: %s no %s data", exchange.ErrMalformedData, symbol, period)
	}
	var rows [][]json.RawMessage
	if err = json.Unmarshal(rawRows, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s", exchange.ErrMalformedData, err.Error())
	}
	if len(rows) < limit {
		return nil, fmt.Errorf("%w: %s need %d candles, got %d",
			exchange.ErrProvider, symbol, limit, len(rows))
	}

	candles := make([]exchange.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := convertRow(symbol, row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// cell 单元格既可能是JSON字符串也可能是数字
func cell(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// convertRow 行格式: [时间, 开盘, 收盘, 最高, 最低, 成交量]
func convertRow(symbol string, row []json.RawMessage) (exchange.Candle, error) {
	if len(row) < 6 {
		return exchange.Candle{}, fmt.Errorf("%w: %s row has %d fields", exchange.ErrMalformedData, symbol, len(row))
	}
	ts, err := cell(row[0])
	if err != nil {
		return exchange.Candle{}, fmt.Errorf("%w: %s time cell", exchange.ErrMalformedData, symbol)
	}
	openTime, err := time.ParseInLocation("200601021504", ts, time.Local)
	if err != nil {
		return exchange.Candle{}, fmt.Errorf("%w: %s time %q", exchange.ErrMalformedData, symbol, ts)
	}
	vals := make([]decimal.Decimal, 0, 5)
	for _, rawVal := range row[1:6] {
		v, err := cell(rawVal)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("%w: %s value cell", exchange.ErrMalformedData, symbol)
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("%w: %s value %q", exchange.ErrMalformedData, symbol, v)
		}
		vals = append(vals, d)
	}
	return exchange.Candle{
		OpenTime:  openTime,
		CloseTime: openTime,
		Open:      vals[0],
		Close:     vals[1],
		High:      vals[2],
		Low:       vals[3],
		Volume:    vals[4],
	}, nil
}
