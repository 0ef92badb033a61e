package tencent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KNICEX/crypto-monitor/internal/service/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, quoteHandler, klineHandler http.HandlerFunc) *StockSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/kline") {
			require.NotNil(t, klineHandler)
			klineHandler(w, r)
			return
		}
		require.NotNil(t, quoteHandler)
		quoteHandler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewStockSource(
		[]string{"sh600519"},
		WithHTTPClient(srv.Client()),
		WithEndpoints(srv.URL, srv.URL+"/kline"),
	)
}

func TestLatestPrice(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		// 11列以上的报价报文, 第4列为最新价
		fmt.Fprint(w, `v_sh600519="1~贵州茅台~600519~1688.00~1690.00~1685.00~12345~0~0~1688.50~0~x"`)
	}, nil)

	price, err := src.LatestPrice(context.Background(), "sh600519")
	require.NoError(t, err)
	assert.Equal(t, "1688", price.String())
}

func TestLatestPriceMalformed(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `v_sh600519="1~too~short"`)
	}, nil)

	_, err := src.LatestPrice(context.Background(), "sh600519")
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrMalformedData))
}

func TestFetchCandles(t *testing.T) {
	src := newTestSource(t, nil, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"sh600519":{"m5":[
			["202508280930","1680.00","1682.00","1683.00","1679.00","100"],
			["202508280935","1682.00","1685.00","1686.00","1681.00","120"]
		]}}}`)
	})

	candles, err := src.FetchCandles(context.Background(), "sh600519", exchange.Interval5m, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "1682", candles[0].Close.String())
	assert.Equal(t, "1685", candles[1].Close.String())
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
}

func TestFetchCandlesShortSeries(t *testing.T) {
	src := newTestSource(t, nil, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"sh600519":{"m5":[
			["202508280930","1680.00","1682.00","1683.00","1679.00","100"]
		]}}}`)
	})

	_, err := src.FetchCandles(context.Background(), "sh600519", exchange.Interval5m, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrProvider))
}

func TestFetchCandlesUnsupportedInterval(t *testing.T) {
	src := NewStockSource([]string{"sh600519"})
	_, err := src.FetchCandles(context.Background(), "sh600519", exchange.Interval1w, 10)
	assert.Error(t, err)
}

func TestListMarkets(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `v_sh600519="1~贵州茅台~600519~1688.00~1690.00~1685.00~12345~0~0~1688.50~0~x"`)
	}, nil)

	markets, err := src.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "sh600519", markets[0].Raw)
	assert.True(t, markets[0].Active)
}
