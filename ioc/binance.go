package ioc

import (
	"net/http"
	"net/url"

	"github.com/adshao/go-binance/v2"
	"github.com/spf13/viper"
)

func InitBinanceCli(proxy string) *binance.Client {
	type Config struct {
		ApiKey    string `mapstructure:"api_key"`
		ApiSecret string `mapstructure:"api_secret"`
	}

	var cfg Config
	if err := viper.UnmarshalKey("cex.binance", &cfg); err != nil {
		panic(err)
	}

	cli := binance.NewClient(cfg.ApiKey, cfg.ApiSecret)
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			panic(err)
		}
		cli.HTTPClient = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}
	return cli
}
