package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// MAStrategyConfig 一组均线排列策略, 周期必须为3个且严格递增
type MAStrategyConfig struct {
	Periods   []int  `mapstructure:"periods" json:"periods" validate:"len=3,dive,gt=0"`
	Timeframe string `mapstructure:"timeframe" json:"timeframe" validate:"required"`
}

type TelegramConfig struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled"`
	Token   string   `mapstructure:"token" json:"token"`
	ChatIDs []string `mapstructure:"chat_ids" json:"chat_ids"`
}

type WeChatConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

type Config struct {
	Exchanges []string `mapstructure:"exchanges" json:"exchanges" validate:"min=1"`
	// Proxy 形如 http://127.0.0.1:7890, 为空则直连
	Proxy string `mapstructure:"proxy" json:"proxy"`

	// CheckInterval 轮询周期(秒)
	CheckInterval int `mapstructure:"check_interval" json:"check_interval" validate:"gte=30"`
	// MaxPairs 单数据源监控标的上限
	MaxPairs int `mapstructure:"max_pairs" json:"max_pairs" validate:"gt=0,lte=2000"`

	EnablePriceMonitor bool   `mapstructure:"enable_price_monitor" json:"enable_price_monitor"`
	PriceTimeframe     string `mapstructure:"price_timeframe" json:"price_timeframe" validate:"required"`
	// PricePeriod 涨跌幅计算窗口(K线根数)
	PricePeriod    int     `mapstructure:"price_period" json:"price_period" validate:"gte=2,lte=500"`
	PriceThreshold float64 `mapstructure:"price_threshold" json:"price_threshold" validate:"gte=0.1,lte=50"`
	// PriceDirection up/down/both
	PriceDirection string `mapstructure:"price_direction" json:"price_direction" validate:"oneof=up down both"`

	ExcludedPairs []string `mapstructure:"excluded_pairs" json:"excluded_pairs"`

	MAStrategies    []MAStrategyConfig `mapstructure:"ma_strategies" json:"ma_strategies" validate:"dive"`
	EnableBullishMA bool               `mapstructure:"enable_bullish_ma" json:"enable_bullish_ma"`
	EnableBearishMA bool               `mapstructure:"enable_bearish_ma" json:"enable_bearish_ma"`

	// AlertCooldown 同标的同类型告警冷却(秒)
	AlertCooldown int `mapstructure:"alert_cooldown" json:"alert_cooldown" validate:"gt=0"`
	// MemCleanInterval 内存清理周期(秒)
	MemCleanInterval int `mapstructure:"mem_clean_interval" json:"mem_clean_interval" validate:"gt=0"`

	// MinIntervalOverrides 按数据源覆盖最小请求间隔(毫秒)
	MinIntervalOverrides map[string]int `mapstructure:"min_interval_overrides" json:"min_interval_overrides"`

	// StockList 股票行情源监控的代码列表, 如 sh600519
	StockList []string `mapstructure:"stock_list" json:"stock_list"`

	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	WeChat   WeChatConfig   `mapstructure:"wechat" json:"wechat"`
}

func DefaultConfig() Config {
	return Config{
		Exchanges:          []string{"binance"},
		CheckInterval:      300,
		MaxPairs:           500,
		EnablePriceMonitor: true,
		PriceTimeframe:     "5m",
		PricePeriod:        15,
		PriceThreshold:     5.0,
		PriceDirection:     "both",
		MAStrategies: []MAStrategyConfig{
			{Periods: []int{5, 20, 60}, Timeframe: "1h"},
		},
		AlertCooldown:    6000,
		MemCleanInterval: 600,
		MinIntervalOverrides: map[string]int{
			"htx": 250,
		},
	}
}

// Validate 一次性收集全部校验问题, 而不是在第一个问题处停下
func (c Config) Validate() error {
	var violations []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				violations = append(violations,
					fmt.Sprintf("%s 不满足约束 %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
		} else {
			violations = append(violations, err.Error())
		}
	}

	for i, s := range c.MAStrategies {
		if len(s.Periods) == 3 && !(s.Periods[0] < s.Periods[1] && s.Periods[1] < s.Periods[2]) {
			violations = append(violations,
				fmt.Sprintf("ma_strategies[%d].periods 必须严格递增", i))
		}
	}

	if c.Proxy != "" && !strings.HasPrefix(c.Proxy, "http://") && !strings.HasPrefix(c.Proxy, "https://") {
		violations = append(violations, "proxy 必须以 http:// 或 https:// 开头")
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			violations = append(violations, "telegram 已启用但缺少 token")
		}
		if len(c.Telegram.ChatIDs) == 0 {
			violations = append(violations, "telegram 已启用但缺少 chat_ids")
		}
	}
	if c.WeChat.Enabled && c.WeChat.WebhookURL == "" {
		violations = append(violations, "wechat 已启用但缺少 webhook_url")
	}

	if len(violations) > 0 {
		return errors.New(strings.Join(violations, "; "))
	}
	return nil
}

// Patch 部分更新, nil字段保持原值
type Patch struct {
	CheckInterval      *int
	MaxPairs           *int
	EnablePriceMonitor *bool
	PriceTimeframe     *string
	PricePeriod        *int
	PriceThreshold     *float64
	PriceDirection     *string
	ExcludedPairs      *[]string
	MAStrategies       *[]MAStrategyConfig
	EnableBullishMA    *bool
	EnableBearishMA    *bool
	AlertCooldown      *int
	MemCleanInterval   *int
}

func (c Config) Apply(p Patch) Config {
	if p.CheckInterval != nil {
		c.CheckInterval = *p.CheckInterval
	}
	if p.MaxPairs != nil {
		c.MaxPairs = *p.MaxPairs
	}
	if p.EnablePriceMonitor != nil {
		c.EnablePriceMonitor = *p.EnablePriceMonitor
	}
	if p.PriceTimeframe != nil {
		c.PriceTimeframe = *p.PriceTimeframe
	}
	if p.PricePeriod != nil {
		c.PricePeriod = *p.PricePeriod
	}
	if p.PriceThreshold != nil {
		c.PriceThreshold = *p.PriceThreshold
	}
	if p.PriceDirection != nil {
		c.PriceDirection = *p.PriceDirection
	}
	if p.ExcludedPairs != nil {
		c.ExcludedPairs = *p.ExcludedPairs
	}
	if p.MAStrategies != nil {
		c.MAStrategies = *p.MAStrategies
	}
	if p.EnableBullishMA != nil {
		c.EnableBullishMA = *p.EnableBullishMA
	}
	if p.EnableBearishMA != nil {
		c.EnableBearishMA = *p.EnableBearishMA
	}
	if p.AlertCooldown != nil {
		c.AlertCooldown = *p.AlertCooldown
	}
	if p.MemCleanInterval != nil {
		c.MemCleanInterval = *p.MemCleanInterval
	}
	return c
}

// LoadConfig 读取配置文件, 缺失字段由默认值补齐;
// 文件不存在或内容非法时回退到默认配置, 不中断启动
func LoadConfig(path string) Config {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config file unavailable, using defaults", "path", path, "error", err)
		return cfg
	}
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Warn("config file malformed, using defaults", "path", path, "error", err)
		return DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		slog.Warn("config invalid, using defaults", "path", path, "error", err)
		return DefaultConfig()
	}
	return cfg
}

func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
