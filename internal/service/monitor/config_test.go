package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckInterval = 5       // 低于下限
	cfg.MaxPairs = 5000         // 超过上限
	cfg.PriceThreshold = 0.01   // 低于下限
	cfg.PriceDirection = "side" // 非法取值
	cfg.Proxy = "socks5://127.0.0.1:1080"
	cfg.MAStrategies = []MAStrategyConfig{
		{Periods: []int{20, 5, 60}, Timeframe: "1h"}, // 非递增
	}
	cfg.Telegram = TelegramConfig{Enabled: true} // 缺 token 和 chat_ids

	err := cfg.Validate()
	require.Error(t, err)

	// 一次性报告全部问题, 而不是只报第一个
	msg := err.Error()
	for _, want := range []string{
		"CheckInterval", "MaxPairs", "PriceThreshold", "PriceDirection",
		"递增", "proxy", "token", "chat_ids",
	} {
		assert.Contains(t, msg, want)
	}
	assert.GreaterOrEqual(t, strings.Count(msg, ";"), 6)
}

func TestValidateWeChatNeedsWebhook(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WeChat.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook_url")
}

func TestApplyPatch(t *testing.T) {
	cfg := DefaultConfig()
	interval := 60
	threshold := 8.5
	timeframe := "15m"
	memClean := 120
	next := cfg.Apply(Patch{
		CheckInterval:    &interval,
		PriceThreshold:   &threshold,
		PriceTimeframe:   &timeframe,
		MemCleanInterval: &memClean,
	})

	assert.Equal(t, 60, next.CheckInterval)
	assert.Equal(t, 8.5, next.PriceThreshold)
	assert.Equal(t, "15m", next.PriceTimeframe)
	assert.Equal(t, 120, next.MemCleanInterval)
	// 未指定的字段保持原值
	assert.Equal(t, cfg.MaxPairs, next.MaxPairs)
	assert.Equal(t, cfg.PriceDirection, next.PriceDirection)
	// 原配置不被修改
	assert.Equal(t, 300, cfg.CheckInterval)
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, DefaultConfig().CheckInterval, cfg.CheckInterval)
}

func TestLoadConfigMalformedFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	cfg := LoadConfig(path)
	assert.Equal(t, DefaultConfig().MaxPairs, cfg.MaxPairs)
}

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"check_interval": 120, "price_threshold": 3.5}`), 0o644))

	cfg := LoadConfig(path)
	assert.Equal(t, 120, cfg.CheckInterval)
	assert.Equal(t, 3.5, cfg.PriceThreshold)
	// 文件未覆盖的字段取默认值
	assert.Equal(t, 500, cfg.MaxPairs)
	assert.Equal(t, "both", cfg.PriceDirection)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.CheckInterval = 90
	cfg.ExcludedPairs = []string{"DOGE/USDT"}
	require.NoError(t, SaveConfig(path, cfg))

	loaded := LoadConfig(path)
	assert.Equal(t, 90, loaded.CheckInterval)
	assert.Equal(t, []string{"DOGE/USDT"}, loaded.ExcludedPairs)
}
