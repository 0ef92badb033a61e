package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/repo"
	"github.com/KNICEX/crypto-monitor/internal/service/alert"
	"github.com/KNICEX/crypto-monitor/internal/service/monitor"
	"github.com/KNICEX/crypto-monitor/internal/service/registry"
	"github.com/KNICEX/crypto-monitor/ioc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func initViper() string {
	// --config=./config/xxx.json
	file := pflag.String("config", "./config/config.json", "specify config file")
	pflag.Parse()

	viper.SetConfigFile(*file)
	if err := viper.ReadInConfig(); err != nil {
		slog.Warn("config file unavailable, using defaults", "path", *file, "error", err)
	}
	return *file
}

func initMetrics() {
	addr := viper.GetString("metrics.addr")
	if addr == "" {
		addr = ":9090"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server exited", "error", err)
		}
	}()
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	file := initViper()
	cfg := monitor.LoadConfig(file)

	db := ioc.InitDB()
	if err := repo.InitTables(db); err != nil {
		panic(err)
	}
	alertRepo := repo.NewAlertRepo(db)

	sources := ioc.InitSources(cfg)
	if len(sources) == 0 {
		panic("no usable market source configured")
	}
	notifiers := ioc.InitNotifiers(cfg)

	prices := alert.NewPriceBook()
	coord := alert.NewCoordinator(alert.NewHistory(alert.DefaultHistoryCapacity), prices,
		alert.WithRepo(alertRepo),
		alert.WithNotifiers(notifiers...),
		alert.WithCooldown(time.Duration(cfg.AlertCooldown)*time.Second),
	)

	m := monitor.New(cfg, sources, coord, prices, registry.New(registry.DefaultTTL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 通知渠道连通性检查, 失败只告警不阻止启动
	for _, n := range notifiers {
		if err := n.TestConnection(ctx); err != nil {
			slog.Warn("notifier connection test failed", "notifier", n.Name(), "error", err)
		}
	}
	if len(notifiers) > 0 {
		coord.NotifyAll(ctx, "🚀 行情监控已启动")
	}

	initMetrics()

	task := monitor.NewTask(m)
	slog.Info("starting task", "task", task.Name())
	if err := task.Run(ctx); err != nil {
		panic(err)
	}
}
