package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 按数据源统计的行情请求次数
	FetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_fetch_attempts_total",
		Help: "The total number of market data fetch attempts.",
	}, []string{"provider"})

	FetchSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_fetch_success_total",
		Help: "The total number of successful market data fetches.",
	}, []string{"provider"})

	// 按类型统计的已触发警报数
	AlertsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_alerts_fired_total",
		Help: "The total number of alerts fired.",
	}, []string{"type"})

	NotifySendFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_notify_send_failed_total",
		Help: "The total number of failed notification deliveries.",
	}, []string{"notifier"})
)
