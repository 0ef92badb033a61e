package ioc

import (
	"github.com/KNICEX/crypto-monitor/internal/service/monitor"
	"github.com/KNICEX/crypto-monitor/internal/service/notification"
)

func InitNotifiers(cfg monitor.Config) []notification.Notifier {
	var notifiers []notification.Notifier
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers,
			notification.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatIDs))
	}
	if cfg.WeChat.Enabled {
		notifiers = append(notifiers,
			notification.NewWeChatNotifier(cfg.WeChat.WebhookURL))
	}
	return notifiers
}
