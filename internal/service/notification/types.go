package notification

import "context"

// Notifier 任意可接收文本消息的通知渠道
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string) error
	// TestConnection 发送一条测试消息验证渠道可用
	TestConnection(ctx context.Context) error
}
