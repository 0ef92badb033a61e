package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var _ Notifier = (*WeChatNotifier)(nil)

// WeChatNotifier 企业微信群机器人webhook。
// 业务结果在响应JSON的errcode里, 不能只看HTTP状态码。
type WeChatNotifier struct {
	cli        *http.Client
	webhookURL string
}

func NewWeChatNotifier(webhookURL string, cli ...*http.Client) *WeChatNotifier {
	n := &WeChatNotifier{
		cli:        &http.Client{Timeout: 5 * time.Second},
		webhookURL: webhookURL,
	}
	if len(cli) > 0 && cli[0] != nil {
		n.cli = cli[0]
	}
	return n
}

func (n *WeChatNotifier) Name() string {
	return "wechat"
}

type wechatPayload struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type wechatResp struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (n *WeChatNotifier) Send(ctx context.Context, text string) error {
	payload := wechatPayload{MsgType: "text"}
	payload.Text.Content = text
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wechat webhook status %d", resp.StatusCode)
	}

	var result wechatResp
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("wechat webhook decode: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("wechat webhook errcode %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

func (n *WeChatNotifier) TestConnection(ctx context.Context) error {
	return n.Send(ctx, "【测试】监控系统webhook连接测试")
}
