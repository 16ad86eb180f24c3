package datapush

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// 常量定义
const (
	RETRY_TIMES    = 3
	RETRY_INTERVAL = 2 * time.Second
	HTTP_TIMEOUT   = 10 * time.Second
)

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Notifier 钉钉群机器人，secret非空时对请求加签
type Notifier struct {
	webhook       string
	secret        string
	client        *http.Client
	retryTimes    int
	retryInterval time.Duration
	now           func() time.Time
}

func NewNotifier(webhook, secret string) *Notifier {
	return &Notifier{
		webhook:       webhook,
		secret:        secret,
		client:        &http.Client{Timeout: HTTP_TIMEOUT},
		retryTimes:    RETRY_TIMES,
		retryInterval: RETRY_INTERVAL,
		now:           time.Now,
	}
}

// sign 钉钉加签: base64(hmac_sha256(secret, timestamp+"\n"+secret))
func sign(timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signedURL 在webhook上追加timestamp和sign参数
func (n *Notifier) signedURL() (string, error) {
	if n.secret == "" {
		return n.webhook, nil
	}
	u, err := url.Parse(n.webhook)
	if err != nil {
		return "", fmt.Errorf("webhook地址无效: %w", err)
	}
	ts := n.now().UnixMilli()
	q := u.Query()
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", sign(ts, n.secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PushText 发送文本消息
func (n *Notifier) PushText(ctx context.Context, content string) error {
	return n.push(ctx, map[string]interface{}{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
}

// PushReport 以markdown发送清洗摘要
func (n *Notifier) PushReport(ctx context.Context, title, text string) error {
	return n.push(ctx, map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  "### " + title + "\n\n" + text,
		},
	})
}

func (n *Notifier) push(ctx context.Context, payload map[string]interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	return retry(ctx, func() error {
		return n.send(ctx, payloadBytes)
	}, n.retryTimes, n.retryInterval)
}

func (n *Notifier) send(ctx context.Context, payload []byte) error {
	target, err := n.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("钉钉返回HTTP %d", resp.StatusCode)
	}

	var result DingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("发送消息失败(%d): %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// 重试函数
func retry(ctx context.Context, fn func() error, times int, interval time.Duration) error {
	if times < 1 {
		times = 1
	}
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}
