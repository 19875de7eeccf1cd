package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// notificationClient 通知服务客户端实现(防腐层)
// 投递语义是 fire-and-forget:失败由调用方记录日志,
// 绝不因通知失败回滚触发它的状态变更
type notificationClient struct {
	addr   string
	client *http.Client
	log    *log.Helper
}

// NewNotificationEmitter 创建通知服务客户端
// 未配置地址时返回空实现(优雅降级,通知不是核心链路)
func NewNotificationEmitter(c *conf.Bootstrap, logger log.Logger) biz.NotificationEmitter {
	if c.Client == nil || c.Client.NotificationService == nil || c.Client.NotificationService.Addr == "" {
		return &emptyNotificationEmitter{}
	}
	timeout := defaultClientTimeout
	if c.Client.NotificationService.Timeout != "" {
		if d, err := time.ParseDuration(c.Client.NotificationService.Timeout); err == nil {
			timeout = d
		}
	}
	return &notificationClient{
		addr:   c.Client.NotificationService.Addr,
		client: &http.Client{Timeout: timeout},
		log:    log.NewHelper(logger),
	}
}

type notificationRequest struct {
	UserUID string            `json:"user_uid"`
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

// Emit 发送通知事件
func (c *notificationClient) Emit(ctx context.Context, userUID, notifyType, title, message string, data map[string]string) error {
	reqBody, err := json.Marshal(notificationRequest{
		UserUID: userUID,
		Type:    notifyType,
		Title:   title,
		Message: message,
		Data:    data,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+"/v1/notifications", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}
	return nil
}

// emptyNotificationEmitter 空的通知客户端实现(未配置通知服务时)
type emptyNotificationEmitter struct{}

func (e *emptyNotificationEmitter) Emit(ctx context.Context, userUID, notifyType, title, message string, data map[string]string) error {
	return nil
}
