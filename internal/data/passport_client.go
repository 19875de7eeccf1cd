package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultClientTimeout = 5 * time.Second

// passportClient 权限服务客户端实现(防腐层)
// 传输层失败时返回错误,由调用方按拒绝处理,绝不降级放行
type passportClient struct {
	addr   string
	client *http.Client
	log    *log.Helper
}

// NewAuthorizationGate 创建权限服务客户端
func NewAuthorizationGate(c *conf.Bootstrap, logger log.Logger) biz.AuthorizationGate {
	timeout := defaultClientTimeout
	if c.Client.PassportService.Timeout != "" {
		if d, err := time.ParseDuration(c.Client.PassportService.Timeout); err == nil {
			timeout = d
		}
	}
	return &passportClient{
		addr:   c.Client.PassportService.Addr,
		client: &http.Client{Timeout: timeout},
		log:    log.NewHelper(logger),
	}
}

type authorizeRequest struct {
	UID        string `json:"uid"`
	Permission string `json:"permission"`
}

type authorizeResponse struct {
	Allowed bool `json:"allowed"`
}

// Authorize 校验用户权限
func (c *passportClient) Authorize(ctx context.Context, actorUID, permission string) (bool, error) {
	reqBody, err := json.Marshal(authorizeRequest{UID: actorUID, Permission: permission})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+"/v1/authorize", bytes.NewReader(reqBody))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Errorf("Authorize call failed for %s: %v", actorUID, err)
		return false, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("passport service returned status %d", resp.StatusCode)
	}

	var result authorizeResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, err
	}
	return result.Allowed, nil
}

type identityResponse struct {
	UID         string `json:"uid"`
	Role        string `json:"role"`
	AccessLevel int    `json:"access_level"`
}

// Identity 查询用户角色与访问级别
func (c *passportClient) Identity(ctx context.Context, actorUID string) (*biz.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/v1/users/"+actorUID+"/identity", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Errorf("Identity call failed for %s: %v", actorUID, err)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("passport service returned status %d", resp.StatusCode)
	}

	var result identityResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &biz.Identity{
		UID:         result.UID,
		Role:        result.Role,
		AccessLevel: result.AccessLevel,
	}, nil
}
