package data

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/constants"
	bizErrors "xinyuan_tech/marketplace-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// cardGateway 卡支付网关客户端(防腐层)
// 同步创建收银台会话,确认结果由签名 webhook 异步送达,verify 仅作对账兜底。
// 凭证与 webhook 密钥在构造时注入,不使用进程级全局客户端
type cardGateway struct {
	apiBase       string
	apiKey        string
	webhookSecret string
	returnURL     string
	client        *http.Client
	log           *log.Helper
}

func newCardGateway(apiBase, apiKey, webhookSecret, returnURL string, logger log.Logger) *cardGateway {
	return &cardGateway{
		apiBase:       apiBase,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		returnURL:     returnURL,
		client:        &http.Client{},
		log:           log.NewHelper(logger),
	}
}

func (g *cardGateway) Method() string { return constants.PaymentMethodCard }

type cardSessionRequest struct {
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	ReturnURL string `json:"return_url"`
}

type cardSessionResponse struct {
	SessionID    string `json:"session_id"`
	CheckoutURL  string `json:"checkout_url"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
}

// Initiate 创建收银台会话
func (g *cardGateway) Initiate(ctx context.Context, order *biz.Order, details biz.PaymentDetails) (*biz.InitiateResult, error) {
	reqBody := cardSessionRequest{
		OrderID:   order.ID,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
		ReturnURL: g.returnURL,
	}
	var resp cardSessionResponse
	if err := g.post(ctx, "/v1/checkout/sessions", reqBody, &resp); err != nil {
		return nil, err
	}
	return &biz.InitiateResult{
		ProviderRef:  resp.SessionID,
		RedirectURL:  resp.CheckoutURL,
		ClientSecret: resp.ClientSecret,
	}, nil
}

// Verify 查询会话状态(对账兜底,webhook 才是主确认路径)
func (g *cardGateway) Verify(ctx context.Context, providerRef string) (*biz.ProviderResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/v1/checkout/sessions/"+providerRef, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	raw, err := g.do(req)
	if err != nil {
		return nil, err
	}
	var resp cardSessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("card provider returned malformed response: %w", err)
	}
	return &biz.ProviderResult{
		ProviderRef: providerRef,
		Status:      mapCardStatus(resp.Status),
		Amount:      resp.Amount,
		RawPayload:  raw,
	}, nil
}

// Void 作废未完成的会话
func (g *cardGateway) Void(ctx context.Context, providerRef string) error {
	return g.post(ctx, "/v1/checkout/sessions/"+providerRef+"/expire", struct{}{}, nil)
}

// Refund 对已捕获的会话发起退款
func (g *cardGateway) Refund(ctx context.Context, providerRef string, amount int64) error {
	reqBody := map[string]interface{}{"session_id": providerRef, "amount": amount}
	return g.post(ctx, "/v1/refunds", reqBody, nil)
}

// VerifySignature 校验 webhook 签名(HMAC-SHA256, hex)
// 不匹配即拒绝,未经签名校验的报文绝不进入状态机
func (g *cardGateway) VerifySignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return bizErrors.New(bizErrors.ErrCodeInvalidSignature, bizErrors.ReasonInvalidSignature,
			"webhook signature verification failed")
	}
	return nil
}

type cardWebhookEvent struct {
	Type      string `json:"type"` // checkout.session.completed, checkout.session.failed
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	Metadata  struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

// ParseEvent 解析 webhook 报文为提供方结果
func (g *cardGateway) ParseEvent(payload []byte) (*biz.ProviderResult, error) {
	var event cardWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, bizErrors.Newf(bizErrors.ErrCodeInvalidSignature, bizErrors.ReasonInvalidSignature,
			"malformed webhook payload: %v", err)
	}

	var status string
	switch event.Type {
	case "checkout.session.completed":
		status = constants.AttemptStatusSucceeded
	case "checkout.session.failed", "checkout.session.expired":
		status = constants.AttemptStatusFailed
	default:
		return nil, bizErrors.Newf(bizErrors.ErrCodeProviderFailed, bizErrors.ReasonProviderError,
			"unsupported webhook event type %q", event.Type)
	}
	return &biz.ProviderResult{
		ProviderRef: event.SessionID,
		Status:      status,
		Amount:      event.Amount,
		RawPayload:  payload,
	}, nil
}

func (g *cardGateway) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	raw, err := g.do(req)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("card provider returned malformed response: %w", err)
		}
	}
	return nil
}

func (g *cardGateway) do(req *http.Request) ([]byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.log.Errorf("Card provider returned %d: %s", resp.StatusCode, string(raw))
		return nil, fmt.Errorf("card provider returned status %d", resp.StatusCode)
	}
	return raw, nil
}

func mapCardStatus(status string) string {
	switch status {
	case "completed", "paid":
		return constants.AttemptStatusSucceeded
	case "failed", "expired":
		return constants.AttemptStatusFailed
	default:
		return constants.AttemptStatusPending
	}
}
