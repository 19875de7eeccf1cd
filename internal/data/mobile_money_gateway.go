package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/constants"
	bizErrors "xinyuan_tech/marketplace-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// mobileMoneyGateway 移动钱包网关客户端(防腐层)
// initiate 触发提供方向买家手机推送支付请求,该提供方的 webhook 投递
// 不保证可靠,确认以客户端/定时任务轮询 verify 为主
type mobileMoneyGateway struct {
	apiBase    string
	apiKey     string
	merchantID string
	client     *http.Client
	log        *log.Helper
}

func newMobileMoneyGateway(apiBase, apiKey, merchantID string, logger log.Logger) *mobileMoneyGateway {
	return &mobileMoneyGateway{
		apiBase:    apiBase,
		apiKey:     apiKey,
		merchantID: merchantID,
		client:     &http.Client{},
		log:        log.NewHelper(logger),
	}
}

func (g *mobileMoneyGateway) Method() string { return constants.PaymentMethodMobileMoney }

type momoPushRequest struct {
	MerchantID  string `json:"merchant_id"`
	OrderID     string `json:"order_reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PhoneNumber string `json:"phone_number"`
}

type momoTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"` // PENDING, SUCCESS, FAILED, CANCELLED
	Amount        int64  `json:"amount"`
	Message       string `json:"message"`
}

// Initiate 向买家手机推送支付请求
func (g *mobileMoneyGateway) Initiate(ctx context.Context, order *biz.Order, details biz.PaymentDetails) (*biz.InitiateResult, error) {
	if details.PhoneNumber == "" {
		return nil, bizErrors.New(bizErrors.ErrCodeOrderInvalidItems, bizErrors.ReasonValidation,
			"phone number is required for mobile money payments")
	}
	reqBody := momoPushRequest{
		MerchantID:  g.merchantID,
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		PhoneNumber: details.PhoneNumber,
	}
	var resp momoTransactionResponse
	if err := g.post(ctx, "/v1/payments/push", reqBody, &resp); err != nil {
		return nil, err
	}
	return &biz.InitiateResult{
		ProviderRef:  resp.TransactionID,
		Instructions: resp.Message,
	}, nil
}

// Verify 查询交易状态(主确认路径,客户端与定时任务轮询至终态)
func (g *mobileMoneyGateway) Verify(ctx context.Context, providerRef string) (*biz.ProviderResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/v1/payments/"+providerRef, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	raw, err := g.do(req)
	if err != nil {
		return nil, err
	}
	var resp momoTransactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("mobile money provider returned malformed response: %w", err)
	}
	return &biz.ProviderResult{
		ProviderRef: providerRef,
		Status:      mapMomoStatus(resp.Status),
		Amount:      resp.Amount,
		RawPayload:  raw,
	}, nil
}

// Void 取消未完成的推送请求
func (g *mobileMoneyGateway) Void(ctx context.Context, providerRef string) error {
	return g.post(ctx, "/v1/payments/"+providerRef+"/cancel", struct{}{}, nil)
}

// Refund 对已完成的交易发起退款
func (g *mobileMoneyGateway) Refund(ctx context.Context, providerRef string, amount int64) error {
	reqBody := map[string]interface{}{
		"merchant_id":    g.merchantID,
		"transaction_id": providerRef,
		"amount":         amount,
	}
	return g.post(ctx, "/v1/refunds", reqBody, nil)
}

func (g *mobileMoneyGateway) post(ctx context.Context, path string, body interface{}, out interface{}) error {
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
			return fmt.Errorf("mobile money provider returned malformed response: %w", err)
		}
	}
	return nil
}

func (g *mobileMoneyGateway) do(req *http.Request) ([]byte, error) {
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
		g.log.Errorf("Mobile money provider returned %d: %s", resp.StatusCode, string(raw))
		return nil, fmt.Errorf("mobile money provider returned status %d", resp.StatusCode)
	}
	return raw, nil
}

func mapMomoStatus(status string) string {
	switch status {
	case "SUCCESS", "SETTLED":
		return constants.AttemptStatusSucceeded
	case "FAILED", "CANCELLED", "REJECTED":
		return constants.AttemptStatusFailed
	default:
		return constants.AttemptStatusPending
	}
}
