package service

import (
	"io"
	"time"

	"xinyuan_tech/marketplace-service/internal/auth"
	"xinyuan_tech/marketplace-service/internal/biz"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

type beginPaymentRequest struct {
	Method      string `json:"method"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type beginPaymentReply struct {
	ProviderRef  string `json:"provider_ref"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type attemptReply struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Provider    string    `json:"provider"`
	ProviderRef string    `json:"provider_ref"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeginPayment 发起支付
func (s *MarketplaceService) BeginPayment(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	orderID := ctx.Vars().Get("id")

	var req beginPaymentRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.BadRequest("VALIDATION_ERROR", "malformed request body")
	}

	result, err := s.paymentUC.BeginPayment(ctx, orderID, uid, req.Method, biz.PaymentDetails{PhoneNumber: req.PhoneNumber})
	if err != nil {
		return err
	}
	return ctx.Result(200, &beginPaymentReply{
		ProviderRef:  result.ProviderRef,
		RedirectURL:  result.RedirectURL,
		ClientSecret: result.ClientSecret,
		Instructions: result.Instructions,
	})
}

// VerifyPayment 主动向渠道核对支付结果
func (s *MarketplaceService) VerifyPayment(ctx khttp.Context) error {
	if _, err := auth.RequireUID(ctx); err != nil {
		return err
	}
	reference := ctx.Query().Get("reference")
	if reference == "" {
		return kerrors.BadRequest("VALIDATION_ERROR", "reference is required")
	}

	status, err := s.paymentUC.VerifyAttempt(ctx, reference)
	if err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"reference": reference, "status": status})
}

// ListOrderPayments 查询订单的支付记录
func (s *MarketplaceService) ListOrderPayments(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	orderID := ctx.Vars().Get("id")

	// 可见性校验与订单查询一致
	if _, err := s.orderUC.GetOrder(ctx, orderID, uid, auth.IsAdmin(ctx)); err != nil {
		return err
	}
	attempts, err := s.paymentUC.ListOrderAttempts(ctx, orderID)
	if err != nil {
		return err
	}
	replies := make([]*attemptReply, len(attempts))
	for i, attempt := range attempts {
		replies[i] = &attemptReply{
			ID:          attempt.ID,
			OrderID:     attempt.OrderID,
			Provider:    attempt.Provider,
			ProviderRef: attempt.ProviderRef,
			Amount:      attempt.Amount,
			Status:      attempt.Status,
			CreatedAt:   attempt.CreatedAt,
		}
	}
	return ctx.Result(200, map[string]interface{}{"attempts": replies})
}

type cashCollectionRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

// ConfirmCashCollection 配送员确认现金收款,权限在用例层经 passport-service 校验
func (s *MarketplaceService) ConfirmCashCollection(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}

	var req cashCollectionRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.BadRequest("VALIDATION_ERROR", "malformed request body")
	}
	if req.Reference == "" {
		return kerrors.BadRequest("VALIDATION_ERROR", "reference is required")
	}

	if err := s.paymentUC.ConfirmCashCollection(ctx, uid, req.Reference, req.Amount); err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"status": "confirmed"})
}

// CardWebhook 银行卡渠道回调,先验签再处理
func (s *MarketplaceService) CardWebhook(ctx khttp.Context) error {
	req := ctx.Request()
	payload, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return kerrors.BadRequest("VALIDATION_ERROR", "unreadable request body")
	}

	signature := req.Header.Get("X-Webhook-Signature")
	if err := s.verifier.VerifySignature(payload, signature); err != nil {
		s.log.WithContext(ctx).Warnf("reject card webhook: invalid signature: %v", err)
		return err
	}

	event, err := s.verifier.ParseEvent(payload)
	if err != nil {
		s.log.WithContext(ctx).Warnf("reject card webhook: unparseable event: %v", err)
		return err
	}

	if err := s.paymentUC.HandlePaymentResult(ctx, event.ProviderRef, event.Status, event.Amount, payload); err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"received": "true"})
}
