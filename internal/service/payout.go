package service

import (
	"time"

	"xinyuan_tech/marketplace-service/internal/auth"
	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/constants"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

type requestPayoutRequest struct {
	Amount  int64  `json:"amount"`
	Method  string `json:"method"`
	Details string `json:"details"`
}

type payoutReply struct {
	ID          string     `json:"id"`
	VendorUID   string     `json:"vendor_uid"`
	Amount      int64      `json:"amount"`
	Method      string     `json:"method"`
	Details     string     `json:"details,omitempty"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RequestPayout 商家申请提现
func (s *MarketplaceService) RequestPayout(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}

	var req requestPayoutRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.BadRequest("VALIDATION_ERROR", "malformed request body")
	}

	payout, err := s.payoutUC.RequestPayout(ctx, uid, req.Amount, req.Method, req.Details)
	if err != nil {
		return err
	}
	return ctx.Result(201, payoutToReply(payout))
}

// ApprovePayout 审核通过提现
func (s *MarketplaceService) ApprovePayout(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	payoutID := ctx.Vars().Get("id")

	if err := s.payoutUC.ApprovePayout(ctx, payoutID, uid); err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"status": constants.PayoutStatusApproved})
}

// RejectPayout 驳回提现
func (s *MarketplaceService) RejectPayout(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	payoutID := ctx.Vars().Get("id")

	if err := s.payoutUC.RejectPayout(ctx, payoutID, uid); err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"status": constants.PayoutStatusRejected})
}

// ListPayouts 提现列表。status=pending 供管理员审核,否则返回自己的申请记录
func (s *MarketplaceService) ListPayouts(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	page := atoiDefault(ctx.Query().Get("page"), 1)
	pageSize := atoiDefault(ctx.Query().Get("page_size"), 0)

	var (
		payouts []*biz.PayoutRequest
		total   int
	)
	if ctx.Query().Get("status") == constants.PayoutStatusPending {
		payouts, total, err = s.payoutUC.ListPendingPayouts(ctx, uid, page, pageSize)
	} else {
		payouts, total, err = s.payoutUC.ListVendorPayouts(ctx, uid, page, pageSize)
	}
	if err != nil {
		return err
	}

	replies := make([]*payoutReply, len(payouts))
	for i, payout := range payouts {
		replies[i] = payoutToReply(payout)
	}
	return ctx.Result(200, map[string]interface{}{"payouts": replies, "total": total})
}

// GetReleasableBalance 商家可提现余额
func (s *MarketplaceService) GetReleasableBalance(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}

	balance, err := s.payoutUC.ReleasableBalance(ctx, uid)
	if err != nil {
		return err
	}
	return ctx.Result(200, map[string]interface{}{
		"vendor_uid": uid,
		"balance":    balance,
		"currency":   constants.DefaultCurrency,
	})
}

func payoutToReply(payout *biz.PayoutRequest) *payoutReply {
	return &payoutReply{
		ID:          payout.ID,
		VendorUID:   payout.VendorUID,
		Amount:      payout.Amount,
		Method:      payout.Method,
		Details:     payout.Details,
		Status:      payout.Status,
		ProcessedAt: payout.ProcessedAt,
		CreatedAt:   payout.CreatedAt,
	}
}
