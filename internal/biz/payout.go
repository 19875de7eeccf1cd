package biz

import (
	"context"
	"time"

	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// PayoutRequest 提现请求,从卖家累计的已释放托管余额中支取,不与单个订单绑定
type PayoutRequest struct {
	ID          string
	VendorUID   string
	Amount      int64
	Method      string // bank_transfer, mobile_money
	Details     string // 方式相关的收款信息(JSON)
	Status      string // pending -> approved | rejected | failed
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PayoutRepo 提现仓库接口
type PayoutRepo interface {
	CreatePayout(ctx context.Context, payout *PayoutRequest) error
	GetPayout(ctx context.Context, payoutID string) (*PayoutRequest, error)
	UpdatePayoutStatus(ctx context.Context, payoutID string, from []string, to string, processedAt *time.Time) (bool, error)
	// SumReservedByVendor 已占用余额 = pending + approved 提现总额
	SumReservedByVendor(ctx context.Context, vendorUID string) (int64, error)
	ListPayoutsByVendor(ctx context.Context, vendorUID string, page, pageSize int) ([]*PayoutRequest, int, error)
	ListPayoutsByStatus(ctx context.Context, status string, page, pageSize int) ([]*PayoutRequest, int, error)
}

// PayoutUsecase 提现工作流
type PayoutUsecase struct {
	escrowRepo EscrowRepo
	payoutRepo PayoutRepo
	gate       AuthorizationGate
	notifier   NotificationEmitter
	locker     Locker
	tm         Transaction
	log        *log.Helper
}

// NewPayoutUsecase 创建提现业务用例
func NewPayoutUsecase(
	escrowRepo EscrowRepo,
	payoutRepo PayoutRepo,
	gate AuthorizationGate,
	notifier NotificationEmitter,
	locker Locker,
	tm Transaction,
	logger log.Logger,
) *PayoutUsecase {
	return &PayoutUsecase{
		escrowRepo: escrowRepo,
		payoutRepo: payoutRepo,
		gate:       gate,
		notifier:   notifier,
		locker:     locker,
		tm:         tm,
		log:        log.NewHelper(logger),
	}
}

// ReleasableBalance 卖家当前可提现余额
// = 已释放托管总额 - 已占用(pending+approved)提现总额
// pending 请求也占用余额,防止并发请求合计超出余额
func (uc *PayoutUsecase) ReleasableBalance(ctx context.Context, vendorUID string) (int64, error) {
	released, err := uc.escrowRepo.SumReleasedByVendor(ctx, vendorUID)
	if err != nil {
		return 0, err
	}
	reserved, err := uc.payoutRepo.SumReservedByVendor(ctx, vendorUID)
	if err != nil {
		return 0, err
	}
	return released - reserved, nil
}

// RequestPayout 发起提现请求
// 余额校验与写入在同一事务内完成,配合每卖家分布式锁,
// 并发请求合计超出余额时至多一个成功,落败方收到 INSUFFICIENT_BALANCE
func (uc *PayoutUsecase) RequestPayout(ctx context.Context, vendorUID string, amount int64, method, details string) (*PayoutRequest, error) {
	uc.log.Infof("RequestPayout: vendor=%s, amount=%d, method=%s", vendorUID, amount, method)

	if amount <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidAmount, errors.ReasonInvalidAmount,
			"payout amount must be positive, got %d", amount)
	}

	identity, err := uc.gate.Identity(ctx, vendorUID)
	if err != nil {
		uc.log.Errorf("Identity lookup failed for %s: %v", vendorUID, err)
		return nil, kerrors.Forbidden("FORBIDDEN", "identity check failed")
	}
	if identity == nil || (identity.Role != "vendor" && identity.Role != "admin") {
		return nil, kerrors.Forbidden("FORBIDDEN", "only vendors can request payouts")
	}

	unlock, err := uc.locker.Lock(ctx, "payout_lock:vendor:"+vendorUID, constants.PayoutLockExpiration)
	if err != nil {
		uc.log.Infof("Payout lock busy for vendor %s", vendorUID)
		return nil, errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict,
			"another payout request for vendor %s is in progress", vendorUID)
	}
	defer unlock()

	now := time.Now().UTC()
	payout := &PayoutRequest{
		ID:        uuid.New().String(),
		VendorUID: vendorUID,
		Amount:    amount,
		Method:    method,
		Details:   details,
		Status:    constants.PayoutStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		// 读-校验-写在同一事务内,写入前重新校验余额,后写者失败
		released, err := uc.escrowRepo.SumReleasedByVendor(ctx, vendorUID)
		if err != nil {
			return err
		}
		reserved, err := uc.payoutRepo.SumReservedByVendor(ctx, vendorUID)
		if err != nil {
			return err
		}
		balance := released - reserved
		if amount > balance {
			return errors.Newf(errors.ErrCodeInsufficientBalance, errors.ReasonInsufficientBalance,
				"requested %d exceeds releasable balance %d", amount, balance)
		}
		return uc.payoutRepo.CreatePayout(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	uc.log.Infof("Payout requested: id=%s, vendor=%s, amount=%d", payout.ID, vendorUID, amount)
	return payout, nil
}

// ApprovePayout 审批通过提现请求
// 需要 manage_payouts 权限;实际转账由提供方执行,此处只记录结果
func (uc *PayoutUsecase) ApprovePayout(ctx context.Context, payoutID, actorUID string) error {
	uc.log.Infof("ApprovePayout: payout=%s, actor=%s", payoutID, actorUID)
	payout, err := uc.requireManageable(ctx, payoutID, actorUID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updated, err := uc.payoutRepo.UpdatePayoutStatus(ctx, payoutID,
		[]string{constants.PayoutStatusPending}, constants.PayoutStatusApproved, &now)
	if err != nil {
		return err
	}
	if !updated {
		return errors.Newf(errors.ErrCodePayoutNotPending, errors.ReasonPayoutNotPending,
			"payout %s is no longer pending", payoutID)
	}

	uc.notify(ctx, payout.VendorUID, constants.NotifyPayoutApproved, "Payout approved",
		"Your payout request has been approved and will be processed",
		map[string]string{"payout_id": payoutID})
	uc.log.Infof("Payout approved: id=%s, amount=%d", payoutID, payout.Amount)
	return nil
}

// RejectPayout 驳回提现请求
// 驳回是终态,不回改托管状态(托管保持 released),卖家可重新发起
func (uc *PayoutUsecase) RejectPayout(ctx context.Context, payoutID, actorUID string) error {
	uc.log.Infof("RejectPayout: payout=%s, actor=%s", payoutID, actorUID)
	payout, err := uc.requireManageable(ctx, payoutID, actorUID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updated, err := uc.payoutRepo.UpdatePayoutStatus(ctx, payoutID,
		[]string{constants.PayoutStatusPending}, constants.PayoutStatusRejected, &now)
	if err != nil {
		return err
	}
	if !updated {
		return errors.Newf(errors.ErrCodePayoutNotPending, errors.ReasonPayoutNotPending,
			"payout %s is no longer pending", payoutID)
	}

	uc.notify(ctx, payout.VendorUID, constants.NotifyPayoutRejected, "Payout rejected",
		"Your payout request has been rejected, you may submit a new request",
		map[string]string{"payout_id": payoutID})
	uc.log.Infof("Payout rejected: id=%s", payoutID)
	return nil
}

// ListVendorPayouts 卖家提现记录列表
func (uc *PayoutUsecase) ListVendorPayouts(ctx context.Context, vendorUID string, page, pageSize int) ([]*PayoutRequest, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > constants.MaxPageSize {
		pageSize = constants.DefaultPageSize
	}
	return uc.payoutRepo.ListPayoutsByVendor(ctx, vendorUID, page, pageSize)
}

// ListPendingPayouts 待审批提现列表(管理端)
func (uc *PayoutUsecase) ListPendingPayouts(ctx context.Context, actorUID string, page, pageSize int) ([]*PayoutRequest, int, error) {
	if err := uc.requireManagePermission(ctx, actorUID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > constants.MaxPageSize {
		pageSize = constants.DefaultPageSize
	}
	return uc.payoutRepo.ListPayoutsByStatus(ctx, constants.PayoutStatusPending, page, pageSize)
}

func (uc *PayoutUsecase) requireManageable(ctx context.Context, payoutID, actorUID string) (*PayoutRequest, error) {
	if err := uc.requireManagePermission(ctx, actorUID); err != nil {
		return nil, err
	}
	payout, err := uc.payoutRepo.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, errors.Newf(errors.ErrCodePayoutNotFound, errors.ReasonPayoutNotFound,
			"payout %s not found", payoutID)
	}
	return payout, nil
}

func (uc *PayoutUsecase) requireManagePermission(ctx context.Context, actorUID string) error {
	allowed, err := uc.gate.Authorize(ctx, actorUID, constants.PermissionManagePayouts)
	if err != nil {
		uc.log.Errorf("Authorization check failed for %s: %v", actorUID, err)
		return kerrors.Forbidden("FORBIDDEN", "authorization check failed")
	}
	if !allowed {
		return kerrors.Forbidden("FORBIDDEN", "manage_payouts permission required")
	}
	return nil
}

// notify 发送通知,失败只记录日志,不影响主流程
func (uc *PayoutUsecase) notify(ctx context.Context, uid, notifyType, title, message string, data map[string]string) {
	if err := uc.notifier.Emit(ctx, uid, notifyType, title, message, data); err != nil {
		uc.log.Warnf("Failed to emit %s notification to %s: %v", notifyType, uid, err)
	}
}
