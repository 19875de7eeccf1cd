package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// PaymentAttempt 支付尝试,按订单追加记录,最新一条为准
type PaymentAttempt struct {
	ID          string
	OrderID     string
	Provider    string // card, mobile_money, cash
	ProviderRef string
	Amount      int64
	Status      string // initiated -> pending -> succeeded | failed
	RawPayload  []byte // 提供方原始报文,审计/回放用
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentDetails 发起支付的方式相关参数
type PaymentDetails struct {
	// PhoneNumber 手机钱包号码(mobile_money)
	PhoneNumber string
}

// InitiateResult 网关受理结果
type InitiateResult struct {
	ProviderRef  string
	RedirectURL  string // card: 收银台跳转地址
	ClientSecret string // card: 客户端确认密钥
	Instructions string // mobile_money: 推送提示文案
}

// ProviderResult 提供方侧交易结果
type ProviderResult struct {
	ProviderRef string
	Status      string // pending, succeeded, failed
	Amount      int64
	RawPayload  []byte
}

// PaymentGateway 支付网关接口(防腐层)
// 两个实现:卡支付(webhook 为主确认路径)与移动钱包(轮询 verify 为主确认路径)
type PaymentGateway interface {
	Method() string
	Initiate(ctx context.Context, order *Order, details PaymentDetails) (*InitiateResult, error)
	Verify(ctx context.Context, providerRef string) (*ProviderResult, error)
	Void(ctx context.Context, providerRef string) error
	Refund(ctx context.Context, providerRef string, amount int64) error
}

// GatewayRegistry 按支付方式查找网关
type GatewayRegistry interface {
	ForMethod(method string) (PaymentGateway, error)
}

// WebhookVerifier 支付结果 webhook 校验与解析(卡支付提供方)
// 签名不匹配必须整体拒绝,这是安全边界而不是尽力而为的检查:
// 任何状态变更之前先过签名
type WebhookVerifier interface {
	VerifySignature(payload []byte, signature string) error
	ParseEvent(payload []byte) (*ProviderResult, error)
}

// PaymentAttemptRepo 支付尝试仓库接口
// CreatePendingAttempt 在同一事务内校验"每订单至多一个 pending 尝试",
// 已存在 pending 尝试时返回 ATTEMPT_IN_PROGRESS 错误
type PaymentAttemptRepo interface {
	CreatePendingAttempt(ctx context.Context, attempt *PaymentAttempt) error
	GetAttemptByRef(ctx context.Context, providerRef string) (*PaymentAttempt, error)
	GetLatestAttempt(ctx context.Context, orderID string) (*PaymentAttempt, error)
	UpdateAttemptStatus(ctx context.Context, attemptID string, from []string, to string, rawPayload []byte) (bool, error)
	ListStalePending(ctx context.Context, provider string, olderThan time.Time, limit int) ([]*PaymentAttempt, error)
	ListAttemptsByOrder(ctx context.Context, orderID string) ([]*PaymentAttempt, error)
}

// PaymentUsecase 支付台账:发起支付、消费异步确认结果
type PaymentUsecase struct {
	orderRepo   OrderRepo
	attemptRepo PaymentAttemptRepo
	escrowRepo  EscrowRepo
	gateways    GatewayRegistry
	gate        AuthorizationGate
	locker      Locker
	notifier    NotificationEmitter
	tm          Transaction
	log         *log.Helper
}

// NewPaymentUsecase 创建支付业务用例
func NewPaymentUsecase(
	orderRepo OrderRepo,
	attemptRepo PaymentAttemptRepo,
	escrowRepo EscrowRepo,
	gateways GatewayRegistry,
	gate AuthorizationGate,
	locker Locker,
	notifier NotificationEmitter,
	tm Transaction,
	logger log.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		orderRepo:   orderRepo,
		attemptRepo: attemptRepo,
		escrowRepo:  escrowRepo,
		gateways:    gateways,
		gate:        gate,
		locker:      locker,
		notifier:    notifier,
		tm:          tm,
		log:         log.NewHelper(logger),
	}
}

// BeginPayment 发起支付
// 仅 created/payment_failed 状态可发起;同一订单的并发调用经分布式锁与
// CreatePendingAttempt 的事务内校验串行化,落败方收到 ATTEMPT_IN_PROGRESS。
// 网关 initiate 超时不落任何记录,订单保持原状态,调用方可安全重试
func (uc *PaymentUsecase) BeginPayment(ctx context.Context, orderID, actorUID, method string, details PaymentDetails) (*InitiateResult, error) {
	uc.log.Infof("BeginPayment: order=%s, actor=%s, method=%s", orderID, actorUID, method)

	gateway, err := uc.gateways.ForMethod(method)
	if err != nil {
		return nil, err
	}

	unlock, err := uc.locker.Lock(ctx, "order_payment_lock:"+orderID, constants.OrderLockExpiration)
	if err != nil {
		uc.log.Infof("Payment lock busy for order %s", orderID)
		return nil, errors.Newf(errors.ErrCodeAttemptInProgress, errors.ReasonAttemptInProgress,
			"a payment attempt for order %s is already in progress", orderID)
	}
	defer unlock()

	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.Newf(errors.ErrCodeOrderNotFound, errors.ReasonOrderNotFound, "order %s not found", orderID)
	}
	if actorUID != order.BuyerUID {
		return nil, kerrors.Forbidden("FORBIDDEN", "only the buyer can pay for an order")
	}
	latest, err := uc.attemptRepo.GetLatestAttempt(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.Status == constants.AttemptStatusPending {
		return nil, errors.Newf(errors.ErrCodeAttemptInProgress, errors.ReasonAttemptInProgress,
			"a pending payment attempt already exists for order %s", orderID)
	}
	if order.Status != constants.OrderStatusCreated && order.Status != constants.OrderStatusPaymentFailed {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition, errors.ReasonInvalidTransition,
			"cannot begin payment for order in status %s", order.Status)
	}

	initCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()
	result, err := gateway.Initiate(initCtx, order, details)
	if err != nil {
		// 超时或提供方失败:不落尝试记录,订单状态不变
		uc.log.Errorf("Gateway initiate failed for order %s: %v", orderID, err)
		return nil, errors.Newf(errors.ErrCodeProviderFailed, errors.ReasonProviderError,
			"payment provider rejected initiation: %v", err)
	}

	now := time.Now().UTC()
	attempt := &PaymentAttempt{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		Provider:    method,
		ProviderRef: result.ProviderRef,
		Amount:      order.TotalAmount, // 发起时锁定为订单总额,不一致的确认将被硬性拒绝
		Status:      constants.AttemptStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.attemptRepo.CreatePendingAttempt(ctx, attempt); err != nil {
			return err
		}
		if _, err := uc.orderRepo.UpdateOrderStatus(ctx, orderID,
			[]string{constants.OrderStatusCreated, constants.OrderStatusPaymentFailed},
			constants.OrderStatusPaymentPending); err != nil {
			return err
		}
		return uc.orderRepo.UpdateOrderPayment(ctx, orderID, constants.AttemptStatusPending, method, result.ProviderRef)
	})
	if err != nil {
		uc.log.Errorf("Failed to record payment attempt for order %s: %v", orderID, err)
		return nil, err
	}

	uc.log.Infof("Payment initiated: order=%s, ref=%s, amount=%d", orderID, result.ProviderRef, attempt.Amount)
	return result, nil
}

// HandlePaymentResult 消费提供方侧的交易结果(webhook 或轮询路径)
// at-least-once 投递下幂等:同一终态结果重复投递为 no-op;
// 与已有终态冲突的结果记录为异常并拒绝,绝不静默接受;
// 金额不一致硬性拒绝,订单转 payment_failed,不创建托管记录
func (uc *PaymentUsecase) HandlePaymentResult(ctx context.Context, providerRef, status string, amount int64, rawPayload []byte) error {
	uc.log.Infof("HandlePaymentResult: ref=%s, status=%s, amount=%d", providerRef, status, amount)

	var (
		confirmed   *Order
		failed      *Order
		mismatchErr error
	)
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		attempt, err := uc.attemptRepo.GetAttemptByRef(ctx, providerRef)
		if err != nil {
			return err
		}
		if attempt == nil {
			// 提供方发来了本系统从未创建过的引用(回放/测试流量),记录后人工处理
			uc.log.Errorf("ANOMALY: payment result for unknown reference %s", providerRef)
			return errors.Newf(errors.ErrCodeUnknownReference, errors.ReasonUnknownReference,
				"no payment attempt matches reference %s", providerRef)
		}

		if attempt.Status == constants.AttemptStatusSucceeded || attempt.Status == constants.AttemptStatusFailed {
			if attempt.Status == status && (status == constants.AttemptStatusFailed || amount == attempt.Amount) {
				// 同一终态结果的重复投递,幂等 no-op,不重放副作用
				uc.log.Infof("Attempt %s already %s, skipping (idempotent)", providerRef, status)
				return nil
			}
			uc.log.Errorf("ANOMALY: result %s/%d conflicts with terminal attempt %s (%s/%d)",
				status, amount, providerRef, attempt.Status, attempt.Amount)
			return errors.Newf(errors.ErrCodeResultConflict, errors.ReasonResultConflict,
				"result %s conflicts with terminal state %s for reference %s", status, attempt.Status, providerRef)
		}

		order, err := uc.orderRepo.GetOrder(ctx, attempt.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return errors.Newf(errors.ErrCodeOrderNotFound, errors.ReasonOrderNotFound, "order %s not found", attempt.OrderID)
		}

		switch status {
		case constants.AttemptStatusSucceeded:
			if amount != attempt.Amount {
				// 金额不一致绝不静默接受:尝试与订单都转失败,留给人工处理。
				// 失败转换必须落库提交,从回调返回错误会整体回滚,
				// 尝试将永远卡在 pending,异常错误在提交之后再报给调用方
				uc.log.Errorf("ANOMALY: amount mismatch for %s: provider=%d, recorded=%d", providerRef, amount, attempt.Amount)
				if err := uc.failAttempt(ctx, attempt, rawPayload); err != nil {
					return err
				}
				failed = order
				mismatchErr = errors.Newf(errors.ErrCodeAmountMismatch, errors.ReasonAmountMismatch,
					"provider amount %d does not match recorded amount %d", amount, attempt.Amount)
				return nil
			}

			updated, err := uc.attemptRepo.UpdateAttemptStatus(ctx, attempt.ID,
				[]string{constants.AttemptStatusInitiated, constants.AttemptStatusPending},
				constants.AttemptStatusSucceeded, rawPayload)
			if err != nil {
				return err
			}
			if !updated {
				return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict,
					"attempt %s was modified concurrently", attempt.ID)
			}
			updated, err = uc.orderRepo.UpdateOrderStatus(ctx, order.ID,
				[]string{constants.OrderStatusPaymentPending}, constants.OrderStatusPaymentConfirmed)
			if err != nil {
				return err
			}
			if !updated {
				return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict,
					"order %s was modified concurrently", order.ID)
			}
			if err := uc.orderRepo.UpdateOrderPayment(ctx, order.ID, constants.AttemptStatusSucceeded, attempt.Provider, providerRef); err != nil {
				return err
			}

			// 托管金额在触发成功的那一刻一次性固定,等于该尝试的金额
			now := time.Now().UTC()
			if err := uc.escrowRepo.CreateEscrow(ctx, &EscrowRecord{
				OrderID:    order.ID,
				VendorUID:  order.VendorUID,
				HeldAmount: attempt.Amount,
				Status:     constants.EscrowStatusHeld,
				CreatedAt:  now,
				UpdatedAt:  now,
			}); err != nil {
				return err
			}
			confirmed = order
			uc.log.Infof("Payment confirmed: order=%s, escrow held %d", order.ID, attempt.Amount)
			return nil

		case constants.AttemptStatusFailed:
			if err := uc.failAttempt(ctx, attempt, rawPayload); err != nil {
				return err
			}
			failed = order
			uc.log.Infof("Payment failed: order=%s, ref=%s", order.ID, providerRef)
			return nil

		default:
			return errors.Newf(errors.ErrCodeProviderFailed, errors.ReasonProviderError,
				"unexpected provider status %q", status)
		}
	})
	if err != nil {
		return err
	}

	// 通知在事务提交之后发送,不随回滚产生幽灵事件
	if failed != nil {
		uc.notify(ctx, failed.BuyerUID, constants.NotifyPaymentFailed, "Payment failed",
			"Your payment could not be completed, you can retry with a new attempt", map[string]string{"order_id": failed.ID})
	}
	if confirmed != nil {
		uc.notify(ctx, confirmed.BuyerUID, constants.NotifyPaymentConfirmed, "Payment confirmed",
			"Your payment was confirmed and is held in escrow until delivery", map[string]string{"order_id": confirmed.ID})
		uc.notify(ctx, confirmed.VendorUID, constants.NotifyPaymentConfirmed, "Order paid",
			"Payment for an order in your shop was confirmed", map[string]string{"order_id": confirmed.ID})
	}
	return mismatchErr
}

// failAttempt 尝试与订单一并转失败(条件更新),通知由调用方在提交后发送
func (uc *PaymentUsecase) failAttempt(ctx context.Context, attempt *PaymentAttempt, rawPayload []byte) error {
	updated, err := uc.attemptRepo.UpdateAttemptStatus(ctx, attempt.ID,
		[]string{constants.AttemptStatusInitiated, constants.AttemptStatusPending},
		constants.AttemptStatusFailed, rawPayload)
	if err != nil {
		return err
	}
	if !updated {
		return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict,
			"attempt %s was modified concurrently", attempt.ID)
	}
	if _, err := uc.orderRepo.UpdateOrderStatus(ctx, attempt.OrderID,
		[]string{constants.OrderStatusPaymentPending}, constants.OrderStatusPaymentFailed); err != nil {
		return err
	}
	return uc.orderRepo.UpdateOrderPayment(ctx, attempt.OrderID, constants.AttemptStatusFailed, attempt.Provider, attempt.ProviderRef)
}

// VerifyAttempt 主动向提供方核对交易状态(移动钱包轮询路径/卡支付对账兜底)
// 有界重试+指数退避,拿到终态后送入 HandlePaymentResult
func (uc *PaymentUsecase) VerifyAttempt(ctx context.Context, providerRef string) (string, error) {
	attempt, err := uc.attemptRepo.GetAttemptByRef(ctx, providerRef)
	if err != nil {
		return "", err
	}
	if attempt == nil {
		return "", errors.Newf(errors.ErrCodeUnknownReference, errors.ReasonUnknownReference,
			"no payment attempt matches reference %s", providerRef)
	}
	if attempt.Status == constants.AttemptStatusSucceeded || attempt.Status == constants.AttemptStatusFailed {
		return attempt.Status, nil
	}

	gateway, err := uc.gateways.ForMethod(attempt.Provider)
	if err != nil {
		return "", err
	}

	var result *ProviderResult
	for i := 0; i < constants.VerifyMaxRetries; i++ {
		verifyCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
		result, err = gateway.Verify(verifyCtx, providerRef)
		cancel()
		if err == nil {
			break
		}
		uc.log.Warnf("Verify %s failed (try %d): %v", providerRef, i+1, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(constants.VerifyRetryBaseDelay * (1 << i)):
		}
	}
	if err != nil {
		return "", errors.Newf(errors.ErrCodeProviderFailed, errors.ReasonProviderError,
			"failed to verify %s: %v", providerRef, err)
	}

	if result.Status == constants.AttemptStatusPending {
		return constants.AttemptStatusPending, nil
	}
	if err := uc.HandlePaymentResult(ctx, providerRef, result.Status, result.Amount, result.RawPayload); err != nil {
		return "", err
	}
	return result.Status, nil
}

// ConfirmCashCollection 记录货到付款的现金收讫
// 只有持 confirm_cash 权限的执行人(配送员/管理员,经 passport-service 校验)
// 可确认,买家不能替自己"收款"
func (uc *PaymentUsecase) ConfirmCashCollection(ctx context.Context, actorUID, providerRef string, amount int64) error {
	uc.log.Infof("ConfirmCashCollection: actor=%s, ref=%s, amount=%d", actorUID, providerRef, amount)

	allowed, err := uc.gate.Authorize(ctx, actorUID, constants.PermissionConfirmCash)
	if err != nil {
		uc.log.Errorf("Authorization check failed for %s: %v", actorUID, err)
		return kerrors.Forbidden("FORBIDDEN", "authorization check failed")
	}
	if !allowed {
		return kerrors.Forbidden("FORBIDDEN", "only an authorized collector can confirm cash collection")
	}

	payload := []byte(fmt.Sprintf(`{"collected_by":%q,"collected_amount":%d,"collected_at":%q}`,
		actorUID, amount, time.Now().UTC().Format(time.RFC3339)))
	return uc.HandlePaymentResult(ctx, providerRef, constants.AttemptStatusSucceeded, amount, payload)
}

// ExpireStaleAttempts 将超时未确认的 pending 尝试标记失败(定时任务)
func (uc *PaymentUsecase) ExpireStaleAttempts(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	attempts, err := uc.attemptRepo.ListStalePending(ctx, "", cutoff, constants.MaxPageSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, attempt := range attempts {
		err := uc.tm.Exec(ctx, func(ctx context.Context) error {
			updated, err := uc.attemptRepo.UpdateAttemptStatus(ctx, attempt.ID,
				[]string{constants.AttemptStatusInitiated, constants.AttemptStatusPending},
				constants.AttemptStatusFailed, nil)
			if err != nil || !updated {
				return err
			}
			if _, err := uc.orderRepo.UpdateOrderStatus(ctx, attempt.OrderID,
				[]string{constants.OrderStatusPaymentPending}, constants.OrderStatusPaymentFailed); err != nil {
				return err
			}
			return uc.orderRepo.UpdateOrderPayment(ctx, attempt.OrderID,
				constants.AttemptStatusFailed, attempt.Provider, attempt.ProviderRef)
		})
		if err != nil {
			uc.log.Errorf("Failed to expire attempt %s: %v", attempt.ID, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		uc.log.Infof("Expired %d stale payment attempts", expired)
	}
	return expired, nil
}

// PollPendingMobileMoney 轮询移动钱包的 pending 尝试(定时任务,webhook 不可靠的兜底)
func (uc *PaymentUsecase) PollPendingMobileMoney(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	attempts, err := uc.attemptRepo.ListStalePending(ctx, constants.PaymentMethodMobileMoney, cutoff, constants.MaxPageSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, attempt := range attempts {
		status, err := uc.VerifyAttempt(ctx, attempt.ProviderRef)
		if err != nil {
			uc.log.Warnf("Poll verify failed for %s: %v", attempt.ProviderRef, err)
			continue
		}
		if status != constants.AttemptStatusPending {
			resolved++
		}
	}
	return resolved, nil
}

// ListOrderAttempts 订单支付尝试历史(追加型台账)
func (uc *PaymentUsecase) ListOrderAttempts(ctx context.Context, orderID string) ([]*PaymentAttempt, error) {
	return uc.attemptRepo.ListAttemptsByOrder(ctx, orderID)
}

// notify 发送通知,失败只记录日志,不影响主流程
func (uc *PaymentUsecase) notify(ctx context.Context, uid, notifyType, title, message string, data map[string]string) {
	if err := uc.notifier.Emit(ctx, uid, notifyType, title, message, data); err != nil {
		uc.log.Warnf("Failed to emit %s notification to %s: %v", notifyType, uid, err)
	}
}
