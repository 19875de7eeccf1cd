package biz

import (
	"context"
	"time"

	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// EscrowRecord 托管记录,与订单一一对应
// HeldAmount 在支付尝试成功的那一刻一次性固定,等于该尝试的金额
type EscrowRecord struct {
	OrderID    string
	VendorUID  string
	HeldAmount int64
	Status     string // held -> released | refunded
	ReleasedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EscrowRepo 托管仓库接口
type EscrowRepo interface {
	CreateEscrow(ctx context.Context, record *EscrowRecord) error
	GetEscrow(ctx context.Context, orderID string) (*EscrowRecord, error)
	UpdateEscrowStatus(ctx context.Context, orderID string, from []string, to string, releasedAt *time.Time) (bool, error)
	// SumReleasedByVendor 卖家已释放托管总额(提现余额的正项)
	SumReleasedByVendor(ctx context.Context, vendorUID string) (int64, error)
	// ListRefundOwed 订单已取消但托管仍为 held 的记录(欠退款,定时重试)
	ListRefundOwed(ctx context.Context, limit int) ([]*EscrowRecord, error)
}

// EscrowUsecase 托管台账
type EscrowUsecase struct {
	orderRepo   OrderRepo
	escrowRepo  EscrowRepo
	attemptRepo PaymentAttemptRepo
	gateways    GatewayRegistry
	notifier    NotificationEmitter
	tm          Transaction
	log         *log.Helper
}

// NewEscrowUsecase 创建托管业务用例
func NewEscrowUsecase(
	orderRepo OrderRepo,
	escrowRepo EscrowRepo,
	attemptRepo PaymentAttemptRepo,
	gateways GatewayRegistry,
	notifier NotificationEmitter,
	tm Transaction,
	logger log.Logger,
) *EscrowUsecase {
	return &EscrowUsecase{
		orderRepo:   orderRepo,
		escrowRepo:  escrowRepo,
		attemptRepo: attemptRepo,
		gateways:    gateways,
		notifier:    notifier,
		tm:          tm,
		log:         log.NewHelper(logger),
	}
}

// Release 释放托管资金
// 仅 held 状态可释放;重复释放为幂等 no-op,不重发事件;
// 订单必须已确认收货(delivered),否则拒绝
func (uc *EscrowUsecase) Release(ctx context.Context, orderID, cause string) error {
	uc.log.Infof("Release escrow: order=%s, cause=%s", orderID, cause)

	var released *EscrowRecord
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		record, err := uc.escrowRepo.GetEscrow(ctx, orderID)
		if err != nil {
			return err
		}
		if record == nil {
			return errors.Newf(errors.ErrCodeEscrowNotFound, errors.ReasonEscrowNotFound,
				"no escrow record for order %s", orderID)
		}
		if record.Status == constants.EscrowStatusReleased {
			uc.log.Infof("Escrow for order %s already released, skipping (idempotent)", orderID)
			return nil
		}
		if record.Status != constants.EscrowStatusHeld {
			return errors.Newf(errors.ErrCodeEscrowNotHeld, errors.ReasonEscrowNotHeld,
				"escrow for order %s is %s, cannot release", orderID, record.Status)
		}

		order, err := uc.orderRepo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil || (order.Status != constants.OrderStatusDelivered && order.Status != constants.OrderStatusEscrowReleased) {
			status := ""
			if order != nil {
				status = order.Status
			}
			return errors.Newf(errors.ErrCodeInvalidTransition, errors.ReasonInvalidTransition,
				"escrow release requires a delivered order, order %s is %q", orderID, status)
		}

		now := time.Now().UTC()
		updated, err := uc.escrowRepo.UpdateEscrowStatus(ctx, orderID,
			[]string{constants.EscrowStatusHeld}, constants.EscrowStatusReleased, &now)
		if err != nil {
			return err
		}
		if !updated {
			return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict,
				"escrow for order %s was modified concurrently", orderID)
		}
		if _, err := uc.orderRepo.UpdateOrderStatus(ctx, orderID,
			[]string{constants.OrderStatusDelivered}, constants.OrderStatusEscrowReleased); err != nil {
			return err
		}
		released = record
		return nil
	})
	if err != nil {
		return err
	}

	if released != nil {
		uc.log.Infof("Escrow released: order=%s, amount=%d", orderID, released.HeldAmount)
		uc.notify(ctx, released.VendorUID, constants.NotifyEscrowReleased, "Funds released",
			"Escrowed funds for a delivered order are now available for payout",
			map[string]string{"order_id": orderID})
	}
	return nil
}

// Refund 退款
// 仅 held 状态可退款;提供方退款调用成功之前本地状态不动,
// 调用失败时记录保持 held 并向调用方报告失败,留待重试
func (uc *EscrowUsecase) Refund(ctx context.Context, orderID string) error {
	uc.log.Infof("Refund escrow: order=%s", orderID)

	record, err := uc.escrowRepo.GetEscrow(ctx, orderID)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.Newf(errors.ErrCodeEscrowNotFound, errors.ReasonEscrowNotFound,
			"no escrow record for order %s", orderID)
	}
	if record.Status == constants.EscrowStatusRefunded {
		uc.log.Infof("Escrow for order %s already refunded, skipping (idempotent)", orderID)
		return nil
	}
	if record.Status != constants.EscrowStatusHeld {
		return errors.Newf(errors.ErrCodeEscrowNotHeld, errors.ReasonEscrowNotHeld,
			"escrow for order %s is %s, cannot refund", orderID, record.Status)
	}

	attempt, err := uc.attemptRepo.GetLatestAttempt(ctx, orderID)
	if err != nil {
		return err
	}
	if attempt == nil || attempt.Status != constants.AttemptStatusSucceeded {
		return errors.Newf(errors.ErrCodeRefundFailed, errors.ReasonRefundFailed,
			"no succeeded payment attempt found for order %s", orderID)
	}

	gateway, err := uc.gateways.ForMethod(attempt.Provider)
	if err != nil {
		return err
	}
	refundCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()
	if err := gateway.Refund(refundCtx, attempt.ProviderRef, record.HeldAmount); err != nil {
		// 提供方退款未成功,本地保持 held,不猜测结果
		uc.log.Errorf("Provider refund failed for order %s: %v", orderID, err)
		return errors.Newf(errors.ErrCodeRefundFailed, errors.ReasonRefundFailed,
			"provider refund failed: %v", err)
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		updated, err := uc.escrowRepo.UpdateEscrowStatus(ctx, orderID,
			[]string{constants.EscrowStatusHeld}, constants.EscrowStatusRefunded, nil)
		if err != nil {
			return err
		}
		if !updated {
			return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict,
				"escrow for order %s was modified concurrently", orderID)
		}
		_, err = uc.orderRepo.UpdateOrderStatus(ctx, orderID,
			[]string{constants.OrderStatusCancelled, constants.OrderStatusPaymentConfirmed},
			constants.OrderStatusRefunded)
		return err
	})
	if err != nil {
		return err
	}

	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err == nil && order != nil {
		uc.notify(ctx, order.BuyerUID, constants.NotifyEscrowRefunded, "Refund issued",
			"Your payment has been refunded", map[string]string{"order_id": orderID})
	}
	uc.log.Infof("Escrow refunded: order=%s, amount=%d", orderID, record.HeldAmount)
	return nil
}

// RetryPendingRefunds 重试欠退款的托管记录(定时任务)
// 欠退款 = 订单已取消但托管仍为 held(上次提供方退款失败)
func (uc *EscrowUsecase) RetryPendingRefunds(ctx context.Context) (int, error) {
	records, err := uc.escrowRepo.ListRefundOwed(ctx, constants.MaxPageSize)
	if err != nil {
		return 0, err
	}

	refunded := 0
	for _, record := range records {
		if err := uc.Refund(ctx, record.OrderID); err != nil {
			uc.log.Warnf("Refund retry failed for order %s: %v", record.OrderID, err)
			continue
		}
		refunded++
	}
	if refunded > 0 {
		uc.log.Infof("Retried %d owed refunds successfully", refunded)
	}
	return refunded, nil
}

// notify 发送通知,失败只记录日志,不影响主流程
func (uc *EscrowUsecase) notify(ctx context.Context, uid, notifyType, title, message string, data map[string]string) {
	if err := uc.notifier.Emit(ctx, uid, notifyType, title, message, data); err != nil {
		uc.log.Warnf("Failed to emit %s notification to %s: %v", notifyType, uid, err)
	}
}
