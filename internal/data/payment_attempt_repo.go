package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/data/model"
	bizErrors "xinyuan_tech/marketplace-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentAttemptRepo 支付尝试仓库实现
type paymentAttemptRepo struct {
	data *Data
	log  *log.Helper
}

// NewPaymentAttemptRepo 创建支付尝试仓库
func NewPaymentAttemptRepo(data *Data, logger log.Logger) biz.PaymentAttemptRepo {
	return &paymentAttemptRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreatePendingAttempt 创建 pending 支付尝试
// 事务内锁订单行后校验"每订单至多一个 pending 尝试",
// 已存在时返回 ATTEMPT_IN_PROGRESS,并发创建只有一个成功
func (r *paymentAttemptRepo) CreatePendingAttempt(ctx context.Context, attempt *biz.PaymentAttempt) error {
	return r.data.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "order_id = ?", attempt.OrderID).Error; err != nil {
			return err
		}

		var pending int64
		if err := tx.Model(&model.PaymentAttempt{}).
			Where("order_id = ? AND status = ?", attempt.OrderID, constants.AttemptStatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return bizErrors.Newf(bizErrors.ErrCodeAttemptInProgress, bizErrors.ReasonAttemptInProgress,
				"a pending payment attempt already exists for order %s", attempt.OrderID)
		}

		return tx.Create(attemptToModel(attempt)).Error
	})
}

// GetAttemptByRef 按提供方引用获取支付尝试,不存在时返回 nil
func (r *paymentAttemptRepo) GetAttemptByRef(ctx context.Context, providerRef string) (*biz.PaymentAttempt, error) {
	var m model.PaymentAttempt
	err := r.data.DB(ctx).First(&m, "provider_ref = ?", providerRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get attempt by ref %s: %v", providerRef, err)
		return nil, err
	}
	return attemptToBiz(&m), nil
}

// GetLatestAttempt 获取订单最新一条支付尝试,没有时返回 nil
func (r *paymentAttemptRepo) GetLatestAttempt(ctx context.Context, orderID string) (*biz.PaymentAttempt, error) {
	var m model.PaymentAttempt
	err := r.data.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get latest attempt for order %s: %v", orderID, err)
		return nil, err
	}
	return attemptToBiz(&m), nil
}

// UpdateAttemptStatus 条件状态更新,rawPayload 非空时一并落库(审计/回放)
func (r *paymentAttemptRepo) UpdateAttemptStatus(ctx context.Context, attemptID string, from []string, to string, rawPayload []byte) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": nowUTC()}
	if len(rawPayload) > 0 {
		updates["raw_payload"] = rawPayload
	}
	result := r.data.DB(ctx).Model(&model.PaymentAttempt{}).
		Where("payment_attempt_id = ? AND status IN ?", attemptID, from).
		Updates(updates)
	if result.Error != nil {
		r.log.Errorf("Failed to update attempt %s status to %s: %v", attemptID, to, result.Error)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListStalePending 列出超过时限仍 pending 的尝试,provider 为空时不过滤方式
func (r *paymentAttemptRepo) ListStalePending(ctx context.Context, provider string, olderThan time.Time, limit int) ([]*biz.PaymentAttempt, error) {
	query := r.data.DB(ctx).
		Where("status = ? AND created_at < ?", constants.AttemptStatusPending, olderThan)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var models []model.PaymentAttempt
	if err := query.Order("created_at ASC").Limit(limit).Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list stale pending attempts: %v", err)
		return nil, err
	}

	attempts := make([]*biz.PaymentAttempt, len(models))
	for i := range models {
		attempts[i] = attemptToBiz(&models[i])
	}
	return attempts, nil
}

// ListAttemptsByOrder 订单支付尝试历史,按创建时间正序
func (r *paymentAttemptRepo) ListAttemptsByOrder(ctx context.Context, orderID string) ([]*biz.PaymentAttempt, error) {
	var models []model.PaymentAttempt
	err := r.data.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list attempts for order %s: %v", orderID, err)
		return nil, err
	}

	attempts := make([]*biz.PaymentAttempt, len(models))
	for i := range models {
		attempts[i] = attemptToBiz(&models[i])
	}
	return attempts, nil
}

func attemptToModel(a *biz.PaymentAttempt) *model.PaymentAttempt {
	return &model.PaymentAttempt{
		ID:          a.ID,
		OrderID:     a.OrderID,
		Provider:    a.Provider,
		ProviderRef: a.ProviderRef,
		Amount:      a.Amount,
		Status:      a.Status,
		RawPayload:  a.RawPayload,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func attemptToBiz(m *model.PaymentAttempt) *biz.PaymentAttempt {
	return &biz.PaymentAttempt{
		ID:          m.ID,
		OrderID:     m.OrderID,
		Provider:    m.Provider,
		ProviderRef: m.ProviderRef,
		Amount:      m.Amount,
		Status:      m.Status,
		RawPayload:  m.RawPayload,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
