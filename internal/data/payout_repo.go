package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// payoutRepo 提现仓库实现
type payoutRepo struct {
	data *Data
	log  *log.Helper
}

// NewPayoutRepo 创建提现仓库
func NewPayoutRepo(data *Data, logger log.Logger) biz.PayoutRepo {
	return &payoutRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreatePayout 创建提现请求
func (r *payoutRepo) CreatePayout(ctx context.Context, payout *biz.PayoutRequest) error {
	m := payoutToModel(payout)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create payout for vendor %s: %v", payout.VendorUID, err)
		return err
	}
	return nil
}

// GetPayout 获取提现请求,不存在时返回 nil
func (r *payoutRepo) GetPayout(ctx context.Context, payoutID string) (*biz.PayoutRequest, error) {
	var m model.PayoutRequest
	err := r.data.DB(ctx).First(&m, "payout_request_id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get payout %s: %v", payoutID, err)
		return nil, err
	}
	return payoutToBiz(&m), nil
}

// UpdatePayoutStatus 条件状态更新,processedAt 非空时一并写入
func (r *payoutRepo) UpdatePayoutStatus(ctx context.Context, payoutID string, from []string, to string, processedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": nowUTC()}
	if processedAt != nil {
		updates["processed_at"] = processedAt
	}
	result := r.data.DB(ctx).Model(&model.PayoutRequest{}).
		Where("payout_request_id = ? AND status IN ?", payoutID, from).
		Updates(updates)
	if result.Error != nil {
		r.log.Errorf("Failed to update payout %s status to %s: %v", payoutID, to, result.Error)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SumReservedByVendor 已占用余额(pending+approved 提现总额)
func (r *payoutRepo) SumReservedByVendor(ctx context.Context, vendorUID string) (int64, error) {
	var sum int64
	err := r.data.DB(ctx).Model(&model.PayoutRequest{}).
		Where("vendor_uid = ? AND status IN ?", vendorUID,
			[]string{constants.PayoutStatusPending, constants.PayoutStatusApproved}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		r.log.Errorf("Failed to sum reserved payouts for vendor %s: %v", vendorUID, err)
		return 0, err
	}
	return sum, nil
}

// ListPayoutsByVendor 卖家提现分页列表
func (r *payoutRepo) ListPayoutsByVendor(ctx context.Context, vendorUID string, page, pageSize int) ([]*biz.PayoutRequest, int, error) {
	return r.listPayouts(ctx, "vendor_uid = ?", vendorUID, page, pageSize)
}

// ListPayoutsByStatus 按状态的提现分页列表(管理端)
func (r *payoutRepo) ListPayoutsByStatus(ctx context.Context, status string, page, pageSize int) ([]*biz.PayoutRequest, int, error) {
	return r.listPayouts(ctx, "status = ?", status, page, pageSize)
}

// listPayouts Count 与 Find 各自新建查询,不复用 gorm 语句
func (r *payoutRepo) listPayouts(ctx context.Context, cond string, arg interface{}, page, pageSize int) ([]*biz.PayoutRequest, int, error) {
	var total int64
	if err := r.data.DB(ctx).Model(&model.PayoutRequest{}).Where(cond, arg).Count(&total).Error; err != nil {
		r.log.Errorf("Failed to count payouts: %v", err)
		return nil, 0, err
	}

	var models []model.PayoutRequest
	err := r.data.DB(ctx).
		Where(cond, arg).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list payouts: %v", err)
		return nil, 0, err
	}

	payouts := make([]*biz.PayoutRequest, len(models))
	for i := range models {
		payouts[i] = payoutToBiz(&models[i])
	}
	return payouts, int(total), nil
}

func payoutToModel(p *biz.PayoutRequest) *model.PayoutRequest {
	return &model.PayoutRequest{
		ID:          p.ID,
		VendorUID:   p.VendorUID,
		Amount:      p.Amount,
		Method:      p.Method,
		Details:     p.Details,
		Status:      p.Status,
		ProcessedAt: p.ProcessedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func payoutToBiz(m *model.PayoutRequest) *biz.PayoutRequest {
	return &biz.PayoutRequest{
		ID:          m.ID,
		VendorUID:   m.VendorUID,
		Amount:      m.Amount,
		Method:      m.Method,
		Details:     m.Details,
		Status:      m.Status,
		ProcessedAt: m.ProcessedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
