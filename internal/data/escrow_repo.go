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

// escrowRepo 托管仓库实现
type escrowRepo struct {
	data *Data
	log  *log.Helper
}

// NewEscrowRepo 创建托管仓库
func NewEscrowRepo(data *Data, logger log.Logger) biz.EscrowRepo {
	return &escrowRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateEscrow 创建托管记录,主键即订单ID,重复创建会被唯一约束拒绝
func (r *escrowRepo) CreateEscrow(ctx context.Context, record *biz.EscrowRecord) error {
	m := &model.EscrowRecord{
		OrderID:    record.OrderID,
		VendorUID:  record.VendorUID,
		HeldAmount: record.HeldAmount,
		Status:     record.Status,
		ReleasedAt: record.ReleasedAt,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create escrow for order %s: %v", record.OrderID, err)
		return err
	}
	return nil
}

// GetEscrow 获取托管记录,不存在时返回 nil
func (r *escrowRepo) GetEscrow(ctx context.Context, orderID string) (*biz.EscrowRecord, error) {
	var m model.EscrowRecord
	err := r.data.DB(ctx).First(&m, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get escrow for order %s: %v", orderID, err)
		return nil, err
	}
	return escrowToBiz(&m), nil
}

// UpdateEscrowStatus 条件状态更新,releasedAt 非空时一并写入
func (r *escrowRepo) UpdateEscrowStatus(ctx context.Context, orderID string, from []string, to string, releasedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": nowUTC()}
	if releasedAt != nil {
		updates["released_at"] = releasedAt
	}
	result := r.data.DB(ctx).Model(&model.EscrowRecord{}).
		Where("order_id = ? AND status IN ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		r.log.Errorf("Failed to update escrow %s status to %s: %v", orderID, to, result.Error)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SumReleasedByVendor 卖家已释放托管总额
func (r *escrowRepo) SumReleasedByVendor(ctx context.Context, vendorUID string) (int64, error) {
	var sum int64
	err := r.data.DB(ctx).Model(&model.EscrowRecord{}).
		Where("vendor_uid = ? AND status = ?", vendorUID, constants.EscrowStatusReleased).
		Select("COALESCE(SUM(held_amount), 0)").
		Scan(&sum).Error
	if err != nil {
		r.log.Errorf("Failed to sum released escrow for vendor %s: %v", vendorUID, err)
		return 0, err
	}
	return sum, nil
}

// ListRefundOwed 订单已取消但托管仍为 held 的记录(欠退款)
func (r *escrowRepo) ListRefundOwed(ctx context.Context, limit int) ([]*biz.EscrowRecord, error) {
	var models []model.EscrowRecord
	err := r.data.DB(ctx).
		Joins("JOIN marketplace_order ON marketplace_order.order_id = escrow_record.order_id").
		Where("escrow_record.status = ? AND marketplace_order.status = ?",
			constants.EscrowStatusHeld, constants.OrderStatusCancelled).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list refund-owed escrows: %v", err)
		return nil, err
	}

	records := make([]*biz.EscrowRecord, len(models))
	for i := range models {
		records[i] = escrowToBiz(&models[i])
	}
	return records, nil
}

func escrowToBiz(m *model.EscrowRecord) *biz.EscrowRecord {
	return &biz.EscrowRecord{
		OrderID:    m.OrderID,
		VendorUID:  m.VendorUID,
		HeldAmount: m.HeldAmount,
		Status:     m.Status,
		ReleasedAt: m.ReleasedAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
