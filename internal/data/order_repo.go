package data

import (
	"context"
	"errors"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// orderRepo 订单仓库实现
type orderRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderRepo 创建订单仓库
func NewOrderRepo(data *Data, logger log.Logger) biz.OrderRepo {
	return &orderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateOrder 创建订单(订单与行项目同事务写入)
func (r *orderRepo) CreateOrder(ctx context.Context, order *biz.Order) error {
	m := orderToModel(order)
	items := make([]*model.OrderItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = &model.OrderItem{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		}
	}
	err := r.data.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Create(items).Error
	})
	if err != nil {
		r.log.Errorf("Failed to create order %s: %v", order.ID, err)
		return err
	}
	return nil
}

// GetOrder 获取订单(含行项目),不存在时返回 nil
func (r *orderRepo) GetOrder(ctx context.Context, orderID string) (*biz.Order, error) {
	var m model.Order
	err := r.data.DB(ctx).First(&m, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get order %s: %v", orderID, err)
		return nil, err
	}

	var items []model.OrderItem
	if err := r.data.DB(ctx).Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		r.log.Errorf("Failed to get items for order %s: %v", orderID, err)
		return nil, err
	}
	return orderToBiz(&m, items), nil
}

// UpdateOrderStatus 条件状态更新:仅当前状态在 from 中时更新为 to
// 返回 false 表示没有命中(并发修改),调用方决定冲突语义
func (r *orderRepo) UpdateOrderStatus(ctx context.Context, orderID string, from []string, to string) (bool, error) {
	result := r.data.DB(ctx).Model(&model.Order{}).
		Where("order_id = ? AND status IN ?", orderID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": nowUTC()})
	if result.Error != nil {
		r.log.Errorf("Failed to update order %s status to %s: %v", orderID, to, result.Error)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateOrderPayment 更新订单的支付冗余字段(支付状态/方式/最新提供方引用)
func (r *orderRepo) UpdateOrderPayment(ctx context.Context, orderID, paymentStatus, paymentMethod, providerRef string) error {
	err := r.data.DB(ctx).Model(&model.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_status": paymentStatus,
			"payment_method": paymentMethod,
			"provider_ref":   providerRef,
			"updated_at":     nowUTC(),
		}).Error
	if err != nil {
		r.log.Errorf("Failed to update payment fields for order %s: %v", orderID, err)
	}
	return err
}

// ListOrdersByBuyer 买家订单分页列表
func (r *orderRepo) ListOrdersByBuyer(ctx context.Context, buyerUID string, page, pageSize int) ([]*biz.Order, int, error) {
	var total int64
	if err := r.data.DB(ctx).Model(&model.Order{}).Where("buyer_uid = ?", buyerUID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []model.Order
	err := r.data.DB(ctx).
		Where("buyer_uid = ?", buyerUID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list orders for buyer %s: %v", buyerUID, err)
		return nil, 0, err
	}

	orders := make([]*biz.Order, len(models))
	for i := range models {
		orders[i] = orderToBiz(&models[i], nil)
	}
	return orders, int(total), nil
}

func orderToModel(o *biz.Order) *model.Order {
	return &model.Order{
		ID:                o.ID,
		BuyerUID:          o.BuyerUID,
		ShopID:            o.ShopID,
		VendorUID:         o.VendorUID,
		ShippingAddress:   o.ShippingAddress,
		TransportMethodID: o.TransportMethodID,
		DeliveryFee:       o.DeliveryFee,
		TotalAmount:       o.TotalAmount,
		Currency:          o.Currency,
		Status:            o.Status,
		PaymentStatus:     o.PaymentStatus,
		PaymentMethod:     o.PaymentMethod,
		ProviderRef:       o.ProviderRef,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func orderToBiz(m *model.Order, items []model.OrderItem) *biz.Order {
	o := &biz.Order{
		ID:                m.ID,
		BuyerUID:          m.BuyerUID,
		ShopID:            m.ShopID,
		VendorUID:         m.VendorUID,
		ShippingAddress:   m.ShippingAddress,
		TransportMethodID: m.TransportMethodID,
		DeliveryFee:       m.DeliveryFee,
		TotalAmount:       m.TotalAmount,
		Currency:          m.Currency,
		Status:            m.Status,
		PaymentStatus:     m.PaymentStatus,
		PaymentMethod:     m.PaymentMethod,
		ProviderRef:       m.ProviderRef,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	for _, item := range items {
		o.Items = append(o.Items, biz.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return o
}
