package model

import "time"

// Order 订单模型
type Order struct {
	ID                string    `gorm:"primaryKey;column:order_id"`
	BuyerUID          string    `gorm:"column:buyer_uid;index"`
	ShopID            string    `gorm:"column:shop_id;index"`
	VendorUID         string    `gorm:"column:vendor_uid;index"`
	ShippingAddress   string    `gorm:"column:shipping_address"`
	TransportMethodID string    `gorm:"column:transport_method_id"`
	DeliveryFee       int64     `gorm:"column:delivery_fee"`
	TotalAmount       int64     `gorm:"column:total_amount"`
	Currency          string    `gorm:"column:currency"`
	Status            string    `gorm:"column:status;index"`
	PaymentStatus     string    `gorm:"column:payment_status"`
	PaymentMethod     string    `gorm:"column:payment_method"`
	ProviderRef       string    `gorm:"column:provider_ref"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (Order) TableName() string { return "marketplace_order" }

// OrderItem 订单行项目模型,单价在下单时快照
type OrderItem struct {
	ID        uint64 `gorm:"primaryKey;column:order_item_id;autoIncrement"`
	OrderID   string `gorm:"column:order_id;index"`
	ProductID string `gorm:"column:product_id"`
	Quantity  int    `gorm:"column:quantity"`
	UnitPrice int64  `gorm:"column:unit_price"`
	Subtotal  int64  `gorm:"column:subtotal"`
}

func (OrderItem) TableName() string { return "marketplace_order_item" }
