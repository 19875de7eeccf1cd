package model

import "time"

// EscrowRecord 托管记录模型,主键即订单ID保证与订单一一对应
type EscrowRecord struct {
	OrderID    string     `gorm:"primaryKey;column:order_id"`
	VendorUID  string     `gorm:"column:vendor_uid;index"`
	HeldAmount int64      `gorm:"column:held_amount"`
	Status     string     `gorm:"column:status;index"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (EscrowRecord) TableName() string { return "escrow_record" }
