package model

import "time"

// PayoutRequest 提现请求模型
type PayoutRequest struct {
	ID          string     `gorm:"primaryKey;column:payout_request_id"`
	VendorUID   string     `gorm:"column:vendor_uid;index"`
	Amount      int64      `gorm:"column:amount"`
	Method      string     `gorm:"column:method"`
	Details     string     `gorm:"column:details"`
	Status      string     `gorm:"column:status;index"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (PayoutRequest) TableName() string { return "payout_request" }
