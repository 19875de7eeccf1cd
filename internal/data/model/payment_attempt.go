package model

import "time"

// PaymentAttempt 支付尝试模型,按订单追加
type PaymentAttempt struct {
	ID          string    `gorm:"primaryKey;column:payment_attempt_id"`
	OrderID     string    `gorm:"column:order_id;index"`
	Provider    string    `gorm:"column:provider"`
	ProviderRef string    `gorm:"column:provider_ref;uniqueIndex"`
	Amount      int64     `gorm:"column:amount"`
	Status      string    `gorm:"column:status;index"`
	RawPayload  []byte    `gorm:"column:raw_payload;type:blob"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (PaymentAttempt) TableName() string { return "payment_attempt" }
