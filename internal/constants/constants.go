package constants

import "time"

// 分页相关常量
const (
	// DefaultPageSize 默认分页大小
	DefaultPageSize = 10
	// MaxPageSize 最大分页大小
	MaxPageSize = 100
)

// 订单状态
const (
	OrderStatusCreated          = "created"
	OrderStatusPaymentPending   = "payment_pending"
	OrderStatusPaymentFailed    = "payment_failed"
	OrderStatusPaymentConfirmed = "payment_confirmed"
	OrderStatusDelivered        = "delivered"
	OrderStatusEscrowReleased   = "escrow_released"
	OrderStatusCancelled        = "cancelled"
	OrderStatusRefunded         = "refunded"
)

// 支付方式
const (
	PaymentMethodCard        = "card"
	PaymentMethodMobileMoney = "mobile_money"
	PaymentMethodCash        = "cash"
)

// 支付尝试状态
const (
	AttemptStatusInitiated = "initiated"
	AttemptStatusPending   = "pending"
	AttemptStatusSucceeded = "succeeded"
	AttemptStatusFailed    = "failed"
)

// 托管资金状态
const (
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

// 提现请求状态
const (
	PayoutStatusPending  = "pending"
	PayoutStatusApproved = "approved"
	PayoutStatusRejected = "rejected"
	PayoutStatusFailed   = "failed"
)

// 权限常量(由 passport-service 管理)
const (
	// PermissionManagePayouts 提现审批权限
	PermissionManagePayouts = "manage_payouts"
	// PermissionConfirmDelivery 非买家确认收货权限(管理员/配送员)
	PermissionConfirmDelivery = "confirm_delivery"
	// PermissionManageOrders 管理员订单操作权限
	PermissionManageOrders = "manage_orders"
	// PermissionConfirmCash 现金收讫确认权限(配送员/管理员)
	PermissionConfirmCash = "confirm_cash"
)

// 分布式锁相关常量
const (
	// OrderLockExpiration 订单支付锁过期时间
	OrderLockExpiration = 30 * time.Second
	// OrderLockRetries 订单支付锁重试次数
	OrderLockRetries = 1
	// PayoutLockExpiration 提现请求锁过期时间
	PayoutLockExpiration = 30 * time.Second
	// CronLockExpiration 定时任务锁过期时间
	CronLockExpiration = 10 * time.Minute
)

// 支付相关常量
const (
	// ProviderCallTimeout 支付提供方调用超时时间
	ProviderCallTimeout = 15 * time.Second
	// VerifyMaxRetries verify 调用最大重试次数
	VerifyMaxRetries = 3
	// VerifyRetryBaseDelay verify 重试基础延迟(指数退避)
	VerifyRetryBaseDelay = 500 * time.Millisecond
	// StaleAttemptTTL pending 支付尝试超时时间,超时后标记失败
	StaleAttemptTTL = 30 * time.Minute
)

// 通知类型
const (
	NotifyOrderCreated     = "order_created"
	NotifyPaymentConfirmed = "payment_confirmed"
	NotifyPaymentFailed    = "payment_failed"
	NotifyEscrowReleased   = "escrow_released"
	NotifyEscrowRefunded   = "escrow_refunded"
	NotifyPayoutApproved   = "payout_approved"
	NotifyPayoutRejected   = "payout_rejected"
)

// DefaultCurrency 默认币种(金额一律使用整数最小货币单位)
const DefaultCurrency = "TZS"
