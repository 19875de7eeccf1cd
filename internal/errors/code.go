package errors

import (
	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// 市场服务错误码定义
// 错误码格式：SSMMEE (6位数字)，其中 SS=14 表示 marketplace-service
// 模块划分：
//   01: 订单模块
//   02: 支付模块
//   03: 托管模块
//   04: 提现模块

// 订单模块 (140100-140199)
const (
	// ErrCodeOrderNotFound 订单不存在错误
	ErrCodeOrderNotFound = 140101
	// ErrCodeOrderInvalidItems 订单行项目无效错误
	ErrCodeOrderInvalidItems = 140102
	// ErrCodeProductNotFound 商品不存在或不可购买错误
	ErrCodeProductNotFound = 140103
	// ErrCodeInvalidTransition 订单状态不允许该操作错误
	ErrCodeInvalidTransition = 140104
	// ErrCodeConflict 并发修改冲突错误(可整体重试)
	ErrCodeConflict = 140105
)

// 支付模块 (140200-140299)
const (
	// ErrCodeAttemptInProgress 已存在进行中的支付尝试错误
	ErrCodeAttemptInProgress = 140201
	// ErrCodeUnknownReference 未知的支付提供方引用错误(异常,人工处理)
	ErrCodeUnknownReference = 140202
	// ErrCodeAmountMismatch 支付金额不一致错误(异常,人工处理)
	ErrCodeAmountMismatch = 140203
	// ErrCodeProviderFailed 支付提供方调用失败错误
	ErrCodeProviderFailed = 140204
	// ErrCodeInvalidSignature webhook 签名校验失败错误
	ErrCodeInvalidSignature = 140205
	// ErrCodeUnsupportedMethod 不支持的支付方式错误
	ErrCodeUnsupportedMethod = 140206
	// ErrCodeResultConflict 支付结果与已有终态冲突错误(异常,人工处理)
	ErrCodeResultConflict = 140207
)

// 托管模块 (140300-140399)
const (
	// ErrCodeEscrowNotFound 托管记录不存在错误
	ErrCodeEscrowNotFound = 140301
	// ErrCodeEscrowNotHeld 托管记录不在持有状态错误
	ErrCodeEscrowNotHeld = 140302
	// ErrCodeRefundFailed 提供方退款失败错误(保持原状态,可重试)
	ErrCodeRefundFailed = 140303
)

// 提现模块 (140400-140499)
const (
	// ErrCodeInsufficientBalance 可提现余额不足错误
	ErrCodeInsufficientBalance = 140401
	// ErrCodePayoutNotFound 提现请求不存在错误
	ErrCodePayoutNotFound = 140402
	// ErrCodePayoutNotPending 提现请求不在待审批状态错误
	ErrCodePayoutNotPending = 140403
	// ErrCodeInvalidAmount 提现金额无效错误
	ErrCodeInvalidAmount = 140404
)

// 错误 reason 标识,service 层和调用方按 reason 判定错误类别
const (
	ReasonOrderNotFound       = "ORDER_NOT_FOUND"
	ReasonValidation          = "VALIDATION_ERROR"
	ReasonInvalidTransition   = "INVALID_TRANSITION"
	ReasonConflict            = "CONFLICT"
	ReasonAttemptInProgress   = "ATTEMPT_IN_PROGRESS"
	ReasonUnknownReference    = "UNKNOWN_REFERENCE"
	ReasonAmountMismatch      = "AMOUNT_MISMATCH"
	ReasonProviderError       = "PROVIDER_ERROR"
	ReasonInvalidSignature    = "INVALID_SIGNATURE"
	ReasonUnsupportedMethod   = "UNSUPPORTED_METHOD"
	ReasonResultConflict      = "RESULT_CONFLICT"
	ReasonEscrowNotFound      = "ESCROW_NOT_FOUND"
	ReasonEscrowNotHeld       = "ESCROW_NOT_HELD"
	ReasonRefundFailed        = "REFUND_FAILED"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonPayoutNotFound      = "PAYOUT_NOT_FOUND"
	ReasonPayoutNotPending    = "PAYOUT_NOT_PENDING"
	ReasonInvalidAmount       = "INVALID_AMOUNT"
)

// New 创建携带业务错误码的错误
func New(code int, reason, message string) *kerrors.Error {
	return kerrors.New(code, reason, message)
}

// Newf 创建携带业务错误码的错误(格式化消息)
func Newf(code int, reason, format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(code, reason, format, args...)
}

// IsReason 判断错误 reason
func IsReason(err error, reason string) bool {
	return kerrors.Reason(err) == reason
}

// IsConflict 判断是否为并发冲突错误(调用方可整体重试)
func IsConflict(err error) bool {
	return IsReason(err, ReasonConflict)
}

// IsProviderError 判断是否为支付提供方错误
func IsProviderError(err error) bool {
	return IsReason(err, ReasonProviderError)
}
