package biz

import (
	"context"
)

// Identity 用户身份信息(passport-service 返回)
type Identity struct {
	UID         string
	Role        string
	AccessLevel int
}

// AuthorizationGate 权限服务客户端接口(防腐层)
// 传输层失败时调用方必须按拒绝处理,绝不降级放行
type AuthorizationGate interface {
	// Authorize 校验用户是否具备指定权限
	Authorize(ctx context.Context, actorUID, permission string) (bool, error)
	// Identity 查询用户角色与访问级别
	Identity(ctx context.Context, actorUID string) (*Identity, error)
}

// NotificationEmitter 通知服务客户端接口(防腐层)
// 发送失败只记录日志,绝不回滚触发通知的状态变更
type NotificationEmitter interface {
	Emit(ctx context.Context, userUID, notifyType, title, message string, data map[string]string) error
}
