package data

import (
	"context"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/conf"
	"xinyuan_tech/marketplace-service/internal/constants"
	bizErrors "xinyuan_tech/marketplace-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// gatewayRegistry 按支付方式查找网关
type gatewayRegistry struct {
	gateways map[string]biz.PaymentGateway
}

// NewGatewayRegistry 创建网关注册表
// 卡网关同时承担 webhook 校验,作为 biz.WebhookVerifier 一并提供
func NewGatewayRegistry(c *conf.Bootstrap, logger log.Logger) (biz.GatewayRegistry, biz.WebhookVerifier) {
	card := newCardGateway(
		c.Gateway.Card.ApiBase,
		c.Gateway.Card.ApiKey,
		c.Gateway.Card.WebhookSecret,
		c.Gateway.Card.ReturnURL,
		logger,
	)
	momo := newMobileMoneyGateway(
		c.Gateway.MobileMoney.ApiBase,
		c.Gateway.MobileMoney.ApiKey,
		c.Gateway.MobileMoney.MerchantID,
		logger,
	)
	registry := &gatewayRegistry{
		gateways: map[string]biz.PaymentGateway{
			constants.PaymentMethodCard:        card,
			constants.PaymentMethodMobileMoney: momo,
			constants.PaymentMethodCash:        &cashGateway{},
		},
	}
	return registry, card
}

// ForMethod 按支付方式查找网关
func (r *gatewayRegistry) ForMethod(method string) (biz.PaymentGateway, error) {
	gateway, ok := r.gateways[method]
	if !ok {
		return nil, bizErrors.Newf(bizErrors.ErrCodeUnsupportedMethod, bizErrors.ReasonUnsupportedMethod,
			"unsupported payment method %q", method)
	}
	return gateway, nil
}

// cashGateway 货到付款伪网关
// 没有外部提供方:initiate 生成内部引用,收讫由配送员/管理员录入
type cashGateway struct{}

func (g *cashGateway) Method() string { return constants.PaymentMethodCash }

func (g *cashGateway) Initiate(ctx context.Context, order *biz.Order, details biz.PaymentDetails) (*biz.InitiateResult, error) {
	return &biz.InitiateResult{
		ProviderRef:  "CASH-" + uuid.New().String(),
		Instructions: "pay in cash on delivery",
	}, nil
}

func (g *cashGateway) Verify(ctx context.Context, providerRef string) (*biz.ProviderResult, error) {
	// 现金收讫只能由配送员录入,查询侧永远是 pending
	return &biz.ProviderResult{
		ProviderRef: providerRef,
		Status:      constants.AttemptStatusPending,
	}, nil
}

func (g *cashGateway) Void(ctx context.Context, providerRef string) error {
	// 没有提供方侧交易,无需撤销
	return nil
}

func (g *cashGateway) Refund(ctx context.Context, providerRef string, amount int64) error {
	return bizErrors.New(bizErrors.ErrCodeRefundFailed, bizErrors.ReasonRefundFailed,
		"cash refunds must be settled manually")
}
