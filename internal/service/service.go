package service

import (
	"strconv"

	"xinyuan_tech/marketplace-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewMarketplaceService)

// MarketplaceService 市场服务 HTTP 层
type MarketplaceService struct {
	orderUC   *biz.OrderUsecase
	paymentUC *biz.PaymentUsecase
	payoutUC  *biz.PayoutUsecase
	verifier  biz.WebhookVerifier
	log       *log.Helper
}

// NewMarketplaceService 创建市场服务实例
func NewMarketplaceService(
	orderUC *biz.OrderUsecase,
	paymentUC *biz.PaymentUsecase,
	payoutUC *biz.PayoutUsecase,
	verifier biz.WebhookVerifier,
	logger log.Logger,
) *MarketplaceService {
	return &MarketplaceService{
		orderUC:   orderUC,
		paymentUC: paymentUC,
		payoutUC:  payoutUC,
		verifier:  verifier,
		log:       log.NewHelper(logger),
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
