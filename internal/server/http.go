package server

import (
	"encoding/json"
	stdhttp "net/http"
	"time"

	"xinyuan_tech/marketplace-service/internal/auth"
	"xinyuan_tech/marketplace-service/internal/conf"
	apperrors "xinyuan_tech/marketplace-service/internal/errors"
	"xinyuan_tech/marketplace-service/internal/service"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Bootstrap, svc *service.MarketplaceService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.Filter(identityFilter),
		http.ErrorEncoder(customErrorEncoder),
	}
	if c.Server.Http.Addr != "" {
		opts = append(opts, http.Address(c.Server.Http.Addr))
	}
	if c.Server.Http.Timeout != "" {
		if timeout, err := time.ParseDuration(c.Server.Http.Timeout); err == nil {
			opts = append(opts, http.Timeout(timeout))
		}
	}
	srv := http.NewServer(opts...)

	// 注册业务路由
	v1 := srv.Route("/v1")

	v1.POST("/orders", svc.CreateOrder)
	v1.GET("/orders", svc.ListOrders)
	v1.GET("/orders/{id}", svc.GetOrder)
	v1.POST("/orders/{id}/payment", svc.BeginPayment)
	v1.GET("/orders/{id}/payments", svc.ListOrderPayments)
	v1.POST("/orders/{id}/delivery", svc.ConfirmDelivery)
	v1.POST("/orders/{id}/cancel", svc.CancelOrder)
	v1.POST("/orders/{id}/refund", svc.RefundOrder)

	v1.GET("/payments/verify", svc.VerifyPayment)
	v1.POST("/payments/cash", svc.ConfirmCashCollection)
	v1.POST("/webhooks/card", svc.CardWebhook)

	v1.POST("/payouts", svc.RequestPayout)
	v1.GET("/payouts", svc.ListPayouts)
	v1.GET("/payouts/balance", svc.GetReleasableBalance)
	v1.POST("/payouts/{id}/approve", svc.ApprovePayout)
	v1.POST("/payouts/{id}/reject", svc.RejectPayout)

	// 注册健康检查端点
	srv.Route("/").GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, map[string]string{
			"service": "marketplace-service",
			"status":  "ok",
		})
	})

	return srv
}

// identityFilter 把网关注入的用户身份 Header 解析进请求 context
func identityFilter(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if uid := r.Header.Get("X-User-Id"); uid != "" {
			ctx := auth.WithUser(r.Context(), uid, auth.Role(r.Header.Get("X-User-Role")))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func customErrorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	status := stdhttp.StatusInternalServerError
	response := map[string]interface{}{
		"code":    status,
		"message": "internal server error",
	}

	if se != nil {
		status = mapErrorStatus(int(se.Code))
		response["code"] = se.Code
		response["reason"] = se.Reason
		response["message"] = se.Message
		if len(se.Metadata) > 0 {
			response["metadata"] = se.Metadata
		}
	} else if err != nil {
		response["message"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func mapErrorStatus(code int) int {
	if code >= 100 && code < 600 {
		return code
	}
	switch code {
	case apperrors.ErrCodeOrderNotFound,
		apperrors.ErrCodeProductNotFound,
		apperrors.ErrCodeUnknownReference,
		apperrors.ErrCodeEscrowNotFound,
		apperrors.ErrCodePayoutNotFound:
		return stdhttp.StatusNotFound
	case apperrors.ErrCodeConflict,
		apperrors.ErrCodeAttemptInProgress,
		apperrors.ErrCodeResultConflict,
		apperrors.ErrCodePayoutNotPending:
		return stdhttp.StatusConflict
	case apperrors.ErrCodeProviderFailed:
		return stdhttp.StatusBadGateway
	case apperrors.ErrCodeInvalidSignature:
		return stdhttp.StatusUnauthorized
	}
	if code >= 140000 && code < 150000 {
		return stdhttp.StatusBadRequest
	}
	return stdhttp.StatusInternalServerError
}
