package service

import (
	"time"

	"xinyuan_tech/marketplace-service/internal/auth"
	"xinyuan_tech/marketplace-service/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

type orderItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items             []orderItemInput `json:"items"`
	ShippingAddress   string           `json:"shipping_address"`
	PaymentMethod     string           `json:"payment_method"`
	TransportMethodID string           `json:"transport_method_id,omitempty"`
}

type orderItemReply struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type orderReply struct {
	ID              string           `json:"id"`
	BuyerUID        string           `json:"buyer_uid"`
	ShopID          string           `json:"shop_id"`
	Items           []orderItemReply `json:"items,omitempty"`
	ShippingAddress string           `json:"shipping_address"`
	DeliveryFee     int64            `json:"delivery_fee"`
	TotalAmount     int64            `json:"total_amount"`
	Currency        string           `json:"currency"`
	Status          string           `json:"status"`
	PaymentStatus   string           `json:"payment_status"`
	PaymentMethod   string           `json:"payment_method"`
	CreatedAt       time.Time        `json:"created_at"`
}

// CreateOrder 买家下单
func (s *MarketplaceService) CreateOrder(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}

	var req createOrderRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("VALIDATION_ERROR", "malformed request body")
	}

	items := make([]biz.OrderItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = biz.OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	order, err := s.orderUC.CreateOrder(ctx, uid, items, req.ShippingAddress, req.PaymentMethod, req.TransportMethodID)
	if err != nil {
		return err
	}
	return ctx.Result(201, orderToReply(order))
}

// GetOrder 查询订单
func (s *MarketplaceService) GetOrder(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	orderID := ctx.Vars().Get("id")

	order, err := s.orderUC.GetOrder(ctx, orderID, uid, auth.IsAdmin(ctx))
	if err != nil {
		return err
	}
	return ctx.Result(200, orderToReply(order))
}

// ListOrders 买家订单列表
func (s *MarketplaceService) ListOrders(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	page := atoiDefault(ctx.Query().Get("page"), 1)
	pageSize := atoiDefault(ctx.Query().Get("page_size"), 0)

	orders, total, err := s.orderUC.ListBuyerOrders(ctx, uid, page, pageSize)
	if err != nil {
		return err
	}
	replies := make([]*orderReply, len(orders))
	for i, order := range orders {
		replies[i] = orderToReply(order)
	}
	return ctx.Result(200, map[string]interface{}{"orders": replies, "total": total})
}

// ConfirmDelivery 确认收货
func (s *MarketplaceService) ConfirmDelivery(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	orderID := ctx.Vars().Get("id")

	if err := s.orderUC.ConfirmDelivery(ctx, orderID, uid); err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"status": "delivered"})
}

// CancelOrder 取消订单
func (s *MarketplaceService) CancelOrder(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	orderID := ctx.Vars().Get("id")

	if err := s.orderUC.CancelOrder(ctx, orderID, uid); err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"status": "cancelled"})
}

// RefundOrder 管理员对已支付订单发起退款(纠纷处理)
func (s *MarketplaceService) RefundOrder(ctx khttp.Context) error {
	uid, err := auth.RequireUID(ctx)
	if err != nil {
		return err
	}
	orderID := ctx.Vars().Get("id")

	if err := s.orderUC.RefundOrder(ctx, orderID, uid); err != nil {
		return err
	}
	return ctx.Result(200, map[string]string{"status": "refunded"})
}

func orderToReply(order *biz.Order) *orderReply {
	reply := &orderReply{
		ID:              order.ID,
		BuyerUID:        order.BuyerUID,
		ShopID:          order.ShopID,
		ShippingAddress: order.ShippingAddress,
		DeliveryFee:     order.DeliveryFee,
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		PaymentMethod:   order.PaymentMethod,
		CreatedAt:       order.CreatedAt,
	}
	for _, item := range order.Items {
		reply.Items = append(reply.Items, orderItemReply{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return reply
}
