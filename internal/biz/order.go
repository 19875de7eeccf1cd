package biz

import (
	"context"
	"time"

	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Order 订单
// TotalAmount 在创建时服务端计算,此后不再根据客户端输入重算
type Order struct {
	ID                string
	BuyerUID          string
	ShopID            string
	VendorUID         string
	Items             []OrderItem
	ShippingAddress   string
	TransportMethodID string
	DeliveryFee       int64
	TotalAmount       int64
	Currency          string
	Status            string
	PaymentStatus     string
	PaymentMethod     string
	ProviderRef       string // 最新支付尝试的提供方引用
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem 订单行项目,单价在下单时从商品表快照
type OrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

// OrderItemInput 下单行项目输入,单价与小计一律服务端计算
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

// OrderRepo 订单仓库接口
// UpdateOrderStatus 为条件更新:仅当订单当前状态在 from 中时更新为 to,
// 返回 false 表示没有命中(状态已被并发修改),这是每订单串行化的存储原语
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from []string, to string) (bool, error)
	UpdateOrderPayment(ctx context.Context, orderID, paymentStatus, paymentMethod, providerRef string) error
	ListOrdersByBuyer(ctx context.Context, buyerUID string, page, pageSize int) ([]*Order, int, error)
}

// OrderUsecase 订单状态机
type OrderUsecase struct {
	orderRepo   OrderRepo
	catalogRepo CatalogRepo
	attemptRepo PaymentAttemptRepo
	gateways    GatewayRegistry
	escrowUC    *EscrowUsecase
	gate        AuthorizationGate
	notifier    NotificationEmitter
	tm          Transaction
	log         *log.Helper
}

// NewOrderUsecase 创建订单业务用例
func NewOrderUsecase(
	orderRepo OrderRepo,
	catalogRepo CatalogRepo,
	attemptRepo PaymentAttemptRepo,
	gateways GatewayRegistry,
	escrowUC *EscrowUsecase,
	gate AuthorizationGate,
	notifier NotificationEmitter,
	tm Transaction,
	logger log.Logger,
) *OrderUsecase {
	return &OrderUsecase{
		orderRepo:   orderRepo,
		catalogRepo: catalogRepo,
		attemptRepo: attemptRepo,
		gateways:    gateways,
		escrowUC:    escrowUC,
		gate:        gate,
		notifier:    notifier,
		tm:          tm,
		log:         log.NewHelper(logger),
	}
}

// CreateOrder 创建订单
// 校验行项目非空、商品存在且可购买、同一订单只能包含一家店铺的商品,
// 金额全部服务端计算: total = sum(qty*unitPrice) + deliveryFee
func (uc *OrderUsecase) CreateOrder(ctx context.Context, buyerUID string, items []OrderItemInput, shippingAddress, paymentMethod, transportMethodID string) (*Order, error) {
	uc.log.Infof("CreateOrder: buyer=%s, items=%d, method=%s", buyerUID, len(items), paymentMethod)

	if len(items) == 0 {
		return nil, errors.New(errors.ErrCodeOrderInvalidItems, errors.ReasonValidation, "order must contain at least one item")
	}
	if _, err := uc.gateways.ForMethod(paymentMethod); err != nil {
		return nil, err
	}

	var (
		orderItems []OrderItem
		shopID     string
		total      int64
	)
	for _, in := range items {
		if in.Quantity <= 0 {
			return nil, errors.Newf(errors.ErrCodeOrderInvalidItems, errors.ReasonValidation, "invalid quantity %d for product %s", in.Quantity, in.ProductID)
		}
		product, err := uc.catalogRepo.GetProduct(ctx, in.ProductID)
		if err != nil || product == nil {
			uc.log.Errorf("Product %s not found: %v", in.ProductID, err)
			return nil, errors.Newf(errors.ErrCodeProductNotFound, errors.ReasonValidation, "product %s not found", in.ProductID)
		}
		if !product.Purchasable {
			return nil, errors.Newf(errors.ErrCodeProductNotFound, errors.ReasonValidation, "product %s is not purchasable", in.ProductID)
		}
		if shopID == "" {
			shopID = product.ShopID
		} else if shopID != product.ShopID {
			// 跨店铺购物车由上层按店铺拆单,单个订单只对应一家店铺
			return nil, errors.New(errors.ErrCodeOrderInvalidItems, errors.ReasonValidation, "all items in an order must belong to the same shop")
		}
		subtotal := int64(in.Quantity) * product.Price
		orderItems = append(orderItems, OrderItem{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: product.Price,
			Subtotal:  subtotal,
		})
		total += subtotal
	}

	shop, err := uc.catalogRepo.GetShop(ctx, shopID)
	if err != nil || shop == nil {
		uc.log.Errorf("Shop %s not found: %v", shopID, err)
		return nil, errors.Newf(errors.ErrCodeProductNotFound, errors.ReasonValidation, "shop %s not found", shopID)
	}

	var deliveryFee int64
	if transportMethodID != "" {
		tm, err := uc.catalogRepo.GetTransportMethod(ctx, transportMethodID)
		if err != nil || tm == nil {
			uc.log.Errorf("Transport method %s not found: %v", transportMethodID, err)
			return nil, errors.Newf(errors.ErrCodeOrderInvalidItems, errors.ReasonValidation, "transport method %s not found", transportMethodID)
		}
		deliveryFee = tm.Fee
	}

	now := time.Now().UTC()
	order := &Order{
		ID:                uuid.New().String(),
		BuyerUID:          buyerUID,
		ShopID:            shopID,
		VendorUID:         shop.OwnerUID,
		Items:             orderItems,
		ShippingAddress:   shippingAddress,
		TransportMethodID: transportMethodID,
		DeliveryFee:       deliveryFee,
		TotalAmount:       total + deliveryFee,
		Currency:          constants.DefaultCurrency,
		Status:            constants.OrderStatusCreated,
		PaymentStatus:     constants.AttemptStatusInitiated,
		PaymentMethod:     paymentMethod,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := uc.orderRepo.CreateOrder(ctx, order); err != nil {
		uc.log.Errorf("Failed to create order: %v", err)
		return nil, err
	}
	uc.log.Infof("Created order %s: total=%d %s, shop=%s", order.ID, order.TotalAmount, order.Currency, shopID)

	uc.notify(ctx, order.VendorUID, constants.NotifyOrderCreated, "New order",
		"A new order has been placed in your shop", map[string]string{"order_id": order.ID})

	return order, nil
}

// GetOrder 获取订单,买家/卖家本人或管理员可见
func (uc *OrderUsecase) GetOrder(ctx context.Context, orderID, actorUID string, isAdmin bool) (*Order, error) {
	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.Newf(errors.ErrCodeOrderNotFound, errors.ReasonOrderNotFound, "order %s not found", orderID)
	}
	if !isAdmin && actorUID != order.BuyerUID && actorUID != order.VendorUID {
		return nil, kerrors.Forbidden("FORBIDDEN", "permission denied")
	}
	return order, nil
}

// ConfirmDelivery 确认收货
// 仅 payment_confirmed 状态可确认;执行人必须是买家本人,或持有
// confirm_delivery 权限(管理员/配送员,经 passport-service 校验)
func (uc *OrderUsecase) ConfirmDelivery(ctx context.Context, orderID, actorUID string) error {
	uc.log.Infof("ConfirmDelivery: order=%s, actor=%s", orderID, actorUID)

	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return errors.Newf(errors.ErrCodeOrderNotFound, errors.ReasonOrderNotFound, "order %s not found", orderID)
	}

	if actorUID != order.BuyerUID {
		allowed, err := uc.gate.Authorize(ctx, actorUID, constants.PermissionConfirmDelivery)
		if err != nil {
			uc.log.Errorf("Authorization check failed for %s: %v", actorUID, err)
			return kerrors.Forbidden("FORBIDDEN", "authorization check failed")
		}
		if !allowed {
			return kerrors.Forbidden("FORBIDDEN", "only the buyer or an authorized actor can confirm delivery")
		}
	}

	if order.Status != constants.OrderStatusPaymentConfirmed {
		return errors.Newf(errors.ErrCodeInvalidTransition, errors.ReasonInvalidTransition,
			"cannot confirm delivery for order in status %s", order.Status)
	}

	updated, err := uc.orderRepo.UpdateOrderStatus(ctx, orderID,
		[]string{constants.OrderStatusPaymentConfirmed}, constants.OrderStatusDelivered)
	if err != nil {
		return err
	}
	if !updated {
		return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict, "order %s was modified concurrently", orderID)
	}
	uc.log.Infof("Order %s delivered, releasing escrow", orderID)

	return uc.escrowUC.Release(ctx, orderID, "delivered")
}

// CancelOrder 取消订单
// 仅 created/payment_pending 状态可取消;若存在 pending 支付尝试,必须先在
// 提供方侧撤销,撤销失败则订单保持 payment_pending 并向调用方报告失败
func (uc *OrderUsecase) CancelOrder(ctx context.Context, orderID, actorUID string) error {
	uc.log.Infof("CancelOrder: order=%s, actor=%s", orderID, actorUID)

	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return errors.Newf(errors.ErrCodeOrderNotFound, errors.ReasonOrderNotFound, "order %s not found", orderID)
	}

	if actorUID != order.BuyerUID {
		allowed, err := uc.gate.Authorize(ctx, actorUID, constants.PermissionManageOrders)
		if err != nil {
			uc.log.Errorf("Authorization check failed for %s: %v", actorUID, err)
			return kerrors.Forbidden("FORBIDDEN", "authorization check failed")
		}
		if !allowed {
			return kerrors.Forbidden("FORBIDDEN", "only the buyer or an admin can cancel an order")
		}
	}

	if order.Status != constants.OrderStatusCreated && order.Status != constants.OrderStatusPaymentPending {
		return errors.Newf(errors.ErrCodeInvalidTransition, errors.ReasonInvalidTransition,
			"cannot cancel order in status %s", order.Status)
	}

	attempt, err := uc.attemptRepo.GetLatestAttempt(ctx, orderID)
	if err != nil {
		return err
	}
	if attempt != nil && attempt.Status == constants.AttemptStatusPending {
		gateway, err := uc.gateways.ForMethod(attempt.Provider)
		if err != nil {
			return err
		}
		voidCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
		defer cancel()
		if err := gateway.Void(voidCtx, attempt.ProviderRef); err != nil {
			// 撤销失败时订单保持原状态,不静默吞掉
			uc.log.Errorf("Failed to void attempt %s at provider: %v", attempt.ProviderRef, err)
			return errors.Newf(errors.ErrCodeProviderFailed, errors.ReasonProviderError,
				"failed to void pending payment: %v", err)
		}
		updated, err := uc.attemptRepo.UpdateAttemptStatus(ctx, attempt.ID,
			[]string{constants.AttemptStatusPending}, constants.AttemptStatusFailed, nil)
		if err != nil {
			return err
		}
		if !updated {
			// 撤销期间尝试已被并发确认,订单不能再取消
			return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict,
				"attempt %s was modified concurrently", attempt.ID)
		}
	}

	updated, err := uc.orderRepo.UpdateOrderStatus(ctx, orderID,
		[]string{constants.OrderStatusCreated, constants.OrderStatusPaymentPending}, constants.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if !updated {
		return errors.Newf(errors.ErrCodeConflict, errors.ReasonConflict, "order %s was modified concurrently", orderID)
	}
	uc.log.Infof("Order %s cancelled", orderID)
	return nil
}

// RefundOrder 管理员对已支付未收货的订单发起退款(纠纷处理)
// 仅 payment_confirmed 状态可退;先落取消意图再调提供方退款,
// 提供方退款失败时订单保持 cancelled、托管保持 held,由定时任务重试
func (uc *OrderUsecase) RefundOrder(ctx context.Context, orderID, actorUID string) error {
	uc.log.Infof("RefundOrder: order=%s, actor=%s", orderID, actorUID)

	allowed, err := uc.gate.Authorize(ctx, actorUID, constants.PermissionManageOrders)
	if err != nil {
		uc.log.Errorf("Authorization check failed for %s: %v", actorUID, err)
		return kerrors.Forbidden("FORBIDDEN", "authorization check failed")
	}
	if !allowed {
		return kerrors.Forbidden("FORBIDDEN", "only an admin can refund an order")
	}

	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return errors.Newf(errors.ErrCodeOrderNotFound, errors.ReasonOrderNotFound, "order %s not found", orderID)
	}

	updated, err := uc.orderRepo.UpdateOrderStatus(ctx, orderID,
		[]string{constants.OrderStatusPaymentConfirmed}, constants.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if !updated {
		return errors.Newf(errors.ErrCodeInvalidTransition, errors.ReasonInvalidTransition,
			"cannot refund order in status %s", order.Status)
	}
	uc.log.Infof("Order %s cancelled for refund", orderID)

	return uc.escrowUC.Refund(ctx, orderID)
}

// ListBuyerOrders 买家订单列表
func (uc *OrderUsecase) ListBuyerOrders(ctx context.Context, buyerUID string, page, pageSize int) ([]*Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > constants.MaxPageSize {
		pageSize = constants.DefaultPageSize
	}
	return uc.orderRepo.ListOrdersByBuyer(ctx, buyerUID, page, pageSize)
}

// notify 发送通知,失败只记录日志,不影响主流程
func (uc *OrderUsecase) notify(ctx context.Context, uid, notifyType, title, message string, data map[string]string) {
	if err := uc.notifier.Emit(ctx, uid, notifyType, title, message, data); err != nil {
		uc.log.Warnf("Failed to emit %s notification to %s: %v", notifyType, uid, err)
	}
}
