package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// fakeStore 内存实现全部仓库接口,条件更新语义与 data 层一致
type fakeStore struct {
	mu         sync.Mutex
	orders     map[string]*Order
	attempts   map[string]*PaymentAttempt
	attemptSeq []string // 插入序,最新尝试取末尾
	escrows    map[string]*EscrowRecord
	payouts    map[string]*PayoutRequest
	payoutSeq  []string
	products   map[string]*Product
	shops      map[string]*Shop
	transports map[string]*TransportMethod
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:     make(map[string]*Order),
		attempts:   make(map[string]*PaymentAttempt),
		escrows:    make(map[string]*EscrowRecord),
		payouts:    make(map[string]*PayoutRequest),
		products:   make(map[string]*Product),
		shops:      make(map[string]*Shop),
		transports: make(map[string]*TransportMethod),
	}
}

func (s *fakeStore) CreateOrder(_ context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *fakeStore) GetOrder(_ context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

func (s *fakeStore) UpdateOrderStatus(_ context.Context, orderID string, from []string, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if order.Status == status {
			order.Status = to
			order.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UpdateOrderPayment(_ context.Context, orderID, paymentStatus, paymentMethod, providerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	order.PaymentStatus = paymentStatus
	order.PaymentMethod = paymentMethod
	order.ProviderRef = providerRef
	return nil
}

func (s *fakeStore) ListOrdersByBuyer(_ context.Context, buyerUID string, page, pageSize int) ([]*Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*Order
	for _, order := range s.orders {
		if order.BuyerUID == buyerUID {
			cp := *order
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *fakeStore) CreatePendingAttempt(_ context.Context, attempt *PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.attemptSeq {
		if existing := s.attempts[id]; existing.OrderID == attempt.OrderID && existing.Status == constants.AttemptStatusPending {
			return errors.Newf(errors.ErrCodeAttemptInProgress, errors.ReasonAttemptInProgress,
				"a pending payment attempt already exists for order %s", attempt.OrderID)
		}
	}
	cp := *attempt
	s.attempts[attempt.ID] = &cp
	s.attemptSeq = append(s.attemptSeq, attempt.ID)
	return nil
}

func (s *fakeStore) GetAttemptByRef(_ context.Context, providerRef string) (*PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attempt := range s.attempts {
		if attempt.ProviderRef == providerRef {
			cp := *attempt
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetLatestAttempt(_ context.Context, orderID string) (*PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attemptSeq) - 1; i >= 0; i-- {
		attempt := s.attempts[s.attemptSeq[i]]
		if attempt.OrderID == orderID {
			cp := *attempt
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateAttemptStatus(_ context.Context, attemptID string, from []string, to string, rawPayload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if attempt.Status == status {
			attempt.Status = to
			if rawPayload != nil {
				attempt.RawPayload = rawPayload
			}
			attempt.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ListStalePending(_ context.Context, provider string, olderThan time.Time, limit int) ([]*PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*PaymentAttempt
	for _, id := range s.attemptSeq {
		attempt := s.attempts[id]
		if attempt.Status != constants.AttemptStatusPending || !attempt.CreatedAt.Before(olderThan) {
			continue
		}
		if provider != "" && attempt.Provider != provider {
			continue
		}
		cp := *attempt
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *fakeStore) ListAttemptsByOrder(_ context.Context, orderID string) ([]*PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*PaymentAttempt
	for _, id := range s.attemptSeq {
		if attempt := s.attempts[id]; attempt.OrderID == orderID {
			cp := *attempt
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *fakeStore) CreateEscrow(_ context.Context, record *EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[record.OrderID]; ok {
		return fmt.Errorf("escrow for order %s already exists", record.OrderID)
	}
	cp := *record
	s.escrows[record.OrderID] = &cp
	return nil
}

func (s *fakeStore) GetEscrow(_ context.Context, orderID string) (*EscrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.escrows[orderID]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *fakeStore) UpdateEscrowStatus(_ context.Context, orderID string, from []string, to string, releasedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.escrows[orderID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if record.Status == status {
			record.Status = to
			if releasedAt != nil {
				record.ReleasedAt = releasedAt
			}
			record.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SumReleasedByVendor(_ context.Context, vendorUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, record := range s.escrows {
		if record.VendorUID == vendorUID && record.Status == constants.EscrowStatusReleased {
			sum += record.HeldAmount
		}
	}
	return sum, nil
}

func (s *fakeStore) ListRefundOwed(_ context.Context, limit int) ([]*EscrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*EscrowRecord
	for orderID, record := range s.escrows {
		if record.Status != constants.EscrowStatusHeld {
			continue
		}
		order, ok := s.orders[orderID]
		if !ok || order.Status != constants.OrderStatusCancelled {
			continue
		}
		cp := *record
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *fakeStore) CreatePayout(_ context.Context, payout *PayoutRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *payout
	s.payouts[payout.ID] = &cp
	s.payoutSeq = append(s.payoutSeq, payout.ID)
	return nil
}

func (s *fakeStore) GetPayout(_ context.Context, payoutID string) (*PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payout, ok := s.payouts[payoutID]
	if !ok {
		return nil, nil
	}
	cp := *payout
	return &cp, nil
}

func (s *fakeStore) UpdatePayoutStatus(_ context.Context, payoutID string, from []string, to string, processedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payout, ok := s.payouts[payoutID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if payout.Status == status {
			payout.Status = to
			payout.ProcessedAt = processedAt
			payout.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SumReservedByVendor(_ context.Context, vendorUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, payout := range s.payouts {
		if payout.VendorUID != vendorUID {
			continue
		}
		if payout.Status == constants.PayoutStatusPending || payout.Status == constants.PayoutStatusApproved {
			sum += payout.Amount
		}
	}
	return sum, nil
}

func (s *fakeStore) ListPayoutsByVendor(_ context.Context, vendorUID string, page, pageSize int) ([]*PayoutRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*PayoutRequest
	for _, id := range s.payoutSeq {
		if payout := s.payouts[id]; payout.VendorUID == vendorUID {
			cp := *payout
			all = append(all, &cp)
		}
	}
	return paginatePayouts(all, page, pageSize)
}

func (s *fakeStore) ListPayoutsByStatus(_ context.Context, status string, page, pageSize int) ([]*PayoutRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*PayoutRequest
	for _, id := range s.payoutSeq {
		if payout := s.payouts[id]; payout.Status == status {
			cp := *payout
			all = append(all, &cp)
		}
	}
	return paginatePayouts(all, page, pageSize)
}

func paginatePayouts(all []*PayoutRequest, page, pageSize int) ([]*PayoutRequest, int, error) {
	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *fakeStore) GetProduct(_ context.Context, productID string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return nil, nil
	}
	cp := *product
	return &cp, nil
}

func (s *fakeStore) GetShop(_ context.Context, shopID string) (*Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return nil, nil
	}
	cp := *shop
	return &cp, nil
}

func (s *fakeStore) GetTransportMethod(_ context.Context, transportMethodID string) (*TransportMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.transports[transportMethodID]
	if !ok {
		return nil, nil
	}
	cp := *tm
	return &cp, nil
}

// storeSnapshot 可变台账的深拷贝,商品目录在用例里只读,不参与快照
type storeSnapshot struct {
	orders     map[string]*Order
	attempts   map[string]*PaymentAttempt
	attemptSeq []string
	escrows    map[string]*EscrowRecord
	payouts    map[string]*PayoutRequest
	payoutSeq  []string
}

func (s *fakeStore) snapshot() *storeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &storeSnapshot{
		orders:     make(map[string]*Order, len(s.orders)),
		attempts:   make(map[string]*PaymentAttempt, len(s.attempts)),
		attemptSeq: append([]string(nil), s.attemptSeq...),
		escrows:    make(map[string]*EscrowRecord, len(s.escrows)),
		payouts:    make(map[string]*PayoutRequest, len(s.payouts)),
		payoutSeq:  append([]string(nil), s.payoutSeq...),
	}
	for id, order := range s.orders {
		cp := *order
		snap.orders[id] = &cp
	}
	for id, attempt := range s.attempts {
		cp := *attempt
		snap.attempts[id] = &cp
	}
	for id, record := range s.escrows {
		cp := *record
		snap.escrows[id] = &cp
	}
	for id, payout := range s.payouts {
		cp := *payout
		snap.payouts[id] = &cp
	}
	return snap
}

func (s *fakeStore) restore(snap *storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = snap.orders
	s.attempts = snap.attempts
	s.attemptSeq = snap.attemptSeq
	s.escrows = snap.escrows
	s.payouts = snap.payouts
	s.payoutSeq = snap.payoutSeq
}

// fakeTx 用互斥锁模拟数据库事务的串行化,
// 回调返回错误时恢复快照,与 gorm Transaction 的回滚语义一致
type fakeTx struct {
	mu    sync.Mutex
	store *fakeStore
}

func (t *fakeTx) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// fakeLocker 锁被占用时立即失败,与 redsync WithTries(1) 行为一致
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	expiries map[string]time.Duration // 每个 key 最近一次申请的租约时长
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{
		held:     make(map[string]bool),
		expiries: make(map[string]time.Duration),
	}
}

func (l *fakeLocker) Lock(_ context.Context, key string, expiry time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expiries[key] = expiry
	if l.held[key] {
		return nil, fmt.Errorf("lock %s is busy", key)
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

func (l *fakeLocker) lastExpiry(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiries[key]
}

type fakeGate struct {
	mu          sync.Mutex
	permissions map[string]map[string]bool
	identities  map[string]*Identity
	err         error
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		permissions: make(map[string]map[string]bool),
		identities:  make(map[string]*Identity),
	}
}

func (g *fakeGate) grant(uid, permission string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.permissions[uid] == nil {
		g.permissions[uid] = make(map[string]bool)
	}
	g.permissions[uid][permission] = true
}

func (g *fakeGate) setIdentity(uid, role string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.identities[uid] = &Identity{UID: uid, Role: role}
}

func (g *fakeGate) Authorize(_ context.Context, actorUID, permission string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	return g.permissions[actorUID][permission], nil
}

func (g *fakeGate) Identity(_ context.Context, actorUID string) (*Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return g.identities[actorUID], nil
}

type emittedNotification struct {
	UserUID    string
	NotifyType string
}

type fakeNotifier struct {
	mu      sync.Mutex
	emitted []emittedNotification
}

func (n *fakeNotifier) Emit(_ context.Context, userUID, notifyType, _, _ string, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emitted = append(n.emitted, emittedNotification{UserUID: userUID, NotifyType: notifyType})
	return nil
}

func (n *fakeNotifier) count(notifyType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.emitted {
		if e.NotifyType == notifyType {
			c++
		}
	}
	return c
}

type fakeGateway struct {
	method string
	seq    int64

	mu           sync.Mutex
	initiateErr  error
	verifyResult *ProviderResult
	verifyErr    error
	voidErr      error
	refundErr    error
	voided       []string
	refunded     []string
}

func (g *fakeGateway) Method() string { return g.method }

func (g *fakeGateway) Initiate(_ context.Context, _ *Order, _ PaymentDetails) (*InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	ref := fmt.Sprintf("%s-ref-%d", g.method, atomic.AddInt64(&g.seq, 1))
	return &InitiateResult{ProviderRef: ref}, nil
}

func (g *fakeGateway) Verify(_ context.Context, providerRef string) (*ProviderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if g.verifyResult != nil {
		result := *g.verifyResult
		result.ProviderRef = providerRef
		return &result, nil
	}
	return &ProviderResult{ProviderRef: providerRef, Status: constants.AttemptStatusPending}, nil
}

func (g *fakeGateway) Void(_ context.Context, providerRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.voidErr != nil {
		return g.voidErr
	}
	g.voided = append(g.voided, providerRef)
	return nil
}

func (g *fakeGateway) Refund(_ context.Context, providerRef string, _ int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunded = append(g.refunded, providerRef)
	return nil
}

type fakeRegistry struct {
	gateways map[string]*fakeGateway
}

func (r *fakeRegistry) ForMethod(method string) (PaymentGateway, error) {
	gateway, ok := r.gateways[method]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedMethod, errors.ReasonUnsupportedMethod,
			"unsupported payment method %q", method)
	}
	return gateway, nil
}

// fixture 组装一套互相接线的用例与依赖,并预置商品目录
type fixture struct {
	store    *fakeStore
	locker   *fakeLocker
	gate     *fakeGate
	notifier *fakeNotifier
	card     *fakeGateway
	momo     *fakeGateway
	cash     *fakeGateway

	orderUC   *OrderUsecase
	paymentUC *PaymentUsecase
	escrowUC  *EscrowUsecase
	payoutUC  *PayoutUsecase
}

func newFixture() *fixture {
	store := newFakeStore()
	locker := newFakeLocker()
	gate := newFakeGate()
	notifier := &fakeNotifier{}
	card := &fakeGateway{method: constants.PaymentMethodCard}
	momo := &fakeGateway{method: constants.PaymentMethodMobileMoney}
	cash := &fakeGateway{method: constants.PaymentMethodCash}
	registry := &fakeRegistry{gateways: map[string]*fakeGateway{
		constants.PaymentMethodCard:        card,
		constants.PaymentMethodMobileMoney: momo,
		constants.PaymentMethodCash:        cash,
	}}
	tm := &fakeTx{store: store}
	logger := log.NewStdLogger(nopWriter{})

	escrowUC := NewEscrowUsecase(store, store, store, registry, notifier, tm, logger)
	orderUC := NewOrderUsecase(store, store, store, registry, escrowUC, gate, notifier, tm, logger)
	paymentUC := NewPaymentUsecase(store, store, store, registry, gate, locker, notifier, tm, logger)
	payoutUC := NewPayoutUsecase(store, store, gate, notifier, locker, tm, logger)

	store.shops["shop-1"] = &Shop{ID: "shop-1", OwnerUID: "vendor-1", Name: "Mama Ntilie Electronics"}
	store.shops["shop-2"] = &Shop{ID: "shop-2", OwnerUID: "vendor-2", Name: "Kariakoo Fashion"}
	store.products["prod-1"] = &Product{ID: "prod-1", ShopID: "shop-1", Name: "Phone", Price: 25000, Purchasable: true}
	store.products["prod-2"] = &Product{ID: "prod-2", ShopID: "shop-1", Name: "Charger", Price: 5000, Purchasable: true}
	store.products["prod-3"] = &Product{ID: "prod-3", ShopID: "shop-2", Name: "Shirt", Price: 12000, Purchasable: true}
	store.products["prod-off"] = &Product{ID: "prod-off", ShopID: "shop-1", Name: "Retired", Price: 9000, Purchasable: false}
	store.transports["tm-1"] = &TransportMethod{ID: "tm-1", Name: "Boda boda", Fee: 3000}

	return &fixture{
		store:     store,
		locker:    locker,
		gate:      gate,
		notifier:  notifier,
		card:      card,
		momo:      momo,
		cash:      cash,
		orderUC:   orderUC,
		paymentUC: paymentUC,
		escrowUC:  escrowUC,
		payoutUC:  payoutUC,
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// payThrough 创建订单并走完一次成功支付,返回已 payment_confirmed 的订单
func (f *fixture) payThrough(ctx context.Context, t interface {
	Fatalf(format string, args ...interface{})
}, buyerUID string, items []OrderItemInput) *Order {
	order, err := f.orderUC.CreateOrder(ctx, buyerUID, items, "Mbezi Beach, Dar es Salaam", constants.PaymentMethodCard, "")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	result, err := f.paymentUC.BeginPayment(ctx, order.ID, buyerUID, constants.PaymentMethodCard, PaymentDetails{})
	if err != nil {
		t.Fatalf("BeginPayment: %v", err)
	}
	if err := f.paymentUC.HandlePaymentResult(ctx, result.ProviderRef, constants.AttemptStatusSucceeded, order.TotalAmount, nil); err != nil {
		t.Fatalf("HandlePaymentResult: %v", err)
	}
	updated, err := f.store.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	return updated
}
