package biz

import (
	"context"
	"sync"
	"testing"

	"xinyuan_tech/marketplace-service/internal/constants"
	"xinyuan_tech/marketplace-service/internal/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedReleased 直接预置一条已释放的托管记录,模拟历史成交
func seedReleased(f *fixture, orderID, vendorUID string, amount int64) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.escrows[orderID] = &EscrowRecord{
		OrderID:    orderID,
		VendorUID:  vendorUID,
		HeldAmount: amount,
		Status:     constants.EscrowStatusReleased,
	}
}

func TestReleasableBalance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")

	seedReleased(f, "order-a", "vendor-1", 60000)
	seedReleased(f, "order-b", "vendor-1", 40000)
	seedReleased(f, "order-c", "vendor-2", 99999)

	balance, err := f.payoutUC.ReleasableBalance(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), balance)

	// pending 请求占用余额
	_, err = f.payoutUC.RequestPayout(ctx, "vendor-1", 60000, "mobile_money", `{"phone":"255712000111"}`)
	require.NoError(t, err)

	balance, err = f.payoutUC.ReleasableBalance(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), balance)
}

func TestRequestPayoutInsufficientBalance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")

	seedReleased(f, "order-a", "vendor-1", 100000)

	_, err := f.payoutUC.RequestPayout(ctx, "vendor-1", 60000, "bank_transfer", "")
	require.NoError(t, err)

	// 余额剩 40000,再请求 50000 必须失败
	_, err = f.payoutUC.RequestPayout(ctx, "vendor-1", 50000, "bank_transfer", "")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonInsufficientBalance))

	_, err = f.payoutUC.RequestPayout(ctx, "vendor-1", 40000, "bank_transfer", "")
	assert.NoError(t, err)

	assert.Equal(t, constants.PayoutLockExpiration, f.locker.lastExpiry("payout_lock:vendor:vendor-1"))
}

func TestRequestPayoutRejectsNonVendor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.gate.setIdentity("buyer-1", "buyer")
	_, err := f.payoutUC.RequestPayout(ctx, "buyer-1", 1000, "bank_transfer", "")
	require.Error(t, err)
	assert.True(t, kerrors.IsForbidden(err))

	// 身份服务无此用户同样拒绝
	_, err = f.payoutUC.RequestPayout(ctx, "ghost", 1000, "bank_transfer", "")
	require.Error(t, err)
	assert.True(t, kerrors.IsForbidden(err))
}

func TestRequestPayoutRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture()
	f.gate.setIdentity("vendor-1", "vendor")

	_, err := f.payoutUC.RequestPayout(context.Background(), "vendor-1", 0, "bank_transfer", "")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidAmount))

	_, err = f.payoutUC.RequestPayout(context.Background(), "vendor-1", -500, "bank_transfer", "")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidAmount))
}

func TestRequestPayoutConcurrentOverBalanceAdmitsOne(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")

	seedReleased(f, "order-a", "vendor-1", 100000)

	// 两个 60000 的并发请求合计超出余额,至多一个成功
	const workers = 2
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.payoutUC.RequestPayout(ctx, "vendor-1", 60000, "bank_transfer", "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)

	reserved, err := f.store.SumReservedByVendor(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60000), reserved)
}

func TestApprovePayoutRequiresPermission(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")
	seedReleased(f, "order-a", "vendor-1", 50000)

	payout, err := f.payoutUC.RequestPayout(ctx, "vendor-1", 20000, "bank_transfer", "")
	require.NoError(t, err)

	err = f.payoutUC.ApprovePayout(ctx, payout.ID, "vendor-1")
	require.Error(t, err)
	assert.True(t, kerrors.IsForbidden(err))

	f.gate.grant("admin-1", constants.PermissionManagePayouts)
	require.NoError(t, f.payoutUC.ApprovePayout(ctx, payout.ID, "admin-1"))

	got, err := f.store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.PayoutStatusApproved, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, 1, f.notifier.count(constants.NotifyPayoutApproved))
}

func TestApprovedPayoutStaysReserved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")
	f.gate.grant("admin-1", constants.PermissionManagePayouts)
	seedReleased(f, "order-a", "vendor-1", 50000)

	payout, err := f.payoutUC.RequestPayout(ctx, "vendor-1", 30000, "bank_transfer", "")
	require.NoError(t, err)
	require.NoError(t, f.payoutUC.ApprovePayout(ctx, payout.ID, "admin-1"))

	// 审批通过后余额仍被占用
	balance, err := f.payoutUC.ReleasableBalance(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), balance)
}

func TestRejectPayoutFreesBalance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")
	f.gate.grant("admin-1", constants.PermissionManagePayouts)
	seedReleased(f, "order-a", "vendor-1", 50000)

	payout, err := f.payoutUC.RequestPayout(ctx, "vendor-1", 30000, "bank_transfer", "")
	require.NoError(t, err)
	require.NoError(t, f.payoutUC.RejectPayout(ctx, payout.ID, "admin-1"))

	got, err := f.store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.PayoutStatusRejected, got.Status)
	assert.Equal(t, 1, f.notifier.count(constants.NotifyPayoutRejected))

	// 驳回后占用释放,可重新全额申请
	balance, err := f.payoutUC.ReleasableBalance(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
	_, err = f.payoutUC.RequestPayout(ctx, "vendor-1", 50000, "bank_transfer", "")
	assert.NoError(t, err)
}

func TestApprovePayoutTwiceFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")
	f.gate.grant("admin-1", constants.PermissionManagePayouts)
	seedReleased(f, "order-a", "vendor-1", 50000)

	payout, err := f.payoutUC.RequestPayout(ctx, "vendor-1", 20000, "bank_transfer", "")
	require.NoError(t, err)
	require.NoError(t, f.payoutUC.ApprovePayout(ctx, payout.ID, "admin-1"))

	err = f.payoutUC.ApprovePayout(ctx, payout.ID, "admin-1")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonPayoutNotPending))

	err = f.payoutUC.RejectPayout(ctx, payout.ID, "admin-1")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonPayoutNotPending))
}

func TestApprovePayoutNotFound(t *testing.T) {
	f := newFixture()
	f.gate.grant("admin-1", constants.PermissionManagePayouts)

	err := f.payoutUC.ApprovePayout(context.Background(), "no-such-payout", "admin-1")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonPayoutNotFound))
}

func TestListPendingPayoutsRequiresPermission(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")
	seedReleased(f, "order-a", "vendor-1", 50000)

	_, err := f.payoutUC.RequestPayout(ctx, "vendor-1", 10000, "bank_transfer", "")
	require.NoError(t, err)

	_, _, err = f.payoutUC.ListPendingPayouts(ctx, "vendor-1", 1, 10)
	require.Error(t, err)
	assert.True(t, kerrors.IsForbidden(err))

	f.gate.grant("admin-1", constants.PermissionManagePayouts)
	payouts, total, err := f.payoutUC.ListPendingPayouts(ctx, "admin-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, payouts, 1)
}

func TestListVendorPayouts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gate.setIdentity("vendor-1", "vendor")
	seedReleased(f, "order-a", "vendor-1", 90000)

	for i := 0; i < 3; i++ {
		_, err := f.payoutUC.RequestPayout(ctx, "vendor-1", 10000, "bank_transfer", "")
		require.NoError(t, err)
	}

	payouts, total, err := f.payoutUC.ListVendorPayouts(ctx, "vendor-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, payouts, 2)
}
