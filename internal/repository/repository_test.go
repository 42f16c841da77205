package repository

import (
	"context"
	"sync"
	"testing"

	"settlement/internal/model"
	"settlement/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestBalanceGetOrCreateIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, nil, "seller-1")
	require.NoError(t, err)
	second, err := repo.GetOrCreate(ctx, nil, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&model.SellerBalance{}).Where("seller_id = ?", "seller-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBalanceMovesAreConditional(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, nil, "seller-1")
	require.NoError(t, err)

	require.NoError(t, repo.AddToEscrow(ctx, nil, "seller-1", 1000))
	assert.ErrorIs(t, repo.ReleaseEscrowToPending(ctx, nil, "seller-1", 1001), ErrInsufficientEscrow)
	require.NoError(t, repo.ReleaseEscrowToPending(ctx, nil, "seller-1", 1000))

	assert.ErrorIs(t, repo.MovePendingToAvailable(ctx, nil, "seller-1", 2000), ErrInsufficientPending)
	require.NoError(t, repo.MovePendingToAvailable(ctx, nil, "seller-1", 600))

	assert.ErrorIs(t, repo.DeductFromAvailable(ctx, nil, "seller-1", 601), ErrInsufficientAvailable)
	require.NoError(t, repo.DeductFromAvailable(ctx, nil, "seller-1", 600))
	require.NoError(t, repo.CreditAvailable(ctx, nil, "seller-1", 600))

	b, err := repo.GetBySellerID(ctx, nil, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.EscrowBalance)
	assert.Equal(t, int64(400), b.PendingBalance)
	assert.Equal(t, int64(600), b.AvailableBalance)
	assert.Equal(t, 5, b.Version, "only successful updates bump the version")
}

func TestBalanceUnknownSeller(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	assert.ErrorIs(t, repo.AddToPending(ctx, nil, "ghost", 10), ErrBalanceNotFound)
	assert.ErrorIs(t, repo.DeductFromAvailable(ctx, nil, "ghost", 10), ErrBalanceNotFound)
}

func TestBalanceConcurrentDeductNeverOverdraws(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, nil, "seller-1")
	require.NoError(t, err)
	require.NoError(t, repo.CreditAvailable(ctx, nil, "seller-1", 1000))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.DeductFromAvailable(ctx, nil, "seller-1", 400); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientAvailable)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	b, err := repo.GetBySellerID(ctx, nil, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), b.AvailableBalance)
}

func TestBalanceRollsBackWithTransaction(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, nil, "seller-1")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := repo.AddToPending(ctx, tx, "seller-1", 500); err != nil {
			return err
		}
		return repo.MovePendingToAvailable(ctx, tx, "seller-1", 900)
	})
	require.ErrorIs(t, err, ErrInsufficientPending)

	b, err := repo.GetBySellerID(ctx, nil, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.PendingBalance)
}

func TestPayoutTransitionIsConditional(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPayoutRepository(db)
	ctx := context.Background()

	payout := &model.PayoutRequest{
		PayoutNo:       "PO-1",
		RequestID:      "req-1",
		SellerID:       "seller-1",
		Amount:         1000,
		ReservedAmount: 1000,
		Method:         "bank_transfer",
		Status:         model.PayoutStatusPendingApproval,
	}
	require.NoError(t, repo.Create(ctx, nil, payout))

	dup := *payout
	dup.ID = 0
	dup.PayoutNo = "PO-2"
	assert.True(t, IsDuplicateKey(repo.Create(ctx, nil, &dup)), "request_id is unique")

	assert.ErrorIs(t, repo.Transition(ctx, nil, "PO-1", model.PayoutStatusPendingApproval, model.PayoutStatusPaid, nil), ErrStatusConflict)
	require.NoError(t, repo.Transition(ctx, nil, "PO-1", model.PayoutStatusPendingApproval, model.PayoutStatusApproved,
		map[string]interface{}{"approved_by": "admin-1"}))
	assert.ErrorIs(t, repo.Transition(ctx, nil, "PO-1", model.PayoutStatusPendingApproval, model.PayoutStatusRejected, nil), ErrStatusConflict)

	got, err := repo.GetByPayoutNo(ctx, nil, "PO-1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusApproved, got.Status)
	assert.Equal(t, "admin-1", got.ApprovedBy)

	_, err = repo.GetByPayoutNo(ctx, nil, "PO-404")
	assert.ErrorIs(t, err, ErrPayoutNotFound)
}
