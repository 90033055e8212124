//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/store"
	"github.com/Phathdt/pmm-sub001/internal/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(hash string, completedAt time.Time) *model.Rebalancing {
	return &model.Rebalancing{
		RebalancingID:    "rb-" + hash,
		TradeHash:        hash,
		TradeID:          model.StringPtr("trade-" + hash),
		Amount:           "150000",
		TxID:             model.StringPtr("txid-" + hash),
		VaultAddress:     model.StringPtr("bc1qvault"),
		TradeCompletedAt: completedAt,
	}
}

func TestRebalancingRepo_CreateAndFind(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	completedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	rec := newRecord("0xaaa", completedAt)
	require.NoError(t, repo.Create(ctx, rec))
	assert.NotZero(t, rec.ID)
	assert.Equal(t, model.RebalancingStatusPending, rec.Status)

	exists, err := repo.ExistsByTradeHash(ctx, "0xaaa")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := repo.FindByTradeHash(ctx, "0xaaa")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "150000", got.Amount)
	assert.Nil(t, got.RealAmount)
	assert.True(t, completedAt.Equal(got.TradeCompletedAt))

	missing, err := repo.FindByTradeHash(ctx, "0xnope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRebalancingRepo_DuplicateTradeHash(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRecord("0xdup", time.Now())))
	dup := newRecord("0xdup", time.Now())
	dup.RebalancingID = "rb-other"
	err := repo.Create(ctx, dup)
	require.ErrorIs(t, err, store.ErrDuplicateTradeHash)
}

func TestRebalancingRepo_ConcurrentCreateSingleWinner(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var created int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := newRecord("0xrace", time.Now())
			rec.RebalancingID = "rb-race-" + string(rune('a'+i))
			if err := repo.Create(ctx, rec); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestRebalancingRepo_MarkVerifiedOnce(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	rec := newRecord("0xverify", time.Now())
	require.NoError(t, repo.Create(ctx, rec))

	require.NoError(t, repo.MarkVerified(ctx, rec.ID, "149000"))
	err := repo.MarkVerified(ctx, rec.ID, "1")
	require.ErrorIs(t, err, store.ErrRealAmountAlreadySet)

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RealAmount)
	assert.Equal(t, "149000", *got.RealAmount)
	assert.True(t, got.MempoolVerified)
	assert.Equal(t, model.RebalancingStatusMempoolVerified, got.Status)

	err = repo.MarkVerified(ctx, 999999, "1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRebalancingRepo_FindPendingOrderAndStatusPatch(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	first := newRecord("0x1", time.Now())
	second := newRecord("0x2", time.Now())
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	pending, err := repo.FindPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "0x1", pending[0].TradeHash)
	assert.Equal(t, "0x2", pending[1].TradeHash)

	bps := int64(120)
	require.NoError(t, repo.UpdateStatus(ctx, first.ID, model.RebalancingStatusPending, model.RebalancingStatusQuoteAccepted, model.RebalancingPatch{
		QuoteID:     model.StringPtr("q-1"),
		SlippageBps: &bps,
		OraclePrice: model.StringPtr("50000.5"),
	}))
	got, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RebalancingStatusQuoteAccepted, got.Status)
	assert.Equal(t, "q-1", *got.QuoteID)
	assert.Equal(t, int64(120), *got.SlippageBps)

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, model.RebalancingStatusQuoteAccepted, model.RebalancingStatusFailed, model.RebalancingPatch{
		Error: model.StringPtr("boom"),
	}))
	got, err = repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "q-1", *got.QuoteID, "nil patch fields are left untouched")
	assert.Equal(t, "boom", *got.Error)

	failed, err := repo.FindByStatus(ctx, model.RebalancingStatusFailed, model.RebalancingStatusStuck)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	err = repo.UpdateStatus(ctx, 424242, model.RebalancingStatusFailed, model.RebalancingStatusStuck, model.RebalancingPatch{})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRebalancingRepo_UpdateStatusGuardsFromStatus(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	rec := newRecord("0xguard", time.Now())
	require.NoError(t, repo.Create(ctx, rec))
	require.NoError(t, repo.UpdateStatus(ctx, rec.ID, model.RebalancingStatusPending, model.RebalancingStatusQuoteAccepted, model.RebalancingPatch{}))

	// The retry scheduler marks the record STUCK while the swap is sending.
	require.NoError(t, repo.UpdateStatus(ctx, rec.ID, model.RebalancingStatusQuoteAccepted, model.RebalancingStatusStuck, model.RebalancingPatch{
		Error: model.StringPtr("exceeded max retry duration"),
	}))

	// The swap's write from its stale copy must not overwrite STUCK.
	err := repo.UpdateStatus(ctx, rec.ID, model.RebalancingStatusQuoteAccepted, model.RebalancingStatusDepositSubmitted, model.RebalancingPatch{
		NearVaultTxID: model.StringPtr("btc-tx"),
	})
	require.ErrorIs(t, err, store.ErrStatusConflict)

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RebalancingStatusStuck, got.Status)
	assert.Nil(t, got.NearVaultTxID)
}

func TestRebalancingRepo_ConcurrentStatusWritesSingleWinner(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	rec := newRecord("0xwriters", time.Now())
	require.NoError(t, repo.Create(ctx, rec))

	targets := []model.RebalancingStatus{
		model.RebalancingStatusMempoolVerified,
		model.RebalancingStatusStuck,
		model.RebalancingStatusFailed,
		model.RebalancingStatusStuck,
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var won []model.RebalancingStatus
	for _, to := range targets {
		wg.Add(1)
		go func(to model.RebalancingStatus) {
			defer wg.Done()
			if err := repo.UpdateStatus(ctx, rec.ID, model.RebalancingStatusPending, to, model.RebalancingPatch{}); err == nil {
				mu.Lock()
				won = append(won, to)
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()
	require.Len(t, won, 1)

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, won[0], got.Status)
}

func TestRebalancingRepo_Requeue(t *testing.T) {
	db := setupTestContainer(t)
	repo := postgres.NewRebalancingRepo(db)
	ctx := context.Background()

	rec := newRecord("0xrequeue", time.Now())
	require.NoError(t, repo.Create(ctx, rec))

	_, err := repo.Requeue(ctx, rec.ID)
	require.ErrorIs(t, err, store.ErrStatusConflict, "only FAILED records are requeued")

	require.NoError(t, repo.UpdateStatus(ctx, rec.ID, model.RebalancingStatusPending, model.RebalancingStatusFailed, model.RebalancingPatch{
		Error: model.StringPtr("quote timeout"),
	}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var counts []int
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, err := repo.Requeue(ctx, rec.ID); err == nil {
				mu.Lock()
				counts = append(counts, n)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []int{1}, counts)

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RebalancingStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "quote timeout", *got.Error)

	_, err = repo.Requeue(ctx, 424242)
	require.ErrorIs(t, err, store.ErrNotFound)
}
