package store

import (
	"context"
	"errors"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

var (
	// ErrNotFound is returned by updates that target a missing row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateTradeHash is returned when a record already exists for the trade hash.
	ErrDuplicateTradeHash = errors.New("rebalancing already exists for trade hash")
	// ErrRealAmountAlreadySet guards the write-once real_amount column.
	ErrRealAmountAlreadySet = errors.New("real amount already set")
	// ErrStatusConflict is returned when a guarded update finds the record no
	// longer in the expected status.
	ErrStatusConflict = errors.New("rebalancing status changed concurrently")
)

// RebalancingRepository provides durable access to rebalancing records.
// Lookups return (nil, nil) when nothing matches.
type RebalancingRepository interface {
	Create(ctx context.Context, r *model.Rebalancing) error
	ExistsByTradeHash(ctx context.Context, tradeHash string) (bool, error)
	FindByTradeHash(ctx context.Context, tradeHash string) (*model.Rebalancing, error)
	FindByID(ctx context.Context, id int64) (*model.Rebalancing, error)
	// FindPending returns PENDING records oldest first.
	FindPending(ctx context.Context) ([]model.Rebalancing, error)
	// FindByStatus returns matching records oldest first.
	FindByStatus(ctx context.Context, statuses ...model.RebalancingStatus) ([]model.Rebalancing, error)
	// UpdateStatus moves the record from -> to and applies patch. It returns
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to model.RebalancingStatus, patch model.RebalancingPatch) error
	// MarkVerified writes real_amount once and moves the record to MEMPOOL_VERIFIED.
	MarkVerified(ctx context.Context, id int64, realAmount string) error
	// Requeue moves a FAILED record back to PENDING and bumps retry_count in
	// one write, returning the new count.
	Requeue(ctx context.Context, id int64) (int, error)
}
