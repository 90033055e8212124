package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/store"
	"github.com/lib/pq"
)

const rebalancingColumns = `
	id, rebalancing_id, trade_hash, trade_id,
	amount, real_amount, oracle_price, quote_price, slippage_bps, expected_usdc, actual_usdc,
	tx_id, vault_address, deposit_address, near_vault_tx_id, quote_id, near_tx_id, near_deposit_id, mempool_verified,
	status, retry_count, error, trade_completed_at, created_at, updated_at`

type RebalancingRepo struct {
	db *DB
}

var _ store.RebalancingRepository = (*RebalancingRepo)(nil)

func NewRebalancingRepo(db *DB) *RebalancingRepo {
	return &RebalancingRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRebalancing(row rowScanner) (*model.Rebalancing, error) {
	var r model.Rebalancing
	if err := row.Scan(
		&r.ID, &r.RebalancingID, &r.TradeHash, &r.TradeID,
		&r.Amount, &r.RealAmount, &r.OraclePrice, &r.QuotePrice, &r.SlippageBps, &r.ExpectedUsdc, &r.ActualUsdc,
		&r.TxID, &r.VaultAddress, &r.DepositAddress, &r.NearVaultTxID, &r.QuoteID, &r.NearTxID, &r.NearDepositID, &r.MempoolVerified,
		&r.Status, &r.RetryCount, &r.Error, &r.TradeCompletedAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts r and fills in the generated id and timestamps.
func (r *RebalancingRepo) Create(ctx context.Context, rec *model.Rebalancing) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	status := rec.Status
	if status == "" {
		status = model.RebalancingStatusPending
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO rebalancings (rebalancing_id, trade_hash, trade_id, amount, tx_id, vault_address, status, trade_completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, status, retry_count, created_at, updated_at
	`, rec.RebalancingID, rec.TradeHash, rec.TradeID, rec.Amount, rec.TxID, rec.VaultAddress, status, rec.TradeCompletedAt,
	).Scan(&rec.ID, &rec.Status, &rec.RetryCount, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create rebalancing %s: %w", rec.TradeHash, store.ErrDuplicateTradeHash)
		}
		return fmt.Errorf("create rebalancing: %w", err)
	}
	return nil
}

func (r *RebalancingRepo) ExistsByTradeHash(ctx context.Context, tradeHash string) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM rebalancings WHERE trade_hash = $1)", tradeHash,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check rebalancing exists: %w", err)
	}
	return exists, nil
}

func (r *RebalancingRepo) FindByTradeHash(ctx context.Context, tradeHash string) (*model.Rebalancing, error) {
	return r.findOne(ctx, "trade_hash = $1", tradeHash)
}

func (r *RebalancingRepo) FindByID(ctx context.Context, id int64) (*model.Rebalancing, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *RebalancingRepo) findOne(ctx context.Context, where string, arg any) (*model.Rebalancing, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rec, err := scanRebalancing(r.db.QueryRowContext(ctx,
		"SELECT "+rebalancingColumns+" FROM rebalancings WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find rebalancing: %w", err)
	}
	return rec, nil
}

func (r *RebalancingRepo) FindPending(ctx context.Context) ([]model.Rebalancing, error) {
	return r.FindByStatus(ctx, model.RebalancingStatusPending)
}

func (r *RebalancingRepo) FindByStatus(ctx context.Context, statuses ...model.RebalancingStatus) ([]model.Rebalancing, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+rebalancingColumns+" FROM rebalancings WHERE status = ANY($1) ORDER BY created_at ASC, id ASC",
		pq.Array(values))
	if err != nil {
		return nil, fmt.Errorf("query rebalancings by status: %w", err)
	}
	defer rows.Close()

	var out []model.Rebalancing
	for rows.Next() {
		rec, err := scanRebalancing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rebalancing: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateStatus sets status and every non-nil patch field when the row is
// still in from. trade_completed_at and real_amount are never written here.
func (r *RebalancingRepo) UpdateStatus(ctx context.Context, id int64, from, to model.RebalancingStatus, patch model.RebalancingPatch) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE rebalancings SET
			status           = $2,
			error            = COALESCE($3, error),
			oracle_price     = COALESCE($4, oracle_price),
			quote_price      = COALESCE($5, quote_price),
			slippage_bps     = COALESCE($6, slippage_bps),
			expected_usdc    = COALESCE($7, expected_usdc),
			actual_usdc      = COALESCE($8, actual_usdc),
			deposit_address  = COALESCE($9, deposit_address),
			near_vault_tx_id = COALESCE($10, near_vault_tx_id),
			quote_id         = COALESCE($11, quote_id),
			near_tx_id       = COALESCE($12, near_tx_id),
			near_deposit_id  = COALESCE($13, near_deposit_id),
			updated_at       = now()
		WHERE id = $1 AND status = $14
	`, id, to, patch.Error, patch.OraclePrice, patch.QuotePrice, patch.SlippageBps,
		patch.ExpectedUsdc, patch.ActualUsdc, patch.DepositAddress, patch.NearVaultTxID,
		patch.QuoteID, patch.NearTxID, patch.NearDepositID, from)
	if err != nil {
		return fmt.Errorf("update rebalancing %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.conflict(ctx, id, from, fmt.Sprintf("update rebalancing %d %s -> %s", id, from, to))
}

func (r *RebalancingRepo) MarkVerified(ctx context.Context, id int64, realAmount string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE rebalancings SET
			real_amount = $2,
			mempool_verified = true,
			status = $3,
			updated_at = now()
		WHERE id = $1 AND real_amount IS NULL
	`, id, realAmount, model.RebalancingStatusMempoolVerified)
	if err != nil {
		return fmt.Errorf("mark rebalancing %d verified: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("mark rebalancing %d verified: %w", id, store.ErrNotFound)
	}
	return fmt.Errorf("mark rebalancing %d verified: %w", id, store.ErrRealAmountAlreadySet)
}

func (r *RebalancingRepo) Requeue(ctx context.Context, id int64) (int, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE rebalancings SET
			status = $2,
			retry_count = retry_count + 1,
			updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING retry_count
	`, id, model.RebalancingStatusPending, model.RebalancingStatusFailed).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.conflict(ctx, id, model.RebalancingStatusFailed, fmt.Sprintf("requeue rebalancing %d", id))
	}
	if err != nil {
		return 0, fmt.Errorf("requeue rebalancing %d: %w", id, err)
	}
	return count, nil
}

// conflict explains a guarded write that matched no row: the record is
// either gone or no longer in the expected status.
func (r *RebalancingRepo) conflict(ctx context.Context, id int64, want model.RebalancingStatus, op string) error {
	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: status is %s, expected %s", op, store.ErrStatusConflict, existing.Status, want)
}
