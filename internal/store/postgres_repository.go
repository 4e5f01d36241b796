/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all SQL for the accounts, transfers, compliance_decisions,
 * transfer_events, and flow_aggregates tables.
 *
 * @notes
 * - State transitions are conditional updates ("... WHERE state = $expected") so
 *   two workers racing on the same transfer fail safely: the loser observes
 *   applied=false and re-reads.
 * - The transition update and the lifecycle-event insert share one database
 *   transaction, keeping the append-only log exactly in step with the row.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
)

const uniqueViolationCode = "23505"

// PostgresRepository is the concrete Repository implementation for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CreateAccount persists a new account row. The unique index on
// (network, environment, account_id) surfaces duplicates as ErrAccountExists.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (account_id, network, environment, owner_project_id, account_type, country_code, kyc_tier, status, creation_nonce, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		account.AccountID,
		account.Network,
		account.Environment,
		account.OwnerProjectID,
		account.AccountType,
		account.CountryCode,
		account.KYCTier,
		account.Status,
		account.CreationNonce,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

// FindAccountByID retrieves an account by its network-native identifier.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT account_id, network, environment, owner_project_id, account_type, country_code, kyc_tier, status, creation_nonce, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
	`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.AccountID,
		&account.Network,
		&account.Environment,
		&account.OwnerProjectID,
		&account.AccountType,
		&account.CountryCode,
		&account.KYCTier,
		&account.Status,
		&account.CreationNonce,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateAccountKYCTier sets the account's KYC tier. Tier ordering is enforced by
// the registry before this is called.
func (r *PostgresRepository) UpdateAccountKYCTier(ctx context.Context, accountID string, tier domain.KYCTier) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET kyc_tier = $1, updated_at = NOW() WHERE account_id = $2`, tier, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateAccountStatus appends a status change; account rows are never deleted.
func (r *PostgresRepository) UpdateAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = NOW() WHERE account_id = $2`, status, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CreateTransferIdempotent inserts the transfer row unless one already exists
// for (owner_project_id, idempotency_key). The ON CONFLICT DO NOTHING + fetch
// pair rides on the unique index, so two concurrent requests with the same key
// produce exactly one row and both observe it.
func (r *PostgresRepository) CreateTransferIdempotent(ctx context.Context, transfer *domain.Transfer) (bool, *domain.Transfer, error) {
	query := `
		INSERT INTO transfers (id, owner_project_id, idempotency_key, client_ref, from_account, to_account, network, environment, asset_code, amount, fee_amount, memo, state, review_required, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, false, NOW(), NOW())
		ON CONFLICT (owner_project_id, idempotency_key) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		transfer.ID,
		transfer.OwnerProjectID,
		transfer.IdempotencyKey,
		transfer.ClientRef,
		transfer.FromAccount,
		transfer.ToAccount,
		transfer.Network,
		transfer.Environment,
		transfer.AssetCode,
		transfer.Amount,
		transfer.FeeAmount,
		transfer.Memo,
		transfer.State,
	)
	if err != nil {
		return false, nil, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil, nil
	}

	existing, err := r.findTransferByIdempotencyKey(ctx, transfer.OwnerProjectID, transfer.IdempotencyKey)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

const transferColumns = `id, owner_project_id, idempotency_key, client_ref, from_account, to_account, network, environment, asset_code, amount, fee_amount, memo, state, network_receipt, failure_reason, review_required, created_at, updated_at`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	err := row.Scan(
		&t.ID,
		&t.OwnerProjectID,
		&t.IdempotencyKey,
		&t.ClientRef,
		&t.FromAccount,
		&t.ToAccount,
		&t.Network,
		&t.Environment,
		&t.AssetCode,
		&t.Amount,
		&t.FeeAmount,
		&t.Memo,
		&t.State,
		&t.NetworkReceipt,
		&t.FailureReason,
		&t.ReviewRequired,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresRepository) findTransferByIdempotencyKey(ctx context.Context, projectID uuid.UUID, key string) (*domain.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE owner_project_id = $1 AND idempotency_key = $2`, transferColumns)
	transfer, err := scanTransfer(r.db.QueryRow(ctx, query, projectID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

// FindTransferByID retrieves a transfer by its engine-generated identifier.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE id = $1`, transferColumns)
	transfer, err := scanTransfer(r.db.QueryRow(ctx, query, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

// TransitionTransferState applies the state change and appends the lifecycle
// event atomically. applied=false means the row was not in the expected state.
func (r *PostgresRepository) TransitionTransferState(ctx context.Context, transferID uuid.UUID, from, to domain.TransferState, params TransitionParams) (*domain.TransferEvent, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE transfers
		SET
			state = $1,
			fee_amount = COALESCE($2, fee_amount),
			network_receipt = COALESCE($3, network_receipt),
			failure_reason = COALESCE($4, failure_reason),
			review_required = COALESCE($5, review_required),
			updated_at = NOW()
		WHERE id = $6 AND state = $7
	`
	tag, err := tx.Exec(ctx, update,
		to,
		params.FeeAmount,
		params.NetworkReceipt,
		params.FailureReason,
		params.ReviewRequired,
		transferID,
		from,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	event := &domain.TransferEvent{
		TransferID: transferID,
		OldState:   from,
		NewState:   to,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO transfer_events (transfer_id, old_state, new_state, occurred_at) VALUES ($1, $2, $3, NOW()) RETURNING seq, occurred_at`,
		transferID, from, to,
	).Scan(&event.Seq, &event.OccurredAt)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return event, true, nil
}

// ListTransfersInStateOlderThan returns transfers stuck in a state past the
// cutoff, oldest first. The reconciliation sweeper feeds on this.
func (r *PostgresRepository) ListTransfersInStateOlderThan(ctx context.Context, state domain.TransferState, cutoff time.Time, limit int) ([]domain.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE state = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`, transferColumns)
	rows, err := r.db.Query(ctx, query, state, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// ListReviewRequiredTransfers returns the manual operator review queue.
func (r *PostgresRepository) ListReviewRequiredTransfers(ctx context.Context, limit int) ([]domain.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE review_required = true ORDER BY updated_at ASC LIMIT $1`, transferColumns)
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func collectTransfers(rows pgx.Rows) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// CreateComplianceDecision records an immutable gate verdict. Rule matches are
// stored as a text array preserving evaluation order.
func (r *PostgresRepository) CreateComplianceDecision(ctx context.Context, decision *domain.ComplianceDecision) error {
	query := `
		INSERT INTO compliance_decisions (id, subject_id, decision, risk_score, rule_matches, rule_table_version, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		decision.ID,
		decision.SubjectID,
		decision.Decision,
		decision.RiskScore,
		decision.RuleMatches,
		decision.RuleTableVersion,
		decision.DecidedAt,
	)
	return err
}

// SumTransferAmountsSince totals an account's outgoing volume since the cutoff.
// Terminally failed movements are excluded because no value moved.
func (r *PostgresRepository) SumTransferAmountsSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transfers
		WHERE from_account = $1
		  AND created_at >= $2
		  AND state NOT IN ('failed', 'compliance_blocked', 'cancelled')
	`
	if err := r.db.QueryRow(ctx, query, accountID, since).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// SettledAmountStats returns the average settled amount and count for an
// account's outgoing transfers since the cutoff.
func (r *PostgresRepository) SettledAmountStats(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, int64, error) {
	var avg decimal.Decimal
	var count int64
	query := `
		SELECT COALESCE(AVG(amount), 0), COUNT(*)
		FROM transfers
		WHERE from_account = $1 AND created_at >= $2 AND state = 'settled'
	`
	if err := r.db.QueryRow(ctx, query, accountID, since).Scan(&avg, &count); err != nil {
		return decimal.Zero, 0, err
	}
	return avg, count, nil
}

// ListTransferEventsAfter pages through the lifecycle log in sequence order,
// joined against transfers and accounts so each event carries the snapshot the
// indexer needs for bucketing.
func (r *PostgresRepository) ListTransferEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]domain.TransferLifecycleEvent, error) {
	query := `
		SELECT e.seq, e.transfer_id, e.old_state, e.new_state, e.occurred_at,
		       t.network, t.environment, t.asset_code, t.amount, t.fee_amount,
		       src.country_code, dst.country_code
		FROM transfer_events e
		JOIN transfers t ON t.id = e.transfer_id
		JOIN accounts src ON src.account_id = t.from_account
		JOIN accounts dst ON dst.account_id = t.to_account
		WHERE e.seq > $1
		ORDER BY e.seq ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TransferLifecycleEvent
	for rows.Next() {
		var ev domain.TransferLifecycleEvent
		err := rows.Scan(
			&ev.Seq,
			&ev.TransferID,
			&ev.OldState,
			&ev.NewState,
			&ev.OccurredAt,
			&ev.Network,
			&ev.Environment,
			&ev.AssetCode,
			&ev.Amount,
			&ev.FeeAmount,
			&ev.FromCountry,
			&ev.ToCountry,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ApplyFlowDelta folds one settled flow into its bucket. Idempotency is
// per event: the sequence is first claimed in the flow_applied_events ledger
// (unique per bucket and seq), and only a fresh claim moves the aggregate.
// Events reaching the indexer out of sequence order therefore all count;
// only a true redelivery is a no-op.
func (r *PostgresRepository) ApplyFlowDelta(ctx context.Context, delta FlowDelta) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	claim := `
		INSERT INTO flow_applied_events (from_country, to_country, asset_code, period, event_seq)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (from_country, to_country, asset_code, period, event_seq) DO NOTHING
	`
	tag, err := tx.Exec(ctx, claim,
		delta.Key.FromCountry,
		delta.Key.ToCountry,
		delta.Key.AssetCode,
		delta.Key.Period,
		delta.EventSeq,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Already folded on an earlier delivery.
		return nil
	}

	upsert := `
		INSERT INTO flow_aggregates (from_country, to_country, asset_code, period, transfer_count, total_amount, total_fees, last_event_seq, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $7, NOW())
		ON CONFLICT (from_country, to_country, asset_code, period) DO UPDATE
		SET transfer_count = flow_aggregates.transfer_count + 1,
		    total_amount   = flow_aggregates.total_amount + EXCLUDED.total_amount,
		    total_fees     = flow_aggregates.total_fees + EXCLUDED.total_fees,
		    last_event_seq = GREATEST(flow_aggregates.last_event_seq, EXCLUDED.last_event_seq),
		    updated_at     = NOW()
	`
	if _, err := tx.Exec(ctx, upsert,
		delta.Key.FromCountry,
		delta.Key.ToCountry,
		delta.Key.AssetCode,
		delta.Key.Period,
		delta.Amount,
		delta.Fee,
		delta.EventSeq,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// QueryFlowAggregates filters aggregate rows for the analytics endpoint.
func (r *PostgresRepository) QueryFlowAggregates(ctx context.Context, q domain.FlowQuery) ([]domain.FlowAggregate, error) {
	var conditions []string
	var args []interface{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("from_country", q.FromCountry)
	add("to_country", q.ToCountry)
	add("asset_code", q.AssetCode)
	add("period", q.Period)

	query := `SELECT from_country, to_country, asset_code, period, transfer_count, total_amount, total_fees, last_event_seq, updated_at FROM flow_aggregates`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY period DESC, from_country, to_country LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggregates []domain.FlowAggregate
	for rows.Next() {
		var a domain.FlowAggregate
		err := rows.Scan(
			&a.FromCountry,
			&a.ToCountry,
			&a.AssetCode,
			&a.Period,
			&a.TransferCount,
			&a.TotalAmount,
			&a.TotalFees,
			&a.LastEventSeq,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, rows.Err()
}

// ResetFlowAggregates clears the derived tables ahead of a rebuild from the
// event log. Aggregates are a cache, not a source of truth; the applied-event
// ledger goes with them so the replay can claim every sequence afresh.
func (r *PostgresRepository) ResetFlowAggregates(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `TRUNCATE flow_aggregates, flow_applied_events`)
	return err
}
