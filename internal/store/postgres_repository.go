/**
 * @description
 * This file is the PostgreSQL implementation of the Repository interface. It owns
 * every SQL statement in the service and enforces the two concurrency disciplines
 * the workflow depends on: row-locked conditional debits for the balance ledger
 * and optimistic conditional updates for the transfer stage pointer.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: domain models mapped to the tables in migrations/.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scbank/transfer-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindAccountByID retrieves an account with its permission flags.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var acct domain.Account
	query := `
		SELECT id, account_number, holder_name, verified, can_transfer, can_local_transfer, can_international_transfer
		FROM accounts
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&acct.ID,
		&acct.AccountNumber,
		&acct.HolderName,
		&acct.Verified,
		&acct.CanTransfer,
		&acct.CanLocalTransfer,
		&acct.CanInternationalTransfer,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// GetBalance reads one entry of the per-currency balance map. A currency with no
// row is a zero balance.
func (r *PostgresRepository) GetBalance(ctx context.Context, accountID uuid.UUID, currency string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		"SELECT balance_minor FROM account_balances WHERE account_id = $1 AND currency = $2",
		accountID, currency,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// DebitBalance performs an atomic debit on one currency balance. The row is
// locked for the duration of the check so concurrent debits serialize; a debit
// that would drive the balance negative returns ErrInsufficientFunds without
// mutating state.
func (r *PostgresRepository) DebitBalance(ctx context.Context, accountID uuid.UUID, currency string, amountMinor int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := debitLocked(ctx, tx, accountID, currency, amountMinor); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// debitLocked runs the FOR UPDATE read plus conditional decrement inside the
// caller's transaction so settlement can combine it with the status flip.
func debitLocked(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currency string, amountMinor int64) error {
	var balance int64
	err := tx.QueryRow(ctx,
		"SELECT balance_minor FROM account_balances WHERE account_id = $1 AND currency = $2 FOR UPDATE",
		accountID, currency,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Absent currency row reads as zero: always insufficient.
			return ErrInsufficientFunds
		}
		return err
	}

	if balance < amountMinor {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		"UPDATE account_balances SET balance_minor = balance_minor - $1 WHERE account_id = $2 AND currency = $3",
		amountMinor, accountID, currency,
	)
	return err
}

// CreditBalance adds to one currency balance, creating the row when the account
// has not held that currency before.
func (r *PostgresRepository) CreditBalance(ctx context.Context, accountID uuid.UUID, currency string, amountMinor int64) error {
	query := `
		INSERT INTO account_balances (account_id, currency, balance_minor)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, currency)
		DO UPDATE SET balance_minor = account_balances.balance_minor + EXCLUDED.balance_minor
	`
	_, err := r.db.Exec(ctx, query, accountID, currency, amountMinor)
	return err
}

// CreateTransfer inserts the transfer record and its required stage rows in one
// transaction. A duplicate reference maps to ErrDuplicateTxRef.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO transfers (
			tx_ref, account_id, category, amount_minor, charge_minor, currency,
			description, charges_type,
			recipient_bank_name, recipient_account_number, recipient_holder_name,
			recipient_country, recipient_routing_code, recipient_branch_name, recipient_account_type,
			status, current_stage, otp_code_hash, otp_expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`
	_, err = tx.Exec(ctx, query,
		t.TxRef, t.AccountID, t.Category, t.AmountMinor, t.ChargeMinor, t.Currency,
		t.Description, t.ChargesType,
		t.Recipient.BankName, t.Recipient.AccountNumber, t.Recipient.HolderName,
		t.Recipient.Country, t.Recipient.RoutingCode, t.Recipient.BranchName, t.Recipient.AccountType,
		t.Status, t.CurrentStage, t.OTPCodeHash, t.OTPExpiresAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTxRef
		}
		return err
	}

	for _, s := range t.Stages {
		_, err = tx.Exec(ctx,
			"INSERT INTO transfer_stages (tx_ref, position, stage_name, verified, verified_at) VALUES ($1,$2,$3,$4,$5)",
			t.TxRef, s.Position, s.Name, s.Verified, s.VerifiedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// FindTransferByRef loads a transfer record with its stage rows in plan order.
func (r *PostgresRepository) FindTransferByRef(ctx context.Context, txRef string) (*domain.Transfer, error) {
	var t domain.Transfer
	query := `
		SELECT tx_ref, account_id, category, amount_minor, charge_minor, currency,
		       description, charges_type,
		       recipient_bank_name, recipient_account_number, recipient_holder_name,
		       recipient_country, recipient_routing_code, recipient_branch_name, recipient_account_type,
		       status, failure_reason, current_stage, otp_code_hash, otp_expires_at,
		       created_at, updated_at, completed_at
		FROM transfers
		WHERE tx_ref = $1
	`
	err := r.db.QueryRow(ctx, query, txRef).Scan(
		&t.TxRef, &t.AccountID, &t.Category, &t.AmountMinor, &t.ChargeMinor, &t.Currency,
		&t.Description, &t.ChargesType,
		&t.Recipient.BankName, &t.Recipient.AccountNumber, &t.Recipient.HolderName,
		&t.Recipient.Country, &t.Recipient.RoutingCode, &t.Recipient.BranchName, &t.Recipient.AccountType,
		&t.Status, &t.FailureReason, &t.CurrentStage, &t.OTPCodeHash, &t.OTPExpiresAt,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		"SELECT position, stage_name, verified, verified_at FROM transfer_stages WHERE tx_ref = $1 ORDER BY position",
		txRef,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.StageState
		if err := rows.Scan(&s.Position, &s.Name, &s.Verified, &s.VerifiedAt); err != nil {
			return nil, err
		}
		t.Stages = append(t.Stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &t, nil
}

// AdvanceTransferStage marks stage `fromStage` verified and moves the stage
// pointer forward. The update is conditional on the pointer still holding its
// expected value, so two concurrent submissions for the same stage cannot both
// succeed; the loser gets ErrStageConflict and must re-read state.
func (r *PostgresRepository) AdvanceTransferStage(ctx context.Context, txRef string, fromStage int, verifiedAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE transfers
		 SET current_stage = current_stage + 1, updated_at = $3
		 WHERE tx_ref = $1 AND status = 'pending' AND current_stage = $2`,
		txRef, fromStage, verifiedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from an unknown reference.
		var status domain.TransferStatus
		err := tx.QueryRow(ctx, "SELECT status FROM transfers WHERE tx_ref = $1", txRef).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransferNotFound
		}
		if err != nil {
			return err
		}
		if status.IsTerminal() {
			return ErrTransferNotPending
		}
		return ErrStageConflict
	}

	_, err = tx.Exec(ctx,
		"UPDATE transfer_stages SET verified = TRUE, verified_at = $3 WHERE tx_ref = $1 AND position = $2",
		txRef, fromStage, verifiedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateTransferOTP replaces the stored one-time code digest and expiry, used at
// initiation and on re-issue.
func (r *PostgresRepository) UpdateTransferOTP(ctx context.Context, txRef string, codeHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE transfers SET otp_code_hash = $2, otp_expires_at = $3, updated_at = NOW() WHERE tx_ref = $1 AND status = 'pending'",
		txRef, codeHash, expiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotPending
	}
	return nil
}

// SettleTransfer performs the authoritative settlement: debit of amount+charge
// and the pending->success flip, atomically. The pre-check at initiation time is
// advisory only; this is where the funds invariant is enforced.
func (r *PostgresRepository) SettleTransfer(ctx context.Context, t *domain.Transfer, completedAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE transfers SET status = $2, completed_at = $3, updated_at = $3 WHERE tx_ref = $1 AND status = 'pending'",
		t.TxRef, domain.StatusSuccess, completedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotPending
	}

	if err := debitLocked(ctx, tx, t.AccountID, t.Currency, t.AmountMinor+t.ChargeMinor); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkTransferFailed records a terminal failure with its reason. Already
// terminal records are left untouched.
func (r *PostgresRepository) MarkTransferFailed(ctx context.Context, txRef string, reason string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE transfers SET status = $2, failure_reason = $3, updated_at = NOW() WHERE tx_ref = $1 AND status = 'pending'",
		txRef, domain.StatusFailed, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotPending
	}
	return nil
}

// AppendAuditEntry writes one append-only audit record. There is deliberately no
// update or delete path for audit_log anywhere in this repository.
func (r *PostgresRepository) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_log (id, occurred_at, account_id, action, tx_ref, category, amount_minor, success, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.OccurredAt, entry.AccountID, entry.Action,
		entry.TxRef, entry.Category, entry.AmountMinor, entry.Success, entry.Detail,
	)
	return err
}
