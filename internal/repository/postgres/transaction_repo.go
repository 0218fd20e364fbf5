package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
)

const transactionColumns = `
transaction_id, source, user_id, cat_username, amount_minor, currency,
status, error_message, fine_ids, created_at, updated_at, registered_at`

// TransactionRepository persists payment transactions. Every status
// transition is a single conditional UPDATE, so two racing
// confirmations cannot both claim the same transaction.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) CreateIfAbsent(ctx context.Context, in payment.CreateInput) (*payment.Transaction, error) {
	fineIDs, _ := json.Marshal(in.FineIDs)
	q := `
INSERT INTO payment_transactions (
  transaction_id, source, user_id, cat_username, amount_minor, currency, status, fine_ids
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (transaction_id) DO NOTHING
`
	_, err := r.pool.Exec(ctx, q,
		in.TransactionID, in.Source, in.UserID, in.CatUsername, in.AmountMinor, in.Currency,
		payment.StatusAwaitingRegistration, fineIDs,
	)
	if err != nil {
		return nil, err
	}
	return r.GetByTransactionID(ctx, in.TransactionID)
}

func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE transaction_id = $1`

	out := &payment.Transaction{}
	var fineIDs []byte
	err := r.pool.QueryRow(ctx, q, transactionID).Scan(
		&out.TransactionID, &out.Source, &out.UserID, &out.CatUsername, &out.AmountMinor, &out.Currency,
		&out.Status, &out.ErrorMessage, &fineIDs, &out.CreatedAt, &out.UpdatedAt, &out.RegisteredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(fineIDs) > 0 {
		_ = json.Unmarshal(fineIDs, &out.FineIDs)
	}
	return out, nil
}

func (r *TransactionRepository) BeginRegistration(ctx context.Context, transactionID string) (bool, error) {
	q := `
UPDATE payment_transactions
SET status = $2, updated_at = NOW()
WHERE transaction_id = $1 AND status = $3
`
	ct, err := r.pool.Exec(ctx, q, transactionID, payment.StatusRegistrationInProgress, payment.StatusAwaitingRegistration)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *TransactionRepository) ReleaseRegistration(ctx context.Context, transactionID string) error {
	q := `
UPDATE payment_transactions
SET status = $2, updated_at = NOW()
WHERE transaction_id = $1 AND status = $3
`
	_, err := r.pool.Exec(ctx, q, transactionID, payment.StatusAwaitingRegistration, payment.StatusRegistrationInProgress)
	return err
}

func (r *TransactionRepository) MarkRegistered(ctx context.Context, transactionID string) error {
	q := `
UPDATE payment_transactions
SET status = $2, error_message = '', registered_at = NOW(), updated_at = NOW()
WHERE transaction_id = $1 AND status = $3
`
	_, err := r.pool.Exec(ctx, q, transactionID, payment.StatusRegistered, payment.StatusRegistrationInProgress)
	return err
}

func (r *TransactionRepository) MarkFailed(ctx context.Context, transactionID, message string) error {
	q := `
UPDATE payment_transactions
SET status = $2, error_message = $3, updated_at = NOW()
WHERE transaction_id = $1 AND status = $4
`
	_, err := r.pool.Exec(ctx, q, transactionID, payment.StatusRegistrationFailed, message, payment.StatusRegistrationInProgress)
	return err
}

func (r *TransactionRepository) MarkFinesUpdated(ctx context.Context, transactionID string) error {
	q := `
UPDATE payment_transactions
SET status = $2, updated_at = NOW()
WHERE transaction_id = $1 AND status = $3
`
	_, err := r.pool.Exec(ctx, q, transactionID, payment.StatusFinesUpdated, payment.StatusRegistrationInProgress)
	return err
}

func (r *TransactionRepository) ResetFailed(ctx context.Context, transactionID string) (bool, error) {
	q := `
UPDATE payment_transactions
SET status = $2, error_message = '', updated_at = NOW()
WHERE transaction_id = $1 AND status = $3
`
	ct, err := r.pool.Exec(ctx, q, transactionID, payment.StatusAwaitingRegistration, payment.StatusRegistrationFailed)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *TransactionRepository) ListAwaitingOlderThan(ctx context.Context, age time.Duration, limit int32) ([]payment.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + transactionColumns + `
FROM payment_transactions
WHERE status = $1 AND updated_at < NOW() - make_interval(secs => $2)
ORDER BY updated_at ASC
LIMIT $3
`
	rows, err := r.pool.Query(ctx, q, payment.StatusAwaitingRegistration, age.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]payment.Transaction, 0)
	for rows.Next() {
		var item payment.Transaction
		var fineIDs []byte
		if err := rows.Scan(
			&item.TransactionID, &item.Source, &item.UserID, &item.CatUsername, &item.AmountMinor, &item.Currency,
			&item.Status, &item.ErrorMessage, &fineIDs, &item.CreatedAt, &item.UpdatedAt, &item.RegisteredAt,
		); err != nil {
			return nil, err
		}
		if len(fineIDs) > 0 {
			_ = json.Unmarshal(fineIDs, &item.FineIDs)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
