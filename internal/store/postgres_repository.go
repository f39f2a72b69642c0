/**
 * @description
 * This file provides the PostgreSQL implementation of the transaction side of the
 * `Repository` interface: creation, lookups, narrow patches, compare-and-set status
 * changes and the filtered, paginated listing used by the query API.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns are read and written as decimals.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPool opens a connection pool tuned the same way across services.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

type rowScanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `
	id, transaction_ref, workflow_name, status,
	debit_consumer_id, debit_amount, debit_currency,
	credit_consumer_id, credit_amount, credit_currency,
	exchange_rate, fees, memo, session_key, correlation_key,
	created_at, updated_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx                             domain.Transaction
		debitConsumer, debitCurrency   *string
		creditConsumer, creditCurrency *string
		debitAmount, creditAmount      decimal.NullDecimal
		workflowName, status           string
		feesRaw                        []byte
	)
	err := row.Scan(
		&tx.ID,
		&tx.TransactionRef,
		&workflowName,
		&status,
		&debitConsumer,
		&debitAmount,
		&debitCurrency,
		&creditConsumer,
		&creditAmount,
		&creditCurrency,
		&tx.ExchangeRate,
		&feesRaw,
		&tx.Memo,
		&tx.SessionKey,
		&tx.CorrelationKey,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.WorkflowName = domain.WorkflowName(workflowName)
	tx.Status = domain.TransactionStatus(status)
	tx.Debit = sideFromColumns(debitConsumer, debitAmount, debitCurrency)
	tx.Credit = sideFromColumns(creditConsumer, creditAmount, creditCurrency)
	if len(feesRaw) > 0 {
		if err := json.Unmarshal(feesRaw, &tx.Fees); err != nil {
			return nil, fmt.Errorf("decode fees for transaction %s: %w", tx.ID, err)
		}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return &tx, nil
}

func sideFromColumns(consumerID *string, amount decimal.NullDecimal, currency *string) *domain.TransactionSide {
	if consumerID == nil {
		return nil
	}
	side := &domain.TransactionSide{ConsumerID: *consumerID}
	if amount.Valid {
		side.Amount = amount.Decimal
	}
	if currency != nil {
		side.Currency = *currency
	}
	return side
}

func sideColumns(side *domain.TransactionSide) (*string, decimal.NullDecimal, *string) {
	if side == nil {
		return nil, decimal.NullDecimal{}, nil
	}
	consumerID := side.ConsumerID
	currency := side.Currency
	return &consumerID, decimal.NullDecimal{Decimal: side.Amount, Valid: true}, &currency
}

// CreateTransaction inserts a new transaction row.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	fees := tx.Fees
	if fees == nil {
		fees = []domain.TransactionFee{}
	}
	feesRaw, err := json.Marshal(fees)
	if err != nil {
		return fmt.Errorf("encode fees: %w", err)
	}
	debitConsumer, debitAmount, debitCurrency := sideColumns(tx.Debit)
	creditConsumer, creditAmount, creditCurrency := sideColumns(tx.Credit)

	query := `
		INSERT INTO transactions (
			id, transaction_ref, workflow_name, status,
			debit_consumer_id, debit_amount, debit_currency,
			credit_consumer_id, credit_amount, credit_currency,
			exchange_rate, fees, memo, session_key, correlation_key,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.db.Exec(ctx, query,
		tx.ID,
		tx.TransactionRef,
		string(tx.WorkflowName),
		string(tx.Status),
		debitConsumer,
		debitAmount,
		debitCurrency,
		creditConsumer,
		creditAmount,
		creditCurrency,
		tx.ExchangeRate,
		string(feesRaw),
		tx.Memo,
		tx.SessionKey,
		tx.CorrelationKey,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateTransactionRef
	}
	return err
}

func (r *PostgresRepository) findTransaction(ctx context.Context, where string, arg any) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.findTransaction(ctx, "id = $1", id)
}

func (r *PostgresRepository) FindTransactionByRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	return r.findTransaction(ctx, "transaction_ref = $1", ref)
}

func (r *PostgresRepository) FindTransactionByCorrelationKey(ctx context.Context, correlationKey string) (*domain.Transaction, error) {
	return r.findTransaction(ctx, "correlation_key = $1", correlationKey)
}

// UpdateTransaction patches the non-nil params. Amount patches only touch a side that
// is already populated; the ledger rejects the other case before calling.
func (r *PostgresRepository) UpdateTransaction(ctx context.Context, id uuid.UUID, params UpdateTransactionParams) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET
			debit_amount = CASE WHEN debit_consumer_id IS NULL THEN debit_amount ELSE COALESCE($1, debit_amount) END,
			credit_amount = CASE WHEN credit_consumer_id IS NULL THEN credit_amount ELSE COALESCE($2, credit_amount) END,
			exchange_rate = COALESCE($3, exchange_rate),
			session_key = COALESCE($4, session_key),
			correlation_key = COALESCE($5, correlation_key),
			memo = COALESCE($6, memo),
			updated_at = NOW()
		WHERE id = $7
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRow(ctx, query,
		nullableDecimal(params.DebitAmount),
		nullableDecimal(params.CreditAmount),
		nullableDecimal(params.ExchangeRate),
		params.SessionKey,
		params.CorrelationKey,
		params.Memo,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateTransactionRef
		}
		return nil, err
	}
	return tx, nil
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// UpdateTransactionStatus is a compare-and-set on the status column.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListTransactions applies the filter, including the consumer visibility rule, in SQL.
func (r *PostgresRepository) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	filter = filter.Normalize()

	var (
		conditions []string
		args       []any
	)
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ConsumerID != "" {
		p := next(filter.ConsumerID)
		conditions = append(conditions, fmt.Sprintf(
			"(debit_consumer_id = %[1]s OR (credit_consumer_id = %[1]s AND NOT (workflow_name = '%[2]s' AND status <> '%[3]s')))",
			p, domain.WorkflowTransfer, domain.StatusCompleted,
		))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = "+next(string(*filter.Status)))
	}
	if filter.CreditCurrency != "" {
		conditions = append(conditions, "credit_currency = "+next(filter.CreditCurrency))
	}
	if filter.DebitCurrency != "" {
		conditions = append(conditions, "debit_currency = "+next(filter.DebitCurrency))
	}
	if filter.StartDate != nil {
		conditions = append(conditions, "created_at >= "+next(*filter.StartDate))
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "created_at <= "+next(*filter.EndDate))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := next(filter.PageLimit)
	offset := next(filter.PageOffset)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ` + limit + ` OFFSET ` + offset

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]domain.Transaction, 0, filter.PageLimit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
