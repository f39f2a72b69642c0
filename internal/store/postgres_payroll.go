package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
)

const payrollColumns = `
	id, amount, currency, employer_document_number, deposit_matching_name,
	status, collection_link_id, failure_reason, created_at, updated_at`

func scanPayroll(row rowScanner) (*domain.Payroll, error) {
	var (
		p      domain.Payroll
		status string
	)
	if err := row.Scan(
		&p.ID,
		&p.Amount,
		&p.Currency,
		&p.EmployerDocumentNumber,
		&p.DepositMatchingName,
		&status,
		&p.CollectionLinkID,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = domain.PayrollStatus(status)
	return &p, nil
}

func (r *PostgresRepository) CreatePayroll(ctx context.Context, payroll *domain.Payroll) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payrolls (
			id, amount, currency, employer_document_number, deposit_matching_name,
			status, collection_link_id, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		payroll.ID,
		payroll.Amount,
		payroll.Currency,
		payroll.EmployerDocumentNumber,
		payroll.DepositMatchingName,
		string(payroll.Status),
		payroll.CollectionLinkID,
		payroll.FailureReason,
		payroll.CreatedAt,
		payroll.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) findPayroll(ctx context.Context, where string, arg any) (*domain.Payroll, error) {
	p, err := scanPayroll(r.db.QueryRow(ctx, `SELECT `+payrollColumns+` FROM payrolls WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayrollNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) FindPayrollByID(ctx context.Context, id uuid.UUID) (*domain.Payroll, error) {
	return r.findPayroll(ctx, "id = $1", id)
}

func (r *PostgresRepository) FindPayrollByCollectionLinkID(ctx context.Context, linkID string) (*domain.Payroll, error) {
	return r.findPayroll(ctx, "collection_link_id = $1", linkID)
}

func (r *PostgresRepository) listPendingPayrolls(ctx context.Context, where string, args ...any) ([]domain.Payroll, error) {
	query := `SELECT ` + payrollColumns + ` FROM payrolls WHERE status = 'PENDING' AND ` + where + ` ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payrolls := []domain.Payroll{}
	for rows.Next() {
		p, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		payrolls = append(payrolls, *p)
	}
	return payrolls, rows.Err()
}

func (r *PostgresRepository) FindPendingPayrollsByAmountAndDocument(ctx context.Context, amount decimal.Decimal, currency, documentNumber string) ([]domain.Payroll, error) {
	return r.listPendingPayrolls(ctx,
		"amount = $1 AND currency = $2 AND employer_document_number = $3",
		amount, currency, documentNumber,
	)
}

// FindPendingPayrollsByAmountAndName compares names case-insensitively after trimming.
func (r *PostgresRepository) FindPendingPayrollsByAmountAndName(ctx context.Context, amount decimal.Decimal, currency, matchingName string) ([]domain.Payroll, error) {
	return r.listPendingPayrolls(ctx,
		"amount = $1 AND currency = $2 AND lower(btrim(deposit_matching_name)) = lower(btrim($3))",
		amount, currency, matchingName,
	)
}

func (r *PostgresRepository) SetPayrollCollectionLink(ctx context.Context, id uuid.UUID, linkID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payrolls SET collection_link_id = $1, updated_at = NOW() WHERE id = $2`,
		linkID, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayrollNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdatePayrollStatus(ctx context.Context, id uuid.UUID, status domain.PayrollStatus, failureReason *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payrolls
		SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = NOW()
		WHERE id = $3 AND status = 'PENDING'
	`, string(status), failureReason, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
