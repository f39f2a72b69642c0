package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/settlement-service/internal/domain"
)

func (r *PostgresRepository) CreateTransactionEvent(ctx context.Context, event *domain.TransactionEvent) error {
	query := `
		INSERT INTO transaction_events (
			id, transaction_id, message, key, param1, param2, param3, param4, param5, internal, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.TransactionID,
		event.Message,
		event.Key,
		event.Param1,
		event.Param2,
		event.Param3,
		event.Param4,
		event.Param5,
		event.Internal,
		event.CreatedAt,
	)
	return err
}

// ListTransactionEvents returns the events of one transaction in insertion order.
func (r *PostgresRepository) ListTransactionEvents(ctx context.Context, transactionID uuid.UUID, includeInternal bool) ([]domain.TransactionEvent, error) {
	query := `
		SELECT id, transaction_id, message, key, param1, param2, param3, param4, param5, internal, created_at
		FROM transaction_events
		WHERE transaction_id = $1 AND ($2 OR internal = FALSE)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, transactionID, includeInternal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.TransactionEvent{}
	for rows.Next() {
		var e domain.TransactionEvent
		if err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.Message,
			&e.Key,
			&e.Param1,
			&e.Param2,
			&e.Param3,
			&e.Param4,
			&e.Param5,
			&e.Internal,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
