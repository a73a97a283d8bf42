package postgres

import (
	"context"
	"fmt"
	"time"

	"token-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// OutboxRepo implements ports.OutboxRepository.
type OutboxRepo struct {
	pool Pool
}

// NewOutboxRepo creates a new OutboxRepo.
func NewOutboxRepo(pool Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

// Create enqueues msg in the same transaction as the ledger change it describes.
func (r *OutboxRepo) Create(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	query := `INSERT INTO ledger_outbox (message_key, topic, payload, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		RETURNING id`

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	err := tx.QueryRow(ctx, query, msg.MessageKey, msg.Topic, msg.Payload, domain.OutboxStatusPending, msg.CreatedAt).
		Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	msg.Status = domain.OutboxStatusPending
	return nil
}

// GetPending returns the oldest pending messages in insertion order.
func (r *OutboxRepo) GetPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	query := `SELECT id, message_key, topic, payload, status, retry_count, created_at, updated_at
		FROM ledger_outbox WHERE status = $1 ORDER BY id ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, domain.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		m := domain.OutboxMessage{}
		if err := rows.Scan(&m.ID, &m.MessageKey, &m.Topic, &m.Payload, &m.Status, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return messages, nil
}

// MarkSent flags a message as delivered.
func (r *OutboxRepo) MarkSent(ctx context.Context, id int64) error {
	query := `UPDATE ledger_outbox SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, domain.OutboxStatusSent, id)
	if err != nil {
		return fmt.Errorf("mark outbox message sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox message not found: %d", id)
	}
	return nil
}

// MarkRetry records a failed delivery attempt; the message is parked as FAILED
// once it has been attempted maxRetries times.
func (r *OutboxRepo) MarkRetry(ctx context.Context, id int64, maxRetries int) error {
	query := `UPDATE ledger_outbox
		SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= $1 THEN $2 ELSE status END,
			updated_at = NOW()
		WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, maxRetries, domain.OutboxStatusFailed, id)
	if err != nil {
		return fmt.Errorf("mark outbox message retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox message not found: %d", id)
	}
	return nil
}
