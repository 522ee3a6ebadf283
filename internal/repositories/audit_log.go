package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lan-registration-platform/internal/models"
)

// AuditLogRepository reads the cart transition log
type AuditLogRepository struct {
	db *sql.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertTransition(ctx context.Context, e execer, t *models.CartTransition) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO cart_transitions (cart_id, from_state, to_state, source, provider, event_id, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.CartID, t.FromState, t.ToState, t.Source, t.Provider, t.EventID, t.Actor, t.Reason, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log cart transition: %w", err)
	}
	return nil
}

// Create logs a transition outside of a locked cart, e.g. by the janitor
func (r *AuditLogRepository) Create(ctx context.Context, t *models.CartTransition) error {
	return insertTransition(ctx, r.db, t)
}

// GetByCart retrieves the transitions of a cart, oldest first
func (r *AuditLogRepository) GetByCart(ctx context.Context, cartID string) ([]*models.CartTransition, error) {
	query := `
		SELECT id, cart_id, from_state, to_state, source, provider, event_id, actor, reason, created_at
		FROM cart_transitions
		WHERE cart_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*models.CartTransition
	for rows.Next() {
		t := &models.CartTransition{}
		var provider, eventID, actor, reason sql.NullString
		err := rows.Scan(
			&t.ID,
			&t.CartID,
			&t.FromState,
			&t.ToState,
			&t.Source,
			&provider,
			&eventID,
			&actor,
			&reason,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart transition: %w", err)
		}
		t.Provider = nullString(provider)
		t.EventID = nullString(eventID)
		t.Actor = nullString(actor)
		t.Reason = nullString(reason)
		transitions = append(transitions, t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart transitions: %w", err)
	}

	return transitions, nil
}
