package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"lan-registration-platform/internal/database"
	"lan-registration-platform/internal/models"

	"github.com/lib/pq"
)

// CartTx is a cart held under an exclusive lock for the duration of a
// database transaction. Everything written through it commits together.
type CartTx interface {
	Cart() *models.Cart
	// RecordEvent stores a provider event id, returning false when it was
	// already recorded
	RecordEvent(ctx context.Context, provider, eventID string) (bool, error)
	SetState(ctx context.Context, state models.TransactionState, at time.Time) error
	LogTransition(ctx context.Context, t *models.CartTransition) error
}

// CartRepository handles cart persistence
type CartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a new cart repository
func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

const cartColumns = `id, user_id, transaction_id, transaction_provider, transaction_state, total_price, created_at, updated_at, paid_at`

func scanCart(row rowScanner) (*models.Cart, error) {
	cart := &models.Cart{}
	var (
		transactionID sql.NullString
		paidAt        sql.NullTime
	)
	err := row.Scan(
		&cart.ID,
		&cart.UserID,
		&transactionID,
		&cart.TransactionProvider,
		&cart.TransactionState,
		&cart.TotalPrice,
		&cart.CreatedAt,
		&cart.UpdatedAt,
		&paidAt,
	)
	if err != nil {
		return nil, err
	}
	cart.TransactionID = nullString(transactionID)
	if paidAt.Valid {
		t := paidAt.Time
		cart.PaidAt = &t
	}
	return cart, nil
}

func loadLines(ctx context.Context, q querier, cart *models.Cart) error {
	query := `
		SELECT ci.id, ci.cart_id, ci.item_id, ci.for_user_id, ci.quantity, ci.price, ci.reduced_price, ci.reduced, i.category
		FROM cart_items ci
		JOIN items i ON i.id = ci.item_id
		WHERE ci.cart_id = $1
		ORDER BY ci.position ASC`

	rows, err := q.QueryContext(ctx, query, cart.ID)
	if err != nil {
		return fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	cart.Lines = nil
	for rows.Next() {
		var (
			line         models.CartLine
			reducedPrice sql.NullInt64
			category     models.ItemCategory
		)
		if err := rows.Scan(&line.ID, &line.CartID, &line.ItemID, &line.ForUserID, &line.Quantity,
			&line.Price, &reducedPrice, &line.Reduced, &category); err != nil {
			return fmt.Errorf("failed to scan cart item: %w", err)
		}
		line.ReducedPrice = nullInt(reducedPrice)
		line.IsTicket = category == models.ItemCategoryTicket
		cart.Lines = append(cart.Lines, line)
	}
	return rows.Err()
}

// Commit persists a new cart and its lines. Stock and pending-ticket rules
// are re-checked while the referenced item rows are locked, so two carts
// competing for the last unit cannot both commit.
func (r *CartRepository) Commit(ctx context.Context, cart *models.Cart) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		ids := cart.ItemIDs()
		sort.Strings(ids)

		rows, err := tx.QueryContext(ctx, `SELECT id, stock FROM items WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("failed to lock items: %w", err)
		}
		stock := make(map[string]*int, len(ids))
		for rows.Next() {
			var id string
			var limit sql.NullInt64
			if err := rows.Scan(&id, &limit); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan item stock: %w", err)
			}
			stock[id] = nullInt(limit)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating item stock: %w", err)
		}
		for _, id := range ids {
			if _, ok := stock[id]; !ok {
				return models.ErrItemNotFound.WithDetail("%s", id)
			}
		}

		reserved, err := reservedQuantities(ctx, tx, ids)
		if err != nil {
			return err
		}
		if err := models.CheckStock(stock, reserved, cart.QuantitiesByItem()); err != nil {
			return err
		}

		if err := checkTicketHolders(ctx, tx, cart); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO carts (`+cartColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			cart.ID, cart.UserID, cart.TransactionID, cart.TransactionProvider, cart.TransactionState,
			cart.TotalPrice, cart.CreatedAt, cart.UpdatedAt, cart.PaidAt)
		if err != nil {
			return fmt.Errorf("failed to create cart: %w", err)
		}

		for i, line := range cart.Lines {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO cart_items (id, cart_id, item_id, for_user_id, quantity, price, reduced_price, reduced, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				line.ID, cart.ID, line.ItemID, line.ForUserID, line.Quantity, line.Price, line.ReducedPrice, line.Reduced, i)
			if err != nil {
				return fmt.Errorf("failed to create cart item: %w", err)
			}
		}

		return nil
	})
}

// checkTicketHolders rejects ticket lines whose beneficiary already holds
// the same ticket in a paid or unpaid cart
func checkTicketHolders(ctx context.Context, tx *sql.Tx, cart *models.Cart) error {
	var users, items []string
	for _, line := range cart.TicketLines() {
		users = append(users, line.ForUserID)
		items = append(items, line.ItemID)
	}
	if len(users) == 0 {
		return nil
	}

	query := `
		SELECT ci.for_user_id, c.transaction_state
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		JOIN items i ON i.id = ci.item_id
		WHERE i.category = $1 AND ci.for_user_id = ANY($2) AND ci.item_id = ANY($3) AND c.transaction_state = ANY($4)
		ORDER BY ci.for_user_id
		LIMIT 1`

	var userID string
	var state models.TransactionState
	err := tx.QueryRowContext(ctx, query, models.ItemCategoryTicket, pq.Array(users), pq.Array(items),
		pq.Array(stateStrings(models.ReservingStates))).Scan(&userID, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check ticket holders: %w", err)
	}
	if state == models.StatePaid {
		return models.ErrBeneficiaryAlreadyPaid.WithDetail("%s", userID)
	}
	return models.ErrBeneficiaryTicketPending.WithDetail("%s", userID)
}

// AttachTransaction stores the gateway reference and moves the cart to pending
func (r *CartRepository) AttachTransaction(ctx context.Context, cartID, transactionID string) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE carts
			SET transaction_id = $2, transaction_state = $3, updated_at = NOW()
			WHERE id = $1 AND transaction_state = $4`,
			cartID, transactionID, models.StatePending, models.StatePendingCreation)
		if err != nil {
			return fmt.Errorf("failed to attach transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrInvalidTransition.WithDetail("cart %s is not pending creation", cartID)
		}
		return insertTransition(ctx, tx, &models.CartTransition{
			CartID:    cartID,
			FromState: models.StatePendingCreation,
			ToState:   models.StatePending,
			Source:    models.SourceAssembler,
		})
	})
}

// Delete removes a cart that never reached the gateway
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// GetByID retrieves a cart with its lines
func (r *CartRepository) GetByID(ctx context.Context, id string) (*models.Cart, error) {
	cart, err := scanCart(r.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrCartNotFound.WithDetail("%s", id)
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if err := loadLines(ctx, r.db, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// UserHoldsItem reports whether the user bought, or is buying, the item
func (r *CartRepository) UserHoldsItem(ctx context.Context, userID, itemID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM cart_items ci
			JOIN carts c ON c.id = ci.cart_id
			WHERE ci.for_user_id = $1 AND ci.item_id = $2 AND c.transaction_state = ANY($3)
		)`

	var held bool
	err := r.db.QueryRowContext(ctx, query, userID, itemID, pq.Array(stateStrings(models.ReservingStates))).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("failed to check held item: %w", err)
	}
	return held, nil
}

// ListStale returns carts left in state since before the cutoff
func (r *CartRepository) ListStale(ctx context.Context, state models.TransactionState, olderThan time.Time) ([]*models.Cart, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE transaction_state = $1 AND created_at < $2
		ORDER BY created_at ASC`, state, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale carts: %w", err)
	}
	defer rows.Close()

	var carts []*models.Cart
	for rows.Next() {
		cart, err := scanCart(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart: %w", err)
		}
		carts = append(carts, cart)
	}
	return carts, rows.Err()
}

// LockByTransaction runs fn with the cart owning the gateway reference locked
func (r *CartRepository) LockByTransaction(ctx context.Context, transactionID string, fn func(tx CartTx) error) error {
	return r.lock(ctx, `transaction_id = $1`, transactionID, fn)
}

// LockByID runs fn with the cart locked
func (r *CartRepository) LockByID(ctx context.Context, cartID string, fn func(tx CartTx) error) error {
	return r.lock(ctx, `id = $1`, cartID, fn)
}

func (r *CartRepository) lock(ctx context.Context, where, arg string, fn func(tx CartTx) error) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		cart, err := scanCart(tx.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE `+where+` FOR UPDATE`, arg))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrCartNotFound.WithDetail("%s", arg)
			}
			return fmt.Errorf("failed to lock cart: %w", err)
		}
		if err := loadLines(ctx, tx, cart); err != nil {
			return err
		}
		return fn(&pgCartTx{tx: tx, cart: cart})
	})
}

type pgCartTx struct {
	tx   *sql.Tx
	cart *models.Cart
}

func (t *pgCartTx) Cart() *models.Cart {
	return t.cart
}

func (t *pgCartTx) RecordEvent(ctx context.Context, provider, eventID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, cart_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID, t.cart.ID)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return n == 1, nil
}

func (t *pgCartTx) SetState(ctx context.Context, state models.TransactionState, at time.Time) error {
	var paidAt *time.Time
	if state == models.StatePaid {
		paidAt = &at
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE carts
		SET transaction_state = $2, paid_at = COALESCE($3, paid_at), updated_at = $4
		WHERE id = $1`,
		t.cart.ID, state, paidAt, at)
	if err != nil {
		return fmt.Errorf("failed to update cart state: %w", err)
	}
	t.cart.TransactionState = state
	t.cart.UpdatedAt = at
	if paidAt != nil {
		t.cart.PaidAt = paidAt
	}
	return nil
}

func (t *pgCartTx) LogTransition(ctx context.Context, transition *models.CartTransition) error {
	return insertTransition(ctx, t.tx, transition)
}
