package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"lan-registration-platform/internal/models"

	"github.com/lib/pq"
)

// ItemRepository handles catalog data operations
type ItemRepository struct {
	db *sql.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, name, category, attribute, price, reduced_price, infos, image, stock, available_from, available_until, display, position`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	item := &models.Item{}
	var (
		attribute, infos, image   sql.NullString
		reducedPrice, stock       sql.NullInt64
		availableFrom, availUntil sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Category,
		&attribute,
		&item.Price,
		&reducedPrice,
		&infos,
		&image,
		&stock,
		&availableFrom,
		&availUntil,
		&item.Display,
		&item.Position,
	)
	if err != nil {
		return nil, err
	}

	item.Attribute = nullString(attribute)
	item.Infos = nullString(infos)
	item.Image = nullString(image)
	item.ReducedPrice = nullInt(reducedPrice)
	item.Stock = nullInt(stock)
	if availableFrom.Valid {
		t := availableFrom.Time
		item.AvailableFrom = &t
	}
	if availUntil.Valid {
		t := availUntil.Time
		item.AvailableUntil = &t
	}
	return item, nil
}

// List returns the whole catalog in display order
func (r *ItemRepository) List(ctx context.Context) ([]*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items ORDER BY position ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// GetByIDs returns the requested items; unknown ids are simply absent
func (r *ItemRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ANY($1) ORDER BY position ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// Reserved sums line quantities of reserving carts per item
func (r *ItemRepository) Reserved(ctx context.Context, ids []string) (map[string]int, error) {
	return reservedQuantities(ctx, r.db, ids)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func reservedQuantities(ctx context.Context, q querier, ids []string) (map[string]int, error) {
	reserved := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return reserved, nil
	}

	query := `
		SELECT ci.item_id, COALESCE(SUM(ci.quantity), 0)
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE ci.item_id = ANY($1) AND c.transaction_state = ANY($2)
		GROUP BY ci.item_id`

	rows, err := q.QueryContext(ctx, query, pq.Array(ids), pq.Array(stateStrings(models.ReservingStates)))
	if err != nil {
		return nil, fmt.Errorf("failed to count reserved items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var quantity int
		if err := rows.Scan(&id, &quantity); err != nil {
			return nil, fmt.Errorf("failed to scan reserved quantity: %w", err)
		}
		reserved[id] = quantity
	}

	return reserved, rows.Err()
}

// Upsert creates or replaces a catalog entry
func (r *ItemRepository) Upsert(ctx context.Context, item *models.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			attribute = EXCLUDED.attribute,
			price = EXCLUDED.price,
			reduced_price = EXCLUDED.reduced_price,
			infos = EXCLUDED.infos,
			image = EXCLUDED.image,
			stock = EXCLUDED.stock,
			available_from = EXCLUDED.available_from,
			available_until = EXCLUDED.available_until,
			display = EXCLUDED.display,
			position = EXCLUDED.position`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.Name,
		item.Category,
		item.Attribute,
		item.Price,
		item.ReducedPrice,
		item.Infos,
		item.Image,
		item.Stock,
		item.AvailableFrom,
		item.AvailableUntil,
		item.Display,
		item.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func stateStrings(states []models.TransactionState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
