package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lan-registration-platform/internal/database"
	"lan-registration-platform/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UserRepository handles participant, team and tournament reads, plus
// attendant records created during cart assembly
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, firstname, lastname, email, type, age, team_id, attendant_id, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var (
		username, email, userType, teamID, attendantID sql.NullString
	)
	err := row.Scan(
		&user.ID,
		&username,
		&user.Firstname,
		&user.Lastname,
		&email,
		&userType,
		&user.Age,
		&teamID,
		&attendantID,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Username = nullString(username)
	user.Email = nullString(email)
	user.Type = models.UserType(userType.String)
	user.TeamID = nullString(teamID)
	user.AttendantID = nullString(attendantID)
	return user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUserNotFound.WithDetail("%s", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetTeam retrieves a team by ID
func (r *UserRepository) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	team := &models.Team{}
	var lockedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, tournament_id, locked_at FROM teams WHERE id = $1`, id,
	).Scan(&team.ID, &team.Name, &team.TournamentID, &lockedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrTeamNotFound.WithDetail("%s", id)
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		team.LockedAt = &t
	}
	return team, nil
}

// GetTournament retrieves a tournament with its locked team count
func (r *UserRepository) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	query := `
		SELECT t.id, t.name, t.max_teams, COUNT(tm.id) FILTER (WHERE tm.locked_at IS NOT NULL)
		FROM tournaments t
		LEFT JOIN teams tm ON tm.tournament_id = t.id
		WHERE t.id = $1
		GROUP BY t.id, t.name, t.max_teams`

	tournament := &models.Tournament{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tournament.ID,
		&tournament.Name,
		&tournament.MaxTeams,
		&tournament.LockedTeams,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tournament %s not found", id)
		}
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return tournament, nil
}

// HasPaidTicket reports whether the user is the beneficiary of a paid ticket
func (r *UserRepository) HasPaidTicket(ctx context.Context, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM cart_items ci
			JOIN carts c ON c.id = ci.cart_id
			JOIN items i ON i.id = ci.item_id
			WHERE ci.for_user_id = $1 AND i.category = $2 AND c.transaction_state = $3
		)`

	var paid bool
	if err := r.db.QueryRowContext(ctx, query, userID, models.ItemCategoryTicket, models.StatePaid).Scan(&paid); err != nil {
		return false, fmt.Errorf("failed to check paid ticket: %w", err)
	}
	return paid, nil
}

// CreateAttendant inserts an attendant user and links it to its minor
func (r *UserRepository) CreateAttendant(ctx context.Context, ownerID string, req *models.AttendantRequest) (*models.User, error) {
	attendant := &models.User{
		ID:        uuid.NewString(),
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Type:      models.UserTypeAttendant,
		Age:       models.UserAgeAdult,
		CreatedAt: time.Now(),
	}

	err := database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, firstname, lastname, type, age, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			attendant.ID, attendant.Firstname, attendant.Lastname, attendant.Type, attendant.Age, attendant.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create attendant: %w", err)
		}

		// The WHERE clause keeps the one-attendant-per-minor rule under concurrency
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET attendant_id = $2 WHERE id = $1 AND attendant_id IS NULL`,
			ownerID, attendant.ID)
		if err != nil {
			return fmt.Errorf("failed to link attendant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrAttendantAlreadyRegistered
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return attendant, nil
}

// DeleteAttendant unlinks an attendant from its minor and removes the
// record. A record still named by a cart line is only unlinked.
func (r *UserRepository) DeleteAttendant(ctx context.Context, ownerID, attendantID string) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET attendant_id = NULL WHERE id = $1 AND attendant_id = $2`,
			ownerID, attendantID); err != nil {
			return fmt.Errorf("failed to unlink attendant: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM users
			WHERE id = $1 AND type = $2
			  AND NOT EXISTS (SELECT 1 FROM cart_items WHERE for_user_id = $1)`,
			attendantID, models.UserTypeAttendant); err != nil {
			return fmt.Errorf("failed to delete attendant: %w", err)
		}
		return nil
	})
}

// PartnerDomains returns the email domains of partner schools
func (r *UserRepository) PartnerDomains(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT LOWER(domain) FROM partners ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partner domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("failed to scan partner domain: %w", err)
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

// GetByIDs retrieves several users at once, keyed by ID
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	users := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}
