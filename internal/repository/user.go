package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userCols = `id, email, full_name, role, profile_photo, is_online, current_status, last_seen, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.ProfilePhoto, &u.IsOnline, &u.CurrentStatus, &u.LastSeen, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	if u.CurrentStatus == "" {
		u.CurrentStatus = model.StatusOffline
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.FullName, u.Role, u.ProfilePhoto, u.IsOnline, u.CurrentStatus, u.LastSeen, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetMany(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetMany", time.Now())()
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryUsers(ctx, "userRepo.GetMany",
		`SELECT `+userCols+` FROM users WHERE id = ANY($1) ORDER BY full_name`, ids)
}

func (r *UserRepository) ListExcept(ctx context.Context, id string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListExcept", time.Now())()
	return r.queryUsers(ctx, "userRepo.ListExcept",
		`SELECT `+userCols+` FROM users WHERE id <> $1 ORDER BY full_name, email`, id)
}

func (r *UserRepository) queryUsers(ctx context.Context, op, sql string, args ...any) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 16)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return users, nil
}

func (r *UserRepository) SetPresence(ctx context.Context, id string, online bool, status model.Status, at time.Time) error {
	defer logger.DeferLogDuration("user.SetPresence", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $2, current_status = $3, last_seen = $4 WHERE id = $1`,
		id, online, status, at,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetPresence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetOnline сбрасывает is_online после рестарта: живых соединений ещё нет.
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = false, current_status = 'offline' WHERE is_online OR current_status <> 'offline'`)
	if err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}
