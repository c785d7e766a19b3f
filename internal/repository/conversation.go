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

const convCols = `id, type, name, participants, COALESCE(unique_key, ''), last_message, last_message_time, created_at, updated_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.Type, &c.Name, &c.Participants, &c.UniqueKey, &c.LastMessage, &c.LastMessageTime, &c.CreatedAt, &c.UpdatedAt)
}

func nullKey(k string) *string {
	if k == "" {
		return nil
	}
	return &k
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, type, name, participants, unique_key, last_message, last_message_time, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Type, c.Name, c.Participants, nullKey(c.UniqueKey), c.LastMessage, c.LastMessageTime, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create: %w", err)
	}
	return nil
}

// CreateUnique опирается на уникальный индекс по unique_key: параллельные вызовы
// с одним ключом получают одну и ту же строку.
func (r *ConversationRepository) CreateUnique(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("conv.CreateUnique", time.Now())()
	if c.UniqueKey == "" {
		return nil, false, errors.New("convRepo.CreateUnique: empty unique key")
	}
	out := &model.Conversation{}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, type, name, participants, unique_key, last_message, last_message_time, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (unique_key) DO NOTHING
		 RETURNING `+convCols,
		c.ID, c.Type, c.Name, c.Participants, c.UniqueKey, c.LastMessage, c.LastMessageTime, c.CreatedAt, c.UpdatedAt,
	)
	err := scanConversation(row, out)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("convRepo.CreateUnique insert: %w", err)
	}
	row = r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations WHERE unique_key = $1`, c.UniqueKey)
	if err := scanConversation(row, out); err != nil {
		return nil, false, fmt.Errorf("convRepo.CreateUnique select: %w", err)
	}
	return out, false, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations WHERE id = $1`, id)
	if err := scanConversation(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+convCols+` FROM conversations
		 WHERE $1 = ANY(participants)
		 ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	return convs, nil
}

func (r *ConversationRepository) UpdatePreview(ctx context.Context, id, preview string, at time.Time) error {
	defer logger.DeferLogDuration("conv.UpdatePreview", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_message = $2, last_message_time = $3, updated_at = $3 WHERE id = $1`,
		id, preview, at,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdatePreview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
