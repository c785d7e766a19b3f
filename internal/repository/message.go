package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const msgCols = `id, conversation_id, sender_id, sender_name, content, attachments, message_type, metadata, timestamp, read_by, edited, deleted`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var attachments, metadata []byte
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &attachments,
		&m.Kind, &metadata, &m.Timestamp, &m.ReadBy, &m.Edited, &m.Deleted); err != nil {
		return err
	}
	m.Attachments = []model.Attachment{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return fmt.Errorf("attachments: %w", err)
		}
	}
	md, err := model.LoadMetadata(m.Kind, metadata)
	if err != nil {
		return err
	}
	m.Metadata = md
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	return nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if m.Attachments == nil {
		m.Attachments = []model.Attachment{}
	}
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("msgRepo.Create attachments: %w", err)
	}
	var metadata []byte
	if m.Metadata != nil {
		if metadata, err = json.Marshal(m.Metadata); err != nil {
			return fmt.Errorf("msgRepo.Create metadata: %w", err)
		}
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO messages (`+msgCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Content, attachments, m.Kind, metadata,
		m.Timestamp, m.ReadBy, m.Edited, m.Deleted,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListRecent", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM (
		   SELECT `+msgCols+` FROM messages
		   WHERE conversation_id = $1 AND NOT deleted
		   ORDER BY timestamp DESC, id DESC
		   LIMIT $2
		 ) recent ORDER BY timestamp ASC, id ASC`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListRecent scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent rows: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, reader string, upTo time.Time) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_by = array_append(read_by, $2)
		 WHERE conversation_id = $1 AND sender_id <> $2 AND timestamp <= $3 AND NOT ($2 = ANY(read_by))`,
		conversationID, reader, upTo,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}

// SoftDelete не трогает вложения; меняются только текст и флаг deleted.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`UPDATE messages SET deleted = true, content = $2 WHERE id = $1 RETURNING `+msgCols,
		id, model.DeletedPlaceholder,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return m, nil
}

// voteSQL пересобирает варианты одним запросом: voter убирается из всех вариантов
// и добавляется в выбранный. Блокировка строки в UPDATE упорядочивает параллельные
// голоса по одному опросу.
const voteSQL = `
UPDATE messages m SET metadata = jsonb_set(m.metadata, '{options}', (
  SELECT COALESCE(jsonb_agg(
           jsonb_set(o.opt, '{votes}',
             COALESCE((SELECT jsonb_agg(e.v)
                       FROM jsonb_array_elements(COALESCE(o.opt->'votes', '[]'::jsonb)) AS e(v)
                       WHERE e.v <> to_jsonb($3::text)), '[]'::jsonb)
             || CASE WHEN o.idx - 1 = $2::int THEN jsonb_build_array($3::text) ELSE '[]'::jsonb END
           ) ORDER BY o.idx), '[]'::jsonb)
  FROM jsonb_array_elements(m.metadata->'options') WITH ORDINALITY AS o(opt, idx)
))
WHERE m.id = $1
  AND m.message_type = 'poll'
  AND NOT m.deleted
  AND jsonb_typeof(m.metadata->'options') = 'array'
  AND $2::int >= 0 AND $2::int < jsonb_array_length(m.metadata->'options')
RETURNING ` + `m.id, m.conversation_id, m.sender_id, m.sender_name, m.content, m.attachments, m.message_type,
          m.metadata, m.timestamp, m.read_by, m.edited, m.deleted`

func (r *MessageRepository) Vote(ctx context.Context, id string, option int, voter string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Vote", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, voteSQL, id, option, voter), m)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("msgRepo.Vote: %w", err)
	}
	// Ничего не обновлено: выясняем причину.
	cur, gerr := r.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Kind != model.KindPoll || cur.Deleted || cur.Metadata == nil || cur.Metadata.Poll == nil {
		return nil, ErrNotPoll
	}
	return nil, ErrBadOption
}
