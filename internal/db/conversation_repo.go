package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *Conversation) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("conversation repo unavailable")
	}
	if conv == nil {
		return fmt.Errorf("conversation is required")
	}
	if strings.TrimSpace(conv.ID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	if conv.Mode == "" {
		return fmt.Errorf("mode is required")
	}
	if conv.CreatedAt == "" {
		conv.CreatedAt = formatTimestamp(nowUTC())
	}
	conv.UpdatedAt = conv.CreatedAt
	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversations (id, mode, created_at, updated_at)
VALUES (?, ?, ?, ?)
`, conv.ID, conv.Mode, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) Get(ctx context.Context, id string) (*Conversation, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("conversation repo unavailable")
	}
	conv := &Conversation{}
	err := r.db.QueryRowContext(ctx, `
SELECT id, mode, created_at, updated_at
FROM conversations
WHERE id = ?
`, id).Scan(&conv.ID, &conv.Mode, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (r *ConversationRepo) List(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("conversation repo unavailable")
	}
	query := `SELECT id, mode, created_at, updated_at FROM conversations`
	args := make([]any, 0, 3)
	if filter.Mode != "" {
		query += ` WHERE mode = ?`
		args = append(args, filter.Mode)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]*Conversation, 0)
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.Mode, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

// AppendTurns inserts turns after the conversation's last ordinal in one
// transaction. Either every turn is stored or none is.
func (r *ConversationRepo) AppendTurns(ctx context.Context, conversationID string, turns []*TurnRecord) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("conversation repo unavailable")
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if len(turns) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append turns: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var last int
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(ordinal), 0) FROM turns WHERE conversation_id = ?
`, conversationID).Scan(&last); err != nil {
		return fmt.Errorf("read last ordinal: %w", err)
	}

	updated := ""
	for _, turn := range turns {
		if turn == nil {
			return fmt.Errorf("turn is required")
		}
		if turn.ID == "" {
			return fmt.Errorf("turn id is required")
		}
		if turn.Author == "" {
			return fmt.Errorf("turn author is required")
		}
		if turn.CreatedAt == "" {
			turn.CreatedAt = formatTimestamp(nowUTC())
		}
		suggestions, err := encodeStringSlice(turn.Suggestions)
		if err != nil {
			return err
		}
		last++
		if _, err := tx.ExecContext(ctx, `
INSERT INTO turns (id, conversation_id, ordinal, author, label, content, suggestions, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, turn.ID, conversationID, last, turn.Author, turn.Label, turn.Content, suggestions, turn.CreatedAt); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		turn.ConversationID = conversationID
		turn.Ordinal = last
		updated = turn.CreatedAt
	}

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, updated, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append turns: %w", err)
	}
	return nil
}

func (r *ConversationRepo) ListTurns(ctx context.Context, conversationID string) ([]*TurnRecord, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("conversation repo unavailable")
	}
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, conversation_id, ordinal, author, label, content, suggestions, created_at
FROM turns
WHERE conversation_id = ?
ORDER BY ordinal ASC
`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	items := make([]*TurnRecord, 0)
	for rows.Next() {
		turn := &TurnRecord{}
		var suggestions string
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &turn.Ordinal, &turn.Author, &turn.Label, &turn.Content, &suggestions, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if turn.Suggestions, err = decodeStringSlice(suggestions); err != nil {
			return nil, err
		}
		items = append(items, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return items, nil
}
