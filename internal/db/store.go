package db

import (
	"context"
	"fmt"
	"time"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/orchestrator"
	"github.com/user/aichat/internal/roles"
)

// Store persists orchestrator conversations in sqlite.
type Store struct {
	repo *ConversationRepo
}

var _ orchestrator.Store = (*Store)(nil)

func NewStore(d *DB) *Store {
	return &Store{repo: NewConversationRepo(d.SQL())}
}

func (s *Store) Conversations() *ConversationRepo {
	return s.repo
}

func (s *Store) CreateConversation(ctx context.Context, id string, mode string, createdAt time.Time) error {
	return s.repo.Create(ctx, &Conversation{ID: id, Mode: mode, CreatedAt: formatTimestamp(createdAt)})
}

func (s *Store) AppendTurns(ctx context.Context, conversationID string, turns []agent.Turn) error {
	records := make([]*TurnRecord, 0, len(turns))
	for _, t := range turns {
		records = append(records, &TurnRecord{
			ID:          t.ID,
			Author:      string(t.Author),
			Label:       t.Label,
			Content:     t.Content,
			Suggestions: t.Suggestions,
			CreatedAt:   formatTimestamp(t.CreatedAt),
		})
	}
	return s.repo.AppendTurns(ctx, conversationID, records)
}

func (s *Store) LoadConversation(ctx context.Context, id string) (string, time.Time, []agent.Turn, error) {
	conv, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if conv == nil {
		return "", time.Time{}, nil, orchestrator.ErrUnknownConversation
	}
	createdAt, err := parseTimestamp(conv.CreatedAt)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	records, err := s.repo.ListTurns(ctx, id)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	turns := make([]agent.Turn, 0, len(records))
	for _, r := range records {
		ts, err := parseTimestamp(r.CreatedAt)
		if err != nil {
			return "", time.Time{}, nil, fmt.Errorf("turn %s: %w", r.ID, err)
		}
		var suggestions []string
		if len(r.Suggestions) > 0 {
			suggestions = r.Suggestions
		}
		turns = append(turns, agent.Turn{
			ID:          r.ID,
			Author:      roles.Kind(r.Author),
			Label:       r.Label,
			Content:     r.Content,
			Suggestions: suggestions,
			CreatedAt:   ts,
		})
	}
	return conv.Mode, createdAt, turns, nil
}
