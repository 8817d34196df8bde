package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/orchestrator"
)

// TurnsEvent is the payload published after every commit.
type TurnsEvent struct {
	ConversationID string       `json:"conversation_id"`
	Turns          []agent.Turn `json:"turns"`
}

// Publisher fans committed turns out over NATS.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

var _ orchestrator.Publisher = (*Publisher)(nil)

func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

func (p *Publisher) PublishTurns(conversationID string, turns []agent.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	event := TurnsEvent{ConversationID: conversationID, Turns: turns}
	if err := p.client.PublishJSON(TopicTurns(conversationID), event); err != nil {
		return fmt.Errorf("publish turns: %w", err)
	}
	return nil
}

// SubscribeTurns delivers every conversation's turn events to handler until
// the returned stop function is called.
func (p *Publisher) SubscribeTurns(handler func(TurnsEvent)) (func(), error) {
	sub, err := p.client.Subscribe(TopicAllTurns, func(msg *nats.Msg) {
		var event TurnsEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.Warn("drop malformed turns event", "subject", msg.Subject, "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe turns: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
