package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/orchestrator"
)

// Conversations is the part of the orchestrator the hub drives.
type Conversations interface {
	Create(ctx context.Context, mode orchestrator.Mode) (*orchestrator.Conversation, error)
	Open(ctx context.Context, id string) (*orchestrator.Conversation, error)
	Submit(ctx context.Context, conv *orchestrator.Conversation, text string) (*orchestrator.Task, error)
}

type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan hubBroadcast
	token      string
	logger     *slog.Logger
	mu         sync.RWMutex

	convMu        sync.RWMutex
	conversations Conversations

	ctxWrap *ctxWrapper
	running atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

var _ orchestrator.Publisher = (*Hub)(nil)

func New(token string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 256),
		token:      token,
		logger:     logger.With("component", "hub"),
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
	}
}

// SetConversations attaches the orchestrator. The hub is usually built
// first so it can be passed to the orchestrator as a Publisher.
func (h *Hub) SetConversations(c Conversations) {
	h.convMu.Lock()
	h.conversations = c
	h.convMu.Unlock()
}

func (h *Hub) getConversations() Conversations {
	h.convMu.RLock()
	defer h.convMu.RUnlock()
	return h.conversations
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.clients {
				c.closeSend()
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			go client.writePump(h.getContext())
			go client.readPump(h.getContext())
			h.logger.Info("client connected", "client_id", client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client_id", client.id, "total", h.ClientCount())

		case b := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if !c.wantsConversation(b.conversationID) {
					continue
				}
				if !c.deliver(b.data) {
					h.logger.Warn("client send buffer full, dropping message", "client_id", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept error", "error", err)
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- client:
	default:
		h.logger.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// PublishTurns broadcasts committed turns to clients subscribed to the
// conversation, one frame per turn in commit order.
func (h *Hub) PublishTurns(conversationID string, turns []agent.Turn) error {
	for _, turn := range turns {
		data, err := json.Marshal(TurnMessage{Type: "turn", ConversationID: conversationID, Turn: turn})
		if err != nil {
			return err
		}
		select {
		case h.broadcast <- hubBroadcast{data: data, conversationID: conversationID}:
		default:
			h.logger.Warn("broadcast channel full, dropping turn", "conversation_id", conversationID)
		}
	}
	return nil
}

func (h *Hub) SendError(client *Client, conversationID string, message string) {
	h.sendJSON(client, ErrorMessage{Type: "error", ConversationID: conversationID, Message: message})
}

func (h *Hub) sendJSON(client *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}
	client.deliver(data)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleUserTurn(ctx context.Context, c *Client, msg ClientMessage) {
	convs := h.getConversations()
	if convs == nil {
		h.SendError(c, msg.ConversationID, "conversations unavailable")
		return
	}
	conv, err := h.resolve(ctx, convs, msg)
	if err != nil {
		h.SendError(c, msg.ConversationID, err.Error())
		return
	}
	c.subscribe(conv.ID())
	h.sendJSON(c, ConversationMessage{Type: "conversation", ConversationID: conv.ID(), Mode: string(conv.Mode())})

	task, err := convs.Submit(ctx, conv, msg.Text)
	if err != nil {
		h.SendError(c, conv.ID(), err.Error())
		return
	}
	c.trackTask(task)
	go func() {
		defer c.untrackTask(task)
		if _, err := task.Wait(ctx); err != nil {
			message := err.Error()
			if errors.Is(err, context.Canceled) {
				message = "turn cancelled"
			}
			h.SendError(c, conv.ID(), message)
		}
	}()
}

func (h *Hub) resolve(ctx context.Context, convs Conversations, msg ClientMessage) (*orchestrator.Conversation, error) {
	if msg.ConversationID != "" {
		return convs.Open(ctx, msg.ConversationID)
	}
	mode, err := orchestrator.ParseMode(msg.Mode)
	if err != nil {
		return nil, err
	}
	return convs.Create(ctx, mode)
}

func (h *Hub) handleHistory(ctx context.Context, c *Client, conversationID string) {
	convs := h.getConversations()
	if convs == nil {
		h.SendError(c, conversationID, "conversations unavailable")
		return
	}
	conv, err := convs.Open(ctx, conversationID)
	if err != nil {
		h.SendError(c, conversationID, err.Error())
		return
	}
	h.sendJSON(c, HistoryMessage{Type: "history", ConversationID: conv.ID(), Turns: conv.Turns()})
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.logger.Warn("unregister channel full, forcing close", "client_id", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
