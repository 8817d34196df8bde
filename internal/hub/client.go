package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	sendMu        sync.Mutex
	closed        bool
	hub           *Hub
	subMu         sync.RWMutex
	subscribeAll  bool
	subscriptions map[string]struct{}

	taskMu sync.Mutex
	tasks  map[cancelable]struct{}
}

// cancelable is a submitted turn the client can abort.
type cancelable interface {
	ConversationID() string
	Cancel()
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		subscriptions: make(map[string]struct{}),
		tasks:         make(map[cancelable]struct{}),
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.cancelAll()
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(65536)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				c.hub.logger.Debug("client read error", "client_id", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("client invalid message", "client_id", c.id, "error", err)
			c.hub.SendError(c, "", "invalid message format")
			continue
		}

		switch msg.Type {
		case "user_turn":
			c.hub.handleUserTurn(ctx, c, msg)
		case "history":
			c.hub.handleHistory(ctx, c, msg.ConversationID)
		case "subscribe":
			c.subscribe(msg.ConversationID)
		case "cancel":
			c.cancelTask(msg.ConversationID)
		default:
			c.hub.SendError(c, msg.ConversationID, "unknown message type: "+msg.Type)
		}
	}
}

func (c *Client) subscribe(conversationID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if conversationID == "" {
		c.subscribeAll = true
		c.subscriptions = make(map[string]struct{})
		return
	}
	c.subscriptions[conversationID] = struct{}{}
}

func (c *Client) wantsConversation(conversationID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subscribeAll {
		return true
	}
	_, ok := c.subscriptions[conversationID]
	return ok
}

func (c *Client) trackTask(task cancelable) {
	c.taskMu.Lock()
	if c.tasks == nil {
		c.tasks = make(map[cancelable]struct{})
	}
	c.tasks[task] = struct{}{}
	c.taskMu.Unlock()
}

func (c *Client) untrackTask(task cancelable) {
	c.taskMu.Lock()
	delete(c.tasks, task)
	c.taskMu.Unlock()
}

// cancelTask aborts every running or queued turn this client submitted
// on the conversation.
func (c *Client) cancelTask(conversationID string) {
	for _, task := range c.trackedTasks(conversationID) {
		task.Cancel()
	}
}

func (c *Client) cancelAll() {
	for _, task := range c.trackedTasks("") {
		task.Cancel()
	}
}

// trackedTasks returns the client's tasks, all of them when
// conversationID is empty.
func (c *Client) trackedTasks(conversationID string) []cancelable {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	out := make([]cancelable, 0, len(c.tasks))
	for task := range c.tasks {
		if conversationID == "" || task.ConversationID() == conversationID {
			out = append(out, task)
		}
	}
	return out
}

// deliver queues data without blocking. It drops data once the send
// buffer is full or the client is gone.
func (c *Client) deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
