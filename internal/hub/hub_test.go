package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/orchestrator"
	"github.com/user/aichat/internal/roles"
	"github.com/user/aichat/internal/transport"
)

type echoModel struct {
	block chan struct{}
}

func (m echoModel) Complete(ctx context.Context, req transport.CompletionRequest) (transport.Output, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return transport.Output{}, ctx.Err()
		}
	}
	last := req.Messages[len(req.Messages)-1].Content
	return transport.TextOutput("echo: " + last), nil
}

func newTestHub(t *testing.T, model agent.Completer) (*Hub, *httptest.Server) {
	t.Helper()
	h := New("test-token", nil)
	catalog, err := roles.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Options{Model: model, Catalog: catalog, Publisher: h})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	h.SetConversations(orch)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return h, server
}

func dial(t *testing.T, h *Hub, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws?token=%s", server.URL[7:], "test-token")
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	waitForClientCount(t, h, 1, time.Second)
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return frame
}

func waitForClientCount(t *testing.T, h *Hub, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", h.ClientCount(), want)
}

func TestTokenAuthentication(t *testing.T) {
	h, server := newTestHub(t, echoModel{})
	_ = h

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := fmt.Sprintf("ws://%s/ws?token=%s", server.URL[7:], tt.token)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			conn, resp, err := websocket.Dial(ctx, url, nil)
			if err == nil {
				conn.Close(websocket.StatusNormalClosure, "")
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("resp = %v, want 401", resp)
			}
		})
	}
}

func TestUserTurnStreamsCommittedTurns(t *testing.T) {
	h, server := newTestHub(t, echoModel{})
	conn := dial(t, h, server)

	writeJSON(t, conn, ClientMessage{Type: "user_turn", Mode: "general", Text: "hello"})

	created := readFrame(t, conn)
	if created["type"] != "conversation" || created["mode"] != "general" {
		t.Fatalf("frame = %v, want conversation", created)
	}
	convID, _ := created["conversation_id"].(string)
	if convID == "" {
		t.Fatal("missing conversation_id")
	}

	user := readFrame(t, conn)
	reply := readFrame(t, conn)
	if user["type"] != "turn" || reply["type"] != "turn" {
		t.Fatalf("frames = %v / %v", user, reply)
	}
	userTurn := user["turn"].(map[string]any)
	replyTurn := reply["turn"].(map[string]any)
	if userTurn["author"] != "user" || userTurn["content"] != "hello" {
		t.Fatalf("user turn = %v", userTurn)
	}
	if replyTurn["author"] != "assistant" || replyTurn["content"] != "echo: hello" {
		t.Fatalf("reply turn = %v", replyTurn)
	}

	writeJSON(t, conn, ClientMessage{Type: "history", ConversationID: convID})
	history := readFrame(t, conn)
	if history["type"] != "history" {
		t.Fatalf("frame = %v, want history", history)
	}
	if turns, _ := history["turns"].([]any); len(turns) != 2 {
		t.Fatalf("history turns = %v", history["turns"])
	}
}

func TestErrorsGoToSender(t *testing.T) {
	h, server := newTestHub(t, echoModel{})
	conn := dial(t, h, server)

	cases := []struct {
		msg  any
		want string
	}{
		{ClientMessage{Type: "dance"}, "unknown message type"},
		{ClientMessage{Type: "history", ConversationID: "missing"}, "unknown conversation"},
		{ClientMessage{Type: "user_turn", Mode: "chaos", Text: "x"}, "mode"},
	}
	for _, c := range cases {
		writeJSON(t, conn, c.msg)
		frame := readFrame(t, conn)
		msg, _ := frame["message"].(string)
		if frame["type"] != "error" || !strings.Contains(msg, c.want) {
			t.Fatalf("frame = %v, want error containing %q", frame, c.want)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, conn); frame["message"] != "invalid message format" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestCancelReportsError(t *testing.T) {
	h, server := newTestHub(t, echoModel{block: make(chan struct{})})
	conn := dial(t, h, server)

	writeJSON(t, conn, ClientMessage{Type: "user_turn", Text: "slow"})
	created := readFrame(t, conn)
	convID := created["conversation_id"].(string)

	writeJSON(t, conn, ClientMessage{Type: "cancel", ConversationID: convID})
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["message"] != "turn cancelled" {
		t.Fatalf("frame = %v, want turn cancelled", frame)
	}
}

type fakeTask struct {
	conversationID string
	cancelled      bool
}

func (f *fakeTask) ConversationID() string { return f.conversationID }
func (f *fakeTask) Cancel()                { f.cancelled = true }

func TestTaskTrackingPerTask(t *testing.T) {
	c := &Client{id: "x"}
	first := &fakeTask{conversationID: "c-1"}
	second := &fakeTask{conversationID: "c-1"}
	other := &fakeTask{conversationID: "c-2"}
	c.trackTask(first)
	c.trackTask(second)
	c.trackTask(other)

	c.untrackTask(first)
	c.cancelTask("c-1")
	if first.cancelled || !second.cancelled || other.cancelled {
		t.Fatalf("after cancel c-1: first=%t second=%t other=%t", first.cancelled, second.cancelled, other.cancelled)
	}

	c.cancelAll()
	if !other.cancelled {
		t.Fatal("cancelAll should reach every tracked task")
	}
}

func TestCancelStopsQueuedTurn(t *testing.T) {
	h, server := newTestHub(t, echoModel{block: make(chan struct{})})
	conn := dial(t, h, server)

	writeJSON(t, conn, ClientMessage{Type: "user_turn", Text: "slow"})
	convID := readFrame(t, conn)["conversation_id"].(string)
	writeJSON(t, conn, ClientMessage{Type: "user_turn", ConversationID: convID, Text: "queued"})
	if frame := readFrame(t, conn); frame["type"] != "conversation" {
		t.Fatalf("frame = %v, want conversation", frame)
	}

	writeJSON(t, conn, ClientMessage{Type: "cancel", ConversationID: convID})
	for i := 0; i < 2; i++ {
		frame := readFrame(t, conn)
		if frame["type"] != "error" || frame["message"] != "turn cancelled" {
			t.Fatalf("frame %d = %v, want turn cancelled", i, frame)
		}
	}
}

func TestBroadcastRespectsSubscription(t *testing.T) {
	h := New("token", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	clientA := &Client{id: "a", send: make(chan []byte, 4), subscriptions: map[string]struct{}{"c-1": {}}}
	clientB := &Client{id: "b", send: make(chan []byte, 4), subscriptions: map[string]struct{}{"c-2": {}}}
	clientAll := &Client{id: "all", send: make(chan []byte, 4), subscribeAll: true, subscriptions: map[string]struct{}{}}
	h.mu.Lock()
	h.clients["a"] = clientA
	h.clients["b"] = clientB
	h.clients["all"] = clientAll
	h.mu.Unlock()

	if err := h.PublishTurns("c-1", []agent.Turn{{ID: "t1", Author: roles.KindUser, Content: "x"}}); err != nil {
		t.Fatalf("PublishTurns() error = %v", err)
	}

	for _, c := range []*Client{clientA, clientAll} {
		select {
		case data := <-c.send:
			var msg TurnMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.ConversationID != "c-1" || msg.Turn.ID != "t1" {
				t.Fatalf("client %s got %s (%v)", c.id, data, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive turn", c.id)
		}
	}
	select {
	case data := <-clientB.send:
		t.Fatalf("client b should not receive c-1 turns, got %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeliverAfterCloseIsDropped(t *testing.T) {
	c := &Client{id: "x", send: make(chan []byte, 1)}
	c.closeSend()
	c.closeSend()
	if c.deliver([]byte("late")) {
		t.Fatal("deliver after close should report false")
	}
}
