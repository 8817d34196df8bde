package natsbus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/config"
	"github.com/user/aichat/internal/roles"
)

func startBus(t *testing.T) (*Bus, *Client) {
	t.Helper()
	bus, err := New(config.NATSConfig{Embedded: true, Port: -1})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return bus, client
}

func TestBusStartStop(t *testing.T) {
	bus, _ := startBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPublishJSON(t *testing.T) {
	_, client := startBus(t)

	received := make(chan string, 1)
	if _, err := client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- string(msg.Data)
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.PublishJSON("test.json", map[string]string{"key": "value"}); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	_ = client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublisherDeliversTurns(t *testing.T) {
	_, client := startBus(t)
	pub := NewPublisher(client, nil)

	received := make(chan TurnsEvent, 1)
	stop, err := pub.SubscribeTurns(func(e TurnsEvent) { received <- e })
	if err != nil {
		t.Fatalf("SubscribeTurns() error = %v", err)
	}
	defer stop()
	_ = client.Flush()

	turns := []agent.Turn{
		{ID: "t1", Author: roles.KindUser, Content: "hi"},
		{ID: "t2", Author: roles.KindAssistant, Content: "hello"},
	}
	if err := pub.PublishTurns("conv-1", turns); err != nil {
		t.Fatalf("PublishTurns() error = %v", err)
	}
	_ = client.Flush()

	select {
	case e := <-received:
		if e.ConversationID != "conv-1" || len(e.Turns) != 2 || e.Turns[1].Content != "hello" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for turns")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicTurns("c1"); got != "aichat.conversations.c1.turns" {
		t.Errorf("expected aichat.conversations.c1.turns, got %s", got)
	}
	if got := TopicTurns("a.b*c"); got != "aichat.conversations.a_b_c.turns" {
		t.Errorf("expected sanitized topic, got %s", got)
	}
}
