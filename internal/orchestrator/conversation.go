package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/user/aichat/internal/agent"
)

// Conversation is an append-only turn sequence with a single pipeline slot.
type Conversation struct {
	id        string
	mode      Mode
	createdAt time.Time

	slot chan struct{}

	// queue orders waiting pipelines: each one waits for the done
	// channel of the pipeline submitted before it.
	queueMu sync.Mutex
	tail    chan struct{}
	pending int

	mu    sync.RWMutex
	turns []agent.Turn
	state PipelineState
}

func newConversation(id string, mode Mode, createdAt time.Time, turns []agent.Turn) *Conversation {
	return &Conversation{
		id:        id,
		mode:      mode,
		createdAt: createdAt,
		slot:      make(chan struct{}, 1),
		turns:     append([]agent.Turn(nil), turns...),
	}
}

func (c *Conversation) ID() string           { return c.id }
func (c *Conversation) Mode() Mode           { return c.mode }
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// Turns returns a copy of the committed turns.
func (c *Conversation) Turns() []agent.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]agent.Turn(nil), c.turns...)
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

func (c *Conversation) State() PipelineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Busy reports whether a pipeline currently holds the slot.
func (c *Conversation) Busy() bool {
	return len(c.slot) > 0
}

func (c *Conversation) setState(s PipelineState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conversation) commit(turns ...agent.Turn) {
	c.mu.Lock()
	c.turns = append(c.turns, turns...)
	c.state = StateIdle
	c.mu.Unlock()
}

// reserve takes the next queue position. prev is closed once the pipeline
// submitted before it has left the queue; it is nil when the queue is empty.
func (c *Conversation) reserve() (prev <-chan struct{}, done chan struct{}) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.pending > 0 {
		prev = c.tail
	}
	done = make(chan struct{})
	c.tail = done
	c.pending++
	return prev, done
}

// tryReserve takes the slot only when nothing is running or queued.
func (c *Conversation) tryReserve() (chan struct{}, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.pending > 0 {
		return nil, false
	}
	select {
	case c.slot <- struct{}{}:
	default:
		return nil, false
	}
	done := make(chan struct{})
	c.tail = done
	c.pending++
	return done, true
}

// acquire waits for the previous queue position, then for the slot.
func (c *Conversation) acquire(ctx context.Context, prev <-chan struct{}) error {
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leave gives up the queue position, releasing the slot first when held.
func (c *Conversation) leave(done chan struct{}, held bool) {
	if held {
		<-c.slot
	}
	c.queueMu.Lock()
	c.pending--
	c.queueMu.Unlock()
	close(done)
}

// abandon gives up a position that never took the slot. Later pipelines
// are let through only once prev is done, so they keep their order.
func (c *Conversation) abandon(prev <-chan struct{}, done chan struct{}) {
	if prev == nil {
		c.leave(done, false)
		return
	}
	go func() {
		<-prev
		c.leave(done, false)
	}()
}
