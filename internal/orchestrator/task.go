package orchestrator

import (
	"context"

	"github.com/user/aichat/internal/agent"
)

// Task is a submitted user turn. It completes once the pipeline has
// committed its turns or failed.
type Task struct {
	conversationID string
	cancel         context.CancelFunc
	done           chan struct{}

	turns []agent.Turn
	err   error
}

func newTask(conversationID string, cancel context.CancelFunc) *Task {
	return &Task{conversationID: conversationID, cancel: cancel, done: make(chan struct{})}
}

func (t *Task) ConversationID() string {
	return t.conversationID
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends. It returns the new
// agent turns; the user turn is committed alongside them.
func (t *Task) Wait(ctx context.Context) ([]agent.Turn, error) {
	select {
	case <-t.done:
		return t.turns, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts the pipeline. Nothing is committed for a cancelled task.
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) finish(turns []agent.Turn, err error) {
	t.turns = turns
	t.err = err
	t.cancel()
	close(t.done)
}
