package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/markers"
	"github.com/user/aichat/internal/roles"
	"github.com/user/aichat/internal/tools"
)

var (
	ErrBusy                = errors.New("conversation is busy")
	ErrEmptyTurn           = errors.New("turn text is required")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrEmptyReply          = errors.New("agent returned an empty reply")
)

// Store persists committed turns. Implementations must treat turns as
// append-only.
type Store interface {
	CreateConversation(ctx context.Context, id string, mode string, createdAt time.Time) error
	AppendTurns(ctx context.Context, conversationID string, turns []agent.Turn) error
	LoadConversation(ctx context.Context, id string) (mode string, createdAt time.Time, turns []agent.Turn, err error)
}

// Publisher fans committed turns out to other processes.
type Publisher interface {
	PublishTurns(conversationID string, turns []agent.Turn) error
}

// Publishers fans turns out to every member and joins their errors.
type Publishers []Publisher

func (ps Publishers) PublishTurns(conversationID string, turns []agent.Turn) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.PublishTurns(conversationID, turns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Options struct {
	Model     agent.Completer
	Tools     *tools.Registry
	Catalog   *roles.Catalog
	Router    *Router
	Store     Store
	Publisher Publisher
	Logger    *slog.Logger

	Now   func() time.Time
	NewID func() string
}

type Orchestrator struct {
	model     agent.Completer
	tools     *tools.Registry
	catalog   *roles.Catalog
	router    *Router
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	mu            sync.Mutex
	conversations map[string]*Conversation
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, errors.New("model is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("role catalog is required")
	}
	router := opts.Router
	if router == nil {
		router = NewRouter()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		model:         opts.Model,
		tools:         opts.Tools,
		catalog:       opts.Catalog,
		router:        router,
		store:         opts.Store,
		publisher:     opts.Publisher,
		logger:        logger,
		now:           now,
		newID:         newID,
		conversations: make(map[string]*Conversation),
	}, nil
}

func (o *Orchestrator) Catalog() *roles.Catalog {
	return o.catalog
}

func (o *Orchestrator) Create(ctx context.Context, mode Mode) (*Conversation, error) {
	if mode == "" {
		mode = ModeGeneral
	}
	conv := newConversation(o.newID(), mode, o.now(), nil)
	if o.store != nil {
		if err := o.store.CreateConversation(ctx, conv.id, string(conv.mode), conv.createdAt); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	}
	o.mu.Lock()
	o.conversations[conv.id] = conv
	o.mu.Unlock()
	o.logger.Info("conversation created", "conversation_id", conv.id, "mode", string(mode))
	return conv, nil
}

// Open returns a live conversation, resuming it from the store if needed.
func (o *Orchestrator) Open(ctx context.Context, id string) (*Conversation, error) {
	id = strings.TrimSpace(id)
	o.mu.Lock()
	conv, ok := o.conversations[id]
	o.mu.Unlock()
	if ok {
		return conv, nil
	}
	if o.store == nil || id == "" {
		return nil, ErrUnknownConversation
	}
	mode, createdAt, turns, err := o.store.LoadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.conversations[id]; ok {
		return existing, nil
	}
	conv = newConversation(id, parsed, createdAt, turns)
	o.conversations[id] = conv
	o.logger.Info("conversation resumed", "conversation_id", id, "turns", len(turns))
	return conv, nil
}

// List returns live conversations, oldest first.
func (o *Orchestrator) List() []*Conversation {
	o.mu.Lock()
	out := make([]*Conversation, 0, len(o.conversations))
	for _, c := range o.conversations {
		out = append(out, c)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Submit queues a user turn. Queued turns run in submit order; each
// pipeline starts once the previous one has committed or failed.
func (o *Orchestrator) Submit(ctx context.Context, conv *Conversation, text string) (*Task, error) {
	if conv == nil {
		return nil, ErrUnknownConversation
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTurn
	}
	taskCtx, cancel := context.WithCancel(ctx)
	task := newTask(conv.id, cancel)
	prev, done := conv.reserve()
	go func() {
		if err := conv.acquire(taskCtx, prev); err != nil {
			conv.abandon(prev, done)
			task.finish(nil, err)
			return
		}
		turns, err := o.run(taskCtx, conv, text)
		conv.leave(done, true)
		task.finish(turns, err)
	}()
	return task, nil
}

// TrySubmit is Submit that fails with ErrBusy instead of queueing.
func (o *Orchestrator) TrySubmit(ctx context.Context, conv *Conversation, text string) (*Task, error) {
	if conv == nil {
		return nil, ErrUnknownConversation
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTurn
	}
	done, ok := conv.tryReserve()
	if !ok {
		return nil, ErrBusy
	}
	taskCtx, cancel := context.WithCancel(ctx)
	task := newTask(conv.id, cancel)
	go func() {
		turns, err := o.run(taskCtx, conv, text)
		conv.leave(done, true)
		task.finish(turns, err)
	}()
	return task, nil
}

// SubmitUserTurn submits text and waits for the new agent turns.
func (o *Orchestrator) SubmitUserTurn(ctx context.Context, conv *Conversation, text string) ([]agent.Turn, error) {
	task, err := o.Submit(ctx, conv, text)
	if err != nil {
		return nil, err
	}
	return task.Wait(ctx)
}

func (o *Orchestrator) run(ctx context.Context, conv *Conversation, text string) (produced []agent.Turn, err error) {
	logger := o.logger.With("conversation_id", conv.id)
	started := time.Now()
	defer func() {
		if err != nil {
			conv.setState(StateIdle)
			logger.Warn("turn failed", "error", err, "elapsed", time.Since(started))
		}
	}()

	conv.setState(StateRouting)
	userTurn := o.newTurn(roles.KindUser, text, nil)
	history := append(conv.Turns(), userTurn)

	decision := o.router.Route(text)
	switch {
	case decision.ToolCommand:
		conv.setState(StateToolCommandTurn)
		logger.Debug("routing", "state", StateToolCommandTurn.String(), "phrase", decision.Phrase)
		produced, err = o.toolCommandTurn(ctx, history, decision.Intent)
	case conv.mode == ModeSpec:
		conv.setState(StateTwoAgentHandoff)
		logger.Debug("routing", "state", StateTwoAgentHandoff.String())
		produced, err = o.handoffTurn(ctx, logger, history)
	default:
		conv.setState(StateSingleAgentTurn)
		logger.Debug("routing", "state", StateSingleAgentTurn.String())
		produced, err = o.singleAgentTurn(ctx, history)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	committed := append([]agent.Turn{userTurn}, produced...)
	conv.commit(committed...)
	logger.Info("turn committed", "agent_turns", len(produced), "elapsed", time.Since(started))
	o.persist(conv.id, committed)
	return produced, nil
}

func (o *Orchestrator) singleAgentTurn(ctx context.Context, history []agent.Turn) ([]agent.Turn, error) {
	a, err := o.agentFor(roles.KindAssistant)
	if err != nil {
		return nil, err
	}
	reply, err := a.Send(ctx, history)
	if err != nil {
		return nil, err
	}
	turn, err := o.replyTurn(roles.KindAssistant, reply.Visible, reply.Suggestions)
	if err != nil {
		return nil, err
	}
	return []agent.Turn{turn}, nil
}

func (o *Orchestrator) toolCommandTurn(ctx context.Context, history []agent.Turn, intent tools.Intent) ([]agent.Turn, error) {
	a, err := o.agentFor(roles.KindGitHubAgent)
	if err != nil {
		return nil, err
	}
	reply, err := a.SendIntent(ctx, history, intent)
	if err != nil {
		return nil, err
	}
	turn, err := o.replyTurn(roles.KindGitHubAgent, reply.Visible, nil)
	if err != nil {
		return nil, err
	}
	return []agent.Turn{turn}, nil
}

// handoffTurn runs the spec writer and, only on a complete SPEC_READY
// reply, the reviewer over the same history plus the writer's turn.
func (o *Orchestrator) handoffTurn(ctx context.Context, logger *slog.Logger, history []agent.Turn) ([]agent.Turn, error) {
	writer, err := o.agentFor(roles.KindSpecWriter)
	if err != nil {
		return nil, err
	}
	reply, err := writer.Send(ctx, history)
	if err != nil {
		return nil, err
	}
	scanned := markers.Scan(reply.Raw)
	writerTurn, err := o.replyTurn(roles.KindSpecWriter, scanned.Body, reply.Suggestions)
	if err != nil {
		return nil, err
	}
	logger.Debug("spec writer replied", "marker", scanned.State.String())
	if scanned.State != markers.SpecReady {
		return []agent.Turn{writerTurn}, nil
	}

	reviewer, err := o.agentFor(roles.KindSpecReviewer)
	if err != nil {
		return nil, err
	}
	review, err := reviewer.Send(ctx, append(history, writerTurn))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Error("spec reviewer failed, keeping writer turn", "error", err)
		return []agent.Turn{writerTurn}, nil
	}
	reviewed := markers.Scan(review.Raw)
	logger.Debug("spec reviewer replied", "marker", reviewed.State.String())
	reviewTurn, err := o.replyTurn(roles.KindSpecReviewer, reviewed.Body, review.Suggestions)
	if err != nil {
		logger.Error("spec reviewer returned nothing, keeping writer turn", "error", err)
		return []agent.Turn{writerTurn}, nil
	}
	return []agent.Turn{writerTurn, reviewTurn}, nil
}

// agentFor builds an agent from the current catalog so reloaded profiles
// apply to the next turn.
func (o *Orchestrator) agentFor(kind roles.Kind) (*agent.Agent, error) {
	profile, ok := o.catalog.Get(kind)
	if !ok {
		return nil, fmt.Errorf("role %s is not configured", kind)
	}
	analysis, _ := o.catalog.Get(roles.KindAnalysis)
	reg := o.tools
	if !profile.Tools {
		reg = nil
	} else if reg == nil {
		reg = tools.NewRegistry()
	}
	return agent.New(agent.Options{
		Profile:        profile,
		AnalysisPrompt: analysis.SystemPrompt,
		Model:          o.model,
		Tools:          reg,
		Logger:         o.logger,
	})
}

func (o *Orchestrator) newTurn(author roles.Kind, content string, suggestions []string) agent.Turn {
	return agent.Turn{
		ID:          o.newID(),
		Author:      author,
		Label:       o.catalog.Label(author),
		Content:     content,
		Suggestions: suggestions,
		CreatedAt:   o.now(),
	}
}

func (o *Orchestrator) replyTurn(author roles.Kind, content string, suggestions []string) (agent.Turn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return agent.Turn{}, fmt.Errorf("%s: %w", author, ErrEmptyReply)
	}
	return o.newTurn(author, content, suggestions), nil
}

// persist hands committed turns to the optional store and publisher. Their
// failures never undo the in-memory commit.
func (o *Orchestrator) persist(conversationID string, turns []agent.Turn) {
	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := o.store.AppendTurns(ctx, conversationID, turns)
		cancel()
		if err != nil {
			o.logger.Error("store turns", "conversation_id", conversationID, "error", err)
		}
	}
	if o.publisher != nil {
		if err := o.publisher.PublishTurns(conversationID, turns); err != nil {
			o.logger.Error("publish turns", "conversation_id", conversationID, "error", err)
		}
	}
}
