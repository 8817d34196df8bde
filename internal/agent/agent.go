package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/user/aichat/internal/markers"
	"github.com/user/aichat/internal/roles"
	"github.com/user/aichat/internal/tools"
	"github.com/user/aichat/internal/transport"
)

// Turn is one entry of a conversation. Turns are never edited after they
// are committed.
type Turn struct {
	ID          string     `json:"id"`
	Author      roles.Kind `json:"author"`
	Label       string     `json:"label,omitempty"`
	Content     string     `json:"content"`
	Suggestions []string   `json:"suggestions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (t Turn) IsUser() bool {
	return t.Author == roles.KindUser
}

// Completer is the model endpoint an Agent talks to.
type Completer interface {
	Complete(ctx context.Context, req transport.CompletionRequest) (transport.Output, error)
}

type Options struct {
	Profile        roles.Profile
	AnalysisPrompt string
	Model          Completer
	Tools          *tools.Registry
	Logger         *slog.Logger
}

// Agent binds one role profile to a model and an optional tool registry.
type Agent struct {
	profile        roles.Profile
	analysisPrompt string
	model          Completer
	tools          *tools.Registry
	logger         *slog.Logger
}

func New(opts Options) (*Agent, error) {
	if opts.Model == nil {
		return nil, errors.New("model is required")
	}
	if !opts.Profile.Kind.IsAuthor() || opts.Profile.Kind == roles.KindUser {
		return nil, errors.New("profile must be an agent role")
	}
	if opts.Profile.Tools && opts.Tools == nil {
		return nil, errors.New("profile " + string(opts.Profile.Kind) + " needs a tool registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		profile:        opts.Profile,
		analysisPrompt: strings.TrimSpace(opts.AnalysisPrompt),
		model:          opts.Model,
		tools:          opts.Tools,
		logger:         logger.With("role", string(opts.Profile.Kind)),
	}, nil
}

func (a *Agent) Kind() roles.Kind {
	return a.profile.Kind
}

// Reply is what one Send produced. Raw keeps protocol markers for the
// caller to scan; Visible has them stripped.
type Reply struct {
	Raw         string
	Visible     string
	Suggestions []string
	ToolCalls   int
}

func (a *Agent) Send(ctx context.Context, turns []Turn) (Reply, error) {
	return a.SendIntent(ctx, turns, tools.IntentNone)
}

// SendIntent runs one model call and, when the model asks for tools, the
// tool dispatches and optional analysis calls. Only a failure of the main
// model call is returned as an error.
func (a *Agent) SendIntent(ctx context.Context, turns []Turn, intent tools.Intent) (Reply, error) {
	useTools := a.profile.Tools && a.tools.Len() > 0
	if useTools && a.profile.ForcesTools() {
		if err := a.tools.Ready(); err != nil {
			a.logger.Warn("tools not ready", "error", err)
			return Reply{Raw: tools.NotConfiguredMessage, Visible: tools.NotConfiguredMessage}, nil
		}
	}

	req := transport.CompletionRequest{
		SystemPrompt: a.profile.SystemPrompt,
		Messages:     toMessages(turns),
	}
	if useTools {
		req.Tools = a.tools.JSONSchemas()
		req.ToolChoice = a.profile.ToolChoice
	}

	out, err := a.model.Complete(ctx, req)
	if err != nil {
		return Reply{}, err
	}

	if out.Kind == transport.OutputToolCalls {
		text := a.runTools(ctx, out.ToolCalls)
		return Reply{Raw: text, Visible: text, ToolCalls: len(out.ToolCalls)}, nil
	}

	if useTools && a.profile.Fallback && intent != tools.IntentNone {
		a.logger.Info("model answered without a tool call, using fallback parser", "intent", string(intent))
		res := tools.RunFallback(ctx, a.tools, intent, out.Text, lastUserText(turns))
		text := a.withAnalysis(ctx, res)
		return Reply{Raw: text, Visible: text, ToolCalls: 1}, nil
	}

	return Reply{
		Raw:         out.Text,
		Visible:     markers.Strip(out.Text),
		Suggestions: markers.Suggestions(out.Text),
	}, nil
}

func (a *Agent) runTools(ctx context.Context, calls []transport.ToolCall) string {
	reg := a.tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	sections := make([]string, 0, len(calls))
	for _, call := range calls {
		a.logger.Debug("dispatch tool", "tool", call.Name, "args", call.Arguments)
		res := reg.DispatchCall(ctx, call)
		sections = append(sections, a.withAnalysis(ctx, res))
	}
	return strings.Join(sections, "\n\n")
}

func (a *Agent) withAnalysis(ctx context.Context, res tools.Result) string {
	if !a.profile.AnalyzeResults || a.analysisPrompt == "" || res.Text == tools.NotConfiguredMessage {
		return res.Text
	}
	analysis := a.analyze(ctx, res.Text)
	if analysis == "" {
		return res.Text
	}
	return res.Text + "\n\nAnalysis:\n" + analysis
}

// analyze asks the model to comment on one tool result. The exchange is
// not part of the conversation and failures only drop the analysis.
func (a *Agent) analyze(ctx context.Context, result string) string {
	out, err := a.model.Complete(ctx, transport.CompletionRequest{
		SystemPrompt: a.analysisPrompt,
		Messages:     []transport.Message{{Role: "user", Content: result}},
	})
	if err != nil {
		a.logger.Warn("analysis call failed", "error", err)
		return ""
	}
	if out.Kind != transport.OutputText {
		return ""
	}
	return markers.Strip(out.Text)
}

func toMessages(turns []Turn) []transport.Message {
	msgs := make([]transport.Message, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := "assistant"
		if t.IsUser() {
			role = "user"
		}
		msgs = append(msgs, transport.Message{Role: role, Content: t.Content})
	}
	return msgs
}

func lastUserText(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].IsUser() {
			return turns[i].Content
		}
	}
	return ""
}
