package orchestrator

import (
	"strings"

	"github.com/user/aichat/internal/tools"
)

// CommandPrefix forces a turn to the tool agent regardless of phrasing.
const CommandPrefix = "/github"

type trigger struct {
	phrase string
	intent tools.Intent
}

// defaultTriggers is matched in order; the first hit decides the intent.
var defaultTriggers = []trigger{
	{"create repository", tools.IntentCreateRepository},
	{"create repo", tools.IntentCreateRepository},
	{"создай репозиторий", tools.IntentCreateRepository},
	{"создать репозиторий", tools.IntentCreateRepository},
	{"list my repositories", tools.IntentNone},
	{"my repositories", tools.IntentNone},
	{"мои репозитории", tools.IntentNone},
	{"search repositories", tools.IntentNone},
	{"find repositories", tools.IntentNone},
	{"найди репозитории", tools.IntentNone},
	{"show issues", tools.IntentNone},
	{"list issues", tools.IntentNone},
	{"issues in", tools.IntentNone},
	{"покажи issues", tools.IntentNone},
	{"github user", tools.IntentNone},
	{"my github profile", tools.IntentNone},
	{"информация о пользователе", tools.IntentNone},
}

// Decision is the outcome of routing one user turn.
type Decision struct {
	ToolCommand bool
	Phrase      string
	Intent      tools.Intent
}

// Router classifies user turns by a fixed, ordered phrase list.
type Router struct {
	triggers []trigger
}

func NewRouter() *Router {
	return &Router{triggers: append([]trigger(nil), defaultTriggers...)}
}

// Phrases returns the trigger phrases in match order.
func (r *Router) Phrases() []string {
	out := make([]string, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, t.phrase)
	}
	return out
}

func (r *Router) Route(text string) Decision {
	lower := strings.ToLower(strings.TrimSpace(text))
	forced := false
	if rest, ok := strings.CutPrefix(lower, CommandPrefix); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\t') {
		forced = true
		lower = strings.TrimSpace(rest)
	}
	for _, t := range r.triggers {
		if strings.Contains(lower, t.phrase) {
			return Decision{ToolCommand: true, Phrase: t.phrase, Intent: t.intent}
		}
	}
	if forced {
		return Decision{ToolCommand: true, Phrase: CommandPrefix}
	}
	return Decision{}
}
