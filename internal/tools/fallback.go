package tools

import (
	"context"
	"strings"
	"unicode"
)

// Intent names the tool a forced turn is expected to call. It drives the
// free-text fallback when the model answers without a tool call.
type Intent string

const (
	IntentNone             Intent = ""
	IntentCreateRepository Intent = ToolCreateRepository
)

const defaultRepositoryName = "new-repo"

var (
	createKeywords = []string{
		"create repository",
		"create repo",
		"создай репозиторий",
		"создать репозиторий",
	}
	repositoryWords  = []string{"repository", "repo", "репозиторий"}
	privateWords     = []string{"private", "приватный", "приватного"}
	descriptionMarks = []string{"with description", "description:", "с описанием"}
	fillerWords      = []string{"named", "called", "name", "with", "the", "a", "new", "с", "названием", "именем", "новый"}
)

// Call is a tool name with arguments recovered from free text.
type Call struct {
	Name      string
	Arguments map[string]any
}

// ParseFallback tries each text in order and returns the first call it can
// recover for intent.
func ParseFallback(intent Intent, texts ...string) (Call, bool) {
	if intent != IntentCreateRepository {
		return Call{}, false
	}
	for _, text := range texts {
		if args, ok := parseCreateRepository(text); ok {
			return Call{Name: ToolCreateRepository, Arguments: args}, true
		}
	}
	return Call{}, false
}

// RunFallback executes the recovered call through reg. When nothing can be
// recovered the result says so.
func RunFallback(ctx context.Context, reg *Registry, intent Intent, modelText, command string) Result {
	call, ok := ParseFallback(intent, modelText, command)
	if !ok {
		return errorResult("could not recognize the command: %s", strings.TrimSpace(command))
	}
	return reg.Dispatch(ctx, call.Name, call.Arguments)
}

func parseCreateRepository(text string) (map[string]any, bool) {
	lower := strings.ToLower(text)
	// Offsets found in lower are only valid for text when lowering kept
	// byte lengths.
	source := text
	if len(lower) != len(text) {
		source = lower
	}

	at := -1
	keyword := ""
	for _, kw := range createKeywords {
		if i := strings.Index(lower, kw); i >= 0 && (at < 0 || i < at) {
			at, keyword = i, kw
		}
	}
	if at < 0 {
		return nil, false
	}

	args := map[string]any{"isPrivate": false}
	head := source[at:]
	headLower := lower[at:]
	for _, mark := range descriptionMarks {
		if i := strings.Index(headLower, mark); i >= 0 {
			if d := trimToken(strings.TrimSpace(head[i+len(mark):])); d != "" {
				args["description"] = d
			}
			head, headLower = head[:i], headLower[:i]
			break
		}
	}

	words := strings.Fields(head)
	for _, w := range words {
		if containsFold(privateWords, trimToken(w)) {
			args["isPrivate"] = true
		}
	}

	name := ""
	for i, w := range words {
		if containsFold(repositoryWords, trimToken(w)) {
			name = firstNameToken(words[i+1:])
			break
		}
	}
	if name == "" {
		rest := strings.TrimSpace(head[len(keyword):])
		name = firstNameToken(strings.Fields(rest))
	}
	if name == "" {
		name = defaultRepositoryName
	}
	args["name"] = name
	return args, true
}

func firstNameToken(words []string) string {
	for _, w := range words {
		tok := trimToken(w)
		if tok == "" || containsFold(fillerWords, tok) || containsFold(privateWords, tok) {
			continue
		}
		return tok
	}
	return ""
}

func trimToken(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		if r == '-' || r == '_' {
			return false
		}
		return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
	})
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
