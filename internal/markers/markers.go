// Package markers scans the inline state tags that the spec writer and
// reviewer roles put at the start of their replies, and strips protocol
// tags from text before it is shown.
package markers

import (
	"strings"
)

type State int

const (
	Unrecognized State = iota
	Interview
	SpecReady
	ReviewError
	ReviewRequest
	ReviewReady
)

func (s State) String() string {
	switch s {
	case Interview:
		return "interview"
	case SpecReady:
		return "spec_ready"
	case ReviewError:
		return "review_error"
	case ReviewRequest:
		return "review_request"
	case ReviewReady:
		return "review_ready"
	default:
		return "unrecognized"
	}
}

type block struct {
	open  string
	close string
}

var (
	specBlock   = block{open: "<TECH_SPEC>", close: "</TECH_SPEC>"}
	reviewBlock = block{open: "<REVIEW>", close: "</REVIEW>"}

	suggestionBlocks = []block{
		{open: "<MCP_SUGGESTION>", close: "</MCP_SUGGESTION>"},
		{open: "<TOOL_SUGGESTION>", close: "</TOOL_SUGGESTION>"},
	}
)

// stateTags is checked in order against the normalized leading tag.
var stateTags = []struct {
	name  string
	state State
	body  *block
}{
	{"INTERVIEW", Interview, nil},
	{"SPEC_READY", SpecReady, &specBlock},
	{"REVIEW_ERROR", ReviewError, nil},
	{"REVIEW_REQUEST", ReviewRequest, nil},
	{"REVIEW_READY", ReviewReady, &reviewBlock},
}

// Result is the scanned state and the text that should be displayed.
type Result struct {
	State State
	Body  string
}

// Scan classifies text by its leading state tag. A state whose content
// block is missing or unterminated is reported as Unrecognized.
func Scan(text string) Result {
	trimmed := strings.TrimSpace(text)
	name, rest, ok := leadingState(trimmed)
	if !ok {
		return Result{State: Unrecognized, Body: Strip(text)}
	}
	for _, tag := range stateTags {
		if tag.name != name {
			continue
		}
		if tag.body == nil {
			return Result{State: tag.state, Body: Strip(rest)}
		}
		body, ok := extract(rest, *tag.body)
		if !ok {
			return Result{State: Unrecognized, Body: Strip(text)}
		}
		return Result{State: tag.state, Body: body}
	}
	return Result{State: Unrecognized, Body: Strip(text)}
}

// leadingState reads a "<STATE: NAME>" tag at the start of s, tolerating
// whitespace and case inside the tag.
func leadingState(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "<") {
		return "", s, false
	}
	end := strings.Index(s, ">")
	if end < 0 || strings.Contains(s[:end], "\n") {
		return "", s, false
	}
	inner := strings.Join(strings.Fields(s[1:end]), "")
	inner = strings.ToUpper(inner)
	name, ok := strings.CutPrefix(inner, "STATE:")
	if !ok || name == "" {
		return "", s, false
	}
	return name, s[end+1:], true
}

// extract returns s with b's delimiters removed, or false when the block
// is absent, unterminated or empty.
func extract(s string, b block) (string, bool) {
	open := strings.Index(s, b.open)
	if open < 0 {
		return "", false
	}
	afterOpen := s[open+len(b.open):]
	closeAt := strings.Index(afterOpen, b.close)
	if closeAt < 0 {
		return "", false
	}
	content := strings.TrimSpace(afterOpen[:closeAt])
	if content == "" {
		return "", false
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{Strip(s[:open]), content, Strip(afterOpen[closeAt+len(b.close):])} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n"), true
}

// Strip removes state tags, content delimiters and suggestion blocks.
func Strip(text string) string {
	out, _ := cutBlocks(text, suggestionBlocks)
	out = removeStateTags(out)
	for _, b := range []block{specBlock, reviewBlock} {
		out = strings.ReplaceAll(out, b.open, "")
		out = strings.ReplaceAll(out, b.close, "")
	}
	return strings.TrimSpace(out)
}

// Suggestions returns the contents of every complete suggestion block.
func Suggestions(text string) []string {
	_, found := cutBlocks(text, suggestionBlocks)
	return found
}

// HasSuggestion reports whether text carries a complete suggestion block.
func HasSuggestion(text string) bool {
	return len(Suggestions(text)) > 0
}

func cutBlocks(text string, blocks []block) (string, []string) {
	var found []string
	for _, b := range blocks {
		for {
			open := strings.Index(text, b.open)
			if open < 0 {
				break
			}
			closeAt := strings.Index(text[open+len(b.open):], b.close)
			if closeAt < 0 {
				break
			}
			closeAt += open + len(b.open)
			if s := strings.TrimSpace(text[open+len(b.open) : closeAt]); s != "" {
				found = append(found, s)
			}
			text = text[:open] + text[closeAt+len(b.close):]
		}
	}
	return text, found
}

func removeStateTags(text string) string {
	var b strings.Builder
	for {
		i := strings.Index(text, "<")
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		if _, rest, ok := leadingState(text[i:]); ok {
			b.WriteString(text[:i])
			text = rest
			continue
		}
		b.WriteString(text[:i+1])
		text = text[i+1:]
	}
}
