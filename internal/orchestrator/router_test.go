package orchestrator

import (
	"strings"
	"testing"

	"github.com/user/aichat/internal/tools"
)

func TestRouteEveryPhraseIsToolCommand(t *testing.T) {
	r := NewRouter()
	for _, phrase := range r.Phrases() {
		for _, text := range []string{phrase, "please " + strings.ToUpper(phrase) + " now", "  " + phrase + "\n"} {
			d := r.Route(text)
			if !d.ToolCommand {
				t.Fatalf("Route(%q) not a tool command", text)
			}
			if d.Phrase != phrase {
				t.Fatalf("Route(%q) phrase=%q want %q", text, d.Phrase, phrase)
			}
		}
	}
}

func TestRouteIntent(t *testing.T) {
	r := NewRouter()
	if d := r.Route("create repository demo"); d.Intent != tools.IntentCreateRepository {
		t.Fatalf("intent=%q want create_repository", d.Intent)
	}
	if d := r.Route("Создай репозиторий проект"); d.Intent != tools.IntentCreateRepository {
		t.Fatalf("intent=%q want create_repository", d.Intent)
	}
	if d := r.Route("show issues for o/r"); !d.ToolCommand || d.Intent != tools.IntentNone {
		t.Fatalf("decision=%+v", d)
	}
}

func TestRoutePrefix(t *testing.T) {
	r := NewRouter()
	if d := r.Route("/github who am i"); !d.ToolCommand || d.Phrase != CommandPrefix {
		t.Fatalf("decision=%+v want prefix command", d)
	}
	if d := r.Route("/GitHub create repo x"); !d.ToolCommand || d.Intent != tools.IntentCreateRepository {
		t.Fatalf("decision=%+v want create intent", d)
	}
	if d := r.Route("/githubber"); d.ToolCommand {
		t.Fatalf("decision=%+v want conversational", d)
	}
}

func TestRouteConversational(t *testing.T) {
	r := NewRouter()
	for _, text := range []string{"hello", "what is a repository?", "tell me about github", ""} {
		if d := r.Route(text); d.ToolCommand {
			t.Fatalf("Route(%q)=%+v want conversational", text, d)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeGeneral {
		t.Fatalf("ParseMode(\"\")=%s,%v", m, err)
	}
	if m, err := ParseMode(" Spec "); err != nil || m != ModeSpec {
		t.Fatalf("ParseMode(spec)=%s,%v", m, err)
	}
	if _, err := ParseMode("chaos"); err == nil {
		t.Fatalf("expected error")
	}
}
