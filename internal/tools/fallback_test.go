package tools

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestParseFallbackCreateRepository(t *testing.T) {
	tests := []struct {
		text        string
		name        string
		private     bool
		description string
	}{
		{"create repository demo", "demo", false, ""},
		{"Please create repository \"my-app\" private", "my-app", true, ""},
		{"create repo named tools with description CLI helpers", "tools", false, "CLI helpers"},
		{"создай репозиторий проект приватный", "проект", true, ""},
		{"Создай репозиторий test-repo с описанием Тестовый репозиторий", "test-repo", false, "Тестовый репозиторий"},
		{"create repository", defaultRepositoryName, false, ""},
	}
	for _, tt := range tests {
		call, ok := ParseFallback(IntentCreateRepository, tt.text)
		if !ok {
			t.Fatalf("%q: not recognized", tt.text)
		}
		if call.Name != ToolCreateRepository {
			t.Fatalf("%q: name=%s", tt.text, call.Name)
		}
		if call.Arguments["name"] != tt.name {
			t.Errorf("%q: repo name=%v want %s", tt.text, call.Arguments["name"], tt.name)
		}
		if call.Arguments["isPrivate"] != tt.private {
			t.Errorf("%q: private=%v want %v", tt.text, call.Arguments["isPrivate"], tt.private)
		}
		desc, _ := call.Arguments["description"].(string)
		if desc != tt.description {
			t.Errorf("%q: description=%q want %q", tt.text, desc, tt.description)
		}
	}
}

func TestParseFallbackPrefersFirstMatchingText(t *testing.T) {
	call, ok := ParseFallback(IntentCreateRepository, "Sure, I can help with that.", "create repository from-user")
	if !ok || call.Arguments["name"] != "from-user" {
		t.Fatalf("call=%+v ok=%v want name from second text", call, ok)
	}
	if _, ok := ParseFallback(IntentNone, "create repository x"); ok {
		t.Fatalf("no intent should not parse")
	}
}

func TestRunFallbackUnrecognized(t *testing.T) {
	reg, calls := newTestRegistry(t, "tok", func(req *http.Request) *http.Response {
		return jsonResponse(http.StatusCreated, `{}`)
	})
	res := RunFallback(context.Background(), reg, IntentCreateRepository, "hello", "do something")
	if !res.IsError || !strings.Contains(res.Text, "could not recognize the command: do something") {
		t.Fatalf("text=%q want unrecognized", res.Text)
	}
	if len(*calls) != 0 {
		t.Fatalf("calls=%d want 0", len(*calls))
	}
}

func TestRunFallbackExecutesTool(t *testing.T) {
	reg, calls := newTestRegistry(t, "tok", func(req *http.Request) *http.Response {
		return jsonResponse(http.StatusCreated, `{"name":"demo","html_url":"https://github.com/me/demo"}`)
	})
	res := RunFallback(context.Background(), reg, IntentCreateRepository, "I will create it now", "create repository demo")
	if res.IsError || !strings.Contains(res.Text, "https://github.com/me/demo") {
		t.Fatalf("text=%q want created repo", res.Text)
	}
	if len(*calls) != 1 || (*calls)[0].body["name"] != "demo" {
		t.Fatalf("calls=%+v", *calls)
	}
}
