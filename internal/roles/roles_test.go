package roles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultCatalogHasEveryKind(t *testing.T) {
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	for _, kind := range Kinds() {
		p, ok := c.Get(kind)
		if !ok {
			t.Fatalf("kind %s missing", kind)
		}
		if kind != KindUser && p.SystemPrompt == "" {
			t.Fatalf("kind %s has no prompt", kind)
		}
	}
	gh, _ := c.Get(KindGitHubAgent)
	if !gh.ForcesTools() || !gh.AnalyzeResults || !gh.Fallback {
		t.Fatalf("github agent=%+v want forced tools with analysis and fallback", gh)
	}
	assistant, _ := c.Get(KindAssistant)
	if assistant.Tools {
		t.Fatalf("assistant should not have tools by default")
	}
	writer, _ := c.Get(KindSpecWriter)
	if !strings.Contains(writer.SystemPrompt, "<STATE: SPEC_READY>") || !strings.Contains(writer.SystemPrompt, "<TECH_SPEC>") {
		t.Fatalf("spec writer prompt should describe the state protocol")
	}
	if got := len(c.List()); got != len(Kinds()) {
		t.Fatalf("List()=%d want %d", got, len(Kinds()))
	}
}

func TestOverrideDirReplacesKind(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "assistant.yaml", "kind: assistant\nlabel: Helper\nsystem_prompt: be brief\ntools: true\n")

	c, err := NewCatalog(dir)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	p, _ := c.Get(KindAssistant)
	if p.Label != "Helper" || p.SystemPrompt != "be brief" {
		t.Fatalf("assistant=%+v want override", p)
	}
	if p.ToolChoice != "auto" {
		t.Fatalf("tool_choice=%q want auto default", p.ToolChoice)
	}
	if c.Label(KindSpecWriter) != "Spec Writer" {
		t.Fatalf("label=%q want default spec writer label", c.Label(KindSpecWriter))
	}
}

func TestLoadRejectsInvalidProfiles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown kind", "kind: wizard\nlabel: W\nsystem_prompt: x\n", "unknown kind"},
		{"missing prompt", "kind: assistant\nlabel: A\n", "system_prompt is required"},
		{"bad tool choice", "kind: github_agent\nlabel: G\nsystem_prompt: x\ntools: true\ntool_choice: always\n", "tool_choice"},
		{"options without tools", "kind: assistant\nlabel: A\nsystem_prompt: x\nfallback: true\n", "require tools"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRole(t, dir, "role.yaml", tt.body)
			_, err := NewCatalog(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v want %q", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsDuplicateKinds(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "a.yaml", "kind: assistant\nlabel: A\nsystem_prompt: x\n")
	writeRole(t, dir, "b.yml", "kind: assistant\nlabel: B\nsystem_prompt: y\n")
	if _, err := NewCatalog(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err=%v want duplicate", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "assistant.yaml", "kind: assistant\nlabel: First\nsystem_prompt: x\n")
	c, err := NewCatalog(dir)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	w, err := NewWatcher(c, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	writeRole(t, dir, "assistant.yaml", "kind: assistant\nlabel: Second\nsystem_prompt: y\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-w.Reloads:
			if err == nil && c.Label(KindAssistant) == "Second" {
				return
			}
		case <-deadline:
			t.Fatalf("label=%q want Second after reload", c.Label(KindAssistant))
		}
	}
}

func TestNewWatcherNeedsDir(t *testing.T) {
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	if _, err := NewWatcher(c, nil); err == nil {
		t.Fatalf("expected error without dir")
	}
}

func writeRole(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
