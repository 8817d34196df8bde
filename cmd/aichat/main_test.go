package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/aichat/internal/config"
	"github.com/user/aichat/internal/db"
	"github.com/user/aichat/internal/orchestrator"
	"github.com/user/aichat/internal/roles"
	"github.com/user/aichat/internal/transport"
)

type stubModel struct{}

func (stubModel) Complete(ctx context.Context, req transport.CompletionRequest) (transport.Output, error) {
	last := req.Messages[len(req.Messages)-1].Content
	if last == "quiet" {
		return transport.TextOutput(" "), nil
	}
	return transport.TextOutput("got " + last + "\n<MCP_SUGGESTION>create repo demo</MCP_SUGGESTION>"), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Model:  config.ModelConfig{Name: "test", Timeout: time.Second},
		GitHub: config.GitHubConfig{Timeout: time.Second},
		Store:  config.StoreConfig{Path: filepath.Join(t.TempDir(), "chat.db")},
		NATS:   config.NATSConfig{Embedded: true, Port: -1},
		Server: config.ServerConfig{Port: 8765},
		Log:    config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestBuildAppWiresStoreAndBus(t *testing.T) {
	cfg := testConfig(t)
	logger := newLogger(cfg.Log, io.Discard, true)
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, logger, appOptions{Model: stubModel{}})
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	conv, err := a.orch.Create(ctx, orchestrator.ModeGeneral)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := a.orch.SubmitUserTurn(ctx, conv, "hello"); err != nil {
		t.Fatalf("SubmitUserTurn() error = %v", err)
	}
	a.Close()

	cfg.NATS = config.NATSConfig{}
	b, err := buildApp(ctx, cfg, logger, appOptions{Model: stubModel{}})
	if err != nil {
		t.Fatalf("second buildApp() error = %v", err)
	}
	defer b.Close()
	resumed, err := b.orch.Open(ctx, conv.ID())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if resumed.Len() != 2 {
		t.Fatalf("resumed turns=%d want 2", resumed.Len())
	}
}

func TestBuildAppRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = ""
	cfg.NATS = config.NATSConfig{}
	if _, err := buildApp(context.Background(), cfg, newLogger(cfg.Log, io.Discard, true), appOptions{}); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestREPL(t *testing.T) {
	catalog, err := roles.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Options{Model: stubModel{}, Catalog: catalog})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	conv, err := orch.Create(context.Background(), orchestrator.ModeGeneral)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	in := strings.NewReader("hello\n\nquiet\n/history\n/quit\nnever\n")
	var out bytes.Buffer
	if err := runREPL(context.Background(), orch, conv, in, &out); err != nil {
		t.Fatalf("runREPL() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"got hello", "suggestion: create repo demo", "(no reply)", "[You] hello"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never") {
		t.Fatalf("input after /quit was processed:\n%s", got)
	}
	if conv.Len() != 2 {
		t.Fatalf("history=%d want 2", conv.Len())
	}
}

func TestREPLStopsWhenContextEnds(t *testing.T) {
	catalog, err := roles.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Options{Model: stubModel{}, Catalog: catalog})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	conv, err := orch.Create(context.Background(), orchestrator.ModeGeneral)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	in, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runREPL(ctx, orch, conv, in, io.Discard) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runREPL() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runREPL kept waiting for input after cancel")
	}
}

func TestWriteRoles(t *testing.T) {
	catalog, err := roles.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	var out bytes.Buffer
	writeRoles(&out, catalog)
	if !strings.Contains(out.String(), "github_agent") || !strings.Contains(out.String(), "required") {
		t.Fatalf("roles output:\n%s", out.String())
	}
}

func TestWriteConversations(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()
	store := db.NewStore(database)

	catalog, err := roles.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Options{Model: stubModel{}, Catalog: catalog, Store: store})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	general, err := orch.Create(ctx, orchestrator.ModeGeneral)
	if err != nil {
		t.Fatalf("Create(general) error = %v", err)
	}
	spec, err := orch.Create(ctx, orchestrator.ModeSpec)
	if err != nil {
		t.Fatalf("Create(spec) error = %v", err)
	}

	var out bytes.Buffer
	if err := writeConversations(ctx, &out, store, db.ConversationFilter{Mode: "spec"}); err != nil {
		t.Fatalf("writeConversations() error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, spec.ID()) || strings.Contains(got, general.ID()) {
		t.Fatalf("conversations output:\n%s", got)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var text bytes.Buffer
	newLogger(config.LogConfig{Level: "info", Format: "text"}, &text, true).Info("served", "port", 8765)
	if !strings.Contains(text.String(), "served") || strings.Contains(text.String(), "\x1b[") {
		t.Fatalf("text output = %q, want plain tint line", text.String())
	}

	var js bytes.Buffer
	newLogger(config.LogConfig{Level: "warn", Format: "json"}, &js, true).Info("hidden")
	newLogger(config.LogConfig{Level: "warn", Format: "json"}, &js, true).Warn("shown", "port", 8765)
	var entry map[string]any
	if err := json.Unmarshal(js.Bytes(), &entry); err != nil {
		t.Fatalf("json output %q: %v", js.String(), err)
	}
	if entry["msg"] != "shown" || entry["level"] != "WARN" {
		t.Fatalf("json entry = %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug").String() != "DEBUG" || parseLevel("bogus").String() != "INFO" {
		t.Fatal("unexpected level mapping")
	}
}
