package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/aichat/internal/orchestrator"
	"github.com/user/aichat/internal/tools"
)

type handler struct {
	orchestrator *orchestrator.Orchestrator
	tools        *tools.Registry
}

// NewRouter serves the conversation API. An empty token disables auth.
func NewRouter(orch *orchestrator.Orchestrator, registry *tools.Registry, token string) http.Handler {
	handler := &handler{
		orchestrator: orch,
		tools:        registry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversations", handler.createConversation)
	mux.HandleFunc("GET /api/conversations", handler.listConversations)
	mux.HandleFunc("GET /api/conversations/{id}", handler.getConversation)
	mux.HandleFunc("GET /api/conversations/{id}/turns", handler.listTurns)
	mux.HandleFunc("POST /api/conversations/{id}/turns", handler.submitTurn)

	mux.HandleFunc("GET /api/roles", handler.listRoles)
	mux.HandleFunc("GET /api/tools", handler.listTools)

	wrapped := authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
