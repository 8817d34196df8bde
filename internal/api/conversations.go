package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/orchestrator"
)

type createConversationRequest struct {
	Mode string `json:"mode"`
}

type conversationResponse struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	CreatedAt string `json:"created_at"`
	Turns     int    `json:"turns"`
	State     string `json:"state"`
}

type submitTurnRequest struct {
	Text string `json:"text"`
}

type turnsResponse struct {
	ConversationID string       `json:"conversation_id"`
	Turns          []agent.Turn `json:"turns"`
}

func toConversationResponse(c *orchestrator.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID(),
		Mode:      string(c.Mode()),
		CreatedAt: c.CreatedAt().UTC().Format(time.RFC3339),
		Turns:     c.Len(),
		State:     c.State().String(),
	}
}

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := orchestrator.ParseMode(req.Mode)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := h.orchestrator.Create(r.Context(), mode)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, toConversationResponse(conv))
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs := h.orchestrator.List()
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	jsonResponse(w, http.StatusOK, out)
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.openConversation(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, toConversationResponse(conv))
}

func (h *handler) listTurns(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.openConversation(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, turnsResponse{ConversationID: conv.ID(), Turns: conv.Turns()})
}

// submitTurn runs a user turn and responds with the new agent turns.
// With ?nowait=1 a busy conversation is rejected with 409 instead of queued.
func (h *handler) submitTurn(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.openConversation(w, r)
	if !ok {
		return
	}
	var req submitTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	submit := h.orchestrator.Submit
	if nowait(r) {
		submit = h.orchestrator.TrySubmit
	}
	task, err := submit(r.Context(), conv, req.Text)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	turns, err := task.Wait(r.Context())
	if err != nil {
		writeTurnError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, turnsResponse{ConversationID: conv.ID(), Turns: turns})
}

func (h *handler) openConversation(w http.ResponseWriter, r *http.Request) (*orchestrator.Conversation, bool) {
	conv, err := h.orchestrator.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownConversation) {
			jsonError(w, http.StatusNotFound, "conversation not found")
			return nil, false
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return conv, true
}

func nowait(r *http.Request) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("nowait"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyTurn):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrBusy):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownConversation):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		jsonError(w, http.StatusGatewayTimeout, "turn timed out")
	case errors.Is(err, context.Canceled):
		jsonError(w, http.StatusServiceUnavailable, "turn cancelled")
	default:
		jsonError(w, http.StatusBadGateway, err.Error())
	}
}
