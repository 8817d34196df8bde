package api

import (
	"net/http"

	"github.com/user/aichat/internal/roles"
	"github.com/user/aichat/internal/tools"
)

type roleResponse struct {
	Kind       roles.Kind `json:"kind"`
	Label      string     `json:"label"`
	Tools      bool       `json:"tools"`
	ToolChoice string     `json:"tool_choice,omitempty"`
	Author     bool       `json:"author"`
}

func (h *handler) listRoles(w http.ResponseWriter, r *http.Request) {
	profiles := h.orchestrator.Catalog().List()
	out := make([]roleResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, roleResponse{
			Kind:       p.Kind,
			Label:      p.Label,
			Tools:      p.Tools,
			ToolChoice: p.ToolChoice,
			Author:     p.Kind.IsAuthor(),
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

type toolsResponse struct {
	Ready bool               `json:"ready"`
	Error string             `json:"error,omitempty"`
	Tools []tools.Descriptor `json:"tools"`
}

func (h *handler) listTools(w http.ResponseWriter, r *http.Request) {
	resp := toolsResponse{Ready: true, Tools: h.tools.Describe()}
	if resp.Tools == nil {
		resp.Tools = []tools.Descriptor{}
	}
	if err := h.tools.Ready(); err != nil {
		resp.Ready = false
		resp.Error = err.Error()
	}
	jsonResponse(w, http.StatusOK, resp)
}
