package httpapi

import (
	"fmt"
	"net/http"
)

func (s *Server) mcpEnabled(w http.ResponseWriter) bool {
	if s.deps.MCP == nil {
		writeError(w, fmt.Errorf("%w: MCP is not configured", errNotFound))
		return false
	}
	return true
}

func (s *Server) handleMCPServers(w http.ResponseWriter, r *http.Request) {
	if !s.mcpEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.deps.MCP.Status()})
}

func (s *Server) handleMCPTools(w http.ResponseWriter, r *http.Request) {
	if !s.mcpEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.deps.MCP.ToolSchemas()})
}
