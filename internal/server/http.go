package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ServeHTTP routes the per-server API. The surface lives under /api, plus
// a bare GET /heartbeat that the fleet health checker probes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/heartbeat" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "server": "citadel"})
	case len(parts) == 1 && parts[0] == "stats" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.Stats())
	case len(parts) == 1 && parts[0] == "lifecycle-events" && r.Method == http.MethodGet:
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": s.Events(limit)})
	case len(parts) == 1 && parts[0] == "tools" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.ToolDescriptors()})
	case len(parts) == 1 && parts[0] == "tool-names" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"tool_names": s.template.ActiveToolNames()})
	case len(parts) == 1 && parts[0] == "projects" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"projects": s.catalog.List()})
	case len(parts) == 1 && parts[0] == "modes" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"modes": s.cfg.ModeNames()})
	case len(parts) == 1 && parts[0] == "contexts" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"contexts": s.cfg.ContextNames()})
	case len(parts) == 1 && parts[0] == "config" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"context":  s.cfg.Server.Context,
			"modes":    s.cfg.ModeNames(),
			"contexts": s.cfg.ContextNames(),
			"port":     s.port,
		})
	case len(parts) == 1 && parts[0] == "shutdown" && r.Method == http.MethodPut:
		writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
		go func() {
			time.Sleep(500 * time.Millisecond)
			s.Stop()
		}()
	case parts[0] == "sessions":
		s.serveSessions(w, r, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) serveSessions(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.manager.Infos()})
		case http.MethodPost:
			var body struct {
				ClientName string `json:"client_name"`
				SessionID  string `json:"session_id"`
			}
			if r.Body != nil {
				json.NewDecoder(r.Body).Decode(&body)
			}
			sess, err := s.CreateSession(body.SessionID, body.ClientName)
			if err != nil {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID(), "status": "created"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	sid := rest[0]
	sess, ok := s.manager.Get(sid)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			// Reads must not advance last_activity or the derived idle
			// state could never be observed.
			writeJSON(w, http.StatusOK, sess.Snapshot())
		case http.MethodDelete:
			if err := s.DisconnectSession(sid); err != nil {
				writeError(w, http.StatusNotFound, "Session not found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch {
	case len(rest) == 2 && rest[1] == "heartbeat" && r.Method == http.MethodPost:
		sess.Touch()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case len(rest) == 2 && rest[1] == "prompt" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"prompt": s.SystemPrompt(sid)})
	case len(rest) == 2 && rest[1] == "modes" && r.Method == http.MethodPut:
		var body struct {
			Modes []string `json:"modes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.SetModes(sid, body.Modes); err != nil {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "modes": body.Modes})
	case len(rest) == 2 && rest[1] == "project" && r.Method == http.MethodPut:
		var body struct {
			ProjectPathOrName string `json:"project_path_or_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProjectPathOrName == "" {
			writeError(w, http.StatusBadRequest, "project_path_or_name is required")
			return
		}
		p, err := s.ActivateProject(sid, body.ProjectPathOrName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":       "ok",
			"project_name": p.Name,
			"project_root": p.Root,
		})
	case len(rest) == 3 && rest[1] == "tools" && r.Method == http.MethodPost:
		var body struct {
			Arguments map[string]interface{} `json:"arguments"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}
		result := s.ExecuteTool(r.Context(), sid, rest[2], body.Arguments)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"result":   result,
			"is_error": strings.HasPrefix(result, "Error:"),
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}
