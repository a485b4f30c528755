package fleet

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// proxyPaths maps dashboard subpaths to per-instance API paths.
var proxyPaths = map[string]string{
	"tool-names":       "/api/tool-names",
	"stats":            "/api/stats",
	"sessions":         "/api/sessions",
	"lifecycle-events": "/api/lifecycle-events",
	"config":           "/api/config",
	"shutdown":         "/api/shutdown",
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ServeHTTP routes the /global-dashboard/api surface.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/global-dashboard/api/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "instances" && r.Method == http.MethodGet:
		instances, err := d.reg.ListInstances()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"instances": instances})
	case len(parts) == 1 && parts[0] == "lifecycle-events" && r.Method == http.MethodGet:
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		events, err := d.reg.LifecycleEvents(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	case len(parts) >= 2 && parts[0] == "instance":
		pid, err := strconv.Atoi(parts[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pid")
			return
		}
		d.serveInstance(w, r, pid, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (d *Dashboard) serveInstance(w http.ResponseWriter, r *http.Request, pid int, rest []string) {
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if rest[0] == "force-kill" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		killed, err := d.ForceKill(pid)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "killed": killed})
		return
	}

	target, ok := proxyPaths[rest[0]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown instance endpoint")
		return
	}
	inst, found, err := d.reg.GetInstance(pid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown instance %d", pid))
		return
	}
	d.forward(w, r, pid, inst.Port, target)
}

// forward proxies one request to an instance's loopback API. A reachable
// instance refreshes its heartbeat; an unreachable one is marked a zombie
// and the caller receives a structured error instead of a failed request.
func (d *Dashboard) forward(w http.ResponseWriter, r *http.Request, pid, port int, path string) {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	resp, err := d.proxy.Do(req)
	if err != nil {
		d.logger.Printf("proxy to instance %d failed: %v", pid, err)
		if markErr := d.reg.MarkZombie(pid); markErr != nil {
			d.logger.Printf("marking zombie %d: %v", pid, markErr)
		}
		writeJSON(w, http.StatusOK, map[string]string{"error": fmt.Sprintf("instance unreachable: %v", err)})
		return
	}
	defer resp.Body.Close()

	if err := d.reg.UpdateHeartbeat(pid); err != nil {
		d.logger.Printf("heartbeat update %d: %v", pid, err)
	}
	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
