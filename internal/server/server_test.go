package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/citadel/internal/config"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	s := New(cfg, nil, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

func createSession(t *testing.T, ts *httptest.Server, clientName string) string {
	t.Helper()
	var result struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"client_name": clientName}, &result)
	if resp.StatusCode != http.StatusOK || result.Status != "created" {
		t.Fatalf("create session: status %d, body %+v", resp.StatusCode, result)
	}
	return result.SessionID
}

func TestHeartbeatEndpoint(t *testing.T) {
	_, ts := testServer(t)
	var result map[string]string
	resp := doJSON(t, http.MethodGet, ts.URL+"/heartbeat", nil, &result)
	if resp.StatusCode != http.StatusOK || result["status"] != "ok" {
		t.Fatalf("heartbeat: status %d, body %v", resp.StatusCode, result)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	_, ts := testServer(t)
	sid := createSession(t, ts, "test-client")

	var info struct {
		SessionID  string `json:"session_id"`
		ClientName string `json:"client_name"`
		State      string `json:"state"`
	}
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sid, nil, &info)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: status %d", resp.StatusCode)
	}
	if info.SessionID != sid || info.ClientName != "test-client" || info.State != "connected" {
		t.Fatalf("session info = %+v", info)
	}

	var hb map[string]string
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/heartbeat", nil, &hb)
	if resp.StatusCode != http.StatusOK || hb["status"] != "ok" {
		t.Fatalf("session heartbeat: status %d, body %v", resp.StatusCode, hb)
	}

	var del map[string]string
	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+sid, nil, &del)
	if resp.StatusCode != http.StatusOK || del["status"] != "disconnected" {
		t.Fatalf("delete session: status %d, body %v", resp.StatusCode, del)
	}

	// Disconnected sessions stay retrievable.
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sid, nil, &info)
	if resp.StatusCode != http.StatusOK || info.State != "disconnected" {
		t.Fatalf("retained session: status %d, state %q", resp.StatusCode, info.State)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	_, ts := testServer(t)
	var result map[string]string
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/nope", nil, &result)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if result["error"] != "Session not found" {
		t.Fatalf("error = %q", result["error"])
	}
}

func TestSessionIsolation(t *testing.T) {
	_, ts := testServer(t)
	rootA := t.TempDir()
	rootB := t.TempDir()
	sidA := createSession(t, ts, "a")
	sidB := createSession(t, ts, "b")

	for sid, root := range map[string]string{sidA: rootA, sidB: rootB} {
		var result map[string]string
		resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+sid+"/project",
			map[string]string{"project_path_or_name": root}, &result)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("activate project: status %d, body %v", resp.StatusCode, result)
		}
	}

	var infoA, infoB struct {
		ActiveProjectRoot string `json:"active_project_root"`
		State             string `json:"state"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sidA, nil, &infoA)
	doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sidB, nil, &infoB)
	if infoA.ActiveProjectRoot != rootA || infoB.ActiveProjectRoot != rootB {
		t.Fatalf("project roots crossed: A=%q B=%q", infoA.ActiveProjectRoot, infoB.ActiveProjectRoot)
	}
	if infoA.State != "active" {
		t.Fatalf("state after activation = %q", infoA.State)
	}
}

func TestToolDispatchAndErrorMapping(t *testing.T) {
	s, ts := testServer(t)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}
	sid := createSession(t, ts, "tools")
	doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+sid+"/project",
		map[string]string{"project_path_or_name": root}, nil)

	var result struct {
		Result  string `json:"result"`
		IsError bool   `json:"is_error"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/tools/read_file",
		map[string]interface{}{"arguments": map[string]interface{}{"path": "hello.txt"}}, &result)
	if resp.StatusCode != http.StatusOK || result.IsError || result.Result != "hello world" {
		t.Fatalf("read_file: status %d, result %+v", resp.StatusCode, result)
	}

	// Unknown tool: still HTTP 200, flagged via is_error.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/tools/no_such_tool",
		map[string]interface{}{"arguments": map[string]interface{}{}}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !result.IsError || !strings.HasPrefix(result.Result, "Error:") {
		t.Fatalf("unknown tool result = %+v", result)
	}

	// Tool-level failure: read of a missing file.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/tools/read_file",
		map[string]interface{}{"arguments": map[string]interface{}{"path": "missing.txt"}}, &result)
	if resp.StatusCode != http.StatusOK || !result.IsError {
		t.Fatalf("missing file result = %+v", result)
	}

	var sawFailure bool
	for _, ev := range s.Events(0) {
		if ev.Type == EventToolExecuted && ev.Details["success"] == false {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("no failed tool_executed event recorded")
	}
}

func TestUnknownToolStillCounted(t *testing.T) {
	s, ts := testServer(t)
	sid := createSession(t, ts, "")

	var result struct {
		Result  string `json:"result"`
		IsError bool   `json:"is_error"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/tools/no_such_tool",
		map[string]interface{}{"arguments": map[string]interface{}{}}, &result)
	if !result.IsError {
		t.Fatalf("result = %+v", result)
	}

	stats := s.Stats()
	if stats.TotalToolCalls != 1 {
		t.Fatalf("total tool calls = %d, want 1", stats.TotalToolCalls)
	}
	var info struct {
		ToolCallCount   int            `json:"tool_call_count"`
		ToolCallsByTool map[string]int `json:"tool_calls_by_tool"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sid, nil, &info)
	if info.ToolCallCount != 1 || info.ToolCallsByTool["no_such_tool"] != 1 {
		t.Fatalf("session counters = %+v", info)
	}

	var sawEvent bool
	for _, ev := range s.Events(0) {
		if ev.Type == EventToolExecuted && ev.Details["tool"] == "no_such_tool" && ev.Details["success"] == false {
			sawEvent = true
		}
	}
	if !sawEvent {
		t.Fatal("no failed tool_executed event for unknown tool")
	}
}

func TestDisconnectedSessionRejectsTools(t *testing.T) {
	_, ts := testServer(t)
	sid := createSession(t, ts, "")
	doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+sid, nil, nil)

	var result struct {
		Result  string `json:"result"`
		IsError bool   `json:"is_error"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/tools/list_dir",
		map[string]interface{}{}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	want := fmt.Sprintf("Error: Session %s is disconnected", sid)
	if !result.IsError || result.Result != want {
		t.Fatalf("result = %+v, want %q", result, want)
	}
}

func TestModesRoundTrip(t *testing.T) {
	_, ts := testServer(t)
	sid := createSession(t, ts, "")
	var result struct {
		Status string   `json:"status"`
		Modes  []string `json:"modes"`
	}
	resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+sid+"/modes",
		map[string][]string{"modes": {"planning", "editing"}}, &result)
	if resp.StatusCode != http.StatusOK || len(result.Modes) != 2 {
		t.Fatalf("set modes: status %d, body %+v", resp.StatusCode, result)
	}

	var info struct {
		ActiveModes []string `json:"active_modes"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sid, nil, &info)
	if len(info.ActiveModes) != 2 || info.ActiveModes[0] != "planning" {
		t.Fatalf("active modes = %v", info.ActiveModes)
	}
}

func TestToolCatalogAndPrompt(t *testing.T) {
	_, ts := testServer(t)
	var catalog struct {
		Tools []struct {
			Name    string `json:"name"`
			CanEdit bool   `json:"can_edit"`
		} `json:"tools"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/tools", nil, &catalog)
	if len(catalog.Tools) == 0 {
		t.Fatal("empty tool catalog")
	}
	for _, tool := range catalog.Tools {
		if tool.CanEdit {
			t.Fatalf("built-in tool %s claims edit capability", tool.Name)
		}
	}

	sid := createSession(t, ts, "")
	var prompt struct {
		Prompt string `json:"prompt"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sid+"/prompt", nil, &prompt)
	if prompt.Prompt == "" {
		t.Fatal("empty system prompt")
	}
}

func TestStatsCounters(t *testing.T) {
	_, ts := testServer(t)
	sid := createSession(t, ts, "")
	doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/tools/list_dir",
		map[string]interface{}{}, nil)

	var stats Stats
	doJSON(t, http.MethodGet, ts.URL+"/api/stats", nil, &stats)
	if stats.TotalSessionsCreated != 1 || stats.TotalToolCalls != 1 || stats.ActiveSessionCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLifecycleEventsEndpoint(t *testing.T) {
	_, ts := testServer(t)
	createSession(t, ts, "")
	var result struct {
		Events []LifecycleEvent `json:"events"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/lifecycle-events?limit=1", nil, &result)
	if len(result.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(result.Events))
	}
	if result.Events[0].Type != EventSessionCreated {
		t.Fatalf("newest event = %q", result.Events[0].Type)
	}
}

func TestShutdownEndpointStopsServer(t *testing.T) {
	s, ts := testServer(t)
	var result map[string]string
	resp := doJSON(t, http.MethodPut, ts.URL+"/api/shutdown", nil, &result)
	if resp.StatusCode != http.StatusOK || result["status"] != "shutting down" {
		t.Fatalf("shutdown: status %d, body %v", resp.StatusCode, result)
	}
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after shutdown request")
	}
}
