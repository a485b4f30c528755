package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/citadel/internal/protocol"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeServer mimics the central server API surface the bridge touches.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"session_id": "fresh-id", "status": "created"})
	})
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/tools/"):
			json.NewEncoder(w).Encode(map[string]interface{}{"result": "tool output", "is_error": false})
		case strings.HasSuffix(r.URL.Path, "/heartbeat"):
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case strings.HasSuffix(r.URL.Path, "/prompt"):
			json.NewEncoder(w).Encode(map[string]string{"prompt": "the prompt"})
		case strings.Contains(r.URL.Path, "stale-id"):
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "Session not found"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"session_id": "fresh-id", "status": "disconnected"})
		}
	})
	mux.HandleFunc("/api/tools", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tools": []map[string]interface{}{
				{"name": "read_file", "description": "Read a file", "parameters": map[string]interface{}{"type": "object"}, "can_edit": false},
			},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// runBridge feeds input lines through a bridge against ts and returns the
// decoded output responses.
func runBridge(t *testing.T, ts *httptest.Server, sessionID string, input string) (*Bridge, []protocol.Response) {
	t.Helper()
	var out bytes.Buffer
	b := New(NewClient(ts.URL), strings.NewReader(input), &out, sessionID, "test-client", testLogger())
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("bridge run: %v", err)
	}
	var responses []protocol.Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("unparseable response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return b, responses
}

func TestInitializeHandshake(t *testing.T) {
	ts := fakeServer(t)
	_, responses := runBridge(t, ts, "",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`+"\n")
	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	result, ok := responses[0].Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type %T", responses[0].Result)
	}
	if result["protocolVersion"] != protocol.MCPProtocolVersion {
		t.Fatalf("protocolVersion = %v", result["protocolVersion"])
	}
}

func TestNotificationEmitsNothing(t *testing.T) {
	ts := fakeServer(t)
	_, responses := runBridge(t, ts, "",
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	if len(responses) != 0 {
		t.Fatalf("notification produced %d responses", len(responses))
	}
}

func TestUnknownMethodError(t *testing.T) {
	ts := fakeServer(t)
	_, responses := runBridge(t, ts, "",
		`{"jsonrpc":"2.0","id":7,"method":"bogus/method"}`+"\n")
	if len(responses) != 1 || responses[0].Error == nil {
		t.Fatalf("responses = %+v", responses)
	}
	if responses[0].Error.Code != protocol.CodeMethodNotFound {
		t.Fatalf("error code = %d", responses[0].Error.Code)
	}
}

func TestToolsListAndCall(t *testing.T) {
	ts := fakeServer(t)
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"read_file","arguments":{"path":"x"}}}` + "\n"
	_, responses := runBridge(t, ts, "", input)
	if len(responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(responses))
	}

	listResult := responses[0].Result.(map[string]interface{})
	tools := listResult["tools"].([]interface{})
	if len(tools) != 1 {
		t.Fatalf("tools = %v", tools)
	}
	tool := tools[0].(map[string]interface{})
	if tool["name"] != "read_file" || tool["inputSchema"] == nil {
		t.Fatalf("tool = %v", tool)
	}

	callResult := responses[1].Result.(map[string]interface{})
	if callResult["isError"] != false {
		t.Fatalf("isError = %v", callResult["isError"])
	}
	content := callResult["content"].([]interface{})
	block := content[0].(map[string]interface{})
	if block["text"] != "tool output" {
		t.Fatalf("content = %v", content)
	}
}

func TestStaleSessionReconnect(t *testing.T) {
	ts := fakeServer(t)
	b, _ := runBridge(t, ts, "stale-id", "")
	if b.SessionID() != "fresh-id" {
		t.Fatalf("session id = %q, want fresh-id", b.SessionID())
	}
}

func TestResumeExistingSession(t *testing.T) {
	ts := fakeServer(t)
	b, _ := runBridge(t, ts, "fresh-id", "")
	if b.SessionID() != "fresh-id" {
		t.Fatalf("session id = %q, want fresh-id", b.SessionID())
	}
}

func TestCancelInterruptsBlockedRead(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sid"})
	})
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			disconnected <- struct{}{}
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	// A pipe that goes quiet after one request keeps the reader parked,
	// like an idle stdin.
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	outPr, outPw := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	b := New(NewClient(ts.URL), pr, outPw, "", "test-client", testLogger())

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	// One round trip proves the read loop is up before the cancel.
	if _, err := io.WriteString(pw, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`+"\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := bufio.NewReader(outPr).ReadString('\n'); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case err := <-runErr:
		if err != context.Canceled {
			t.Fatalf("run err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop on cancel while blocked on stdin")
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("no session disconnect issued on cancel")
	}
}

func TestTransportFailureBecomesProxyError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sid"})
	})
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/tools/") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	_, responses := runBridge(t, ts, "",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"read_file","arguments":{}}}`+"\n")
	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	// Transport trouble is a tool-level error, never a JSON-RPC error.
	if responses[0].Error != nil {
		t.Fatalf("got protocol error %+v", responses[0].Error)
	}
	result := responses[0].Result.(map[string]interface{})
	if result["isError"] != true {
		t.Fatalf("isError = %v", result["isError"])
	}
	content := result["content"].([]interface{})
	text := content[0].(map[string]interface{})["text"].(string)
	if !strings.HasPrefix(text, "Proxy error:") {
		t.Fatalf("text = %q", text)
	}
}
