package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/citadel/internal/protocol"
)

// HeartbeatInterval is how often the bridge refreshes its session.
const HeartbeatInterval = 30 * time.Second

// disconnectTimeout caps the best-effort session delete on shutdown.
const disconnectTimeout = 5 * time.Second

// Bridge translates line-delimited JSON-RPC 2.0 on its streams into HTTP
// calls against one central server session.
type Bridge struct {
	client     *Client
	in         io.Reader
	out        io.Writer
	logger     *log.Logger
	clientName string

	sessionID string

	outMu sync.Mutex

	toolsMu   sync.Mutex
	toolCache []protocol.MCPTool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a bridge over the given streams. sessionID may name an
// existing session to resume; the bridge falls back to a fresh one when
// the server no longer knows it.
func New(client *Client, in io.Reader, out io.Writer, sessionID, clientName string, logger *log.Logger) *Bridge {
	return &Bridge{
		client:     client,
		in:         in,
		out:        out,
		logger:     logger,
		clientName: clientName,
		sessionID:  sessionID,
		stopCh:     make(chan struct{}),
	}
}

// SessionID returns the session the bridge is bound to.
func (b *Bridge) SessionID() string { return b.sessionID }

// acquireSession validates the supplied session id or creates a new one.
func (b *Bridge) acquireSession(ctx context.Context) error {
	if b.sessionID != "" {
		if err := b.client.GetSession(ctx, b.sessionID); err == nil {
			b.logger.Printf("resumed session %s", b.sessionID)
			return nil
		}
		b.logger.Printf("session %s is gone, creating a new one", b.sessionID)
	}
	sid, err := b.client.CreateSession(ctx, b.clientName)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	b.sessionID = sid
	b.logger.Printf("created session %s", sid)
	return nil
}

// Run drives the bridge until stdin closes or ctx is canceled. The
// session is disconnected best-effort on the way out.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.acquireSession(ctx); err != nil {
		return err
	}

	b.wg.Add(1)
	go b.heartbeatLoop()

	// Reads happen on their own goroutine so a cancel can interrupt a
	// bridge that is parked on a quiet stdin. The reader goroutine may
	// stay blocked in Scan after a cancel; the process is exiting at
	// that point and the best-effort disconnect has already run.
	lines := make(chan string)
	readDone := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(b.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readDone <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return ctx.Err()
		case err := <-readDone:
			if err != nil {
				b.logger.Printf("stdin read error: %v", err)
			}
			b.shutdown()
			return err
		case line := <-lines:
			b.handleLine(ctx, line)
		}
	}
}

func (b *Bridge) shutdown() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := b.client.DeleteSession(ctx, b.sessionID); err != nil {
			b.logger.Printf("disconnect failed: %v", err)
		}
	})
	b.wg.Wait()
}

func (b *Bridge) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			if err := b.client.Heartbeat(ctx, b.sessionID); err != nil {
				b.logger.Printf("heartbeat failed: %v", err)
			}
			cancel()
		}
	}
}

// handleLine parses one request line and writes at most one response.
// Malformed lines and notifications produce no output.
func (b *Bridge) handleLine(ctx context.Context, line string) {
	var req protocol.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		b.logger.Printf("dropping unparseable line: %v", err)
		return
	}
	if req.IsNotification() {
		return
	}
	b.writeResponse(b.dispatch(ctx, &req))
}

func (b *Bridge) dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case "initialize":
		return protocol.NewResult(req.ID, map[string]interface{}{
			"protocolVersion": protocol.MCPProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{"listChanged": false},
			},
			"serverInfo": map[string]interface{}{
				"name":    "citadel",
				"version": "1.0",
			},
		})
	case "tools/list":
		tools, err := b.listTools(ctx)
		if err != nil {
			return protocol.NewError(req.ID, protocol.CodeInternalError, err.Error())
		}
		return protocol.NewResult(req.ID, map[string]interface{}{"tools": tools})
	case "tools/call":
		return b.callTool(ctx, req)
	case "prompts/get":
		prompt, err := b.client.Prompt(ctx, b.sessionID)
		if err != nil {
			return protocol.NewError(req.ID, protocol.CodeInternalError, err.Error())
		}
		return protocol.NewResult(req.ID, map[string]interface{}{
			"description": "System prompt",
			"messages": []map[string]interface{}{
				{
					"role":    "user",
					"content": map[string]string{"type": "text", "text": prompt},
				},
			},
		})
	case "prompts/list":
		return protocol.NewResult(req.ID, map[string]interface{}{"prompts": []interface{}{}})
	case "resources/list":
		return protocol.NewResult(req.ID, map[string]interface{}{"resources": []interface{}{}})
	default:
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method))
	}
}

// listTools fetches the catalog once and serves it from cache afterward.
func (b *Bridge) listTools(ctx context.Context) ([]protocol.MCPTool, error) {
	b.toolsMu.Lock()
	defer b.toolsMu.Unlock()
	if b.toolCache != nil {
		return b.toolCache, nil
	}
	descriptors, err := b.client.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching tools: %w", err)
	}
	tools := make([]protocol.MCPTool, 0, len(descriptors))
	for _, d := range descriptors {
		schema := d.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		tools = append(tools, protocol.MCPTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	b.toolCache = tools
	return tools, nil
}

// callTool forwards a tools/call. Transport failures come back as a
// successful JSON-RPC result flagged isError, never as a protocol error:
// clients render tool errors inline, and a connection problem must not
// look like a protocol violation.
func (b *Bridge) callTool(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params protocol.CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "invalid tools/call params")
	}
	result, isError, err := b.client.CallTool(ctx, b.sessionID, params.Name, params.Arguments)
	if err != nil {
		return protocol.NewResult(req.ID, protocol.TextResult(fmt.Sprintf("Proxy error: %v", err), true))
	}
	return protocol.NewResult(req.ID, protocol.TextResult(result, isError))
}

func (b *Bridge) writeResponse(resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Printf("encoding response: %v", err)
		return
	}
	b.outMu.Lock()
	defer b.outMu.Unlock()
	b.out.Write(data)
	b.out.Write([]byte("\n"))
}
