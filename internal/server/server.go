// Package server implements the centralized multi-session gateway server.
//
// The server owns one session manager, builds a fresh execution context
// per session, routes tool calls, records lifecycle events, and exposes
// the per-server HTTP API. It also keeps itself registered in the
// cross-process instance registry so the fleet dashboard can find it.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/citadel/internal/agent"
	"github.com/steveyegge/citadel/internal/config"
	"github.com/steveyegge/citadel/internal/project"
	"github.com/steveyegge/citadel/internal/registry"
	"github.com/steveyegge/citadel/internal/session"
	"github.com/steveyegge/citadel/internal/tools"
)

// HeartbeatInterval is how often the server refreshes its registry
// heartbeat.
const HeartbeatInterval = 30 * time.Second

// Stats is the server-level counters snapshot.
type Stats struct {
	StartedAt            time.Time `json:"started_at"`
	UptimeSeconds        float64   `json:"uptime_seconds"`
	TotalSessionsCreated int       `json:"total_sessions_created"`
	TotalToolCalls       int       `json:"total_tool_calls"`
	ActiveSessionCount   int       `json:"active_session_count"`
}

// Server is the central gateway process.
type Server struct {
	cfg     *config.Config
	logger  *log.Logger
	manager *session.Manager
	catalog *project.Catalog
	reg     *registry.Registry

	ctxMu    sync.Mutex
	contexts map[string]*agent.Agent
	template *agent.Agent

	statsMu       sync.Mutex
	startedAt     time.Time
	totalSessions int
	totalCalls    int

	events eventRing

	port     int
	httpSrv  *http.Server
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a server from cfg. The registry handle may be nil in tests;
// registry updates are then skipped.
func New(cfg *config.Config, reg *registry.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	catalog := project.NewCatalog()
	for _, p := range cfg.Projects {
		catalog.Register(p.Name, p.Root)
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		manager:   session.NewManager(logger),
		catalog:   catalog,
		reg:       reg,
		contexts:  make(map[string]*agent.Agent),
		template:  agent.New(catalog, cfg.ModeNames(), logger),
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
	s.events.record(EventServerStarted, "", map[string]interface{}{"context": cfg.Server.Context})
	return s
}

// Port returns the bound listen port. Zero until Start has run.
func (s *Server) Port() int { return s.port }

// Manager exposes the session manager.
func (s *Server) Manager() *session.Manager { return s.manager }

// CreateSession creates a session plus its execution context. An empty id
// requests a generated one.
func (s *Server) CreateSession(id, clientName string) (*session.Session, error) {
	sess, err := s.manager.Create(id, clientName)
	if err != nil {
		return nil, err
	}
	a := agent.New(s.catalog, s.cfg.ModeNames(), s.logger)
	s.ctxMu.Lock()
	s.contexts[sess.ID()] = a
	s.ctxMu.Unlock()

	s.statsMu.Lock()
	s.totalSessions++
	s.statsMu.Unlock()

	s.events.record(EventSessionCreated, sess.ID(), map[string]interface{}{"client_name": clientName})
	s.logger.Printf("session %s created (client %q)", sess.ID(), clientName)
	return sess, nil
}

// DisconnectSession marks the session disconnected and shuts down its
// execution context. The session object stays retrievable until the
// retention window expires.
func (s *Server) DisconnectSession(id string) error {
	if err := s.manager.Disconnect(id); err != nil {
		return err
	}
	s.ctxMu.Lock()
	a := s.contexts[id]
	delete(s.contexts, id)
	s.ctxMu.Unlock()
	if a != nil {
		a.Shutdown(2 * time.Second)
	}
	s.events.record(EventSessionDisconnected, id, nil)
	s.logger.Printf("session %s disconnected", id)
	return nil
}

// contextFor resolves the session's execution context, falling back to
// the template with a logged warning when the per-session one is missing.
func (s *Server) contextFor(id string) *agent.Agent {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	if a, ok := s.contexts[id]; ok {
		return a
	}
	s.logger.Printf("warning: session %s has no execution context, using template", id)
	return s.template
}

// ExecuteTool dispatches one tool call for a session. The result is
// always a string; failures of any kind come back with an "Error:"
// prefix so the HTTP layer can report them uniformly.
func (s *Server) ExecuteTool(ctx context.Context, sessionID, toolName string, args map[string]interface{}) string {
	sess, ok := s.manager.Get(sessionID)
	if !ok {
		return fmt.Sprintf("Error: Unknown session %s", sessionID)
	}
	if sess.Disconnected() {
		return fmt.Sprintf("Error: Session %s is disconnected", sessionID)
	}
	// Counters cover every dispatch attempt, including ones that fail
	// tool resolution.
	sess.IncrementToolCalls(toolName)
	s.statsMu.Lock()
	s.totalCalls++
	s.statsMu.Unlock()

	a := s.contextFor(sessionID)
	var result string
	if tool, ok := a.ToolByName(toolName); ok {
		result = tools.SafeApply(ctx, tool, args, s.logger)
	} else {
		result = fmt.Sprintf("Error: Unknown tool %s", toolName)
	}
	success := !strings.HasPrefix(result, "Error:")
	s.events.record(EventToolExecuted, sessionID, map[string]interface{}{
		"tool":    toolName,
		"success": success,
	})
	return result
}

// ActivateProject activates a workspace for the session and mirrors the
// change into the instance registry.
func (s *Server) ActivateProject(sessionID, pathOrName string) (project.Project, error) {
	sess, ok := s.manager.Get(sessionID)
	if !ok {
		return project.Project{}, session.ErrNotFound
	}
	a := s.contextFor(sessionID)
	p, err := a.ActivateProject(pathOrName)
	if err != nil {
		return project.Project{}, err
	}
	sess.SetProject(p.Name, p.Root)
	s.events.record(EventProjectActivated, sessionID, map[string]interface{}{
		"project_name": p.Name,
		"project_root": p.Root,
	})
	if s.reg != nil {
		if err := s.reg.UpdateProject(os.Getpid(), p.Name, p.Root); err != nil {
			s.logger.Printf("registry project update failed: %v", err)
		}
	}
	return p, nil
}

// SetModes replaces the session's active modes.
func (s *Server) SetModes(sessionID string, modes []string) error {
	sess, ok := s.manager.Get(sessionID)
	if !ok {
		return session.ErrNotFound
	}
	s.contextFor(sessionID).SetModes(modes)
	sess.SetModes(modes)
	s.events.record(EventModesChanged, sessionID, map[string]interface{}{"modes": modes})
	return nil
}

// SystemPrompt renders the prompt for the session, or from the template
// when the session has no context of its own.
func (s *Server) SystemPrompt(sessionID string) string {
	return s.contextFor(sessionID).SystemPrompt()
}

// ToolDescriptors returns the catalog exposed over the API, read from the
// template context.
func (s *Server) ToolDescriptors() []tools.Descriptor {
	return s.template.Tools().Descriptors()
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		StartedAt:            s.startedAt,
		UptimeSeconds:        time.Since(s.startedAt).Seconds(),
		TotalSessionsCreated: s.totalSessions,
		TotalToolCalls:       s.totalCalls,
		ActiveSessionCount:   s.manager.ActiveCount(),
	}
}

// Events returns up to limit of the newest server-local events.
func (s *Server) Events(limit int) []LifecycleEvent {
	return s.events.newest(limit)
}

// Start binds the listener, registers the instance, and launches the
// HTTP serve loop plus the registry heartbeat loop. It returns once the
// listener is accepting.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.httpSrv = &http.Server{Handler: s}

	if s.reg != nil {
		if _, err := s.reg.Register(os.Getpid(), s.port, s.cfg.Server.Context, s.cfg.ModeNames()); err != nil {
			ln.Close()
			return fmt.Errorf("registering instance: %w", err)
		}
	}
	s.manager.StartCleanup()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("http server stopped: %v", err)
		}
	}()

	if s.reg != nil {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}

	s.logger.Printf("listening on http://%s (pid %d)", ln.Addr(), os.Getpid())
	return nil
}

func (s *Server) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.reg.UpdateHeartbeat(os.Getpid()); err != nil {
				s.logger.Printf("registry heartbeat failed: %v", err)
			}
		}
	}
}

// Wait blocks until Stop is called (directly or via PUT /api/shutdown).
func (s *Server) Wait() {
	<-s.stopCh
}

// Stop signals shutdown. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Shutdown tears the server down: contexts first, then the session
// manager, then the template context, then the HTTP listener and
// registry entry. The timeout is split between the per-session contexts
// and the template. All errors are logged and swallowed.
func (s *Server) Shutdown(timeout time.Duration) {
	s.Stop()
	s.events.record(EventServerShutdown, "", nil)

	half := timeout / 2
	s.ctxMu.Lock()
	agents := make([]*agent.Agent, 0, len(s.contexts))
	for _, a := range s.contexts {
		agents = append(agents, a)
	}
	s.contexts = make(map[string]*agent.Agent)
	s.ctxMu.Unlock()

	perAgent := half
	if len(agents) > 0 {
		perAgent = half / time.Duration(len(agents))
	}
	for _, a := range agents {
		a.Shutdown(perAgent)
	}

	s.manager.Shutdown()
	s.template.Shutdown(timeout - half)

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Printf("http shutdown: %v", err)
		}
	}
	if s.reg != nil {
		if err := s.reg.Unregister(os.Getpid()); err != nil {
			s.logger.Printf("registry unregister failed: %v", err)
		}
	}
	s.wg.Wait()
	s.logger.Printf("server shut down")
}
