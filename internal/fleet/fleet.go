// Package fleet implements the host-wide dashboard over all gateway
// instances.
//
// The dashboard owns no authoritative state. It reads the instance
// registry, proxies diagnostics to per-instance HTTP, and drives the
// zombie lifecycle: probe, mark, prune, force-kill.
package fleet

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/citadel/internal/registry"
)

// Background worker cadences.
const (
	healthInterval = 5 * time.Second
	probeTimeout   = 2 * time.Second
	pruneInterval  = 60 * time.Second
	proxyTimeout   = 5 * time.Second
)

// portScanLimit bounds the upward search for a free dashboard port.
const portScanLimit = 100

// Dashboard is the fleet aggregator process.
type Dashboard struct {
	reg    *registry.Registry
	logger *log.Logger

	port    int
	httpSrv *http.Server

	probe *http.Client
	proxy *http.Client

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a dashboard over the given registry.
func New(reg *registry.Registry, logger *log.Logger) *Dashboard {
	if logger == nil {
		logger = log.New(os.Stderr, "[fleet] ", log.LstdFlags)
	}
	return &Dashboard{
		reg:    reg,
		logger: logger,
		probe:  &http.Client{Timeout: probeTimeout},
		proxy:  &http.Client{Timeout: proxyTimeout},
		stopCh: make(chan struct{}),
	}
}

// Port returns the bound port. Zero until Start has run.
func (d *Dashboard) Port() int { return d.port }

// probeDashboard reports whether a fleet dashboard answers on port.
func (d *Dashboard) probeDashboard(port int) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/global-dashboard/api/instances", port)
	resp, err := d.probe.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Start binds a port, records the dashboard in the registry, and launches
// the serve loop plus health and prune workers. When another dashboard is
// already recorded and answering, no second one starts: the existing port
// comes back with existing=true.
func (d *Dashboard) Start(preferredPort int) (port int, existing bool, err error) {
	if _, recorded, ok, regErr := d.reg.GetGlobalDashboard(); regErr == nil && ok {
		if d.probeDashboard(recorded) {
			return recorded, true, nil
		}
	}

	var ln net.Listener
	for p := preferredPort; p < preferredPort+portScanLimit; p++ {
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err == nil {
			d.port = p
			break
		}
		// Occupied but not answering the dashboard probe: keep scanning.
		if d.probeDashboard(p) {
			return p, true, nil
		}
	}
	if ln == nil {
		return 0, false, fmt.Errorf("no free port in [%d,%d)", preferredPort, preferredPort+portScanLimit)
	}

	if err := d.reg.SetGlobalDashboard(os.Getpid(), d.port); err != nil {
		ln.Close()
		return 0, false, fmt.Errorf("recording dashboard: %w", err)
	}

	d.httpSrv = &http.Server{Handler: d}
	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		if err := d.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Printf("http server stopped: %v", err)
		}
	}()
	go d.healthLoop()
	go d.pruneLoop()

	d.logger.Printf("fleet dashboard on http://127.0.0.1:%d (pid %d)", d.port, os.Getpid())
	return d.port, false, nil
}

// healthLoop probes every live instance and marks the unresponsive ones.
func (d *Dashboard) healthLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.checkInstances()
		}
	}
}

func (d *Dashboard) checkInstances() {
	instances, err := d.reg.ListInstances()
	if err != nil {
		d.logger.Printf("listing instances: %v", err)
		return
	}
	for _, inst := range instances {
		if inst.State == registry.StateZombie {
			continue
		}
		url := fmt.Sprintf("http://127.0.0.1:%d/heartbeat", inst.Port)
		resp, err := d.probe.Get(url)
		if err != nil {
			d.logger.Printf("instance %d unresponsive: %v", inst.PID, err)
			if err := d.reg.MarkZombie(inst.PID); err != nil {
				d.logger.Printf("marking zombie %d: %v", inst.PID, err)
			}
			continue
		}
		resp.Body.Close()
		if err := d.reg.UpdateHeartbeat(inst.PID); err != nil {
			d.logger.Printf("heartbeat update %d: %v", inst.PID, err)
		}
	}
}

// pruneLoop removes long-dead zombies.
func (d *Dashboard) pruneLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			pruned, err := d.reg.PruneZombies(registry.DefaultPruneTimeout)
			if err != nil {
				d.logger.Printf("pruning zombies: %v", err)
				continue
			}
			if len(pruned) > 0 {
				d.logger.Printf("pruned zombies: %v", pruned)
			}
		}
	}
}

// Wait blocks until Stop is called.
func (d *Dashboard) Wait() {
	<-d.stopCh
}

// Stop shuts the dashboard down and clears its registry record. The
// clear is pid-matched so a replaced dashboard cannot erase its
// successor's record.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		if d.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := d.httpSrv.Shutdown(ctx); err != nil {
				d.logger.Printf("http shutdown: %v", err)
			}
		}
		if err := d.reg.ClearGlobalDashboard(os.Getpid()); err != nil {
			d.logger.Printf("clearing dashboard record: %v", err)
		}
		d.wg.Wait()
	})
}

// ForceKill terminates a zombie instance. Live instances are refused.
func (d *Dashboard) ForceKill(pid int) (bool, error) {
	inst, found, err := d.reg.GetInstance(pid)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("unknown instance %d", pid)
	}
	if inst.State != registry.StateZombie {
		return false, fmt.Errorf("instance %d is not a zombie", pid)
	}
	success := terminateProcess(pid)
	if err := d.reg.RecordForceKill(pid, success); err != nil {
		d.logger.Printf("recording force-kill of %d: %v", pid, err)
	}
	d.logger.Printf("force-kill %d: success=%v", pid, success)
	return success, nil
}
