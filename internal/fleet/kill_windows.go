//go:build windows

package fleet

import (
	"os"
	"syscall"
	"time"
)

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func terminateProcess(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	if err := p.Kill(); err != nil {
		return !processAlive(pid)
	}
	time.Sleep(500 * time.Millisecond)
	return !processAlive(pid)
}
