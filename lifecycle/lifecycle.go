// Package lifecycle holds the single process-wide active flag and the
// ordered list of deactivation routines run when the process is asked to
// shut down, either directly or via Ctrl-C/SIGTERM.
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/meshbus/meshbus-go/meshbuserr"
)

var (
	mu       sync.Mutex
	active   bool
	routines []func()
	sigCh    chan os.Signal
	stopCh   chan struct{}
)

// Init activates the process-wide lifecycle root. Calling Init twice
// without an intervening Shutdown fails with meshbuserr.CodeInvalidState.
func Init() error {
	mu.Lock()
	defer mu.Unlock()
	if active {
		return meshbuserr.Wrap(meshbuserr.ComponentLifecycle, meshbuserr.StageValidate, meshbuserr.CodeInvalidState, nil)
	}
	active = true
	routines = nil
	return nil
}

// Active reports whether Init has run without a matching Shutdown.
func Active() bool {
	mu.Lock()
	defer mu.Unlock()
	return active
}

// RegisterDeactivateRoutine appends fn to the list run, in registration
// order, when Shutdown is called or a handled signal arrives.
func RegisterDeactivateRoutine(fn func()) {
	if fn == nil {
		return
	}
	mu.Lock()
	routines = append(routines, fn)
	mu.Unlock()
}

// Shutdown runs every registered deactivation routine in registration
// order and clears the active flag. Safe to call when not active.
func Shutdown() {
	mu.Lock()
	if !active {
		mu.Unlock()
		return
	}
	active = false
	toRun := routines
	routines = nil
	mu.Unlock()

	for _, fn := range toRun {
		fn()
	}
}

// HandleSignals starts a background goroutine that calls Shutdown on
// os.Interrupt or SIGTERM, in the same shutdown-on-signal style as the
// teacher's command-line entry points. Calling it twice is a no-op; call
// StopHandlingSignals to release the underlying signal channel.
func HandleSignals() {
	mu.Lock()
	if sigCh != nil {
		mu.Unlock()
		return
	}
	sigCh = make(chan os.Signal, 2)
	stopCh = make(chan struct{})
	ch := sigCh
	stop := stopCh
	mu.Unlock()

	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			Shutdown()
		case <-stop:
		}
	}()
}

// StopHandlingSignals cancels a HandleSignals goroutine without running
// Shutdown, restoring default signal behavior.
func StopHandlingSignals() {
	mu.Lock()
	ch, stop := sigCh, stopCh
	sigCh, stopCh = nil, nil
	mu.Unlock()
	if ch == nil {
		return
	}
	signal.Stop(ch)
	close(stop)
}
