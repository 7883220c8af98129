package utils

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProcessManager owns the engine's long-running goroutines (the main loop,
// the stale-instance sweep) with lifecycle control and panic recovery.
type ProcessManager struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processes map[string]context.CancelFunc
	mu        sync.Mutex
}

func NewProcessManager() *ProcessManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessManager{
		ctx:       ctx,
		cancel:    cancel,
		processes: make(map[string]context.CancelFunc),
	}
}

// Start registers and launches a named background process. Starting a name
// that is already running stops the old process first.
func (pm *ProcessManager) Start(name string, fn func(ctx context.Context)) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if cancel, exists := pm.processes[name]; exists {
		slog.Warn("Process already running, replacing it", slog.String("process", name))
		cancel()
	}

	processCtx, processCancel := context.WithCancel(pm.ctx)
	pm.processes[name] = processCancel

	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Background process panic",
					slog.String("process", name),
					slog.Any("panic", r))
			}
		}()

		slog.Info("Starting background process", slog.String("process", name))
		fn(processCtx)
		slog.Info("Background process ended", slog.String("process", name))
	}()
}

// Stop cancels a single named process.
func (pm *ProcessManager) Stop(name string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if cancel, exists := pm.processes[name]; exists {
		cancel()
		delete(pm.processes, name)
	}
}

// Context returns the manager-wide context, cancelled on Shutdown.
func (pm *ProcessManager) Context() context.Context {
	return pm.ctx
}

// Shutdown cancels every process and waits up to timeout for them to end.
func (pm *ProcessManager) Shutdown(timeout time.Duration) error {
	pm.cancel()

	done := make(chan struct{})
	go func() {
		pm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All background processes stopped")
		return nil
	case <-time.After(timeout):
		slog.Warn("Timeout waiting for background processes",
			slog.Duration("timeout", timeout))
		return context.DeadlineExceeded
	}
}
