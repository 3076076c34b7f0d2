package utils

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProcessFunc is a long-running engine loop. It should return when ctx is
// cancelled; any earlier return is treated as a crash and restarted.
type ProcessFunc func(ctx context.Context) error

// ProcessManager supervises the engine's background loops (lifecycle sweeps,
// settlement) and restarts them after a panic or an unexpected return.
type ProcessManager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	processes    map[string]*ProcessInfo
	mu           sync.RWMutex
	restartDelay time.Duration
}

type ProcessInfo struct {
	Name        string
	Description string
	StartedAt   time.Time
	Restarts    int
	LastError   string

	cancel context.CancelFunc
}

// NewProcessManager derives every process context from parent. restartDelay
// is the pause before a crashed process is started again.
func NewProcessManager(parent context.Context, restartDelay time.Duration) *ProcessManager {
	ctx, cancel := context.WithCancel(parent)
	if restartDelay <= 0 {
		restartDelay = time.Second
	}
	return &ProcessManager{
		ctx:          ctx,
		cancel:       cancel,
		processes:    make(map[string]*ProcessInfo),
		restartDelay: restartDelay,
	}
}

// StartProcess registers and starts a supervised process, replacing any
// process already registered under name.
func (pm *ProcessManager) StartProcess(name, description string, fn ProcessFunc) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.processes[name]; exists {
		slog.Warn("Process already exists, stopping existing one",
			slog.String("type", "sys"),
			slog.String("process", name))
		pm.stopProcessLocked(name)
	}

	processCtx, processCancel := context.WithCancel(pm.ctx)
	info := &ProcessInfo{
		Name:        name,
		Description: description,
		StartedAt:   time.Now(),
		cancel:      processCancel,
	}
	pm.processes[name] = info

	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()

		slog.Info("Starting background process",
			slog.String("type", "sys"),
			slog.String("process", name),
			slog.String("description", description))

		for {
			err := runGuarded(processCtx, fn)
			if processCtx.Err() != nil {
				break
			}
			if err == nil {
				err = fmt.Errorf("process returned before shutdown")
			}
			pm.recordCrash(info, err)

			select {
			case <-processCtx.Done():
			case <-time.After(pm.restartDelay):
				continue
			}
			break
		}

		slog.Info("Background process ended",
			slog.String("type", "sys"),
			slog.String("process", name))
	}()
}

func runGuarded(ctx context.Context, fn ProcessFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (pm *ProcessManager) recordCrash(info *ProcessInfo, err error) {
	pm.mu.Lock()
	info.Restarts++
	info.LastError = err.Error()
	restarts := info.Restarts
	pm.mu.Unlock()

	slog.Error("Background process crashed, restarting",
		slog.String("type", "sys"),
		slog.String("process", info.Name),
		slog.Int("restarts", restarts),
		slog.Duration("delay", pm.restartDelay),
		slog.Any("error", err))
}

// StopProcess stops a specific background process
func (pm *ProcessManager) StopProcess(name string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.stopProcessLocked(name)
}

func (pm *ProcessManager) stopProcessLocked(name string) {
	if process, exists := pm.processes[name]; exists {
		process.cancel()
		delete(pm.processes, name)
		slog.Info("Stopped background process",
			slog.String("type", "sys"),
			slog.String("process", name))
	}
}

// Shutdown cancels every process and waits up to timeout for them to return.
func (pm *ProcessManager) Shutdown(timeout time.Duration) error {
	slog.Info("Shutting down background processes",
		slog.String("type", "sys"),
		slog.Int("process_count", pm.GetProcessCount()))

	pm.cancel()

	done := make(chan struct{})
	go func() {
		pm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All background processes stopped gracefully", slog.String("type", "sys"))
		return nil
	case <-time.After(timeout):
		slog.Warn("Timeout waiting for background processes to stop",
			slog.String("type", "sys"),
			slog.Duration("timeout", timeout))
		return context.DeadlineExceeded
	}
}

func (pm *ProcessManager) GetProcessCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.processes)
}

// ListProcesses returns a snapshot of the registered processes sorted by name.
func (pm *ProcessManager) ListProcesses() []ProcessInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	processes := make([]ProcessInfo, 0, len(pm.processes))
	for _, process := range pm.processes {
		p := *process
		p.cancel = nil
		processes = append(processes, p)
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].Name < processes[j].Name })
	return processes
}

func (pm *ProcessManager) Context() context.Context {
	return pm.ctx
}
