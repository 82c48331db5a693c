// Package sandbox materializes, launches, health-probes, supervises,
// and tears down one service's isolated filesystem workspace and
// process, backed by the shared dependency environment cache.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/pactown/pkg/artifact"
	"github.com/cuemby/pactown/pkg/cache"
	"github.com/cuemby/pactown/pkg/events"
	"github.com/cuemby/pactown/pkg/health"
	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/pactownerr"
	"github.com/cuemby/pactown/pkg/types"
)

const (
	stopGracePeriod  = 10 * time.Second
	restartGraceGap  = 2 * time.Second
	logTailFileBytes = 64 * 1024
)

// ExitHandler is invoked once, asynchronously, when a supervised process
// exits on its own (not via Stop). It lets the orchestrator unregister
// the endpoint without the manager importing the registry package
// directly. The manager releases the cache entry itself.
type ExitHandler func(name string, handle *types.ProcessHandle)

// entry is the manager's bookkeeping for one named sandbox.
type entry struct {
	sandbox    *types.Sandbox
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	stdout     *ringBuffer
	stderr     *ringBuffer
	logFile    *os.File
	stoppedAt  time.Time
	exitedCh   chan struct{}
}

// Manager owns the lifetime of every sandbox materialized under one
// sandbox_root.
type Manager struct {
	mu       sync.Mutex
	root     string
	cache    *cache.Cache
	broker   *events.Broker
	onExit   ExitHandler
	entries  map[string]*entry
}

// New constructs a Manager rooted at sandboxRoot, using envCache for
// dependency environment reuse and broker to publish lifecycle events.
// onExit is called whenever a supervised process exits unprompted.
func New(sandboxRoot string, envCache *cache.Cache, broker *events.Broker, onExit ExitHandler) *Manager {
	return &Manager{
		root:    sandboxRoot,
		cache:   envCache,
		broker:  broker,
		onExit:  onExit,
		entries: make(map[string]*entry),
	}
}

// Create materializes art's declared files under a fresh sandbox
// directory and links the shared dependency environment into it.
func (m *Manager) Create(name string, art *artifact.Artifact) (*types.Sandbox, error) {
	m.mu.Lock()
	if e, exists := m.entries[name]; exists && (e.sandbox.State == types.StateStarting || e.sandbox.State == types.StateRunning) {
		m.mu.Unlock()
		return nil, pactownerr.AlreadyRunning(name)
	}
	m.mu.Unlock()

	sandboxPath := filepath.Join(m.root, "sandboxes", name)
	if err := os.MkdirAll(sandboxPath, 0o755); err != nil {
		return nil, pactownerr.Internal("create sandbox directory", err)
	}

	files := make([]types.File, 0, len(art.Files))
	for _, f := range art.Files {
		files = append(files, types.File{Path: f.Path, Bytes: f.Bytes})
		target := filepath.Join(sandboxPath, f.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, pactownerr.Internal("create sandbox file parent", err)
		}
		if err := os.WriteFile(target, f.Bytes, 0o644); err != nil {
			return nil, pactownerr.Internal("materialize sandbox file", err)
		}
	}

	env, err := m.cache.GetOrCreate(art.Deps)
	if err != nil {
		return nil, pactownerr.Internal("acquire dependency environment", err)
	}
	if err := cache.Link(env.Path, sandboxPath, ".env"); err != nil {
		return nil, pactownerr.Internal("link dependency environment", err)
	}

	sb := &types.Sandbox{
		ID:        uuid.NewString(),
		Name:      name,
		Path:      sandboxPath,
		Files:     files,
		EnvHash:   env.Hash,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.entries[name] = &entry{sandbox: sb}
	m.setState(sb, types.StateMaterialized)
	m.mu.Unlock()

	m.publish(events.EventSandboxMaterialized, name, "")
	return sb, nil
}

// Start launches name's process bound to port, composed with env, and
// blocks until the startup health probe against healthCheck succeeds or
// fails. A background goroutine then supervises the running process.
func (m *Manager) Start(ctx context.Context, name, run string, port int, env map[string]string, healthCheck string, timeoutSeconds int) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return pactownerr.Internal("start sandbox", fmt.Errorf("sandbox %q was never created", name))
	}
	if e.sandbox.State == types.StateStarting || e.sandbox.State == types.StateRunning {
		m.mu.Unlock()
		return pactownerr.AlreadyRunning(name)
	}
	if !e.stoppedAt.IsZero() {
		if wait := restartGraceGap - time.Since(e.stoppedAt); wait > 0 {
			m.mu.Unlock()
			time.Sleep(wait)
			m.mu.Lock()
		}
	}
	m.mu.Unlock()

	rewritten := rewriteCommandPort(run, port)
	logPath := filepath.Join(e.sandbox.Path, name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return pactownerr.Internal("open sandbox log file", err)
	}

	cmd := exec.Command("sh", "-c", rewritten)
	cmd.Dir = e.sandbox.Path
	cmd.Stdin = nil
	cmd.Env = composeEnv(env)

	stdout := newRingBuffer(defaultRingBufferSize)
	stderr := newRingBuffer(defaultRingBufferSize)
	cmd.Stdout = io.MultiWriter(stdout, logFile)
	cmd.Stderr = io.MultiWriter(stderr, logFile)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return pactownerr.Internal("launch sandbox process", err)
	}

	timer := metrics.NewTimer()

	m.mu.Lock()
	e.cmd = cmd
	e.stdout, e.stderr, e.logFile = stdout, stderr, logFile
	e.exitedCh = make(chan struct{})
	e.sandbox.Port = port
	e.sandbox.Env = env
	m.setState(e.sandbox, types.StateStarting)
	e.sandbox.Handle = &types.ProcessHandle{PID: cmd.Process.Pid, StartedAt: time.Now()}
	e.sandbox.StartedAt = time.Now()
	m.mu.Unlock()

	m.publish(events.EventSandboxStarting, name, "")

	exitedFn := func() (bool, int) {
		select {
		case <-e.exitedCh:
			return true, e.sandbox.Handle.ExitCode
		default:
			return false, 0
		}
	}

	go m.superviseExit(name, e)

	checker := health.NewHTTPChecker(fmt.Sprintf("http://127.0.0.1:%d%s", port, healthCheck))
	probeErr := health.Probe(ctx, name, checker, time.Duration(timeoutSeconds)*time.Second, exitedFn)

	m.mu.Lock()
	if probeErr == nil {
		m.setState(e.sandbox, types.StateRunning)
	} else {
		m.setState(e.sandbox, types.StateDead)
	}
	m.mu.Unlock()

	if probeErr != nil {
		metrics.ServiceStartsTotal.WithLabelValues("failed").Inc()
		m.publish(events.EventHealthTimeout, name, probeErr.Error())
		return probeErr
	}

	metrics.ServiceStartsTotal.WithLabelValues("healthy").Inc()
	timer.ObserveDuration(metrics.ServiceStartDuration)
	m.publish(events.EventSandboxRunning, name, "")
	return nil
}

// superviseExit waits for the child process to exit and records the
// outcome. It runs for the lifetime of every launched process.
func (m *Manager) superviseExit(name string, e *entry) {
	err := e.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				exitCode = -int(status.Signal())
			}
		} else {
			exitCode = -1
		}
	}

	m.mu.Lock()
	wasStopping := e.sandbox.State == types.StateStopping
	e.sandbox.Handle.ExitCode = exitCode
	e.sandbox.Handle.Exited = true
	m.setState(e.sandbox, types.StateDead)
	close(e.exitedCh)
	m.mu.Unlock()

	metrics.ProcessExitsTotal.WithLabelValues(types.Signal(exitCode)).Inc()

	if exitCode != 0 {
		m.writeFailureLog(name, e, exitCode)
	}
	e.logFile.Close()

	m.publish(events.EventSandboxExited, name, fmt.Sprintf("exit code %d", exitCode))

	if !wasStopping && m.onExit != nil {
		m.onExit(name, e.sandbox.Handle)
	}
	if m.cache != nil {
		_ = m.cache.Release(e.sandbox.EnvHash)
	}
}

func (m *Manager) writeFailureLog(name string, e *entry, exitCode int) {
	path := filepath.Join(e.sandbox.Path, name+".failure.log")
	var files []string
	for _, f := range e.sandbox.Files {
		files = append(files, f.Path)
	}

	content := fmt.Sprintf(
		"exit_code=%d\ncommand=%s\nworking_dir=%s\nfiles=%v\n\n--- stderr (tail) ---\n%s\n\n--- stdout (tail) ---\n%s\n",
		exitCode, e.cmd.String(), e.sandbox.Path, files, e.stderr.Tail(logTailFileBytes), e.stdout.Tail(logTailFileBytes),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		log.WithComponent("sandbox").Error().Err(err).Str("service", name).Msg("failed to write failure log")
	}
}

// Stop sends SIGTERM, waits up to a grace period, then escalates to
// SIGKILL. Stopping a name that isn't running is a no-op.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok || e.cmd == nil || e.sandbox.State == types.StateDead {
		m.mu.Unlock()
		return nil
	}
	m.setState(e.sandbox, types.StateStopping)
	proc := e.cmd.Process
	exitedCh := e.exitedCh
	m.mu.Unlock()

	m.publish(events.EventSandboxStopping, name, "")

	if proc == nil {
		return nil
	}
	_ = proc.Signal(syscall.SIGTERM)

	select {
	case <-exitedCh:
	case <-time.After(stopGracePeriod):
		_ = proc.Signal(syscall.SIGKILL)
		select {
		case <-exitedCh:
		case <-time.After(stopGracePeriod):
		}
	}

	m.mu.Lock()
	m.setState(e.sandbox, types.StateDead)
	e.stoppedAt = time.Now()
	m.mu.Unlock()

	m.publish(events.EventSandboxStopped, name, "")
	return nil
}

// Status returns name's last observed lifecycle state.
func (m *Manager) Status(name string) (types.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return "", false
	}
	return e.sandbox.State, true
}

// Logs returns the last tail bytes of name's stdout ring buffer followed
// by the last tail bytes of its stderr ring buffer.
func (m *Manager) Logs(name string, tail int) ([]byte, error) {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok || e.stdout == nil {
		return nil, fmt.Errorf("no logs for sandbox %q", name)
	}
	return append(e.stdout.Tail(tail), e.stderr.Tail(tail)...), nil
}

// List returns every sandbox name the manager currently tracks.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	return names
}

// IsAlive implements registry.AliveChecker.
func (m *Manager) IsAlive(name string) bool {
	state, ok := m.Status(name)
	return ok && state == types.StateRunning
}

// setState updates sb's lifecycle state and keeps the per-state sandbox
// gauge in sync, decrementing the label sb is leaving and incrementing
// the one it's entering. Called with mu held.
func (m *Manager) setState(sb *types.Sandbox, state types.State) {
	if sb.State != "" {
		metrics.SandboxesTotal.WithLabelValues(string(sb.State)).Dec()
	}
	sb.State = state
	metrics.SandboxesTotal.WithLabelValues(string(state)).Inc()
}

func (m *Manager) publish(t events.EventType, service, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: t, Service: service, Message: message})
}

func composeEnv(extra map[string]string) []string {
	base := os.Environ()
	for k, v := range extra {
		base = append(base, k+"="+v)
	}
	return base
}
