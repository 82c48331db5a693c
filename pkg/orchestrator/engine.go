// Package orchestrator implements the top-level coordinator: it reads
// an ecosystem spec, drives each service through admission, allocation,
// materialization, launch and health-probing in dependency order, and
// tears the ecosystem down again — fully, and best-effort, on failure
// or on request.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/pactown/pkg/artifact"
	"github.com/cuemby/pactown/pkg/cache"
	"github.com/cuemby/pactown/pkg/events"
	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/network"
	"github.com/cuemby/pactown/pkg/pactownerr"
	"github.com/cuemby/pactown/pkg/registry"
	"github.com/cuemby/pactown/pkg/resolver"
	"github.com/cuemby/pactown/pkg/sandbox"
	"github.com/cuemby/pactown/pkg/security"
	"github.com/cuemby/pactown/pkg/types"
)

// ServiceStatus is one line of `status`'s output.
type ServiceStatus struct {
	Name     string
	State    types.State
	Endpoint *types.ServiceEndpoint
}

// Engine wires the resolver, registry, dependency cache, sandbox
// manager, port allocator, and (optionally) the security policy into
// one coordinator. It holds no package-level state.
type Engine struct {
	mu         sync.Mutex
	sandboxRoot string
	allocator  *network.Allocator
	registry   *registry.Registry
	cache      *cache.Cache
	manager    *sandbox.Manager
	broker     *events.Broker
	policy     *security.Policy // nil disables admission control
	parser     artifact.Parser

	owners map[string]string // service name -> owner, for the current run
	ports  map[string]int    // service name -> allocated port, for the current run
}

// Config configures a new Engine.
type Config struct {
	SandboxRoot string
	PortRange   [2]int // zero value uses the allocator's defaults
	Parser      artifact.Parser
	Policy      *security.Policy // nil disables admission control
}

// New constructs an Engine and wires its components, including the
// sandbox manager's exit handler back into the registry and policy.
func New(cfg Config) (*Engine, error) {
	start, end := cfg.PortRange[0], cfg.PortRange[1]
	if rangeEnv := os.Getenv("PACTOWN_PORT_RANGE"); rangeEnv != "" {
		if s, e, ok := parsePortRange(rangeEnv); ok {
			start, end = s, e
		}
	}
	alloc := network.NewAllocator(start, end)

	envCache, err := cache.New(cfg.SandboxRoot, populateNoop)
	if err != nil {
		metrics.RegisterComponent("cache", false, err.Error())
		return nil, fmt.Errorf("construct dependency cache: %w", err)
	}
	metrics.RegisterComponent("cache", true, "")

	broker := events.NewBroker()
	broker.Start()

	e := &Engine{
		sandboxRoot: cfg.SandboxRoot,
		allocator:   alloc,
		cache:       envCache,
		broker:      broker,
		policy:      cfg.Policy,
		parser:      cfg.Parser,
		owners:      make(map[string]string),
		ports:       make(map[string]int),
	}

	e.manager = sandbox.New(cfg.SandboxRoot, envCache, broker, e.handleExit)
	metrics.RegisterComponent("sandbox", true, "")

	reg, err := registry.Load(cfg.SandboxRoot, e.manager)
	if err != nil {
		metrics.RegisterComponent("registry", false, err.Error())
		return nil, fmt.Errorf("load service registry: %w", err)
	}
	e.registry = reg
	metrics.RegisterComponent("registry", true, "")

	return e, nil
}

func populateNoop(string, []string) error { return nil }

// parsePortRange parses "START-END" as used by PACTOWN_PORT_RANGE.
func parsePortRange(s string) (int, int, bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, end, true
}

// handleExit is the sandbox manager's ExitHandler: it unregisters the
// endpoint and releases the user's concurrency slot for an unprompted
// process exit.
func (e *Engine) handleExit(name string, handle *types.ProcessHandle) {
	if err := e.registry.Unregister(name); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Str("service", name).Msg("failed to unregister exited service")
	}
	e.mu.Lock()
	owner := e.owners[name]
	e.mu.Unlock()
	if owner != "" && e.policy != nil {
		e.policy.MarkStopped(owner, name)
	}
}

// Up brings spec's entire ecosystem up in resolver order. If any
// service fails to become healthy, Up aborts and tears down everything
// it started so far, in reverse order, and returns the triggering error.
func (e *Engine) Up(ctx context.Context, spec *types.EcosystemSpec) error {
	order, err := resolver.Resolve(spec)
	if err != nil {
		return err
	}

	var started []string
	for _, name := range order {
		svc := spec.Services[name]
		if err := e.startOne(ctx, spec, svc); err != nil {
			e.teardown(started)
			return err
		}
		started = append(started, name)
	}
	return nil
}

func (e *Engine) startOne(ctx context.Context, spec *types.EcosystemSpec, svc *types.ServiceSpec) error {
	if e.policy != nil {
		decision := e.policy.CheckCanStart(spec.Owner, svc.Name, svc.Port)
		if !decision.Allowed {
			return pactownerr.PolicyDenied(decision.Reason)
		}
		if decision.DelaySeconds > 0 {
			select {
			case <-time.After(time.Duration(decision.DelaySeconds * float64(time.Second))):
			case <-ctx.Done():
				return pactownerr.Internal("policy throttle wait", ctx.Err())
			}
		}
	}

	port, err := e.allocator.Allocate(svc.Port)
	if err != nil {
		return err
	}

	art, err := e.parser.Parse(svc.Artifact)
	if err != nil {
		e.allocator.Release(port)
		return pactownerr.Config("parse artifact for %q: %v", svc.Name, err)
	}

	if _, err := e.manager.Create(svc.Name, art); err != nil {
		e.allocator.Release(port)
		return err
	}

	env := e.registry.EnvironmentFor(svc.Name, port, svc.DependsOn)
	for k, v := range svc.Env {
		env[k] = v
	}

	if err := e.manager.Start(ctx, svc.Name, art.Run, port, env, svc.HealthCheck, svc.Timeout); err != nil {
		e.allocator.Release(port)
		return err
	}

	if _, err := e.registry.Register(svc.Name, "127.0.0.1", port, svc.HealthCheck); err != nil {
		return err
	}

	e.mu.Lock()
	e.owners[svc.Name] = spec.Owner
	e.ports[svc.Name] = port
	e.mu.Unlock()

	if e.policy != nil {
		e.policy.MarkStarted(spec.Owner, svc.Name)
	}
	return nil
}

// Down stops spec's services in reverse resolver order, best-effort:
// every stop is attempted even if earlier ones failed.
func (e *Engine) Down(ctx context.Context, spec *types.EcosystemSpec) error {
	order, err := resolver.Resolve(spec)
	if err != nil {
		return err
	}
	return e.teardown(order)
}

func (e *Engine) teardown(names []string) error {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if err := e.manager.Stop(name); err != nil {
			errs = append(errs, fmt.Errorf("stop %q: %w", name, err))
		}
		if err := e.registry.Unregister(name); err != nil {
			errs = append(errs, fmt.Errorf("unregister %q: %w", name, err))
		}

		e.mu.Lock()
		owner := e.owners[name]
		delete(e.owners, name)
		if port, ok := e.ports[name]; ok {
			e.allocator.Release(port)
			delete(e.ports, name)
		}
		e.mu.Unlock()
		if owner != "" && e.policy != nil {
			e.policy.MarkStopped(owner, name)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("teardown encountered %d error(s): %w", len(errs), errs[0])
}

// Status reports every service in spec's last observed lifecycle state
// and, when live, its registered endpoint.
func (e *Engine) Status(spec *types.EcosystemSpec) []ServiceStatus {
	var out []ServiceStatus
	for name := range spec.Services {
		state, ok := e.manager.Status(name)
		if !ok {
			state = types.StateCreated
		}
		out = append(out, ServiceStatus{Name: name, State: state, Endpoint: e.registry.Get(name)})
	}
	return out
}

// Close stops the event broker. Call once the Engine is no longer used.
func (e *Engine) Close() {
	e.broker.Stop()
	e.cache.Close()
}
