// Package registry is the in-memory plus on-disk map from service name
// to its live endpoint, and the environment-composition logic that lets
// a dependent service discover its dependencies.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/types"
)

const servicesFileName = ".pactown-services.json"

// AliveChecker reports whether a named service's process is still alive,
// used by Load to reconcile persisted entries against reality. The
// registry never calls back into the sandbox manager beyond this single
// narrow capability, per the design notes breaking the cyclic reference
// between the two.
type AliveChecker interface {
	IsAlive(name string) bool
}

// Registry is the live, mutable map from service name to endpoint.
type Registry struct {
	mu          sync.RWMutex
	sandboxRoot string
	endpoints   map[string]*types.ServiceEndpoint
}

// persistedDoc is the on-disk shape of .pactown-services.json.
type persistedDoc struct {
	Services map[string]*types.ServiceEndpoint `json:"services"`
}

// New creates a Registry persisting under sandboxRoot.
func New(sandboxRoot string) *Registry {
	return &Registry{
		sandboxRoot: sandboxRoot,
		endpoints:   make(map[string]*types.ServiceEndpoint),
	}
}

// Register records name as live at host:port and persists the registry.
// Exactly one endpoint exists per live service; a second Register call
// for the same name replaces the prior endpoint.
func (r *Registry) Register(name string, host string, port int, healthCheck string) (*types.ServiceEndpoint, error) {
	r.mu.Lock()
	ep := &types.ServiceEndpoint{Name: name, Host: host, Port: port, HealthCheck: healthCheck}
	r.endpoints[name] = ep
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return nil, err
	}
	log.WithComponent("registry").Info().Str("service", name).Int("port", port).Msg("service registered")
	return ep, nil
}

// Unregister removes name's endpoint and persists the registry. It is a
// no-op if name was never registered.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	_, existed := r.endpoints[name]
	delete(r.endpoints, name)
	r.mu.Unlock()

	if !existed {
		return nil
	}
	return r.persist()
}

// Get returns name's live endpoint, or nil if it is not registered.
func (r *Registry) Get(name string) *types.ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// List returns all live endpoints, sorted by name for deterministic
// output.
func (r *Registry) List() []*types.ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ServiceEndpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsAlive reports whether name currently has a live endpoint.
func (r *Registry) IsAlive(name string) bool {
	return r.Get(name) != nil
}

// EnvironmentFor composes the fixed environment map a service with the
// given name, port, and declared dependencies must receive: per-dependency
// {D}_URL/{D}_HOST/{D}_PORT, plus the service's own MARKPACT_PORT, PORT,
// SERVICE_NAME, and SERVICE_URL.
func (r *Registry) EnvironmentFor(serviceName string, port int, deps []types.DependencyRef) map[string]string {
	env := make(map[string]string)

	for _, dep := range deps {
		prefix := upper(dep.Name)
		var url, host string
		var depPort int

		if dep.Endpoint != "" {
			url = dep.Endpoint
			host, depPort = splitHostPort(dep.Endpoint)
		} else if ep := r.Get(dep.Name); ep != nil {
			url = fmt.Sprintf("http://%s:%d", ep.Host, ep.Port)
			host, depPort = ep.Host, ep.Port
		} else {
			continue // dependency not yet live; nothing to inject
		}

		envVar := dep.EnvVar
		if envVar == "" {
			envVar = prefix + "_URL"
		}
		env[envVar] = url
		if host != "" {
			env[prefix+"_HOST"] = host
		}
		if depPort != 0 {
			env[prefix+"_PORT"] = strconv.Itoa(depPort)
		}
	}

	env["MARKPACT_PORT"] = strconv.Itoa(port)
	env["PORT"] = strconv.Itoa(port)
	env["SERVICE_NAME"] = serviceName
	env["SERVICE_URL"] = fmt.Sprintf("http://127.0.0.1:%d", port)

	return env
}

// persist serializes the registry to <sandboxRoot>/.pactown-services.json
// via a temp-file-plus-rename so readers never observe a partial write.
func (r *Registry) persist() error {
	r.mu.RLock()
	doc := persistedDoc{Services: make(map[string]*types.ServiceEndpoint, len(r.endpoints))}
	for name, ep := range r.endpoints {
		doc.Services[name] = ep
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := os.MkdirAll(r.sandboxRoot, 0o755); err != nil {
		return fmt.Errorf("create sandbox root: %w", err)
	}

	final := filepath.Join(r.sandboxRoot, servicesFileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

// Load reads the persisted registry file, if present, and reconciles it
// against alive, dropping entries whose process is no longer alive.
func Load(sandboxRoot string, alive AliveChecker) (*Registry, error) {
	r := New(sandboxRoot)

	path := filepath.Join(sandboxRoot, servicesFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var doc persistedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}

	for name, ep := range doc.Services {
		if alive != nil && !alive.IsAlive(name) {
			continue
		}
		r.endpoints[name] = ep
	}
	return r, nil
}

func upper(s string) string {
	return strings.ToUpper(s)
}

// splitHostPort best-effort parses an explicit endpoint override into a
// host/port pair. Endpoints that don't parse as host:port (e.g. a bare
// path, or a scheme without a port) yield an empty host and zero port,
// matching the documented "omitted when not parseable" behavior.
func splitHostPort(endpoint string) (string, int) {
	rest := endpoint
	if idx := strings.Index(rest, "://"); idx != -1 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?"); idx != -1 {
		rest = rest[:idx]
	}
	host, portStr, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0
	}
	return host, port
}
