// Package config loads the ecosystem YAML configuration file into the
// types.EcosystemSpec data model, applying defaults and the
// PACTOWN_SANDBOX_ROOT environment override. PACTOWN_PORT_RANGE is read
// by orchestrator.New, not here.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/pactown/pkg/pactownerr"
	"github.com/cuemby/pactown/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	defaultBasePort    = 8000
	defaultHealthCheck = "/health"
	defaultTimeout     = 60
)

// dependencyRefDoc mirrors the YAML shape of one depends_on entry.
type dependencyRefDoc struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	EnvVar   string `yaml:"env_var"`
}

// serviceDoc mirrors the YAML shape of one services.<name> entry.
type serviceDoc struct {
	Readme      string             `yaml:"readme"`
	Port        int                `yaml:"port"`
	HealthCheck string             `yaml:"health_check"`
	Timeout     int                `yaml:"timeout"`
	Env         map[string]string  `yaml:"env"`
	DependsOn   []dependencyRefDoc `yaml:"depends_on"`
	Labels      map[string]string  `yaml:"labels"`
}

// document mirrors the top-level YAML shape of the configuration file.
type document struct {
	Name        string                 `yaml:"name"`
	Version     string                 `yaml:"version"`
	Description string                 `yaml:"description"`
	BasePort    int                    `yaml:"base_port"`
	SandboxRoot string                 `yaml:"sandbox_root"`
	Registry    string                 `yaml:"registry"`
	Owner       string                 `yaml:"owner"`
	Services    map[string]serviceDoc  `yaml:"services"`
}

// Load reads and validates an ecosystem configuration file at path,
// applying the PACTOWN_SANDBOX_ROOT override from the environment when
// it is set.
func Load(path string) (*types.EcosystemSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pactownerr.Config("reading %s: %v", path, err)
	}
	return Parse(raw)
}

// Parse validates and converts raw YAML bytes into an EcosystemSpec.
func Parse(raw []byte) (*types.EcosystemSpec, error) {
	var strict document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&strict); err != nil {
		return nil, pactownerr.Config("invalid configuration: %v", err)
	}

	if strict.Name == "" {
		return nil, pactownerr.Config("missing required field: name")
	}
	if len(strict.Services) == 0 {
		return nil, pactownerr.Config("services must be non-empty")
	}

	spec := &types.EcosystemSpec{
		Name:        strict.Name,
		Version:     strict.Version,
		BasePort:    strict.BasePort,
		SandboxRoot: strict.SandboxRoot,
		Owner:       strict.Owner,
		Services:    make(map[string]*types.ServiceSpec, len(strict.Services)),
	}
	if spec.BasePort == 0 {
		spec.BasePort = defaultBasePort
	}
	if v := os.Getenv("PACTOWN_SANDBOX_ROOT"); v != "" {
		spec.SandboxRoot = v
	}
	if spec.SandboxRoot == "" {
		return nil, pactownerr.Config("missing required field: sandbox_root")
	}

	for name, doc := range strict.Services {
		if doc.Readme == "" {
			return nil, pactownerr.Config("service %q: missing required field: readme", name)
		}

		svc := &types.ServiceSpec{
			Name:        name,
			Artifact:    doc.Readme,
			Port:        doc.Port,
			HealthCheck: doc.HealthCheck,
			Timeout:     doc.Timeout,
			Env:         doc.Env,
			Labels:      doc.Labels,
		}
		if svc.HealthCheck == "" {
			svc.HealthCheck = defaultHealthCheck
		}
		if svc.Timeout == 0 {
			svc.Timeout = defaultTimeout
		}
		for _, d := range doc.DependsOn {
			if d.Name == "" {
				return nil, pactownerr.Config("service %q: depends_on entry missing name", name)
			}
			envVar := d.EnvVar
			if envVar == "" {
				envVar = fmt.Sprintf("%s_URL", strings.ToUpper(d.Name))
			}
			svc.DependsOn = append(svc.DependsOn, types.DependencyRef{
				Name:     d.Name,
				Endpoint: d.Endpoint,
				EnvVar:   envVar,
			})
		}
		spec.Services[name] = svc
	}

	for name, svc := range spec.Services {
		for _, dep := range svc.DependsOn {
			if dep.Endpoint != "" {
				continue // external edge, no membership requirement
			}
			if _, ok := spec.Services[dep.Name]; !ok {
				return nil, pactownerr.UnknownDependency(fmt.Sprintf("%s -> %s", name, dep.Name))
			}
		}
	}

	return spec, nil
}
