package main

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/pactown/pkg/markdown"
	"github.com/cuemby/pactown/pkg/orchestrator"
	"github.com/cuemby/pactown/pkg/security"
	"github.com/cuemby/pactown/pkg/types"
)

const anomalyLogFileName = ".pactown-anomalies.jsonl"

// buildEngine constructs an orchestrator.Engine for spec, wiring the real
// Markdown parser and, unless disabled or the spec names no owner, a
// security policy backed by an anomaly log and live system-load sampling.
func buildEngine(spec *types.EcosystemSpec, enablePolicy bool) (*orchestrator.Engine, error) {
	cfg := orchestrator.Config{
		SandboxRoot: spec.SandboxRoot,
		Parser:      markdown.New(),
	}

	if enablePolicy && spec.Owner != "" {
		policy, err := buildPolicy(spec)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	return orchestrator.New(cfg)
}

func buildPolicy(spec *types.EcosystemSpec) (*security.Policy, error) {
	logPath := filepath.Join(spec.SandboxRoot, anomalyLogFileName)
	anomalyLog, err := security.OpenAnomalyLog(logPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open anomaly log: %w", err)
	}

	load := security.NewSystemLoad(0)
	policy := security.New(anomalyLog, load)
	if spec.Owner != "" {
		profile := types.TierDefaults(types.TierFree)
		profile.UserID = spec.Owner
		policy.SetProfile(profile)
	}
	return policy, nil
}
