// Package types holds the data model shared across the orchestration
// engine: ecosystem and service specs, runtime endpoints, sandboxes,
// cached environments, user profiles, and anomaly events.
package types

import "time"

// EcosystemSpec is the parsed input describing one ecosystem of services.
type EcosystemSpec struct {
	Name        string
	Version     string
	BasePort    int // default 8000
	SandboxRoot string
	Owner       string // user_id the security policy checks starts against
	Services    map[string]*ServiceSpec
}

// ServiceSpec is one service declaration within an ecosystem.
type ServiceSpec struct {
	Name        string
	Artifact    string // opaque handle resolved via artifact.Parser
	Port        int    // preferred port, 0 = let the allocator choose
	HealthCheck string // default "/health"
	Timeout     int    // seconds, default 60
	Env         map[string]string
	DependsOn   []DependencyRef
	Labels      map[string]string
}

// DependencyRef references another service this one depends on.
type DependencyRef struct {
	Name     string
	Endpoint string // optional explicit override; presence marks an external edge
	EnvVar   string // default "{UPPER(name)}_URL"
}

// ServiceEndpoint is the live, registered location of one running service.
type ServiceEndpoint struct {
	Name        string
	Host        string
	Port        int
	HealthCheck string
}

// State is a sandbox's position in the lifecycle state machine.
type State string

const (
	StateCreated      State = "created"
	StateMaterialized State = "materialized"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateDead         State = "dead"
)

// File is one artifact-declared file to be materialized into a sandbox.
type File struct {
	Path  string
	Bytes []byte
}

// ProcessHandle is the supervisor's view of a launched child process.
type ProcessHandle struct {
	PID       int
	StartedAt time.Time
	ExitCode  int // signed; negative values encode a terminating signal
	Exited    bool
}

// Signal decodes a negative raw exit status into the terminating signal
// name, per the supervision contract (-15 SIGTERM, -9 SIGKILL, -2 SIGINT).
func Signal(rawExitCode int) string {
	switch rawExitCode {
	case -15:
		return "SIGTERM"
	case -9:
		return "SIGKILL"
	case -2:
		return "SIGINT"
	default:
		return ""
	}
}

// Sandbox is the materialized workspace and supervised process for one
// service instance.
type Sandbox struct {
	ID        string
	Name      string
	Path      string
	Files     []File
	EnvHash   string // CachedEnv.Hash this sandbox links against
	Port      int
	Env       map[string]string
	State     State
	Handle    *ProcessHandle
	CreatedAt time.Time
	StartedAt time.Time
}

// CachedEnv is a prepared runtime environment shared across sandboxes that
// declare the same sorted dependency list.
type CachedEnv struct {
	Hash      string
	Path      string
	DepList   []string
	CreatedAt time.Time
	RefCount  int
}

// Tier is a user's service plan, driving default quota values.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierBasic      Tier = "BASIC"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// UserProfile carries the tier-driven limits enforced by the security
// policy for one tenant.
type UserProfile struct {
	UserID               string
	Tier                 Tier
	MaxConcurrentServices int
	MaxMemoryMB           int
	MaxCPUPercent         int
	MaxRequestsPerMinute  int
	MaxServicesPerHour    int
	IsBlocked             bool
	BlockedReason         string
	PortAllowlist         []int // empty = no restriction
	CreatedAt             time.Time
}

// TierDefaults returns the default quota values for a tier, per the data
// model's defaults table.
func TierDefaults(tier Tier) UserProfile {
	switch tier {
	case TierBasic:
		return UserProfile{Tier: TierBasic, MaxConcurrentServices: 5, MaxMemoryMB: 512, MaxCPUPercent: 50, MaxRequestsPerMinute: 60, MaxServicesPerHour: 20}
	case TierPro:
		return UserProfile{Tier: TierPro, MaxConcurrentServices: 10, MaxMemoryMB: 2048, MaxCPUPercent: 80, MaxRequestsPerMinute: 120, MaxServicesPerHour: 50}
	case TierEnterprise:
		return UserProfile{Tier: TierEnterprise, MaxConcurrentServices: 50, MaxMemoryMB: 8192, MaxCPUPercent: 100, MaxRequestsPerMinute: 500, MaxServicesPerHour: 200}
	default:
		return UserProfile{Tier: TierFree, MaxConcurrentServices: 2, MaxMemoryMB: 256, MaxCPUPercent: 25, MaxRequestsPerMinute: 20, MaxServicesPerHour: 5}
	}
}

// AnomalyType categorizes a policy-relevant event recorded for review.
type AnomalyType string

const (
	AnomalyRateLimitExceeded        AnomalyType = "RateLimitExceeded"
	AnomalyConcurrentLimitExceeded  AnomalyType = "ConcurrentLimitExceeded"
	AnomalyHourlyLimitExceeded      AnomalyType = "HourlyLimitExceeded"
	AnomalyServerOverloaded         AnomalyType = "ServerOverloaded"
	AnomalyRapidRestart             AnomalyType = "RapidRestart"
	AnomalyUnauthorizedAccess       AnomalyType = "UnauthorizedAccess"
)

// Severity ranks an anomaly for triage.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyEvent is a structured record written to the append-only anomaly
// log for admin review.
type AnomalyEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      AnomalyType `json:"type"`
	Severity  Severity    `json:"severity"`
	UserID    string      `json:"user_id"`
	ServiceID string      `json:"service_id"`
	Details   string      `json:"details"`
}
