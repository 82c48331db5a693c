package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pactown/pkg/types"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	al, err := OpenAnomalyLog(filepath.Join(t.TempDir(), "anomalies.jsonl"), nil)
	require.NoError(t, err)
	return New(al, nil)
}

func TestCheckCanStart_BlockedUserIsDenied(t *testing.T) {
	p := newTestPolicy(t)
	profile := types.TierDefaults(types.TierFree)
	profile.UserID = "u1"
	profile.IsBlocked = true
	profile.BlockedReason = "fraud review"
	p.SetProfile(profile)

	decision := p.CheckCanStart("u1", "svc", 8000)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "fraud review", decision.Reason)
}

func TestCheckCanStart_RateLimitDeniesBeyondCapacity(t *testing.T) {
	p := newTestPolicy(t)
	profile := types.TierDefaults(types.TierFree)
	profile.UserID = "u1"
	profile.MaxRequestsPerMinute = 2
	profile.MaxConcurrentServices = 10
	profile.MaxServicesPerHour = 10
	p.SetProfile(profile)

	first := p.CheckCanStart("u1", "svc-a", 8000)
	second := p.CheckCanStart("u1", "svc-b", 8000)
	third := p.CheckCanStart("u1", "svc-c", 8000)

	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)
	assert.False(t, third.Allowed)
	assert.Greater(t, third.DelaySeconds, 0.0)
}

func TestCheckCanStart_ConcurrentLimitExceeded(t *testing.T) {
	p := newTestPolicy(t)
	profile := types.TierDefaults(types.TierFree)
	profile.UserID = "u1"
	profile.MaxRequestsPerMinute = 100
	profile.MaxConcurrentServices = 1
	profile.MaxServicesPerHour = 100
	p.SetProfile(profile)

	p.MarkStarted("u1", "already-running")

	decision := p.CheckCanStart("u1", "svc", 8000)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "concurrent sandbox limit exceeded", decision.Reason)
}

func TestCheckCanStart_PortOutsideAllowlistDenied(t *testing.T) {
	p := newTestPolicy(t)
	profile := types.TierDefaults(types.TierFree)
	profile.UserID = "u1"
	profile.MaxRequestsPerMinute = 100
	profile.MaxConcurrentServices = 10
	profile.MaxServicesPerHour = 100
	profile.PortAllowlist = []int{9000, 9001}
	p.SetProfile(profile)

	decision := p.CheckCanStart("u1", "svc", 8000)
	assert.False(t, decision.Allowed)
}

func TestCheckCanStart_UnknownUserGetsFreeTierDefaults(t *testing.T) {
	p := newTestPolicy(t)
	decision := p.CheckCanStart("stranger", "svc", 8000)
	assert.True(t, decision.Allowed)
}

func TestCheckCanStart_ServerLoadThrottlesWithoutDenying(t *testing.T) {
	al, err := OpenAnomalyLog(filepath.Join(t.TempDir(), "anomalies.jsonl"), nil)
	require.NoError(t, err)
	p := New(al, fakeLoad{cpu: 0.95, mem: 0.5})

	profile := types.TierDefaults(types.TierFree)
	profile.UserID = "u1"
	profile.MaxRequestsPerMinute = 100
	profile.MaxConcurrentServices = 10
	profile.MaxServicesPerHour = 100
	p.SetProfile(profile)

	decision := p.CheckCanStart("u1", "svc", 8000)
	assert.True(t, decision.Allowed)
	assert.Greater(t, decision.DelaySeconds, 0.0)
}

func TestBlock_TakesEffectOnNextCall(t *testing.T) {
	p := newTestPolicy(t)
	profile := types.TierDefaults(types.TierFree)
	profile.UserID = "u1"
	profile.MaxRequestsPerMinute = 100
	profile.MaxConcurrentServices = 10
	profile.MaxServicesPerHour = 100
	p.SetProfile(profile)

	assert.True(t, p.CheckCanStart("u1", "svc-a", 8000).Allowed)
	p.Block("u1", "manual suspension")
	assert.False(t, p.CheckCanStart("u1", "svc-b", 8000).Allowed)
}

type fakeLoad struct{ cpu, mem float64 }

func (f fakeLoad) CPUPercent() float64 { return f.cpu }
func (f fakeLoad) MemPercent() float64 { return f.mem }
