// Package security implements the admission policy that gates sandbox
// starts in a multi-tenant setting: per-user rate limiting, concurrency
// and hourly quotas, port allowlisting, and server-load throttling,
// with every denial or throttle recorded to an append-only anomaly log.
package security

import (
	"sync"
	"time"

	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/types"
	"golang.org/x/time/rate"
)

// Decision is the result of one checkCanStart call.
type Decision struct {
	Allowed      bool
	Reason       string
	DelaySeconds float64
}

// LoadReader reports current server resource utilization, consulted by
// the server-load check. A nil LoadReader disables that check.
type LoadReader interface {
	CPUPercent() float64
	MemPercent() float64
}

// NotifyFunc is invoked synchronously whenever an AnomalyEvent is
// recorded, so dashboards or alerters can observe it in real time.
type NotifyFunc func(types.AnomalyEvent)

const (
	defaultCPUThreshold = 0.80
	defaultMemThreshold = 0.85
	throttleBase        = 1.0 // seconds, multiplied by the overage factor
)

// userState is the per-user bookkeeping the policy keeps between calls.
type userState struct {
	profile      types.UserProfile
	limiter      *rate.Limiter
	running      map[string]bool // sandbox name -> running
	startEvents  []time.Time     // sliding 1-hour window of start attempts
}

// Policy is the admission gate. It is safe for concurrent checkCanStart
// calls from multiple tasks, and profile mutations take effect on the
// very next call.
type Policy struct {
	mu    sync.Mutex
	users map[string]*userState
	log   *AnomalyLog
	load  LoadReader
	now   func() time.Time // overridable for deterministic tests
}

// New constructs a Policy backed by anomalyLog. load may be nil to skip
// the server-load check entirely.
func New(anomalyLog *AnomalyLog, load LoadReader) *Policy {
	return &Policy{
		users: make(map[string]*userState),
		log:   anomalyLog,
		load:  load,
		now:   time.Now,
	}
}

// SetProfile adds or replaces a user's profile. Passing IsBlocked=true
// blocks the user starting with the next checkCanStart call.
func (p *Policy) SetProfile(profile types.UserProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.users[profile.UserID]
	if !ok {
		st = &userState{running: make(map[string]bool)}
		p.users[profile.UserID] = st
	}
	st.profile = profile
	st.limiter = rate.NewLimiter(rate.Limit(float64(profile.MaxRequestsPerMinute))/60, profile.MaxRequestsPerMinute)
}

// Block marks userID as blocked with reason, effective immediately.
func (p *Policy) Block(userID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.users[userID]; ok {
		st.profile.IsBlocked = true
		st.profile.BlockedReason = reason
	}
}

// MarkStarted records that userID's sandbox serviceID transitioned to
// running, for the concurrency check. MarkStopped reverses it.
func (p *Policy) MarkStarted(userID, serviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.users[userID]; ok {
		st.running[serviceID] = true
	}
}

func (p *Policy) MarkStopped(userID, serviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.users[userID]; ok {
		delete(st.running, serviceID)
	}
}

// CheckCanStart runs the six admission checks in order, short-circuiting
// on the first failure. Every denial or throttle is appended to the
// anomaly log.
func (p *Policy) CheckCanStart(userID, serviceID string, port int) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.users[userID]
	if !ok {
		profile := types.TierDefaults(types.TierFree)
		profile.UserID = userID
		st = &userState{profile: profile, running: make(map[string]bool)}
		st.limiter = rate.NewLimiter(rate.Limit(float64(profile.MaxRequestsPerMinute))/60, profile.MaxRequestsPerMinute)
		p.users[userID] = st
	}

	now := p.now()

	if st.profile.IsBlocked {
		return p.deny(userID, serviceID, types.AnomalyUnauthorizedAccess, types.SeverityHigh, st.profile.BlockedReason)
	}

	reservation := st.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return p.deny(userID, serviceID, types.AnomalyRateLimitExceeded, types.SeverityMedium, "rate limit exceeded")
	}
	if eta := reservation.DelayFrom(now); eta > 0 {
		reservation.Cancel()
		return p.throttleOrDeny(userID, serviceID, types.AnomalyRateLimitExceeded, types.SeverityMedium,
			"rate limit exceeded", eta.Seconds(), false)
	}

	if len(st.running) >= st.profile.MaxConcurrentServices {
		return p.deny(userID, serviceID, types.AnomalyConcurrentLimitExceeded, types.SeverityMedium, "concurrent sandbox limit exceeded")
	}

	st.startEvents = pruneOlderThan(st.startEvents, now, time.Hour)
	if len(st.startEvents) >= st.profile.MaxServicesPerHour {
		return p.deny(userID, serviceID, types.AnomalyHourlyLimitExceeded, types.SeverityMedium, "hourly start limit exceeded")
	}

	if len(st.profile.PortAllowlist) > 0 && !containsInt(st.profile.PortAllowlist, port) {
		return p.deny(userID, serviceID, types.AnomalyUnauthorizedAccess, types.SeverityHigh, "port outside user allowlist")
	}

	delay := p.serverLoadDelay(userID, serviceID)

	st.startEvents = append(st.startEvents, now)
	outcome := "allowed"
	if delay > 0 {
		outcome = "throttled"
	}
	metrics.PolicyDecisionsTotal.WithLabelValues(outcome).Inc()
	return Decision{Allowed: true, DelaySeconds: delay}
}

func (p *Policy) serverLoadDelay(userID, serviceID string) float64 {
	if p.load == nil {
		return 0
	}
	cpu := p.load.CPUPercent()
	mem := p.load.MemPercent()

	cpuOverage := cpu/defaultCPUThreshold - 1
	memOverage := mem/defaultMemThreshold - 1
	overage := cpuOverage
	if memOverage > overage {
		overage = memOverage
	}
	if overage <= 0 {
		return 0
	}

	delay := throttleBase * (1 + overage)
	p.record(userID, serviceID, types.AnomalyServerOverloaded, types.SeverityLow, "server load throttle applied")
	return delay
}

func (p *Policy) deny(userID, serviceID string, t types.AnomalyType, sev types.Severity, reason string) Decision {
	p.record(userID, serviceID, t, sev, reason)
	metrics.PolicyDecisionsTotal.WithLabelValues("denied").Inc()
	return Decision{Allowed: false, Reason: reason}
}

func (p *Policy) throttleOrDeny(userID, serviceID string, t types.AnomalyType, sev types.Severity, reason string, delaySeconds float64, allow bool) Decision {
	p.record(userID, serviceID, t, sev, reason)
	outcome := "denied"
	if allow {
		outcome = "throttled"
	}
	metrics.PolicyDecisionsTotal.WithLabelValues(outcome).Inc()
	return Decision{Allowed: allow, Reason: reason, DelaySeconds: delaySeconds}
}

func (p *Policy) record(userID, serviceID string, t types.AnomalyType, sev types.Severity, details string) {
	if p.log == nil {
		return
	}
	event := types.AnomalyEvent{
		Timestamp: p.now().UTC(),
		Type:      t,
		Severity:  sev,
		UserID:    userID,
		ServiceID: serviceID,
		Details:   details,
	}
	if err := p.log.Append(event); err != nil {
		log.WithComponent("security").Error().Err(err).Msg("failed to append anomaly event")
	}
}

func pruneOlderThan(events []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := events[:0:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
