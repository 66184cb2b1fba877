// Package job holds queue-side policies shared by the scheduler and the
// claim queries.
package job

import (
	"errors"
	"time"
)

// Claim leases are stored as whole seconds. Anything under a second cannot
// outlive the claim query that stamped it, and anything over an hour just
// pins a crashed runner's rows for no benefit.
const (
	minLeaseSeconds = 1
	maxLeaseSeconds = int(time.Hour / time.Second)
)

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the configured duration was usable as is.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the policy default was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the duration was pulled into the supported range.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy normalises the lease stamped on claimed pending jobs. A row's
// lease is the only record that a runner holds it, so the policy keeps every
// resolved value inside the range the claim query can honour.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the given default lease.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, errors.New("lease policy: default lease must be positive")
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// LeaseDecision is the outcome of resolving one lease request.
type LeaseDecision struct {
	Seconds   int
	Source    LeaseSource
	Requested time.Duration
}

// Clamped reports whether the requested value was adjusted to fit the
// supported range.
func (d LeaseDecision) Clamped() bool {
	return d.Source == LeaseSourceClamped
}

// Resolve normalises the requested duration to whole seconds. Zero falls
// back to the policy default; negative and sub-second requests resolve to
// the minimum rather than producing an unclaimable lease.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	if p == nil {
		return LeaseDecision{Source: LeaseSourceDefault, Requested: request}
	}

	decision := LeaseDecision{Requested: request}
	switch {
	case request > 0:
		decision.Seconds, decision.Source = boundSeconds(request)
	case request == 0:
		decision.Seconds, _ = boundSeconds(p.defaultLease)
		decision.Source = LeaseSourceDefault
	default:
		decision.Seconds = minLeaseSeconds
		decision.Source = LeaseSourceClamped
	}
	return decision
}

func boundSeconds(d time.Duration) (int, LeaseSource) {
	seconds := int(d / time.Second)
	switch {
	case seconds < minLeaseSeconds:
		return minLeaseSeconds, LeaseSourceClamped
	case seconds > maxLeaseSeconds:
		return maxLeaseSeconds, LeaseSourceClamped
	default:
		return seconds, LeaseSourceExplicit
	}
}
