// Package rotation decides when OAuth tokens must be refreshed and performs
// the refresh end to end: policy evaluation, decryption of the stored refresh
// token, the provider exchange, re-encryption, and the store write-back.
package rotation

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// expiryWindow triggers a proactive refresh before the access token
	// actually expires.
	expiryWindow = 24 * time.Hour

	// maxRotationAge is a conservative ceiling: rotate anything not
	// refreshed for this long, even with a far-future expiry.
	maxRotationAge = 7 * 24 * time.Hour

	// minRotationInterval suppresses rotation storms from rapid repeated
	// calls hammering the provider's token endpoint.
	minRotationInterval = 10 * time.Minute
)

// Policy is the pure rotate/no-rotate decision. The clock is injected so
// boundary behavior is testable.
type Policy struct {
	clock clockwork.Clock
}

// NewPolicy creates a policy evaluator using the given clock.
func NewPolicy(clock clockwork.Clock) *Policy {
	return &Policy{clock: clock}
}

// ShouldRotate reports whether a token with the given expiry and
// last-rotation time must be rotated now. force rotates unconditionally and
// bypasses the minimum-interval guard.
func (p *Policy) ShouldRotate(expiresAt, lastRotatedAt *time.Time, force bool) bool {
	if force {
		return true
	}

	now := p.clock.Now()

	var due bool
	switch {
	case expiresAt == nil && lastRotatedAt == nil:
		// Nothing known about this token: rotate to establish a baseline.
		due = true
	case expiresAt == nil:
		due = now.Sub(*lastRotatedAt) > maxRotationAge
	default:
		due = expiresAt.Sub(now) <= expiryWindow ||
			(lastRotatedAt != nil && now.Sub(*lastRotatedAt) > maxRotationAge)
	}
	if !due {
		return false
	}

	if lastRotatedAt != nil && now.Sub(*lastRotatedAt) < minRotationInterval {
		return false
	}
	return true
}

// ShouldRotateLoose evaluates the policy over loosely typed timestamps
// (time.Time, RFC3339 string, or numeric epoch milliseconds), as supplied by
// external callers. An unparseable expiry counts as expired, biasing toward
// rotation rather than silently trusting a token that might be bad.
func (p *Policy) ShouldRotateLoose(expiresAt, lastRotatedAt any, force bool) bool {
	exp, ok := NormalizeTimestamp(expiresAt)
	if !ok {
		now := p.clock.Now()
		exp = &now
	}
	last, ok := NormalizeTimestamp(lastRotatedAt)
	if !ok {
		last = nil
	}
	return p.ShouldRotate(exp, last, force)
}

// NormalizeTimestamp converts a loosely typed timestamp into *time.Time.
// Accepted forms: nil, time.Time, *time.Time, RFC3339 string, and numeric
// epoch milliseconds. The second return is false when the value is present
// but unparseable.
func NormalizeTimestamp(v any) (*time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case time.Time:
		if t.IsZero() {
			return nil, true
		}
		return &t, true
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil, true
		}
		return t, true
	case string:
		if t == "" {
			return nil, true
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil, false
		}
		return &parsed, true
	case int64:
		return epochMillis(t), true
	case int:
		return epochMillis(int64(t)), true
	case float64:
		return epochMillis(int64(t)), true
	default:
		return nil, false
	}
}

func epochMillis(ms int64) *time.Time {
	t := time.UnixMilli(ms).UTC()
	return &t
}
