package entitlement

import (
	"strings"
	"time"
)

const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
)

// IsEntitled evaluates a subscription status and period end at the given
// time. Active requires an unexpired period end; a trialing subscription
// is trusted without one since the provider may not have set it yet.
func IsEntitled(status string, currentPeriodEnd *int64, now time.Time) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusActive:
		return currentPeriodEnd != nil && *currentPeriodEnd > now.Unix()
	case StatusTrialing:
		return currentPeriodEnd == nil || *currentPeriodEnd > now.Unix()
	default:
		return false
	}
}
