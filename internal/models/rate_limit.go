package models

import "time"

// Rate-limited action types. Callers pass these to the limiter; the
// per-action policy lives in configuration, not in call sites.
const (
	ActionLogin         = "LOGIN"
	ActionPasswordReset = "PASSWORD_RESET"
	ActionRegistration  = "REGISTRATION"
)

// RateLimitPolicy is the quota for one action type.
type RateLimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitPolicies maps action types to their quota, with a fallback for
// actions not present in the table.
type RateLimitPolicies struct {
	ByAction map[string]RateLimitPolicy
	Default  RateLimitPolicy
}

// For returns the policy for an action, falling back to the default.
func (p RateLimitPolicies) For(action string) RateLimitPolicy {
	if policy, ok := p.ByAction[action]; ok {
		return policy
	}
	return p.Default
}

// DefaultRateLimitPolicies returns the stock policy table.
func DefaultRateLimitPolicies() RateLimitPolicies {
	return RateLimitPolicies{
		ByAction: map[string]RateLimitPolicy{
			ActionLogin:         {MaxAttempts: 5, Window: 30 * time.Minute},
			ActionPasswordReset: {MaxAttempts: 3, Window: 15 * time.Minute},
			ActionRegistration:  {MaxAttempts: 3, Window: 60 * time.Minute},
		},
		Default: RateLimitPolicy{MaxAttempts: 10, Window: 60 * time.Minute},
	}
}
