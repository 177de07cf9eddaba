package models

import (
	"fmt"
	"time"
)

// DeviceVerification is a short-lived step-up code bound to an
// (email, device) pair. At most one non-expired record exists per pair;
// issuing a new code supersedes any prior one. The persisted AttemptCount
// is authoritative for the retry budget.
type DeviceVerification struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	DeviceID     string     `db:"device_id"`
	Code         string     `db:"code"`
	ExpiresAt    time.Time  `db:"expires_at"`
	Verified     bool       `db:"verified"`
	AttemptCount int        `db:"attempt_count"`
	VerifiedAt   *time.Time `db:"verified_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

// IsExpired checks whether the code has passed its expiry.
func (v *DeviceVerification) IsExpired() bool {
	return time.Now().After(v.ExpiresAt)
}

// RemainingTime formats time left on the code as mm:ss for UI countdowns.
// Returns "00:00" once expired.
func (v *DeviceVerification) RemainingTime() string {
	return FormatRemaining(time.Until(v.ExpiresAt))
}

// FormatRemaining renders a duration as mm:ss, clamped at zero.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// VerifyResult is returned to the authentication flow after a code check.
type VerifyResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	RemainingAttempts int    `json:"remaining_attempts"`
	RemainingTime     string `json:"remaining_time,omitempty"`
}
