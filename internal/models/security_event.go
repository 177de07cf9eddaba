package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Security event types recorded by the event service
const (
	EventTypeLoginFailed       = "LOGIN_FAILED"
	EventTypeLoginSuccess      = "LOGIN_SUCCESS"
	EventTypeMaliciousURL      = "MALICIOUS_URL"
	EventTypeMaliciousInput    = "MALICIOUS_LOGIN_INPUT"
	EventTypeBlockedIPAccess   = "BLOCKED_IP_ACCESS"
	EventTypeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	EventTypeBruteForce        = "BRUTE_FORCE_ATTEMPT"
	EventTypeXSSAttempt        = "XSS_ATTEMPT"
	EventTypeSQLInjection      = "SQL_INJECTION_ATTEMPT"
)

// GeoNotLookedUp is the placeholder stored on the fast persistence path.
// Real geolocation happens lazily, and only when an alert escalates.
const GeoNotLookedUp = "Not Looked Up"

// maliciousMarkers classify an event type as abuse when present as a substring
var maliciousMarkers = []string{
	"MALICIOUS", "XSS", "SQL", "BRUTE_FORCE", "BLOCKED", "RATE_LIMIT",
}

// SecurityEvent represents one detected suspicious action. Events are
// persisted immediately with placeholder geo fields and are never deleted;
// the only mutation is marking them resolved.
type SecurityEvent struct {
	ID          uuid.UUID `db:"id"`
	EventType   string    `db:"event_type"`
	Description string    `db:"description"`
	IPAddress   string    `db:"ip_address"`
	ActorEmail  string    `db:"actor_email"`
	Country     string    `db:"country"`
	City        string    `db:"city"`
	ISP         string    `db:"isp"`
	Resolved    bool      `db:"resolved"`
	CreatedAt   time.Time `db:"created_at"`
}

// IsMalicious reports whether the event type carries a known abuse marker.
func (e *SecurityEvent) IsMalicious() bool {
	return IsMaliciousEventType(e.EventType)
}

// IsMaliciousEventType matches an event type against the abuse markers.
func IsMaliciousEventType(eventType string) bool {
	upper := strings.ToUpper(eventType)
	for _, marker := range maliciousMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// SuspiciousActor aggregates unresolved malicious events by actor email.
// RiskScore = min(eventCount + 2*distinctIPCount, 10).
type SuspiciousActor struct {
	ActorEmail      string `db:"actor_email"`
	EventCount      int    `db:"event_count"`
	DistinctIPCount int    `db:"distinct_ip_count"`
	RiskScore       int    `db:"risk_score"`
}
