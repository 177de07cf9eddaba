package models

import "time"

// BlockedIP is one entry in the in-memory IP threat blocklist. Entries are
// never eagerly purged; an expired entry simply stops matching. The blocklist
// is per-instance state and is lost on restart.
type BlockedIP struct {
	IPAddress     string
	BlockedAt     time.Time
	DurationHours int
	Reason        string
}

// ExpiresAt returns the instant the block stops applying.
func (b *BlockedIP) ExpiresAt() time.Time {
	return b.BlockedAt.Add(time.Duration(b.DurationHours) * time.Hour)
}

// ActiveAt reports whether the block still applies at the given time.
func (b *BlockedIP) ActiveAt(now time.Time) bool {
	return now.Before(b.ExpiresAt())
}
