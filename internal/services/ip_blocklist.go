package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bulwark-auth/bulwark/internal/models"
)

// IPBlocklist is a concurrent, process-local map of blocked IPs consulted
// on every inbound request. Expiry is checked lazily; an expired entry
// stays in the map until explicitly unblocked or the process restarts.
// The blocklist is per-instance state: in a multi-instance deployment each
// instance holds its own copy and blocks are not propagated.
type IPBlocklist struct {
	mu           sync.RWMutex
	entries      map[string]*models.BlockedIP
	defaultHours int
	logger       *slog.Logger
	now          func() time.Time
}

// NewIPBlocklist creates an empty blocklist with the given default block
// duration in hours.
func NewIPBlocklist(defaultHours int, logger *slog.Logger) *IPBlocklist {
	return &IPBlocklist{
		entries:      make(map[string]*models.BlockedIP),
		defaultHours: defaultHours,
		logger:       logger,
		now:          time.Now,
	}
}

// IsBlocked reports whether ip is currently blocked. Pure expiry check,
// no mutation.
func (b *IPBlocklist) IsBlocked(ip string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[ip]
	if !ok {
		return false
	}
	return entry.ActiveAt(b.now())
}

// Block adds or replaces a block on ip. A non-positive duration uses the
// configured default.
func (b *IPBlocklist) Block(ip string, durationHours int, reason string) {
	if durationHours <= 0 {
		durationHours = b.defaultHours
	}

	b.mu.Lock()
	b.entries[ip] = &models.BlockedIP{
		IPAddress:     ip,
		BlockedAt:     b.now(),
		DurationHours: durationHours,
		Reason:        reason,
	}
	b.mu.Unlock()

	b.logger.Warn("ip blocked",
		slog.String("ip_address", ip),
		slog.Int("duration_hours", durationHours),
		slog.String("reason", reason))
}

// Unblock removes ip from the blocklist. Removing an unknown IP is a no-op.
func (b *IPBlocklist) Unblock(ip string) {
	b.mu.Lock()
	delete(b.entries, ip)
	b.mu.Unlock()

	b.logger.Info("ip unblocked", slog.String("ip_address", ip))
}

// ListBlocked returns the IPs whose block is still active. Expired entries
// remain in the map but are filtered from the listing.
func (b *IPBlocklist) ListBlocked() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.now()
	ips := make([]string, 0, len(b.entries))
	for ip, entry := range b.entries {
		if entry.ActiveAt(now) {
			ips = append(ips, ip)
		}
	}
	return ips
}
