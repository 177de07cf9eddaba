package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPBlocklist_BlockAndCheck(t *testing.T) {
	bl := NewIPBlocklist(24, testLogger())

	assert.False(t, bl.IsBlocked("203.0.113.7"))

	bl.Block("203.0.113.7", 1, "manual")
	assert.True(t, bl.IsBlocked("203.0.113.7"))
	assert.False(t, bl.IsBlocked("203.0.113.8"))
}

func TestIPBlocklist_ExpiresWithoutUnblock(t *testing.T) {
	bl := NewIPBlocklist(24, testLogger())

	current := time.Now()
	bl.now = func() time.Time { return current }

	bl.Block("203.0.113.7", 2, "automatic")
	assert.True(t, bl.IsBlocked("203.0.113.7"))

	current = current.Add(2*time.Hour + time.Minute)

	assert.False(t, bl.IsBlocked("203.0.113.7"), "block must lapse after its duration")

	// The entry stays in the map, it just stops matching
	bl.mu.RLock()
	_, stillThere := bl.entries["203.0.113.7"]
	bl.mu.RUnlock()
	assert.True(t, stillThere)
}

func TestIPBlocklist_DefaultDuration(t *testing.T) {
	bl := NewIPBlocklist(24, testLogger())

	current := time.Now()
	bl.now = func() time.Time { return current }

	bl.Block("203.0.113.7", 0, "")

	current = current.Add(23 * time.Hour)
	assert.True(t, bl.IsBlocked("203.0.113.7"))

	current = current.Add(2 * time.Hour)
	assert.False(t, bl.IsBlocked("203.0.113.7"))
}

func TestIPBlocklist_Unblock(t *testing.T) {
	bl := NewIPBlocklist(24, testLogger())

	bl.Block("203.0.113.7", 24, "manual")
	bl.Unblock("203.0.113.7")
	assert.False(t, bl.IsBlocked("203.0.113.7"))

	// Unblocking an unknown IP is a no-op
	bl.Unblock("198.51.100.1")
}

func TestIPBlocklist_ListBlockedFiltersExpired(t *testing.T) {
	bl := NewIPBlocklist(24, testLogger())

	current := time.Now()
	bl.now = func() time.Time { return current }

	bl.Block("203.0.113.1", 1, "")
	bl.Block("203.0.113.2", 48, "")

	current = current.Add(90 * time.Minute)

	blocked := bl.ListBlocked()
	assert.Equal(t, []string{"203.0.113.2"}, blocked)
}
