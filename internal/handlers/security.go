package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bulwark-auth/bulwark/internal/models"
	pkghttp "github.com/bulwark-auth/bulwark/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SecurityEventReader exposes the persisted event queries the admin
// surface needs.
type SecurityEventReader interface {
	ListUnresolved(ctx context.Context) ([]*models.SecurityEvent, error)
	Resolve(ctx context.Context, id uuid.UUID) error
	FindByIP(ctx context.Context, ip string) ([]*models.SecurityEvent, error)
	ListSuspiciousActors(ctx context.Context) ([]*models.SuspiciousActor, error)
}

// BlocklistManager is the admin view of the IP blocklist.
type BlocklistManager interface {
	Block(ip string, durationHours int, reason string)
	Unblock(ip string)
	ListBlocked() []string
}

// SecurityHandler serves the admin security surface: the blocklist and
// the recorded event stream.
type SecurityHandler struct {
	events    SecurityEventReader
	blocklist BlocklistManager
}

func NewSecurityHandler(events SecurityEventReader, blocklist BlocklistManager) *SecurityHandler {
	return &SecurityHandler{events: events, blocklist: blocklist}
}

// BlockIPRequest asks for an IP to be blocked
type BlockIPRequest struct {
	IPAddress     string `json:"ip_address" validate:"required,ip"`
	DurationHours int    `json:"duration_hours" validate:"gte=0,lte=8760"`
	Reason        string `json:"reason" validate:"required,min=3,max=256"`
}

// BlockedIPsResponse lists currently blocked addresses
type BlockedIPsResponse struct {
	BlockedIPs []string `json:"blocked_ips"`
}

// ListBlockedIPs returns the currently active blocks.
func (h *SecurityHandler) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, BlockedIPsResponse{BlockedIPs: h.blocklist.ListBlocked()})
}

// BlockIP adds an address to the blocklist. DurationHours of zero uses
// the configured default.
func (h *SecurityHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.blocklist.Block(req.IPAddress, req.DurationHours, req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

// UnblockIP removes an address from the blocklist. Unblocking an address
// that is not blocked is a no-op.
func (h *SecurityHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		pkghttp.WriteBadRequest(w, "IP address is required")
		return
	}

	h.blocklist.Unblock(ip)
	w.WriteHeader(http.StatusNoContent)
}

// ListUnresolvedEvents returns all events awaiting operator review.
func (h *SecurityHandler) ListUnresolvedEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListUnresolved(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list events")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, events)
}

// ResolveEvent marks an event as handled.
func (h *SecurityHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid event ID")
		return
	}

	if err := h.events.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Event not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to resolve event")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListEventsByIP returns every event recorded against one address.
func (h *SecurityHandler) ListEventsByIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		pkghttp.WriteBadRequest(w, "IP address is required")
		return
	}

	events, err := h.events.FindByIP(r.Context(), ip)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list events")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, events)
}

// ListSuspiciousActors returns the risk-ranked actor aggregation.
func (h *SecurityHandler) ListSuspiciousActors(w http.ResponseWriter, r *http.Request) {
	actors, err := h.events.ListSuspiciousActors(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list suspicious actors")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, actors)
}
