package middleware

import (
	"net/http"
	"net/url"

	"github.com/bulwark-auth/bulwark/internal/models"
	pkghttp "github.com/bulwark-auth/bulwark/pkg/http"
)

// BlocklistChecker answers whether a source address is currently blocked.
type BlocklistChecker interface {
	IsBlocked(ip string) bool
}

// RequestClassifier flags malicious payloads in request data.
type RequestClassifier interface {
	Classify(input string) bool
}

// ThreatRecorder is the fire-and-forget security event sink.
type ThreatRecorder interface {
	Log(eventType, description, ipAddress, actorEmail string)
}

// ThreatGate rejects requests from blocked IPs and requests whose URL
// carries injection payloads, before any handler runs. Body inspection
// stays in the service layer where fields have meaning; this gate only
// sees the request line.
func ThreatGate(
	blocklist BlocklistChecker,
	classifier RequestClassifier,
	recorder ThreatRecorder,
	ipConfig *pkghttp.IPConfig,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)

			if blocklist.IsBlocked(ip) {
				recorder.Log(models.EventTypeBlockedIPAccess,
					"request from blocked IP: "+r.URL.Path, ip, "")
				pkghttp.WriteForbidden(w, "Access denied")
				return
			}

			// Percent-encoding would hide payloads from the pattern
			// match, so classify the decoded query.
			query := r.URL.RawQuery
			if decoded, err := url.QueryUnescape(query); err == nil {
				query = decoded
			}

			if classifier.Classify(r.URL.Path) || classifier.Classify(query) {
				recorder.Log(models.EventTypeMaliciousURL,
					"injection pattern in request URL", ip, "")
				pkghttp.WriteForbidden(w, "Access denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
