package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// GeoLocation is the enrichment attached to an escalated security alert.
type GeoLocation struct {
	Country string
	City    string
	ISP     string
}

// UnknownLocation is the fallback when the lookup fails or times out.
func UnknownLocation() GeoLocation {
	return GeoLocation{Country: "Unknown", City: "Unknown", ISP: "Unknown"}
}

// GeoIPService resolves an IP address to a coarse location. Lookups hit an
// external HTTP API and are used only on the rare alert-escalation path;
// they must never block the event pipeline beyond the configured timeout.
type GeoIPService interface {
	Lookup(ctx context.Context, ip string) GeoLocation
}

// HTTPGeoIPService queries an ip-api.com style JSON endpoint.
type HTTPGeoIPService struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewHTTPGeoIPService(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPGeoIPService {
	return &HTTPGeoIPService{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		timeout:  timeout,
		logger:   logger,
	}
}

type geoIPResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

// Lookup resolves ip, falling back to Unknown on any failure. It never
// returns an error: a broken geolocation provider degrades the alert
// enrichment, not the alert.
func (s *HTTPGeoIPService) Lookup(ctx context.Context, ip string) GeoLocation {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s?fields=status,country,city,isp", s.endpoint, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.logger.Error("failed to build geoip request", slog.Any("error", err))
		return UnknownLocation()
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("geoip lookup failed",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		return UnknownLocation()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("geoip lookup returned non-200",
			slog.String("ip_address", ip),
			slog.Int("status", resp.StatusCode))
		return UnknownLocation()
	}

	var body geoIPResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.logger.Warn("failed to decode geoip response", slog.Any("error", err))
		return UnknownLocation()
	}

	if body.Status != "success" {
		return UnknownLocation()
	}

	loc := GeoLocation{Country: body.Country, City: body.City, ISP: body.ISP}
	if loc.Country == "" {
		loc.Country = "Unknown"
	}
	if loc.City == "" {
		loc.City = "Unknown"
	}
	if loc.ISP == "" {
		loc.ISP = "Unknown"
	}
	return loc
}
