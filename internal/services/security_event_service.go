package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/google/uuid"
)

// SecurityEventRepository persists security events. Insert stores the full
// row; InsertMinimal is the fallback path storing only the core columns so
// a secondary failure never silently drops the signal.
type SecurityEventRepository interface {
	Insert(ctx context.Context, event *models.SecurityEvent) error
	InsertMinimal(ctx context.Context, event *models.SecurityEvent) error
	ListUnresolved(ctx context.Context) ([]*models.SecurityEvent, error)
	Resolve(ctx context.Context, id uuid.UUID) error
	FindByIP(ctx context.Context, ip string) ([]*models.SecurityEvent, error)
	ListSuspiciousActors(ctx context.Context) ([]*models.SuspiciousActor, error)
}

// ActorDirectory is the cheap, local account lookup used to resolve actor
// context. No network I/O happens behind this interface.
type ActorDirectory interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// SecurityEventConfig tunes the recorder and its alert escalation.
type SecurityEventConfig struct {
	AlertThreshold int64         // alert fires when the burst counter equals exactly this
	AlertWindow    time.Duration // TTL of the burst counter
	AlertEmail     string        // operator address; empty disables delivery
	QueueSize      int
	Workers        int
}

// SecurityEventService records suspicious activity. Callers treat Log as
// fire-and-forget: events flow through a bounded queue to a worker pool so
// persistence and enrichment never add latency to the request that
// triggered them. When the queue is full the event is processed
// synchronously instead of dropped.
type SecurityEventService struct {
	repo   SecurityEventRepository
	actors ActorDirectory
	store  CounterStore
	geo    GeoIPService
	email  EmailService
	cfg    SecurityEventConfig
	logger *slog.Logger

	queue chan *models.SecurityEvent
	wg    sync.WaitGroup
}

// NewSecurityEventService creates the recorder. Call Start before Log.
func NewSecurityEventService(
	repo SecurityEventRepository,
	actors ActorDirectory,
	store CounterStore,
	geo GeoIPService,
	email EmailService,
	cfg SecurityEventConfig,
	logger *slog.Logger,
) *SecurityEventService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	return &SecurityEventService{
		repo:   repo,
		actors: actors,
		store:  store,
		geo:    geo,
		email:  email,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *models.SecurityEvent, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (s *SecurityEventService) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for event := range s.queue {
				s.process(context.Background(), event)
			}
		}()
	}
}

// Stop drains the queue and waits for in-flight events to finish.
func (s *SecurityEventService) Stop() {
	close(s.queue)
	s.wg.Wait()
	s.logger.Info("security event pipeline stopped")
}

// Log records a security event. It never blocks the caller on I/O and
// never returns an error: failures inside the pipeline are contained and
// logged, not propagated to the request that triggered the event.
func (s *SecurityEventService) Log(eventType, description, ipAddress, actorEmail string) {
	event := s.newEvent(eventType, description, ipAddress, actorEmail)

	select {
	case s.queue <- event:
	default:
		// Queue full. A brief synchronous insert beats losing the signal.
		s.logger.Warn("security event queue full, processing synchronously")
		s.process(context.Background(), event)
	}
}

func (s *SecurityEventService) newEvent(eventType, description, ipAddress, actorEmail string) *models.SecurityEvent {
	if actorEmail == "" {
		actorEmail = "unknown"
	}

	return &models.SecurityEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		Description: description,
		IPAddress:   ipAddress,
		ActorEmail:  actorEmail,
		Country:     models.GeoNotLookedUp,
		City:        models.GeoNotLookedUp,
		ISP:         models.GeoNotLookedUp,
		CreatedAt:   time.Now().UTC(),
	}
}

// process runs the full pipeline for one event: actor resolution, fast
// persistence with placeholder geo fields, burst counting, and at the
// exact threshold a single enriched alert.
func (s *SecurityEventService) process(ctx context.Context, event *models.SecurityEvent) {
	s.resolveActor(ctx, event)
	s.persist(ctx, event)

	if !event.IsMalicious() {
		return
	}

	count, err := s.store.Increment(ctx, "abuse:"+event.IPAddress+":"+event.EventType, s.cfg.AlertWindow)
	if err != nil {
		s.logger.Error("failed to increment abuse counter",
			slog.String("ip_address", event.IPAddress),
			slog.Any("error", err))
		return
	}

	// Alert exactly once per burst: only the hit that lands on the
	// threshold escalates. A fresh burst after the counter's TTL expiry
	// will alert again at its own threshold hit.
	if count == s.cfg.AlertThreshold {
		s.escalate(ctx, event, count)
	}
}

// resolveActor checks the actor against the local account directory. The
// event keeps whatever identifier the caller supplied; the lookup only
// adds context to the log line.
func (s *SecurityEventService) resolveActor(ctx context.Context, event *models.SecurityEvent) {
	if event.ActorEmail == "unknown" {
		return
	}

	_, err := s.actors.GetByEmail(ctx, event.ActorEmail)
	switch {
	case err == nil:
		s.logger.Info("security event from known account",
			slog.String("event_type", event.EventType),
			slog.String("ip_address", event.IPAddress))
	case errors.Is(err, models.ErrNotFound):
		s.logger.Info("security event from unrecognized actor",
			slog.String("event_type", event.EventType),
			slog.String("ip_address", event.IPAddress))
	default:
		s.logger.Error("actor lookup failed", slog.Any("error", err))
	}
}

// persist stores the event immediately with placeholder geo fields. If the
// full insert fails, a minimal record is stored instead so the signal
// survives a partial schema or serialization problem.
func (s *SecurityEventService) persist(ctx context.Context, event *models.SecurityEvent) {
	err := s.repo.Insert(ctx, event)
	if err == nil {
		return
	}
	s.logger.Error("failed to persist security event, falling back to minimal record",
		slog.String("event_type", event.EventType),
		slog.Any("error", err))

	if err := s.repo.InsertMinimal(ctx, event); err != nil {
		s.logger.Error("failed to persist minimal security event, signal lost",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}

// escalate performs the expensive enrichment lazily, then delivers the
// operator alert. Delivery failures are logged and swallowed.
func (s *SecurityEventService) escalate(ctx context.Context, event *models.SecurityEvent, count int64) {
	geo := s.geo.Lookup(ctx, event.IPAddress)

	s.logger.Warn("abuse burst escalated",
		slog.String("event_type", event.EventType),
		slog.String("ip_address", event.IPAddress),
		slog.Int64("hit_count", count),
		slog.String("country", geo.Country))

	if s.cfg.AlertEmail == "" {
		s.logger.Warn("no alert email configured, alert not delivered")
		return
	}

	if err := s.email.SendSecurityAlert(ctx, s.cfg.AlertEmail, event, geo, count); err != nil {
		s.logger.Error("failed to deliver security alert",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}

// ListUnresolved returns every open event, newest first.
func (s *SecurityEventService) ListUnresolved(ctx context.Context) ([]*models.SecurityEvent, error) {
	return s.repo.ListUnresolved(ctx)
}

// Resolve marks an event handled. Resolving an already-resolved event is a
// no-op success.
func (s *SecurityEventService) Resolve(ctx context.Context, id uuid.UUID) error {
	return s.repo.Resolve(ctx, id)
}

// FindByIP returns every event recorded for an IP, newest first.
func (s *SecurityEventService) FindByIP(ctx context.Context, ip string) ([]*models.SecurityEvent, error) {
	return s.repo.FindByIP(ctx, ip)
}

// ListSuspiciousActors groups unresolved malicious events by actor and
// ranks them by risk score.
func (s *SecurityEventService) ListSuspiciousActors(ctx context.Context) ([]*models.SuspiciousActor, error) {
	return s.repo.ListSuspiciousActors(ctx)
}
