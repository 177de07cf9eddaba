package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/bulwark-auth/bulwark/internal/database"
	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maliciousTypePatterns is the SQL-side mirror of the abuse markers used
// to classify event types. Kept as LIKE patterns so queries can filter
// without pulling every row back.
var maliciousTypePatterns = []string{
	"%MALICIOUS%", "%XSS%", "%SQL%", "%BRUTE_FORCE%", "%BLOCKED%", "%RATE_LIMIT%",
}

// SecurityEventRepository persists security events. Events are append-only;
// the only mutation is marking them resolved.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanEventRow(scanner rowScanner) (*models.SecurityEvent, error) {
	var event models.SecurityEvent

	err := scanner.Scan(
		&event.ID, &event.EventType, &event.Description, &event.IPAddress,
		&event.ActorEmail, &event.Country, &event.City, &event.ISP,
		&event.Resolved, &event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

func scanEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

// Insert persists a fully populated event.
func (r *SecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (id, event_type, description, ip_address, actor_email, country, city, isp, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.EventType, event.Description, event.IPAddress,
		event.ActorEmail, event.Country, event.City, event.ISP,
		event.Resolved, event.CreatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// InsertMinimal persists the raw signal only: what happened, to whom,
// from where, and when. It is the fallback path when a full insert
// fails, so the event survives even when enrichment columns are the
// problem.
func (r *SecurityEventRepository) InsertMinimal(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (id, event_type, description, ip_address, actor_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.EventType, event.Description,
		event.IPAddress, event.ActorEmail, event.CreatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *SecurityEventRepository) ListUnresolved(ctx context.Context) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, description, ip_address, actor_email, country, city, isp, resolved, created_at
		FROM security_events
		WHERE NOT resolved
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved events: %w", err)
	}

	return scanEventRows(rows)
}

// Resolve marks an event handled. Resolving an already-resolved event is
// a no-op, not an error.
func (r *SecurityEventRepository) Resolve(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE security_events SET resolved = true WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *SecurityEventRepository) FindByIP(ctx context.Context, ip string) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, description, ip_address, actor_email, country, city, isp, resolved, created_at
		FROM security_events
		WHERE ip_address = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by ip: %w", err)
	}

	return scanEventRows(rows)
}

// ListSuspiciousActors aggregates unresolved malicious events per actor.
// Risk score is event count plus twice the distinct source IP count,
// capped at 10.
func (r *SecurityEventRepository) ListSuspiciousActors(ctx context.Context) ([]*models.SuspiciousActor, error) {
	query := `
		SELECT actor_email,
		       COUNT(*) AS event_count,
		       COUNT(DISTINCT ip_address) AS distinct_ip_count,
		       LEAST(COUNT(*) + 2 * COUNT(DISTINCT ip_address), 10) AS risk_score
		FROM security_events
		WHERE NOT resolved
		  AND actor_email <> ''
		  AND event_type LIKE ANY ($1)
		GROUP BY actor_email
		ORDER BY risk_score DESC, event_count DESC
	`

	rows, err := r.pool.Query(ctx, query, maliciousTypePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspicious actors: %w", err)
	}
	defer rows.Close()

	actors := make([]*models.SuspiciousActor, 0)

	for rows.Next() {
		var actor models.SuspiciousActor
		err := rows.Scan(&actor.ActorEmail, &actor.EventCount, &actor.DistinctIPCount, &actor.RiskScore)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suspicious actor: %w", err)
		}
		actors = append(actors, &actor)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actor rows: %w", err)
	}

	return actors, nil
}
