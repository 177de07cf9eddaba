package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/google/uuid"
)

// DeviceVerificationRepository persists step-up codes. "Active" means
// unverified and not yet expired. Delete and DeleteExpired never touch
// verified records: verification itself does not expire, only codes do.
type DeviceVerificationRepository interface {
	GetActive(ctx context.Context, email, deviceID string) (*models.DeviceVerification, error)
	Create(ctx context.Context, verification *models.DeviceVerification) error
	Delete(ctx context.Context, email, deviceID string) error
	DeleteExpired(ctx context.Context) (int64, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkVerified(ctx context.Context, id string) error
	IsVerified(ctx context.Context, email, deviceID string) (bool, error)
}

// Human-readable outcomes returned to the verification UI.
const (
	msgTooManyAttempts = "too many failed attempts, request a new code"
	msgNoActiveCode    = "no active verification code found, request a new one"
	msgCodeMismatch    = "incorrect verification code, %d attempts remaining"
	msgVerified        = "device verified"
)

// DeviceVerificationService gates login completion from unrecognized
// devices behind a short-lived emailed code. The persisted attempt count
// is authoritative for the retry budget; the in-memory tracker is purely a
// fast-reject cache, reloaded from the persisted value on every lookup and
// cleared on every write, so a process restart cannot extend the budget.
type DeviceVerificationService struct {
	repo        DeviceVerificationRepository
	email       EmailService
	codeExpiry  time.Duration
	maxAttempts int
	logger      *slog.Logger

	mu       sync.Mutex
	attempts map[string]int // (email|deviceID) -> last known attempt count
}

func NewDeviceVerificationService(
	repo DeviceVerificationRepository,
	email EmailService,
	codeExpiry time.Duration,
	maxAttempts int,
	logger *slog.Logger,
) *DeviceVerificationService {
	return &DeviceVerificationService{
		repo:        repo,
		email:       email,
		codeExpiry:  codeExpiry,
		maxAttempts: maxAttempts,
		logger:      logger,
		attempts:    make(map[string]int),
	}
}

func verificationKey(email, deviceID string) string {
	return email + "|" + deviceID
}

func (s *DeviceVerificationService) cachedAttempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[key]
}

func (s *DeviceVerificationService) setCachedAttempts(key string, count int) {
	s.mu.Lock()
	s.attempts[key] = count
	s.mu.Unlock()
}

func (s *DeviceVerificationService) clearCachedAttempts(key string) {
	s.mu.Lock()
	delete(s.attempts, key)
	s.mu.Unlock()
}

// SendCode issues a verification code for the (email, device) pair and
// returns the code's remaining lifetime as mm:ss. If an unexpired code is
// already outstanding the call is a no-op returning that code's remaining
// time, which keeps resend spam from minting fresh codes.
func (s *DeviceVerificationService) SendCode(ctx context.Context, email, deviceID string) (string, error) {
	if email == "" || deviceID == "" {
		return "", models.ErrBadRequest
	}

	// Opportunistic global sweep of expired codes; no background timer
	// is needed for correctness, this just keeps the table small.
	if n, err := s.repo.DeleteExpired(ctx); err != nil {
		s.logger.Error("expired code sweep failed", slog.Any("error", err))
	} else if n > 0 {
		s.logger.Info("swept expired verification codes", slog.Int64("deleted", n))
	}

	existing, err := s.repo.GetActive(ctx, email, deviceID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("failed to check outstanding code: %w", err)
	}
	// Only an unexpired code counts as outstanding. An expired record can
	// still surface here when the sweep above failed; it must not block a
	// fresh issue.
	if err == nil && !existing.IsExpired() {
		s.logger.Info("verification code already outstanding, not resending",
			slog.String("device_id", deviceID))
		return existing.RemainingTime(), nil
	}

	// Supersede whatever stale unverified record the pair may have
	if err := s.repo.Delete(ctx, email, deviceID); err != nil {
		return "", fmt.Errorf("failed to supersede stale code: %w", err)
	}

	code, err := generateNumericCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	verification := &models.DeviceVerification{
		ID:        uuid.NewString(),
		Email:     email,
		DeviceID:  deviceID,
		Code:      code,
		ExpiresAt: time.Now().Add(s.codeExpiry),
	}

	if err := s.repo.Create(ctx, verification); err != nil {
		return "", fmt.Errorf("failed to store verification code: %w", err)
	}

	s.clearCachedAttempts(verificationKey(email, deviceID))

	if err := s.email.SendDeviceCode(ctx, email, code, verification.ExpiresAt); err != nil {
		// Undo the record so the user is not locked behind a code that
		// never reached them.
		_ = s.repo.Delete(ctx, email, deviceID)
		return "", fmt.Errorf("failed to deliver code: %w", err)
	}

	s.logger.Info("verification code issued", slog.String("device_id", deviceID))
	return models.FormatRemaining(s.codeExpiry), nil
}

// VerifyCode checks a submitted code against the active record for the
// pair. The attempt-budget fast reject runs before any lookup and purges
// the persisted record so an exhausted code cannot be reused. Exhaustion
// returns models.ErrTooManyAttempts alongside a populated result so
// callers can escalate without inspecting message text.
func (s *DeviceVerificationService) VerifyCode(ctx context.Context, email, deviceID, input string) (*models.VerifyResult, error) {
	if email == "" || deviceID == "" || input == "" {
		return nil, models.ErrBadRequest
	}

	key := verificationKey(email, deviceID)

	if s.cachedAttempts(key) >= s.maxAttempts {
		if err := s.repo.Delete(ctx, email, deviceID); err != nil {
			s.logger.Error("failed to purge exhausted code", slog.Any("error", err))
		}
		return &models.VerifyResult{Success: false, Message: msgTooManyAttempts}, models.ErrTooManyAttempts
	}

	record, err := s.repo.GetActive(ctx, email, deviceID)
	if errors.Is(err, models.ErrNotFound) {
		// Distinct from a wrong code: there is nothing to check against
		return &models.VerifyResult{Success: false, Message: msgNoActiveCode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification code: %w", err)
	}

	// The repo filters expired rows, but enforce expiry here too so a
	// stale read can never verify a dead code.
	if record.IsExpired() {
		return &models.VerifyResult{Success: false, Message: msgNoActiveCode}, nil
	}

	// The persisted count is authoritative; refresh the cache from it so
	// a restarted process picks up where the budget left off.
	s.setCachedAttempts(key, record.AttemptCount)
	if record.AttemptCount >= s.maxAttempts {
		if err := s.repo.Delete(ctx, email, deviceID); err != nil {
			s.logger.Error("failed to purge exhausted code", slog.Any("error", err))
		}
		return &models.VerifyResult{Success: false, Message: msgTooManyAttempts}, models.ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(input)) == 1 {
		if err := s.repo.MarkVerified(ctx, record.ID); err != nil {
			return nil, fmt.Errorf("failed to mark device verified: %w", err)
		}
		s.clearCachedAttempts(key)
		s.logger.Info("device verified", slog.String("device_id", deviceID))

		return &models.VerifyResult{
			Success:           true,
			Message:           msgVerified,
			RemainingAttempts: s.maxAttempts - record.AttemptCount,
			RemainingTime:     record.RemainingTime(),
		}, nil
	}

	count, err := s.repo.IncrementAttempts(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}
	s.setCachedAttempts(key, count)

	remaining := s.maxAttempts - count
	if remaining <= 0 {
		if err := s.repo.Delete(ctx, email, deviceID); err != nil {
			s.logger.Error("failed to purge exhausted code", slog.Any("error", err))
		}
		return &models.VerifyResult{Success: false, Message: msgTooManyAttempts}, models.ErrTooManyAttempts
	}

	return &models.VerifyResult{
		Success:           false,
		Message:           fmt.Sprintf(msgCodeMismatch, remaining),
		RemainingAttempts: remaining,
		RemainingTime:     record.RemainingTime(),
	}, nil
}

// IsVerified reports whether the pair has completed step-up verification.
// Verification does not expire; only codes do.
func (s *DeviceVerificationService) IsVerified(ctx context.Context, email, deviceID string) bool {
	verified, err := s.repo.IsVerified(ctx, email, deviceID)
	if err != nil {
		s.logger.Error("failed to check device verification", slog.Any("error", err))
		return false
	}
	return verified
}

// RemainingTime returns the active code's remaining lifetime as mm:ss,
// or "00:00" when no code is outstanding.
func (s *DeviceVerificationService) RemainingTime(ctx context.Context, email, deviceID string) string {
	record, err := s.repo.GetActive(ctx, email, deviceID)
	if err != nil {
		return "00:00"
	}
	return record.RemainingTime()
}

// generateNumericCode returns a uniformly random 6-digit code.
func generateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
