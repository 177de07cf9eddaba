package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bulwark-auth/bulwark/internal/auth"
	"github.com/bulwark-auth/bulwark/internal/models"
	pkgauth "github.com/bulwark-auth/bulwark/pkg/auth"
	pkglogger "github.com/bulwark-auth/bulwark/pkg/logger"
)

// UserRepository defines the account lookups the login flow needs.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// EventRecorder is the fire-and-forget security event sink. Recording
// never blocks or fails the login path.
type EventRecorder interface {
	Log(eventType, description, ipAddress, actorEmail string)
}

// DeviceVerifier is the step-up verification flow consumed by login.
type DeviceVerifier interface {
	SendCode(ctx context.Context, email, deviceID string) (string, error)
	VerifyCode(ctx context.Context, email, deviceID, input string) (*models.VerifyResult, error)
	IsVerified(ctx context.Context, email, deviceID string) bool
}

// LoginInput carries everything the abuse checks need alongside the
// credentials themselves.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
	DeviceID  string
}

// VerifyDeviceInput is a submitted step-up code.
type VerifyDeviceInput struct {
	Email     string
	DeviceID  string
	Code      string
	IPAddress string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// LoginResult is the outcome of a login attempt that passed the abuse
// gates. Either StepUpRequired is set (a code was emailed, no tokens) or
// the token pair is populated.
type LoginResult struct {
	StepUpRequired bool          `json:"step_up_required"`
	CodeExpiresIn  string        `json:"code_expires_in,omitempty"`
	AccessToken    string        `json:"access_token,omitempty"`
	RefreshToken   string        `json:"refresh_token,omitempty"`
	User           *UserResponse `json:"user,omitempty"`
}

// AuthService runs the login pipeline: blocklist gate, input
// classification, rate limiting, credential check, then device step-up.
// The gates run in that order so cheap checks reject abuse before the
// bcrypt compare spends CPU.
type AuthService struct {
	users      UserRepository
	tm         *auth.TokenManager
	limiter    RateLimiter
	blocklist  *IPBlocklist
	classifier InputClassifier
	events     EventRecorder
	verifier   DeviceVerifier
	email      EmailService
	threatLog  *pkglogger.ThreatLogger
	logger     *slog.Logger
}

func NewAuthService(
	users UserRepository,
	tm *auth.TokenManager,
	limiter RateLimiter,
	blocklist *IPBlocklist,
	classifier InputClassifier,
	events EventRecorder,
	verifier DeviceVerifier,
	email EmailService,
	threatLog *pkglogger.ThreatLogger,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		tm:         tm,
		limiter:    limiter,
		blocklist:  blocklist,
		classifier: classifier,
		events:     events,
		verifier:   verifier,
		email:      email,
		threatLog:  threatLog,
		logger:     logger,
	}
}

// Rate limit subjects are prefixed so an email can never collide with an
// IP in the counter keyspace.
func emailSubject(email string) string { return "email:" + email }
func ipSubject(ip string) string       { return "ip:" + ip }

// Login authenticates a user. Attempts are limited per email AND per
// source IP; either quota alone denies the attempt.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, models.ErrBadRequest
	}

	if s.blocklist.IsBlocked(input.IPAddress) {
		s.events.Log(models.EventTypeBlockedIPAccess,
			"login attempt from blocked IP", input.IPAddress, email)
		s.threatLog.LogThreat(pkglogger.ThreatEvent{
			EventType: models.EventTypeBlockedIPAccess,
			Email:     email,
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
		})
		return nil, models.ErrIPBlocked
	}

	if s.classifier.Classify(email) || s.classifier.Classify(input.Password) {
		s.events.Log(models.EventTypeMaliciousInput,
			"injection pattern in login credentials", input.IPAddress, email)
		s.threatLog.LogThreat(pkglogger.ThreatEvent{
			EventType: models.EventTypeMaliciousInput,
			Email:     email,
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
		})
		return nil, models.ErrMaliciousInput
	}

	if err := s.checkQuota(ctx, email, input.IPAddress); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Indistinguishable from a wrong password on the outside
			s.recordFailure(ctx, email, input.IPAddress, "unknown account")
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.Password); err != nil {
		s.recordFailure(ctx, email, input.IPAddress, "wrong password")
		return nil, models.ErrInvalidCredentials
	}

	// Credentials are good. Unrecognized devices get a step-up challenge
	// instead of tokens.
	if !s.verifier.IsVerified(ctx, email, input.DeviceID) {
		expiresIn, err := s.verifier.SendCode(ctx, email, input.DeviceID)
		if err != nil {
			s.logger.Error("failed to issue step-up code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.threatLog.LogAuthAttempt(pkglogger.ThreatEvent{
			EventType: "login_step_up",
			Email:     email,
			IPAddress: input.IPAddress,
			Success:   true,
			Detail:    "unrecognized device, code sent",
		})
		return &LoginResult{StepUpRequired: true, CodeExpiresIn: expiresIn}, nil
	}

	return s.issueTokens(ctx, user, input.IPAddress)
}

// VerifyDevice checks a submitted step-up code and, on success, issues
// the token pair the original login withheld.
func (s *AuthService) VerifyDevice(ctx context.Context, input VerifyDeviceInput) (*LoginResult, *models.VerifyResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	result, err := s.verifier.VerifyCode(ctx, email, input.DeviceID, input.Code)
	switch {
	case errors.Is(err, models.ErrTooManyAttempts):
		s.events.Log(models.EventTypeBruteForce,
			"verification attempt budget exhausted", input.IPAddress, email)
		s.threatLog.LogThreat(pkglogger.ThreatEvent{
			EventType: models.EventTypeBruteForce,
			Email:     email,
			IPAddress: input.IPAddress,
		})
		return nil, result, nil
	case errors.Is(err, models.ErrBadRequest):
		return nil, nil, err
	case err != nil:
		s.logger.Error("device verification failed", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	if !result.Success {
		return nil, result, nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Error("failed to load user after verification", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	login, err := s.issueTokens(ctx, user, input.IPAddress)
	if err != nil {
		return nil, nil, err
	}

	return login, result, nil
}

// ResendCode re-issues the step-up code for a pair, subject to the
// password-reset quota so the mailer cannot be used as a spam cannon.
func (s *AuthService) ResendCode(ctx context.Context, email, deviceID, ipAddress string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	allowed, err := s.limiter.Allow(ctx, ipSubject(ipAddress), models.ActionPasswordReset)
	if err != nil {
		s.logger.Error("resend quota check failed", slog.Any("error", err))
	} else if !allowed {
		s.events.Log(models.EventTypeRateLimitExceeded,
			"code resend quota exhausted", ipAddress, email)
		return "", models.ErrRateLimitExceeded
	}

	if err := s.limiter.Record(ctx, ipSubject(ipAddress), models.ActionPasswordReset); err != nil {
		s.logger.Error("failed to record resend attempt", slog.Any("error", err))
	}

	return s.verifier.SendCode(ctx, email, deviceID)
}

func (s *AuthService) checkQuota(ctx context.Context, email, ip string) error {
	for _, subject := range []string{emailSubject(email), ipSubject(ip)} {
		allowed, err := s.limiter.Allow(ctx, subject, models.ActionLogin)
		if err != nil {
			// Fail open: a broken counter store must not lock everyone out
			s.logger.Error("rate limit check failed", slog.Any("error", err))
			continue
		}
		if !allowed {
			s.events.Log(models.EventTypeRateLimitExceeded,
				"login quota exhausted", ip, email)
			s.threatLog.LogThreat(pkglogger.ThreatEvent{
				EventType: models.EventTypeRateLimitExceeded,
				Email:     email,
				IPAddress: ip,
			})
			return models.ErrRateLimitExceeded
		}
	}
	return nil
}

// recordFailure charges both quota subjects and records the event.
// Successful logins deliberately do not reset the window; the fixed
// window expires on its own.
func (s *AuthService) recordFailure(ctx context.Context, email, ip, reason string) {
	for _, subject := range []string{emailSubject(email), ipSubject(ip)} {
		if err := s.limiter.Record(ctx, subject, models.ActionLogin); err != nil {
			s.logger.Error("failed to record login attempt", slog.Any("error", err))
		}
	}

	s.events.Log(models.EventTypeLoginFailed, reason, ip, email)
	s.threatLog.LogAuthAttempt(pkglogger.ThreatEvent{
		EventType: "login_failed",
		Email:     email,
		IPAddress: ip,
		Success:   false,
		Detail:    reason,
	})
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User, ip string) (*LoginResult, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.events.Log(models.EventTypeLoginSuccess, "successful login", ip, user.Email)
	s.threatLog.LogAuthAttempt(pkglogger.ThreatEvent{
		EventType: "login_success",
		Email:     user.Email,
		IPAddress: ip,
		Success:   true,
	})

	// Notify out of band; delivery failures never fail the login
	go func(email, ip string) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.email.SendLoginNotification(notifyCtx, email, ip, time.Now()); err != nil {
			s.logger.Warn("login notification delivery failed", slog.Any("error", err))
		}
	}(user.Email, ip)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User: &UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Name:      user.Name,
			Role:      user.Role,
			CreatedAt: user.CreatedAt.Format(time.RFC3339),
		},
	}, nil
}

// validateAccountState rejects logins for accounts that are not active.
func validateAccountState(user *models.User) error {
	switch user.Status {
	case "active":
		return nil
	case "suspended":
		return models.ErrAccountSuspended
	case "disabled":
		return models.ErrAccountDisabled
	default:
		return fmt.Errorf("unknown account status %q: %w", user.Status, models.ErrForbidden)
	}
}
