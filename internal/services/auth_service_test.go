package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bulwark-auth/bulwark/internal/auth"
	"github.com/bulwark-auth/bulwark/internal/models"
	pkglogger "github.com/bulwark-auth/bulwark/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockUserRepo struct {
	users map[string]*models.User
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.users[user.Email] = user
	return user, nil
}

// recorderSpy captures events synchronously so tests can assert on the
// exact sequence the login pipeline emitted.
type recorderSpy struct {
	mu     sync.Mutex
	events []string
}

func (r *recorderSpy) Log(eventType, description, ipAddress, actorEmail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recorderSpy) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type stubVerifier struct {
	verified     bool
	sendErr      error
	verifyResult *models.VerifyResult
	verifyErr    error
	codesSent    int
}

func (s *stubVerifier) SendCode(ctx context.Context, email, deviceID string) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.codesSent++
	return "05:00", nil
}

func (s *stubVerifier) VerifyCode(ctx context.Context, email, deviceID, input string) (*models.VerifyResult, error) {
	return s.verifyResult, s.verifyErr
}

func (s *stubVerifier) IsVerified(ctx context.Context, email, deviceID string) bool {
	return s.verified
}

type authFixture struct {
	svc      *AuthService
	users    *mockUserRepo
	events   *recorderSpy
	verifier *stubVerifier
	block    *IPBlocklist
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-1A"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &mockUserRepo{users: map[string]*models.User{
		"alice@example.com": {
			ID:           "u1",
			Email:        "alice@example.com",
			PasswordHash: string(hash),
			Name:         "Alice",
			Role:         "user",
			Status:       "active",
			CreatedAt:    time.Now(),
		},
		"mallory@example.com": {
			ID:           "u2",
			Email:        "mallory@example.com",
			PasswordHash: string(hash),
			Status:       "suspended",
		},
	}}

	events := &recorderSpy{}
	verifier := &stubVerifier{verified: true}
	block := NewIPBlocklist(24, testLogger())

	svc := NewAuthService(
		users,
		auth.NewTokenManager("test-secret-test-secret-test-secret", 15*time.Minute, 24*time.Hour),
		NewLocalRateLimiter(models.DefaultRateLimitPolicies(), testLogger()),
		block,
		NewPatternClassifier(),
		events,
		verifier,
		&mockEmailService{},
		pkglogger.NewThreatLogger(testLogger()),
		testLogger(),
	)

	return &authFixture{svc: svc, users: users, events: events, verifier: verifier, block: block}
}

func TestLogin_BlockedIP(t *testing.T) {
	f := newAuthFixture(t)
	f.block.Block("198.51.100.7", 1, "manual")

	_, err := f.svc.Login(context.Background(), LoginInput{
		Email:     "alice@example.com",
		Password:  "correct-horse-1A",
		IPAddress: "198.51.100.7",
		DeviceID:  "dev-1",
	})

	assert.ErrorIs(t, err, models.ErrIPBlocked)
	assert.True(t, f.events.has(models.EventTypeBlockedIPAccess))
}

func TestLogin_MaliciousInput(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Email:     "alice@example.com",
		Password:  "' OR '1'='1",
		IPAddress: "203.0.113.4",
		DeviceID:  "dev-1",
	})

	assert.ErrorIs(t, err, models.ErrMaliciousInput)
	assert.True(t, f.events.has(models.EventTypeMaliciousInput))
}

func TestLogin_UnknownAccount_IndistinguishableFromWrongPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, unknownErr := f.svc.Login(context.Background(), LoginInput{
		Email:     "nobody@example.com",
		Password:  "whatever123A",
		IPAddress: "203.0.113.4",
		DeviceID:  "dev-1",
	})
	_, wrongErr := f.svc.Login(context.Background(), LoginInput{
		Email:     "alice@example.com",
		Password:  "not-the-password1A",
		IPAddress: "203.0.113.4",
		DeviceID:  "dev-1",
	})

	assert.ErrorIs(t, unknownErr, models.ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, models.ErrInvalidCredentials)
	assert.True(t, f.events.has(models.EventTypeLoginFailed))
}

func TestLogin_RateLimitedAfterFiveFailures(t *testing.T) {
	f := newAuthFixture(t)
	input := LoginInput{
		Email:     "nobody@example.com",
		Password:  "whatever123A",
		IPAddress: "203.0.113.4",
		DeviceID:  "dev-1",
	}

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(context.Background(), input)
		assert.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d should fail on credentials", i+1)
	}

	_, err := f.svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	assert.True(t, f.events.has(models.EventTypeRateLimitExceeded))
}

func TestLogin_PerIPQuotaCoversRotatingEmails(t *testing.T) {
	f := newAuthFixture(t)

	// Five different target accounts from one source address
	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(context.Background(), LoginInput{
			Email:     fmt.Sprintf("victim%d@example.com", i),
			Password:  "whatever123A",
			IPAddress: "203.0.113.4",
			DeviceID:  "dev-1",
		})
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	_, err := f.svc.Login(context.Background(), LoginInput{
		Email:     "victim99@example.com",
		Password:  "whatever123A",
		IPAddress: "203.0.113.4",
		DeviceID:  "dev-1",
	})
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
}

func TestLogin_SuspendedAccount(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Email:     "mallory@example.com",
		Password:  "correct-horse-1A",
		IPAddress: "203.0.113.4",
		DeviceID:  "dev-1",
	})

	assert.ErrorIs(t, err, models.ErrAccountSuspended)
}

func TestLogin_UnrecognizedDevice_RequiresStepUp(t *testing.T) {
	f := newAuthFixture(t)
	f.verifier.verified = false

	result, err := f.svc.Login(context.Background(), LoginInput{
		Email:     "alice@example.com",
		Password:  "correct-horse-1A",
		IPAddress: "203.0.113.4",
		DeviceID:  "new-device",
	})

	require.NoError(t, err)
	assert.True(t, result.StepUpRequired)
	assert.Equal(t, "05:00", result.CodeExpiresIn)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, result.RefreshToken)
	assert.Equal(t, 1, f.verifier.codesSent)
	assert.False(t, f.events.has(models.EventTypeLoginSuccess), "no success event until step-up completes")
}

func TestLogin_VerifiedDevice_IssuesTokens(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.svc.Login(context.Background(), LoginInput{
		Email:     "Alice@Example.com ", // normalization folds case and space
		Password:  "correct-horse-1A",
		IPAddress: "203.0.113.4",
		DeviceID:  "dev-1",
	})

	require.NoError(t, err)
	assert.False(t, result.StepUpRequired)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	require.NotNil(t, result.User)
	assert.Equal(t, "alice@example.com", result.User.Email)
	assert.True(t, f.events.has(models.EventTypeLoginSuccess))
}

func TestVerifyDevice_Success_IssuesTokens(t *testing.T) {
	f := newAuthFixture(t)
	f.verifier.verifyResult = &models.VerifyResult{Success: true, Message: msgVerified}

	login, result, err := f.svc.VerifyDevice(context.Background(), VerifyDeviceInput{
		Email:     "alice@example.com",
		DeviceID:  "dev-1",
		Code:      "123456",
		IPAddress: "203.0.113.4",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, login)
	assert.NotEmpty(t, login.AccessToken)
}

func TestVerifyDevice_ExhaustedBudget_EmitsBruteForce(t *testing.T) {
	f := newAuthFixture(t)
	f.verifier.verifyResult = &models.VerifyResult{Success: false, Message: msgTooManyAttempts}
	f.verifier.verifyErr = models.ErrTooManyAttempts

	login, result, err := f.svc.VerifyDevice(context.Background(), VerifyDeviceInput{
		Email:     "alice@example.com",
		DeviceID:  "dev-1",
		Code:      "000000",
		IPAddress: "203.0.113.4",
	})

	require.NoError(t, err)
	assert.Nil(t, login)
	assert.False(t, result.Success)
	assert.True(t, f.events.has(models.EventTypeBruteForce))
}

func TestVerifyDevice_Mismatch_NoBruteForceEvent(t *testing.T) {
	f := newAuthFixture(t)
	f.verifier.verifyResult = &models.VerifyResult{
		Success:           false,
		Message:           "incorrect code, 3 attempts remaining",
		RemainingAttempts: 3,
	}

	login, result, err := f.svc.VerifyDevice(context.Background(), VerifyDeviceInput{
		Email:     "alice@example.com",
		DeviceID:  "dev-1",
		Code:      "000000",
		IPAddress: "203.0.113.4",
	})

	require.NoError(t, err)
	assert.Nil(t, login)
	assert.False(t, result.Success)
	assert.False(t, f.events.has(models.EventTypeBruteForce))
}

func TestResendCode_RateLimited(t *testing.T) {
	f := newAuthFixture(t)

	// PASSWORD_RESET quota is 3 per window
	for i := 0; i < 3; i++ {
		_, err := f.svc.ResendCode(context.Background(), "alice@example.com", "dev-1", "203.0.113.4")
		require.NoError(t, err)
	}

	_, err := f.svc.ResendCode(context.Background(), "alice@example.com", "dev-1", "203.0.113.4")
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	assert.Equal(t, 3, f.verifier.codesSent)
}

func TestValidateAccountState(t *testing.T) {
	assert.NoError(t, validateAccountState(&models.User{Status: "active"}))
	assert.ErrorIs(t, validateAccountState(&models.User{Status: "suspended"}), models.ErrAccountSuspended)
	assert.ErrorIs(t, validateAccountState(&models.User{Status: "disabled"}), models.ErrAccountDisabled)
	assert.ErrorIs(t, validateAccountState(&models.User{Status: "weird"}), models.ErrForbidden)
}
