package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/stretchr/testify/assert"
)

// mockVerificationRepo is an in-memory DeviceVerificationRepository.
// GetActive hands back whatever unverified row exists, expired or not,
// so the service's own expiry handling is what the tests exercise.
type mockVerificationRepo struct {
	mu        sync.Mutex
	records   map[string]*models.DeviceVerification // keyed by email|deviceID, unverified only
	verified  map[string]bool
	now       func() time.Time
	failSweep bool
}

func newMockVerificationRepo() *mockVerificationRepo {
	return &mockVerificationRepo{
		records:  make(map[string]*models.DeviceVerification),
		verified: make(map[string]bool),
		now:      time.Now,
	}
}

func (m *mockVerificationRepo) GetActive(ctx context.Context, email, deviceID string) (*models.DeviceVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[email+"|"+deviceID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *mockVerificationRepo) Create(ctx context.Context, v *models.DeviceVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[v.Email+"|"+v.DeviceID] = v
	return nil
}

func (m *mockVerificationRepo) Delete(ctx context.Context, email, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, email+"|"+deviceID)
	return nil
}

func (m *mockVerificationRepo) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSweep {
		return 0, assert.AnError
	}
	var deleted int64
	for key, rec := range m.records {
		if m.now().After(rec.ExpiresAt) {
			delete(m.records, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockVerificationRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			rec.AttemptCount++
			return rec.AttemptCount, nil
		}
	}
	return 0, models.ErrNotFound
}

func (m *mockVerificationRepo) MarkVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if rec.ID == id {
			rec.Verified = true
			m.verified[key] = true
			delete(m.records, key)
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *mockVerificationRepo) IsVerified(ctx context.Context, email, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verified[email+"|"+deviceID], nil
}

func (m *mockVerificationRepo) activeCode(email, deviceID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[email+"|"+deviceID]; ok {
		return rec.Code
	}
	return ""
}

func newTestVerifier(repo *mockVerificationRepo, email *mockEmailService) *DeviceVerificationService {
	return NewDeviceVerificationService(repo, email, 5*time.Minute, 5, testLogger())
}

func TestDeviceVerification_SendCodeIssuesSixDigits(t *testing.T) {
	repo := newMockVerificationRepo()
	email := &mockEmailService{}
	svc := newTestVerifier(repo, email)

	remaining, err := svc.SendCode(context.Background(), "a@x.com", "device-1")
	assert.NoError(t, err)
	assert.Equal(t, "05:00", remaining)

	code := repo.activeCode("a@x.com", "device-1")
	assert.Len(t, code, 6)
	assert.Equal(t, "", strings.Trim(code, "0123456789"), "code must be numeric")
	assert.Len(t, email.codes, 1)
}

func TestDeviceVerification_ResendIsNoOpWhileCodeActive(t *testing.T) {
	repo := newMockVerificationRepo()
	email := &mockEmailService{}
	svc := newTestVerifier(repo, email)
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)
	first := repo.activeCode("a@x.com", "device-1")

	remaining, err := svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)
	assert.NotEmpty(t, remaining)

	assert.Equal(t, first, repo.activeCode("a@x.com", "device-1"), "resend must not mint a new code")
	assert.Len(t, email.codes, 1, "resend must not deliver a second email")
}

func TestDeviceVerification_ExpiredCodeIsSuperseded(t *testing.T) {
	repo := newMockVerificationRepo()
	current := time.Now()
	repo.now = func() time.Time { return current }
	email := &mockEmailService{}
	svc := newTestVerifier(repo, email)
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)
	first := repo.activeCode("a@x.com", "device-1")

	current = current.Add(6 * time.Minute)

	_, err = svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)
	second := repo.activeCode("a@x.com", "device-1")

	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
	assert.Len(t, email.codes, 2)
}

func TestDeviceVerification_ExpiredCodeDoesNotVerify(t *testing.T) {
	repo := newMockVerificationRepo()
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	// A dead code still on disk, ten minutes past expiry
	err := repo.Create(ctx, &models.DeviceVerification{
		ID:        "stale-id",
		Email:     "a@x.com",
		DeviceID:  "device-1",
		Code:      "123456",
		ExpiresAt: time.Now().Add(-10 * time.Minute),
	})
	assert.NoError(t, err)

	result, err := svc.VerifyCode(ctx, "a@x.com", "device-1", "123456")
	assert.NoError(t, err)
	assert.False(t, result.Success, "an expired code must not verify")
	assert.Equal(t, msgNoActiveCode, result.Message)
	assert.False(t, svc.IsVerified(ctx, "a@x.com", "device-1"))
}

func TestDeviceVerification_SendCodeReissuesOverExpiredRecord(t *testing.T) {
	repo := newMockVerificationRepo()
	repo.failSweep = true
	email := &mockEmailService{}
	svc := newTestVerifier(repo, email)
	ctx := context.Background()

	// The sweep errors, so the expired record is still there when the
	// outstanding-code check runs. It must not count as outstanding.
	err := repo.Create(ctx, &models.DeviceVerification{
		ID:        "stale-id",
		Email:     "a@x.com",
		DeviceID:  "device-1",
		Code:      "123456",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	assert.NoError(t, err)

	remaining, err := svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)
	assert.Equal(t, "05:00", remaining)
	assert.NotEqual(t, "123456", repo.activeCode("a@x.com", "device-1"))
	assert.Len(t, email.codes, 1)
}

func TestDeviceVerification_SweepRemovesOtherPairsExpiredCodes(t *testing.T) {
	repo := newMockVerificationRepo()
	current := time.Now()
	repo.now = func() time.Time { return current }
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	_, _ = svc.SendCode(ctx, "stale@x.com", "device-9")
	current = current.Add(6 * time.Minute)

	// Issuing for a different pair sweeps the stale record globally
	_, err := svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)

	repo.mu.Lock()
	_, staleExists := repo.records["stale@x.com|device-9"]
	repo.mu.Unlock()
	assert.False(t, staleExists)
}

func TestDeviceVerification_CorrectCodeVerifies(t *testing.T) {
	repo := newMockVerificationRepo()
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)
	code := repo.activeCode("a@x.com", "device-1")

	result, err := svc.VerifyCode(ctx, "a@x.com", "device-1", code)
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 5, result.RemainingAttempts)

	assert.True(t, svc.IsVerified(ctx, "a@x.com", "device-1"))
	assert.False(t, svc.IsVerified(ctx, "a@x.com", "device-2"))
}

func TestDeviceVerification_WrongCodeDecrementsBudget(t *testing.T) {
	repo := newMockVerificationRepo()
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	_, _ = svc.SendCode(ctx, "a@x.com", "device-1")

	result, err := svc.VerifyCode(ctx, "a@x.com", "device-1", "000000x")
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 4, result.RemainingAttempts)
	assert.Contains(t, result.Message, "4 attempts remaining")
}

func TestDeviceVerification_NoActiveCodeDistinctFromWrongCode(t *testing.T) {
	repo := newMockVerificationRepo()
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	absent, err := svc.VerifyCode(ctx, "a@x.com", "device-1", "123456")
	assert.NoError(t, err)
	assert.False(t, absent.Success)

	_, _ = svc.SendCode(ctx, "a@x.com", "device-1")
	wrong, err := svc.VerifyCode(ctx, "a@x.com", "device-1", "xxxxxx")
	assert.NoError(t, err)
	assert.False(t, wrong.Success)

	assert.NotEqual(t, absent.Message, wrong.Message,
		"absence and mismatch must be reported distinctly")
}

func TestDeviceVerification_SixthAttemptRejectedEvenWithCorrectCode(t *testing.T) {
	repo := newMockVerificationRepo()
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	_, _ = svc.SendCode(ctx, "a@x.com", "device-1")
	code := repo.activeCode("a@x.com", "device-1")

	for i := 0; i < 4; i++ {
		result, err := svc.VerifyCode(ctx, "a@x.com", "device-1", "wrong!")
		assert.NoError(t, err)
		assert.False(t, result.Success)
	}

	// The fifth miss exhausts the budget
	result, err := svc.VerifyCode(ctx, "a@x.com", "device-1", "wrong!")
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
	assert.False(t, result.Success)

	result, err = svc.VerifyCode(ctx, "a@x.com", "device-1", code)
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
	assert.False(t, result.Success, "exhausted budget must reject even the correct code")
	assert.Contains(t, result.Message, "too many")

	// The persisted record was purged; the code cannot come back
	assert.Equal(t, "", repo.activeCode("a@x.com", "device-1"))
}

func TestDeviceVerification_RestartDoesNotExtendBudget(t *testing.T) {
	repo := newMockVerificationRepo()
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	_, _ = svc.SendCode(ctx, "a@x.com", "device-1")
	code := repo.activeCode("a@x.com", "device-1")

	for i := 0; i < 4; i++ {
		_, _ = svc.VerifyCode(ctx, "a@x.com", "device-1", "wrong!")
	}

	// Simulated process restart: fresh service, empty in-memory cache,
	// same persisted records. The persisted count is authoritative.
	restarted := newTestVerifier(repo, &mockEmailService{})

	result, err := restarted.VerifyCode(ctx, "a@x.com", "device-1", "wrong!")
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
	assert.False(t, result.Success)

	result, err = restarted.VerifyCode(ctx, "a@x.com", "device-1", code)
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
	assert.False(t, result.Success, "restart must not grant a fresh attempt budget")
}

func TestDeviceVerification_ValidationErrors(t *testing.T) {
	svc := newTestVerifier(newMockVerificationRepo(), &mockEmailService{})
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "", "device-1")
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = svc.VerifyCode(ctx, "a@x.com", "device-1", "")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestDeviceVerification_DeliveryFailureRollsBackCode(t *testing.T) {
	repo := newMockVerificationRepo()
	email := &mockEmailService{failNext: true}
	svc := newTestVerifier(repo, email)
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "a@x.com", "device-1")
	assert.Error(t, err)
	assert.Equal(t, "", repo.activeCode("a@x.com", "device-1"),
		"an undeliverable code must not stay outstanding")

	// The next request can issue cleanly
	_, err = svc.SendCode(ctx, "a@x.com", "device-1")
	assert.NoError(t, err)
}

func TestDeviceVerification_RemainingTime(t *testing.T) {
	repo := newMockVerificationRepo()
	svc := newTestVerifier(repo, &mockEmailService{})
	ctx := context.Background()

	assert.Equal(t, "00:00", svc.RemainingTime(ctx, "a@x.com", "device-1"))

	_, _ = svc.SendCode(ctx, "a@x.com", "device-1")
	remaining := svc.RemainingTime(ctx, "a@x.com", "device-1")
	assert.Regexp(t, `^0[45]:[0-5][0-9]$`, remaining)
}
