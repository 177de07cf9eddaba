package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/bulwark-auth/bulwark/internal/services"
	pkghttp "github.com/bulwark-auth/bulwark/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that the response has the given status and decodes its JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that the response is a well-formed error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc        func(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyDeviceFunc func(ctx context.Context, input services.VerifyDeviceInput) (*services.LoginResult, *models.VerifyResult, error)
	ResendCodeFunc   func(ctx context.Context, email, deviceID, ipAddress string) (string, error)
}

func (m *MockAuthService) Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, input)
}

func (m *MockAuthService) VerifyDevice(ctx context.Context, input services.VerifyDeviceInput) (*services.LoginResult, *models.VerifyResult, error) {
	if m.VerifyDeviceFunc == nil {
		return nil, &models.VerifyResult{Success: false}, nil
	}
	return m.VerifyDeviceFunc(ctx, input)
}

func (m *MockAuthService) ResendCode(ctx context.Context, email, deviceID, ipAddress string) (string, error) {
	if m.ResendCodeFunc == nil {
		return "05:00", nil
	}
	return m.ResendCodeFunc(ctx, email, deviceID, ipAddress)
}
