package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/bulwark-auth/bulwark/internal/services"
	pkghttp "github.com/bulwark-auth/bulwark/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyDevice(ctx context.Context, input services.VerifyDeviceInput) (*services.LoginResult, *models.VerifyResult, error)
	ResendCode(ctx context.Context, email, deviceID, ipAddress string) (string, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{service: service, ipConfig: ipConfig}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	DeviceID string `json:"device_id" validate:"required,min=8,max=128"`
}

// VerifyDeviceRequest represents a submitted step-up code
type VerifyDeviceRequest struct {
	Email    string `json:"email" validate:"required,email"`
	DeviceID string `json:"device_id" validate:"required,min=8,max=128"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

// ResendCodeRequest asks for a fresh step-up code
type ResendCodeRequest struct {
	Email    string `json:"email" validate:"required,email"`
	DeviceID string `json:"device_id" validate:"required,min=8,max=128"`
}

// ResendCodeResponse reports the new code's lifetime
type ResendCodeResponse struct {
	CodeExpiresIn string `json:"code_expires_in"`
}

// Login handles user login. A successful password check against an
// unrecognized device returns 202 with step_up_required set instead of
// tokens.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
		DeviceID:  req.DeviceID,
	})
	if err != nil {
		writeLoginError(w, err)
		return
	}

	if result.StepUpRequired {
		pkghttp.WriteJSON(w, http.StatusAccepted, result)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// VerifyDevice handles step-up code submission. A wrong code is a 200
// with success=false so the client can show remaining attempts; only
// transport-level problems are HTTP errors.
func (h *AuthHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	var req VerifyDeviceRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	login, verify, err := h.service.VerifyDevice(r.Context(), services.VerifyDeviceInput{
		Email:     req.Email,
		DeviceID:  req.DeviceID,
		Code:      req.Code,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid request")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if !verify.Success {
		pkghttp.WriteJSON(w, http.StatusOK, verify)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, login)
}

// ResendCode re-issues the step-up code for a device.
func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req ResendCodeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	expiresIn, err := h.service.ResendCode(r.Context(),
		req.Email, req.DeviceID, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		if errors.Is(err, models.ErrRateLimitExceeded) {
			pkghttp.WriteTooManyRequests(w, "Too many code requests. Please try again later.")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ResendCodeResponse{CodeExpiresIn: expiresIn})
}

func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrRateLimitExceeded):
		pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
	case errors.Is(err, models.ErrIPBlocked),
		errors.Is(err, models.ErrMaliciousInput):
		pkghttp.WriteForbidden(w, "Access denied")
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended):
		// Generic message for all credential and account state failures
		// to prevent user enumeration
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
