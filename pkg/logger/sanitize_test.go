package logger_test

import (
	"testing"

	"github.com/bulwark-auth/bulwark/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"standard email", "user@example.com", "u***@*******.com"},
		{"single char username", "u@example.com", "u@*******.com"},
		{"subdomain", "admin@mail.example.com", "a****@****.*******.com"},
		{"no at sign", "not-an-email", "[invalid-email]"},
		{"multiple at signs", "a@b@c.com", "[invalid-email]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, logger.SanitizedEmail(tt.email))
		})
	}
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, logger.SanitizeQueryString("password=hunter2"))
	assert.True(t, logger.SanitizeQueryString("Token=abc123"))
	assert.True(t, logger.SanitizeQueryString("code=123456"))
	assert.False(t, logger.SanitizeQueryString("page=2&sort=asc"))
	assert.False(t, logger.SanitizeQueryString(""))
}
