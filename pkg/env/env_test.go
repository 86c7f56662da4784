package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedOrigins_Defaults(t *testing.T) {
	allowed := AllowedOrigins()

	assert.True(t, allowed["http://localhost:3000"])
	assert.True(t, allowed["http://127.0.0.1:8080"])
	assert.False(t, allowed["https://evil.example.com"])
}

func TestAllowedOrigins_FromEnv(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com ,")

	allowed := AllowedOrigins()

	assert.True(t, allowed["https://app.example.com"])
	assert.True(t, allowed["https://admin.example.com"])
	assert.False(t, allowed[""])
	// Defaults stay available alongside configured origins
	assert.True(t, allowed["http://localhost:3000"])
}
