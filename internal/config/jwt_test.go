package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key")
	t.Setenv("JWT_EXPIRATION_HOURS", "")

	cfg, err := NewJWTConfig()
	require.NoError(t, err)
	assert.Equal(t, "test-secret-key", cfg.Secret)
	assert.Equal(t, DefaultTokenHours, cfg.ExpirationHours)
}

func TestNewJWTConfigExpiration(t *testing.T) {
	tests := []struct {
		name       string
		expiration string
		wantHours  int
		wantErr    bool
	}{
		{name: "twelve hours", expiration: "12", wantHours: 12},
		{name: "minimum of one hour", expiration: "1", wantHours: 1},
		{name: "a full week", expiration: "168", wantHours: 168},
		{name: "non-numeric", expiration: "invalid", wantErr: true},
		{name: "zero", expiration: "0", wantErr: true},
		{name: "negative", expiration: "-1", wantErr: true},
		{name: "fractional", expiration: "12.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret-key")
			t.Setenv("JWT_EXPIRATION_HOURS", tt.expiration)

			cfg, err := NewJWTConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "JWT_EXPIRATION_HOURS")
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHours, cfg.ExpirationHours)
		})
	}
}

func TestNewJWTConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_EXPIRATION_HOURS", "")

	cfg, err := NewJWTConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Nil(t, cfg)
}
