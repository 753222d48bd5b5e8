package config

import (
	"fmt"
	"os"
	"strconv"
)

// DefaultTokenHours is how long issued API tokens stay valid.
const DefaultTokenHours = 24

// JWTConfig holds the signing settings for API tokens.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// NewJWTConfig builds the token settings from the environment:
// JWT_SECRET (required) and JWT_EXPIRATION_HOURS (default 24).
func NewJWTConfig() (*JWTConfig, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}

	hours := DefaultTokenHours
	if raw := os.Getenv("JWT_EXPIRATION_HOURS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %v", err)
		}
		hours = parsed
	}
	if hours < 1 {
		return nil, fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", hours)
	}

	return &JWTConfig{Secret: secret, ExpirationHours: hours}, nil
}
