package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// MaxPasswordBytes is the longest password bcrypt will hash
const MaxPasswordBytes = 72

const maxDisplayNameRunes = 32

// GenerateID returns a random identifier for rooms and sessions
func GenerateID() string {
	return uuid.NewString()
}

// HashPassword hashes a room password with bcrypt
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash room password: %w", err)
	}
	return hash, nil
}

// CheckPassword reports whether password matches hash. An empty hash accepts
// any password.
func CheckPassword(hash []byte, password string) bool {
	if len(hash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// DisplayName trims the claimed name and falls back to a generic one
func DisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Anonymous"
	}
	if runes := []rune(name); len(runes) > maxDisplayNameRunes {
		name = string(runes[:maxDisplayNameRunes])
	}
	return name
}
