package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 12

// HashPassword bcrypt-hashes a password for storage in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	trimmed := strings.TrimSpace(password)
	if trimmed == "" {
		return "", fmt.Errorf("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(trimmed), DefaultBcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a stored bcrypt hash.
func VerifyPassword(password, hash string) bool {
	trimmedPassword := strings.TrimSpace(password)
	trimmedHash := strings.TrimSpace(hash)
	if trimmedPassword == "" || trimmedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(trimmedHash), []byte(trimmedPassword)) == nil
}

// VerifyAdmin checks admin basic-auth credentials against the configured
// username and password hash. Auth is disabled (always false) when either is
// unset.
func VerifyAdmin(user, password, wantUser, wantHash string) bool {
	if strings.TrimSpace(wantUser) == "" || strings.TrimSpace(wantHash) == "" {
		return false
	}
	if NormalizeUsername(user) != NormalizeUsername(wantUser) {
		return false
	}
	return VerifyPassword(password, wantHash)
}

func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
