package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashAdminKey returns the bcrypt hash stored in place of the plain key.
func HashAdminKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("auth: empty admin key")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash admin key: %w", err)
	}
	return string(h), nil
}

// CheckAdminKey reports whether key matches the stored hash.
func CheckAdminKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
