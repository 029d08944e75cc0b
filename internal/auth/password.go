package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

var ErrPasswordLength = errors.New("password must be 8 to 72 bytes")

// HashPassword returns the bcrypt hash stored for dashboard accounts.
func HashPassword(password string) (string, error) {
	if len(password) < 8 || len(password) > maxPasswordBytes {
		return "", ErrPasswordLength
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func passwordMatches(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
