package utils

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPINLength is the shortest supervisor PIN accepted by HashPIN.
const MinPINLength = 4

// ErrWeakPIN is returned by HashPIN for PINs below MinPINLength.
var ErrWeakPIN = errors.New("supervisor PIN too short")

// HashPIN returns the bcrypt hash of a supervisor override PIN.  The
// hash is what devices and the server are configured with; the PIN
// itself is never stored.
func HashPIN(pin string, cost int) (string, error) {
	pin = strings.TrimSpace(pin)
	if len(pin) < MinPINLength {
		return "", ErrWeakPIN
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPIN compares a typed PIN with its bcrypt hash.  An empty hash
// never matches.
func VerifyPIN(hash, pin string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(pin))) == nil
}
