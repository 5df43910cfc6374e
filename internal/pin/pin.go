// Package pin hashes and verifies the optional retrieval PINs.
package pin

import (
	"errors"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost matches the salt rounds the service has always used for PINs.
// Verification at this cost takes tens of milliseconds, which is the point.
const DefaultCost = 12

var pinPattern = regexp.MustCompile(`^[a-zA-Z0-9]{4,20}$`)

var ErrBadFormat = errors.New("pin must be 4-20 letters or digits")

// Validate enforces the PIN format bound before any hashing happens.
func Validate(pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrBadFormat
	}
	return nil
}

// Hash returns the salted bcrypt hash of a format-valid PIN.
func Hash(pin string, cost int) ([]byte, error) {
	if err := Validate(pin); err != nil {
		return nil, err
	}
	return bcrypt.GenerateFromPassword([]byte(pin), cost)
}

// Verify reports whether pin matches hash.
func Verify(pin string, hash []byte) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(pin)) == nil
}
