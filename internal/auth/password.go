package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
// A mismatch is reported as ErrUnauthorized.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return ErrUnauthorized
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrUnauthorized
	}
	return err
}

// placeholderHash is compared against when there is no usable stored hash,
// so unknown and inactive accounts cost the same bcrypt work as real ones.
var placeholderHash = sync.OnceValue(func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte("placeholder-credential"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("auth: generate placeholder hash: %v", err))
	}
	return string(hash)
})
