package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72
)

var ErrPasswordTooLong = bcrypt.ErrPasswordTooLong

// Hasher is the one-way adaptive password hash used by the credential store.
type Hasher struct {
	Cost int
	// dummy is compared against when a login names an unknown account so the
	// response time does not reveal whether the account exists.
	dummy []byte
}

func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	cost = max(cost, bcrypt.MinCost)
	cost = min(cost, bcrypt.MaxCost)
	dummy, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	return &Hasher{Cost: cost, dummy: dummy}
}

func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches hash. Malformed hashes are errors;
// a mismatch is (false, nil).
func (h *Hasher) Verify(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

// Burn spends the same work as Verify without a real hash.
func (h *Hasher) Burn(password string) {
	if len(h.dummy) == 0 {
		return
	}
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
