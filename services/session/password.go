package session

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/upb/tenantguard/services"
)

// Password length bounds. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

var (
	dummyOnce sync.Once
	dummy     []byte
)

// HashPassword returns a bcrypt hash of password at the default cost
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", services.ErrInvalidInput.
			WithMessage("password is too short").
			WithDetail("min_length", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return "", services.ErrInvalidInput.
			WithMessage("password is too long").
			WithDetail("max_length", MaxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", services.WrapInternal("failed to hash password", err)
	}
	return string(hash), nil
}

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("tenantguard-dummy-password"), bcrypt.DefaultCost)
	})
	return dummy
}
