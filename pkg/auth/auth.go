// Package auth provides credential verification for the HTTP layer.
//
// HuginDB runs with a single administrative account. The password is
// bcrypt-hashed when the verifier is created and never kept in plain text
// after that. Repeated failures lock the account for a cooldown period to
// slow down brute-force attempts.
//
// Example Usage:
//
//	verifier, err := auth.NewVerifier("admin", "s3cretpass", 0)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := verifier.Verify("admin", "s3cretpass"); err != nil {
//		http.Error(w, "Unauthorized", http.StatusUnauthorized)
//		return
//	}
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Errors for credential operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked due to failed login attempts")
	ErrPasswordTooShort   = errors.New("password does not meet minimum length requirement")
)

// Defaults for the lockout policy.
const (
	DefaultMaxFailedLogins = 5
	DefaultLockoutDuration = 15 * time.Minute
)

// Verifier checks credentials against the configured account.
// All methods are safe for concurrent use.
type Verifier struct {
	mu           sync.Mutex
	username     string
	passwordHash []byte

	failedLogins int
	lockedUntil  time.Time

	maxFailedLogins int
	lockoutDuration time.Duration
}

// NewVerifier hashes the password with bcrypt and returns a verifier for
// the single account. bcryptCost 0 means bcrypt.DefaultCost.
func NewVerifier(username, password string, bcryptCost int) (*Verifier, error) {
	if username == "" {
		return nil, errors.New("username must not be empty")
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return &Verifier{
		username:        username,
		passwordHash:    hash,
		maxFailedLogins: DefaultMaxFailedLogins,
		lockoutDuration: DefaultLockoutDuration,
	}, nil
}

// Verify checks a username/password pair.
//
// Returns ErrInvalidCredentials on mismatch and ErrAccountLocked when too
// many consecutive failures have occurred. The username comparison is
// constant time so an attacker cannot tell a wrong username from a wrong
// password by timing.
func (v *Verifier) Verify(username, password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.lockedUntil.IsZero() && time.Now().Before(v.lockedUntil) {
		return ErrAccountLocked
	}

	userOK := SecureCompare(username, v.username)
	passErr := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		v.failedLogins++
		if v.failedLogins >= v.maxFailedLogins {
			v.lockedUntil = time.Now().Add(v.lockoutDuration)
		}
		return ErrInvalidCredentials
	}

	v.failedLogins = 0
	v.lockedUntil = time.Time{}
	return nil
}

// ChangePassword replaces the account password after verifying the old one.
func (v *Verifier) ChangePassword(oldPassword, newPassword string, minLength int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if len(newPassword) < minLength {
		return fmt.Errorf("%w: minimum %d characters required", ErrPasswordTooShort, minLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	v.passwordHash = hash
	return nil
}

// Unlock clears the lockout state, for administrative recovery.
func (v *Verifier) Unlock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failedLogins = 0
	v.lockedUntil = time.Time{}
}

// Username returns the configured account name.
func (v *Verifier) Username() string {
	return v.username
}

// SecureCompare performs a constant-time string comparison.
// Prevents timing attacks on credential validation.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
