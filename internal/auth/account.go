// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account represents a registered user account.
//
// Accounts are created only by successful registration and never mutated
// afterwards except for login bookkeeping (failed attempts, lockout,
// transparent hash upgrades).
type Account struct {
	ID             ulid.ULID
	Username       string
	Email          string
	PasswordHash   string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAccount creates a validated Account.
// The username keeps its typed case; the email is normalized to lower
// case. Callers are expected to have run ValidateRegistration first;
// this constructor re-checks only the structural invariants.
func NewAccount(username, email, passwordHash string) (*Account, error) {
	if username == "" {
		return nil, oops.Code("AUTH_MISSING_FIELD").Errorf("username cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("AUTH_MISSING_FIELD").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the account is currently locked out.
func (a *Account) IsLocked() bool {
	return IsLockedOut(a.LockedUntil)
}

// RecordFailure increments the failure counter and sets lockout if the
// threshold is reached.
func (a *Account) RecordFailure() {
	a.FailedAttempts++
	a.LockedUntil = ComputeLockoutTime(a.FailedAttempts)
	a.UpdatedAt = time.Now()
}

// RecordSuccess resets the failure counter and lockout.
func (a *Account) RecordSuccess() {
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.UpdatedAt = time.Now()
}

// NormalizeEmail lower-cases and trims an email address. Email lookups
// and uniqueness checks always operate on the normalized form, so
// "ALICE@X.COM" and "alice@x.com" identify the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. The insert is atomic with respect to
	// the username/email uniqueness invariant: exactly one of two racing
	// inserts for the same username succeeds, the other receives an
	// error wrapping ErrConflict.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByIdentifier retrieves an account by username or email,
	// whichever matches. Used for login.
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// Update updates an existing account.
	Update(ctx context.Context, account *Account) error
}
