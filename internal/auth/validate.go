// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/samber/oops"
)

// Registration input constraints.
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

// emailRegex matches local@domain.tld: a non-whitespace local part and a
// non-whitespace domain part containing a literal dot.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// RegistrationInput holds the raw registration form fields. It is
// validated and then either discarded or converted into an Account;
// the plaintext password is never retained.
type RegistrationInput struct {
	Username  string
	Email     string
	Password  string
	Confirm   string
	CSRFToken string
}

// Normalize trims the identity fields and lower-cases the email.
// Passwords are deliberately left untouched.
func (in RegistrationInput) Normalize() RegistrationInput {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = NormalizeEmail(in.Email)
	return in
}

// ValidateRegistration checks registration input against the rules, in
// a fixed order so the first violated rule is the one reported:
//
//  1. required fields present and non-blank -> AUTH_MISSING_FIELD
//  2. username length                       -> AUTH_USERNAME_TOO_SHORT
//  3. email format                          -> AUTH_INVALID_EMAIL
//  4. password length                       -> AUTH_PASSWORD_TOO_SHORT
//  5. password confirmation                 -> AUTH_PASSWORD_MISMATCH
//  6. username not already taken            -> AUTH_USERNAME_TAKEN
//  7. email not already registered          -> AUTH_EMAIL_TAKEN
//
// Each rejection short-circuits; later rules are not evaluated. The
// input must already be normalized (see RegistrationInput.Normalize).
// The uniqueness checks are advisory only: Create on the repository
// remains the authoritative, race-safe gate.
func ValidateRegistration(ctx context.Context, in RegistrationInput, accounts AccountRepository) error {
	// Passwords stay untrimmed for hashing, but a whitespace-only
	// password is still a blank field, not a short one.
	if in.Username == "" || in.Email == "" || strings.TrimSpace(in.Password) == "" {
		return oops.Code("AUTH_MISSING_FIELD").Errorf("username, email and password are required")
	}
	if len(in.Username) < MinUsernameLength {
		return oops.Code("AUTH_USERNAME_TOO_SHORT").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if !emailRegex.MatchString(in.Email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email address is not valid")
	}
	if len(in.Password) < MinPasswordLength {
		return oops.Code("AUTH_PASSWORD_TOO_SHORT").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if in.Password != in.Confirm {
		return oops.Code("AUTH_PASSWORD_MISMATCH").Errorf("passwords do not match")
	}

	if _, err := accounts.GetByUsername(ctx, in.Username); err == nil {
		return oops.Code("AUTH_USERNAME_TAKEN").
			With("username", in.Username).
			Errorf("username %q is already taken", in.Username)
	} else if !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "check username uniqueness").
			Wrap(err)
	}

	if _, err := accounts.GetByEmail(ctx, in.Email); err == nil {
		return oops.Code("AUTH_EMAIL_TAKEN").
			With("email", in.Email).
			Errorf("email is already registered")
	} else if !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "check email uniqueness").
			Wrap(err)
	}

	return nil
}
