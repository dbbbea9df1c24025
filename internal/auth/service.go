// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Service provides the credential authentication operations exposed to
// the request layer: register, login, logout, session resolution, CSRF
// token issuance and the authenticated gate.
type Service struct {
	accounts         AccountRepository
	sessions         SessionRepository
	hasher           PasswordHasher
	registrationOpen bool
	logger           *slog.Logger
}

// NewService creates a new Service with a no-op logger.
// Returns an error if any required dependency is nil.
func NewService(accounts AccountRepository, sessions SessionRepository, hasher PasswordHasher) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &Service{
		accounts:         accounts,
		sessions:         sessions,
		hasher:           hasher,
		registrationOpen: true,
		logger:           slog.New(slog.DiscardHandler),
	}, nil
}

// NewServiceWithLogger creates a new Service with the provided logger.
// Returns an error if any required dependency is nil.
func NewServiceWithLogger(accounts AccountRepository, sessions SessionRepository, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	svc, err := NewService(accounts, sessions, hasher)
	if err != nil {
		return nil, err
	}
	svc.logger = logger
	return svc, nil
}

// SetRegistrationOpen toggles whether new registrations are accepted.
func (s *Service) SetRegistrationOpen(open bool) {
	s.registrationOpen = open
}

// IsRegistrationEnabled returns true if registration is open.
func (s *Service) IsRegistrationEnabled() bool {
	return s.registrationOpen
}

// dummyPasswordHash is used when an account doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates a new account from registration input.
// The CSRF token in the input is verified against the supplied session
// before anything else takes effect. Validation rules run in their
// fixed order; a uniqueness conflict detected by the repository at
// insert time (a racing registration) is reported the same way as one
// caught by validation.
func (s *Service) Register(ctx context.Context, in RegistrationInput, session *Session) (*Account, error) {
	if err := VerifyCSRFToken(session, in.CSRFToken); err != nil {
		return nil, err
	}

	if !s.registrationOpen {
		return nil, oops.Code("AUTH_REGISTRATION_CLOSED").Errorf("registration is closed")
	}

	in = in.Normalize()
	if err := ValidateRegistration(ctx, in, s.accounts); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(in.Username, in.Email, hash)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "build account").
			Wrap(err)
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		// A conflict here is an expected outcome of two racing
		// registrations, not a bug: validation passed, the insert lost.
		if errors.Is(err, ErrConflict) {
			return nil, s.registrationConflict(ctx, in, err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account registered",
		"account_id", account.ID.String(),
		"username", account.Username)

	return account, nil
}

// registrationConflict maps an insert-time uniqueness conflict onto the
// code validation would have reported, in validation's rule order: if
// the username now resolves it wins, otherwise the email. Lookup
// failures fall back to the username code rather than masking the
// conflict.
func (s *Service) registrationConflict(ctx context.Context, in RegistrationInput, cause error) error {
	if _, err := s.accounts.GetByUsername(ctx, in.Username); err == nil {
		return oops.Code("AUTH_USERNAME_TAKEN").
			With("username", in.Username).
			Wrap(cause)
	}
	if _, err := s.accounts.GetByEmail(ctx, in.Email); err == nil {
		return oops.Code("AUTH_EMAIL_TAKEN").
			With("email", in.Email).
			Wrap(cause)
	}
	return oops.Code("AUTH_USERNAME_TAKEN").
		With("username", in.Username).
		Wrap(cause)
}

// Login authenticates an account by username or email and rotates the
// session identity: the prior session (anonymous or stale) is deleted
// and a brand-new authenticated session is issued, preventing
// session-fixation reuse of a pre-login token. Returns the new session,
// its plaintext token, and the account.
// Uses constant-time operations to prevent timing-based username enumeration.
func (s *Service) Login(ctx context.Context, identifier, password, csrfToken string, session *Session) (*Session, string, *Account, error) {
	if err := VerifyCSRFToken(session, csrfToken); err != nil {
		return nil, "", nil, err
	}

	account, lookupErr := s.accounts.GetByIdentifier(ctx, identifier)

	// Determine which hash to verify against (real or dummy for timing attack prevention)
	var targetHash string
	var accountExists bool

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			// Use dummy hash - still perform verification to maintain constant time
			targetHash = dummyPasswordHash
			accountExists = false
		} else {
			return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by identifier").
				Wrap(lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
		accountExists = true
	}

	// Always verify password (constant-time operation for timing attack prevention)
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// For dummy hash verification errors, just treat as invalid
		if !accountExists {
			return nil, "", nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
		}
		return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	// Unknown account and wrong password collapse into the same error so
	// a rejected login never reveals which one it was. The retry_after
	// context carries the progressive delay for the client to honor; it
	// stays zero for unknown accounts so both branches attach the same
	// keys.
	if !accountExists || !valid {
		var wait time.Duration
		if accountExists {
			account.RecordFailure()
			_ = s.accounts.Update(ctx, account) //nolint:errcheck // Best effort
			state := CheckFailures(account.FailedAttempts, account.LockedUntil)
			wait = state.Delay
			if state.IsLockedOut {
				wait = state.LockoutRemaining
			}
		}
		return nil, "", nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			With("retry_after", wait).
			Errorf("invalid username or password")
	}

	// Check lockout AFTER password verification to maintain constant time
	if account.IsLocked() {
		state := CheckFailures(account.FailedAttempts, account.LockedUntil)
		return nil, "", nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", account.LockedUntil).
			With("retry_after", state.LockoutRemaining).
			Errorf("account is temporarily locked")
	}

	account.RecordSuccess()

	// Check if the stored hash needs a transparent upgrade
	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		newHash, hashErr := s.hasher.Hash(password)
		if hashErr == nil {
			account.PasswordHash = newHash
		}
	}

	// Ignore errors - login should succeed even if bookkeeping fails
	_ = s.accounts.Update(ctx, account) //nolint:errcheck // Best effort, login succeeds regardless

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	expiresAt := time.Now().Add(SessionLifetime)
	authed, err := NewSession(&account.ID, tokenHash, session.UserAgent, session.IPAddress, expiresAt)
	if err != nil {
		return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, authed); err != nil {
		return nil, "", nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	// Retire the pre-login session identity. Best effort: the new
	// session is already live.
	_ = s.sessions.Delete(ctx, session.ID) //nolint:errcheck // Best effort

	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"session_id", authed.ID.String())

	return authed, token, account, nil
}

// Logout invalidates the session entirely. The session must be
// authenticated and the CSRF token must verify; a later request
// presenting the old token is treated as a fresh anonymous client.
func (s *Service) Logout(ctx context.Context, session *Session, csrfToken string) error {
	if err := s.RequireAuthenticated(session); err != nil {
		return err
	}
	if err := VerifyCSRFToken(session, csrfToken); err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", session.ID.String()).
				Wrap(err)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "logout", "session_id", session.ID.String())
	return nil
}

// Begin creates a new anonymous session for a client making first
// contact. Returns the session and its plaintext token.
func (s *Service) Begin(ctx context.Context, userAgent, ipAddress string) (*Session, string, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("SESSION_BEGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(nil, tokenHash, userAgent, ipAddress, time.Now().Add(SessionLifetime))
	if err != nil {
		return nil, "", oops.Code("SESSION_BEGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, token, nil
}

// Resolve validates a session token and returns the live session.
// Expired sessions (absolute or idle) are deleted and reported as
// invalid. Also refreshes the LastSeenAt timestamp.
func (s *Service) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	tokenHash := HashSessionToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpiredAt(time.Now()) {
		_ = s.sessions.Delete(ctx, session.ID) //nolint:errcheck // Best effort cleanup
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	// Update last seen timestamp (non-blocking, ignore errors)
	now := time.Now()
	_ = s.sessions.UpdateLastSeen(ctx, session.ID, now) //nolint:errcheck // Best effort, resolution succeeds regardless
	session.LastSeenAt = now

	return session, nil
}

// EnsureCSRFToken returns the CSRF token bound to the session,
// generating and persisting one on first use. Idempotent: once set the
// token does not change until the session is cleared.
func (s *Service) EnsureCSRFToken(ctx context.Context, session *Session) (string, error) {
	if session == nil {
		return "", oops.Code("SESSION_REQUIRED").Errorf("session is required")
	}
	if session.CSRFToken != "" {
		return session.CSRFToken, nil
	}

	token, err := GenerateCSRFToken()
	if err != nil {
		return "", err
	}

	if err := s.sessions.SetCSRFToken(ctx, session.ID, token); err != nil {
		return "", oops.Code("CSRF_TOKEN_BIND_FAILED").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	session.CSRFToken = token
	return token, nil
}

// RequireAuthenticated is the gate for protected operations. A session
// without a bound account is denied regardless of its other fields.
func (s *Service) RequireAuthenticated(session *Session) error {
	if session == nil || !session.IsAuthenticated() {
		return oops.Code("AUTH_NOT_AUTHENTICATED").Errorf("authentication required")
	}
	return nil
}

// PurgeExpiredSessions removes expired session records and returns the
// number deleted. Intended to run periodically from the serve loop.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "purged expired sessions", "count", n)
	}
	return n, nil
}
