// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package memory provides in-memory repository implementations.
// They are safe for concurrent use and back deployments that keep
// session state process-local, as well as tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// AccountRepository implements auth.AccountRepository in memory.
// A single mutex guards the maps so Create is atomic with respect to
// the uniqueness invariant: two racing inserts for the same username
// yield exactly one success and one conflict.
type AccountRepository struct {
	mu         sync.Mutex
	byID       map[ulid.ULID]*auth.Account
	byUsername map[string]ulid.ULID // key: lower-cased username
	byEmail    map[string]ulid.ULID // key: normalized email
}

// NewAccountRepository creates an empty AccountRepository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:       make(map[ulid.ULID]*auth.Account),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
	}
}

// Create stores a new account, enforcing username and email uniqueness
// under the repository lock.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	usernameKey := strings.ToLower(account.Username)
	emailKey := auth.NormalizeEmail(account.Email)

	if _, exists := r.byUsername[usernameKey]; exists {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("username", account.Username).
			Wrap(auth.ErrConflict)
	}
	if emailKey != "" {
		if _, exists := r.byEmail[emailKey]; exists {
			return oops.Code("ACCOUNT_CREATE_FAILED").
				With("email", emailKey).
				Wrap(auth.ErrConflict)
		}
	}

	stored := *account
	r.byID[account.ID] = &stored
	r.byUsername[usernameKey] = account.ID
	if emailKey != "" {
		r.byEmail[emailKey] = account.ID
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	copied := *account
	return &copied, nil
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(r.byUsername, strings.ToLower(username), "username", username)
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(r.byEmail, auth.NormalizeEmail(email), "email", email)
}

// GetByIdentifier retrieves an account by username or email.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	account, err := r.GetByUsername(ctx, identifier)
	if err == nil {
		return account, nil
	}
	return r.GetByEmail(ctx, identifier)
}

// Update replaces an existing account record.
func (r *AccountRepository) Update(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[account.ID]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", account.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	stored := *account
	r.byID[account.ID] = &stored
	return nil
}

func (r *AccountRepository) lookupLocked(index map[string]ulid.ULID, key, field, value string) (*auth.Account, error) {
	id, ok := index[key]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With(field, value).
			Wrap(auth.ErrNotFound)
	}
	account := r.byID[id]
	copied := *account
	return &copied, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
