// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// SessionRepository implements auth.SessionRepository in memory.
// A single mutex serializes all writes to a session's record.
type SessionRepository struct {
	mu      sync.Mutex
	byID    map[ulid.ULID]*auth.Session
	byToken map[string]ulid.ULID
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byID:    make(map[ulid.ULID]*auth.Session),
		byToken: make(map[string]ulid.ULID),
	}
}

// Create stores a new session.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[session.ID]; exists {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			Wrap(auth.ErrConflict)
	}
	stored := *session
	r.byID[session.ID] = &stored
	r.byToken[session.TokenHash] = session.ID
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	copied := *session
	return &copied, nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	copied := *r.byID[id]
	return &copied, nil
}

// UpdateLastSeen updates the LastSeenAt timestamp for a session.
func (r *SessionRepository) UpdateLastSeen(_ context.Context, id ulid.ULID, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	session.LastSeenAt = lastSeen
	return nil
}

// SetCSRFToken binds a CSRF token to a session.
func (r *SessionRepository) SetCSRFToken(_ context.Context, id ulid.ULID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	session.CSRFToken = token
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	delete(r.byToken, session.TokenHash)
	delete(r.byID, id)
	return nil
}

// DeleteByAccount removes all sessions for an account.
func (r *SessionRepository) DeleteByAccount(_ context.Context, accountID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, session := range r.byID {
		if session.AccountID != nil && session.AccountID.Compare(accountID) == 0 {
			delete(r.byToken, session.TokenHash)
			delete(r.byID, id)
		}
	}
	return nil
}

// DeleteExpired removes all expired sessions and returns the count.
func (r *SessionRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var count int64
	for id, session := range r.byID {
		if session.IsExpiredAt(now) {
			delete(r.byToken, session.TokenHash)
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
