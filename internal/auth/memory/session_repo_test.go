// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/memory"
)

func newSession(t *testing.T, accountID *ulid.ULID, expiresAt time.Time) *auth.Session {
	t.Helper()
	_, hash, err := auth.GenerateSessionToken()
	require.NoError(t, err)
	session, err := auth.NewSession(accountID, hash, "", "", expiresAt)
	require.NoError(t, err)
	return session
}

func TestSessionRepositoryCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and retrieves by id and token hash", func(t *testing.T) {
		repo := memory.NewSessionRepository()
		session := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		require.NoError(t, repo.Create(ctx, session))

		byID, err := repo.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.TokenHash, byID.TokenHash)

		byHash, err := repo.GetByTokenHash(ctx, session.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, session.ID, byHash.ID)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		repo := memory.NewSessionRepository()
		session := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		require.NoError(t, repo.Create(ctx, session))

		err := repo.Create(ctx, session)
		assert.ErrorIs(t, err, auth.ErrConflict)
	})
}

func TestSessionRepositoryMutations(t *testing.T) {
	ctx := context.Background()

	t.Run("updates last seen", func(t *testing.T) {
		repo := memory.NewSessionRepository()
		session := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		require.NoError(t, repo.Create(ctx, session))

		seen := time.Now().Add(time.Minute)
		require.NoError(t, repo.UpdateLastSeen(ctx, session.ID, seen))

		got, err := repo.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, got.LastSeenAt.Equal(seen))
	})

	t.Run("binds csrf token", func(t *testing.T) {
		repo := memory.NewSessionRepository()
		session := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		require.NoError(t, repo.Create(ctx, session))

		require.NoError(t, repo.SetCSRFToken(ctx, session.ID, "csrf-token"))

		got, err := repo.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "csrf-token", got.CSRFToken)
	})

	t.Run("mutations on unknown session report not found", func(t *testing.T) {
		repo := memory.NewSessionRepository()
		id := ulid.Make()
		assert.ErrorIs(t, repo.UpdateLastSeen(ctx, id, time.Now()), auth.ErrNotFound)
		assert.ErrorIs(t, repo.SetCSRFToken(ctx, id, "x"), auth.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, id), auth.ErrNotFound)
	})
}

func TestSessionRepositoryDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("delete removes id and token index", func(t *testing.T) {
		repo := memory.NewSessionRepository()
		session := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		require.NoError(t, repo.Create(ctx, session))

		require.NoError(t, repo.Delete(ctx, session.ID))

		_, err := repo.GetByID(ctx, session.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = repo.GetByTokenHash(ctx, session.TokenHash)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("delete by account removes only that account's sessions", func(t *testing.T) {
		repo := memory.NewSessionRepository()
		aliceID := ulid.Make()
		bobID := ulid.Make()

		aliceSession := newSession(t, &aliceID, time.Now().Add(auth.SessionLifetime))
		bobSession := newSession(t, &bobID, time.Now().Add(auth.SessionLifetime))
		anonymous := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		require.NoError(t, repo.Create(ctx, aliceSession))
		require.NoError(t, repo.Create(ctx, bobSession))
		require.NoError(t, repo.Create(ctx, anonymous))

		require.NoError(t, repo.DeleteByAccount(ctx, aliceID))

		_, err := repo.GetByID(ctx, aliceSession.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = repo.GetByID(ctx, bobSession.ID)
		assert.NoError(t, err)
		_, err = repo.GetByID(ctx, anonymous.ID)
		assert.NoError(t, err)
	})

	t.Run("delete expired removes absolute and idle expiries", func(t *testing.T) {
		repo := memory.NewSessionRepository()

		live := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		require.NoError(t, repo.Create(ctx, live))

		expired := newSession(t, nil, time.Now().Add(time.Millisecond))
		expired.ExpiresAt = time.Now().Add(-time.Hour)
		require.NoError(t, repo.Create(ctx, expired))

		idle := newSession(t, nil, time.Now().Add(auth.SessionLifetime))
		idle.LastSeenAt = time.Now().Add(-auth.SessionIdleTimeout - time.Minute)
		require.NoError(t, repo.Create(ctx, idle))

		count, err := repo.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		_, err = repo.GetByID(ctx, live.ID)
		assert.NoError(t, err)
	})
}
