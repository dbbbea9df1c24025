// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
)

var accountColumns = []string{
	"id", "username", "email", "password_hash",
	"failed_attempts", "locked_until", "created_at", "updated_at",
}

func accountRow(account *auth.Account) *pgxmock.Rows {
	return pgxmock.NewRows(accountColumns).AddRow(
		account.ID.String(),
		account.Username,
		account.Email,
		account.PasswordHash,
		account.FailedAttempts,
		account.LockedUntil,
		account.CreatedAt,
		account.UpdatedAt,
	)
}

func testAccount(t *testing.T) *auth.Account {
	t.Helper()
	account, err := auth.NewAccount("alice", "alice@example.com", "somehash")
	require.NoError(t, err)
	return account
}

func TestAccountRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts account", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		account := testAccount(t)
		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(
				account.ID.String(),
				account.Username,
				account.Email,
				account.PasswordHash,
				account.FailedAttempts,
				account.LockedUntil,
				account.CreatedAt,
				account.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := postgres.NewAccountRepository(mock)
		require.NoError(t, repo.Create(ctx, account))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "accounts_username_lower_idx",
			})

		repo := postgres.NewAccountRepository(mock)
		err = repo.Create(ctx, testAccount(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other database errors are not conflicts", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(errors.New("connection refused"))

		repo := postgres.NewAccountRepository(mock)
		err = repo.Create(ctx, testAccount(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_Lookups(t *testing.T) {
	ctx := context.Background()

	t.Run("get by username matches case-insensitively", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		account := testAccount(t)
		mock.ExpectQuery(`SELECT (.+) FROM accounts\s+WHERE LOWER\(username\) = LOWER\(\$1\)`).
			WithArgs("ALICE").
			WillReturnRows(accountRow(account))

		repo := postgres.NewAccountRepository(mock)
		got, err := repo.GetByUsername(ctx, "ALICE")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get by email normalizes before querying", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		account := testAccount(t)
		mock.ExpectQuery(`SELECT (.+) FROM accounts\s+WHERE email = \$1`).
			WithArgs("alice@example.com").
			WillReturnRows(accountRow(account))

		repo := postgres.NewAccountRepository(mock)
		got, err := repo.GetByEmail(ctx, "ALICE@Example.COM")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get by identifier queries username and email together", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		account := testAccount(t)
		mock.ExpectQuery(`SELECT (.+) FROM accounts\s+WHERE LOWER\(username\) = LOWER\(\$1\) OR email = \$2`).
			WithArgs("ALICE@X.COM", "alice@x.com").
			WillReturnRows(accountRow(account))

		repo := postgres.NewAccountRepository(mock)
		got, err := repo.GetByIdentifier(ctx, "ALICE@X.COM")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row reports not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT (.+) FROM accounts`).
			WithArgs("nobody").
			WillReturnRows(pgxmock.NewRows(accountColumns))

		repo := postgres.NewAccountRepository(mock)
		_, err = repo.GetByUsername(ctx, "nobody")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lockout fields round-trip", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		account := testAccount(t)
		lockedUntil := time.Now().Add(auth.LockoutDuration)
		account.FailedAttempts = auth.LockoutThreshold
		account.LockedUntil = &lockedUntil

		mock.ExpectQuery(`SELECT (.+) FROM accounts`).
			WithArgs(account.ID.String()).
			WillReturnRows(accountRow(account))

		repo := postgres.NewAccountRepository(mock)
		got, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, auth.LockoutThreshold, got.FailedAttempts)
		require.NotNil(t, got.LockedUntil)
		assert.True(t, got.IsLocked())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("updates existing account", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		account := testAccount(t)
		account.RecordFailure()

		mock.ExpectExec(`UPDATE accounts SET`).
			WithArgs(
				account.ID.String(),
				account.Username,
				account.Email,
				account.PasswordHash,
				account.FailedAttempts,
				account.LockedUntil,
				account.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewAccountRepository(mock)
		require.NoError(t, repo.Update(ctx, account))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows affected reports not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE accounts SET`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := postgres.NewAccountRepository(mock)
		err = repo.Update(ctx, testAccount(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_ScanRejectsBadID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(accountColumns).AddRow(
		"not-a-ulid", "alice", "alice@example.com", "hash",
		0, (*time.Time)(nil), time.Now(), time.Now(),
	)
	id := ulid.Make()
	mock.ExpectQuery(`SELECT (.+) FROM accounts`).
		WithArgs(id.String()).
		WillReturnRows(rows)

	repo := postgres.NewAccountRepository(mock)
	_, err = repo.GetByID(context.Background(), id)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
