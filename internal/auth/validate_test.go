// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/memory"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func validInput() auth.RegistrationInput {
	return auth.RegistrationInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "secret1",
		Confirm:  "secret1",
	}
}

func TestValidateRegistration(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts valid input", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		err := auth.ValidateRegistration(ctx, validInput(), accounts)
		assert.NoError(t, err)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		tests := []struct {
			name   string
			mutate func(*auth.RegistrationInput)
		}{
			{"empty username", func(in *auth.RegistrationInput) { in.Username = "" }},
			{"empty email", func(in *auth.RegistrationInput) { in.Email = "" }},
			{"empty password", func(in *auth.RegistrationInput) { in.Password = "" }},
			{"whitespace-only password", func(in *auth.RegistrationInput) {
				in.Password = "      "
				in.Confirm = "      "
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				in := validInput()
				tt.mutate(&in)
				err := auth.ValidateRegistration(ctx, in, accounts)
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "AUTH_MISSING_FIELD")
			})
		}
	})

	t.Run("rejects short username", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		in := validInput()
		in.Username = "al"
		err := auth.ValidateRegistration(ctx, in, accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_USERNAME_TOO_SHORT")
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		for _, email := range []string{"plainaddress", "missing@tld", "@nolocal.com", "spaces in@addr.com"} {
			in := validInput()
			in.Email = email
			err := auth.ValidateRegistration(ctx, in, accounts)
			require.Error(t, err, "email %q should be rejected", email)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_EMAIL")
		}
	})

	t.Run("rejects short password", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		in := validInput()
		in.Password = "12345"
		in.Confirm = "12345"
		err := auth.ValidateRegistration(ctx, in, accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_TOO_SHORT")
	})

	t.Run("rejects password confirmation mismatch", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		in := validInput()
		in.Confirm = "secret2"
		err := auth.ValidateRegistration(ctx, in, accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_MISMATCH")
	})

	t.Run("rejects taken username", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		existing, err := auth.NewAccount("alice", "other@example.com", "hash")
		require.NoError(t, err)
		require.NoError(t, accounts.Create(ctx, existing))

		err = auth.ValidateRegistration(ctx, validInput(), accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_USERNAME_TAKEN")
	})

	t.Run("username uniqueness is case-insensitive", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		existing, err := auth.NewAccount("Alice", "other@example.com", "hash")
		require.NoError(t, err)
		require.NoError(t, accounts.Create(ctx, existing))

		err = auth.ValidateRegistration(ctx, validInput(), accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_USERNAME_TAKEN")
	})

	t.Run("rejects taken email", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		existing, err := auth.NewAccount("bob", "alice@example.com", "hash")
		require.NoError(t, err)
		require.NoError(t, accounts.Create(ctx, existing))

		err = auth.ValidateRegistration(ctx, validInput(), accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMAIL_TAKEN")
	})

	t.Run("first violated rule wins", func(t *testing.T) {
		accounts := memory.NewAccountRepository()

		// Short username AND bad email AND short password: username rule fires.
		in := auth.RegistrationInput{
			Username: "al",
			Email:    "not-an-email",
			Password: "123",
			Confirm:  "456",
		}
		err := auth.ValidateRegistration(ctx, in, accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_USERNAME_TOO_SHORT")

		// Bad email AND short password: email rule fires.
		in.Username = "alice"
		err = auth.ValidateRegistration(ctx, in, accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_EMAIL")

		// Short password AND mismatch: length rule fires.
		in.Email = "alice@example.com"
		err = auth.ValidateRegistration(ctx, in, accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_TOO_SHORT")

		// Mismatch only after length passes.
		in.Password = "secret1"
		in.Confirm = "secret2"
		err = auth.ValidateRegistration(ctx, in, accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_MISMATCH")
	})

	t.Run("username taken checked before email taken", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		existing, err := auth.NewAccount("alice", "alice@example.com", "hash")
		require.NoError(t, err)
		require.NoError(t, accounts.Create(ctx, existing))

		// Both username and email collide; username is reported.
		err = auth.ValidateRegistration(ctx, validInput(), accounts)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_USERNAME_TAKEN")
	})
}

func TestRegistrationInputNormalize(t *testing.T) {
	in := auth.RegistrationInput{
		Username: "  alice  ",
		Email:    "  ALICE@Example.COM ",
		Password: "  secret1  ",
		Confirm:  "  secret1  ",
	}
	out := in.Normalize()

	assert.Equal(t, "alice", out.Username)
	assert.Equal(t, "alice@example.com", out.Email)
	// Passwords keep their whitespace.
	assert.Equal(t, "  secret1  ", out.Password)
	assert.Equal(t, "  secret1  ", out.Confirm)
}
