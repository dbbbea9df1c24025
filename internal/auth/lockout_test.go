// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gatehouse/gatehouse/internal/auth"
)

func TestCheckFailures(t *testing.T) {
	t.Run("no failures means no delay", func(t *testing.T) {
		state := auth.CheckFailures(0, nil)
		assert.False(t, state.IsLockedOut)
		assert.Zero(t, state.Delay)
	})

	t.Run("progressive delay doubles per failure", func(t *testing.T) {
		tests := []struct {
			failures int
			want     time.Duration
		}{
			{1, 1 * time.Second},
			{2, 2 * time.Second},
			{3, 4 * time.Second},
			{4, 8 * time.Second},
			{5, 16 * time.Second},
			{6, 32 * time.Second},
		}
		for _, tt := range tests {
			state := auth.CheckFailures(tt.failures, nil)
			assert.Equal(t, tt.want, state.Delay, "failures=%d", tt.failures)
			assert.False(t, state.IsLockedOut, "failures=%d", tt.failures)
		}
	})

	t.Run("locks out at threshold", func(t *testing.T) {
		state := auth.CheckFailures(auth.LockoutThreshold, nil)
		assert.True(t, state.IsLockedOut)
		assert.Equal(t, auth.LockoutDuration, state.LockoutRemaining)
	})

	t.Run("existing lockout is honored", func(t *testing.T) {
		until := time.Now().Add(5 * time.Minute)
		state := auth.CheckFailures(3, &until)
		assert.True(t, state.IsLockedOut)
		assert.InDelta(t, (5 * time.Minute).Seconds(), state.LockoutRemaining.Seconds(), 1)
	})

	t.Run("expired lockout is ignored", func(t *testing.T) {
		until := time.Now().Add(-time.Minute)
		state := auth.CheckFailures(3, &until)
		assert.False(t, state.IsLockedOut)
		assert.Equal(t, 4*time.Second, state.Delay)
	})
}

func TestIsLockedOut(t *testing.T) {
	t.Run("nil is not locked", func(t *testing.T) {
		assert.False(t, auth.IsLockedOut(nil))
	})

	t.Run("future time is locked", func(t *testing.T) {
		future := time.Now().Add(time.Minute)
		assert.True(t, auth.IsLockedOut(&future))
	})

	t.Run("past time is not locked", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		assert.False(t, auth.IsLockedOut(&past))
	})
}

func TestComputeLockoutTime(t *testing.T) {
	t.Run("below threshold returns nil", func(t *testing.T) {
		assert.Nil(t, auth.ComputeLockoutTime(auth.LockoutThreshold-1))
	})

	t.Run("at threshold returns future time", func(t *testing.T) {
		lockout := auth.ComputeLockoutTime(auth.LockoutThreshold)
		assert.NotNil(t, lockout)
		assert.True(t, lockout.After(time.Now()))
	})
}
