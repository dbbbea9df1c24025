// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"time"
)

// Lockout configuration.
const (
	// LockoutDuration is the time an account is locked out after too many failures.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of failures that triggers a lockout.
	LockoutThreshold = 7
)

// LockoutState contains the result of a lockout check.
type LockoutState struct {
	// Delay is the time to wait before allowing another attempt.
	Delay time.Duration

	// IsLockedOut indicates the account is temporarily locked.
	IsLockedOut bool

	// LockoutRemaining is the time until the lockout expires.
	LockoutRemaining time.Duration
}

// CheckFailures evaluates the lockout state based on failure count.
// lockedUntil is the current lockout timestamp (nil if not locked).
func CheckFailures(failures int, lockedUntil *time.Time) LockoutState {
	state := LockoutState{}

	// Check existing lockout first
	if IsLockedOut(lockedUntil) {
		state.IsLockedOut = true
		state.LockoutRemaining = time.Until(*lockedUntil)
		return state
	}

	// Progressive delay: 2^(failures-1) seconds, max 32s before lockout
	if failures > 0 && failures < LockoutThreshold {
		state.Delay = time.Duration(1<<(failures-1)) * time.Second
		if state.Delay > 32*time.Second {
			state.Delay = 32 * time.Second
		}
	}

	// Lockout at the threshold
	if failures >= LockoutThreshold {
		state.IsLockedOut = true
		state.LockoutRemaining = LockoutDuration
	}

	return state
}

// IsLockedOut returns true if the lockout time is in the future.
func IsLockedOut(lockedUntil *time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(time.Now())
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count.
// Returns nil if failures < LockoutThreshold.
func ComputeLockoutTime(failures int) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	lockout := time.Now().Add(LockoutDuration)
	return &lockout
}
