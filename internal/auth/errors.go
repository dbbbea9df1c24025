// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert would violate a uniqueness
// constraint. Repositories must detect the violation atomically at
// insert time; a prior lookup is never a safe gate against races.
var ErrConflict = errors.New("conflict")
