// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth provides credential authentication primitives for Gatehouse.
//
// # Domain Types
//
// Domain types (Account, Session) should be created using their
// respective constructors:
//   - NewAccount - creates an Account from validated registration input
//   - NewSession - creates a Session bound to an optional account
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Service
//
// The Service type coordinates the domain operations exposed to the
// request layer: Register, Login, Logout, Begin, Resolve,
// EnsureCSRFToken and RequireAuthenticated. It is created with
// NewService / NewServiceWithLogger, which validate dependencies.
package auth
