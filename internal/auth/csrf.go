// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"github.com/samber/oops"
)

// CSRFTokenBytes is the entropy of a CSRF token before encoding.
const CSRFTokenBytes = 24

// GenerateCSRFToken creates a cryptographically random, URL-safe CSRF
// token suitable for embedding in rendered forms.
func GenerateCSRFToken() (string, error) {
	buf := make([]byte, CSRFTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("CSRF_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", CSRFTokenBytes).
			Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyCSRFToken checks the supplied token against the one bound to
// the session. A session with no bound token, or a missing supplied
// token, fails with CSRF_TOKEN_MISSING; anything else fails with
// CSRF_TOKEN_MISMATCH unless the two are equal under constant-time
// comparison.
func VerifyCSRFToken(session *Session, supplied string) error {
	if session == nil || session.CSRFToken == "" || supplied == "" {
		return oops.Code("CSRF_TOKEN_MISSING").Errorf("csrf token is missing")
	}
	if subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(supplied)) != 1 {
		return oops.Code("CSRF_TOKEN_MISMATCH").Errorf("csrf token does not match")
	}
	return nil
}
