// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package web adapts the auth service to HTTP. It owns cookie handling
// and outcome-to-status mapping; all authentication decisions are made
// by the core service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

const (
	// SessionCookieName carries the opaque session token.
	SessionCookieName = "gatehouse_session"

	// CSRFHeader is the request header checked for the CSRF token when
	// the JSON body does not carry one.
	CSRFHeader = "X-CSRF-Token"
)

// AuthService defines the core operations needed by the HTTP layer.
type AuthService interface {
	// Register creates a new account.
	Register(ctx context.Context, in auth.RegistrationInput, session *auth.Session) (*auth.Account, error)

	// Login authenticates and rotates the session identity.
	Login(ctx context.Context, identifier, password, csrfToken string, session *auth.Session) (*auth.Session, string, *auth.Account, error)

	// Logout invalidates the session.
	Logout(ctx context.Context, session *auth.Session, csrfToken string) error

	// Begin creates an anonymous session for a new client.
	Begin(ctx context.Context, userAgent, ipAddress string) (*auth.Session, string, error)

	// Resolve validates a session token.
	Resolve(ctx context.Context, token string) (*auth.Session, error)

	// EnsureCSRFToken lazily issues the session's CSRF token.
	EnsureCSRFToken(ctx context.Context, session *auth.Session) (string, error)

	// RequireAuthenticated gates protected resources.
	RequireAuthenticated(session *auth.Session) error
}

// Handler serves the authentication endpoints.
type Handler struct {
	service AuthService
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHandler creates a new Handler with a no-op logger.
// Returns an error if the service is nil. Metrics are optional.
func NewHandler(service AuthService, metrics *observability.Metrics) (*Handler, error) {
	if service == nil {
		return nil, oops.Errorf("auth service is required")
	}
	return &Handler{
		service: service,
		metrics: metrics,
		logger:  slog.New(slog.DiscardHandler),
	}, nil
}

// NewHandlerWithLogger creates a new Handler with the provided logger.
// Returns an error if the service or logger is nil.
func NewHandlerWithLogger(service AuthService, metrics *observability.Metrics, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	h, err := NewHandler(service, metrics)
	if err != nil {
		return nil, err
	}
	h.logger = logger
	return h, nil
}

// Routes returns the HTTP mux for the auth endpoints.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/csrf", h.handleCSRF)
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/me", h.handleMe)
	return mux
}

// session resolves the client's session from the cookie, creating a
// fresh anonymous session (and setting the cookie) when none exists or
// the presented token is no longer valid.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*auth.Session, error) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		session, resolveErr := h.service.Resolve(r.Context(), cookie.Value)
		if resolveErr == nil {
			return session, nil
		}
		code := errutil.ErrorCode(resolveErr)
		if code != "SESSION_INVALID" && code != "SESSION_EXPIRED" {
			return nil, resolveErr
		}
		// Fall through: expired or unknown token gets a fresh session.
	}

	session, token, err := h.service.Begin(r.Context(), r.UserAgent(), clientIP(r))
	if err != nil {
		return nil, err
	}
	setSessionCookie(w, token)
	return session, nil
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	token, err := h.service.EnsureCSRFToken(r.Context(), session)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Confirm   string `json:"confirm"`
	CSRFToken string `json:"csrf_token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "request body must be JSON")
		return
	}

	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	in := auth.RegistrationInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Confirm:   req.Confirm,
		CSRFToken: csrfToken(r, req.CSRFToken),
	}

	account, err := h.service.Register(r.Context(), in, session)
	if err != nil {
		h.countRegistration("rejected")
		h.fail(w, r, err)
		return
	}

	h.countRegistration("registered")
	writeJSON(w, http.StatusCreated, map[string]string{
		"account_id": account.ID.String(),
		"username":   account.Username,
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	CSRFToken  string `json:"csrf_token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "request body must be JSON")
		return
	}

	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	authed, token, account, err := h.service.Login(r.Context(), req.Identifier, req.Password, csrfToken(r, req.CSRFToken), session)
	if err != nil {
		h.countLogin("rejected")
		h.fail(w, r, err)
		return
	}

	// The session identity rotated on login; hand the new token to the
	// client.
	setSessionCookie(w, token)
	h.countLogin("authenticated")
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": account.ID.String(),
		"username":   account.Username,
		"session_id": authed.ID.String(),
	})
}

type logoutRequest struct {
	CSRFToken string `json:"csrf_token"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	// An empty body is fine; the header can carry the token.
	_ = json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // optional body

	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.service.Logout(r.Context(), session, csrfToken(r, req.CSRFToken)); err != nil {
		h.fail(w, r, err)
		return
	}

	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.service.RequireAuthenticated(session); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": session.AccountID.String(),
		"session_id": session.ID.String(),
	})
}

// fail maps a core outcome onto an HTTP response and logs faults.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.ErrorCode(err)
	status, ok := statusForCode(code)
	if !ok {
		// Unrecognized code: a storage or internal fault, not an outcome.
		errutil.LogError(h.logger, "request failed", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	if code == "CSRF_TOKEN_MISSING" || code == "CSRF_TOKEN_MISMATCH" {
		if h.metrics != nil {
			h.metrics.CSRFRejectsTotal.Inc()
		}
	}

	if code == "AUTH_ACCOUNT_LOCKED" {
		if wait := retryAfter(err); wait > 0 {
			seconds := int((wait + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	}

	h.logger.InfoContext(r.Context(), "request rejected",
		"code", code,
		"path", r.URL.Path)
	writeError(w, status, code, rejectionMessage(err))
}

// statusForCode maps outcome codes to HTTP statuses. Codes not listed
// are treated as internal faults.
func statusForCode(code string) (int, bool) {
	switch code {
	case "AUTH_MISSING_FIELD", "AUTH_USERNAME_TOO_SHORT", "AUTH_INVALID_EMAIL",
		"AUTH_PASSWORD_TOO_SHORT", "AUTH_PASSWORD_MISMATCH":
		return http.StatusUnprocessableEntity, true
	case "AUTH_USERNAME_TAKEN", "AUTH_EMAIL_TAKEN":
		return http.StatusConflict, true
	case "AUTH_INVALID_CREDENTIALS", "AUTH_NOT_AUTHENTICATED":
		return http.StatusUnauthorized, true
	case "CSRF_TOKEN_MISSING", "CSRF_TOKEN_MISMATCH":
		return http.StatusForbidden, true
	case "AUTH_ACCOUNT_LOCKED":
		return http.StatusTooManyRequests, true
	case "AUTH_REGISTRATION_CLOSED":
		return http.StatusForbidden, true
	case "SESSION_INVALID", "SESSION_EXPIRED", "SESSION_TOKEN_EMPTY":
		return http.StatusUnauthorized, true
	default:
		return 0, false
	}
}

// retryAfter extracts the lockout wait attached by the core service.
func retryAfter(err error) time.Duration {
	if oopsErr, ok := oops.AsOops(err); ok {
		if wait, ok := oopsErr.Context()["retry_after"].(time.Duration); ok {
			return wait
		}
	}
	return 0
}

func rejectionMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Error()
	}
	return err.Error()
}

func (h *Handler) countRegistration(outcome string) {
	if h.metrics != nil {
		h.metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

// csrfToken prefers the body field, falling back to the header.
func csrfToken(r *http.Request, bodyToken string) string {
	if bodyToken != "" {
		return bodyToken
	}
	return r.Header.Get(CSRFHeader)
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionLifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // response write error is acceptable, client may disconnect
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
