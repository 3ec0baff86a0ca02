package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

// tokenValidator checks a Google ID token for the configured audience.
type tokenValidator func(r *http.Request, credential, audience string) (*idtoken.Payload, error)

func googleValidator(r *http.Request, credential, audience string) (*idtoken.Payload, error) {
	return idtoken.Validate(r.Context(), credential, audience)
}

// handleGoogleCallback exchanges a Google credential for a session token that
// the class endpoints accept as a bearer token.
func (s *server) handleGoogleCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := r.FormValue("credential")
		if credential == "" {
			writeFailure(w, http.StatusBadRequest, "missing credential")
			return
		}

		payload, err := s.validateToken(r, credential, s.settings.ClientID)
		if err != nil {
			s.log.Info("failed to validate token", zap.Error(err))
			writeFailure(w, http.StatusUnauthorized, "invalid token")
			return
		}

		email, _ := payload.Claims["email"].(string)
		if email == "" {
			writeFailure(w, http.StatusUnauthorized, "token carries no email")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"email":   email,
			"name":    payload.Claims["name"],
			"picture": payload.Claims["picture"],
			"token":   s.signEmail(email),
			"admin":   s.isAdmin(email),
		})
	}
}

func (s *server) signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(s.settings.ClientSecret))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func (s *server) authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if !hmac.Equal([]byte(s.signEmail(email)), []byte(token)) {
		return "", false
	}
	return email, true
}

func (s *server) isAdmin(email string) bool {
	return slices.ContainsFunc(s.settings.Admins, func(a string) bool {
		return strings.EqualFold(a, email)
	})
}

// requireAdmin gates the class endpoints. Without a client id authentication is
// off and every caller is let through.
func (s *server) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.settings.ClientID == "" {
		return "", true
	}
	email, ok := s.authorize(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	if !s.isAdmin(email) {
		writeFailure(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return email, true
}

func (s *server) handleAdminCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := s.authorize(r)
		if !ok {
			writeFailure(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"admin": s.isAdmin(email)})
	}
}
