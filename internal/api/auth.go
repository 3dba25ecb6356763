package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/validate"
)

// BearerAuth rejects requests that do not carry the local API token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if token == "" || !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// presentError renders err with a user-safe message. Validation errors are
// a 400 with their own text; anything else is logged raw through the
// sanitizer and answered with code.
func presentError(ctx context.Context, w http.ResponseWriter, s *sanitize.Sanitizer, code int, err error, fallback string) {
	var verr *validate.Error
	if errors.As(err, &verr) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Message())
		return
	}
	res := s.Present(ctx, err, fallback)
	httpError(w, code, "api_error", "%s", res.UserMessage)
}
