package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zeusync/relpose/internal/core/protocol"
)

// TokenAuth checks a shared token passed as "Authorization: Bearer <token>"
// or as the token query parameter. An empty Token admits everyone.
type TokenAuth struct {
	Token string
}

func (a TokenAuth) Authorize(r *http.Request) error {
	if a.Token == "" {
		return nil
	}

	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
		return protocol.ErrUnauthorized
	}
	return nil
}

// Wrap rejects unauthorized requests with 401 before they reach next.
func (a TokenAuth) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authorize(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
