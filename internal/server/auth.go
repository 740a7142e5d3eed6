package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// OperatorToken binds an API token to an engine principal
type OperatorToken struct {
	Token     string
	Principal string
}

type operatorAuth struct {
	tokens []OperatorToken
}

// principal resolves the request's bearer token or X-API-Key header.
// Every configured token is compared so the match position does not leak.
func (a *operatorAuth) principal(r *http.Request) (string, bool) {
	token := r.Header.Get("X-API-Key")
	if h := r.Header.Get("Authorization"); token == "" && h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		return "", false
	}

	var found string
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t.Token)) == 1 {
			found = t.Principal
		}
	}
	return found, found != ""
}
