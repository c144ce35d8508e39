package handlers

import (
	"net/http"
	"strings"
)

// requestToken returns the device token from the Authorization header or the auth cookie.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	c, err := r.Cookie(authCookie)
	if err != nil {
		return ""
	}
	return c.Value
}
