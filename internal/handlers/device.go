package handlers

import (
	"net/http"

	"github.com/jason-s-yu/draftsync/internal/auth"
)

const authCookie = "auth_token"

// EnsureDevice returns the device id carried by the request's token. When the request has no
// token, or one that does not verify, a new anonymous identity is issued and set as a cookie.
func (g *Gateway) EnsureDevice(w http.ResponseWriter, r *http.Request) (string, error) {
	if token := requestToken(r); token != "" {
		deviceID, err := g.Issuer.Authenticate(token)
		if err == nil {
			return deviceID, nil
		}
		g.logger().WithError(err).Debug("replacing unverifiable device token")
	}

	deviceID := auth.NewDeviceID()
	token, err := g.Issuer.Issue(deviceID)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	return deviceID, nil
}
