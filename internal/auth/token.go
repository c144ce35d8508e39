// internal/auth/token.go
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrMissingSub   = errors.New("auth: missing sub in jwt")
)

// Issuer signs and verifies anonymous device tokens. The subject is the device id; nothing else
// is known about the holder.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TTL is how long issued tokens stay valid (0 => never expire).
	TTL time.Duration
	Now func() time.Time
}

// NewIssuer generates a fresh ed25519 key pair.
func NewIssuer(ttl time.Duration) (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{privateKey: priv, publicKey: pub, TTL: ttl, Now: time.Now}, nil
}

// LoadIssuer reads a raw ed25519 key pair from disk.
func LoadIssuer(privatePath, publicPath string, ttl time.Duration) (*Issuer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("auth: key files have the wrong size")
	}
	return &Issuer{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		TTL:        ttl,
		Now:        time.Now,
	}, nil
}

// ParseTTL reads a token lifetime. "never", "0" and "" mean tokens do not expire.
func ParseTTL(s string) (time.Duration, error) {
	if s == "never" || s == "0" || s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// NewDeviceID returns a fresh anonymous device identity.
func NewDeviceID() string {
	return uuid.NewString()
}

// Issue creates a signed JWT with "sub" = deviceID.
func (i *Issuer) Issue(deviceID string) (string, error) {
	now := i.Now()
	claims := jwt.RegisteredClaims{
		Subject:  deviceID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.TTL))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(i.privateKey)
}

// Authenticate verifies a JWT string and returns its device id.
func (i *Issuer) Authenticate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.publicKey, nil
	}, jwt.WithTimeFunc(i.Now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !t.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrMissingSub
	}
	return claims.Subject, nil
}
