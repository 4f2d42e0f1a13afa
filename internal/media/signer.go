// Package media mints signed, time-limited download URLs for message media.
// The object store itself is an external collaborator; this is only the
// signing boundary in front of it.
package media

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the signed-URL token claims.
type Claims struct {
	jwt.RegisteredClaims
	ObjectKey string `json:"object_key"`
}

// Signer issues and verifies download URLs.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

// NewSigner creates a signer. baseURL is the public download endpoint, ttl
// bounds how long a minted URL stays valid.
func NewSigner(secret, baseURL string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("media signing secret is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{secret: []byte(secret), baseURL: baseURL, ttl: ttl}, nil
}

// SignURL mints a time-limited download URL for an object key.
func (s *Signer) SignURL(objectKey string) (string, error) {
	if objectKey == "" {
		return "", errors.New("object key is empty")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		ObjectKey: objectKey,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign media token: %w", err)
	}

	return fmt.Sprintf("%s/media/%s?token=%s", s.baseURL, url.PathEscape(objectKey), token), nil
}

// Verify checks a download token and returns the object key it grants.
// Expired or tampered tokens fail.
func (s *Signer) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid media token")
	}
	return claims.ObjectKey, nil
}
