// Package dispatch executes a resolved command binding against its handler
// service: RPC first with bounded retries, one HTTP fallback, response
// storage, and asynchronous collaborator notification.
//
// This file implements the short-lived signed token attached to every
// handler request, so handlers can verify the request originated from the
// router without a shared session.
package dispatch

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer mints HS256 tokens scoped to one dispatch. An empty secret disables
// signing (dev mode); handlers are expected to reject unsigned requests in
// production.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner constructs a Signer. ttl falls back to one minute when
// non-positive.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Sign returns a token binding the user, community, and command of one
// dispatch, or "" when signing is disabled.
func (s *Signer) Sign(userID, communityID, command string) (string, error) {
	if len(s.secret) == 0 {
		return "", nil
	}
	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       userID,
		"community": communityID,
		"command":   command,
		"iat":       now.Unix(),
		"exp":       now.Add(s.ttl).Unix(),
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign dispatch token: %w", err)
	}
	return signed, nil
}
