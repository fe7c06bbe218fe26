// Package auth issues and validates short-lived node-to-node
// attestation tokens: proof that a peer claiming a given NodeId was
// recently in possession of the arena's shared secret, checked by the
// Host before accepting a connection request. Only the attaching
// client presents a token; a Client does not check anything the Host
// sends back. This is symmetric-key attestation
// between trusted peers, not end-user authentication — there is no
// JWKS endpoint or external identity provider in this picture.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the node an attestation token was issued to.
type Claims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// Issuer mints attestation tokens using a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer returns an Issuer using secret for signing, with tokens
// valid for ttl.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a token attesting to nodeID, valid from now for the
// issuer's configured ttl.
func (i *Issuer) Issue(nodeID string) (string, error) {
	now := time.Now()
	claims := Claims{
		NodeID: nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validator checks attestation tokens minted by an Issuer sharing the
// same secret.
type Validator struct {
	secret []byte
}

// NewValidator returns a Validator using secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses and checks tokenString, rejecting anything not
// signed with HS256 by this validator's secret (no algorithm
// confusion: the valid-methods list is fixed, never read from the
// token's own header).
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse attestation token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("attestation token is invalid")
	}
	if claims.NodeID == "" {
		return nil, errors.New("attestation token carries no node_id")
	}
	return claims, nil
}
