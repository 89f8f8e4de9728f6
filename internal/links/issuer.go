// Package links issues share-link tokens and resolves them back to files
// under a time-to-live policy.
package links

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// TokenAlphabet is the 62-symbol alphabet tokens are drawn from.
	TokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// TokenLength gives roughly 125 bits of entropy over TokenAlphabet.
	TokenLength = 21
)

// Token is a freshly issued, not yet persisted link token.
type Token struct {
	Value    string
	IssuedAt time.Time
}

// Issuer mints tokens. It keeps no state between calls.
type Issuer struct {
	now func() time.Time
}

// NewIssuer returns an Issuer. A nil clock means time.Now.
func NewIssuer(now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{now: now}
}

// Issue draws a new random token. Uniqueness is enforced by the store.
func (i *Issuer) Issue() (Token, error) {
	v, err := gonanoid.Generate(TokenAlphabet, TokenLength)
	if err != nil {
		return Token{}, fmt.Errorf("generate token: %w", err)
	}
	return Token{Value: v, IssuedAt: i.now().UTC()}, nil
}
