// Package identity verifies bearer credentials presented at connection time
// and resolves them to a stable identity-provider subject.
package identity

import (
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoCredential means no token was presented at all.
	ErrNoCredential = errors.New("no-credential")
	// ErrInvalidCredential means the token failed verification or expired.
	ErrInvalidCredential = errors.New("invalid-credential")
)

// Verifier resolves an opaque credential into a stable subject id.
type Verifier interface {
	Verify(token string) (subject string, err error)
}

// JWTVerifier validates HS256-signed tokens carrying the subject in the
// standard "sub" claim.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier constructs a verifier. issuer is optional; when set, tokens
// from other issuers are rejected.
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrNoCredential
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidCredential
	}
	return sub, nil
}

var _ Verifier = (*JWTVerifier)(nil)
