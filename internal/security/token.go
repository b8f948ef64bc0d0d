package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionTokenBytes = 32

// GenerateSessionToken returns a URL-safe token drawn from crypto/rand.
func GenerateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var ErrInvalidRememberToken = errors.New("invalid remember token")

// RememberCodec converts between an account email and the remember cookie value.
type RememberCodec interface {
	Encode(email string, now time.Time) (string, error)
	Decode(value string) (string, error)
}

// NewRememberCodec returns the signed codec when a secret is configured and
// the plain email codec otherwise.
func NewRememberCodec(secret string, ttl time.Duration) RememberCodec {
	if secret == "" {
		return PlainRememberCodec{}
	}
	return SignedRememberCodec{secret: []byte(secret), ttl: ttl}
}

// PlainRememberCodec stores the email itself in the cookie.
type PlainRememberCodec struct{}

func (PlainRememberCodec) Encode(email string, _ time.Time) (string, error) {
	return email, nil
}

func (PlainRememberCodec) Decode(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrInvalidRememberToken
	}
	return value, nil
}

type rememberClaims struct {
	jwt.RegisteredClaims
}

// SignedRememberCodec wraps the email in an HS256 JWT so the cookie cannot be
// forged for another account.
type SignedRememberCodec struct {
	secret []byte
	ttl    time.Duration
}

func (c SignedRememberCodec) Encode(email string, now time.Time) (string, error) {
	claims := rememberClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign remember token: %w", err)
	}
	return signed, nil
}

func (c SignedRememberCodec) Decode(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &rememberClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRememberToken, err)
	}
	claims, ok := token.Claims.(*rememberClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidRememberToken
	}
	return claims.Subject, nil
}
