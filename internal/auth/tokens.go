package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the access token is malformed or not signed by us.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrExpiredToken indicates the access token is past its expiry.
	ErrExpiredToken = errors.New("access token expired")
)

const accessTokenType = "access"

// Claims carried by an access token. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer returns an issuer using secret as the HMAC key.
func NewTokenIssuer(secret, issuer string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: jwt secret must be at least 32 bytes")
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Sign returns an access token for userID that expires after ttl.
func (i *TokenIssuer) Sign(userID string, ttl time.Duration) (string, time.Time, error) {
	now := i.now().UTC()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Type: accessTokenType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the token and returns the user id it was issued to.
func (i *TokenIssuer) Verify(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if claims.Type != accessTokenType || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
