package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by assistant channel tokens.
type Claims struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	AudioEnabled bool   `json:"audioEnabled"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HMAC-signed JWTs issued by the account
// service. Implements Authenticator.
type JWTAuthenticator struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewJWTAuthenticator(secretKey string, tokenDuration time.Duration) *JWTAuthenticator {
	return &JWTAuthenticator{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Authenticate verifies the token signature and claims and returns the
// principal it identifies. The context is accepted for interface
// symmetry; verification is purely local.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, tokenString string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidCredential
	}

	return &Principal{
		ID:           claims.UserID,
		Name:         claims.Username,
		AudioEnabled: claims.AudioEnabled,
	}, nil
}

// Generate creates a signed token for the given principal. Used by tests
// and local tooling; production tokens come from the account service.
func (a *JWTAuthenticator) Generate(p *Principal) (string, error) {
	claims := &Claims{
		UserID:       p.ID,
		Username:     p.Name,
		AudioEnabled: p.AudioEnabled,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "assistant-ws",
			Subject:   p.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}
