// Package auth validates the bearer tokens realtime and REST clients present.
// Tokens are HS256 JWTs carrying the user id in "sub" and the marketplace
// role in "role".
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/protocol"
)

// Identity is the authenticated principal bound to a session.
type Identity struct {
	UserID string
	Role   protocol.Role
}

// Validator checks tokens and issues them for tooling.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a validator for the given HMAC secret and issuer.
func NewValidator(secret, issuer string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Validator{secret: []byte(secret), issuer: issuer}, nil
}

// Validate parses and verifies a token. Any failure is an auth error.
func (v *Validator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.Auth("missing token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, apperr.Auth("invalid token: %v", err)
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" {
		return Identity{}, apperr.Auth("token has no subject")
	}
	if !protocol.Role(role).Valid() {
		return Identity{}, apperr.Auth("token has unknown role %q", role)
	}
	return Identity{UserID: sub, Role: protocol.Role(role)}, nil
}

// Issue signs a token for userID valid for ttl.
func (v *Validator) Issue(userID string, role protocol.Role, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", apperr.Validation("user id is required")
	}
	if !role.Valid() {
		return "", apperr.Validation("unknown role %q", role)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"typ":  "access",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the "token" query parameter browsers use for websockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Peek reads the identity from a token without verifying its signature.
// Clients use it to learn their own user id; servers must use Validate.
func Peek(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, apperr.Auth("malformed token: %v", err)
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" {
		return Identity{}, apperr.Auth("token has no subject")
	}
	return Identity{UserID: sub, Role: protocol.Role(role)}, nil
}
