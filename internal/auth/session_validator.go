package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "configledger"
	bearerPrefix         = "bearer "
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// OperatorClaims is the JWT payload of an operator session. The registered
// subject carries the operator id that becomes the author of every change.
type OperatorClaims struct {
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// OperatorID returns the operator identifier held in the subject claim.
func (c OperatorClaims) OperatorID() string {
	return strings.TrimSpace(c.Subject)
}

// HasRole reports whether the session grants role.
func (c OperatorClaims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// SessionValidatorConfig describes how to validate session JWTs. An empty
// Issuer selects the service default.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator validates HS256 operator sessions presented as a bearer
// token or a session cookie.
type SessionValidator struct {
	signingSecret []byte
	cookieName    string
	parser        *jwt.Parser
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		cookieName:    cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken verifies tokenString and returns its operator claims.
func (v *SessionValidator) ValidateToken(tokenString string) (OperatorClaims, error) {
	raw := strings.TrimSpace(tokenString)
	if raw == "" {
		return OperatorClaims{}, ErrMissingSessionToken
	}

	var claims OperatorClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, v.signingKey); err != nil {
		return OperatorClaims{}, classifyParseError(err)
	}
	if claims.OperatorID() == "" {
		return OperatorClaims{}, ErrMissingSessionSubject
	}
	claims.Email = strings.TrimSpace(claims.Email)
	return claims, nil
}

// ValidateRequest validates the bearer token of the request, falling back to
// the configured session cookie.
func (v *SessionValidator) ValidateRequest(r *http.Request) (OperatorClaims, error) {
	raw, ok := v.tokenFromRequest(r)
	if !ok {
		return OperatorClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(raw)
}

func (v *SessionValidator) tokenFromRequest(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return header[len(bearerPrefix):], true
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (v *SessionValidator) signingKey(*jwt.Token) (any, error) {
	return v.signingSecret, nil
}

func classifyParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredSessionToken
	}
	return fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
}
