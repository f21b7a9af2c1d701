package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Capabilities granted through the caps claim
const (
	CapOrdersAdmin      = "orders:admin"
	CapPaymentsCallback = "payments:callback"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient capabilities")
)

// Identity is an authenticated caller
type Identity struct {
	Subject      string
	Email        string
	Capabilities []string
}

// Has reports whether the identity holds capability
func (i *Identity) Has(capability string) bool {
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Authenticator turns a bearer token into an identity
type Authenticator interface {
	Authenticate(token string) (*Identity, error)
}

// Authorizer decides whether an identity may use a capability
type Authorizer interface {
	Authorize(identity *Identity, capability string) error
}

// Claims carried by access tokens
type Claims struct {
	Email        string   `json:"email,omitempty"`
	Capabilities []string `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator creates a JWT authenticator. An empty issuer skips the iss check.
func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

// Authenticate parses and validates token
func (a *JWTAuthenticator) Authenticate(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{
		Subject:      claims.Subject,
		Email:        claims.Email,
		Capabilities: claims.Capabilities,
	}, nil
}

// IssueToken signs a token for subject. Used by tooling and tests; the
// identity provider issues production tokens.
func (a *JWTAuthenticator) IssueToken(subject, email string, capabilities []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:        email,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// CapabilityAuthorizer grants a capability when the identity carries it
type CapabilityAuthorizer struct{}

// Authorize implements Authorizer
func (CapabilityAuthorizer) Authorize(identity *Identity, capability string) error {
	if identity == nil || !identity.Has(capability) {
		return ErrForbidden
	}
	return nil
}
