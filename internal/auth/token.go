// Package auth verifies the bearer tokens issued by the identity service.
// Token issuance itself lives outside this service; Issue exists for local
// development and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ErrInvalidToken covers every reason a bearer token is rejected.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the access-token payload. Subject is the account id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants administrative access.
func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier builds a verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify parses token and returns its claims if the signature, expiry and
// issuer are valid and a subject is present.
func (v *Verifier) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.Role == "" {
		claims.Role = RoleUser
	}
	return claims, nil
}

// Issue signs a token for subject with the given role and lifetime.
func (v *Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
