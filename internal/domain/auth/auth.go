package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is the signed-in customer supplied by the authentication provider.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

type userKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// FromContext returns the user stored in ctx, or nil.
func FromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}

// claims is the token payload issued by the authentication provider.
type claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 identity tokens issued by the authentication
// provider.
type Verifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewVerifier creates a Verifier. An empty issuer accepts any issuer.
func NewVerifier(secret []byte, issuer string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{secret: secret, issuer: issuer, parser: jwt.NewParser(opts...)}
}

// Verify parses and validates token, returning the user it identifies.
func (v *Verifier) Verify(token string) (*User, error) {
	var c claims
	_, err := v.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrUnauthenticated, err.Error())
	}
	if c.Subject == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "token has no subject")
	}
	return &User{ID: c.Subject, Email: c.Email, DisplayName: c.Name}, nil
}

// Issue signs a token for u valid for ttl. The storefront's authentication
// provider issues real tokens; Issue serves tooling and tests.
func (v *Verifier) Issue(u User, ttl time.Duration, now time.Time) (string, error) {
	c := claims{
		Email: u.Email,
		Name:  u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}
