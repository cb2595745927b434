// Package jwtauth issues and verifies HS256 bearer tokens and turns them into
// an auth.Actor on the request context.
package jwtauth

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the actor. Subject is the user ID.
type Claims struct {
	Role auth.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. Tokens expire after ttl.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// Sign returns a token for the actor.
func (i *Issuer) Sign(a auth.Actor) (string, error) {
	now := i.now()
	claims := Claims{
		Role: a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

// Parse verifies the token and returns its actor. Unknown roles are treated
// as customers.
func (i *Issuer) Parse(token string) (auth.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return auth.Actor{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" {
		return auth.Actor{}, errors.Wrap(ErrInvalidToken, "empty subject")
	}

	role := claims.Role
	if role != auth.RoleAdmin {
		role = auth.RoleCustomer
	}
	return auth.Actor{UserID: claims.Subject, Role: role}, nil
}

// ErrorFunc writes the response for a rejected request.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate requires a valid bearer token and stores its actor on the
// request context.
func Authenticate(i *Issuer, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				onError(w, r, ErrMissingToken)
				return
			}
			a, err := i.Parse(token)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), a)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
