package credentials

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth is the authentication scheme for one site: BasicAuth or BearerAuth.
// The set is closed; new schemes are added here, not by callers.
type Auth interface {
	// Apply sets the credentials on an outbound request.
	Apply(req *http.Request)
	// Scheme returns the credential file tag for the scheme.
	Scheme() string

	sealed()
}

type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(req *http.Request) { req.SetBasicAuth(a.Username, a.Password) }
func (a BasicAuth) Scheme() string          { return MethodBasic }
func (BasicAuth) sealed()                   {}

type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(req *http.Request) { req.Header.Set("Authorization", "Bearer "+a.Token) }
func (a BearerAuth) Scheme() string          { return MethodJWT }
func (BearerAuth) sealed()                   {}

// UnsupportedMethodError is returned for an auth_method tag that is neither
// basic nor jwt.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported auth method %q", e.Method)
}

// ResolveAuth turns the site's auth_method tag into an Auth.
func (s Site) ResolveAuth() (Auth, error) {
	switch s.AuthMethod {
	case MethodBasic:
		return BasicAuth{Username: s.Username, Password: s.Password}, nil
	case MethodJWT:
		return BearerAuth{Token: s.Token}, nil
	default:
		return nil, &UnsupportedMethodError{Method: s.AuthMethod}
	}
}

var ErrNoExpiry = errors.New("token has no exp claim")

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// WordPress issues these tokens; pressbot only forwards them, so the
// signature key is never available here.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse jwt: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

// ExpiredTokens returns the jwt sites whose token expired before now.
// Tokens that cannot be parsed are reported with their error.
func (s *Store) ExpiredTokens(now time.Time) map[string]error {
	out := make(map[string]error)
	for _, name := range s.Names() {
		site := s.sites[name]
		if site.AuthMethod != MethodJWT {
			continue
		}
		exp, err := TokenExpiry(site.Token)
		switch {
		case errors.Is(err, ErrNoExpiry):
		case err != nil:
			out[name] = err
		case exp.Before(now):
			out[name] = fmt.Errorf("token expired at %s", exp.UTC().Format(time.RFC3339))
		}
	}
	return out
}
