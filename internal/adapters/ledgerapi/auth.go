package ledgerapi

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"creatureledger/pkg/domain"
)

// DefaultAccountHeader carries the caller for HeaderAuthenticator.
const DefaultAccountHeader = "X-Account"

// ErrUnauthenticated is returned when a request does not identify a caller.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the account a request acts for.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Account, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (domain.Account, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(r *http.Request) (domain.Account, error) { return f(r) }

// HeaderAuthenticator trusts an account name set by an upstream proxy.
type HeaderAuthenticator struct {
	Header string
}

// Authenticate implements Authenticator.
func (h HeaderAuthenticator) Authenticate(r *http.Request) (domain.Account, error) {
	name := h.Header
	if name == "" {
		name = DefaultAccountHeader
	}
	account := strings.TrimSpace(r.Header.Get(name))
	if account == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrUnauthenticated, name)
	}
	return domain.Account(account), nil
}

// JWTAuthenticator verifies Ed25519-signed bearer tokens. The subject claim
// names the account.
type JWTAuthenticator struct {
	Issuer string
	Key    ed25519.PublicKey
	Now    func() time.Time
}

// NewJWTAuthenticator builds a verifier from a base64 encoded public key.
func NewJWTAuthenticator(issuer, publicKey string) (*JWTAuthenticator, error) {
	keyBytes, err := decodeBase64(strings.TrimSpace(publicKey))
	if err != nil {
		return nil, fmt.Errorf("decode jwt public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("jwt public key must be %d bytes", ed25519.PublicKeySize)
	}
	return &JWTAuthenticator{
		Issuer: strings.TrimSpace(issuer),
		Key:    ed25519.PublicKey(keyBytes),
		Now:    time.Now,
	}, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (domain.Account, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: bearer token is required", ErrUnauthenticated)
	}
	now := a.Now
	if now == nil {
		now = time.Now
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return a.Key, nil
	}, opts...); err != nil {
		return "", mapJWTError(err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: token subject is required", ErrUnauthenticated)
	}
	return domain.Account(subject), nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrEd25519Verification):
		return fmt.Errorf("%w: token signature is invalid", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: token is expired", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: token issuer mismatch", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: token alg is invalid", ErrUnauthenticated)
	}
	return fmt.Errorf("%w: token is invalid", ErrUnauthenticated)
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
