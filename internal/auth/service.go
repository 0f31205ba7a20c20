package auth

import (
	"errors"
	"strings"
)

// ErrTokenRequired is returned when a token is mandatory but missing.
var ErrTokenRequired = errors.New("token required")

// Identity is who a session claims to be, as the server trusts it.
type Identity struct {
	Name     string
	Role     string
	Verified bool
}

// Verifier turns registration input into a trusted identity.
type Verifier struct {
	cfg      *JWTConfig
	required bool
}

// NewVerifier builds a verifier. A nil cfg or empty secret disables token checks.
func NewVerifier(cfg *JWTConfig, required bool) *Verifier {
	return &Verifier{cfg: cfg, required: required}
}

// Enabled reports whether tokens can be verified.
func (v *Verifier) Enabled() bool {
	return v != nil && v.cfg != nil && len(v.cfg.Secret) > 0
}

// Required reports whether every session must present a token.
func (v *Verifier) Required() bool {
	return v != nil && v.required
}

// Resolve returns the identity for a registration. A present token always
// wins over the claimed name; without one the claimed name is trusted as a
// member unless tokens are required.
func (v *Verifier) Resolve(claimed, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		if v.Required() {
			return Identity{}, ErrTokenRequired
		}
		return Identity{Name: strings.TrimSpace(claimed), Role: "member"}, nil
	}
	if !v.Enabled() {
		return Identity{}, ErrInvalidToken
	}

	claims, err := v.Validate(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: claims.Identity(), Role: claims.Role, Verified: true}, nil
}

// Validate checks a bearer token.
func (v *Verifier) Validate(token string) (*Claims, error) {
	if !v.Enabled() {
		return nil, ErrInvalidToken
	}
	return ValidateToken(v.cfg, token)
}
