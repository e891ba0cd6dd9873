package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// TokenVerifier turns a raw bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWTVerifier accepts HS256 tokens signed with a shared secret and RS256
// tokens whose keys are published through a JWKS endpoint.
type JWTVerifier struct {
	secret   []byte
	jwks     *JWKSCache
	issuer   string
	audience string
}

// VerifierConfig configures a JWTVerifier.
type VerifierConfig struct {
	Secret   string
	JWKS     *JWKSCache
	Issuer   string
	Audience string
}

// NewJWTVerifier builds a verifier. At least one of Secret or JWKS must be set.
func NewJWTVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" && cfg.JWKS == nil {
		return nil, errors.New("auth: jwt secret or jwks required")
	}
	return &JWTVerifier{
		secret:   []byte(cfg.Secret),
		jwks:     cfg.JWKS,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
	}, nil
}

// Verify validates signature, expiry, issuer and audience.
func (v *JWTVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	methods := make([]string, 0, 2)
	if len(v.secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if v.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	parser := jwt.NewParser(jwt.WithValidMethods(methods))

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() == jwt.SigningMethodHS256.Alg() {
			return v.secret, nil
		}
		return v.jwks.Keyfunc(ctx)(token)
	})
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject := claimString(claims, "sub")
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	roles := rolesFromClaim(claims["role"])
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	return &Identity{
		UserID: subject,
		Email:  claimString(claims, "email"),
		Name:   claimString(claims, "name"),
		Roles:  roles,
	}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func rolesFromClaim(raw any) []string {
	var out []string
	add := func(value string) {
		if role := strings.ToLower(strings.TrimSpace(value)); role != "" {
			for _, existing := range out {
				if existing == role {
					return
				}
			}
			out = append(out, role)
		}
	}
	switch v := raw.(type) {
	case string:
		add(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, item := range v {
			add(item)
		}
	}
	return out
}
