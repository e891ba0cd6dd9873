package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// SecretResolver resolves secret references such as Secret Manager URIs.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the config fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError wraps a failed secret resolution with the normalised reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secret fields that resolved empty.
// Error only prints hashed names so the message can be logged as is.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "config: required secrets empty [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// Names returns the missing field names, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	names := slices.Clone(e.names)
	slices.Sort(names)
	return names
}

// RedactedNames returns a short sha256 prefix per missing name.
func (e *MissingSecretsError) RedactedNames() []string {
	names := e.Names()
	for i, name := range names {
		sum := sha256.Sum256([]byte(name))
		names[i] = hex.EncodeToString(sum[:8])
	}
	slices.Sort(names)
	return names
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// resolveSecretFields replaces every secret reference in cfg in place and
// returns the resolved values keyed by field name.
func resolveSecretFields(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	fields := map[string]*string{
		"Database.URL":                    &cfg.Database.URL,
		"Redis.Password":                  &cfg.Redis.Password,
		"Auth.JWTSecret":                  &cfg.Auth.JWTSecret,
		"MercadoPago.ClientSecret":        &cfg.MercadoPago.ClientSecret,
		"MercadoPago.PlatformAccessToken": &cfg.MercadoPago.PlatformAccessToken,
		"MercadoPago.WebhookSecret":       &cfg.MercadoPago.WebhookSecret,
		"Stripe.APIKey":                   &cfg.Stripe.APIKey,
		"Stripe.WebhookSecret":            &cfg.Stripe.WebhookSecret,
		"Cloudinary.APISecret":            &cfg.Cloudinary.APISecret,
	}
	resolved := make(map[string]string, len(fields))
	for name, field := range fields {
		ref, ok := secretReference(*field)
		if ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field = value
		}
		resolved[name] = strings.TrimSpace(*field)
	}
	return resolved, nil
}

// secretReference reports whether value points at a secret store and returns
// it in the canonical secret:// form.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(missing, name) {
			continue
		}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}
