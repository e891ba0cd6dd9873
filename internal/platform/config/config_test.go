package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_DATABASE_URL":    "postgres://localhost:5432/market",
		"API_AUTH_JWT_SECRET": "dev-secret",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Events.Driver != EventsDriverLog {
		t.Errorf("expected log events driver, got %s", cfg.Events.Driver)
	}
	if cfg.Stock.FloorPolicy != "block" {
		t.Errorf("expected block floor policy, got %s", cfg.Stock.FloorPolicy)
	}
	if cfg.MercadoPago.Installments != 12 {
		t.Errorf("expected 12 installments, got %d", cfg.MercadoPago.Installments)
	}
	if cfg.TaxID.CacheTTL != 24*time.Hour {
		t.Errorf("unexpected cnpj cache ttl: %s", cfg.TaxID.CacheTTL)
	}
	if cfg.Jobs.ReconcileInterval != 15*time.Minute || cfg.Jobs.StaleAfter != 30*time.Minute || cfg.Jobs.ExpireAfter != 72*time.Hour {
		t.Errorf("unexpected job defaults: %+v", cfg.Jobs)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Security.WebhookClockSkew != 5*time.Minute {
		t.Errorf("unexpected webhook clock skew: %s", cfg.Security.WebhookClockSkew)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	for key, value := range map[string]string{
		"API_SERVER_PORT":           "9090",
		"API_DATABASE_URL":          "sm://database-url",
		"API_MP_CLIENT_SECRET":      "secret://mp-client-secret",
		"API_MP_WEBHOOK_SECRET":     "secret://mp-webhook",
		"API_CLOUDINARY_API_SECRET": "secret://cloudinary",
		"API_STOCK_FLOOR_POLICY":    "CLAMP",
		"API_EVENTS_DRIVER":         "kafka",
		"API_EVENTS_KAFKA_BROKERS":  "kafka-1:9092, kafka-2:9092",
		"API_PUBLIC_BASE_URL":       "https://api.example.com/",
		"API_STOREFRONT_URL":        "https://loja.example.com",
		"API_MP_INSTALLMENTS":       "6",
	} {
		env[key] = value
	}

	secrets := map[string]string{
		"secret://database-url":     "postgres://prod/market",
		"secret://mp-client-secret": "client-secret",
		"secret://mp-webhook":       "webhook-secret",
		"secret://cloudinary":       "cloud-secret",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://prod/market" {
		t.Errorf("expected sm:// alias to resolve, got %s", cfg.Database.URL)
	}
	if cfg.MercadoPago.ClientSecret != "client-secret" || cfg.MercadoPago.WebhookSecret != "webhook-secret" {
		t.Errorf("mercado pago secrets not resolved: %+v", cfg.MercadoPago)
	}
	if cfg.Cloudinary.APISecret != "cloud-secret" {
		t.Errorf("cloudinary secret not resolved")
	}
	if cfg.Stock.FloorPolicy != "clamp" {
		t.Errorf("expected clamp policy, got %s", cfg.Stock.FloorPolicy)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Events.KafkaBrokers)
	}
	if cfg.MercadoPago.RedirectURL != "https://api.example.com/api/v1/payments/mercadopago/callback" {
		t.Errorf("unexpected derived redirect url: %s", cfg.MercadoPago.RedirectURL)
	}
	if cfg.MercadoPago.SettingsURL != "https://loja.example.com/parceiro/configuracoes/pagamentos" {
		t.Errorf("unexpected derived settings url: %s", cfg.MercadoPago.SettingsURL)
	}
	if cfg.MercadoPago.Installments != 6 {
		t.Errorf("expected 6 installments, got %d", cfg.MercadoPago.Installments)
	}
}

func TestLoadReadsDotEnvWithPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nAPI_DATABASE_URL=\"postgres://dotenv/market\"\nexport API_AUTH_JWT_SECRET=dotenv-secret\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("explicit map must win over .env, got %s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://dotenv/market" {
		t.Errorf("expected quoted .env value to be unquoted, got %s", cfg.Database.URL)
	}
	if cfg.Auth.JWTSecret != "dotenv-secret" {
		t.Errorf("expected export prefix to be accepted, got %s", cfg.Auth.JWTSecret)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_STOCK_FLOOR_POLICY": "never",
		"API_EVENTS_DRIVER":      "pubsub",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{"Database.URL": false, "Auth.JWTSecret": false, "ProjectID": false, "Stock.FloorPolicy": false}
	for _, field := range vErr.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields %v", field, vErr.Fields())
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["API_MP_WEBHOOK_SECRET"] = "secret://mp-webhook"
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var sErr *SecretError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver-not-configured cause, got %v", err)
	}
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("MercadoPago.WebhookSecret", "Auth.JWTSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	names := missing.Names()
	if len(names) != 1 || names[0] != "MercadoPago.WebhookSecret" {
		t.Fatalf("unexpected missing names %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] == names[0] {
		t.Fatalf("expected redacted names, got %v", redacted)
	}
}

func TestLoadPanicsOnMissingSecretsWhenRequested(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	_, _ = Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.APIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("API_PROJECT_ID=from-file\nAPI_REDIS_ADDR=redis:6379\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_PROJECT_ID": "from-map"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["API_PROJECT_ID"] != "from-map" {
		t.Errorf("expected map override, got %s", values["API_PROJECT_ID"])
	}
	if values["API_REDIS_ADDR"] != "redis:6379" {
		t.Errorf("expected file value, got %s", values["API_REDIS_ADDR"])
	}
}
