package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ml-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "ml-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "ml-dev" {
		t.Errorf("expected pubsub project to follow firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.NotificationTopic != defaultNotificationTopic {
		t.Errorf("unexpected notification topic %s", cfg.PubSub.NotificationTopic)
	}
	if cfg.Store.Driver != StoreDriverFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Store.Driver)
	}
	if cfg.Store.ReadAttempts != defaultStoreReadAttempts {
		t.Errorf("unexpected read attempts %d", cfg.Store.ReadAttempts)
	}
	if cfg.Checkout.Currency != "USD" {
		t.Errorf("expected USD currency, got %s", cfg.Checkout.Currency)
	}
	if !cfg.Checkout.TotalTolerance.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("unexpected tolerance %s", cfg.Checkout.TotalTolerance)
	}
	if !cfg.Checkout.TaxRate.IsZero() {
		t.Errorf("expected zero tax rate, got %s", cfg.Checkout.TaxRate)
	}
	if cfg.Checkout.Location() != time.UTC {
		t.Errorf("expected UTC store location, got %s", cfg.Checkout.Location())
	}
	if cfg.Dashboard.TopN != 5 {
		t.Errorf("unexpected top n %d", cfg.Dashboard.TopN)
	}
	if cfg.Dashboard.CacheTTL != 5*time.Minute {
		t.Errorf("unexpected dashboard ttl %s", cfg.Dashboard.CacheTTL)
	}
	if cfg.RateLimits.CheckoutPerMinute != 30 {
		t.Errorf("unexpected checkout rate limit: %d", cfg.RateLimits.CheckoutPerMinute)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis disabled by default, got %s", cfg.Redis.Addr)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_FIREBASE_PROJECT_ID":          "ml-prod",
		"API_FIREBASE_CHECK_REVOKED":       "true",
		"API_FIRESTORE_PROJECT_ID":         "ml-fire",
		"API_PUBSUB_PROJECT_ID":            "ml-events",
		"API_PUBSUB_NOTIFICATION_TOPIC":    "orders",
		"API_PUBSUB_QUEUE_SIZE":            "64",
		"API_REDIS_ADDR":                   "10.0.0.3:6379",
		"API_REDIS_PASSWORD":               "secret://redis/password",
		"API_REDIS_DB":                     "2",
		"API_STORE_READ_ATTEMPTS":          "5",
		"API_STORE_READ_BACKOFF":           "250ms",
		"API_CHECKOUT_CURRENCY":            "eur",
		"API_CHECKOUT_LOCALE":              "de",
		"API_CHECKOUT_TOTAL_TOLERANCE":     "0.05",
		"API_CHECKOUT_BASE_SHIPPING":       "4.90",
		"API_CHECKOUT_FREE_SHIPPING_OVER":  "50",
		"API_CHECKOUT_TAX_RATE":            "0.19",
		"API_CHECKOUT_BASE_DELIVERY_DAYS":  "2",
		"API_CHECKOUT_TIMEZONE":            "Europe/Berlin",
		"API_DASHBOARD_CACHE_TTL":          "1m",
		"API_DASHBOARD_TOP_N":              "10",
		"API_RATELIMIT_CHECKOUT_PER_MIN":   "12",
		"API_SECURITY_ENVIRONMENT":         "prod",
		"API_SECURITY_OIDC_AUDIENCES":      "prod=https://api.example.com,stg=https://stg.example.com",
		"API_SECURITY_OIDC_ISSUERS":        "https://accounts.google.com, accounts.google.com",
		"API_SECURITY_OIDC_JWKS_URL":       "https://example.com/jwks.json",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://redis/password" {
			return "redis-pass", nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if !cfg.Firebase.CheckRevoked {
		t.Errorf("expected revocation checks enabled")
	}
	if cfg.Firestore.ProjectID != "ml-fire" || cfg.PubSub.ProjectID != "ml-events" {
		t.Errorf("unexpected projects firestore=%s pubsub=%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.NotificationTopic != "orders" || cfg.PubSub.QueueSize != 64 {
		t.Errorf("unexpected pubsub config %+v", cfg.PubSub)
	}
	if cfg.Redis.Password != "redis-pass" {
		t.Errorf("expected resolved redis password, got %s", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis db %d", cfg.Redis.DB)
	}
	if cfg.Store.ReadAttempts != 5 || cfg.Store.ReadBackoff != 250*time.Millisecond {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if cfg.Checkout.Currency != "EUR" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Checkout.Currency)
	}
	if !cfg.Checkout.BaseShipping.Equal(decimal.RequireFromString("4.9")) {
		t.Errorf("unexpected base shipping %s", cfg.Checkout.BaseShipping)
	}
	if !cfg.Checkout.TaxRate.Equal(decimal.RequireFromString("0.19")) {
		t.Errorf("unexpected tax rate %s", cfg.Checkout.TaxRate)
	}
	if cfg.Checkout.Location().String() != "Europe/Berlin" {
		t.Errorf("unexpected location %s", cfg.Checkout.Location())
	}
	if cfg.Dashboard.TopN != 10 || cfg.Dashboard.CacheTTL != time.Minute {
		t.Errorf("unexpected dashboard config %+v", cfg.Dashboard)
	}
	if cfg.RateLimits.CheckoutPerMinute != 12 {
		t.Errorf("unexpected checkout rate limit %d", cfg.RateLimits.CheckoutPerMinute)
	}
	if cfg.Security.OIDC.Audience != "https://api.example.com" {
		t.Errorf("expected audience resolved from environment map, got %s", cfg.Security.OIDC.Audience)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadMemoryDriverSkipsProjects(t *testing.T) {
	env := map[string]string{"API_STORE_DRIVER": "Memory"}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Fatalf("expected memory driver, got %s", cfg.Store.Driver)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID='ml-dot'\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "ml-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Firebase.ProjectID" || fields[1] != "Firestore.ProjectID" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadRejectsInvalidCheckoutSettings(t *testing.T) {
	env := map[string]string{
		"API_STORE_DRIVER":                "memory",
		"API_CHECKOUT_CURRENCY":           "dollars",
		"API_CHECKOUT_TAX_RATE":           "1.5",
		"API_CHECKOUT_TIMEZONE":           "Mars/Olympus",
		"API_CHECKOUT_BASE_DELIVERY_DAYS": "-1",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Checkout.Currency":         true,
		"Checkout.TaxRate":          true,
		"Checkout.BaseDeliveryDays": true,
		"Checkout.Timezone":         true,
	}
	for _, field := range validation.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("fields not reported: %v", want)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ml-dev",
		"API_REDIS_PASSWORD":      "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ml-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Redis.Password"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	expectedRedacted := redactSecretName("Redis.Password")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ml-dev",
		"API_REDIS_PASSWORD":      "sm://redis/password",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://redis/password" {
			return "legacy-secret", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Redis.Password != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Redis.Password)
	}
}
