package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.  Empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "APP_ENV", "APP_PORT", "LOG_LEVEL",
		"DB_USER", "DB_PASS", "DB_HOST", "DB_PORT", "DB_NAME", "DB_MAX_CONNS", "DB_AUTO_MIGRATE",
		"JWT_SECRET", "JWT_ISSUER", "ACCESS_TOKEN_TTL_MIN", "REFRESH_TOKEN_TTL_DAYS", "BCRYPT_COST",
		"REFRESH_STORE", "RABBITMQ_URL", "AMQP_URL",
		"COOKIE_SECURE", "COOKIE_SAMESITE", "COOKIE_DOMAIN", "COOKIE_PATH",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_BACKEND", "RATE_LIMIT_PREFIX",
		"RATE_LIMIT_LOGIN_MAX", "RATE_LIMIT_LOGIN_WINDOW", "RATE_LIMIT_API_MAX", "RATE_LIMIT_API_WINDOW",
		"RATE_LIMIT_SWEEP_INTERVAL",
		"REDIS_ADDR", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TLS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.RefreshStore != "mysql" || cfg.AccessTTL() != 15*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.UsingDevSecret() || cfg.Production() {
		t.Fatalf("expected dev secret outside production")
	}
	if cfg.Cookie.Secure || cfg.Cookie.SameSite != http.SameSiteStrictMode || cfg.Cookie.Path != "/api/auth" {
		t.Fatalf("unexpected cookie defaults %+v", cfg.Cookie)
	}
	rl := cfg.RateLimit
	if !rl.Enabled || rl.LoginMax != 5 || rl.LoginWindow != 15*time.Minute || rl.APIMax != 100 {
		t.Fatalf("unexpected rate limit defaults %+v", rl)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("REFRESH_STORE", "REDIS")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "5")
	t.Setenv("COOKIE_SAMESITE", "lax")
	t.Setenv("RATE_LIMIT_LOGIN_WINDOW", "90s")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("AMQP_URL", "amqp://guest:guest@mq:5672/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RefreshStore != "redis" || cfg.AccessTTLMin != 5 || cfg.UsingDevSecret() {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if !cfg.Cookie.Secure {
		t.Fatalf("production cookies must be secure")
	}
	if cfg.Cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected same site %v", cfg.Cookie.SameSite)
	}
	if cfg.RateLimit.LoginWindow != 90*time.Second || cfg.RateLimit.Backend != "redis" {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.RabbitMQURL != "amqp://guest:guest@mq:5672/" {
		t.Fatalf("AMQP_URL fallback not applied: %q", cfg.RabbitMQURL)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auth.yaml")
	yml := `
app:
  port: "9090"
database:
  name: shop_db
  auto_migrate: false
auth:
  refresh_ttl_days: 7
  refresh_store: redis
cookie:
  secure: true
  domain: example.test
rate_limit:
  login_max: 3
  api_window: 1m
redis:
  addr: cache:6379
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("env must win over file, got port %q", cfg.Port)
	}
	if cfg.DBName != "shop_db" || cfg.AutoMigrate || cfg.RefreshTTLDays != 7 || cfg.RefreshStore != "redis" {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if !cfg.Cookie.Secure || cfg.Cookie.Domain != "example.test" {
		t.Fatalf("cookie section not applied: %+v", cfg.Cookie)
	}
	if cfg.RateLimit.LoginMax != 3 || cfg.RateLimit.APIWindow != time.Minute {
		t.Fatalf("rate_limit section not applied: %+v", cfg.RateLimit)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("redis section not applied: %+v", cfg.Redis)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.JWTSecret = "short"
	cfg.RefreshStore = "postgres"
	cfg.RateLimit.Backend = "memcached"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"JWT_SECRET", "REFRESH_STORE", "RATE_LIMIT_BACKEND"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
