package config // package config loads application configuration from defaults, an optional YAML file and the environment

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DevJWTSecret is used when JWT_SECRET is unset.  It keeps local runs
// working; main logs loudly whenever it is in effect.
const DevJWTSecret = "dev-only-insecure-jwt-secret-change-me-now"

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env            string // application environment (development, test, production)
	Port           string // HTTP port to listen on
	DBUser         string
	DBPass         string
	DBHost         string
	DBPort         string
	DBName         string
	DBMaxConns     int
	AutoMigrate    bool   // create tables on startup
	JWTSecret      string // secret used to sign JWTs
	JWTIssuer      string
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password and refresh secret hashing
	RefreshStore   string // "mysql" or "redis"
	RabbitMQURL    string // empty disables the broker; events are logged instead
	LogLevel       string

	Cookie    CookieConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
}

// Production reports whether the service runs in production.
func (c Config) Production() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// UsingDevSecret reports whether the built-in JWT secret is in effect.
func (c Config) UsingDevSecret() bool { return c.JWTSecret == DevJWTSecret }

// AccessTTL returns the access token lifetime.
func (c Config) AccessTTL() time.Duration { return time.Duration(c.AccessTTLMin) * time.Minute }

// Validate rejects combinations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.RefreshStore != "mysql" && c.RefreshStore != "redis" {
		errs = append(errs, fmt.Errorf("REFRESH_STORE must be mysql or redis, got %q", c.RefreshStore))
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.AccessTTLMin <= 0 || c.RefreshTTLDays <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	return errors.Join(errs...)
}

// fileConfig mirrors the YAML schema of CONFIG_FILE.  Every key is optional.
type fileConfig struct {
	App struct {
		Env      string `yaml:"env"`
		Port     string `yaml:"port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`
	Database struct {
		User        string `yaml:"user"`
		Host        string `yaml:"host"`
		Port        string `yaml:"port"`
		Name        string `yaml:"name"`
		MaxConns    int    `yaml:"max_conns"`
		AutoMigrate *bool  `yaml:"auto_migrate"`
	} `yaml:"database"`
	Auth struct {
		Issuer         string `yaml:"issuer"`
		AccessTTLMin   int    `yaml:"access_ttl_min"`
		RefreshTTLDays int    `yaml:"refresh_ttl_days"`
		BcryptCost     int    `yaml:"bcrypt_cost"`
		RefreshStore   string `yaml:"refresh_store"`
	} `yaml:"auth"`
	Cookie struct {
		Secure   *bool  `yaml:"secure"`
		SameSite string `yaml:"same_site"`
		Domain   string `yaml:"domain"`
	} `yaml:"cookie"`
	RateLimit struct {
		Backend       string        `yaml:"backend"`
		LoginMax      int           `yaml:"login_max"`
		LoginWindow   time.Duration `yaml:"login_window"`
		APIMax        int           `yaml:"api_max"`
		APIWindow     time.Duration `yaml:"api_window"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"rate_limit"`
	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Env:            "development",
		Port:           "8080",
		DBUser:         "root",
		DBHost:         "127.0.0.1",
		DBPort:         "3306",
		DBName:         "service_order",
		DBMaxConns:     10,
		AutoMigrate:    true,
		JWTSecret:      DevJWTSecret,
		JWTIssuer:      "service-order-auth",
		AccessTTLMin:   15,
		RefreshTTLDays: 30,
		BcryptCost:     12,
		RefreshStore:   "mysql",
		LogLevel:       "info",
		Cookie: CookieConfig{
			SameSite: http.SameSiteStrictMode,
			Path:     "/api/auth",
		},
		RateLimit: defaultRateLimit(),
		Redis:     RedisConfig{Addr: "localhost:6379"},
	}
}

// Load resolves configuration in priority order: defaults, then the YAML
// file named by CONFIG_FILE (when set), then the environment.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	setStr(&cfg.Env, f.App.Env)
	setStr(&cfg.Port, f.App.Port)
	setStr(&cfg.LogLevel, f.App.LogLevel)
	setStr(&cfg.DBUser, f.Database.User)
	setStr(&cfg.DBHost, f.Database.Host)
	setStr(&cfg.DBPort, f.Database.Port)
	setStr(&cfg.DBName, f.Database.Name)
	setInt(&cfg.DBMaxConns, f.Database.MaxConns)
	if f.Database.AutoMigrate != nil {
		cfg.AutoMigrate = *f.Database.AutoMigrate
	}
	setStr(&cfg.JWTIssuer, f.Auth.Issuer)
	setInt(&cfg.AccessTTLMin, f.Auth.AccessTTLMin)
	setInt(&cfg.RefreshTTLDays, f.Auth.RefreshTTLDays)
	setInt(&cfg.BcryptCost, f.Auth.BcryptCost)
	setStr(&cfg.RefreshStore, f.Auth.RefreshStore)
	if f.Cookie.Secure != nil {
		cfg.Cookie.Secure = *f.Cookie.Secure
	}
	if f.Cookie.SameSite != "" {
		cfg.Cookie.SameSite = parseSameSite(f.Cookie.SameSite, cfg.Cookie.SameSite)
	}
	setStr(&cfg.Cookie.Domain, f.Cookie.Domain)
	setStr(&cfg.RateLimit.Backend, f.RateLimit.Backend)
	setInt(&cfg.RateLimit.LoginMax, f.RateLimit.LoginMax)
	setDur(&cfg.RateLimit.LoginWindow, f.RateLimit.LoginWindow)
	setInt(&cfg.RateLimit.APIMax, f.RateLimit.APIMax)
	setDur(&cfg.RateLimit.APIWindow, f.RateLimit.APIWindow)
	setDur(&cfg.RateLimit.SweepInterval, f.RateLimit.SweepInterval)
	setStr(&cfg.Redis.Addr, f.Redis.Addr)
	setInt(&cfg.Redis.DB, f.Redis.DB)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envStr("APP_ENV", cfg.Env)
	cfg.Port = envStr("APP_PORT", cfg.Port)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.DBUser = envStr("DB_USER", cfg.DBUser)
	cfg.DBPass = envStr("DB_PASS", cfg.DBPass)
	cfg.DBHost = envStr("DB_HOST", cfg.DBHost)
	cfg.DBPort = envStr("DB_PORT", cfg.DBPort)
	cfg.DBName = envStr("DB_NAME", cfg.DBName)
	cfg.DBMaxConns = envInt("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.AutoMigrate = envBool("DB_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.JWTSecret = envStr("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envStr("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AccessTTLMin = envInt("ACCESS_TOKEN_TTL_MIN", cfg.AccessTTLMin)
	cfg.RefreshTTLDays = envInt("REFRESH_TOKEN_TTL_DAYS", cfg.RefreshTTLDays)
	cfg.BcryptCost = envInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.RefreshStore = strings.ToLower(envStr("REFRESH_STORE", cfg.RefreshStore))
	cfg.RabbitMQURL = envStr("RABBITMQ_URL", envStr("AMQP_URL", cfg.RabbitMQURL))
	cfg.Cookie = loadCookieConfig(cfg.Cookie, cfg.Production())
	cfg.RateLimit = loadRateLimitConfig(cfg.RateLimit)
	cfg.Redis = loadRedisConfig(cfg.Redis)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDur(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
