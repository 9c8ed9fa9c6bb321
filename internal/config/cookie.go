package config

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// CookieConfig controls the session cookies.  Refresh cookies are scoped to
// Path; the csrf and access cookies are scoped to "/".
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string
}

func loadCookieConfig(def CookieConfig, production bool) CookieConfig {
	if production {
		def.Secure = true
	}
	def.Secure = envBool("COOKIE_SECURE", def.Secure)
	def.SameSite = parseSameSite(os.Getenv("COOKIE_SAMESITE"), def.SameSite)
	def.Domain = envStr("COOKIE_DOMAIN", def.Domain)
	def.Path = envStr("COOKIE_PATH", def.Path)
	return def
}

func parseSameSite(s string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	}
	return def
}

// env helpers shared by every file of this package

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
