package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported values of DB_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env                    string        // APP_ENV (dev, test, prod)
	Port                   string        // APP_PORT
	DBDriver               string        // DB_DRIVER, mysql or sqlite
	DBUser                 string        // DB_USER
	DBPass                 string        // DB_PASS (empty allowed)
	DBHost                 string        // DB_HOST
	DBPort                 string        // DB_PORT
	DBName                 string        // DB_NAME
	SQLitePath             string        // SQLITE_PATH
	BcryptCost             int           // BCRYPT_COST
	SessionTTL             time.Duration // SESSION_TTL, sliding window
	SessionCleanupInterval time.Duration // SESSION_CLEANUP_INTERVAL
	CookieSecure           bool          // COOKIE_SECURE
	UploadDir              string        // UPLOAD_DIR, root of released gear images
	LogLevel               string        // LOG_LEVEL
	LogFormat              string        // LOG_FORMAT, text or json
}

// Load reads configuration values from environment variables and returns a
// Config.  Every missing or malformed required variable is reported in the
// returned error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:                    envStr("APP_ENV", "dev"),
		Port:                   l.must("APP_PORT"),
		DBDriver:               strings.ToLower(envStr("DB_DRIVER", DriverMySQL)),
		BcryptCost:             envInt("BCRYPT_COST", 12),
		SessionTTL:             envDur("SESSION_TTL", 7*24*time.Hour),
		SessionCleanupInterval: envDur("SESSION_CLEANUP_INTERVAL", time.Hour),
		CookieSecure:           envBool("COOKIE_SECURE", false),
		UploadDir:              envStr("UPLOAD_DIR", "uploads"),
		LogLevel:               envStr("LOG_LEVEL", "info"),
		LogFormat:              envStr("LOG_FORMAT", "text"),
	}
	switch cfg.DBDriver {
	case DriverMySQL:
		cfg.DBUser = l.must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = l.must("DB_HOST")
		cfg.DBPort = l.mustInt("DB_PORT")
		cfg.DBName = l.must("DB_NAME")
	case DriverSQLite:
		cfg.SQLitePath = envStr("SQLITE_PATH", "gear-rental.db")
	default:
		l.errs = append(l.errs, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver))
	}
	if cfg.SessionTTL <= 0 {
		l.errs = append(l.errs, errors.New("SESSION_TTL must be positive"))
	}
	if cfg.SessionCleanupInterval <= 0 {
		cfg.SessionCleanupInterval = time.Hour
	}
	if err := errors.Join(l.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProd reports whether the service runs in production.
func (c Config) IsProd() bool { return strings.EqualFold(c.Env, "prod") }

// loader collects errors for required variables so that all of them are
// reported at once.
type loader struct {
	errs []error
}

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.errs = append(l.errs, fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

// mustInt is like must but also checks the value is an integer.  The
// string form is returned since ports are used verbatim in DSNs.
func (l *loader) mustInt(key string) string {
	s := l.must(key)
	if s == "" {
		return s
	}
	if _, err := strconv.Atoi(s); err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid int for %s: %q", key, s))
	}
	return s
}
