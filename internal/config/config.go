package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode      Mode
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	BlobBasePath string
	ModulesDir   string // module definition YAML loaded at startup

	LockBackend   string // local|redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	ExpirySchedule string // cron spec for the session sweeper
	ViewerMaxAge   time.Duration
	ProbeTimeout   time.Duration

	AuthHMACSecret string
	TokenTTL       time.Duration
	AdminUser      string
	AdminPassHash  string // bcrypt
	AllowDevLogin  bool   // learners log in with username == password

	CORSOrigins []string
	LogLevel    string
}

// LoadDotEnv reads a .env file if one exists. Real environment wins.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func FromEnv() Config {
	mode := Mode(envOr("MODE", string(ModeOffline)))
	defOrigins := "http://localhost:3000,http://localhost:5173"
	if mode == ModeOnline {
		defOrigins = ""
	}
	return Config{
		Mode:      mode,
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		PublicURL: strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),
		ModulesDir:   envOr("MODULES_DIR", "./modules"),

		LockBackend:   envOr("LOCK_BACKEND", "local"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		LockTTL:       envDuration("LOCK_TTL", 10*time.Second),

		ExpirySchedule: envOr("EXPIRY_SCHEDULE", "@every 30s"),
		ViewerMaxAge:   envDuration("VIEWER_MAX_AGE", 2*time.Hour),
		ProbeTimeout:   envDuration("PROBE_TIMEOUT", 5*time.Second),

		AuthHMACSecret: envOr("AUTH_HMAC_SECRET", "dev-secret-change-me"),
		TokenTTL:       envDuration("TOKEN_TTL", 8*time.Hour),
		AdminUser:      envOr("ADMIN_USER", "admin"),
		AdminPassHash:  os.Getenv("ADMIN_PASS_HASH"),
		AllowDevLogin:  envBool("ALLOW_DEV_LOGIN", mode == ModeOffline),

		CORSOrigins: csvOr("CORS_ORIGINS", defOrigins),
		LogLevel:    envOr("LOG_LEVEL", "info"),
	}
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Mode != ModeOffline && c.Mode != ModeOnline {
		errs = append(errs, fmt.Errorf("MODE must be offline or online, got %q", c.Mode))
	}
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DBDSN == "" && c.Mode == ModeOnline {
			errs = append(errs, errors.New("DB_DSN is required for postgres in online mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	switch c.LockBackend {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when LOCK_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LOCK_BACKEND %q", c.LockBackend))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL must be positive"))
	}
	if c.ExpirySchedule == "" {
		errs = append(errs, errors.New("EXPIRY_SCHEDULE is required"))
	}
	if c.Mode == ModeOnline {
		if len(c.AuthHMACSecret) < 32 {
			errs = append(errs, errors.New("AUTH_HMAC_SECRET must be at least 32 bytes in online mode"))
		}
		if c.AllowDevLogin {
			errs = append(errs, errors.New("ALLOW_DEV_LOGIN must be off in online mode"))
		}
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
func envDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
