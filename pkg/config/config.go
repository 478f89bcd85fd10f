package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Catalog       CatalogConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

// Load reads the SUPERMARKET_* environment, fills the database DSN from its
// parts when no DSN is given, and rejects settings the services cannot run with.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if cfg.DB.DSN == "" {
		dsn, err := cfg.DB.partsDSN()
		if err != nil {
			return nil, err
		}
		cfg.DB.DSN = dsn
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// minProdSecret is the shortest HS256 key accepted outside dev and tests.
const minProdSecret = 32

func (c *Config) validate() error {
	var errs error
	if f := strings.ToLower(c.App.LogFormat); f != "json" && f != "console" {
		errs = multierr.Append(errs, fmt.Errorf("%s must be json or console, got %q", EnvLogFormat, c.App.LogFormat))
	}
	if c.App.IsProd() && len(c.JWT.Secret) < minProdSecret {
		errs = multierr.Append(errs, fmt.Errorf("%s must be at least %d bytes in prod", EnvJWTSecret, minProdSecret))
	}
	if c.JWT.ExpirationMinutes <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be positive", EnvJWTExpMins))
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0 {
		errs = multierr.Append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.Cron.JobTimeout > 0 && c.Cron.LockTTL <= c.Cron.JobTimeout {
		errs = multierr.Append(errs, fmt.Errorf("%s must outlive %s", EnvCronLockTTL, EnvCronJobTimeout))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"SUPERMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"SUPERMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUPERMARKET_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SUPERMARKET_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SUPERMARKET_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"SUPERMARKET_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SUPERMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SUPERMARKET_DB_DSN"`
	Driver string `envconfig:"SUPERMARKET_DB_DRIVER" default:"postgres"`

	// Used only when DSN is empty.
	Host     string `envconfig:"SUPERMARKET_DB_HOST"`
	Port     int    `envconfig:"SUPERMARKET_DB_PORT" default:"5432"`
	User     string `envconfig:"SUPERMARKET_DB_USER"`
	Password string `envconfig:"SUPERMARKET_DB_PASSWORD"`
	Name     string `envconfig:"SUPERMARKET_DB_NAME"`
	SSLMode  string `envconfig:"SUPERMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUPERMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUPERMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUPERMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUPERMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SUPERMARKET_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"SUPERMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUPERMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"SUPERMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUPERMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUPERMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUPERMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUPERMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUPERMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUPERMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"SUPERMARKET_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"SUPERMARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"SUPERMARKET_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"SUPERMARKET_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"SUPERMARKET_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SUPERMARKET_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SUPERMARKET_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SUPERMARKET_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SUPERMARKET_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"SUPERMARKET_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"SUPERMARKET_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"SUPERMARKET_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"SUPERMARKET_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"SUPERMARKET_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"SUPERMARKET_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SUPERMARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SUPERMARKET_AUTO_MIGRATE" default:"false"`
}

type CatalogConfig struct {
	CacheTTL    time.Duration `envconfig:"SUPERMARKET_CATALOG_CACHE_TTL" default:"10m"`
	CacheJitter time.Duration `envconfig:"SUPERMARKET_CATALOG_CACHE_JITTER" default:"2m"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"SUPERMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"SUPERMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"SUPERMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Stream         string `envconfig:"SUPERMARKET_OUTBOX_STREAM" default:"events"`
	StreamMaxLen   int64  `envconfig:"SUPERMARKET_OUTBOX_STREAM_MAX_LEN" default:"100000"`
	RetentionDays  int    `envconfig:"SUPERMARKET_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"SUPERMARKET_CRON_INTERVAL" default:"1h"`
	JobTimeout time.Duration `envconfig:"SUPERMARKET_CRON_JOB_TIMEOUT" default:"10m"`
	// LockTTL must outlive a cycle so a slow run is not joined by a second worker.
	LockTTL time.Duration `envconfig:"SUPERMARKET_CRON_LOCK_TTL" default:"2h"`
}

// partsDSN assembles a keyword/value Postgres DSN from the discrete
// SUPERMARKET_DB_* settings. SQLite has no parts and needs the DSN itself.
func (db DBConfig) partsDSN() (string, error) {
	if db.IsSQLite() {
		return "", fmt.Errorf("%s is required when using the sqlite driver", EnvDBDSN)
	}
	fields := []struct{ env, key, value string }{
		{EnvDBHost, "host", db.Host},
		{EnvDBPort, "port", strconv.Itoa(db.Port)},
		{EnvDBUser, "user", db.User},
		{EnvDBPassword, "password", db.Password},
		{EnvDBName, "dbname", db.Name},
		{EnvDBSSLMode, "sslmode", db.SSLMode},
	}
	var missing []string
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.value == "" {
			switch f.key {
			case "host", "user", "dbname":
				missing = append(missing, f.env)
			}
			continue
		}
		pairs = append(pairs, f.key+"="+quoteDSNValue(f.value))
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("set %s or all of %s", EnvDBDSN, strings.Join(missing, ", "))
	}
	return strings.Join(pairs, " "), nil
}

// quoteDSNValue single-quotes values libpq would otherwise split or misread.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
