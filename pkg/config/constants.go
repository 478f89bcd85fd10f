package config

const (
	EnvPrefix = "SUPERMARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv         = "SUPERMARKET_APP_ENV"
	EnvPort           = "SUPERMARKET_APP_PORT"
	EnvLogFormat      = "SUPERMARKET_LOG_FORMAT"
	EnvDBDSN          = "SUPERMARKET_DB_DSN"
	EnvDBHost         = "SUPERMARKET_DB_HOST"
	EnvDBPort         = "SUPERMARKET_DB_PORT"
	EnvDBUser         = "SUPERMARKET_DB_USER"
	EnvDBPassword     = "SUPERMARKET_DB_PASSWORD"
	EnvDBName         = "SUPERMARKET_DB_NAME"
	EnvDBSSLMode      = "SUPERMARKET_DB_SSLMODE"
	EnvRedisURL       = "SUPERMARKET_REDIS_URL"
	EnvJWTSecret      = "SUPERMARKET_JWT_SECRET"
	EnvJWTIssuer      = "SUPERMARKET_JWT_ISSUER"
	EnvJWTExpMins     = "SUPERMARKET_JWT_EXPIRATION_MINUTES"
	EnvUseSQLite      = "SUPERMARKET_USE_SQLITE"
	EnvCronJobTimeout = "SUPERMARKET_CRON_JOB_TIMEOUT"
	EnvCronLockTTL    = "SUPERMARKET_CRON_LOCK_TTL"
)
