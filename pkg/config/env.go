package config

// EnvPrefix is passed to envconfig; every field carries an explicit name so the
// prefix only matters for fields without one.
const EnvPrefix = "STARBUY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:starbuy.db?_foreign_keys=on&_busy_timeout=5000"
)

const (
	EnvAppEnv        = "STARBUY_APP_ENV"
	EnvOpsPort       = "STARBUY_OPS_PORT"
	EnvDBDSN         = "STARBUY_DB_DSN"
	EnvDBHost        = "STARBUY_DB_HOST"
	EnvDBUser        = "STARBUY_DB_USER"
	EnvDBName        = "STARBUY_DB_NAME"
	EnvDBPassword    = "STARBUY_DB_PASSWORD"
	EnvRedisURL      = "STARBUY_REDIS_URL"
	EnvBotToken      = "STARBUY_TELEGRAM_BOT_TOKEN"
	EnvAdminIDs      = "STARBUY_TELEGRAM_ADMIN_IDS"
	EnvRoundInterval = "STARBUY_AUTOBUY_ROUND_INTERVAL"
	EnvUseSQLite     = "STARBUY_USE_SQLITE"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
