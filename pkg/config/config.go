package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Telegram     TelegramConfig
	Autobuy      AutobuyConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"STARBUY_APP_ENV" required:"true"`
	OpsPort      string   `envconfig:"STARBUY_OPS_PORT" default:"9090"`
	OpsToken     string   `envconfig:"STARBUY_OPS_TOKEN"`
	CORSOrigins  []string `envconfig:"STARBUY_CORS_ORIGINS"`
	LogLevel     string   `envconfig:"STARBUY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"STARBUY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STARBUY_SERVICE_KIND" default:"autobuy-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"STARBUY_DB_DSN"`
	Driver string `envconfig:"STARBUY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STARBUY_DB_HOST"`
	Port     int    `envconfig:"STARBUY_DB_PORT" default:"5432"`
	User     string `envconfig:"STARBUY_DB_USER"`
	Password string `envconfig:"STARBUY_DB_PASSWORD"`
	Name     string `envconfig:"STARBUY_DB_NAME"`
	SSLMode  string `envconfig:"STARBUY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STARBUY_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"STARBUY_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"STARBUY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STARBUY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STARBUY_REDIS_URL"`
	Address      string        `envconfig:"STARBUY_REDIS_ADDR"`
	Password     string        `envconfig:"STARBUY_REDIS_PASSWORD"`
	DB           int           `envconfig:"STARBUY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STARBUY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STARBUY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STARBUY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STARBUY_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STARBUY_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type TelegramConfig struct {
	BotToken      string        `envconfig:"STARBUY_TELEGRAM_BOT_TOKEN"`
	APIEndpoint   string        `envconfig:"STARBUY_TELEGRAM_API_ENDPOINT" default:"https://api.telegram.org/bot%s/%s"`
	RemoteTimeout time.Duration `envconfig:"STARBUY_TELEGRAM_REMOTE_TIMEOUT" default:"15s"`
	AdminIDs      []int64       `envconfig:"STARBUY_TELEGRAM_ADMIN_IDS"`
}

// IsAdmin reports whether the telegram user may run operator commands.
func (t TelegramConfig) IsAdmin(userID int64) bool {
	for _, id := range t.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AutobuyConfig tunes the reconciliation loop. The round interval is an operator
// constant; users never change it.
type AutobuyConfig struct {
	RoundInterval     time.Duration `envconfig:"STARBUY_AUTOBUY_ROUND_INTERVAL" default:"3s"`
	StoreTimeout      time.Duration `envconfig:"STARBUY_AUTOBUY_STORE_TIMEOUT" default:"5s"`
	UserLockTTL       time.Duration `envconfig:"STARBUY_AUTOBUY_USER_LOCK_TTL" default:"1m"`
	DepositGuardTTL   time.Duration `envconfig:"STARBUY_AUTOBUY_DEPOSIT_GUARD_TTL" default:"720h"`
	ReconcileQueueKey string        `envconfig:"STARBUY_AUTOBUY_RECONCILE_QUEUE" default:"reconcile:pending"`
	RoundLockTTL      time.Duration `envconfig:"STARBUY_AUTOBUY_ROUND_LOCK_TTL" default:"2m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STARBUY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STARBUY_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = defaultSQLiteDSN
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
