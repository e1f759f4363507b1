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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	OrderService OrderServiceConfig
	Outbox       OutboxConfig
	Warehouse    WarehouseConfig
	Cron         CronConfig
	Tracing      TracingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.OrderService.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILLMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is a comma separated allow-list; empty allows the local
	// development origins only.
	CORSOrigins []string `envconfig:"FULFILLMENT_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILLMENT_SERVICE_KIND" default:"api"`
	// Name is reported as the audit-log source for cross-service notifications.
	Name string `envconfig:"FULFILLMENT_SERVICE_NAME" default:"shipping-service"`
}

type DBConfig struct {
	DSN    string `envconfig:"FULFILLMENT_DB_DSN"`
	Driver string `envconfig:"FULFILLMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FULFILLMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILLMENT_DB_USER"`
	LegacyPassword string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILLMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"FULFILLMENT_SQLITE_PATH" default:"fulfillment.db"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FULFILLMENT_REDIS_ADDR"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILLMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FULFILLMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FULFILLMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FULFILLMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FULFILLMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
	// InlineSync attempts outbox delivery right after commit instead of
	// leaving it entirely to the relay.
	InlineSync bool `envconfig:"FULFILLMENT_INLINE_SYNC" default:"true"`
}

// OrderServiceConfig points at the order aggregate that receives status and
// audit notifications.
type OrderServiceConfig struct {
	BaseURL      string        `envconfig:"FULFILLMENT_ORDER_SERVICE_URL" required:"true"`
	ServiceToken string        `envconfig:"FULFILLMENT_ORDER_SERVICE_TOKEN"`
	Timeout      time.Duration `envconfig:"FULFILLMENT_ORDER_SERVICE_TIMEOUT" default:"5s"`
}

func (o OrderServiceConfig) validate() error {
	u, err := url.Parse(strings.TrimSpace(o.BaseURL))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", EnvOrderServiceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvOrderServiceURL)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvOrderServiceTimeout)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FULFILLMENT_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FULFILLMENT_OUTBOX_POLL_MS" default:"1000"`
	MaxAttempts    int `envconfig:"FULFILLMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"FULFILLMENT_OUTBOX_RETENTION_DAYS" default:"14"`
	// InlineGrace keeps the relay away from fresh rows while the API process
	// makes its own post-commit attempt.
	InlineGrace time.Duration `envconfig:"FULFILLMENT_OUTBOX_INLINE_GRACE" default:"30s"`
	// RetryDelay is the first backoff step after a failed delivery.
	RetryDelay time.Duration `envconfig:"FULFILLMENT_OUTBOX_RETRY_DELAY" default:"5s"`
}

type WarehouseConfig struct {
	LowStockThreshold int `envconfig:"FULFILLMENT_LOW_STOCK_THRESHOLD" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"FULFILLMENT_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"FULFILLMENT_CRON_LOCK_TTL" default:"14m"`
}

// TracingConfig enables OTLP/HTTP trace export. An empty endpoint leaves the
// global no-op tracer in place.
type TracingConfig struct {
	Endpoint      string        `envconfig:"FULFILLMENT_OTEL_ENDPOINT"`
	URLPath       string        `envconfig:"FULFILLMENT_OTEL_TRACES_PATH" default:"/v1/traces"`
	AuthHeader    string        `envconfig:"FULFILLMENT_OTEL_AUTH_HEADER"`
	Insecure      bool          `envconfig:"FULFILLMENT_OTEL_INSECURE" default:"false"`
	SampleRatio   float64       `envconfig:"FULFILLMENT_OTEL_SAMPLE_RATIO" default:"1"`
	ExportTimeout time.Duration `envconfig:"FULFILLMENT_OTEL_EXPORT_TIMEOUT" default:"10s"`
}

// Enabled reports whether an exporter endpoint was configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite || db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
