package config

const (
	EnvPrefix = "FULFILLMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "FULFILLMENT_APP_ENV"
	EnvPort     = "FULFILLMENT_APP_PORT"
	EnvLogLevel = "FULFILLMENT_LOG_LEVEL"

	EnvDBDSN  = "FULFILLMENT_DB_DSN"
	EnvDBHost = "FULFILLMENT_DB_HOST"
	EnvDBUser = "FULFILLMENT_DB_USER"
	EnvDBName = "FULFILLMENT_DB_NAME"

	EnvRedisURL = "FULFILLMENT_REDIS_URL"

	EnvJWTSecret = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer = "FULFILLMENT_JWT_ISSUER"

	EnvUseSQLite = "FULFILLMENT_USE_SQLITE"

	EnvOrderServiceURL     = "FULFILLMENT_ORDER_SERVICE_URL"
	EnvOrderServiceTimeout = "FULFILLMENT_ORDER_SERVICE_TIMEOUT"

	EnvOutboxMaxAttempts = "FULFILLMENT_OUTBOX_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
