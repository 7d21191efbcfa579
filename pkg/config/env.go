package config

// EnvPrefix is handed to envconfig; every field carries an explicit BND_ name.
const EnvPrefix = "BND"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DefaultSQLiteDSN = "file:storefront.db?cache=shared&_busy_timeout=5000"
)

const (
	EnvAppEnv        = "BND_APP_ENV"
	EnvPort          = "BND_APP_PORT"
	EnvPublicBaseURL = "BND_PUBLIC_BASE_URL"

	EnvDBDSN  = "BND_DB_DSN"
	EnvDBHost = "BND_DB_HOST"
	EnvDBUser = "BND_DB_USER"
	EnvDBName = "BND_DB_NAME"

	EnvRedisURL  = "BND_REDIS_URL"
	EnvUseSQLite = "BND_USE_SQLITE"

	EnvToyyibPaySecretKey    = "BND_TOYYIBPAY_SECRET_KEY"
	EnvToyyibPayCategoryCode = "BND_TOYYIBPAY_CATEGORY_CODE"
	EnvToyyibPayTimeout      = "BND_TOYYIBPAY_TIMEOUT"

	EnvOrderPendingTTL = "BND_ORDER_PENDING_TTL"
	EnvGCPProjectID    = "BND_GCP_PROJECT_ID"
	EnvPubSubOrders    = "BND_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
