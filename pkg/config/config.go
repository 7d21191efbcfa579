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
	FeatureFlags FeatureFlagsConfig
	ToyyibPay    ToyyibPayConfig
	Checkout     CheckoutConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.ToyyibPay.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BND_APP_ENV" required:"true"`
	Port         string `envconfig:"BND_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BND_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BND_LOG_WARN_STACK" default:"false"`
	// PublicBaseURL is the externally reachable origin used to build the
	// gateway return and callback URLs.
	PublicBaseURL string `envconfig:"BND_PUBLIC_BASE_URL" required:"true"`
	// CatalogPath is where failed or ambiguous browser returns are redirected.
	CatalogPath string `envconfig:"BND_CATALOG_PATH" default:"/products"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"BND_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BND_DB_DSN"`
	Driver string `envconfig:"BND_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BND_DB_HOST"`
	LegacyPort     int    `envconfig:"BND_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BND_DB_USER"`
	LegacyPassword string `envconfig:"BND_DB_PASSWORD"`
	LegacyName     string `envconfig:"BND_DB_NAME"`
	LegacySSLMode  string `envconfig:"BND_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BND_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BND_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BND_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BND_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// LockTimeout bounds how long a checkout or reconciliation waits on a row lock.
	LockTimeout time.Duration `envconfig:"BND_DB_LOCK_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BND_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BND_REDIS_ADDR"`
	Password     string        `envconfig:"BND_REDIS_PASSWORD"`
	DB           int           `envconfig:"BND_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BND_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BND_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BND_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BND_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BND_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BND_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BND_AUTO_MIGRATE" default:"false"`
	// ManualVerifyGatewayLookup lets manual verification query the gateway when no status is supplied.
	ManualVerifyGatewayLookup bool `envconfig:"BND_FEATURE_MANUAL_VERIFY_LOOKUP" default:"true"`
}

// ToyyibPayConfig holds the hosted payment gateway credentials.
type ToyyibPayConfig struct {
	BaseURL      string        `envconfig:"BND_TOYYIBPAY_BASE_URL" default:"https://toyyibpay.com"`
	SecretKey    string        `envconfig:"BND_TOYYIBPAY_SECRET_KEY"`
	CategoryCode string        `envconfig:"BND_TOYYIBPAY_CATEGORY_CODE"`
	BillName     string        `envconfig:"BND_TOYYIBPAY_BILL_NAME" default:"BND Order"`
	Timeout      time.Duration `envconfig:"BND_TOYYIBPAY_TIMEOUT" default:"15s"`
	// ReferencePrefix is prepended to the order id in billExternalReferenceNo.
	ReferencePrefix string `envconfig:"BND_TOYYIBPAY_REFERENCE_PREFIX" default:"BND"`
}

func (t ToyyibPayConfig) validate() error {
	missing := []string{}
	if strings.TrimSpace(t.SecretKey) == "" {
		missing = append(missing, EnvToyyibPaySecretKey)
	}
	if strings.TrimSpace(t.CategoryCode) == "" {
		missing = append(missing, EnvToyyibPayCategoryCode)
	}
	if len(missing) > 0 {
		return fmt.Errorf("toyyibpay config missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CheckoutConfig tunes cart validation and the checkout idempotency window.
type CheckoutConfig struct {
	MaxCartLines       int           `envconfig:"BND_CHECKOUT_MAX_CART_LINES" default:"50"`
	MaxLineQuantity    int           `envconfig:"BND_CHECKOUT_MAX_LINE_QUANTITY" default:"100"`
	IdempotencyTTL     time.Duration `envconfig:"BND_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
	CallbackDedupeTTL  time.Duration `envconfig:"BND_CALLBACK_DEDUPE_TTL" default:"72h"`
	CurrencyMinorUnits int32         `envconfig:"BND_CURRENCY_MINOR_UNITS" default:"2"`
	// EnforceCatalogPrice rejects carts whose submitted prices differ from the catalog.
	EnforceCatalogPrice bool `envconfig:"BND_CHECKOUT_ENFORCE_CATALOG_PRICE" default:"false"`
}

// OrdersConfig controls pending-order expiry.
type OrdersConfig struct {
	PendingTTL       time.Duration `envconfig:"BND_ORDER_PENDING_TTL" default:"24h"`
	ExpiryBatchSize  int           `envconfig:"BND_ORDER_EXPIRY_BATCH_SIZE" default:"100"`
	CronInterval     time.Duration `envconfig:"BND_CRON_INTERVAL" default:"5m"`
	OutboxRetention  time.Duration `envconfig:"BND_OUTBOX_RETENTION" default:"720h"`
	OutboxPruneBatch int           `envconfig:"BND_OUTBOX_PRUNE_BATCH" default:"500"`
	// DLQRetention bounds how long parked events wait for an operator.
	DLQRetention time.Duration `envconfig:"BND_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

type RateLimitConfig struct {
	CheckoutWindow time.Duration `envconfig:"BND_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutIPMax  int           `envconfig:"BND_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"20"`
	// CheckoutEmailMax caps checkouts per customer email within the window.
	CheckoutEmailMax int           `envconfig:"BND_RATE_LIMIT_CHECKOUT_EMAIL_LIMIT" default:"10"`
	VerifyWindow     time.Duration `envconfig:"BND_RATE_LIMIT_VERIFY_WINDOW" default:"1m"`
	VerifyIPMax      int           `envconfig:"BND_RATE_LIMIT_VERIFY_IP_LIMIT" default:"10"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"BND_CORS_ALLOWED_ORIGINS" default:"*"`
}

type EventingConfig struct {
	Enabled bool `envconfig:"BND_EVENTING_ENABLED" default:"true"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"BND_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"BND_PUBSUB_ORDERS_TOPIC" default:"bnd-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BND_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BND_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BND_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.Driver = DriverSQLite
		db.DSN = DefaultSQLiteDSN
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
