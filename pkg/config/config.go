package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Password  PasswordConfig
	Vault     VaultConfig
	Providers ProvidersConfig
	Square    SquareConfig
	Shopify   ShopifyConfig
	Clover    CloverConfig
	Dispatch  DispatchConfig
	TestSend  TestSendConfig
	PubSub    PubSubConfig
	GCP       GCPConfig
	Cron      CronConfig
	CORS      CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Vault.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REVIEWFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"REVIEWFLOW_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"REVIEWFLOW_PUBLIC_URL" default:"http://localhost:8080"`
	LogLevel     string `envconfig:"REVIEWFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REVIEWFLOW_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"REVIEWFLOW_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// CallbackURL joins the public base URL with an API path.
func (a AppConfig) CallbackURL(path string) string {
	base := strings.TrimRight(strings.TrimSpace(a.PublicURL), "/")
	return base + "/" + strings.TrimLeft(path, "/")
}

type ServiceConfig struct {
	Kind string `envconfig:"REVIEWFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"REVIEWFLOW_DB_DSN"`
	Driver string `envconfig:"REVIEWFLOW_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"REVIEWFLOW_DB_HOST"`
	Port     int    `envconfig:"REVIEWFLOW_DB_PORT" default:"5432"`
	User     string `envconfig:"REVIEWFLOW_DB_USER"`
	Password string `envconfig:"REVIEWFLOW_DB_PASSWORD"`
	Name     string `envconfig:"REVIEWFLOW_DB_NAME"`
	SSLMode  string `envconfig:"REVIEWFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REVIEWFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REVIEWFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REVIEWFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REVIEWFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REVIEWFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REVIEWFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"REVIEWFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"REVIEWFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REVIEWFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REVIEWFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REVIEWFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REVIEWFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REVIEWFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"REVIEWFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"REVIEWFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"REVIEWFLOW_JWT_EXPIRATION_MINUTES" default:"60"`
}

// PasswordConfig tunes the argon2id hashing used for inbound API keys.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"REVIEWFLOW_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"REVIEWFLOW_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"REVIEWFLOW_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"REVIEWFLOW_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"REVIEWFLOW_ARGON_KEY_LEN" default:"32"`
}

type VaultConfig struct {
	Key     string `envconfig:"REVIEWFLOW_VAULT_KEY" required:"true"`
	Context string `envconfig:"REVIEWFLOW_VAULT_CONTEXT" default:"reviewflow/credentials/v1"`
}

func (v VaultConfig) validate() error {
	if len(strings.TrimSpace(v.Key)) < minVaultKeyLen {
		return fmt.Errorf("%s must be at least %d characters", EnvVaultKey, minVaultKeyLen)
	}
	return nil
}

type ProvidersConfig struct {
	Timeout       time.Duration `envconfig:"REVIEWFLOW_PROVIDER_TIMEOUT" default:"10s"`
	StateTTL      time.Duration `envconfig:"REVIEWFLOW_OAUTH_STATE_TTL" default:"10m"`
	RefreshWindow time.Duration `envconfig:"REVIEWFLOW_TOKEN_REFRESH_WINDOW" default:"5m"`
	LockTTL       time.Duration `envconfig:"REVIEWFLOW_PROVIDER_LOCK_TTL" default:"30s"`
	EventTTL      time.Duration `envconfig:"REVIEWFLOW_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
	DashboardURL  string        `envconfig:"REVIEWFLOW_DASHBOARD_URL" default:"http://localhost:3000/integrations"`
}

type SquareConfig struct {
	ApplicationID     string `envconfig:"REVIEWFLOW_SQUARE_APPLICATION_ID"`
	ApplicationSecret string `envconfig:"REVIEWFLOW_SQUARE_APPLICATION_SECRET"`
	Env               string `envconfig:"REVIEWFLOW_SQUARE_ENV" default:"sandbox"`
	WebhookKey        string `envconfig:"REVIEWFLOW_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	Scopes            string `envconfig:"REVIEWFLOW_SQUARE_SCOPES" default:"MERCHANT_PROFILE_READ PAYMENTS_READ ORDERS_READ CUSTOMERS_READ"`
}

func (s SquareConfig) Enabled() bool {
	return s.ApplicationID != "" && s.ApplicationSecret != ""
}

type ShopifyConfig struct {
	APIKey     string `envconfig:"REVIEWFLOW_SHOPIFY_API_KEY"`
	APISecret  string `envconfig:"REVIEWFLOW_SHOPIFY_API_SECRET"`
	Scopes     string `envconfig:"REVIEWFLOW_SHOPIFY_SCOPES" default:"read_orders,read_customers,read_locations"`
	APIVersion string `envconfig:"REVIEWFLOW_SHOPIFY_API_VERSION" default:"2025-01"`
}

func (s ShopifyConfig) Enabled() bool {
	return s.APIKey != "" && s.APISecret != ""
}

type CloverConfig struct {
	AppID       string `envconfig:"REVIEWFLOW_CLOVER_APP_ID"`
	AppSecret   string `envconfig:"REVIEWFLOW_CLOVER_APP_SECRET"`
	Env         string `envconfig:"REVIEWFLOW_CLOVER_ENV" default:"sandbox"`
	WebhookAuth string `envconfig:"REVIEWFLOW_CLOVER_WEBHOOK_AUTH_CODE"`
}

func (c CloverConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}

type DispatchConfig struct {
	FrequencyWindow time.Duration `envconfig:"REVIEWFLOW_DISPATCH_FREQUENCY_WINDOW" default:"720h"`
	LockTTL         time.Duration `envconfig:"REVIEWFLOW_DISPATCH_LOCK_TTL" default:"30s"`
	MessageTemplate string        `envconfig:"REVIEWFLOW_DISPATCH_MESSAGE_TEMPLATE" default:"Hi {{.FirstName}}, thanks for visiting {{.LocationName}}! Mind leaving us a quick review? Reply STOP to opt out."`
	DefaultRegion   string        `envconfig:"REVIEWFLOW_DISPATCH_DEFAULT_REGION" default:"US"`
	SenderMode      string        `envconfig:"REVIEWFLOW_SMS_SENDER" default:"log"`
}

type TestSendConfig struct {
	DailyLimit int    `envconfig:"REVIEWFLOW_TEST_SEND_DAILY_LIMIT" default:"5"`
	Timezone   string `envconfig:"REVIEWFLOW_TEST_SEND_TIMEZONE" default:"UTC"`
}

// Location resolves the configured quota timezone, falling back to UTC.
func (t TestSendConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(t.Timezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

type PubSubConfig struct {
	SMSTopic string `envconfig:"REVIEWFLOW_PUBSUB_SMS_TOPIC" default:"review-request-sms"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"REVIEWFLOW_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"REVIEWFLOW_GCP_CREDENTIALS_JSON"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"REVIEWFLOW_CRON_INTERVAL" default:"15m"`
	LockTTL         time.Duration `envconfig:"REVIEWFLOW_CRON_LOCK_TTL" default:"10m"`
	RefreshHorizon  time.Duration `envconfig:"REVIEWFLOW_CRON_REFRESH_HORIZON" default:"30m"`
	ResyncBatchSize int           `envconfig:"REVIEWFLOW_CRON_RESYNC_BATCH_SIZE" default:"100"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"REVIEWFLOW_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
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
