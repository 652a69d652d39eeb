package config

// EnvPrefix is empty because every field tag already carries the full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	minVaultKeyLen = 32
)

const (
	EnvAppEnv       = "REVIEWFLOW_APP_ENV"
	EnvPort         = "REVIEWFLOW_APP_PORT"
	EnvDBDSN        = "REVIEWFLOW_DB_DSN"
	EnvDBHost       = "REVIEWFLOW_DB_HOST"
	EnvDBUser       = "REVIEWFLOW_DB_USER"
	EnvDBName       = "REVIEWFLOW_DB_NAME"
	EnvRedisURL     = "REVIEWFLOW_REDIS_URL"
	EnvJWTSecret    = "REVIEWFLOW_JWT_SECRET"
	EnvJWTIssuer    = "REVIEWFLOW_JWT_ISSUER"
	EnvVaultKey     = "REVIEWFLOW_VAULT_KEY"
	EnvTestSendCap  = "REVIEWFLOW_TEST_SEND_DAILY_LIMIT"
	EnvTestSendTZ   = "REVIEWFLOW_TEST_SEND_TIMEZONE"
	EnvSquareAppID  = "REVIEWFLOW_SQUARE_APPLICATION_ID"
	EnvSquareSecret = "REVIEWFLOW_SQUARE_APPLICATION_SECRET"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
