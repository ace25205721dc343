package config

const (
	EnvPrefix = "NOTEKEEP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DefaultWSPath = "/api/ws"

	EnvAppEnv      = "NOTEKEEP_APP_ENV"
	EnvNamespace   = "NOTEKEEP_NAMESPACE"
	EnvAPIBaseURL  = "NOTEKEEP_API_BASE_URL"
	EnvWSPath      = "NOTEKEEP_WS_PATH"
	EnvToken       = "NOTEKEEP_TOKEN"
	EnvRedisURL    = "NOTEKEEP_REDIS_URL"
	EnvRTBaseDelay = "NOTEKEEP_RT_BASE_DELAY"
	EnvStoreCap    = "NOTEKEEP_STORE_CAPACITY"
	EnvServerAddr  = "NOTEKEEP_SERVER_ADDR"
	EnvCORSOrigins = "NOTEKEEP_SERVER_CORS_ORIGINS"
	EnvUsagePath   = "NOTEKEEP_USAGE_PATH"
)
