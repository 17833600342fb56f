package config

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvSigningKey       = "LICENSING_SIGNING_KEY"
	EnvSigningKeys      = "LICENSING_SIGNING_KEYS"
	EnvSigningActiveKid = "LICENSING_SIGNING_ACTIVE_KID"
)
