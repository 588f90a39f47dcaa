package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig             = "TASKSYNC_CONFIG"
	EnvDataDir            = "TASKSYNC_DATA_DIR"
	EnvFirebaseAPIKey     = "TASKSYNC_FIREBASE_API_KEY"
	EnvFirebaseProjectID  = "TASKSYNC_FIREBASE_PROJECT_ID"
	EnvGoogleClientID     = "TASKSYNC_GOOGLE_CLIENT_ID"
	EnvGoogleClientSecret = "TASKSYNC_GOOGLE_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
	DataDir    string
	Cloud      CloudConfig
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		Cloud: CloudConfig{
			FirebaseWebAPIKey:       os.Getenv(EnvFirebaseAPIKey),
			FirebaseProjectID:       os.Getenv(EnvFirebaseProjectID),
			GoogleOAuthClientID:     os.Getenv(EnvGoogleClientID),
			GoogleOAuthClientSecret: os.Getenv(EnvGoogleClientSecret),
		},
	}
}
