package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCloudNotReady means the credentials needed for sign-in and sync are
// incomplete. It is returned before any network call is made.
var ErrCloudNotReady = errors.New("config: cloud sync is not configured")

// CloudConfig holds the Firebase and Google OAuth client settings. The same
// struct is stored in the durable store (JSON) and read from the [cloud]
// section of the config file (TOML).
type CloudConfig struct {
	FirebaseWebAPIKey       string `toml:"firebase_web_api_key" json:"firebaseWebApiKey"`
	FirebaseProjectID       string `toml:"firebase_project_id" json:"firebaseProjectId"`
	FirestoreDatabaseID     string `toml:"firestore_database_id" json:"firestoreDatabaseId,omitempty"`
	GoogleOAuthClientID     string `toml:"google_oauth_client_id" json:"googleOAuthClientId"`
	GoogleOAuthClientSecret string `toml:"google_oauth_client_secret" json:"googleOAuthClientSecret,omitempty"`
}

// Clamp trims surrounding whitespace from every field.
func (c CloudConfig) Clamp() CloudConfig {
	return CloudConfig{
		FirebaseWebAPIKey:       strings.TrimSpace(c.FirebaseWebAPIKey),
		FirebaseProjectID:       strings.TrimSpace(c.FirebaseProjectID),
		FirestoreDatabaseID:     strings.TrimSpace(c.FirestoreDatabaseID),
		GoogleOAuthClientID:     strings.TrimSpace(c.GoogleOAuthClientID),
		GoogleOAuthClientSecret: strings.TrimSpace(c.GoogleOAuthClientSecret),
	}
}

// Merge returns c with every non-empty field of over applied on top.
func (c CloudConfig) Merge(over CloudConfig) CloudConfig {
	pick := func(base, o string) string {
		if o != "" {
			return o
		}

		return base
	}

	return CloudConfig{
		FirebaseWebAPIKey:       pick(c.FirebaseWebAPIKey, over.FirebaseWebAPIKey),
		FirebaseProjectID:       pick(c.FirebaseProjectID, over.FirebaseProjectID),
		FirestoreDatabaseID:     pick(c.FirestoreDatabaseID, over.FirestoreDatabaseID),
		GoogleOAuthClientID:     pick(c.GoogleOAuthClientID, over.GoogleOAuthClientID),
		GoogleOAuthClientSecret: pick(c.GoogleOAuthClientSecret, over.GoogleOAuthClientSecret),
	}
}

// ResolveCloud merges the stored settings, the config file's [cloud]
// section, and the environment, later layers winning field by field. Every
// layer is clamped before merging so a blank override never erases a value.
func ResolveCloud(stored, file, env CloudConfig) CloudConfig {
	c := stored.Clamp().Merge(file.Clamp()).Merge(env.Clamp())
	if c.FirestoreDatabaseID == "" {
		c.FirestoreDatabaseID = defaultFirestoreDatabase
	}

	return c
}

// Missing lists the config keys required for sync that are empty.
func (c CloudConfig) Missing() []string {
	var missing []string

	if c.FirebaseWebAPIKey == "" {
		missing = append(missing, "firebase_web_api_key")
	}

	if c.FirebaseProjectID == "" {
		missing = append(missing, "firebase_project_id")
	}

	if c.GoogleOAuthClientID == "" {
		missing = append(missing, "google_oauth_client_id")
	}

	return missing
}

// Ready returns ErrCloudNotReady naming the missing keys, or nil.
func (c CloudConfig) Ready() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrCloudNotReady, strings.Join(missing, ", "))
	}

	return nil
}

// Redacted returns a copy safe to print: secrets keep only a short prefix.
func (c CloudConfig) Redacted() CloudConfig {
	c.FirebaseWebAPIKey = redact(c.FirebaseWebAPIKey)
	c.GoogleOAuthClientSecret = redact(c.GoogleOAuthClientSecret)

	return c
}

const redactKeep = 4

func redact(s string) string {
	if s == "" {
		return ""
	}

	if len(s) <= redactKeep*2 {
		return "****"
	}

	return s[:redactKeep] + "****"
}
