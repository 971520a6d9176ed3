package crm

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// DefaultAPIVersion is the REST API version used in query URLs.
const DefaultAPIVersion = "v59.0"

// Config holds CRM connection settings.
type Config struct {
	URL          string // Login/instance base URL
	ClientID     string
	ClientSecret string
	APIVersion   string
	Timeout      time.Duration
}

// LoadConfigFromEnv loads CRM connection settings from environment variables
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:          strings.TrimRight(os.Getenv("CRM_URL"), "/"),
		ClientID:     os.Getenv("CRM_CLIENT_ID"),
		ClientSecret: os.Getenv("CRM_CLIENT_SECRET"),
		APIVersion:   getEnvOrDefault("CRM_API_VERSION", DefaultAPIVersion),
		Timeout:      60 * time.Second,
	}
	if v := os.Getenv("CRM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CRM_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	var missing []string
	for name, v := range map[string]string{
		"CRM_URL":           cfg.URL,
		"CRM_CLIENT_ID":     cfg.ClientID,
		"CRM_CLIENT_SECRET": cfg.ClientSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return Config{}, fmt.Errorf("missing CRM environment variables: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
