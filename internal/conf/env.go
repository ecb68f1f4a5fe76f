// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every automatically bound environment variable.
const EnvPrefix = "IMAGING_CHURN"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns explicitly bound environment variables with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"model.backend", "IMAGING_CHURN_MODEL_BACKEND", validateEnvBackend},
		{"model.path", "IMAGING_CHURN_MODEL_PATH", nil},
		{"model.threads", "IMAGING_CHURN_MODEL_THREADS", validateEnvNonNegativeInt},
		{"webserver.listen", "IMAGING_CHURN_LISTEN", nil},
		{"output.mysql.password", "IMAGING_CHURN_MYSQL_PASSWORD", nil},
		{"mqtt.password", "IMAGING_CHURN_MQTT_PASSWORD", nil},
		{"orthanc.url", "IMAGING_CHURN_ORTHANC_URL", validateEnvURL},
		{"orthanc.password", "IMAGING_CHURN_ORTHANC_PASSWORD", nil},
		{"telemetry.sentry.dsn", "SENTRY_DSN", validateEnvURL},
		{"debug", "IMAGING_CHURN_DEBUG", validateEnvBool},
	}
}

// bindEnvVars binds every entry of getEnvBindings and validates values that are set
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !slices.Contains(supportedBackends, value) {
		return fmt.Errorf("must be one of: %s", strings.Join(supportedBackends, ", "))
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper.
// Nested keys map to IMAGING_CHURN_SECTION_KEY.
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}
