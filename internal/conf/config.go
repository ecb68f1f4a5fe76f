// config.go: settings struct for imaging-churn and the functions to load and save it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// ModelSettings selects and locates the pretrained scoring model.
type ModelSettings struct {
	Backend  string        `yaml:"backend" mapstructure:"backend"`   // "lightgbm" or "tflite"
	Path     string        `yaml:"path" mapstructure:"path"`         // model file
	Threads  int           `yaml:"threads" mapstructure:"threads"`   // tflite interpreter threads, 0 = runtime default
	CacheTTL time.Duration `yaml:"cachettl" mapstructure:"cachettl"` // prediction cache lifetime, 0 disables caching
	Required bool          `yaml:"required" mapstructure:"required"` // fail startup when the model cannot be loaded
}

// DataSettings holds default file locations for the ETL commands.
type DataSettings struct {
	FeaturesCSV string `yaml:"featurescsv" mapstructure:"featurescsv"` // per-image feature table
	ProfilesCSV string `yaml:"profilescsv" mapstructure:"profilescsv"` // aggregated per-hospital table
	DicomDir    string `yaml:"dicomdir" mapstructure:"dicomdir"`       // directory scanned by extract
}

// GeneratorSettings controls the synthetic dataset.
type GeneratorSettings struct {
	Hospitals        int     `yaml:"hospitals" mapstructure:"hospitals"`
	ScansPerHospital int     `yaml:"scansperhospital" mapstructure:"scansperhospital"`
	ChurnRate        float64 `yaml:"churnrate" mapstructure:"churnrate"`
	ImageSize        int     `yaml:"imagesize" mapstructure:"imagesize"`
	Seed             uint64  `yaml:"seed" mapstructure:"seed"` // 0 picks a random seed
}

// EvaluationSettings controls the holdout split used by evaluate.
type EvaluationSettings struct {
	TestFraction float64 `yaml:"testfraction" mapstructure:"testfraction"`
	Seed         uint64  `yaml:"seed" mapstructure:"seed"`
}

// WebServerSettings configures the prediction API.
type WebServerSettings struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Listen       string        `yaml:"listen" mapstructure:"listen"`
	BodyLimit    string        `yaml:"bodylimit" mapstructure:"bodylimit"`
	AllowOrigins []string      `yaml:"alloworigins" mapstructure:"alloworigins"`
	ReadTimeout  time.Duration `yaml:"readtimeout" mapstructure:"readtimeout"`
	WriteTimeout time.Duration `yaml:"writetimeout" mapstructure:"writetimeout"`
}

// SQLiteSettings configures the default embedded datastore.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings configures a MySQL datastore.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
}

// OutputSettings selects the datastore backend.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
}

// MQTTSettings configures prediction publishing.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	ClientID string `yaml:"clientid" mapstructure:"clientid"`
	QoS      byte   `yaml:"qos" mapstructure:"qos"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// NotificationSettings configures shoutrrr alerts for HIGH risk predictions.
type NotificationSettings struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	URLs    []string `yaml:"urls" mapstructure:"urls"`
	Title   string   `yaml:"title" mapstructure:"title"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// MetricsSettings configures the standalone Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
	// Textfile receives the metrics of one-shot commands in the node_exporter
	// textfile collector format. Empty disables it.
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// TelemetrySettings groups error reporting and metrics.
type TelemetrySettings struct {
	Sentry  SentrySettings  `yaml:"sentry" mapstructure:"sentry"`
	Metrics MetricsSettings `yaml:"metrics" mapstructure:"metrics"`
}

// OrthancSettings configures the DICOM server used by fetch.
type OrthancSettings struct {
	URL      string        `yaml:"url" mapstructure:"url"`
	Username string        `yaml:"username" mapstructure:"username"`
	Password string        `yaml:"password" mapstructure:"password"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ExportTarget is one destination for the aggregated profile table.
type ExportTarget struct {
	Type     string         `yaml:"type" mapstructure:"type"` // "local", "ftp" or "sftp"
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Settings map[string]any `yaml:"settings" mapstructure:"settings"`
}

// ExportSettings lists export targets.
type ExportSettings struct {
	Targets []ExportTarget `yaml:"targets" mapstructure:"targets"`
}

// Settings is the root configuration.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Main struct {
		Name string `yaml:"name" mapstructure:"name"`
	} `yaml:"main" mapstructure:"main"`

	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Model        ModelSettings        `yaml:"model" mapstructure:"model"`
	Data         DataSettings         `yaml:"data" mapstructure:"data"`
	Generator    GeneratorSettings    `yaml:"generator" mapstructure:"generator"`
	Evaluation   EvaluationSettings   `yaml:"evaluation" mapstructure:"evaluation"`
	WebServer    WebServerSettings    `yaml:"webserver" mapstructure:"webserver"`
	Output       OutputSettings       `yaml:"output" mapstructure:"output"`
	MQTT         MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Telemetry    TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Orthanc      OrthancSettings      `yaml:"orthanc" mapstructure:"orthanc"`
	Export       ExportSettings       `yaml:"export" mapstructure:"export"`
}

// resolveSecrets expands ${VAR} and file: references in credential fields.
func resolveSecrets(s *Settings) error {
	fields := map[string]*string{
		"output.mysql.password": &s.Output.MySQL.Password,
		"mqtt.password":         &s.MQTT.Password,
		"orthanc.password":      &s.Orthanc.Password,
		"telemetry.sentry.dsn":  &s.Telemetry.Sentry.DSN,
	}
	for i := range s.Notification.URLs {
		fields[fmt.Sprintf("notification.urls[%d]", i)] = &s.Notification.URLs[i]
	}
	if err := secrets.ResolveAll(fields); err != nil {
		return err
	}

	for i, t := range s.Export.Targets {
		for _, key := range []string{"password", "username"} {
			v, ok := t.Settings[key].(string)
			if !ok || v == "" {
				continue
			}
			resolved, err := secrets.Resolve(v)
			if err != nil {
				return fmt.Errorf("export.targets[%d].%s: %w", i, key, err)
			}
			t.Settings[key] = resolved
		}
	}
	return nil
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
func Load() (*Settings, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default config directories and creates a default file when none is found.
func LoadFile(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("reading config file %s: %w", configFile, err)).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
