// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "imaging-churn")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/imaging-churn.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("model.backend", "lightgbm")
	viper.SetDefault("model.path", "churn_model_lgb.txt")
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.cachettl", 5*time.Minute)
	viper.SetDefault("model.required", false)

	viper.SetDefault("data.featurescsv", "medical_churn_data.csv")
	viper.SetDefault("data.profilescsv", "hospital_profiles.csv")
	viper.SetDefault("data.dicomdir", "raw_dicoms")

	viper.SetDefault("generator.hospitals", 50)
	viper.SetDefault("generator.scansperhospital", 10)
	viper.SetDefault("generator.churnrate", 0.2)
	viper.SetDefault("generator.imagesize", 512)
	viper.SetDefault("generator.seed", 0)

	viper.SetDefault("evaluation.testfraction", 0.2)
	viper.SetDefault("evaluation.seed", 42)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", "0.0.0.0:8000")
	viper.SetDefault("webserver.bodylimit", "1M")
	viper.SetDefault("webserver.alloworigins", []string{"*"})
	viper.SetDefault("webserver.readtimeout", 15*time.Second)
	viper.SetDefault("webserver.writetimeout", 15*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "imaging-churn.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "churn")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "imaging_churn")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", 3306)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "imaging-churn")
	viper.SetDefault("mqtt.clientid", "imaging-churn")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.title", "High churn risk")

	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.environment", "production")
	viper.SetDefault("telemetry.metrics.enabled", false)
	viper.SetDefault("telemetry.metrics.listen", "0.0.0.0:9090")
	viper.SetDefault("telemetry.metrics.textfile", "")

	viper.SetDefault("orthanc.url", "http://localhost:8042")
	viper.SetDefault("orthanc.timeout", 30*time.Second)
}
