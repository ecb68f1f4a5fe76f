// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// Model backends understood by the scoring package.
const (
	BackendLightGBM = "lightgbm"
	BackendTFLite   = "tflite"
)

var supportedBackends = []string{BackendLightGBM, BackendTFLite}

var supportedExportTargets = []string{"local", "ftp", "sftp"}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateModelSettings,
		validateGeneratorSettings,
		validateEvaluationSettings,
		validateWebServerSettings,
		validateOutputSettings,
		validateMQTTSettings,
		validateNotificationSettings,
		validateExportSettings,
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateModelSettings(s *Settings) error {
	if !slices.Contains(supportedBackends, s.Model.Backend) {
		return fmt.Errorf("model.backend must be one of %s, got %q", strings.Join(supportedBackends, ", "), s.Model.Backend)
	}
	if s.Model.Threads < 0 {
		return fmt.Errorf("model.threads must be non-negative, got %d", s.Model.Threads)
	}
	if s.Model.CacheTTL < 0 {
		return fmt.Errorf("model.cachettl must be non-negative, got %s", s.Model.CacheTTL)
	}
	if s.Model.Required && s.Model.Path == "" {
		return fmt.Errorf("model.path is required when model.required is set")
	}
	return nil
}

func validateGeneratorSettings(s *Settings) error {
	var errs []string
	g := s.Generator
	if g.Hospitals < 1 {
		errs = append(errs, fmt.Sprintf("generator.hospitals must be at least 1, got %d", g.Hospitals))
	}
	if g.ScansPerHospital < 1 {
		errs = append(errs, fmt.Sprintf("generator.scansperhospital must be at least 1, got %d", g.ScansPerHospital))
	}
	if g.ChurnRate < 0 || g.ChurnRate > 1 {
		errs = append(errs, fmt.Sprintf("generator.churnrate must be between 0 and 1, got %g", g.ChurnRate))
	}
	if g.ImageSize < 1 {
		errs = append(errs, fmt.Sprintf("generator.imagesize must be positive, got %d", g.ImageSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateEvaluationSettings(s *Settings) error {
	if s.Evaluation.TestFraction <= 0 || s.Evaluation.TestFraction >= 1 {
		return fmt.Errorf("evaluation.testfraction must be in (0, 1), got %g", s.Evaluation.TestFraction)
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	if !s.WebServer.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.WebServer.Listen); err != nil {
		return fmt.Errorf("webserver.listen %q is not host:port: %w", s.WebServer.Listen, err)
	}
	return nil
}

func validateOutputSettings(s *Settings) error {
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		return fmt.Errorf("only one of output.sqlite and output.mysql can be enabled")
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path is required when SQLite is enabled")
	}
	if s.Output.MySQL.Enabled {
		m := s.Output.MySQL
		if m.Host == "" || m.Database == "" || m.Username == "" {
			return fmt.Errorf("output.mysql requires host, database and username")
		}
		if m.Port <= 0 || m.Port > 65535 {
			return fmt.Errorf("output.mysql.port must be between 1 and 65535, got %d", m.Port)
		}
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	u, err := url.Parse(s.MQTT.Broker)
	if err != nil || u.Host == "" {
		return fmt.Errorf("mqtt.broker %q is not a valid broker URL", s.MQTT.Broker)
	}
	if s.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic is required when MQTT is enabled")
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS)
	}
	return nil
}

func validateNotificationSettings(s *Settings) error {
	if s.Notification.Enabled && len(s.Notification.URLs) == 0 {
		return fmt.Errorf("notification.urls must list at least one URL when notifications are enabled")
	}
	return nil
}

func validateExportSettings(s *Settings) error {
	for i, target := range s.Export.Targets {
		if !slices.Contains(supportedExportTargets, target.Type) {
			return fmt.Errorf("export.targets[%d].type must be one of %s, got %q", i, strings.Join(supportedExportTargets, ", "), target.Type)
		}
	}
	return nil
}
