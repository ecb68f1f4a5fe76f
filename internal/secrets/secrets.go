// Package secrets resolves credentials written in the config as environment
// references or secret file paths, so passwords do not have to live in
// config.yaml.
//
// Supported forms:
//
//	plain-value                 used as is
//	${VAR} or ${VAR:-fallback}  expanded from the environment, also inside text
//	file:/run/secrets/name      read from a Docker or Kubernetes secret file
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// FilePrefix marks a value as a path to a secret file.
const FilePrefix = "file:"

// secret files hold tokens, not documents
const maxFileSize = 64 * 1024

// Expand replaces ${VAR} and ${VAR:-fallback} references. A reference to an
// unset variable without fallback is an error.
func Expand(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, dropping trailing newlines. Files readable by
// group or others are accepted with a warning.
func ReadFile(path string) (string, error) {
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", errors.FileError(err, clean, 0)
	}
	if !info.Mode().IsRegular() {
		return "", fileError(clean, "not a regular file")
	}
	if info.Size() > maxFileSize {
		return "", fileError(clean, fmt.Sprintf("larger than %d bytes", maxFileSize))
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		GetLogger().Warn("secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("perm", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", errors.FileError(err, clean, 0)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(clean, "empty")
	}
	return secret, nil
}

func fileError(path, problem string) error {
	return errors.Newf("secret file %s: %s", path, problem).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		FileContext(path, 0).
		Build()
}

// Resolve returns the secret value for one config value.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(path)
	}
	return Expand(value)
}

// ResolveAll resolves every field in place. Keys name the fields in errors;
// values are never included.
func ResolveAll(fields map[string]*string) error {
	var errs []error
	for name, ptr := range fields {
		if ptr == nil || *ptr == "" {
			continue
		}
		v, err := Resolve(*ptr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*ptr = v
	}
	return errors.Join(errs...)
}
