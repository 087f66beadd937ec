// Package configmask redacts secret-bearing keys from connector
// configurations before they are rendered, diffed or logged.
package configmask

import (
	"strings"
)

// Placeholder replaces matched secret values. Fixed length so the mask
// leaks nothing about the original value's size.
const Placeholder = "********"

// sensitiveKeys is the exact-name allow-list. A config key matches when it
// equals an entry or ends with "." + entry. Substring containment is
// deliberately not used: "passwordless" must pass through untouched.
var sensitiveKeys = []string{
	"password",
	"connection.password",
	"database.password",
	"secret",
	"token",
	"api.key",
	"auth.token",
	"jaas.config",
	"sasl.jaas.config",
	"ssl.keystore.password",
	"ssl.truststore.password",
}

// IsSensitive reports whether key names a secret-bearing field.
func IsSensitive(key string) bool {
	for _, k := range sensitiveKeys {
		if key == k || strings.HasSuffix(key, "."+k) {
			return true
		}
	}
	return false
}

// Mask returns a copy of config with every sensitive, non-empty string
// value replaced by Placeholder. All other entries pass through unchanged.
// Mask is pure and idempotent.
func Mask(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for key, value := range config {
		if IsSensitive(key) {
			if s, ok := value.(string); ok && s != "" {
				out[key] = Placeholder
				continue
			}
		}
		out[key] = value
	}
	return out
}

// SensitiveKeys returns the allow-list for display in settings screens.
func SensitiveKeys() []string {
	return append([]string(nil), sensitiveKeys...)
}
