package config

import "os"

// ConfigPath is where Load looks when no path is given. INKWELL_CONFIG
// overrides it.
var ConfigPath = envOr("INKWELL_CONFIG", "config.yaml")

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
