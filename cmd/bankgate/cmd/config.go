package cmd

import (
	"github.com/spf13/pflag"

	"github.com/jmcleod/bankgate/internal/config"
)

// flagKeys maps command-line flags onto config keys. Only flags the user
// actually set override the file and environment.
var flagKeys = map[string]string{
	"listen":          "listen",
	"data-dir":        "data_dir",
	"static-dir":      "static_dir",
	"tls-cert":        "tls_cert",
	"tls-key":         "tls_key",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"demo-fallback":   "demo.fallback",
	"cookie-insecure": "cookie_insecure",
}

func flagOverrides(flags *pflag.FlagSet) map[string]any {
	out := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			out[key] = f.Value.String()
		}
	})
	return out
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	return config.Load(configPath, flagOverrides(flags))
}
