// Package config initializes the application's configuration. It uses the
// Viper library to read settings from a config file, environment variables,
// and command-line flags, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/logging"
)

// InitConfig sets defaults, config search paths and environment bindings.
// Called once at startup, before any dispatcher is built.
func InitConfig() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/proxygather/")
	viper.AddConfigPath("$HOME/.proxygather")

	// Scraper defaults.
	viper.SetDefault("scraper.threads", 50)
	viper.SetDefault("scraper.automation_threads", 3)
	viper.SetDefault("scraper.task_timeout", "100s")
	viper.SetDefault("scraper.total_timeout", "300s")
	viper.SetDefault("scraper.sites_file", "sites-to-get-proxies-from.txt")
	viper.SetDefault("scraper.sources_file", "sites-to-get-sources-from.txt")
	viper.SetDefault("scraper.use_browser_automation", false)

	// Checker defaults.
	viper.SetDefault("checker.threads", 500)
	viper.SetDefault("checker.timeout", "6s")
	viper.SetDefault("checker.prepend_protocol", false)
	viper.SetDefault("checker.judges", []string{})

	// Status server defaults.
	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.addr", ":9090")

	viper.SetEnvPrefix("PROXYGATHER") // e.g. PROXYGATHER_CHECKER_THREADS=200
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Debug("config file not found; using defaults and environment variables")
		} else {
			logging.L.Error("error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
