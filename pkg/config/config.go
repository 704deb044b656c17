// Package config loads application configuration from file, environment,
// and flags via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

// Config holds application-wide configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	PG      PGConfig      `mapstructure:"pg"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Demo applies the bundled Shot/Asset schema on startup.
	Demo bool `mapstructure:"demo"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listenAddr"`
	BaseURL    string `mapstructure:"baseURL"`
}

type PGConfig struct {
	ConnString string `mapstructure:"connString"`
	Schema     string `mapstructure:"schema"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func Default() *Config {
	return &Config{
		Server:  ServerConfig{ListenAddr: ":8080"},
		PG:      PGConfig{Schema: "public"},
		Metrics: MetricsConfig{Addr: ":9100"},
	}
}

// Load reads config from file or environment. Environment variables use the
// DBSVC prefix, eg DBSVC_PG_CONNSTRING.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("dbsvc")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DBSVC")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return cfg, nil
}
