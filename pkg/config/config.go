// Package config holds application-wide configuration for the melt CLI,
// distinct from the project manifest: where the manifest lives, where
// state and installed plugins go, and how the process itself behaves.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/meltworks/melt/pkg/manifest"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds application-wide configuration
type Config struct {
	// ManifestPath locates the project manifest. Defaults to melt.yml
	// in the working directory.
	ManifestPath string `mapstructure:"manifestPath"`

	// StateDir is where extractor state checkpoints are persisted.
	StateDir string `mapstructure:"stateDir"`

	// PluginsDir is where the installer places plugin environments.
	PluginsDir string `mapstructure:"pluginsDir"`

	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func Default() Config {
	return Config{
		ManifestPath: manifest.DefaultFile,
		StateDir:     filepath.Join(".melt", "state"),
		PluginsDir:   filepath.Join(".melt", "plugins"),
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
	}
}

// Load reads config from file or environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// The project manifest is melt.yml, so the app config only lives
		// under the user config dir to keep the two from shadowing each
		// other.
		v.SetConfigName("melt")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MELT")

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}
