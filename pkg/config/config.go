package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	// Environment
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Input
	InputFile string `mapstructure:"INPUT_FILE"`

	// Filtering
	MinGpPct float64 `mapstructure:"MIN_GP_PCT"`

	// Model fitting
	MaxFitIterations int     `mapstructure:"MAX_FIT_ITERATIONS"`
	VIFThreshold     float64 `mapstructure:"VIF_THRESHOLD"`

	// Output
	SummaryDecimals int      `mapstructure:"SUMMARY_DECIMALS"`
	SkipModels      []string `mapstructure:"SKIP_MODELS"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")

	// Set defaults
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "")
	viper.SetDefault("INPUT_FILE", "all_seasons.csv")
	viper.SetDefault("MIN_GP_PCT", 0.5)
	viper.SetDefault("MAX_FIT_ITERATIONS", 1000)
	viper.SetDefault("VIF_THRESHOLD", 5.0)
	viper.SetDefault("SUMMARY_DECIMALS", 2)
	viper.SetDefault("SKIP_MODELS", "")

	// Read from environment
	viper.AutomaticEnv()

	// Read config file if exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Parse skip list from comma-separated string
	if skipStr := viper.GetString("SKIP_MODELS"); skipStr != "" {
		config.SkipModels = strings.Split(skipStr, ",")
	} else {
		config.SkipModels = nil
	}

	return &config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
