/**
 * @description
 * This package handles the configuration management for the transfer engine. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the engine. These values
// are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RedisPollBudgetPrefix string `mapstructure:"REDIS_POLL_BUDGET_PREFIX"`
	PollBudgetPerNetwork  int    `mapstructure:"POLL_BUDGET_PER_NETWORK"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	TransferEventQueue    string `mapstructure:"TRANSFER_EVENT_QUEUE"`
	StellarAPIBaseURL     string `mapstructure:"STELLAR_API_BASE_URL"`
	StellarAPIKey         string `mapstructure:"STELLAR_API_KEY"`
	HederaAPIBaseURL      string `mapstructure:"HEDERA_API_BASE_URL"`
	HederaAPIKey          string `mapstructure:"HEDERA_API_KEY"`
	HederaOperatorID      string `mapstructure:"HEDERA_OPERATOR_ID"`
	KYCProviderBaseURL    string `mapstructure:"KYC_PROVIDER_BASE_URL"`
	KYCProviderAPIKey     string `mapstructure:"KYC_PROVIDER_API_KEY"`
	KYCTimeoutSeconds     int    `mapstructure:"KYC_TIMEOUT_SECONDS"`
	SanctionedCountries   string `mapstructure:"SANCTIONED_COUNTRIES"`
	ProjectAuthSecret     string `mapstructure:"PROJECT_AUTH_SECRET"`
	InternalAPIKey        string `mapstructure:"INTERNAL_API_KEY"`
	SweepSchedule         string `mapstructure:"SWEEP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_POLL_BUDGET_PREFIX", "engine:poll_budget")
	viper.SetDefault("POLL_BUDGET_PER_NETWORK", 10)
	viper.SetDefault("TRANSFER_EVENT_QUEUE", "transfer_engine.flow_indexer")
	viper.SetDefault("KYC_TIMEOUT_SECONDS", 5)
	viper.SetDefault("SWEEP_SCHEDULE", "* * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_POLL_BUDGET_PREFIX")
	_ = viper.BindEnv("POLL_BUDGET_PER_NETWORK")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("TRANSFER_EVENT_QUEUE")
	_ = viper.BindEnv("STELLAR_API_BASE_URL")
	_ = viper.BindEnv("STELLAR_API_KEY")
	_ = viper.BindEnv("HEDERA_API_BASE_URL")
	_ = viper.BindEnv("HEDERA_API_KEY")
	_ = viper.BindEnv("HEDERA_OPERATOR_ID")
	_ = viper.BindEnv("KYC_PROVIDER_BASE_URL")
	_ = viper.BindEnv("KYC_PROVIDER_API_KEY")
	_ = viper.BindEnv("KYC_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SANCTIONED_COUNTRIES")
	_ = viper.BindEnv("PROJECT_AUTH_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("SWEEP_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisPollBudgetPrefix = strings.TrimSpace(config.RedisPollBudgetPrefix)
	if config.RedisPollBudgetPrefix == "" {
		config.RedisPollBudgetPrefix = "engine:poll_budget"
	}
	if config.PollBudgetPerNetwork <= 0 {
		config.PollBudgetPerNetwork = 10
	}
	if config.KYCTimeoutSeconds <= 0 {
		config.KYCTimeoutSeconds = 5
	}

	return
}

// SanctionedCountryList splits the configured sanctions list into codes.
func (c Config) SanctionedCountryList() []string {
	raw := strings.Split(c.SanctionedCountries, ",")
	countries := make([]string, 0, len(raw))
	for _, cc := range raw {
		cc = strings.ToUpper(strings.TrimSpace(cc))
		if cc != "" {
			countries = append(countries, cc)
		}
	}
	return countries
}
