/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized and straightforward way to manage
 * application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	// Per-transaction amount ceiling in minor units; 0 disables the ceiling.
	MaxTransferAmountMinor int64 `mapstructure:"MAX_TRANSFER_AMOUNT_MINOR"`
	OTPTTLMinutes          int   `mapstructure:"OTP_TTL_MINUTES"`

	// Fee schedule: basis points plus a per-category minimum, in minor units.
	LocalTransferFeeBPS                  int64 `mapstructure:"LOCAL_TRANSFER_FEE_BPS"`
	LocalTransferFeeMinimumMinor         int64 `mapstructure:"LOCAL_TRANSFER_FEE_MINIMUM_MINOR"`
	InternationalTransferFeeBPS          int64 `mapstructure:"INTERNATIONAL_TRANSFER_FEE_BPS"`
	InternationalTransferFeeMinimumMinor int64 `mapstructure:"INTERNATIONAL_TRANSFER_FEE_MINIMUM_MINOR"`

	// Global kill switches: admin-level per-category transfer freeze.
	LocalTransfersEnabled         bool `mapstructure:"LOCAL_TRANSFERS_ENABLED"`
	InternationalTransfersEnabled bool `mapstructure:"INTERNATIONAL_TRANSFERS_ENABLED"`

	// Administrator-set expected codes for the non-OTP verification stages.
	COTCode string `mapstructure:"COT_CODE"`
	IMFCode string `mapstructure:"IMF_CODE"`
	ESICode string `mapstructure:"ESI_CODE"`
	DCOCode string `mapstructure:"DCO_CODE"`
	TAXCode string `mapstructure:"TAX_CODE"`
	TACCode string `mapstructure:"TAC_CODE"`

	InitiateRateLimitPerMinute int `mapstructure:"INITIATE_RATE_LIMIT_PER_MINUTE"`
	VerifyRateLimitPerMinute   int `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`
}

// OTPTTL returns the configured one-time-code lifetime as a duration.
func (c Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLMinutes) * time.Minute
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "scbank:rate_limit")
	viper.SetDefault("MAX_TRANSFER_AMOUNT_MINOR", 10_000_000_00) // 10,000,000.00 in minor units
	viper.SetDefault("OTP_TTL_MINUTES", 10)
	viper.SetDefault("LOCAL_TRANSFER_FEE_BPS", 50) // 0.50%
	viper.SetDefault("LOCAL_TRANSFER_FEE_MINIMUM_MINOR", 100)
	viper.SetDefault("INTERNATIONAL_TRANSFER_FEE_BPS", 150) // 1.50%
	viper.SetDefault("INTERNATIONAL_TRANSFER_FEE_MINIMUM_MINOR", 1000)
	viper.SetDefault("LOCAL_TRANSFERS_ENABLED", true)
	viper.SetDefault("INTERNATIONAL_TRANSFERS_ENABLED", true)
	viper.SetDefault("INITIATE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("MAX_TRANSFER_AMOUNT_MINOR")
	_ = viper.BindEnv("OTP_TTL_MINUTES")
	_ = viper.BindEnv("LOCAL_TRANSFER_FEE_BPS")
	_ = viper.BindEnv("LOCAL_TRANSFER_FEE_MINIMUM_MINOR")
	_ = viper.BindEnv("INTERNATIONAL_TRANSFER_FEE_BPS")
	_ = viper.BindEnv("INTERNATIONAL_TRANSFER_FEE_MINIMUM_MINOR")
	_ = viper.BindEnv("LOCAL_TRANSFERS_ENABLED")
	_ = viper.BindEnv("INTERNATIONAL_TRANSFERS_ENABLED")
	_ = viper.BindEnv("COT_CODE")
	_ = viper.BindEnv("IMF_CODE")
	_ = viper.BindEnv("ESI_CODE")
	_ = viper.BindEnv("DCO_CODE")
	_ = viper.BindEnv("TAX_CODE")
	_ = viper.BindEnv("TAC_CODE")
	_ = viper.BindEnv("INITIATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("VERIFY_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if config.OTPTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"invalid OTP_TTL_MINUTES; using default\" value=%d", config.OTPTTLMinutes)
		config.OTPTTLMinutes = 10
	}
	if config.MaxTransferAmountMinor < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer ceiling configured; disabling ceiling\" value=%d", config.MaxTransferAmountMinor)
		config.MaxTransferAmountMinor = 0
	}
	if config.LocalTransferFeeBPS < 0 {
		log.Printf("level=warn component=config msg=\"negative local fee configured; coercing to zero\" fee_bps=%d", config.LocalTransferFeeBPS)
		config.LocalTransferFeeBPS = 0
	}
	if config.InternationalTransferFeeBPS < 0 {
		log.Printf("level=warn component=config msg=\"negative international fee configured; coercing to zero\" fee_bps=%d", config.InternationalTransferFeeBPS)
		config.InternationalTransferFeeBPS = 0
	}
	if config.LocalTransferFeeMinimumMinor < 0 {
		config.LocalTransferFeeMinimumMinor = 0
	}
	if config.InternationalTransferFeeMinimumMinor < 0 {
		config.InternationalTransferFeeMinimumMinor = 0
	}
	if config.InitiateRateLimitPerMinute < 0 {
		config.InitiateRateLimitPerMinute = 0
	}
	if config.VerifyRateLimitPerMinute < 0 {
		config.VerifyRateLimitPerMinute = 0
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "scbank:rate_limit"
	}

	return
}
