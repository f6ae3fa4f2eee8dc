package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	// .env is optional, real environment variables win either way
	_ = godotenv.Load()
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("NETWORK", "mainnet")
	viper.SetDefault("BASE_NODE_ADDRESS", "localhost:18142")
	viper.SetDefault("CONFIRMATIONS", 3)
	viper.SetDefault("NEGOTIATION_TIMEOUT", "300s")
	viper.SetDefault("BROADCAST_RETRY_INTERVAL", "30s")
	viper.SetDefault("VALIDATION_INTERVAL", "60s")
	viper.SetDefault("RECOVERY_RETRY_LIMIT", 3)
	viper.SetDefault("RECOVERY_ROUND_SIZE", 100)
	viper.SetDefault("RECOVERY_MESSAGE", "Output found on blockchain during recovery")
	viper.SetDefault("ENABLE_HTTP", true)
	viper.SetDefault("WALLET_SEED_WORDS", "")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	AppConfig = Config{
		HTTPPort:               viper.GetString("HTTP_PORT"),
		LogLevel:               logLevel,
		DbDir:                  viper.GetString("DB_DIR"),
		Network:                viper.GetString("NETWORK"),
		BaseNodeAddress:        viper.GetString("BASE_NODE_ADDRESS"),
		Confirmations:          viper.GetUint64("CONFIRMATIONS"),
		NegotiationTimeout:     viper.GetDuration("NEGOTIATION_TIMEOUT"),
		BroadcastRetryInterval: viper.GetDuration("BROADCAST_RETRY_INTERVAL"),
		ValidationInterval:     viper.GetDuration("VALIDATION_INTERVAL"),
		RecoveryRetryLimit:     viper.GetInt("RECOVERY_RETRY_LIMIT"),
		RecoveryRoundSize:      viper.GetUint64("RECOVERY_ROUND_SIZE"),
		RecoveryMessage:        viper.GetString("RECOVERY_MESSAGE"),
		EnableHTTP:             viper.GetBool("ENABLE_HTTP"),
		SeedWords:              viper.GetString("WALLET_SEED_WORDS"),
	}

	if AppConfig.RecoveryRoundSize == 0 {
		logrus.Warnf("Recovery round size can not be 0, set to 100")
		AppConfig.RecoveryRoundSize = 100
	}

	logrus.Infof("Init config, Confirmations %d, NegotiationTimeout %v, RecoveryRetryLimit %d",
		AppConfig.Confirmations, AppConfig.NegotiationTimeout, AppConfig.RecoveryRetryLimit)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

type Config struct {
	HTTPPort               string
	LogLevel               logrus.Level
	DbDir                  string
	Network                string
	BaseNodeAddress        string
	Confirmations          uint64
	NegotiationTimeout     time.Duration
	BroadcastRetryInterval time.Duration
	ValidationInterval     time.Duration
	RecoveryRetryLimit     int
	RecoveryRoundSize      uint64
	RecoveryMessage        string
	EnableHTTP             bool
	SeedWords              string
}
