package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string
	AllowedOrigin     string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	CompanyID         string
	WarehouseID       string
	PriceListID       string
	DocSeries         string
	StatsPollInterval time.Duration
	AuthSecret        string
	AccessTokenTTL    time.Duration
	LoginRatePerMin   int
}

// Load reads configuration from a local .env file when present, with real
// environment variables taking precedence.
func Load() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Printf("[config] no .env file, using environment variables: %v", err)
	}

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("COMPANY_ID", "main-company")
	v.SetDefault("WAREHOUSE_ID", "main-warehouse")
	v.SetDefault("PRICE_LIST_ID", "default")
	v.SetDefault("DOC_SERIES", "B001")
	v.SetDefault("STATS_POLL_SECONDS", 30)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 30)

	pollSeconds := v.GetInt("STATS_POLL_SECONDS")
	if pollSeconds < 1 {
		pollSeconds = 30
	}
	tokenMinutes := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenMinutes < 1 {
		tokenMinutes = 480
	}

	return Config{
		Port:              v.GetString("PORT"),
		AllowedOrigin:     v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		CompanyID:         v.GetString("COMPANY_ID"),
		WarehouseID:       v.GetString("WAREHOUSE_ID"),
		PriceListID:       v.GetString("PRICE_LIST_ID"),
		DocSeries:         v.GetString("DOC_SERIES"),
		StatsPollInterval: time.Duration(pollSeconds) * time.Second,
		AuthSecret:        strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTL:    time.Duration(tokenMinutes) * time.Minute,
		LoginRatePerMin:   v.GetInt("LOGIN_RATE_PER_MINUTE"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
