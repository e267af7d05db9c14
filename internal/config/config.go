package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	CacheTTL   time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"300s"`
	CacheSweep time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"60s"`

	SyncWorkers        int `env:"SYNC_WORKERS" envDefault:"3"`
	ImportWorkers      int `env:"IMPORT_WORKERS" envDefault:"2"`
	RetryWorkers       int `env:"RETRY_WORKERS" envDefault:"1"`
	AggregationWorkers int `env:"AGGREGATION_WORKERS" envDefault:"2"`

	AdsAPIBaseURL      string `env:"ADS_API_BASE_URL"`
	GTMAPIBaseURL      string `env:"GTM_API_BASE_URL"`
	CustomerAPIBaseURL string `env:"CUSTOMER_API_BASE_URL"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
