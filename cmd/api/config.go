package main

import "time"

type appConfig struct {
	Env              string        `env:"APP_ENV" envDefault:"development"`
	Name             string        `env:"APP_NAME" envDefault:"saasbilling"`
	LogLevel         string        `env:"LOG_LEVEL"`
	Provider         string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	CacheBackend     string        `env:"CACHE_BACKEND" envDefault:"redis"`
	MemoryCacheSize  int           `env:"MEMORY_CACHE_SIZE" envDefault:"10000"`
	ReadinessTimeout time.Duration `env:"READINESS_TIMEOUT" envDefault:"3s"`
}
