package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Option tweaks a single Load call.
type Option func(*options)

type options struct {
	files  []string
	prefix string
}

// WithFiles loads the given dotenv files before parsing. Missing files are an error.
func WithFiles(files ...string) Option {
	return func(o *options) {
		o.files = append(o.files, files...)
	}
}

// WithPrefix makes every tag of the target struct resolve to PREFIX+NAME.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// Load parses the environment into a new value of T.
// The default .env file in the working directory is read once per process when it exists.
func Load[T any](opts ...Option) (T, error) {
	var cfg T

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	defaultEnvLoaded.Do(func() {
		if _, err := os.Stat(".env"); err == nil {
			_ = godotenv.Load()
		}
	})

	if len(o.files) > 0 {
		if err := godotenv.Load(o.files...); err != nil {
			return cfg, errors.Join(ErrLoadingDotenv, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: o.prefix}); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}

	return cfg, nil
}

// MustLoad is like Load but panics on failure. Use it in main only.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("config: %T: %v", cfg, err))
	}
	return cfg
}
