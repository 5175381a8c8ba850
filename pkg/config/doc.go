// Package config loads typed configuration structs from the process environment.
//
// Values come from real environment variables, optionally seeded from one or
// more dotenv files through github.com/joho/godotenv, and are parsed into
// structs with github.com/caarlos0/env/v11 field tags:
//
//	type Config struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//		Key  string `env:"STRIPE_SECRET_KEY,required"`
//	}
//
//	cfg, err := config.Load[Config]()
//
// Dotenv files never override variables already present in the environment.
// Each package of the application owns its own Config struct; the entrypoint
// loads them one by one and passes them to constructors.
package config
