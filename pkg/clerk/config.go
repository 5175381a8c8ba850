package clerk

import "time"

type Config struct {
	APIURL            string        `env:"CLERK_API_URL" envDefault:"https://api.clerk.com/v1"`
	SecretKey         string        `env:"CLERK_SECRET_KEY"`
	Timeout           time.Duration `env:"CLERK_TIMEOUT" envDefault:"10s"`
	RequestsPerSecond float64       `env:"CLERK_RPS" envDefault:"20"`
}
