package config

import "errors"

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into the config struct.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrLoadingDotenv is returned when an explicitly requested dotenv file cannot be read.
	ErrLoadingDotenv = errors.New("failed to load dotenv file")
)
