package config

import (
	"fmt"
	"os"
)

type Config struct {
	DBSource       string
	Port           string
	Env            string
	TokenSecret    string
	GatewayBaseURL string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	// No fallback literals for secrets: a missing value must fail loudly
	// rather than run with a weak default.
	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET environment variable is required")
	}

	gatewayBaseURL := os.Getenv("GATEWAY_BASE_URL")
	if gatewayBaseURL == "" {
		return nil, fmt.Errorf("GATEWAY_BASE_URL environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		DBSource:       dbSource,
		Port:           port,
		Env:            env,
		TokenSecret:    tokenSecret,
		GatewayBaseURL: gatewayBaseURL,
	}, nil
}
