package config

import (
	"log/slog"
	"os"

	"github.com/subosito/gotenv"
)

func AppEnv() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	return env
}

// LoadEnv loads config/envs/.env.<env> into the process environment. Variables that are
// already set win over the file.
func LoadEnv(env string) {
	envFile := "config/envs/.env." + env
	if err := gotenv.Load(envFile); err != nil {
		slog.Warn("No .env file found, using OS environment", slog.String("file", envFile))
	}
}
