package main

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/CrowderSoup/kanban-sync/services"
)

// Config is the server configuration, read from the environment after an
// optional .env file has been loaded.
type Config struct {
	Port         string
	DatabasePath string
	JWTSecret    string
	RedisURL     string
	CORSOrigins  []string
	Debug        bool
	SMTP         services.SMTPConfig
}

// loadConfig loads filename into the environment, if it exists, and reads
// the configuration. Variables already set win over the file.
func loadConfig(filename string) (Config, error) {
	if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	debug, _ := strconv.ParseBool(os.Getenv("DEBUG"))
	return Config{
		Port:         getenv("PORT", "3001"),
		DatabasePath: getenv("DATABASE_PATH", "./kanban.db"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		RedisURL:     os.Getenv("REDIS_URL"),
		CORSOrigins:  strings.Split(getenv("CORS_ORIGINS", "*"), ","),
		Debug:        debug,
		SMTP: services.SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getenv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
