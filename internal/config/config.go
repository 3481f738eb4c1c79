// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	DiscordBotToken string
	DatabasePath    string
	LogLevel        string
	CommandPrefix   string
	DMsPerMinute    int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/bot.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	prefix := strings.TrimSpace(os.Getenv("COMMAND_PREFIX"))
	if prefix == "" {
		prefix = "!hl"
	}

	dmsPerMinute := 6
	if raw := os.Getenv("DMS_PER_MINUTE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid DMS_PER_MINUTE %q", raw)
		}
		dmsPerMinute = n
	}

	return &Config{
		DiscordBotToken: token,
		DatabasePath:    dbPath,
		LogLevel:        logLevel,
		CommandPrefix:   prefix,
		DMsPerMinute:    dmsPerMinute,
	}, nil
}
