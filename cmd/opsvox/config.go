package main

import (
	"fmt"
	"os"
	"strings"
)

// Config is the process configuration, read from the environment after the
// optional .env load.
type Config struct {
	// FeedURL is the feedback channel endpoint (ws:// or wss://).
	FeedURL string
	// RecordURL is the recording session endpoint.
	RecordURL string
	// TokenVar names the environment variable holding the bearer token.
	TokenVar string

	TeamID string
	RoleID string
}

const defaultTokenVar = "OPSVOX_TOKEN"

func loadConfig() (Config, error) {
	cfg := Config{
		FeedURL:   strings.TrimSpace(os.Getenv("OPSVOX_FEED_URL")),
		RecordURL: strings.TrimSpace(os.Getenv("OPSVOX_RECORD_URL")),
		TokenVar:  strings.TrimSpace(os.Getenv("OPSVOX_TOKEN_VAR")),
		TeamID:    strings.TrimSpace(os.Getenv("OPSVOX_TEAM_ID")),
		RoleID:    strings.TrimSpace(os.Getenv("OPSVOX_ROLE_ID")),
	}
	if cfg.TokenVar == "" {
		cfg.TokenVar = defaultTokenVar
	}
	if cfg.FeedURL == "" {
		return Config{}, fmt.Errorf("OPSVOX_FEED_URL is required")
	}
	if cfg.RecordURL == "" {
		return Config{}, fmt.Errorf("OPSVOX_RECORD_URL is required")
	}
	return cfg, nil
}
