package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all configuration for the application.
type Config struct {
	// Hashtag is the active hashtag scope, including the leading '#'.
	Hashtag string

	// ServiceURL is the PDS/AppView base URL for XRPC calls.
	ServiceURL string

	// SearchURL is the historical post search base URL.
	SearchURL string

	// FirehoseURL is the repo-event subscription WebSocket endpoint.
	FirehoseURL string

	// DataDir is where durable state (thread continuations) lives.
	DataDir string

	// Identifier is the account handle or DID used for posting.
	Identifier string

	// AppPassword authenticates the posting account. Use an App Password.
	AppPassword string
}

// ContinuationDBPath returns the path of the thread continuation database.
func (c *Config) ContinuationDBPath() string {
	return filepath.Join(c.DataDir, "continuations.db")
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	tag := os.Getenv("TAGSTREAM_HASHTAG")
	if tag == "" {
		return nil, fmt.Errorf("TAGSTREAM_HASHTAG is required")
	}
	if tag[0] != '#' {
		tag = "#" + tag
	}

	serviceURL := os.Getenv("TAGSTREAM_SERVICE_URL")
	if serviceURL == "" {
		serviceURL = "https://bsky.social"
	}

	searchURL := os.Getenv("TAGSTREAM_SEARCH_URL")
	if searchURL == "" {
		searchURL = "https://search.bsky.social"
	}

	firehoseURL := os.Getenv("TAGSTREAM_FIREHOSE_URL")
	if firehoseURL == "" {
		firehoseURL = "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos"
	}

	dataDir := os.Getenv("TAGSTREAM_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".tagstream")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &Config{
		Hashtag:     tag,
		ServiceURL:  serviceURL,
		SearchURL:   searchURL,
		FirehoseURL: firehoseURL,
		DataDir:     dataDir,
		Identifier:  os.Getenv("TAGSTREAM_IDENTIFIER"),
		AppPassword: os.Getenv("TAGSTREAM_APP_PASSWORD"),
	}, nil
}
