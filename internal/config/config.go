package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// DefaultPollInterval is the cadence of a notification stream's loop.
	DefaultPollInterval = time.Second
	// DefaultSettleDelay is how long a new stream waits before its first
	// iteration so it does not race the client's initial page load.
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultKeepAliveInterval is the idle time after which a stream
	// emits a comment record to keep intermediaries from dropping the
	// connection.
	DefaultKeepAliveInterval = 5 * time.Second
	// DefaultDuplicateWindow is how far back a send looks for an
	// identical prior submission from the same author.
	DefaultDuplicateWindow = 3 * time.Second
	// DefaultPageSize bounds message-history queries.
	DefaultPageSize = 25
	// DefaultSessionDuration is the lifetime of a login session.
	DefaultSessionDuration = 24 * time.Hour
	// DefaultMaxUploadSize bounds file attachments.
	DefaultMaxUploadSize = 10 << 20
)

type Config struct {
	ServerAddr        string
	DatabaseDSN       string
	SigningKey        []byte
	AllowedOrigins    []string
	UploadsDir        string
	ManualDelay       time.Duration
	PollInterval      time.Duration
	SettleDelay       time.Duration
	KeepAliveInterval time.Duration
	DuplicateWindow   time.Duration
	PageSize          int
	SessionDuration   time.Duration
	MaxUploadSize     int64
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:        serverAddr,
		DatabaseDSN:       databaseDSN,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		UploadsDir:        "uploads",
		PollInterval:      DefaultPollInterval,
		SettleDelay:       DefaultSettleDelay,
		KeepAliveInterval: DefaultKeepAliveInterval,
		DuplicateWindow:   DefaultDuplicateWindow,
		PageSize:          DefaultPageSize,
		SessionDuration:   DefaultSessionDuration,
		MaxUploadSize:     DefaultMaxUploadSize,
	}, nil
}
