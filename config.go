package realtime

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
)

// Config is the immutable construction input of a Client. The zero value of
// every field is usable: NewClient fills missing timeouts with defaults, and
// ReconnectAttempts of 0 disables automatic reconnection.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://api.example.com/realtime.
	URL string `env:"REALTIME_URL"`

	// Token authenticates the application-level handshake.
	Token string `env:"REALTIME_TOKEN"`

	// SessionID identifies the chat session being resumed or started.
	SessionID string `env:"REALTIME_SESSION_ID"`

	// Channels seeds the subscription registry. More channels can be merged
	// later with SubscribeToChannels.
	Channels []string `env:"REALTIME_CHANNELS" envSeparator:","`

	// Debug switches the default logger from noop to stderr line output.
	Debug bool `env:"REALTIME_DEBUG"`

	// ReconnectAttempts bounds retries after a handshake failure or an
	// unexpected close. 0 disables reconnection entirely.
	ReconnectAttempts int `env:"REALTIME_RECONNECT_ATTEMPTS"`

	// ReconnectDelay is the base delay fed to the backoff calculator.
	ReconnectDelay time.Duration `env:"REALTIME_RECONNECT_DELAY"`

	// HeartbeatInterval is the period between keep-alive frames while
	// connected. 0 falls back to the default.
	HeartbeatInterval time.Duration `env:"REALTIME_HEARTBEAT_INTERVAL"`

	// ConnectTimeout bounds transport open plus the auth handshake.
	ConnectTimeout time.Duration `env:"REALTIME_CONNECT_TIMEOUT"`
}

// DefaultConfig returns a config with every tunable at its default. URL, Token
// and SessionID still need to be filled in.
func DefaultConfig() Config {
	return Config{
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ConnectTimeout:    DefaultConnectTimeout,
	}
}

// ConfigFromEnv builds a config from REALTIME_* environment variables on top
// of the defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "cannot parse config from environment")
	}
	return cfg, nil
}

// Validate rejects configs that can never connect.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	return c.validateTunables()
}

// validateTunables checks the numeric fields only. It is the check applied
// when a custom transport factory makes the URL irrelevant.
func (c Config) validateTunables() error {
	if c.ReconnectAttempts < 0 {
		return errors.New("config: ReconnectAttempts must be non-negative")
	}
	if c.ReconnectDelay < 0 {
		return errors.New("config: ReconnectDelay must be non-negative")
	}
	if c.HeartbeatInterval < 0 {
		return errors.New("config: HeartbeatInterval must be non-negative")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("config: ConnectTimeout must be non-negative")
	}
	return nil
}

// withDefaults fills zero-valued timing fields. Reconnect settings are left
// alone: an explicit 0 there is meaningful.
func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}
