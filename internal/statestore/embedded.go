package statestore

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures the in-process NATS server used when no
// external cluster is available.
type EmbeddedConfig struct {
	// Host and Port bind the listener. Port -1 picks a random port.
	Host string
	Port int

	// StoreDir is the JetStream storage directory. Empty means
	// in-memory only.
	StoreDir string

	// ReadyTimeout bounds startup.
	ReadyTimeout time.Duration
}

// DefaultEmbeddedConfig returns the reference configuration.
func DefaultEmbeddedConfig() *EmbeddedConfig {
	return &EmbeddedConfig{
		Host:         "127.0.0.1",
		Port:         -1,
		ReadyTimeout: 5 * time.Second,
	}
}

// StartEmbedded runs an in-process NATS server with JetStream enabled
// and waits until it accepts connections. The caller owns shutdown.
func StartEmbedded(cfg *EmbeddedConfig) (*natsserver.Server, error) {
	if cfg == nil {
		cfg = DefaultEmbeddedConfig()
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	opts := &natsserver.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(cfg.ReadyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready after %s", cfg.ReadyTimeout)
	}

	return srv, nil
}
