package app

import (
	"fmt"

	"github.com/ochronus/goskynet/internal/config"
	"github.com/ochronus/goskynet/skynet"
	"github.com/sirupsen/logrus"
)

// Container centralizes the core dependencies used across the application.
// It is intentionally small and uses interfaces so callers (and tests) can
// substitute implementations easily.
type Container struct {
	Config *config.Config
	Logger *logrus.Logger
	Client skynet.ClientAPI
}

// Option allows customizing the container during construction.
type Option func(*Container) error

// WithLogger overrides the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Container) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.Logger = logger
		return nil
	}
}

// WithClient overrides the default Skynet client.
func WithClient(client skynet.ClientAPI) Option {
	return func(c *Container) error {
		if client == nil {
			return fmt.Errorf("skynet client cannot be nil")
		}
		c.Client = client
		return nil
	}
}

// NewContainer builds a Container with sensible defaults derived from cfg.
// Options can be supplied to override specific dependencies (useful in tests).
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	container := &Container{
		Config: cfg,
		Logger: NewLogger(cfg.Loglevel),
	}

	for _, opt := range opts {
		if err := opt(container); err != nil {
			return nil, err
		}
	}

	if container.Client == nil {
		container.Client = skynet.NewClient(
			skynet.WithPortalURL(cfg.PortalURL),
			skynet.WithAPIKey(cfg.APIKey),
			skynet.WithLogger(container.Logger),
		)
	}

	return container, nil
}

// Close releases the Skynet client's session.
func (c *Container) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// NewLogger builds the text logger used by every command.
func NewLogger(levelStr string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
