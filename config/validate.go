package config

import (
	"fmt"
	"log/slog"
)

// ValidateConfig checks that every identity and the log level parse.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config must not be nil")
	}
	queueAddr, err := c.QueueIdentity()
	if err != nil {
		return err
	}
	solvers, err := c.P2PSolverIdentities()
	if err != nil {
		return err
	}
	for _, s := range solvers {
		if s == queueAddr {
			return fmt.Errorf("P2PSolvers: %s is the queue address", s.Hex())
		}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("LogLevel: %w", err)
	}
	return nil
}
