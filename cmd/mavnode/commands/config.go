package commands

import (
	"fmt"
	"strings"

	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/dialect/minimal"
	"github.com/mosaicnetworks/mavnode/src/frame"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Node    config.Config `mapstructure:",squash"`
	Dialect string        `mapstructure:"dialect"`
	LogFile string        `mapstructure:"log-file"`
	Pong    bool          `mapstructure:"pong"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Node:    *config.NewDefaultConfig(),
		Dialect: "minimal+ping",
		Pong:    true,
	}
}

// dialect resolves the --dialect flag.
func (c *CLIConfig) dialect() (frame.Dialect, error) {
	switch strings.ToLower(c.Dialect) {
	case "", "minimal+ping", "ping":
		return minimal.WithPing, nil
	case "minimal":
		return minimal.Dialect, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", c.Dialect)
	}
}
