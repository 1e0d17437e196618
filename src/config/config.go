package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/mavnode/src/common"
	"github.com/mosaicnetworks/mavnode/src/dialect/minimal"
	"github.com/mosaicnetworks/mavnode/src/dispatch"
	"github.com/mosaicnetworks/mavnode/src/frame"
	"github.com/mosaicnetworks/mavnode/src/sign"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultSigningKeyfile is the default name of the file containing the
	// hex encoded signing key.
	DefaultSigningKeyfile = "signing_key"

	// DefaultConfigName is the base name of the configuration file.
	DefaultConfigName = "mavnode"
)

// Default configuration values.
const (
	DefaultLogLevel          = "info"
	DefaultSystemID          = 255
	DefaultComponentID       = 190
	DefaultProtocol          = "v2"
	DefaultHeartbeat         = true
	DefaultHeartbeatInterval = 1000 * time.Millisecond
	DefaultLivenessTimeout   = 1200 * time.Millisecond
	DefaultLivenessFactor    = 1.2
	DefaultQueueCapacity     = 1024
	DefaultOverflowPolicy    = "block"
	DefaultConnectTimeout    = 5000 * time.Millisecond
	DefaultCloseTimeout      = 1000 * time.Millisecond
	DefaultServiceAddr       = "127.0.0.1:8000"
	DefaultStrategy          = "sign"
	DefaultRetryMode         = "never"
	DefaultRetryInterval     = 1000 * time.Millisecond
)

// VersionPolicy selects the protocol versions a node speaks.
type VersionPolicy int

const (
	// VersionV2 accepts and sends only v2 frames.
	VersionV2 VersionPolicy = iota
	// VersionV1 accepts and sends only v1 frames.
	VersionV1
	// VersionAuto accepts both. Each connection answers in the version of
	// the last valid frame it received, starting with v2.
	VersionAuto
)

// String ...
func (v VersionPolicy) String() string {
	switch v {
	case VersionV1:
		return "v1"
	case VersionV2:
		return "v2"
	case VersionAuto:
		return "auto"
	default:
		return fmt.Sprintf("version(%d)", int(v))
	}
}

// ParseVersionPolicy ...
func ParseVersionPolicy(s string) (VersionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "v2", "2":
		return VersionV2, nil
	case "v1", "1":
		return VersionV1, nil
	case "auto":
		return VersionAuto, nil
	default:
		return VersionV2, fmt.Errorf("unknown protocol version %q", s)
	}
}

// HeartbeatConfig controls the periodic HEARTBEAT the node announces itself
// with.
type HeartbeatConfig struct {
	// Enabled turns the heartbeat scheduler on.
	Enabled bool `mapstructure:"enabled"`

	// Interval is the period between two heartbeats.
	Interval time.Duration `mapstructure:"interval"`

	// Type, Autopilot, BaseMode, CustomMode and SystemStatus are copied into
	// the HEARTBEAT payload.
	Type         uint8  `mapstructure:"type"`
	Autopilot    uint8  `mapstructure:"autopilot"`
	BaseMode     uint8  `mapstructure:"base-mode"`
	CustomMode   uint32 `mapstructure:"custom-mode"`
	SystemStatus uint8  `mapstructure:"status"`
}

// Message returns the HEARTBEAT announced by the node.
func (h HeartbeatConfig) Message() minimal.Heartbeat {
	return minimal.Heartbeat{
		CustomMode:     h.CustomMode,
		Type:           h.Type,
		Autopilot:      h.Autopilot,
		BaseMode:       h.BaseMode,
		SystemStatus:   h.SystemStatus,
		MavlinkVersion: 3,
	}
}

// RetryMode says whether a dropped outgoing connection is dialled again.
type RetryMode int

const (
	// RetryNever leaves a dropped connection closed.
	RetryNever RetryMode = iota
	// RetryAlways dials again, every interval, until it succeeds.
	RetryAlways
	// RetryAttempts gives up after a number of failed dials in a row.
	RetryAttempts
)

// String ...
func (m RetryMode) String() string {
	switch m {
	case RetryNever:
		return "never"
	case RetryAlways:
		return "always"
	case RetryAttempts:
		return "attempts"
	default:
		return fmt.Sprintf("retry(%d)", int(m))
	}
}

// ParseRetryMode ...
func ParseRetryMode(s string) (RetryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never":
		return RetryNever, nil
	case "always":
		return RetryAlways, nil
	case "attempts":
		return RetryAttempts, nil
	default:
		return RetryNever, fmt.Errorf("unknown retry mode %q", s)
	}
}

// RetryConfig controls how outgoing connections (tcpout, unixout, udpout)
// are restored after they fail. Listeners and connections closed with
// CloseConnection are never dialled again.
type RetryConfig struct {
	// Mode is never, always or attempts.
	Mode string `mapstructure:"mode"`

	// Attempts is the number of failed dials in a row after which the
	// attempts mode gives up. A successful dial resets the count.
	Attempts int `mapstructure:"attempts"`

	// Interval is the pause before each dial.
	Interval time.Duration `mapstructure:"interval"`
}

// RetryMode ...
func (r RetryConfig) RetryMode() (RetryMode, error) {
	return ParseRetryMode(r.Mode)
}

// LinkKey is the key of a remote signing link.
type LinkKey struct {
	LinkID uint8  `mapstructure:"link-id"`
	Key    string `mapstructure:"key"`
}

// SigningConfig controls MAVLink v2 message signing.
type SigningConfig struct {
	// Enabled turns signing and verification on.
	Enabled bool `mapstructure:"enabled"`

	// LinkID is the link id written into outgoing signatures.
	LinkID uint8 `mapstructure:"link-id"`

	// Key is the hex encoded 32 byte secret of LinkID. When empty, the key
	// is derived from Passphrase, or read from the signing_key file in the
	// data directory.
	Key string `mapstructure:"key"`

	// Passphrase ...
	Passphrase string `mapstructure:"passphrase"`

	// Links holds the keys of other links whose signatures are accepted.
	Links []LinkKey `mapstructure:"links"`

	// Incoming and Outgoing are signing strategies (sign, resign, strict,
	// proxy, strip).
	Incoming string `mapstructure:"incoming"`
	Outgoing string `mapstructure:"outgoing"`
}

// Config contains all the configuration properties of a node.
type Config struct {
	// DataDir is the top-level directory containing configuration files.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// SystemID and ComponentID identify this node on the wire. Neither may be
	// zero.
	SystemID    uint8 `mapstructure:"system-id"`
	ComponentID uint8 `mapstructure:"component-id"`

	// Protocol is the version policy: v1, v2 or auto.
	Protocol string `mapstructure:"protocol"`

	// AllowUnknown accepts frames of messages outside the dialect. Their
	// checksum cannot be checked.
	AllowUnknown bool `mapstructure:"allow-unknown"`

	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`

	Signing SigningConfig `mapstructure:"signing"`

	Retry RetryConfig `mapstructure:"retry"`

	// LivenessTimeout is how long a silent peer stays in the registry. When
	// zero it is derived from the heartbeat interval and LivenessFactor, or
	// DefaultLivenessTimeout if heartbeats are disabled.
	LivenessTimeout time.Duration `mapstructure:"liveness-timeout"`

	// LivenessFactor ...
	LivenessFactor float64 `mapstructure:"liveness-factor"`

	// SweepInterval is the period of the inactive peer sweep. Defaults to
	// half the liveness timeout.
	SweepInterval time.Duration `mapstructure:"sweep-interval"`

	// QueueCapacity bounds each event subscriber's queue.
	QueueCapacity int `mapstructure:"queue-capacity"`

	// OverflowPolicy is what a full subscriber queue does: block or
	// drop-oldest.
	OverflowPolicy string `mapstructure:"overflow-policy"`

	// ConnectTimeout bounds dialling outgoing endpoints.
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`

	// IdleTimeout closes a connection that delivered nothing for that long.
	// Zero disables it. Only channels supporting deadlines honour it.
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`

	// CloseTimeout bounds how long Close waits to deliver the final PeerLost
	// events.
	CloseTimeout time.Duration `mapstructure:"close-timeout"`

	// InitialSequence is the first sequence number of every connection.
	InitialSequence uint8 `mapstructure:"initial-sequence"`

	// InvalidRate and InvalidBurst rate limit Invalid events per connection.
	// A zero rate surfaces every Invalid event.
	InvalidRate  float64 `mapstructure:"invalid-rate"`
	InvalidBurst int     `mapstructure:"invalid-burst"`

	// Endpoints are opened when the node starts from the command line.
	Endpoints []string `mapstructure:"endpoints"`

	// NoService disables the HTTP introspection service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP introspection service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Dialect is the message set frames are checked against. Defaults to the
	// minimal dialect.
	Dialect frame.Dialect `mapstructure:"-"`

	// Metrics, when set, receives the node's Prometheus collectors.
	Metrics *prometheus.Registry `mapstructure:"-"`

	// Clock drives heartbeats, sweeps and last-seen times. Defaults to the
	// wall clock.
	Clock clock.Clock `mapstructure:"-"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:     DefaultDataDir(),
		LogLevel:    DefaultLogLevel,
		SystemID:    DefaultSystemID,
		ComponentID: DefaultComponentID,
		Protocol:    DefaultProtocol,
		Heartbeat: HeartbeatConfig{
			Enabled:      DefaultHeartbeat,
			Interval:     DefaultHeartbeatInterval,
			Type:         minimal.TypeGCS,
			Autopilot:    minimal.AutopilotInvalid,
			SystemStatus: minimal.StateActive,
		},
		Signing: SigningConfig{
			Incoming: DefaultStrategy,
			Outgoing: DefaultStrategy,
		},
		Retry: RetryConfig{
			Mode:     DefaultRetryMode,
			Interval: DefaultRetryInterval,
		},
		LivenessFactor: DefaultLivenessFactor,
		QueueCapacity:  DefaultQueueCapacity,
		OverflowPolicy: DefaultOverflowPolicy,
		ConnectTimeout: DefaultConnectTimeout,
		CloseTimeout:   DefaultCloseTimeout,
		ServiceAddr:    DefaultServiceAddr,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	config.logger.Level = level
	return config
}

// SetLogger ...
func (c *Config) SetLogger(l *logrus.Logger) {
	c.logger = l
}

// Logger returns a formatted logrus Entry, with prefix set to "mavnode".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "mavnode")
}

// SigningKeyfile returns the full path of the file containing the signing
// key.
func (c *Config) SigningKeyfile() string {
	return filepath.Join(c.DataDir, DefaultSigningKeyfile)
}

// VersionPolicy parses Protocol.
func (c *Config) VersionPolicy() (VersionPolicy, error) {
	return ParseVersionPolicy(c.Protocol)
}

// Policy parses OverflowPolicy.
func (c *Config) Policy() (dispatch.Policy, error) {
	return dispatch.ParsePolicy(c.OverflowPolicy)
}

// GetDialect returns Dialect or the minimal dialect.
func (c *Config) GetDialect() frame.Dialect {
	if c.Dialect == nil {
		return minimal.Dialect
	}
	return c.Dialect
}

// GetClock returns Clock or the wall clock.
func (c *Config) GetClock() clock.Clock {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c.Clock
}

// Liveness returns the effective liveness timeout.
func (c *Config) Liveness() time.Duration {
	if c.LivenessTimeout > 0 {
		return c.LivenessTimeout
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Interval > 0 {
		factor := c.LivenessFactor
		if factor <= 0 {
			factor = DefaultLivenessFactor
		}
		return time.Duration(float64(c.Heartbeat.Interval) * factor)
	}
	return DefaultLivenessTimeout
}

// Sweep returns the effective sweep interval.
func (c *Config) Sweep() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	d := c.Liveness() / 2
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// SigningKey resolves the key of the node's own link.
func (c *Config) SigningKey() (sign.Key, error) {
	switch {
	case c.Signing.Key != "":
		return sign.ParseKey(c.Signing.Key)
	case c.Signing.Passphrase != "":
		return sign.KeyFromPassphrase(c.Signing.Passphrase), nil
	}
	if c.DataDir != "" {
		b, err := os.ReadFile(c.SigningKeyfile())
		if err == nil {
			return sign.ParseKey(string(b))
		}
		if !os.IsNotExist(err) {
			return sign.Key{}, err
		}
	}
	return sign.Key{}, errors.New("signing is enabled but no key is configured")
}

// Signer builds the signer described by the Signing section, or returns nil
// when signing is disabled.
func (c *Config) Signer(codec *frame.Codec) (*sign.Signer, error) {
	if !c.Signing.Enabled {
		return nil, nil
	}
	key, err := c.SigningKey()
	if err != nil {
		return nil, err
	}
	in, err := sign.ParseStrategy(c.Signing.Incoming)
	if err != nil {
		return nil, err
	}
	out, err := sign.ParseStrategy(c.Signing.Outgoing)
	if err != nil {
		return nil, err
	}
	opts := []sign.Option{sign.WithIncoming(in), sign.WithOutgoing(out)}
	for _, l := range c.Signing.Links {
		k, err := sign.ParseKey(l.Key)
		if err != nil {
			return nil, fmt.Errorf("link %d: %v", l.LinkID, err)
		}
		opts = append(opts, sign.WithLink(l.LinkID, k))
	}
	return sign.New(codec, c.Signing.LinkID, key, opts...), nil
}

// Validate checks the configuration and reports every problem found as a
// single ConfigurationError.
func (c *Config) Validate() error {
	var errs []error

	if c.SystemID == 0 {
		errs = append(errs, errors.New("system id must be non-zero"))
	}
	if c.ComponentID == 0 {
		errs = append(errs, errors.New("component id must be non-zero"))
	}
	policy, err := c.VersionPolicy()
	if err != nil {
		errs = append(errs, err)
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Interval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %v", c.Heartbeat.Interval))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if c.LivenessTimeout < 0 || c.SweepInterval < 0 || c.IdleTimeout < 0 || c.ConnectTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	if mode, err := c.Retry.RetryMode(); err != nil {
		errs = append(errs, err)
	} else if mode != RetryNever {
		if c.Retry.Interval <= 0 {
			errs = append(errs, fmt.Errorf("retry interval must be positive, got %v", c.Retry.Interval))
		}
		if mode == RetryAttempts && c.Retry.Attempts <= 0 {
			errs = append(errs, fmt.Errorf("retry attempts must be positive, got %d", c.Retry.Attempts))
		}
	}
	if c.InvalidRate < 0 || c.InvalidBurst < 0 {
		errs = append(errs, errors.New("invalid-event limits cannot be negative"))
	}
	if c.InvalidRate > 0 && c.InvalidBurst == 0 {
		errs = append(errs, errors.New("invalid-burst must be at least 1 when invalid-rate is set"))
	}
	if c.Signing.Enabled {
		if policy == VersionV1 && err == nil {
			errs = append(errs, errors.New("signing requires protocol v2 or auto"))
		}
		if _, err := c.Signer(frame.NewCodec(c.GetDialect(), c.AllowUnknown)); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return common.NewError(common.ConfigurationError, "validate", errors.Join(errs...))
	}
	return nil
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".MavNode")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "MavNode")
		} else {
			return filepath.Join(home, ".mavnode")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
