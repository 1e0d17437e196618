package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/dialect/minimal"
	"github.com/mosaicnetworks/mavnode/src/node"
	"github.com/mosaicnetworks/mavnode/src/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

//NewRunCmd returns the command that starts a node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNode(cmd *cobra.Command, args []string) error {
	conf := &_config.Node
	logger := conf.Logger()

	if !conf.NoService {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		conf.Metrics = reg
	}

	n, err := node.NewNode(conf)
	if err != nil {
		logger.WithError(err).Error("Cannot initialize node")
		return err
	}
	defer n.Close()

	// Subscribed before any endpoint opens so no event is missed.
	events := n.Events()

	for _, e := range conf.Endpoints {
		if err := n.Connect(e); err != nil {
			logger.WithError(err).WithField("endpoint", e).Error("Cannot open endpoint")
			return err
		}
		logger.WithField("endpoint", e).Info("Opened endpoint")
	}

	if !conf.NoService {
		svc := service.NewService(conf.ServiceAddr, n, conf.Metrics, logger)
		go svc.Serve()
		defer svc.Close(context.Background())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		handleEvents(events, logger)
	}()

	select {
	case <-sigCh:
		logger.Info("Shutting down")
	case <-done:
	}

	return n.Close()
}

func handleEvents(events *node.Events, logger *logrus.Entry) {
	for ev := range events.All() {
		switch e := ev.(type) {
		case node.NewPeer:
			logger.WithField("peer", e.Key()).Info("New peer")
		case node.PeerLost:
			logger.WithField("peer", e.Key()).Info("Peer lost")
		case node.Invalid:
			logger.WithField("kind", e.Kind).WithError(e.Err).Warn("Invalid input")
		case node.FrameReceived:
			logger.WithFields(logrus.Fields{
				"peer":  e.Frame.SystemID(),
				"msg":   e.Frame.MessageID(),
				"seq":   e.Frame.Sequence(),
				"conn":  e.Callback.Connection().ID(),
				"proto": e.Frame.Version(),
			}).Debug("Frame")

			if _config.Pong && minimal.IsPing(e.Frame) {
				respondPing(e, logger)
			}
		}
	}
}

func respondPing(e node.FrameReceived, logger *logrus.Entry) {
	p, err := minimal.DecodePing(e.Frame.Payload())
	if err != nil || !p.IsRequest() {
		return
	}
	reply := p.Reply(e.Frame.SystemID(), e.Frame.ComponentID())
	if err := e.Callback.Respond(context.Background(), reply); err != nil {
		logger.WithError(err).Debug("Answering ping")
	}
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	c := &_config.Node

	cmd.Flags().String("datadir", c.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", c.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write logs to this file")

	// Identity and protocol
	cmd.Flags().Uint8("system-id", c.SystemID, "System id of this node")
	cmd.Flags().Uint8("component-id", c.ComponentID, "Component id of this node")
	cmd.Flags().String("protocol", c.Protocol, "Protocol version: v1, v2 or auto")
	cmd.Flags().String("dialect", _config.Dialect, "Message set: minimal or minimal+ping")
	cmd.Flags().Bool("allow-unknown", c.AllowUnknown, "Accept messages outside the dialect")
	cmd.Flags().Uint8("initial-sequence", c.InitialSequence, "First sequence number of every connection")

	// Endpoints
	cmd.Flags().StringSliceP("endpoints", "e", c.Endpoints, "Endpoints to open, e.g. tcpin:0.0.0.0:5760,udpout:127.0.0.1:14550")
	cmd.Flags().Duration("connect-timeout", c.ConnectTimeout, "Timeout for outgoing connections")
	cmd.Flags().Duration("idle-timeout", c.IdleTimeout, "Close connections silent for this long (0 disables)")
	cmd.Flags().Duration("close-timeout", c.CloseTimeout, "Time allowed to deliver the final events on shutdown")
	cmd.Flags().String("retry.mode", c.Retry.Mode, "Redial dropped outgoing endpoints: never, always or attempts")
	cmd.Flags().Int("retry.attempts", c.Retry.Attempts, "Failed dials in a row before giving up (attempts mode)")
	cmd.Flags().Duration("retry.interval", c.Retry.Interval, "Pause before each redial")

	// Heartbeat and liveness
	cmd.Flags().Bool("heartbeat.enabled", c.Heartbeat.Enabled, "Send heartbeats")
	cmd.Flags().Duration("heartbeat.interval", c.Heartbeat.Interval, "Time between heartbeats")
	cmd.Flags().Uint8("heartbeat.type", c.Heartbeat.Type, "MAV_TYPE announced in heartbeats")
	cmd.Flags().Uint8("heartbeat.autopilot", c.Heartbeat.Autopilot, "MAV_AUTOPILOT announced in heartbeats")
	cmd.Flags().Uint8("heartbeat.status", c.Heartbeat.SystemStatus, "MAV_STATE announced in heartbeats")
	cmd.Flags().Duration("liveness-timeout", c.LivenessTimeout, "Time after which a silent peer is lost (0 derives it from the heartbeat)")
	cmd.Flags().Float64("liveness-factor", c.LivenessFactor, "Liveness timeout as a multiple of the heartbeat interval")
	cmd.Flags().Duration("sweep-interval", c.SweepInterval, "Time between two inactive peer sweeps")

	// Signing
	cmd.Flags().Bool("signing.enabled", c.Signing.Enabled, "Sign and verify frames")
	cmd.Flags().Uint8("signing.link-id", c.Signing.LinkID, "Link id of outgoing signatures")
	cmd.Flags().String("signing.key", c.Signing.Key, "Hex encoded signing key (default: [datadir]/signing_key)")
	cmd.Flags().String("signing.passphrase", c.Signing.Passphrase, "Derive the signing key from a passphrase")
	cmd.Flags().String("signing.incoming", c.Signing.Incoming, "Incoming strategy: sign, resign, strict, proxy, strip")
	cmd.Flags().String("signing.outgoing", c.Signing.Outgoing, "Outgoing strategy: sign, resign, strict, proxy, strip")

	// Events
	cmd.Flags().Int("queue-capacity", c.QueueCapacity, "Events queued per subscriber")
	cmd.Flags().String("overflow-policy", c.OverflowPolicy, "Full queue behaviour: block or drop-oldest")
	cmd.Flags().Float64("invalid-rate", c.InvalidRate, "Invalid events per second and connection (0 reports all)")
	cmd.Flags().Int("invalid-burst", c.InvalidBurst, "Burst of Invalid events allowed above the rate")
	cmd.Flags().Bool("pong", _config.Pong, "Answer PING requests")

	// Service
	cmd.Flags().Bool("no-service", c.NoService, "Disable the HTTP service")
	cmd.Flags().StringP("service-listen", "s", c.ServiceAddr, "Listen IP:Port for HTTP service")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	d, err := _config.dialect()
	if err != nil {
		return err
	}
	_config.Node.Dialect = d

	_config.Node.SetLogger(newLogger())

	_config.Node.Logger().WithFields(logrus.Fields{
		"DataDir":         _config.Node.DataDir,
		"LogLevel":        _config.Node.LogLevel,
		"SystemID":        _config.Node.SystemID,
		"ComponentID":     _config.Node.ComponentID,
		"Protocol":        _config.Node.Protocol,
		"Dialect":         d.Name(),
		"Endpoints":       _config.Node.Endpoints,
		"Retry":           _config.Node.Retry.Mode,
		"Heartbeat":       _config.Node.Heartbeat.Enabled,
		"HeartbeatPeriod": _config.Node.Heartbeat.Interval,
		"Liveness":        _config.Node.Liveness(),
		"Signing":         _config.Node.Signing.Enabled,
		"QueueCapacity":   _config.Node.QueueCapacity,
		"OverflowPolicy":  _config.Node.OverflowPolicy,
		"ServiceAddr":     _config.Node.ServiceAddr,
		"NoService":       _config.Node.NoService,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/mavnode.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigName)
	viper.AddConfigPath(_config.Node.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Node.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Node.Logger().Debugf("No config file found in: %s", _config.Node.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// newLogger attaches a file hook for every level when --log-file is set.
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Level = config.LogLevel(_config.Node.LogLevel)
	logger.Formatter = new(prefixed.TextFormatter)

	if _config.LogFile != "" {
		pathMap := lfshook.PathMap{}
		for _, level := range logrus.AllLevels {
			pathMap[level] = _config.LogFile
		}
		logger.Hooks.Add(lfshook.NewHook(
			pathMap,
			&logrus.TextFormatter{},
		))
	}

	return logger
}
