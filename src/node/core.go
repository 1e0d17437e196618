package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/mavnode/src/common"
	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/dialect/minimal"
	"github.com/mosaicnetworks/mavnode/src/dispatch"
	"github.com/mosaicnetworks/mavnode/src/frame"
	mnet "github.com/mosaicnetworks/mavnode/src/net"
	"github.com/mosaicnetworks/mavnode/src/peers"
	"github.com/mosaicnetworks/mavnode/src/sign"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	acceptBaseDelay = 5 * time.Millisecond
	acceptMaxDelay  = 1 * time.Second
)

// core is the protocol engine shared by Node and AsyncNode. The two only
// differ in how goroutines are launched and awaited.
type core struct {
	state

	conf     *config.Config
	logger   *logrus.Entry
	clock    clock.Clock
	codec    *frame.Codec
	signer   *sign.Signer
	registry *peers.Registry
	pipeline *Pipeline
	metrics  *metrics
	policy   config.VersionPolicy
	retry    config.RetryMode

	bus        *dispatch.Bus[Event]
	events     *dispatch.Subscription[Event]
	eventsOnce sync.Once

	heartbeat      []byte
	heartbeatTimer *ControlTimer
	sweepTimer     *ControlTimer

	connLock  sync.RWMutex
	conns     map[string]*Connection
	listeners map[mnet.Listener]struct{}
	nextIndex uint64

	ctx    context.Context
	cancel context.CancelFunc
	launch func(func())
	wait   func() error

	shutdownCh chan struct{}
	closeOnce  sync.Once
	closeErr   error
	started    time.Time
}

func newCore(conf *config.Config) (*core, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	policy, _ := conf.VersionPolicy()
	overflow, _ := conf.Policy()
	retry, _ := conf.Retry.RetryMode()

	codec := frame.NewCodec(conf.GetDialect(), conf.AllowUnknown)
	signer, err := conf.Signer(codec)
	if err != nil {
		return nil, common.NewError(common.ConfigurationError, "signer", err)
	}

	hb, err := conf.Heartbeat.Message().MarshalPayload()
	if err != nil {
		return nil, common.NewError(common.ConfigurationError, "heartbeat", err)
	}

	var m *metrics
	if conf.Metrics != nil {
		m, err = newMetrics(conf.Metrics, prometheus.Labels{
			"system":    strconv.Itoa(int(conf.SystemID)),
			"component": strconv.Itoa(int(conf.ComponentID)),
		})
		if err != nil {
			return nil, common.NewError(common.ConfigurationError, "metrics", err)
		}
	}

	logger := conf.Logger().WithFields(logrus.Fields{
		"system":    conf.SystemID,
		"component": conf.ComponentID,
	})

	registry := peers.NewRegistry(conf.Liveness())
	clk := conf.GetClock()

	c := &core{
		conf:       conf,
		logger:     logger,
		clock:      clk,
		codec:      codec,
		signer:     signer,
		registry:   registry,
		metrics:    m,
		policy:     policy,
		retry:      retry,
		heartbeat:  hb,
		conns:      make(map[string]*Connection),
		listeners:  make(map[mnet.Listener]struct{}),
		shutdownCh: make(chan struct{}),
		started:    clk.Now(),
	}

	c.pipeline = &Pipeline{
		codec:       codec,
		signer:      signer,
		registry:    registry,
		clock:       clk,
		policy:      policy,
		systemID:    conf.SystemID,
		componentID: conf.ComponentID,
		metrics:     m,
		logger:      logger,
	}

	c.bus = dispatch.NewBus[Event](conf.QueueCapacity,
		dispatch.WithPolicy[Event](overflow),
		dispatch.WithDropCallback[Event](func(Event) { m.droppedEvent() }),
	)

	return c, nil
}

// defaultEvents returns the default subscription. It is only registered on
// the first call, so an application reading nothing but Subscribe streams
// has no unread queue holding up the bus.
func (c *core) defaultEvents() *dispatch.Subscription[Event] {
	c.eventsOnce.Do(func() {
		c.events = c.bus.Subscribe()
	})
	return c.events
}

// run creates the tickers and launches their loops. The tickers exist when
// run returns, so a mock clock can be advanced right away.
func (c *core) run(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.conf.Heartbeat.Enabled {
		c.heartbeatTimer = NewControlTimer(c.clock, c.conf.Heartbeat.Interval)
		c.runTimer(c.heartbeatTimer, c.emitHeartbeat)
	}

	c.sweepTimer = NewControlTimer(c.clock, c.conf.Sweep())
	c.runTimer(c.sweepTimer, func() {
		c.sweep(c.clock.Now())
	})

	c.logger.WithFields(logrus.Fields{
		"protocol":  c.policy,
		"heartbeat": c.conf.Heartbeat.Enabled,
		"liveness":  c.registry.Timeout(),
		"signing":   c.signer != nil,
	}).Debug("Node started")
}

func (c *core) runTimer(t *ControlTimer, onTick func()) {
	c.launch(t.Run)
	c.launch(func() {
		for {
			select {
			case <-t.tickCh:
				onTick()
			case <-c.shutdownCh:
				return
			}
		}
	})
}

// emitHeartbeat writes one HEARTBEAT to every connection, each on its own
// goroutine so a stalled link cannot delay the others. It returns once every
// write finished or gave up after one interval.
func (c *core) emitHeartbeat() {
	conns, _ := c.targets(All())
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(c.ctx, c.conf.Heartbeat.Interval)
			defer cancel()
			if _, err := c.pipeline.Outbound(ctx, conn, minimal.HeartbeatID, c.heartbeat); err != nil {
				conn.logger.WithError(err).Debug("Heartbeat failed")
				c.failed(conn, err)
			}
		}(conn)
	}
	wg.Wait()
}

func (c *core) sweep(now time.Time) {
	lost := c.registry.Sweep(now)
	if len(lost) == 0 {
		return
	}
	c.metrics.setPeers(c.registry.Len())
	for _, p := range lost {
		c.logger.WithField("peer", p.Key).Debug("Peer timed out")
	}
	c.publishLost(c.ctx, lost)
}

func (c *core) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	if err := c.bus.Publish(ctx, events...); err != nil {
		c.logger.WithError(err).Debug("Events not delivered")
	}
}

func (c *core) publishLost(ctx context.Context, lost []peers.Peer) {
	events := make([]Event, 0, len(lost))
	for _, p := range lost {
		events = append(events, PeerLost{Peer: p})
	}
	c.publish(ctx, events)
}

// serve is the read loop of a connection. It owns the decoder and exits
// when the channel fails or is closed.
func (c *core) serve(conn *Connection) {
	r := frame.NewReader(conn, c.codec)
	cb := Callback{core: c, origin: conn}

	for {
		conn.armIdle(c.conf.IdleTimeout)
		f, err := r.Next()
		if conn.IsClosed() {
			return
		}

		var derr *frame.DecodeError
		switch {
		case err == nil:
			c.publish(c.ctx, c.pipeline.Inbound(conn, f, cb))
		case errors.As(err, &derr):
			c.publish(c.ctx, c.pipeline.Malformed(conn, derr, cb))
		default:
			c.closeConnection(c.ctx, conn, common.NewError(common.ConnectionError, "read", err))
			return
		}
	}
}

// failed records a send error on conn and closes it when the error left
// the stream in an unknown state.
func (c *core) failed(conn *Connection, err error) {
	conn.setLastError(err)
	if common.IsKind(err, common.ConnectionError) {
		c.closeConnection(c.ctx, conn, err)
	}
}

func (c *core) closeConnection(ctx context.Context, conn *Connection, cause error) {
	if !conn.close(cause) {
		return
	}

	c.connLock.Lock()
	delete(c.conns, conn.id)
	n := len(c.conns)
	c.connLock.Unlock()
	c.metrics.setConnections(n)

	lost := c.registry.DropConnection(conn.id)
	c.metrics.setPeers(c.registry.Len())

	entry := conn.logger.WithField("lost_peers", len(lost))
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Debug("Connection closed")

	c.publishLost(ctx, lost)
}

// targets returns the open writable connections selected by scope, in the
// order they were added.
func (c *core) targets(scope Scope) ([]*Connection, error) {
	c.connLock.RLock()
	list := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		if conn.writable && scope.includes(conn.id) && !conn.IsClosed() {
			list = append(list, conn)
		}
	}
	c.connLock.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].index < list[j].index
	})

	if scope.kind == scopeExact && len(list) == 0 {
		return nil, common.NewError(common.DeliveryError, "send", ErrConnectionClosed)
	}
	return list, nil
}

func (c *core) checkRunning(op string) error {
	if c.getState() != Running {
		return common.NewError(common.DeliveryError, op, ErrNodeClosed)
	}
	return nil
}

func (c *core) sendMessage(ctx context.Context, msg frame.Message, scope Scope) error {
	if err := c.checkRunning("send"); err != nil {
		return err
	}
	payload, err := msg.MarshalPayload()
	if err != nil {
		return common.NewError(common.EncodeError, "marshal", err)
	}
	conns, err := c.targets(scope)
	if err != nil {
		return err
	}

	var errs []error
	for _, conn := range conns {
		if _, err := c.pipeline.Outbound(ctx, conn, msg.MessageID(), payload); err != nil {
			c.failed(conn, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *core) forward(ctx context.Context, f frame.Frame, scope Scope) error {
	if err := c.checkRunning("forward"); err != nil {
		return err
	}
	conns, err := c.targets(scope)
	if err != nil {
		return err
	}

	var errs []error
	for _, conn := range conns {
		if _, err := c.pipeline.Forward(ctx, conn, f); err != nil {
			c.failed(conn, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendTo writes msg to the connection key was last heard on.
func (c *core) sendTo(ctx context.Context, key peers.Key, msg frame.Message) error {
	p, ok := c.registry.Get(key)
	if !ok {
		return common.NewError(common.DeliveryError, "send", fmt.Errorf("%w %s", ErrUnknownPeer, key))
	}
	return c.sendMessage(ctx, msg, Exact(p.Connection))
}

// addConnection registers ch and starts its read loop. When e is set the
// connection was dialled from it and is restored according to the retry
// configuration once it drops.
func (c *core) addConnection(ch mnet.ByteChannel, e *mnet.Endpoint) (*Connection, error) {
	version := frame.V2
	if c.policy == config.VersionV1 {
		version = frame.V1
	}
	var limiter *rate.Limiter
	if c.conf.InvalidRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.conf.InvalidRate), c.conf.InvalidBurst)
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.getState() != Running {
		ch.Close()
		return nil, common.NewError(common.ConnectionError, "add", ErrNodeClosed)
	}

	c.nextIndex++
	conn := newConnection(ch, c.nextIndex, c.conf.InitialSequence, version, limiter, c.clock.Now(), c.logger)
	c.conns[conn.id] = conn
	c.metrics.setConnections(len(c.conns))

	// Launched under connLock so Close cannot miss it.
	c.launch(func() { c.serve(conn) })
	if e != nil && c.retry != config.RetryNever && e.Repairable() {
		endpoint := *e
		c.launch(func() { c.redial(endpoint, conn) })
	}

	conn.logger.WithField("info", conn.info).Debug("Connection added")
	return conn, nil
}

func (c *core) addListener(l mnet.Listener) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.getState() != Running {
		l.Close()
		return common.NewError(common.ConnectionError, "listen", ErrNodeClosed)
	}
	c.listeners[l] = struct{}{}
	c.launch(func() { c.accept(l) })

	c.logger.WithField("info", l.Info()).Debug("Listening")
	return nil
}

// accept turns every channel of l into a connection. Transient Accept
// errors are retried with an exponential backoff.
func (c *core) accept(l mnet.Listener) {
	delay := time.Duration(0)
	for {
		ch, err := l.Accept()
		if err != nil {
			select {
			case <-c.shutdownCh:
				return
			default:
			}
			if errors.Is(err, mnet.ErrListenerClosed) {
				c.connLock.Lock()
				delete(c.listeners, l)
				c.connLock.Unlock()
				return
			}

			if delay == 0 {
				delay = acceptBaseDelay
			} else {
				delay *= 2
			}
			if delay > acceptMaxDelay {
				delay = acceptMaxDelay
			}
			c.logger.WithError(err).WithField("retry", delay).Warn("Accept failed")

			select {
			case <-time.After(delay):
			case <-c.shutdownCh:
				return
			}
			continue
		}

		delay = 0
		if _, err := c.addConnection(ch, nil); err != nil {
			return
		}
	}
}

// connect opens an endpoint: listeners feed the accept loop, anything else
// becomes one connection.
func (c *core) connect(endpoint string, timeout time.Duration) error {
	e, err := mnet.ParseEndpoint(endpoint)
	if err != nil {
		return common.NewError(common.ConfigurationError, "connect", err)
	}
	if err := c.checkRunning("connect"); err != nil {
		return err
	}

	if e.IsListener() {
		l, err := e.Listen()
		if err != nil {
			return common.NewError(common.ConnectionError, "listen", err)
		}
		return c.addListener(l)
	}

	ch, err := e.Dial(timeout)
	if err != nil {
		return common.NewError(common.ConnectionError, "dial", err)
	}
	_, err = c.addConnection(ch, &e)
	return err
}

// redial waits for conn to drop, then dials e again every retry interval
// until it succeeds, the attempts run out or the node shuts down. A
// connection closed on request stays closed.
func (c *core) redial(e mnet.Endpoint, conn *Connection) {
	select {
	case <-conn.Done():
	case <-c.shutdownCh:
		return
	}
	if conn.requested.Load() {
		return
	}

	logger := c.logger.WithField("endpoint", e)
	for failures := 0; ; {
		select {
		case <-c.clock.After(c.conf.Retry.Interval):
		case <-c.shutdownCh:
			return
		}

		ch, err := e.Dial(c.conf.ConnectTimeout)
		if err == nil {
			next, err := c.addConnection(ch, &e)
			if err != nil {
				return
			}
			next.logger.WithField("endpoint", e).Info("Reconnected")
			return
		}

		failures++
		entry := logger.WithError(err).WithField("failures", failures)
		if c.retry == config.RetryAttempts && failures >= c.conf.Retry.Attempts {
			entry.Warn("Giving up on endpoint")
			return
		}
		entry.Debug("Dial failed")
	}
}

func (c *core) closeConnectionByID(id string) error {
	c.connLock.RLock()
	conn, ok := c.conns[id]
	c.connLock.RUnlock()
	if !ok {
		return common.NewError(common.DeliveryError, "close", ErrUnknownConnection)
	}
	conn.requested.Store(true)
	c.closeConnection(c.ctx, conn, nil)
	return nil
}

func (c *core) connectionList() []*Connection {
	c.connLock.RLock()
	list := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		list = append(list, conn)
	}
	c.connLock.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].index < list[j].index
	})
	return list
}

func (c *core) connections() []ConnectionStats {
	list := c.connectionList()
	stats := make([]ConnectionStats, len(list))
	for i, conn := range list {
		stats[i] = conn.Stats()
	}
	return stats
}

func (c *core) stats() map[string]string {
	var framesIn, framesOut, invalid, suppressed uint64
	conns := c.connections()
	for _, s := range conns {
		framesIn += s.FramesIn
		framesOut += s.FramesOut
		invalid += s.Invalid
		suppressed += s.Suppressed
	}

	signing := "off"
	if c.signer != nil {
		signing = fmt.Sprintf("in=%s out=%s link=%d",
			c.signer.IncomingStrategy(), c.signer.OutgoingStrategy(), c.signer.LinkID())
	}

	return map[string]string{
		"state":        c.getState().String(),
		"system_id":    strconv.Itoa(int(c.conf.SystemID)),
		"component_id": strconv.Itoa(int(c.conf.ComponentID)),
		"protocol":     c.policy.String(),
		"dialect":      c.codec.Dialect().Name(),
		"signing":      signing,
		"connections":  strconv.Itoa(len(conns)),
		"peers":        strconv.Itoa(c.registry.Len()),
		"frames_in":    strconv.FormatUint(framesIn, 10),
		"frames_out":   strconv.FormatUint(framesOut, 10),
		"invalid":      strconv.FormatUint(invalid, 10),
		"suppressed":   strconv.FormatUint(suppressed, 10),
		"time_elapsed": strconv.FormatFloat(c.clock.Since(c.started).Seconds(), 'f', 2, 64),
	}
}

// close stops the timers and listeners, closes every connection, publishes
// a PeerLost for every remaining peer, then terminates the event bus and
// waits for the goroutines.
func (c *core) close() error {
	c.closeOnce.Do(func() {
		c.connLock.Lock()
		c.setState(Closing)
		listeners := make([]mnet.Listener, 0, len(c.listeners))
		for l := range c.listeners {
			listeners = append(listeners, l)
		}
		c.listeners = make(map[mnet.Listener]struct{})
		c.connLock.Unlock()

		close(c.shutdownCh)
		if c.heartbeatTimer != nil {
			c.heartbeatTimer.Shutdown()
		}
		if c.sweepTimer != nil {
			c.sweepTimer.Shutdown()
		}
		for _, l := range listeners {
			if err := l.Close(); err != nil {
				c.logger.WithError(err).Debug("Closing listener")
			}
		}

		// The final events are delivered even if the root context is
		// already cancelled, within CloseTimeout.
		var (
			closeCtx context.Context
			cancel   context.CancelFunc
		)
		if c.conf.CloseTimeout > 0 {
			closeCtx, cancel = context.WithTimeout(context.WithoutCancel(c.ctx), c.conf.CloseTimeout)
		} else {
			closeCtx, cancel = context.WithCancel(context.WithoutCancel(c.ctx))
		}
		for _, conn := range c.connectionList() {
			c.closeConnection(closeCtx, conn, ErrNodeClosed)
		}
		c.publishLost(closeCtx, c.registry.Clear())
		c.metrics.setPeers(0)
		cancel()

		c.cancel()
		c.bus.Close()
		c.closeErr = c.wait()
		c.setState(Closed)

		c.logger.Debug("Node closed")
	})
	return c.closeErr
}
