/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package seedlink

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/layers"
	"jinr.ru/greenlab/go-slink/pkg/log"
)

const (
	DefaultHost           = "localhost"
	DefaultPort           = "18000"
	DefaultTimeout        = 600 * time.Second
	DefaultReconnectDelay = 30 * time.Second
	DefaultGrace          = 30 * time.Second

	// CheckpointInterval is the minimal interval between periodic state saves
	CheckpointInterval = 120 * time.Second

	idleSleep   = 500 * time.Millisecond
	readPoll    = 10 * time.Millisecond
	dialTimeout = 30 * time.Second
)

type Phase int32

const (
	Down Phase = iota
	Up
	Streaming
)

func (p Phase) String() string {
	switch p {
	case Down:
		return "down"
	case Up:
		return "up"
	case Streaming:
		return "streaming"
	}
	return "unknown"
}

type QueryMode int

const (
	QueryNone QueryMode = iota
	QueryInfo
	QueryKeepalive
)

// Options configures a Connection. Zero Timeout and Keepalive disable them,
// a zero ReconnectDelay reconnects immediately.
type Options struct {
	Name           string
	Address        string
	Resume         bool
	DialUp         bool
	Begin          time.Time
	End            time.Time
	Keepalive      time.Duration
	Timeout        time.Duration
	ReconnectDelay time.Duration
	SendLastTime   bool
	Grace          time.Duration
	StateStore     StateStore
}

func DefaultOptions() Options {
	return Options{
		Address:        DefaultHost + ":" + DefaultPort,
		Resume:         true,
		Timeout:        DefaultTimeout,
		ReconnectDelay: DefaultReconnectDelay,
		Grace:          DefaultGrace,
	}
}

// Status is a point in time view of a connection
type Status struct {
	Name          string
	Address       string
	Phase         Phase
	ServerID      string
	ServerVersion float64
	Organization  string
	Terminating   bool
	Connects      uint64
	Records       uint64
	Dropped       uint64
	Bytes         uint64
	Streams       []Subscription
}

// Connection is a SeedLink client connection. Collect is driven by a single
// goroutine, Terminate, RequestInfo and Status are safe from any goroutine.
type Connection struct {
	opts     Options
	addr     string
	registry *Registry

	mu            sync.Mutex
	conn          net.Conn
	finalized     bool
	serverID      string
	serverVersion float64
	organization  string

	infoMu      sync.Mutex
	infoRequest string
	infoBusy    bool

	// owned by the goroutine calling Collect
	buf            *ReceiveBuffer
	frame          *Frame
	timers         timers
	query          QueryMode
	awaitingInfo   bool
	info           strings.Builder
	lastCheckpoint time.Time

	phase       atomic.Int32
	terminating atomic.Bool
	connects    atomic.Uint64
	records     atomic.Uint64
	dropped     atomic.Uint64
	bytes       atomic.Uint64

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	finalizeOnce sync.Once

	now   func() time.Time
	sleep func(time.Duration)
	dial  func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewConnection validates the options and the registry, it does not connect
func NewConnection(registry *Registry, opts Options) (*Connection, error) {
	addr, err := NormalizeAddress(opts.Address)
	if err != nil {
		return nil, err
	}
	if registry == nil || registry.Len() == 0 {
		return nil, ConfigError{What: "no channels configured"}
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Name == "" {
		opts.Name = addr
	}
	if !opts.End.IsZero() && opts.End.Before(opts.Begin) {
		return nil, ConfigError{What: fmt.Sprintf("end time %s is before begin time %s", opts.End, opts.Begin)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &Connection{
		opts:     opts,
		addr:     addr,
		registry: registry,
		buf:      NewReceiveBuffer(BufferSize, layers.FrameSize),
		frame:    newFrame(),
		timers:   newTimers(opts.Timeout, opts.Keepalive, opts.ReconnectDelay),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		now:      time.Now,
		sleep:    time.Sleep,
		dial:     dialer.DialContext,
	}, nil
}

// NormalizeAddress accepts host:port, host and :port, the defaults are
// localhost and port 18000
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", ConfigError{What: "empty server address"}
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		if strings.HasPrefix(address, "[") && strings.HasSuffix(address, "]") {
			host, port = strings.Trim(address, "[]"), DefaultPort
		} else if !strings.Contains(address, ":") {
			host, port = address, DefaultPort
		} else {
			return "", ConfigError{What: fmt.Sprintf("invalid server address %q", address)}
		}
	}
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
		return "", ConfigError{What: fmt.Sprintf("invalid port in server address %q", address)}
	}
	return net.JoinHostPort(host, port), nil
}

func (c *Connection) Name() string {
	return c.opts.Name
}

func (c *Connection) Address() string {
	return c.addr
}

func (c *Connection) Registry() *Registry {
	return c.registry
}

func (c *Connection) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Connection) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

func (c *Connection) currentConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	s := Status{
		Name:          c.opts.Name,
		Address:       c.addr,
		ServerID:      c.serverID,
		ServerVersion: c.serverVersion,
		Organization:  c.organization,
	}
	c.mu.Unlock()
	s.Phase = c.Phase()
	s.Terminating = c.terminating.Load()
	s.Connects = c.connects.Load()
	s.Records = c.records.Load()
	s.Dropped = c.dropped.Load()
	s.Bytes = c.bytes.Load()
	s.Streams = c.registry.Snapshot()
	return s
}

// Collect returns the next data frame or the final frame of an INFO request.
// It returns an error wrapping ErrTerminate when the connection went down, the
// caller calls Collect again to reconnect unless Terminated reports true.
// ErrServerError is returned once for every ERROR response in the stream.
// Only ConfigError is returned for a connection that can never succeed.
func (c *Connection) Collect(ctx context.Context) (*Frame, error) {
	for {
		if ctx.Err() != nil && !c.terminating.Load() {
			log.Info("[%s] %s, terminating", c.addr, ctx.Err())
			c.terminating.Store(true)
		}
		if c.terminating.Load() {
			c.finalize()
			return nil, terminated(ctx.Err())
		}

		c.timers.update(c.now())

		if c.currentConn() == nil {
			c.setPhase(Down)
		}
		phase := c.Phase()

		if phase == Streaming || (phase == Up && c.awaitingInfo) {
			if c.timers.timeout.expired() {
				log.Warning("[%s] network timeout (%s), reconnecting in %s", c.addr, c.opts.Timeout, c.opts.ReconnectDelay)
				c.disconnect()
				return nil, terminated(ErrNetworkTimeout)
			}
		}

		if phase == Streaming && !c.awaitingInfo {
			if c.timers.keepalive.expired() {
				log.Debug("[%s] sending keepalive request", c.addr)
				if err := c.sendInfo("ID", QueryKeepalive); err != nil {
					var versionErr VersionError
					if !errors.As(err, &versionErr) {
						log.Error("[%s] keepalive: %s", c.addr, err)
						c.disconnect()
						return nil, terminated(err)
					}
					log.Debug("[%s] keepalive not supported: %s", c.addr, err)
				}
				c.timers.keepalive.arm()
			}
			if !c.awaitingInfo {
				if level := c.takeInfoRequest(); level != "" {
					if err := c.sendInfo(level, QueryInfo); err != nil {
						log.Error("[%s] INFO %s: %s", c.addr, level, err)
						c.infoDone()
						c.query = QueryNone
					}
				}
			}
		}

		if phase == Down {
			if c.timers.delay.waiting() {
				c.sleep(idleSleep)
				continue
			}
			if c.timers.delay.expired() {
				if err := c.connect(ctx); err != nil {
					log.Error("[%s] %s, reconnecting in %s", c.addr, err, c.opts.ReconnectDelay)
				} else {
					c.setPhase(Up)
					phase = Up
				}
				c.timers.rearm()
			}
		}

		if phase == Up && !c.awaitingInfo {
			if level := c.takeInfoRequest(); level != "" {
				if err := c.sendInfo(level, QueryInfo); err != nil {
					log.Error("[%s] INFO %s: %s", c.addr, level, err)
					c.infoDone()
					c.query = QueryNone
				}
				c.buf.Reset()
			} else {
				if err := c.configureLink(); err != nil {
					log.Error("[%s] negotiation with remote SeedLink failed: %s", c.addr, err)
					c.disconnect()
					return nil, terminated(err)
				}
				c.buf.Reset()
				c.setPhase(Streaming)
				phase = Streaming
			}
		}

		if phase == Streaming || (phase == Up && c.awaitingInfo) {
			f, err := c.drain()
			if err != nil || f != nil {
				return f, err
			}
			if c.terminating.Load() {
				continue
			}

			c.buf.Compact()
			n, err := c.readAvailable()
			if err != nil {
				log.Error("[%s] %s", c.addr, err)
				c.disconnect()
				return nil, terminated(err)
			}
			if n == 0 {
				c.sleep(idleSleep)
			} else {
				c.bytes.Add(uint64(n))
				c.timers.dataReceived()
			}
		}
	}
}

// drain processes the whole frames in the receive buffer until one of them
// has to be returned to the caller
func (c *Connection) drain() (*Frame, error) {
	for !c.terminating.Load() {
		if err := c.checkControlSignatures(); err != nil {
			return nil, err
		}
		if !c.buf.FrameAvailable() {
			return nil, nil
		}
		f := c.processFrame()
		if f != nil {
			return f, nil
		}
	}
	return nil, nil
}

// checkControlSignatures looks for ERROR and END responses at the head of the buffer
func (c *Connection) checkControlSignatures() error {
	if ok, _ := c.buf.PeekSignature(layers.ErrorSignature); ok {
		log.Error("[%s] server reported an error with the last command", c.addr)
		c.disconnect()
		return ErrServerError
	}
	if ok, _ := c.buf.PeekSignature(layers.EndSignature); ok {
		log.Info("[%s] end of buffer or selected time window", c.addr)
		c.disconnect()
		return terminated(ErrEndOfStream)
	}
	return nil
}

// processFrame consumes one frame and returns it when it is for the caller
func (c *Connection) processFrame() *Frame {
	raw := c.buf.Frame()
	c.buf.ConsumeFrame()

	f := c.frame
	err := f.decode(raw)
	if err != nil && !errors.Is(err, layers.ErrUnsupportedBlockette) {
		log.Warning("[%s] dropping malformed frame: %s", c.addr, err)
		c.dropped.Add(1)
		return nil
	}

	if f.SeedLink.Info {
		return c.processInfo(f)
	}

	if err != nil {
		log.Debug("[%s] %s: %s", c.addr, f.Record.SourceName(), err)
	}
	f.Kind = KindData
	c.records.Add(1)
	c.registry.OnRecordDelivered(f.Key(), f.SeedLink.Seq, f.Record.StartTime)
	c.checkpoint()
	return f
}

func (c *Connection) processInfo(f *Frame) *Frame {
	if !c.awaitingInfo {
		log.Warning("[%s] unexpected INFO frame, dropping", c.addr)
		c.dropped.Add(1)
		return nil
	}
	c.info.WriteString(f.infoChunk())
	if f.SeedLink.More {
		f.Kind = KindInfoPartial
		return nil
	}

	mode := c.query
	c.awaitingInfo = false
	c.query = QueryNone
	if mode == QueryKeepalive {
		f.Kind = KindKeepalive
		log.Debug("[%s] keepalive response received", c.addr)
		c.info.Reset()
		return nil
	}
	c.infoDone()
	f.Kind = KindInfoFinal
	f.Info = c.info.String()
	c.info.Reset()
	return f
}

// checkpoint saves the state at most every CheckpointInterval
func (c *Connection) checkpoint() {
	if c.opts.StateStore == nil {
		return
	}
	now := c.now()
	if c.lastCheckpoint.IsZero() {
		c.lastCheckpoint = now
		return
	}
	if now.Sub(c.lastCheckpoint) < CheckpointInterval {
		return
	}
	c.lastCheckpoint = now
	if err := c.opts.StateStore.Save(c.registry); err != nil {
		log.Warning("[%s] %s", c.addr, err)
	}
}

func (c *Connection) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	log.Debug("[%s] connecting", c.addr)
	conn, err := c.dial(dialCtx, "tcp", c.addr)
	if err != nil {
		return errors.Wrapf(err, "connect to %s", c.addr)
	}

	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		conn.Close()
		return errors.Errorf("connect to %s: connection finalized", c.addr)
	}
	c.conn = conn
	c.mu.Unlock()
	c.connects.Add(1)

	if err := c.hello(); err != nil {
		c.disconnect()
		return err
	}
	return nil
}

// readAvailable reads whatever arrived within readPoll, zero bytes is not an error
func (c *Connection) readAvailable() (int, error) {
	conn := c.currentConn()
	if conn == nil {
		return 0, errors.New("read: not connected")
	}
	if err := conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
		return 0, errors.Wrap(err, "read")
	}
	n, err := c.buf.ReadOnce(conn)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		return n, errors.Wrap(err, "read")
	}
	return n, nil
}

// disconnect closes the socket and resets the state owned by the read loop
func (c *Connection) disconnect() {
	c.closeConn()
	c.setPhase(Down)
	if c.query == QueryInfo {
		c.infoDone()
	}
	c.awaitingInfo = false
	c.query = QueryNone
	c.info.Reset()
	c.buf.Reset()
	c.timers.rearm()
}

// Run calls Collect until the connection is terminated and passes every returned
// frame to handle. A handler error terminates the connection.
func (c *Connection) Run(ctx context.Context, handle func(*Frame) error) error {
	for {
		f, err := c.Collect(ctx)
		switch {
		case err == nil:
			if herr := handle(f); herr != nil {
				log.Error("[%s] %s", c.addr, herr)
				c.Terminate()
			}
		case errors.Is(err, ErrTerminate):
			if c.Terminated() {
				return nil
			}
			if errors.Is(err, ErrEndOfStream) && (c.opts.DialUp || !c.opts.End.IsZero()) {
				c.Terminate()
			}
		case errors.Is(err, ErrServerError):
		default:
			return err
		}
	}
}
