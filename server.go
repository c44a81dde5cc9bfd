// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package stomp provides a STOMP 1.0, 1.1 and 1.2 broker server, routing frames sent
// to a destination to every session subscribed to it.
package stomp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/hooks/storage"
	"github.com/mochi-mqtt/stomp/listeners"
	"github.com/mochi-mqtt/stomp/session"
	"github.com/mochi-mqtt/stomp/system"
)

const (
	Version                      = "1.0.0"       // the current server version.
	ServerName                   = "StompBroker" // the name sent in the server header of CONNECTED frames.
	SysPrefix                    = "$SYS"        // the prefix of the system info destinations.
	LocalListener                = "local"       // the listener id of sessions accepted directly.
	defaultSysInfoInterval int64 = 1             // the interval between $SYS destination publishes
)

var (
	ErrListenerIDExists    = errors.New("listener id already exists")        // a listener with the same id already exists
	ErrConnectionClosed    = errors.New("connection not open")               // connection is closed
	ErrDestinationRequired = errors.New("a destination must be provided")    // publish was called without a destination
	ErrAccessDenied        = errors.New("destination access denied")         // an acl check refused a destination
	ErrOptionsUnreadable   = errors.New("unable to read options from bytes") // options could not be decoded

	ErrNotAuthorized      = frames.NewError("Access refused", "Bad login or passcode")                    // no hook authenticated the session
	ErrServerBusy         = frames.NewError("Server busy", "The maximum number of sessions is connected") // the session limit was reached
	ErrServerShuttingDown = frames.NewError("Server shutting down", "")                                   // the server is closing
)

// Capabilities indicates the capabilities and features provided by the server.
type Capabilities struct {
	MaximumSessions    int64           `yaml:"maximum_sessions" json:"maximum_sessions"`         // maximum number of connected sessions
	MaximumBufferSize  int             `yaml:"maximum_buffer_size" json:"maximum_buffer_size"`   // maximum unconsumed bytes per connection, negative for no limit
	ConnectTimeout     int64           `yaml:"connect_timeout" json:"connect_timeout"`           // milliseconds to wait for the first frame, 0 to wait forever
	NewlineFloodWindow int64           `yaml:"newline_flood_window" json:"newline_flood_window"` // milliseconds after which the line break counter resets
	NewlineFloodLimit  int             `yaml:"newline_flood_limit" json:"newline_flood_limit"`   // line breaks allowed inside one window, negative for no limit
	HeartbeatOutgoing  int64           `yaml:"heartbeat_outgoing" json:"heartbeat_outgoing"`     // milliseconds between heartbeats the server offers to send
	HeartbeatIncoming  int64           `yaml:"heartbeat_incoming" json:"heartbeat_incoming"`     // milliseconds between heartbeats the server wants to receive
	FanPoolSize        uint64          `yaml:"fan_pool_size" json:"fan_pool_size"`               // number of message delivery workers
	FanPoolQueueSize   uint64          `yaml:"fan_pool_queue_size" json:"fan_pool_queue_size"`   // pending deliveries per worker before messages are dropped
	Compatibilities    Compatibilities `yaml:"compatibilities" json:"compatibilities"`           // version compatibilities the server provides
}

// NewDefaultServerCapabilities defines the default features and capabilities provided by the server.
func NewDefaultServerCapabilities() *Capabilities {
	return &Capabilities{
		MaximumSessions:    math.MaxInt64,                   // maximum number of connected sessions
		MaximumBufferSize:  frames.DefaultMaximumBufferSize, // maximum unconsumed bytes per connection
		ConnectTimeout:     10 * 1000,                       // 10 seconds to send CONNECT
		NewlineFloodWindow: 1000,                            // reset the line break counter every second
		NewlineFloodLimit:  frames.DefaultNewlineFloodLimit, // line breaks allowed per window
		HeartbeatOutgoing:  0,                               // no heartbeats offered
		HeartbeatIncoming:  0,                               // no heartbeats required
		FanPoolSize:        32,                              // message delivery workers
		FanPoolQueueSize:   1024,                            // pending deliveries per worker
	}
}

// Compatibilities provides flags for using compatibility modes.
type Compatibilities struct {
	RestoreSysInfoOnRestart bool `yaml:"restore_sys_info_on_restart" json:"restore_sys_info_on_restart"` // restore system info from store as if server never stopped
}

// Options contains configurable options for the server.
type Options struct {
	// Listeners specifies any listeners which should be dynamically added on serve. Used when setting listeners by config.
	Listeners []listeners.Config `yaml:"listeners" json:"listeners"`

	// Hooks specifies any hooks which should be dynamically added on serve. Used when setting hooks by config.
	Hooks []HookLoadConfig `yaml:"hooks" json:"hooks"`

	// Capabilities defines the server features and behaviour. If you only wish to modify
	// several of these values, set them explicitly - e.g.
	// 	server.Options.Capabilities.MaximumSessions = 1024
	Capabilities *Capabilities `yaml:"capabilities" json:"capabilities"`

	// Logger specifies a custom configured implementation of log/slog to override
	// the servers default logger configuration.
	Logger *slog.Logger `yaml:"-" json:"-"`

	// SysInfoInterval specifies the interval between $SYS destination updates in seconds.
	SysInfoInterval int64 `yaml:"sys_info_interval" json:"sys_info_interval"`

	// HeaderFilter, if set, is applied to every frame sent to a session. Headers with keys
	// for which it returns false are not written.
	HeaderFilter func(key string) bool `yaml:"-" json:"-"`
}

// Server is a STOMP broker server. It should be created with server.New()
// in order to ensure all the internal fields are correctly populated.
type Server struct {
	Options       *Options             // configurable server options
	Listeners     *listeners.Listeners // listeners are network interfaces which listen for new connections
	Clients       *Clients             // sessions known to the broker
	Subscriptions *Subscriptions       // an index of subscriptions by session and by destination
	Info          *system.Info         // values about the server commonly known as $SYS destinations
	Log           *slog.Logger         // minimal no-alloc logger
	loop          *loop                // loop contains tickers for the system event loop
	done          chan bool            // indicate that the server is ending
	hooks         *Hooks               // hooks contains hooks for extra functionality such as auth and persistent storage
	fanpool       *FanPool             // delivers MESSAGE frames to sessions in order, per session
	nextID        atomic.Uint64        // the last session id issued
}

// loop contains interval tickers for the system events loop.
type loop struct {
	sysInfo *time.Ticker // interval ticker for sending updating $SYS destinations
}

// New returns a new instance of the broker. Optional parameters
// can be specified to override some default settings (see Options).
func New(opts *Options) *Server {
	if opts == nil {
		opts = new(Options)
	}

	opts.ensureDefaults()

	s := &Server{
		done:          make(chan bool),
		Clients:       NewClients(),
		Subscriptions: NewSubscriptions(),
		Listeners:     listeners.New(),
		loop: &loop{
			sysInfo: time.NewTicker(time.Second * time.Duration(opts.SysInfoInterval)),
		},
		Options: opts,
		Info: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		Log: opts.Logger,
		hooks: &Hooks{
			Log: opts.Logger,
		},
		fanpool: NewFanPool(opts.Capabilities.FanPoolSize, opts.Capabilities.FanPoolQueueSize),
	}

	return s
}

// ensureDefaults ensures that the server starts with sane default values, if none are provided.
func (o *Options) ensureDefaults() {
	if o.Capabilities == nil {
		o.Capabilities = NewDefaultServerCapabilities()
	}

	if o.Capabilities.MaximumSessions == 0 {
		o.Capabilities.MaximumSessions = math.MaxInt64
	}

	if o.Capabilities.FanPoolSize == 0 {
		o.Capabilities.FanPoolSize = 32
	}

	if o.Capabilities.FanPoolQueueSize == 0 {
		o.Capabilities.FanPoolQueueSize = 1024
	}

	if o.SysInfoInterval == 0 {
		o.SysInfoInterval = defaultSysInfoInterval
	}

	if o.Logger == nil {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		o.Logger = log
	}
}

// AddHook attaches a new Hook to the server. Ideally, this should be called
// before the server is started with s.Serve().
func (s *Server) AddHook(hook Hook, config any) error {
	nl := s.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		Capabilities: s.Options.Capabilities,
	})

	s.Log.Info("added hook", "hook", hook.ID())
	return s.hooks.Add(hook, config)
}

// AddHooksFromConfig adds hooks to the server which were specified in the hooks config (usually from a config file).
func (s *Server) AddHooksFromConfig(hooks []HookLoadConfig) error {
	for _, h := range hooks {
		if err := s.AddHook(h.Hook, h.Config); err != nil {
			return err
		}
	}
	return nil
}

// AddListener adds a new network listener to the server, for receiving incoming client connections.
func (s *Server) AddListener(l listeners.Listener) error {
	if _, ok := s.Listeners.Get(l.ID()); ok {
		return ErrListenerIDExists
	}

	nl := s.Log.With(slog.String("listener", l.ID()))
	err := l.Init(nl)
	if err != nil {
		return err
	}

	s.Listeners.Add(l)

	s.Log.Info("attached listener", "id", l.ID(), "protocol", l.Protocol(), "address", l.Address())
	return nil
}

// AddListenersFromConfig adds listeners to the server which were specified in the listeners config (usually from a config file).
// New built-in listeners should be added to this list.
func (s *Server) AddListenersFromConfig(configs []listeners.Config) error {
	for _, conf := range configs {
		var l listeners.Listener
		switch strings.ToLower(conf.Type) {
		case listeners.TypeTCP:
			l = listeners.NewTCP(conf)
		case listeners.TypeWS:
			l = listeners.NewWebsocket(conf)
		case listeners.TypeUnix:
			l = listeners.NewUnixSock(conf)
		case listeners.TypeHealthCheck:
			l = listeners.NewHTTPHealthCheck(conf)
		case listeners.TypeSysInfo:
			l = listeners.NewHTTPStats(conf, s.Info)
		case listeners.TypeMetrics:
			l = listeners.NewHTTPMetrics(conf, s.Info)
		case listeners.TypeMock:
			l = listeners.NewMockListener(conf.ID, conf.Address)
		default:
			s.Log.Error("listener type unavailable by config", "listener", conf.Type)
			continue
		}
		if err := s.AddListener(l); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the event loops responsible for establishing client connections
// on all attached listeners, publishing the system destinations, and starting all hooks.
func (s *Server) Serve() error {
	s.Log.Info("stomp broker starting", "version", Version)
	defer s.Log.Info("stomp broker started")

	if len(s.Options.Listeners) > 0 {
		err := s.AddListenersFromConfig(s.Options.Listeners)
		if err != nil {
			return err
		}
	}

	if len(s.Options.Hooks) > 0 {
		err := s.AddHooksFromConfig(s.Options.Hooks)
		if err != nil {
			return err
		}
	}

	if s.hooks.Provides(StoredSessions, StoredSysInfo) {
		err := s.readStore()
		if err != nil {
			return err
		}
	}

	go s.eventLoop()                            // spin up event loop for issuing $SYS values and closing server.
	s.Listeners.ServeAll(s.EstablishConnection) // start listening on all listeners.
	s.publishSysTopics()                        // begin publishing $SYS system values.
	s.hooks.OnStarted()

	return nil
}

// eventLoop loops forever, running various server housekeeping methods at different intervals.
func (s *Server) eventLoop() {
	s.Log.Debug("system event loop started")
	defer s.Log.Debug("system event loop halted")

	for {
		select {
		case <-s.done:
			s.loop.sysInfo.Stop()
			return
		case <-s.loop.sysInfo.C:
			s.publishSysTopics()
		}
	}
}

// EstablishConnection establishes a new session when a listener accepts a new connection,
// and reads from the connection until it ends.
func (s *Server) EstablishConnection(listener string, c net.Conn) error {
	defer s.Listeners.ClientsWg.Done()
	s.Listeners.ClientsWg.Add(1)

	var remote string
	if addr := c.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	cl := s.Accept(listener, session.NewConnTransport(c), remote)
	err := session.Pump(c, cl.Session)
	s.Log.Debug("session ended", "error", err, "session", cl.ID, "remote", cl.Net.Remote, "listener", listener)
	return err
}

// Accept binds a new session to a transport and registers it with the broker. The
// returned client is fed the bytes read from the connection via its Session.
func (s *Server) Accept(listener string, t frames.Transport, remote string) *Client {
	cl := &Client{
		ID: strconv.FormatUint(s.nextID.Add(1), 10),
		Net: ClientConnection{
			Remote:   remote,
			Listener: listener,
		},
	}

	session.NewServerSession(cl.ID, t, func(ss *session.ServerSession) session.ClientCommandListener {
		cl.Session = ss
		return &brokerListener{s: s, cl: cl}
	}, s.sessionOptions(cl))

	s.Clients.Add(cl)
	atomic.AddInt64(&s.Info.ClientsTotal, 1)

	return cl
}

// sessionOptions returns the session configuration derived from the server capabilities.
func (s *Server) sessionOptions(cl *Client) *session.Options {
	caps := s.Options.Capabilities
	return &session.Options{
		Codec: frames.Options{
			MaximumBufferSize:  caps.MaximumBufferSize,
			ConnectTimeout:     time.Duration(caps.ConnectTimeout) * time.Millisecond,
			NewlineFloodWindow: time.Duration(caps.NewlineFloodWindow) * time.Millisecond,
			NewlineFloodLimit:  caps.NewlineFloodLimit,
			HeaderFilter:       s.Options.HeaderFilter,
		},
		Heartbeat: session.HeartbeatOptions{
			Outgoing: time.Duration(caps.HeartbeatOutgoing) * time.Millisecond,
			Incoming: time.Duration(caps.HeartbeatIncoming) * time.Millisecond,
		},
		Observers: []frames.Observer{&clientObserver{s: s, cl: cl}},
		OnFault: func(err error) {
			s.hooks.OnSessionError(cl, err)
		},
		Logger: s.Log.With("listener", cl.Net.Listener),
	}
}

// Publish sends a message to every session subscribed to a destination, as if it
// had been sent by a session.
func (s *Server) Publish(destination string, headers frames.Headers, body []byte) error {
	if destination == "" {
		return ErrDestinationRequired
	}

	f := &frames.Frame{
		Command: frames.Send,
		Headers: headers.Clone(),
		Body:    body,
	}
	f.Headers.Set(frames.HeaderDestination, destination)

	s.publishToSubscribers(f)
	return nil
}

// publishToSubscribers queues a message for every subscription on its destination.
// All the copies share one message-id.
func (s *Server) publishToSubscribers(f *frames.Frame) {
	id := xid.New().String()
	s.Subscriptions.ForDestination(f.Headers.Get(frames.HeaderDestination), func(sessionID string, sub *Subscription) bool {
		cl, ok := s.Clients.Get(sessionID)
		if !ok || cl.Closed() {
			return true
		}

		s.publishToClient(cl, sub, id, f)
		return true
	})
}

// publishToClient queues a MESSAGE frame for a single subscription. If the delivery
// queue of the session is full, the message is dropped.
func (s *Server) publishToClient(cl *Client, sub *Subscription, id string, f *frames.Frame) {
	headers := messageHeaders(f, sub, id, cl.Session.Version())
	ok := s.fanpool.TryEnqueue(cl.ID, func() {
		if err := cl.Session.Message(headers, f.Body); err != nil {
			s.Log.Debug("failed delivering message", "error", err, "session", cl.ID, "subscription", sub.ID)
			return
		}
		atomic.AddInt64(&s.Info.MessagesSent, 1)
	})

	if !ok {
		atomic.AddInt64(&s.Info.MessagesDropped, 1)
		s.hooks.OnMessageDropped(cl, sub, f)
		s.Log.Warn("message dropped", "session", cl.ID, "subscription", sub.ID, "destination", sub.Destination)
	}
}

// messageHeaders returns the headers of a MESSAGE frame delivering f on a subscription.
// Headers which only concern the sender are removed.
func messageHeaders(f *frames.Frame, sub *Subscription, id, version string) frames.Headers {
	h := f.Headers.Clone()
	h.Del(frames.HeaderReceipt)
	h.Del(frames.HeaderTransaction)
	h.Del(frames.HeaderContentLength)
	h.Set(frames.HeaderDestination, sub.Destination)
	h.Set(frames.HeaderMessageID, id)
	h.Set(frames.HeaderSubscription, sub.ID)
	if version == session.Version12 && sub.Ack != AckAuto {
		h.Set(frames.HeaderAck, id)
	}
	return h
}

// publishSysTopics publishes the current values to the server $SYS destinations.
// Due to the int to string conversions this method is not as cheap as
// some of the others so the publishing interval should be set appropriately.
func (s *Server) publishSysTopics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	atomic.StoreInt64(&s.Info.MemoryAlloc, int64(m.HeapInuse))
	atomic.StoreInt64(&s.Info.Threads, int64(runtime.NumGoroutine()))
	atomic.StoreInt64(&s.Info.Time, time.Now().Unix())
	atomic.StoreInt64(&s.Info.Uptime, time.Now().Unix()-atomic.LoadInt64(&s.Info.Started))
	atomic.StoreInt64(&s.Info.ClientsDisconnected, atomic.LoadInt64(&s.Info.ClientsTotal)-atomic.LoadInt64(&s.Info.ClientsConnected))

	info := s.Info.Clone()
	topics := map[string]string{
		SysPrefix + "/broker/version":              s.Info.Version,
		SysPrefix + "/broker/time":                 Int64toa(info.Time),
		SysPrefix + "/broker/uptime":               Int64toa(info.Uptime),
		SysPrefix + "/broker/started":              Int64toa(info.Started),
		SysPrefix + "/broker/load/bytes/received":  Int64toa(info.BytesReceived),
		SysPrefix + "/broker/load/bytes/sent":      Int64toa(info.BytesSent),
		SysPrefix + "/broker/clients/connected":    Int64toa(info.ClientsConnected),
		SysPrefix + "/broker/clients/disconnected": Int64toa(info.ClientsDisconnected),
		SysPrefix + "/broker/clients/maximum":      Int64toa(info.ClientsMaximum),
		SysPrefix + "/broker/clients/total":        Int64toa(info.ClientsTotal),
		SysPrefix + "/broker/frames/received":      Int64toa(info.FramesReceived),
		SysPrefix + "/broker/frames/sent":          Int64toa(info.FramesSent),
		SysPrefix + "/broker/messages/received":    Int64toa(info.MessagesReceived),
		SysPrefix + "/broker/messages/sent":        Int64toa(info.MessagesSent),
		SysPrefix + "/broker/messages/dropped":     Int64toa(info.MessagesDropped),
		SysPrefix + "/broker/subscriptions":        Int64toa(info.Subscriptions),
		SysPrefix + "/broker/transactions":         Int64toa(info.Transactions),
		SysPrefix + "/broker/errors":               Int64toa(info.ProtocolErrors),
		SysPrefix + "/broker/system/memory":        Int64toa(info.MemoryAlloc),
		SysPrefix + "/broker/system/threads":       Int64toa(info.Threads),
	}

	for destination, payload := range topics {
		s.publishToSubscribers(&frames.Frame{
			Command: frames.Send,
			Headers: frames.NewHeaders(
				frames.HeaderDestination, destination,
				frames.HeaderContentType, "text/plain",
			),
			Body: []byte(payload),
		})
	}

	s.hooks.OnSysInfoTick(info)
}

// Close attempts to gracefully shut down the server, all listeners, clients, and stores.
func (s *Server) Close() error {
	close(s.done)
	s.Log.Info("gracefully stopping server")
	s.Listeners.CloseAll(s.closeListenerClients)
	s.fanpool.Close()
	s.fanpool.Wait()
	s.hooks.OnStopped()
	s.hooks.Stop()

	s.Log.Info("stomp broker stopped")
	return nil
}

// closeListenerClients sends an ERROR frame to all sessions on the specified listener,
// which closes them.
func (s *Server) closeListenerClients(listener string) {
	clients := s.Clients.GetByListener(listener)
	for _, cl := range clients {
		if cl.Closed() {
			continue
		}
		_ = cl.Session.Error(frames.NewHeaders(frames.HeaderMessage, ErrServerShuttingDown.Message), nil)
	}
}

// readStore reads in any data from the persistent datastore (if applicable).
func (s *Server) readStore() error {
	if s.hooks.Provides(StoredSessions) {
		sessions, err := s.hooks.StoredSessions()
		if err != nil {
			return fmt.Errorf("failed to load sessions; %w", err)
		}
		s.loadSessions(sessions)
		s.Log.Debug("loaded sessions from store", "len", len(sessions))
	}

	if s.hooks.Provides(StoredSysInfo) {
		sysInfo, err := s.hooks.StoredSysInfo()
		if err != nil {
			return fmt.Errorf("load server info; %w", err)
		}
		s.loadServerInfo(sysInfo.Info)
		s.Log.Debug("loaded $SYS info from store")
	}

	return nil
}

// loadSessions continues the session id sequence past any session left in the store,
// so ids are never reused across restarts.
func (s *Server) loadSessions(v []storage.Session) {
	for _, sess := range v {
		id, err := strconv.ParseUint(sess.ID, 10, 64)
		if err != nil {
			continue
		}

		if id > s.nextID.Load() {
			s.nextID.Store(id)
		}
	}
}

// loadServerInfo restores server info from the datastore.
func (s *Server) loadServerInfo(v system.Info) {
	if s.Options.Capabilities.Compatibilities.RestoreSysInfoOnRestart {
		atomic.StoreInt64(&s.Info.BytesReceived, v.BytesReceived)
		atomic.StoreInt64(&s.Info.BytesSent, v.BytesSent)
		atomic.StoreInt64(&s.Info.ClientsMaximum, v.ClientsMaximum)
		atomic.StoreInt64(&s.Info.ClientsTotal, v.ClientsTotal)
		atomic.StoreInt64(&s.Info.ClientsDisconnected, v.ClientsDisconnected)
		atomic.StoreInt64(&s.Info.MessagesReceived, v.MessagesReceived)
		atomic.StoreInt64(&s.Info.MessagesSent, v.MessagesSent)
		atomic.StoreInt64(&s.Info.MessagesDropped, v.MessagesDropped)
		atomic.StoreInt64(&s.Info.FramesReceived, v.FramesReceived)
		atomic.StoreInt64(&s.Info.FramesSent, v.FramesSent)
		atomic.StoreInt64(&s.Info.ProtocolErrors, v.ProtocolErrors)
	}

	if v.ClientsTotal > 0 && uint64(v.ClientsTotal) > s.nextID.Load() {
		s.nextID.Store(uint64(v.ClientsTotal))
	}
}

// Int64toa converts an int64 to a string.
func Int64toa(v int64) string {
	return strconv.FormatInt(v, 10)
}
