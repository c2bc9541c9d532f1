package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/hub"
	"github.com/c360/sensorstream/input/broker"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/telemetry"
)

// Message types sent to clients.
const (
	TypeSnapshot         = "snapshot"
	TypeConnectionStatus = "connection-status"
	TypeSensorUpdate     = string(hub.EventReading)
	TypeAlert            = string(hub.EventAlert)
	TypeLatestData       = "latest-data"
	TypeError            = "error"
)

// TypeRequestLatest is the one message type clients send.
const TypeRequestLatest = "request-latest"

// Config holds the push server settings.
type Config struct {
	Path             string        `json:"path" yaml:"path" mapstructure:"path"`
	SubscriberBuffer int           `json:"subscriber_buffer" yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`
	PingInterval     time.Duration `json:"ping_interval" yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout      time.Duration `json:"pong_timeout" yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DefaultConfig returns the push server defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "/ws",
		SubscriberBuffer: hub.DefaultSubscriberBuffer,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// StatusFunc reports the broker connection for the connection-status message.
type StatusFunc func() broker.Status

// Envelope wraps every message exchanged with a client.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SnapshotPayload is the catch-up state sent first on every connection.
type SnapshotPayload struct {
	Seq      uint64                      `json:"seq"`
	Readings []telemetry.EnrichedReading `json:"readings"`
}

// ErrorPayload reports a rejected client request.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithMetrics registers the push server metrics. A nil registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) error {
		m, err := newMetrics(registry)
		if err != nil {
			return err
		}
		s.metrics = m
		return nil
	}
}

// Server pushes hub events to WebSocket clients. Each client gets its own
// hub subscription; a client that cannot keep up is disconnected by the hub
// and its connection is closed.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	status   StatusFunc
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*client
	closed    bool
	wg        sync.WaitGroup

	messageIDCounter atomic.Uint64
}

// client holds one WebSocket connection.
type client struct {
	id          string
	conn        *websocket.Conn
	sub         *hub.Subscription
	connectedAt time.Time
	writeMutex  sync.Mutex
	closeOnce   sync.Once
	done        chan struct{}
}

// New creates a push server reading from h. status may be nil.
func New(cfg Config, h *hub.Hub, status StatusFunc, opts ...Option) (*Server, error) {
	if h == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "WebSocketServer", "New", "check hub")
	}

	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &Server{
		cfg:     cfg,
		hub:     h,
		status:  status,
		logger:  slog.Default(),
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "websocket")

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

// Path returns the mount path.
func (s *Server) Path() string {
	return s.cfg.Path
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	closed := s.closed
	s.clientsMu.RUnlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.metrics.recordError("connection_upgrade")
		s.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		sub:         s.hub.Subscribe(s.cfg.SubscriberBuffer),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	s.clientsMu.Lock()
	if s.closed {
		s.clientsMu.Unlock()
		c.sub.Close()
		_ = conn.Close()
		return
	}
	s.clients[c.id] = c
	count := len(s.clients)
	s.wg.Add(2)
	s.clientsMu.Unlock()

	s.metrics.recordConnect(count)
	s.logger.Info("Client connected", "client", c.id, "remote", r.RemoteAddr, "clients", count)

	go s.writePump(c)
	go s.readPump(c)
}

// writePump sends the catch-up snapshot and connection status, then relays
// hub events and pings until the client or its subscription ends.
func (s *Server) writePump(c *client) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	snap := SnapshotPayload{Seq: c.sub.Seq(), Readings: c.sub.Snapshot()}
	if err := s.send(c, TypeSnapshot, snap); err != nil {
		s.removeClient(c, "write_error")
		return
	}
	if s.status != nil {
		if err := s.send(c, TypeConnectionStatus, s.status()); err != nil {
			s.removeClient(c, "write_error")
			return
		}
	}

	for {
		select {
		case <-c.done:
			return

		case ev, ok := <-c.sub.Events():
			if !ok {
				s.endSubscription(c)
				return
			}
			if err := s.sendEvent(c, ev); err != nil {
				s.removeClient(c, "write_error")
				return
			}

		case <-ticker.C:
			c.writeMutex.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			c.writeMutex.Unlock()
			if err != nil {
				s.removeClient(c, "ping_failed")
				return
			}
		}
	}
}

// endSubscription closes a client whose hub subscription ended.
func (s *Server) endSubscription(c *client) {
	reason := "hub_closed"
	code := websocket.CloseGoingAway
	text := "server shutting down"
	if err := c.sub.Err(); stderrors.Is(err, hub.ErrSlowSubscriber) {
		reason = "slow_consumer"
		code = websocket.ClosePolicyViolation
		text = "client too slow"
		s.logger.Warn("Closing slow client", "client", c.id)
	}

	c.writeMutex.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(s.cfg.WriteTimeout))
	c.writeMutex.Unlock()

	s.removeClient(c, reason)
}

// readPump handles client requests and pong deadlines.
func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c, "normal")

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Client read failed", "client", c.id, "error", err)
			}
			return
		}

		var req Envelope
		if err := json.Unmarshal(data, &req); err != nil {
			s.metrics.recordError("bad_request")
			if err := s.send(c, TypeError, ErrorPayload{Message: "malformed message"}); err != nil {
				return
			}
			continue
		}

		switch req.Type {
		case TypeRequestLatest:
			if err := s.send(c, TypeLatestData, s.hub.Snapshot()); err != nil {
				return
			}
		default:
			if err := s.send(c, TypeError, ErrorPayload{Message: "unknown message type: " + req.Type}); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendEvent(c *client, ev hub.Event) error {
	switch ev.Type {
	case hub.EventReading:
		return s.send(c, TypeSensorUpdate, ev.Reading)
	case hub.EventAlert:
		return s.send(c, TypeAlert, ev.Alert)
	default:
		return nil
	}
}

// send writes one envelope. Writes are serialized per connection because
// gorilla/websocket allows a single concurrent writer.
func (s *Server) send(c *client, msgType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		s.metrics.recordError("marshal")
		return errors.Wrap(err, "WebSocketServer", "send", "marshal payload")
	}

	data, err := json.Marshal(Envelope{
		Type:      msgType,
		ID:        s.nextMessageID(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   body,
	})
	if err != nil {
		s.metrics.recordError("marshal")
		return errors.Wrap(err, "WebSocketServer", "send", "marshal envelope")
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.metrics.recordError("write")
		return err
	}
	s.metrics.recordSent(msgType, len(data))
	return nil
}

func (s *Server) nextMessageID() string {
	return strconv.FormatUint(s.messageIDCounter.Add(1), 10)
}

// removeClient releases the client's subscription and connection once.
func (s *Server) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Close()
		_ = c.conn.Close()

		s.clientsMu.Lock()
		delete(s.clients, c.id)
		count := len(s.clients)
		s.clientsMu.Unlock()

		s.metrics.recordDisconnect(reason, count)
		s.logger.Info("Client disconnected", "client", c.id, "reason", reason,
			"connected_for", time.Since(c.connectedAt).Round(time.Millisecond))
	})
}

// Shutdown closes every client with a going-away frame and waits for their
// pumps to exit or ctx to end. New connections are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.writeMutex.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMutex.Unlock()
		s.removeClient(c, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "WebSocketServer", "Shutdown", "wait for clients")
	}
}
