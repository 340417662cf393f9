package livestream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/registry"
)

// Default configuration values.
const (
	DefaultAddr        = ":7878"
	DefaultMaxClients  = 16
	DefaultSendBuffer  = 256
	DefaultUpdateRate  = 20
	DefaultUpdateBurst = 5
	DefaultPingPeriod  = 30 * time.Second
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// ErrRateLimited indicates a client sent setting updates too quickly.
var ErrRateLimited = errors.New("setting updates rate limited")

// SettingRequester accepts setting updates from the foreground.
// *session.Session implements it.
type SettingRequester interface {
	RequestSetting(name string, value float64) error
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address for ListenAndServe.
	Addr string

	// MaxClients bounds concurrent websocket clients.
	MaxClients int

	// SendBuffer is the number of messages queued per client. A client
	// that falls this far behind is disconnected.
	SendBuffer int

	// UpdateRate and UpdateBurst limit setting updates per client.
	UpdateRate  rate.Limit
	UpdateBurst int

	// PingPeriod is the keepalive interval.
	PingPeriod time.Duration

	// Logger receives connection events. Nil discards them.
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.UpdateRate <= 0 {
		c.UpdateRate = DefaultUpdateRate
	}
	if c.UpdateBurst <= 0 {
		c.UpdateBurst = DefaultUpdateBurst
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = DefaultPingPeriod
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Server streams session events to websocket clients and forwards their
// setting updates to the session.
type Server struct {
	config    Config
	requester SettingRequester
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	settingsMu sync.RWMutex
	settings   []registry.SettingState
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewServer creates a live stream server. requester may be nil, in which
// case every update is refused.
func NewServer(requester SettingRequester, config Config) *Server {
	config.applyDefaults()
	return &Server{
		config:    config,
		requester: requester,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  config.Logger,
		clients: make(map[*client]struct{}),
	}
}

// SetSettings replaces the setting snapshot served to new clients and by
// /api/settings.
func (s *Server) SetSettings(states []registry.SettingState) {
	s.settingsMu.Lock()
	s.settings = append([]registry.SettingState(nil), states...)
	s.settingsMu.Unlock()

	s.broadcast(Message{Type: TypeSettings, Settings: toSettings(states)})
}

// Settings returns a copy of the current setting snapshot.
func (s *Server) Settings() []registry.SettingState {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return append([]registry.SettingState(nil), s.settings...)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Emit implements capture.Sink. Setting observations also update the
// served snapshot.
func (s *Server) Emit(event capture.Event) {
	if o := event.Observation; o != nil && o.Source == capture.SourceSetting {
		s.settingsMu.Lock()
		for i := range s.settings {
			if s.settings[i].Name == o.Name {
				s.settings[i].Value = o.Value
			}
		}
		s.settingsMu.Unlock()
	}
	if m, ok := fromEvent(event); ok {
		s.broadcast(m)
	}
}

// Handler returns the HTTP handler serving /ws and /api/settings.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/settings", s.handleSettings)
	return mux
}

// ListenAndServe serves Handler on the configured address until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("live stream listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves Handler on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("live stream listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toSettings(s.Settings())); err != nil {
		s.logger.Debug("settings encode failed", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ClientCount() >= s.config.MaxClients {
		http.Error(w, "maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, s.config.SendBuffer),
		limiter: rate.NewLimiter(s.config.UpdateRate, s.config.UpdateBurst),
	}
	if data, err := json.Marshal(Message{Type: TypeSettings, Settings: toSettings(s.Settings())}); err == nil {
		c.send <- data
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	s.logger.Info("live stream client connected", "remote", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

// readPump handles inbound messages until the connection fails.
func (s *Server) readPump(c *client) {
	defer func() {
		s.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.config.PingPeriod))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.config.PingPeriod))
	})

	for {
		var in Message
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		s.reply(c, s.handleMessage(c, in))
	}
}

func (s *Server) handleMessage(c *client, in Message) Message {
	if in.Type != TypeSet {
		return Message{Type: TypeNack, Error: fmt.Sprintf("unsupported message type %q", in.Type)}
	}
	if in.Value == nil {
		return Message{Type: TypeNack, Name: in.Name, Error: "missing value"}
	}
	if !c.limiter.Allow() {
		return Message{Type: TypeNack, Name: in.Name, Value: in.Value, Error: ErrRateLimited.Error()}
	}
	if s.requester == nil {
		return Message{Type: TypeNack, Name: in.Name, Value: in.Value, Error: "no session"}
	}
	if err := s.requester.RequestSetting(in.Name, *in.Value); err != nil {
		return Message{Type: TypeNack, Name: in.Name, Value: in.Value, Error: err.Error()}
	}
	return Message{Type: TypeAck, Name: in.Name, Value: in.Value}
}

func (s *Server) reply(c *client, m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.deliver(c, data)
}

// writePump sends queued messages and keepalive pings.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcast(m Message) {
	s.clientsMu.RLock()
	if len(s.clients) == 0 {
		s.clientsMu.RUnlock()
		return
	}
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	data, err := json.Marshal(m)
	if err != nil {
		s.logger.Debug("message encode failed", "type", m.Type, "error", err)
		return
	}
	for _, c := range clients {
		s.deliver(c, data)
	}
}

// deliver queues data for c, disconnecting c when its queue is full.
func (s *Server) deliver(c *client, data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		s.logger.Warn("live stream client too slow, disconnecting")
		go s.remove(c)
	}
}

func (s *Server) remove(c *client) {
	s.clientsMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.clientsMu.Unlock()
	if ok {
		c.close()
	}
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.clientsMu.Unlock()
	for c := range clients {
		c.close()
	}
}

var _ capture.Sink = (*Server)(nil)
