// Package server streams decoded packets to websocket clients and accepts session
// control commands from them.
//
// Every client sees the packets of the selected session, narrowed by its own filter
// expression. Packets are fanned out by one pump goroutine per session; a client whose
// queue is full loses packets rather than slowing capture.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"firestige.xyz/sniff/internal/config"
	"firestige.xyz/sniff/internal/log"
	"firestige.xyz/sniff/internal/metrics"
	"firestige.xyz/sniff/internal/session"
	"firestige.xyz/sniff/internal/source/pcap"
)

var (
	errNoSession   = errors.New("sniff: no session selected")
	errPathOutside = errors.New("sniff: path outside allowed directory")
)

// Server is the websocket stream server.
type Server struct {
	cfg            config.ServerConfig
	sel            *session.Selector
	listInterfaces func() ([]pcap.Interface, error)
	upgrader       websocket.Upgrader
	logger         log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pumps  sync.WaitGroup

	mu      sync.Mutex
	clients map[*Client]struct{}

	server *http.Server
	ln     net.Listener
}

// New creates a server that controls sessions through sel.
func New(cfg config.ServerConfig, sel *session.Selector) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "captures"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		sel:            sel,
		listInterfaces: pcap.ListInterfaces,
		logger:         log.GetLogger().WithField("component", "server"),
		ctx:            ctx,
		cancel:         cancel,
		clients:        make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// checkOrigin accepts same-host requests and the configured origins. "*" accepts any.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := newClient(s, conn)
	s.register(c)
	go c.writeLoop()

	if sess := s.sel.Session(); sess != nil {
		c.SendMessage(newMessage(TypeSelected, s.describe(sess)))
	}
	c.readLoop()
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	metrics.StreamClients.Inc()
	c.logger.Debug("stream client connected")
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		metrics.StreamClients.Dec()
		c.logger.Debug("stream client disconnected")
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) snapshot() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) broadcast(msg Message) {
	for _, c := range s.snapshot() {
		c.SendMessage(msg)
	}
}

func (s *Server) describe(sess *session.Session) SessionPayload {
	return SessionPayload{
		ID:     sess.ID(),
		Label:  sess.Label(),
		State:  sess.State(),
		Stats:  sess.Stats(),
		Stream: s.ClientCount(),
	}
}

// Watch streams the packets of sess to the clients until sess is closed or the server
// stops. The session is left in whatever state it is in.
func (s *Server) Watch(sess *session.Session) {
	s.pumps.Add(1)
	go func() {
		defer s.pumps.Done()
		s.pump(sess)
	}()
}

func (s *Server) pump(sess *session.Session) {
	logger := s.logger.WithField("session", sess.ID())
	logger.Debug("packet pump started")
	defer logger.Debug("packet pump stopped")

	for {
		pkt, ok := sess.Receive(s.ctx)
		if !ok {
			return
		}
		var msg Message
		for _, c := range s.snapshot() {
			if !c.wants(pkt) {
				continue
			}
			if msg.Type == "" {
				msg = newMessage(TypePacket, pkt.Summary())
			}
			c.SendMessage(msg)
		}
	}
}

// selectSource replaces the selected session and starts streaming it. The new session
// is started immediately.
func (s *Server) selectSource(kind string, req SelectRequest) error {
	var (
		sess *session.Session
		err  error
	)
	switch kind {
	case TypeSelectFile:
		if req.Path == "" {
			return errors.New("select_file requires a path")
		}
		path := req.Path
		if s.cfg.DataDir != "" {
			if path, err = confine(s.cfg.DataDir, req.Path); err != nil {
				return err
			}
		}
		sess, err = s.sel.SelectFile(path)
	case TypeSelectDevice:
		if req.Device == "" {
			return errors.New("select_device requires a device")
		}
		sess, err = s.sel.SelectDevice(req.Device)
	}
	if err != nil {
		return err
	}

	s.Watch(sess)
	s.logger.WithField("session", sess.ID()).WithField("source", sess.Label()).Info("source selected")
	s.broadcast(newMessage(TypeSelected, s.describe(sess)))
	sess.Start()
	return nil
}

// savePath resolves a client save path inside the save directory, creating the
// directory on first use.
func (s *Server) savePath(name string) (string, error) {
	path, err := confine(s.cfg.SaveDir, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create save directory: %w", err)
	}
	return path, nil
}

// confine joins name onto dir. name must be relative and must not climb out of dir.
func confine(dir, name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q must be a relative path inside %s", errPathOutside, name, dir)
	}
	return filepath.Join(dir, name), nil
}

// Start binds the listener and serves in the background. Bind errors are returned.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("stream server listen on %s: %w", s.cfg.Listen, err)
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger := s.logger.WithField("addr", ln.Addr().String())
	logger.WithField("path", s.cfg.Path).Info("starting stream server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("stream server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Listen
}

// Stop closes every client, stops the packet pumps and shuts the listener down. The
// selected session is not closed.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	for _, c := range s.snapshot() {
		c.conn.Close()
	}
	s.pumps.Wait()

	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping stream server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stream server shutdown failed: %w", err)
	}
	return nil
}
