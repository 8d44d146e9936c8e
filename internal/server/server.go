// ABOUTME: Zync relay server: WebSocket transport around the playback coordinator
// ABOUTME: Manages connections, HTTP endpoints, discovery and component lifecycle
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/coordinator"
	"github.com/Vimlesh-Kumar/zync/internal/discovery"
	"github.com/Vimlesh-Kumar/zync/internal/events"
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// WebSocketPath is where devices connect
	WebSocketPath = "/zync"

	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Config holds server configuration
type Config struct {
	Port        int
	Name        string
	EnableMDNS  bool
	Debug       bool
	UseTUI      bool
	AudioFile   string // Track to preload. Empty = wait for an upload
	WatchAudio  bool
	DefaultLead time.Duration
	RequireHost bool

	NATSURL     string // Empty disables the event mirror
	NATSSubject string

	AllowedOrigins  []string
	SendBuffer      int
	MaxMessageBytes int64

	Clock clockwork.Clock
}

// Server represents the Zync relay
type Server struct {
	config   Config
	serverID string
	clock    clockwork.Clock

	upgrader websocket.Upgrader
	cors     *cors.Cors

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	hub   *Hub
	coord *coordinator.Coordinator
	nc    *nats.Conn

	// mDNS discovery
	mdnsManager *discovery.Manager

	// TUI
	tui       *ServerTUI
	refresh   chan struct{}
	startTime time.Time

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a new server instance. The NATS mirror is connected here so a
// bad URL fails before anything listens.
func New(config Config) (*Server, error) {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 100
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = 64 << 20
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		config:    config,
		serverID:  uuid.New().String(),
		clock:     config.Clock,
		mux:       http.NewServeMux(),
		hub:       NewHub(),
		refresh:   make(chan struct{}, 1),
		startTime: config.Clock.Now(),
		stopChan:  make(chan struct{}),
	}

	s.cors = cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	var out coordinator.Outbox = s.hub
	if config.NATSURL != "" {
		natsCfg := events.DefaultConfig()
		natsCfg.URL = config.NATSURL
		if config.NATSSubject != "" {
			natsCfg.Subject = config.NATSSubject
		}

		nc, err := events.Connect(natsCfg)
		if err != nil {
			return nil, err
		}
		s.nc = nc
		out = events.NewMirror(s.hub, nc, natsCfg.Subject, s.nowMs)
		log.Info().Str("url", config.NATSURL).Str("subject", natsCfg.Subject).Msg("mirroring playback events to NATS")
	}

	s.coord = coordinator.New(coordinator.Config{
		DefaultLead: config.DefaultLead,
		RequireHost: config.RequireHost,
		Clock:       config.Clock,
	}, out)

	s.hub.onBroadcast = func(protocol.Kind) { s.requestRefresh() }

	s.mux.HandleFunc(WebSocketPath, s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/info", s.handleInfo)

	return s, nil
}

// Handler returns the relay's HTTP handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.mux)
}

// Coordinator exposes the playback coordinator
func (s *Server) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Start runs the relay until Stop is called, the TUI quits or a component fails
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The coordinator outlives the errgroup so closing connections can still
	// report their disconnects
	coordCtx, stopCoord := context.WithCancel(context.Background())
	defer stopCoord()
	coordDone := make(chan error, 1)
	go func() {
		coordDone <- s.coord.Run(coordCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	// Start TUI if enabled
	if s.config.UseTUI {
		s.tui = NewServerTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(s.config.Name, s.config.Port); err != nil {
				log.Error().Err(err).Msg("TUI exited with error")
			}
		}()

		g.Go(func() error {
			s.tuiLoop(gctx)
			return nil
		})
	}

	log.Info().Str("name", s.config.Name).Str("id", s.serverID).Msg("relay starting")

	if s.config.AudioFile != "" {
		lib := NewLibrary(s.config.AudioFile, s.coord, s.clock)
		if err := lib.Load(); err != nil {
			log.Error().Err(err).Str("path", s.config.AudioFile).Msg("failed to preload track")
		}
		if s.config.WatchAudio {
			g.Go(func() error {
				return lib.Watch(gctx)
			})
		}
	}

	// Start mDNS advertisement if enabled
	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			ServerMode:  true,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Warn().Err(err).Msg("failed to start mDNS advertisement")
		} else {
			log.Info().Msg("mDNS advertisement started")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Str("path", WebSocketPath).Msg("WebSocket server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	// Wait for stop signal, TUI quit, or a failed component
	g.Go(func() error {
		var tuiQuit <-chan struct{}
		if s.tui != nil {
			tuiQuit = s.tui.QuitChan()
		}

		select {
		case <-s.stopChan:
			log.Info().Msg("relay shutting down")
		case <-tuiQuit:
			log.Info().Msg("TUI quit requested, shutting down")
		case <-gctx.Done():
		}

		s.shutdown()
		cancel()
		return nil
	})

	err := g.Wait()
	s.wg.Wait()

	stopCoord()
	if coordErr := <-coordDone; coordErr != nil && err == nil {
		err = coordErr
	}

	log.Info().Msg("relay stopped cleanly")
	return err
}

func (s *Server) shutdown() {
	// Reject new connections
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	// Hijacked WebSocket connections are not closed by Shutdown
	s.hub.closeAll()

	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("NATS drain failed")
		}
	}
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// checkOrigin accepts non-browser clients and origins allowed by the CORS policy
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cors.OriginAllowed(r) {
		return true
	}
	log.Warn().Str("origin", origin).Msg("rejecting WebSocket from origin")
	return false
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.shutdownMu.RUnlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade error")
		return
	}

	s.handleConnection(newClient(uuid.New().String(), r.RemoteAddr, conn, s.config.SendBuffer))
}

// handleConnection runs one client until its socket closes
func (s *Server) handleConnection(client *Client) {
	log.Debug().Str("client", client.ID).Str("remote", client.RemoteAddr).Msg("new WebSocket connection")

	s.hub.add(client)
	defer func() {
		s.hub.remove(client.ID)
		client.close()
		if err := s.coord.Disconnect(client.ID); err != nil && !errors.Is(err, coordinator.ErrClosed) {
			log.Warn().Err(err).Str("client", client.ID).Msg("disconnect failed")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	if err := s.coord.Connect(client.ID); err != nil {
		log.Warn().Err(err).Str("client", client.ID).Msg("rejecting connection")
		return
	}

	conn := client.Conn
	conn.SetReadLimit(s.config.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", client.ID).Msg("WebSocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		s.handleClientMessage(client, data)
	}
}

// clientWriter sends queued frames and keepalive pings
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			_ = client.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return

		case data := <-client.sendChan:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("client", client.ID).Msg("error writing message")
				client.close()
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				client.close()
				return
			}
		}
	}
}

// handleClientMessage decodes one frame and hands it to the coordinator
func (s *Server) handleClientMessage(client *Client, data []byte) {
	msg, cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		code := "bad_request"
		if errors.Is(err, protocol.ErrUnknownKind) {
			code = "unknown_type"
		}
		log.Warn().Err(err).Str("client", client.ID).Str("type", string(msg.Type)).Msg("rejecting frame")

		// Echo the request id so a waiting caller fails fast
		if frame, encErr := protocol.Encode(protocol.KindError, msg.ID, protocol.ErrorPayload{Error: code, Message: err.Error()}); encErr == nil {
			s.hub.deliver(client, protocol.KindError, frame)
		}
		return
	}

	if s.config.Debug {
		log.Debug().Str("client", client.ID).Str("type", string(msg.Type)).Uint64("id", msg.ID).Msg("received")
	}

	if err := s.coord.Handle(client.ID, msg.ID, cmd); err != nil {
		log.Warn().Err(err).Str("client", client.ID).Str("type", string(msg.Type)).Msg("command not applied")
	}
}
