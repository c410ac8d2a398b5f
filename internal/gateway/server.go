package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/channels"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	httpapi "github.com/nextlevelbuilder/clawgate/internal/http"
	"github.com/nextlevelbuilder/clawgate/internal/metrics"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Server owns the two listeners: the HTTP server (webhooks, message API,
// health, metrics) and the WebSocket server for controlling clients.
type Server struct {
	cfg        *config.Config
	queue      *bus.MessageQueue
	dedupe     *bus.DedupeCache
	dispatcher *EventDispatcher
	manager    *channels.Manager
	metrics    *metrics.Metrics
	router     *MethodRouter
	limiter    *channels.WebhookRateLimiter

	upgrader websocket.Upgrader
	clients  map[*Client]struct{}
	mu       sync.RWMutex

	httpServer *http.Server
	wsServer   *http.Server
	httpMux    *http.ServeMux
	wsMux      *http.ServeMux
}

// ServerDeps are the collaborators of a Server. Dedupe and Metrics may be nil.
type ServerDeps struct {
	Queue      *bus.MessageQueue
	Dedupe     *bus.DedupeCache
	Dispatcher *EventDispatcher
	Manager    *channels.Manager
	Metrics    *metrics.Metrics
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, d ServerDeps) *Server {
	s := &Server{
		cfg:        cfg,
		queue:      d.Queue,
		dedupe:     d.Dedupe,
		dispatcher: d.Dispatcher,
		manager:    d.Manager,
		metrics:    d.Metrics,
		router:     NewMethodRouter(),
		limiter:    channels.NewWebhookRateLimiter(0, 0, 0),
		clients:    make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router returns the method router for registering handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// Dispatcher returns the event dispatcher.
func (s *Server) Dispatcher() *EventDispatcher { return s.dispatcher }

// Submit accepts an inbound message: it fills a missing id and timestamp,
// drops duplicates and enqueues without blocking. It returns the message id.
func (s *Server) Submit(msg bus.GatewayMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	platform := msg.Platform.String()

	key := platform + ":" + msg.ID
	if s.dedupe != nil && s.dedupe.IsDuplicate(key) {
		s.metrics.Inbound(platform, metrics.OutcomeDuplicate)
		return msg.ID, bus.ErrDuplicate
	}
	if err := s.queue.TrySend(msg); err != nil {
		if s.dedupe != nil {
			s.dedupe.Forget(key)
		}
		s.metrics.Inbound(platform, metrics.OutcomeQueueFull)
		slog.Warn("inbound message not queued", "platform", platform, "id", msg.ID, "error", err)
		return msg.ID, err
	}
	s.metrics.Inbound(platform, metrics.OutcomeAccepted)
	return msg.ID, nil
}

// checkOrigin validates WebSocket connection origin against the allowed origins whitelist.
// If no origins are configured, all origins are allowed.
// Empty Origin header (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// authorized checks the shared auth token, sent as a bearer header or a
// token query parameter (browsers cannot set headers on WebSocket upgrades).
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		got = auth[7:]
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AuthToken)) == 1
}

// BuildHTTPMux creates and caches the HTTP mux.
func (s *Server) BuildHTTPMux() *http.ServeMux {
	if s.httpMux != nil {
		return s.httpMux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var reg *channels.Registry
	if s.manager != nil {
		reg = s.manager.Registry()
	} else {
		reg = channels.NewRegistry()
	}
	httpapi.NewWebhookHandler(reg, s.cfg, s, s.limiter, s.metrics).RegisterRoutes(mux)
	httpapi.NewMessagesHandler(s, s.cfg.AuthToken).RegisterRoutes(mux)

	s.httpMux = mux
	return mux
}

// BuildWSMux creates and caches the WebSocket mux.
func (s *Server) BuildWSMux() *http.ServeMux {
	if s.wsMux != nil {
		return s.wsMux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.wsMux = mux
	return mux
}

// Start serves both listeners until ctx is done or one of them fails.
func (s *Server) Start(ctx context.Context) error {
	host := s.cfg.Host
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, s.cfg.HTTPPort),
		Handler:           s.BuildHTTPMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.wsServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, s.cfg.WSPort),
		Handler: s.BuildWSMux(),
	}

	slog.Info("gateway starting", "http", s.httpServer.Addr, "ws", s.wsServer.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(s.httpServer, "http") })
	g.Go(func() error { return serve(s.wsServer, "websocket") })
	g.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		_ = s.wsServer.Shutdown(shutdownCtx)
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	})
	return g.Wait()
}

func serve(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatcher.Sweep()
		}
	}
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		slog.Warn("security.ws_unauthorized", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	codec, err := protocol.CodecFor(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(clientID, conn, codec, s)
	gen, resumed := s.dispatcher.Attach(clientID, client.SendEvent)
	s.registerClient(client)

	defer func() {
		s.dispatcher.Detach(clientID, gen)
		s.unregisterClient(client)
		client.Close()
	}()

	client.SendFrame(protocol.NewStatus(protocol.StatusConnected, "", map[string]any{
		"client_id": clientID,
		"resumed":   resumed,
		"last_seq":  s.dispatcher.LastSeq(),
		"protocol":  protocol.ProtocolVersion,
		"encoding":  codec.Name(),
	}))

	client.Run(r.Context())
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// ClientCount returns the number of open WebSocket connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	if s.metrics != nil {
		s.metrics.WSClients.Set(float64(len(s.clients)))
	}
	slog.Info("client connected", "id", c.id, "encoding", c.codec.Name())
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	if s.metrics != nil {
		s.metrics.WSClients.Set(float64(len(s.clients)))
	}
	slog.Info("client disconnected", "id", c.id)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}

// StartTestServer creates listeners on random local ports and returns their
// addresses and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (httpAddr, wsAddr string, start func()) {
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}
	wsLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.BuildHTTPMux()}
	s.wsServer = &http.Server{Handler: s.BuildWSMux()}

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.closeClients()
			s.wsServer.Shutdown(shutdownCtx)
			s.httpServer.Shutdown(shutdownCtx)
		}()
		go s.httpServer.Serve(httpLn)
		s.wsServer.Serve(wsLn)
	}
	return httpLn.Addr().String(), wsLn.Addr().String(), start
}
