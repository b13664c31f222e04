package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"parley/auth"
	"parley/chat"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	OutboxSize   int
	// RequireToken makes the WebSocket login demand a token issued by
	// /login or /register.
	RequireToken bool
}

// Server exposes the chat service over HTTP and WebSocket.
type Server struct {
	svc      *chat.Service
	tokens   *auth.TokenManager
	logger   *logrus.Logger
	opts     Options
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func New(svc *chat.Service, tokens *auth.TokenManager, logger *logrus.Logger, opts Options) *Server {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 256
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}

	return &Server{
		svc:    svc,
		tokens: tokens,
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// Handler returns the routed handler wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /user/{identifier}", s.handleLookupUser)

	mux.HandleFunc("POST /create-group", s.handleCreateGroup)
	mux.HandleFunc("POST /join-group", s.handleJoinGroup)
	mux.HandleFunc("POST /add-user-to-group", s.handleAddUserToGroup)
	mux.HandleFunc("GET /group-members/{groupId}", s.handleGroupMembers)

	mux.HandleFunc("POST /send-message-request", s.handleSendMessageRequest)
	mux.HandleFunc("POST /respond-to-request", s.handleRespondToRequest)
	mux.HandleFunc("GET /message-requests/{userId}", s.handlePendingRequests)

	mux.HandleFunc("GET /chats/{userId}", s.handleListChats)
	mux.HandleFunc("POST /save-chat", s.handleSaveChat)
	mux.HandleFunc("POST /remove-chat", s.handleRemoveChat)

	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"component": "api",
		"addr":      listener.Addr().String(),
	}).Info("HTTP server started")

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and closes the WebSocket clients that are
// still open. Bound clients are normally closed by the chat service first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	open := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		c.Close()
	}

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// ClientCount returns the number of open WebSocket connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
