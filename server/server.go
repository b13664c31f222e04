package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"parley/chat"
	"parley/protocol"

	"github.com/sirupsen/logrus"
)

// Server accepts line-protocol clients and hands their actions to the chat
// service.
type Server struct {
	svc      *chat.Service
	config   *ServerConfig
	logger   *logrus.Logger
	sessions map[*Session]struct{}
	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	OutboxSize   int
}

func New(svc *chat.Service, config *ServerConfig, logger *logrus.Logger) *Server {
	if config.OutboxSize <= 0 {
		config.OutboxSize = 256
	}
	return &Server{
		svc:      svc,
		config:   config,
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown closes it.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.WithField("addr", listener.Addr().String()).Info("Line server started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.WithError(err).Warn("Error accepting connection")
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	sess := newSession(conn, s.config.OutboxSize, s.config.WriteTimeout, s.logger)
	go sess.writeLoop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.Send(chat.Event{Type: chat.EventBye, Payload: chat.Bye{Reason: "maintenance"}})
		sess.Close()
		<-sess.writerDone
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	sess.logger.Info("New client connected")

	defer func() {
		s.svc.Logout(sess)
		sess.Close()
		<-sess.writerDone

		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()

		sess.logger.Info("Client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				sess.Send(chat.Event{Type: chat.EventBye, Payload: chat.Bye{Reason: "timeout"}})
				sess.logger.Info("Client timed out")
				return
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				sess.logger.WithError(err).Warn("Error reading from connection")
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Credentials stay out of the log.
		if !strings.HasPrefix(line, "auth|") && !strings.HasPrefix(line, "reg|") {
			sess.logger.WithField("line", line).Debug("Received packet")
		}

		pkt, err := protocol.ParsePacket(line)
		if err != nil {
			sess.logger.WithError(err).Debug("Parse error")
			sess.sendError("", "Invalid packet format")
			continue
		}

		s.handlePacket(sess, pkt)

		if pkt.Type == "bye" {
			return
		}
	}
}

func (s *Server) handlePacket(sess *Session, pkt *protocol.Packet) {
	switch pkt.Type {
	case "ping":
		s.handlePing(sess)
	case "reg":
		s.handleRegister(sess, pkt)
	case "auth":
		s.handleAuth(sess, pkt)
	case "msg":
		s.handleMessage(sess, pkt)
	case "gmsg":
		s.handleGroupMessage(sess, pkt)
	case "hist":
		s.handleHistory(sess, pkt)
	case "ghist":
		s.handleGroupHistory(sess, pkt)
	case "stat":
		s.handleStat(sess, pkt)
	case "list":
		s.handleList(sess)
	case "add":
		s.handleAdd(sess, pkt)
	case "del":
		s.handleDel(sess, pkt)
	case "ren":
		s.handleRename(sess, pkt)
	case "offmsg":
		s.handleOfflineMessages(sess)
	case "req":
		s.handleRequest(sess, pkt)
	case "reqs":
		s.handlePendingRequests(sess)
	case "resp":
		s.handleRespond(sess, pkt)
	case "gnew":
		s.handleCreateGroup(sess, pkt)
	case "gjoin":
		s.handleJoinGroup(sess, pkt)
	case "gadd":
		s.handleAddMember(sess, pkt)
	case "gmem":
		s.handleMembers(sess, pkt)
	case "bye":
		s.handleBye(sess)
	case "help":
		s.handleHelp(sess)
	default:
		sess.sendError("", "Unknown packet type")
	}
}

// Shutdown says bye to every client, bound or not, and stops accepting
// new connections. completionTime is sent as the bye details when set.
func (s *Server) Shutdown(reason string, completionTime time.Time) {
	var details string
	if !completionTime.IsZero() {
		details = formatTime(completionTime)
	}

	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	open := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	s.svc.Shutdown(reason, details)

	// Bound sessions are already closed by the service; Send fails for them.
	bye := chat.Event{Type: chat.EventBye, Payload: chat.Bye{Reason: reason, Details: details}}
	for _, sess := range open {
		if sess.Send(bye) {
			sess.Close()
		}
	}

	s.logger.WithFields(logrus.Fields{
		"component": "tcp",
		"reason":    reason,
		"sessions":  len(open),
	}).Info("Line server shut down")
}

// ConnectionCount returns the number of open line-protocol connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
