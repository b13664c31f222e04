package chat

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"parley/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Gateway loads and stores whole snapshots of the chat state.
type Gateway interface {
	Load() (*models.Snapshot, error)
	Save(snap *models.Snapshot) error
}

type Options struct {
	BcryptCost int
}

// Service is the single authority over users, requests, histories, groups,
// chat bindings and live sessions. Every exported method runs to completion
// under one lock: read, mutate, persist, queue notifications.
type Service struct {
	mu         sync.Mutex
	gateway    Gateway
	logger     *logrus.Logger
	bcryptCost int
	now        func() time.Time

	users     map[string]*models.User
	userOrder []string
	byName    map[string]string
	byPhone   map[string]string
	histories map[string][]*models.Message

	groups     map[string]*models.Group
	groupOrder []string

	requests map[string][]*models.MessageRequest
	bindings map[string][]*models.ChatBinding

	// Live connections are kept apart from user records.
	sessions map[string]Conn
	owners   map[Conn]string
}

// New builds a service from the gateway's last snapshot.
func New(gateway Gateway, logger *logrus.Logger, opts Options) (*Service, error) {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	s := &Service{
		gateway:    gateway,
		logger:     logger,
		bcryptCost: opts.BcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
		users:      make(map[string]*models.User),
		byName:     make(map[string]string),
		byPhone:    make(map[string]string),
		histories:  make(map[string][]*models.Message),
		groups:     make(map[string]*models.Group),
		requests:   make(map[string][]*models.MessageRequest),
		bindings:   make(map[string][]*models.ChatBinding),
		sessions:   make(map[string]Conn),
		owners:     make(map[Conn]string),
	}

	snap, err := gateway.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	s.restore(snap)

	logger.WithFields(logrus.Fields{
		"component": "chat",
		"users":     len(s.users),
		"groups":    len(s.groups),
	}).Info("State loaded")

	return s, nil
}

func (s *Service) restore(snap *models.Snapshot) {
	for _, u := range snap.Users {
		u.Online = false
		s.users[u.ID] = u
		s.userOrder = append(s.userOrder, u.ID)
		s.byName[u.Name] = u.ID
		s.byPhone[u.PhoneNumber] = u.ID
	}
	for owner, history := range snap.Histories {
		s.histories[owner] = history
	}
	for _, g := range snap.Groups {
		s.groups[g.ID] = g
		s.groupOrder = append(s.groupOrder, g.ID)
	}
	for owner, requests := range snap.Requests {
		s.requests[owner] = requests
	}
	for owner, bindings := range snap.Bindings {
		s.bindings[owner] = bindings
	}
}

func (s *Service) snapshotLocked() *models.Snapshot {
	snap := models.NewSnapshot()
	for _, id := range s.userOrder {
		snap.Users = append(snap.Users, s.users[id])
	}
	for _, id := range s.groupOrder {
		snap.Groups = append(snap.Groups, s.groups[id])
	}
	for owner, history := range s.histories {
		snap.Histories[owner] = history
	}
	for owner, requests := range s.requests {
		snap.Requests[owner] = requests
	}
	for owner, bindings := range s.bindings {
		snap.Bindings[owner] = bindings
	}
	return snap
}

// persistLocked writes the full state. Failures are logged only: the
// in-memory state stays authoritative until the next successful write.
func (s *Service) persistLocked() {
	if err := s.gateway.Save(s.snapshotLocked()); err != nil {
		s.logger.WithError(err).WithField("component", "persistence").Error("Failed to persist state")
	}
}

// Flush persists the current state.
func (s *Service) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

// Shutdown says bye to every bound connection, closes it and flushes state.
func (s *Service) Shutdown(reason, details string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bye := Event{Type: EventBye, Payload: Bye{Reason: reason, Details: details}}
	now := s.now()
	for userID, conn := range s.sessions {
		conn.Send(bye)
		conn.Close()
		if u, ok := s.users[userID]; ok {
			u.Online = false
			u.LastOffline = now
		}
	}
	s.sessions = make(map[string]Conn)
	s.owners = make(map[Conn]string)

	s.persistLocked()
}

// Stats reports active sessions in the control-socket format.
func (s *Service) Stats() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for userID := range s.sessions {
		if u, ok := s.users[userID]; ok {
			names = append(names, u.Name)
		}
	}
	sort.Strings(names)

	return "connections=" + strconv.Itoa(len(s.sessions)) + ",users=" + strings.Join(names, ";")
}

// SessionCount returns the number of bound connections.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) userByNameLocked(name string) (*models.User, bool) {
	id, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.users[id], true
}
