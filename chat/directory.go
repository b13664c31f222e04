package chat

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"parley/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const phoneAttempts = 32

// Register creates a user with a generated ID and phone number.
func (s *Service) Register(name, displayName, secret string) (models.User, error) {
	if name == "" || displayName == "" || secret == "" {
		return models.User{}, validation("name, display name, and password are required")
	}

	// Hashing is slow; keep it outside the lock.
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return models.User{}, fmt.Errorf("username %q: %w", name, ErrConflict)
	}

	phone, err := s.newPhoneNumberLocked()
	if err != nil {
		return models.User{}, err
	}

	u := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		DisplayName:  displayName,
		PhoneNumber:  phone,
		PasswordHash: string(hashed),
		CreatedAt:    s.now(),
	}

	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	s.byName[u.Name] = u.ID
	s.byPhone[u.PhoneNumber] = u.ID
	s.histories[u.ID] = []*models.Message{}
	s.requests[u.ID] = []*models.MessageRequest{}
	s.bindings[u.ID] = []*models.ChatBinding{}

	s.persistLocked()

	s.logger.WithFields(logrus.Fields{
		"component": "directory",
		"user":      u.Name,
	}).Info("User registered")

	return *u, nil
}

func (s *Service) newPhoneNumberLocked() (string, error) {
	for i := 0; i < phoneAttempts; i++ {
		phone := strconv.FormatInt(1_000_000_000+rand.Int64N(9_000_000_000), 10)
		if _, taken := s.byPhone[phone]; !taken {
			return phone, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique phone number")
}

// Authenticate checks a login/password pair. Unknown names and wrong
// passwords fail with the same error.
func (s *Service) Authenticate(name, secret string) (models.User, error) {
	if name == "" || secret == "" {
		return models.User{}, validation("username and password are required")
	}

	s.mu.Lock()
	u, ok := s.userByNameLocked(name)
	var user models.User
	if ok {
		user = *u
	}
	s.mu.Unlock()

	if !ok {
		return models.User{}, ErrAuth
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret)); err != nil {
		return models.User{}, ErrAuth
	}

	return user, nil
}

// Lookup finds a user by login name or phone number.
func (s *Service) Lookup(identifier string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[identifier]; ok {
		return *s.users[id], nil
	}
	if id, ok := s.byPhone[identifier]; ok {
		return *s.users[id], nil
	}
	return models.User{}, fmt.Errorf("user %w", ErrNotFound)
}

// UserByID returns the user with the given ID.
func (s *Service) UserByID(userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %w", ErrNotFound)
	}
	return *u, nil
}

// ConnectionFor returns the connection bound to userID, or nil.
func (s *Service) ConnectionFor(userID string) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

// Online reports whether userID has a bound connection.
func (s *Service) Online(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	return ok
}

// BoundUser returns the user ID conn is logged in as.
func (s *Service) BoundUser(conn Conn) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.owners[conn]
	return userID, ok
}

func (s *Service) bindLocked(userID string, conn Conn) {
	s.sessions[userID] = conn
	s.owners[conn] = userID
	u := s.users[userID]
	u.Online = true
	u.LastOnline = s.now()
}

func (s *Service) announceLocked(userID string) {
	if _, bound := s.sessions[userID]; !bound {
		return
	}
	u := s.users[userID]
	s.broadcastLocked(Event{
		Type:    EventUserOnline,
		Payload: Presence{Name: u.Name, DisplayName: u.DisplayName},
	})
}

func (s *Service) unbindLocked(userID string) {
	conn, ok := s.sessions[userID]
	if !ok {
		return
	}
	delete(s.sessions, userID)
	delete(s.owners, conn)

	u, ok := s.users[userID]
	if !ok {
		return
	}
	u.Online = false
	u.LastOffline = s.now()

	s.broadcastLocked(Event{
		Type:    EventUserOffline,
		Payload: Presence{Name: u.Name, DisplayName: u.DisplayName},
	})
}

// pushLocked delivers ev to userID if online. A connection that cannot take
// the event is treated as broken and dropped.
func (s *Service) pushLocked(userID string, ev Event) bool {
	conn, ok := s.sessions[userID]
	if !ok {
		return false
	}
	if conn.Send(ev) {
		return true
	}
	s.dropLocked(userID)
	return false
}

func (s *Service) broadcastLocked(ev Event) {
	var dead []string
	for userID, conn := range s.sessions {
		if !conn.Send(ev) {
			dead = append(dead, userID)
		}
	}
	for _, userID := range dead {
		s.dropLocked(userID)
	}
}

func (s *Service) dropLocked(userID string) {
	conn, ok := s.sessions[userID]
	if !ok {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"component": "router",
		"user_id":   userID,
		"remote":    conn.RemoteAddr(),
	}).Warn("Dropping unresponsive connection")

	s.unbindLocked(userID)
	conn.Close()
}

// BindConnection marks userID online on conn, replacing any earlier
// connection, and announces the user to every bound connection.
func (s *Service) BindConnection(userID string, conn Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	s.attachLocked(userID, conn)
	s.announceLocked(userID)
	return nil
}

// UnbindConnection marks userID offline and announces it.
func (s *Service) UnbindConnection(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbindLocked(userID)
	s.persistLocked()
}

// attachLocked binds conn to userID without announcing it. A connection
// already serving another user is released first; an older connection of
// this user is displaced.
func (s *Service) attachLocked(userID string, conn Conn) {
	if prev, ok := s.owners[conn]; ok {
		if prev == userID {
			return
		}
		s.unbindLocked(prev)
	}
	if old, ok := s.sessions[userID]; ok {
		delete(s.sessions, userID)
		delete(s.owners, old)
		old.Close()
		s.logger.WithFields(logrus.Fields{
			"component": "router",
			"user_id":   userID,
			"remote":    old.RemoteAddr(),
		}).Info("Displaced previous connection")
	}
	s.bindLocked(userID, conn)
}
