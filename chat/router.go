package chat

import (
	"fmt"

	"parley/models"

	"github.com/sirupsen/logrus"
)

// Login binds conn to the user with the given login name. The user receives
// login-success, then every bound connection (its own included) sees
// user-online, then the user receives the pending request snapshot.
func (s *Service) Login(conn Conn, name string) (models.User, error) {
	if name == "" {
		return models.User{}, validation("username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.userByNameLocked(name)
	if !ok {
		return models.User{}, ErrUnauthenticated
	}

	s.attachLocked(u.ID, conn)
	s.pushLocked(u.ID, Event{
		Type: EventLoginSuccess,
		Payload: LoginSuccess{
			UserID:      u.ID,
			DisplayName: u.DisplayName,
			PhoneNumber: u.PhoneNumber,
		},
	})
	s.announceLocked(u.ID)
	s.pushLocked(u.ID, Event{Type: EventPendingRequests, Payload: s.pendingLocked(u.ID)})
	s.persistLocked()

	// A connection that could not take the login events has been dropped.
	if s.sessions[u.ID] != conn {
		return models.User{}, fmt.Errorf("connection lost during login: %w", ErrUnauthenticated)
	}

	s.logger.WithFields(logrus.Fields{
		"component": "router",
		"user":      u.Name,
		"remote":    conn.RemoteAddr(),
	}).Info("User logged in")

	return *u, nil
}

// Logout releases conn. It does nothing if conn was never bound or has been
// displaced by a newer login.
func (s *Service) Logout(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.owners[conn]
	if !ok {
		return
	}
	s.unbindLocked(userID)
	s.persistLocked()

	s.logger.WithFields(logrus.Fields{
		"component": "router",
		"user_id":   userID,
		"remote":    conn.RemoteAddr(),
	}).Info("User logged out")
}

// Route records a message and delivers it to the online recipients. A direct
// message goes to the named user; a group message goes to every online
// member except the sender. Delivery failures never undo the record.
func (s *Service) Route(senderID, target, body string, kind models.Kind) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case models.KindDirect:
		msg, recipient, err := s.recordDirectLocked(senderID, target, body)
		if err != nil {
			return nil, err
		}
		s.persistLocked()
		s.pushLocked(recipient.ID, Event{Type: EventNewMessage, Payload: msg})
		return msg, nil

	case models.KindGroup:
		msg, g, err := s.recordGroupLocked(senderID, target, body)
		if err != nil {
			return nil, err
		}
		s.persistLocked()
		for _, id := range g.Members {
			if id == senderID {
				continue
			}
			s.pushLocked(id, Event{Type: EventNewMessage, Payload: msg})
		}
		return msg, nil
	}

	if _, ok := s.users[senderID]; !ok {
		return nil, ErrUnauthenticated
	}
	return nil, validation("unknown message type")
}

// FetchHistory sends the requester's history with target back to the
// requester's own connection as one batch.
func (s *Service) FetchHistory(requesterID, target string, kind models.Kind) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.historyLocked(requesterID, target, kind)
	if err != nil {
		return nil, err
	}
	s.pushLocked(requesterID, Event{
		Type:    EventHistory,
		Payload: History{Peer: target, Kind: kind, Messages: messages},
	})
	return messages, nil
}
