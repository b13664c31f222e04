package chat

import (
	"fmt"

	"parley/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SubmitRequest files a first-contact request in the recipient's list and
// notifies the recipient when online.
func (s *Service) SubmitRequest(fromID, toID, message string) (models.MessageRequest, error) {
	if fromID == "" || toID == "" || message == "" {
		return models.MessageRequest{}, validation("from user, to user, and message are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.users[fromID]
	if !ok {
		return models.MessageRequest{}, fmt.Errorf("user %w", ErrNotFound)
	}
	to, ok := s.users[toID]
	if !ok {
		return models.MessageRequest{}, fmt.Errorf("user %w", ErrNotFound)
	}

	req := &models.MessageRequest{
		ID:           uuid.NewString(),
		FromUserID:   from.ID,
		FromName:     from.DisplayName,
		FromUsername: from.Name,
		ToUserID:     to.ID,
		Message:      message,
		Timestamp:    s.now(),
		Status:       models.RequestPending,
	}
	s.requests[to.ID] = append(s.requests[to.ID], req)

	s.persistLocked()
	s.pushLocked(to.ID, Event{Type: EventNewMessageRequest, Payload: *req})

	s.logger.WithFields(logrus.Fields{
		"component":  "consent",
		"request_id": req.ID,
		"from":       from.Name,
		"to":         to.Name,
	}).Debug("Message request submitted")

	return *req, nil
}

// Respond resolves a pending request addressed to userID. Only the first
// response counts; later ones fail with ErrAlreadyResolved.
func (s *Service) Respond(requestID, userID string, accept bool) error {
	if requestID == "" || userID == "" {
		return validation("request ID and user ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var req *models.MessageRequest
	for _, r := range s.requests[userID] {
		if r.ID == requestID {
			req = r
			break
		}
	}
	if req == nil {
		return fmt.Errorf("request %w", ErrNotFound)
	}
	if req.Status != models.RequestPending {
		return ErrAlreadyResolved
	}

	if !accept {
		req.Status = models.RequestDeclined
		s.persistLocked()
		return nil
	}

	req.Status = models.RequestAccepted

	// Both sides get the conversation pinned once the request is accepted.
	if from, ok := s.users[req.FromUserID]; ok {
		if to, ok := s.users[userID]; ok {
			s.addBindingLocked(to.ID, &models.ChatBinding{
				PeerKey:     from.Name,
				DisplayName: from.DisplayName,
				Kind:        models.KindDirect,
				CreatedAt:   s.now(),
			})
			s.addBindingLocked(from.ID, &models.ChatBinding{
				PeerKey:     to.Name,
				DisplayName: to.DisplayName,
				Kind:        models.KindDirect,
				CreatedAt:   s.now(),
			})
		}
	}

	s.persistLocked()
	s.pushLocked(req.FromUserID, Event{
		Type:    EventRequestAccepted,
		Payload: RequestAccepted{RequestID: req.ID, UserID: userID},
	})

	return nil
}

// PendingFor lists the unresolved requests addressed to userID, oldest first.
func (s *Service) PendingFor(userID string) []models.MessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(userID)
}

func (s *Service) pendingLocked(userID string) []models.MessageRequest {
	pending := []models.MessageRequest{}
	for _, r := range s.requests[userID] {
		if r.Status == models.RequestPending {
			pending = append(pending, *r)
		}
	}
	return pending
}
