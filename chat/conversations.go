package chat

import (
	"fmt"

	"parley/models"

	"github.com/google/uuid"
)

// RecordDirectMessage stores a direct message in both parties' histories.
func (s *Service) RecordDirectMessage(senderID, recipientName, body string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, _, err := s.recordDirectLocked(senderID, recipientName, body)
	if err != nil {
		return nil, err
	}
	s.persistLocked()
	return msg, nil
}

func (s *Service) recordDirectLocked(senderID, recipientName, body string) (*models.Message, *models.User, error) {
	sender, ok := s.users[senderID]
	if !ok {
		return nil, nil, ErrUnauthenticated
	}
	if recipientName == "" || body == "" {
		return nil, nil, validation("recipient and message are required")
	}
	recipient, ok := s.userByNameLocked(recipientName)
	if !ok {
		return nil, nil, fmt.Errorf("recipient %w", ErrNotFound)
	}

	msg := &models.Message{
		ID:                uuid.NewString(),
		SenderID:          sender.ID,
		SenderDisplayName: sender.DisplayName,
		Recipient:         recipient.Name,
		Kind:              models.KindDirect,
		Body:              body,
		Timestamp:         s.now(),
	}

	s.histories[recipient.ID] = append(s.histories[recipient.ID], msg)
	if sender.ID != recipient.ID {
		s.histories[sender.ID] = append(s.histories[sender.ID], msg)
	}

	s.touchBindingLocked(sender.ID, recipient.Name, body)
	s.touchBindingLocked(recipient.ID, sender.Name, body)

	return msg, recipient, nil
}

// HistoryFor returns the conversation userID has with peer. For direct chats
// peer is a login name; for groups it is the group ID and the history is
// returned only to members.
func (s *Service) HistoryFor(userID, peer string, kind models.Kind) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(userID, peer, kind)
}

func (s *Service) historyLocked(userID, peer string, kind models.Kind) ([]*models.Message, error) {
	requester, ok := s.users[userID]
	if !ok {
		return nil, ErrUnauthenticated
	}

	out := []*models.Message{}
	switch kind {
	case models.KindDirect:
		other, ok := s.userByNameLocked(peer)
		if !ok {
			return out, nil
		}
		for _, m := range s.histories[requester.ID] {
			if (m.SenderID == requester.ID && m.Recipient == other.Name) ||
				(m.SenderID == other.ID && m.Recipient == requester.Name) {
				out = append(out, m)
			}
		}
	case models.KindGroup:
		g, ok := s.groups[peer]
		if !ok || !g.HasMember(requester.ID) {
			return out, nil
		}
		out = append(out, g.History...)
	default:
		return nil, validation("unknown conversation type")
	}

	return out, nil
}

// ListBindings returns the chats pinned by userID in the order they were added.
func (s *Service) ListBindings(userID string) []models.ChatBinding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.ChatBinding{}
	for _, b := range s.bindings[userID] {
		out = append(out, *b)
	}
	return out
}

// AddBinding pins a chat for userID. Pinning the same chat twice is a no-op.
func (s *Service) AddBinding(userID string, b models.ChatBinding) error {
	if userID == "" || b.PeerKey == "" || b.DisplayName == "" || b.Kind == "" {
		return validation("user ID, chat with, display name, and type are required")
	}
	if b.Kind != models.KindDirect && b.Kind != models.KindGroup {
		return validation("unknown chat type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %w", ErrNotFound)
	}

	b.CreatedAt = s.now()
	b.LastMessage = ""
	if s.addBindingLocked(userID, &b) {
		s.persistLocked()
	}
	return nil
}

func (s *Service) addBindingLocked(userID string, b *models.ChatBinding) bool {
	key := b.Key()
	for _, existing := range s.bindings[userID] {
		if existing.Key() == key {
			return false
		}
	}
	s.bindings[userID] = append(s.bindings[userID], b)
	return true
}

// RemoveBinding unpins the chat identified by groupID, or by peerKey when no
// group is given. Removing an absent chat is a no-op.
func (s *Service) RemoveBinding(userID, peerKey, groupID string) error {
	if userID == "" || (peerKey == "" && groupID == "") {
		return validation("user ID and chat identifier are required")
	}

	key := groupID
	if key == "" {
		key = peerKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bindings := s.bindings[userID]
	kept := bindings[:0]
	for _, b := range bindings {
		if b.Key() != key {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(bindings) {
		return nil
	}
	for i := len(kept); i < len(bindings); i++ {
		bindings[i] = nil
	}
	s.bindings[userID] = kept

	s.persistLocked()
	return nil
}

// RenameBinding changes the display name of a pinned chat.
func (s *Service) RenameBinding(userID, key, displayName string) error {
	if userID == "" || key == "" || displayName == "" {
		return validation("chat identifier and display name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	for _, b := range s.bindings[userID] {
		if b.Key() == key {
			b.DisplayName = displayName
			s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("chat %w", ErrNotFound)
}

// OfflineCount is the number of messages a chat received while its owner
// was away. Key is a login name for direct chats and a group ID for groups.
type OfflineCount struct {
	Key   string
	Count int
}

// OfflineCounts reports, per chat, the messages other users sent to userID
// between its last logout and its last login. Direct chats come first, then
// groups in creation order.
func (s *Service) OfflineCounts(userID string) ([]OfflineCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUnauthenticated
	}

	out := []OfflineCount{}
	index := make(map[string]int)
	count := func(key string, m *models.Message) {
		if m.SenderID == userID || m.Timestamp.Before(u.LastOffline) || m.Timestamp.After(u.LastOnline) {
			return
		}
		if i, ok := index[key]; ok {
			out[i].Count++
			return
		}
		index[key] = len(out)
		out = append(out, OfflineCount{Key: key, Count: 1})
	}

	for _, m := range s.histories[userID] {
		sender, ok := s.users[m.SenderID]
		if !ok || m.Recipient != u.Name {
			continue
		}
		count(sender.Name, m)
	}
	for _, id := range s.groupOrder {
		g := s.groups[id]
		if !g.HasMember(userID) {
			continue
		}
		for _, m := range g.History {
			count(g.ID, m)
		}
	}

	return out, nil
}

func (s *Service) touchBindingLocked(userID, key, body string) {
	for _, b := range s.bindings[userID] {
		if b.Key() == key {
			b.LastMessage = body
			return
		}
	}
}
