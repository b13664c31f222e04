package chat

import (
	"fmt"

	"parley/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateGroup registers a group with the creator as its only member and pins
// it to the creator's chat list.
func (s *Service) CreateGroup(name, creatorID string) (models.Group, error) {
	if name == "" || creatorID == "" {
		return models.Group{}, validation("group name and creator ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	creator, ok := s.users[creatorID]
	if !ok {
		return models.Group{}, fmt.Errorf("user %w", ErrNotFound)
	}

	g := &models.Group{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   []string{creator.ID},
		History:   []*models.Message{},
		CreatedAt: s.now(),
	}
	s.groups[g.ID] = g
	s.groupOrder = append(s.groupOrder, g.ID)

	s.addBindingLocked(creator.ID, s.groupBindingLocked(g))
	s.persistLocked()

	s.logger.WithFields(logrus.Fields{
		"component": "groups",
		"group_id":  g.ID,
		"creator":   creator.Name,
	}).Info("Group created")

	return cloneGroup(g), nil
}

// JoinGroup adds userID to the group. Joining twice is a no-op.
func (s *Service) JoinGroup(groupID, userID string) error {
	if groupID == "" || userID == "" {
		return validation("group ID and user ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	if g.HasMember(userID) {
		return nil
	}

	g.Members = append(g.Members, userID)
	s.addBindingLocked(userID, s.groupBindingLocked(g))
	s.persistLocked()
	return nil
}

// AddMember lets an existing member add target, given by login name or user
// ID. It reports false when target already belongs to the group.
func (s *Service) AddMember(groupID, requesterID, target string) (bool, error) {
	if groupID == "" || requesterID == "" || target == "" {
		return false, validation("group ID, user ID, and target username are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return false, ErrGroupNotFound
	}
	if !g.HasMember(requesterID) {
		return false, ErrNotAMember
	}

	u, ok := s.userByNameLocked(target)
	if !ok {
		if u, ok = s.users[target]; !ok {
			return false, fmt.Errorf("user %w", ErrNotFound)
		}
	}
	if g.HasMember(u.ID) {
		return false, nil
	}

	g.Members = append(g.Members, u.ID)
	s.addBindingLocked(u.ID, s.groupBindingLocked(g))
	s.persistLocked()

	s.pushLocked(u.ID, Event{
		Type:    EventAddedToGroup,
		Payload: AddedToGroup{GroupID: g.ID, GroupName: g.Name},
	})

	s.logger.WithFields(logrus.Fields{
		"component": "groups",
		"group_id":  g.ID,
		"user":      u.Name,
	}).Debug("Member added")

	return true, nil
}

// MembersWithStatus lists the group's members with their presence. Members
// whose user record is missing are skipped.
func (s *Service) MembersWithStatus(groupID string) ([]models.MemberStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}

	out := make([]models.MemberStatus, 0, len(g.Members))
	for _, id := range g.Members {
		u, ok := s.users[id]
		if !ok {
			continue
		}
		_, online := s.sessions[id]
		out = append(out, models.MemberStatus{
			ID:          u.ID,
			Name:        u.Name,
			DisplayName: u.DisplayName,
			Online:      online,
		})
	}
	return out, nil
}

// RecordGroupMessage appends a message to the group's shared history.
func (s *Service) RecordGroupMessage(senderID, groupID, body string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, _, err := s.recordGroupLocked(senderID, groupID, body)
	if err != nil {
		return nil, err
	}
	s.persistLocked()
	return msg, nil
}

func (s *Service) recordGroupLocked(senderID, groupID, body string) (*models.Message, *models.Group, error) {
	sender, ok := s.users[senderID]
	if !ok {
		return nil, nil, ErrUnauthenticated
	}
	if groupID == "" || body == "" {
		return nil, nil, validation("group and message are required")
	}
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil, ErrGroupNotFound
	}
	if !g.HasMember(sender.ID) {
		return nil, nil, ErrNotAMember
	}

	msg := &models.Message{
		ID:                uuid.NewString(),
		SenderID:          sender.ID,
		SenderDisplayName: sender.DisplayName,
		Recipient:         g.ID,
		Kind:              models.KindGroup,
		Body:              body,
		Timestamp:         s.now(),
	}
	g.History = append(g.History, msg)

	for _, id := range g.Members {
		s.touchBindingLocked(id, g.ID, body)
	}

	return msg, g, nil
}

func (s *Service) groupBindingLocked(g *models.Group) *models.ChatBinding {
	return &models.ChatBinding{
		PeerKey:     g.ID,
		DisplayName: g.Name,
		Kind:        models.KindGroup,
		GroupID:     g.ID,
		CreatedAt:   s.now(),
	}
}

func cloneGroup(g *models.Group) models.Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	c.History = append([]*models.Message(nil), g.History...)
	return c
}
