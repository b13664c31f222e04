package api

import (
	"net/http"

	"parley/models"

	"github.com/sirupsen/logrus"
)

type registerRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// AccountResponse is returned by /register and /login.
type AccountResponse struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber"`
	Token       string `json:"token,omitempty"`
}

type createGroupRequest struct {
	GroupName string `json:"groupName"`
	CreatorID string `json:"creatorId"`
}

type CreateGroupResponse struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
}

type joinGroupRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type addUserToGroupRequest struct {
	GroupID        string `json:"groupId"`
	UserID         string `json:"userId"`
	TargetUsername string `json:"targetUsername"`
}

type messageRequestRequest struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Message    string `json:"message"`
}

type MessageRequestResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
}

type respondRequest struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Accept    *bool  `json:"accept"`
}

type saveChatRequest struct {
	UserID      string `json:"userId"`
	ChatWith    string `json:"chatWith"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	GroupID     string `json:"groupId"`
}

type removeChatRequest struct {
	UserID   string `json:"userId"`
	ChatWith string `json:"chatWith"`
	GroupID  string `json:"groupId"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: s.svc.SessionCount(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil || req.Name == "" || req.DisplayName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Name, display name, and password are required")
		return
	}

	user, err := s.svc.Register(req.Name, req.DisplayName, req.Password)
	if err != nil {
		s.fail(w, err, "Registration failed")
		return
	}

	s.writeAccount(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil || req.Name == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := s.svc.Authenticate(req.Name, req.Password)
	if err != nil {
		s.fail(w, err, "Login failed")
		return
	}

	s.writeAccount(w, user)
}

func (s *Server) writeAccount(w http.ResponseWriter, user models.User) {
	resp := AccountResponse{
		UserID:      user.ID,
		Name:        user.Name,
		DisplayName: user.DisplayName,
		PhoneNumber: user.PhoneNumber,
	}

	if s.tokens != nil {
		token, err := s.tokens.GenerateToken(user.ID, user.Name)
		if err != nil {
			s.logger.WithError(err).WithField("component", "api").Error("Failed to issue session token")
			writeError(w, http.StatusInternalServerError, "Failed to issue session token")
			return
		}
		resp.Token = token
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLookupUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Lookup(r.PathValue("identifier"))
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	user.Online = s.svc.Online(user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decode(r, &req); err != nil || req.GroupName == "" || req.CreatorID == "" {
		writeError(w, http.StatusBadRequest, "Group name and creator ID are required")
		return
	}

	group, err := s.svc.CreateGroup(req.GroupName, req.CreatorID)
	if err != nil {
		s.fail(w, err, "Failed to create group")
		return
	}

	writeJSON(w, http.StatusOK, CreateGroupResponse{GroupID: group.ID, GroupName: group.Name})
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinGroupRequest
	if err := decode(r, &req); err != nil || req.GroupID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Group ID and user ID are required")
		return
	}

	if err := s.svc.JoinGroup(req.GroupID, req.UserID); err != nil {
		s.fail(w, err, "Failed to join group")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleAddUserToGroup(w http.ResponseWriter, r *http.Request) {
	var req addUserToGroupRequest
	if err := decode(r, &req); err != nil || req.GroupID == "" || req.UserID == "" || req.TargetUsername == "" {
		writeError(w, http.StatusBadRequest, "Group ID, user ID, and target username are required")
		return
	}

	added, err := s.svc.AddMember(req.GroupID, req.UserID, req.TargetUsername)
	if err != nil {
		s.fail(w, err, "Failed to add user to group")
		return
	}

	if !added {
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "User already in group"})
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.svc.MembersWithStatus(r.PathValue("groupId"))
	if err != nil {
		s.fail(w, err, "Failed to list group members")
		return
	}

	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleSendMessageRequest(w http.ResponseWriter, r *http.Request) {
	var req messageRequestRequest
	if err := decode(r, &req); err != nil || req.FromUserID == "" || req.ToUserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "From user, to user, and message are required")
		return
	}

	mr, err := s.svc.SubmitRequest(req.FromUserID, req.ToUserID, req.Message)
	if err != nil {
		s.fail(w, err, "Failed to send message request")
		return
	}

	writeJSON(w, http.StatusOK, MessageRequestResponse{Success: true, RequestID: mr.ID})
}

func (s *Server) handleRespondToRequest(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decode(r, &req); err != nil || req.RequestID == "" || req.UserID == "" || req.Accept == nil {
		writeError(w, http.StatusBadRequest, "Request ID, user ID, and accept status are required")
		return
	}

	if err := s.svc.Respond(req.RequestID, req.UserID, *req.Accept); err != nil {
		s.fail(w, err, "Failed to respond to request")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"component": "api",
		"request":   req.RequestID,
		"accept":    *req.Accept,
	}).Debug("Message request resolved")

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	pending := s.svc.PendingFor(r.PathValue("userId"))
	if pending == nil {
		pending = []models.MessageRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	bindings := s.svc.ListBindings(r.PathValue("userId"))
	if bindings == nil {
		bindings = []models.ChatBinding{}
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (s *Server) handleSaveChat(w http.ResponseWriter, r *http.Request) {
	var req saveChatRequest
	if err := decode(r, &req); err != nil || req.UserID == "" || req.ChatWith == "" || req.DisplayName == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "User ID, chat with, display name, and type are required")
		return
	}

	kind, ok := models.ParseKind(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown chat type")
		return
	}

	err := s.svc.AddBinding(req.UserID, models.ChatBinding{
		PeerKey:     req.ChatWith,
		DisplayName: req.DisplayName,
		Kind:        kind,
		GroupID:     req.GroupID,
	})
	if err != nil {
		s.fail(w, err, "Failed to save chat")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleRemoveChat(w http.ResponseWriter, r *http.Request) {
	var req removeChatRequest
	if err := decode(r, &req); err != nil || req.UserID == "" || (req.ChatWith == "" && req.GroupID == "") {
		writeError(w, http.StatusBadRequest, "User ID and chat identifier are required")
		return
	}

	if err := s.svc.RemoveBinding(req.UserID, req.ChatWith, req.GroupID); err != nil {
		s.fail(w, err, "Failed to remove chat")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
