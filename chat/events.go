package chat

import "parley/models"

type EventType string

const (
	EventLoginSuccess      EventType = "login-success"
	EventPendingRequests   EventType = "pending-requests"
	EventNewMessage        EventType = "new-message"
	EventHistory           EventType = "messages"
	EventUserOnline        EventType = "user-online"
	EventUserOffline       EventType = "user-offline"
	EventNewMessageRequest EventType = "new-message-request"
	EventRequestAccepted   EventType = "request-accepted"
	EventAddedToGroup      EventType = "added-to-group"
	EventBye               EventType = "bye"
)

// Event is one server-to-client notification. Payload is one of the payload
// types below, a *models.Message, a models.MessageRequest or a
// []models.MessageRequest.
type Event struct {
	Type    EventType
	Payload any
}

type LoginSuccess struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber"`
}

type History struct {
	Peer     string            `json:"chatWith"`
	Kind     models.Kind       `json:"type"`
	Messages []*models.Message `json:"messages"`
}

type Presence struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type RequestAccepted struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
}

type AddedToGroup struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
}

type Bye struct {
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}
