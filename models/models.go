package models

import "time"

// Kind distinguishes one-to-one conversations from group conversations.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// ParseKind accepts the wire spellings of a conversation kind.
// "private" is the legacy name used by older clients for direct chats.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "direct", "private":
		return KindDirect, true
	case "group":
		return KindGroup, true
	}
	return "", false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"displayName"`
	PhoneNumber  string    `json:"phoneNumber"`
	PasswordHash string    `json:"-"`
	Online       bool      `json:"online"`
	CreatedAt    time.Time `json:"createdAt"`

	// Presence bounds, zero until the user first logs in or out.
	LastOnline  time.Time `json:"-"`
	LastOffline time.Time `json:"-"`
}

type MessageRequest struct {
	ID           string        `json:"id"`
	FromUserID   string        `json:"fromUserId"`
	FromName     string        `json:"fromName"`
	FromUsername string        `json:"fromUsername"`
	ToUserID     string        `json:"toUserId"`
	Message      string        `json:"message"`
	Timestamp    time.Time     `json:"timestamp"`
	Status       RequestStatus `json:"status"`
}

// Message is immutable once recorded. Recipient holds the recipient's login
// name for direct messages and the group ID for group messages.
type Message struct {
	ID                string    `json:"id"`
	SenderID          string    `json:"from"`
	SenderDisplayName string    `json:"fromName"`
	Recipient         string    `json:"to"`
	Kind              Kind      `json:"type"`
	Body              string    `json:"message"`
	Timestamp         time.Time `json:"timestamp"`
}

type Group struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Members   []string   `json:"members"`
	History   []*Message `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type ChatBinding struct {
	PeerKey     string    `json:"chatWith"`
	DisplayName string    `json:"displayName"`
	Kind        Kind      `json:"type"`
	GroupID     string    `json:"groupId,omitempty"`
	LastMessage string    `json:"lastMessage,omitempty"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Key identifies the conversation a binding points at: the group for group
// chats, the peer otherwise.
func (b *ChatBinding) Key() string {
	if b.GroupID != "" {
		return b.GroupID
	}
	return b.PeerKey
}

type MemberStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Online      bool   `json:"online"`
}

// Snapshot is the full persisted state. Maps are keyed by user ID; slices keep
// insertion order.
type Snapshot struct {
	Users     []*User
	Histories map[string][]*Message
	Groups    []*Group
	Requests  map[string][]*MessageRequest
	Bindings  map[string][]*ChatBinding
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Histories: make(map[string][]*Message),
		Requests:  make(map[string][]*MessageRequest),
		Bindings:  make(map[string][]*ChatBinding),
	}
}
