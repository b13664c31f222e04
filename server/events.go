package server

import (
	"time"

	"parley/chat"
	"parley/models"
	"parley/protocol"
)

const wireTime = "2006-01-02T15:04:05Z"

func formatReply(pktType string, fields ...string) string {
	return protocol.FormatPacket(pktType, fields...)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(wireTime)
}

func messageFields(m *models.Message) []string {
	return []string{m.ID, string(m.Kind), m.SenderID, m.SenderDisplayName, m.Recipient, m.Body, formatTime(m.Timestamp)}
}

func requestFields(r models.MessageRequest) []string {
	return []string{r.ID, r.FromUserID, r.FromName, r.FromUsername, r.Message, formatTime(r.Timestamp)}
}

// encodeEvent renders a chat event as one protocol line.
func encodeEvent(ev chat.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case string:
		if ev.Type == eventReply {
			return p, true
		}
	case chat.LoginSuccess:
		return protocol.FormatPacket(string(ev.Type), p.UserID, p.DisplayName, p.PhoneNumber), true
	case []models.MessageRequest:
		items := make([][]string, 0, len(p))
		for _, r := range p {
			items = append(items, requestFields(r))
		}
		return protocol.FormatListPacket(string(ev.Type), nil, items), true
	case models.MessageRequest:
		return protocol.FormatPacket(string(ev.Type), requestFields(p)...), true
	case *models.Message:
		return protocol.FormatPacket(string(ev.Type), messageFields(p)...), true
	case chat.History:
		items := make([][]string, 0, len(p.Messages))
		for _, m := range p.Messages {
			items = append(items, messageFields(m))
		}
		return protocol.FormatListPacket(string(ev.Type), []string{p.Peer}, items), true
	case chat.Presence:
		return protocol.FormatPacket(string(ev.Type), p.Name, p.DisplayName), true
	case chat.RequestAccepted:
		return protocol.FormatPacket(string(ev.Type), p.RequestID, p.UserID), true
	case chat.AddedToGroup:
		return protocol.FormatPacket(string(ev.Type), p.GroupID, p.GroupName), true
	case chat.Bye:
		switch {
		case p.Details != "":
			return protocol.FormatPacket(string(ev.Type), p.Reason, p.Details), true
		case p.Reason != "":
			return protocol.FormatPacket(string(ev.Type), p.Reason), true
		default:
			return protocol.FormatPacket(string(ev.Type)), true
		}
	}
	return "", false
}
