package server

import (
	"net"
	"time"

	"parley/chat"
	"parley/protocol"

	"github.com/sirupsen/logrus"
)

// eventReply carries a preformatted ok/fail line through the same queue as
// chat events so replies and notifications reach the client in order.
const eventReply chat.EventType = "reply"

// Session is one line-protocol connection. It implements chat.Conn: the
// service queues events, the writer goroutine puts them on the wire.
type Session struct {
	conn         net.Conn
	outbox       *chat.Outbox
	writeTimeout time.Duration
	logger       *logrus.Entry
	writerDone   chan struct{}
}

func newSession(conn net.Conn, outboxSize int, writeTimeout time.Duration, logger *logrus.Logger) *Session {
	remote := "pipe"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		conn:         conn,
		outbox:       chat.NewOutbox(outboxSize),
		writeTimeout: writeTimeout,
		logger:       logger.WithFields(logrus.Fields{"component": "tcp", "remote": remote}),
		writerDone:   make(chan struct{}),
	}
}

func (sess *Session) Send(ev chat.Event) bool {
	return sess.outbox.Push(ev)
}

// Close stops the queue; the writer flushes what is left and closes the
// socket.
func (sess *Session) Close() error {
	sess.outbox.Close()
	return nil
}

func (sess *Session) RemoteAddr() string {
	if addr := sess.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "pipe"
}

func (sess *Session) reply(pktType string, fields ...string) {
	line := formatReply(pktType, fields...)
	if !sess.outbox.Push(chat.Event{Type: eventReply, Payload: line}) {
		sess.logger.Warn("Outbox full, dropping reply")
	}
}

func (sess *Session) sendOK(operation string, fields ...string) {
	sess.reply("ok", append([]string{operation}, fields...)...)
}

// sendList replies ok|operation|item,item,... with each item's sub-fields
// joined by a raw |.
func (sess *Session) sendList(operation string, items [][]string) {
	line := protocol.FormatListPacket("ok", []string{operation}, items)
	if !sess.outbox.Push(chat.Event{Type: eventReply, Payload: line}) {
		sess.logger.Warn("Outbox full, dropping reply")
	}
}

func (sess *Session) sendError(operation, description string) {
	if operation != "" {
		sess.reply("fail", operation, description)
	} else {
		sess.reply("fail", description)
	}
}

func (sess *Session) writeLoop() {
	defer close(sess.writerDone)
	defer sess.conn.Close()

	for {
		select {
		case ev := <-sess.outbox.Events():
			if !sess.write(ev) {
				sess.outbox.Close()
				return
			}
		case <-sess.outbox.Done():
			for _, ev := range sess.outbox.Drain() {
				if !sess.write(ev) {
					return
				}
			}
			return
		}
	}
}

func (sess *Session) write(ev chat.Event) bool {
	line, ok := encodeEvent(ev)
	if !ok {
		sess.logger.WithField("event", ev.Type).Warn("No line encoding for event")
		return true
	}

	sess.conn.SetWriteDeadline(time.Now().Add(sess.writeTimeout))
	if _, err := sess.conn.Write([]byte(line)); err != nil {
		sess.logger.WithError(err).Debug("Error writing to connection")
		return false
	}
	return true
}
