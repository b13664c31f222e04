package cmd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// controller is what the control socket can ask of a running server.
type controller interface {
	Stats() string
	Shutdown(reason string, completionTime time.Time)
}

type controlServer struct {
	path     string
	ctl      controller
	logger   *logrus.Entry
	listener net.Listener
}

func listenControl(path string, ctl controller, logger *logrus.Logger) (*controlServer, error) {
	// Remove a socket file left by a previous run
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("control socket: %w", err)
	}

	return &controlServer{
		path:     path,
		ctl:      ctl,
		logger:   logger.WithField("component", "control"),
		listener: listener,
	}, nil
}

func (c *controlServer) serve() {
	c.logger.WithField("path", c.path).Info("Control socket listening")

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		go c.handle(conn)
	}
}

func (c *controlServer) Close() {
	c.listener.Close()
	os.Remove(c.path)
}

func (c *controlServer) handle(conn net.Conn) {
	reason, completionTime, stop := c.respond(conn)
	// The client gets its reply and EOF before the server starts stopping.
	conn.Close()

	if !stop {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"reason":     reason,
		"completion": completionTime,
	}).Info("Shutdown requested")
	c.ctl.Shutdown(reason, completionTime)
}

// respond answers one command line. It reports whether a shutdown was
// accepted, with its reason and completion time.
func (c *controlServer) respond(conn net.Conn) (string, time.Time, bool) {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", time.Time{}, false
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + c.ctl.Stats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		var completionTime time.Time

		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}
		if len(parts) >= 3 && parts[2] != "" {
			t, err := time.Parse(time.RFC3339, parts[2])
			if err != nil {
				conn.Write([]byte("ERROR|Invalid time\n"))
				return "", time.Time{}, false
			}
			completionTime = t
		}

		conn.Write([]byte("OK|Shutting down\n"))
		return reason, completionTime, true

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
	return "", time.Time{}, false
}

// sendControl sends one command line to the control socket and returns the
// payload of an OK reply.
func sendControl(path, command string) (string, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", path, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return "", err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}

	status, payload, _ := strings.Cut(strings.TrimSpace(line), "|")
	if status != "OK" {
		return "", fmt.Errorf("server error: %s", payload)
	}
	return payload, nil
}
