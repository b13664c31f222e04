package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"parley/api"
	"parley/auth"
	"parley/chat"
	"parley/config"
	"parley/db"
	"parley/logging"
	"parley/server"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the messaging server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		return runServer(cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// node ties the listeners to one chat service so they can be stopped in
// order.
type node struct {
	svc      *chat.Service
	tcp      *server.Server
	http     *api.Server
	database *db.DB
	logger   *logrus.Logger

	once sync.Once
	done chan struct{}
}

func (n *node) Stats() string {
	return n.svc.Stats()
}

// Shutdown says goodbye to line clients, stops HTTP and WebSocket traffic
// and writes the final snapshot.
func (n *node) Shutdown(reason string, completionTime time.Time) {
	n.once.Do(func() {
		n.tcp.Shutdown(reason, completionTime)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.http.Shutdown(ctx); err != nil {
			n.logger.WithError(err).Warn("HTTP shutdown incomplete")
		}

		n.svc.Flush()
		if err := n.database.Close(); err != nil {
			n.logger.WithError(err).Warn("Failed to close database")
		}
		close(n.done)
	})
}

func runServer(cfg *config.Config, logger *logrus.Logger) error {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}

	svc, err := chat.New(database, logger, chat.Options{BcryptCost: cfg.BcryptCost})
	if err != nil {
		database.Close()
		return err
	}

	n := &node{
		svc: svc,
		tcp: server.New(svc, &server.ServerConfig{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeoutDuration(),
			WriteTimeout: cfg.WriteTimeoutDuration(),
			OutboxSize:   cfg.OutboxSize,
		}, logger),
		http: api.New(svc, auth.NewTokenManager(cfg.JWTSecret, "parley", cfg.TokenTTLDuration()), logger, api.Options{
			Addr:         cfg.HTTPAddr,
			ReadTimeout:  cfg.ReadTimeoutDuration(),
			WriteTimeout: cfg.WriteTimeoutDuration(),
			OutboxSize:   cfg.OutboxSize,
			RequireToken: cfg.RequireSessionToken,
		}),
		database: database,
		logger:   logger,
		done:     make(chan struct{}),
	}

	control, err := listenControl(cfg.ControlSocket, n, logger)
	if err != nil {
		logger.WithError(err).Warn("Control socket disabled")
	} else {
		go control.serve()
		defer control.Close()
	}

	errc := make(chan error, 2)
	go func() { errc <- n.tcp.Start() }()
	go func() { errc <- n.http.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutting down")
		n.Shutdown("maintenance", time.Time{})
	case <-n.done:
	case err = <-errc:
		// A listener only returns nil once Shutdown has closed it.
		if err == nil {
			<-n.done
			return nil
		}
		logger.WithError(err).Error("Listener failed")
		n.Shutdown("error", time.Time{})
		return err
	}

	return nil
}
