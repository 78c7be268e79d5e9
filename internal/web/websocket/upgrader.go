// Package websocket streams task progress to browsers over a websocket, as
// an alternative to polling the task's progress record.
package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds WebSocket configuration
type Config struct {
	// Buffer sizes
	ReadBufferSize  int
	WriteBufferSize int

	// Origin check function
	CheckOrigin func(r *http.Request) bool

	// How often the task's progress record is read
	PollInterval time.Duration

	// Enable compression
	EnableCompression bool
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		PollInterval: 500 * time.Millisecond,
	}
}

// Upgrader upgrades HTTP connections to task progress streams
type Upgrader struct {
	ctx      context.Context
	config   *Config
	upgrader *websocket.Upgrader
	runner   *task.Runner
	router   *MessageRouter
	logger   *zap.Logger
}

// NewUpgrader creates an Upgrader streaming tasks of runner. Streams end when
// ctx is cancelled.
func NewUpgrader(ctx context.Context, config *Config, runner *task.Runner, logger *zap.Logger) *Upgrader {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Upgrader{
		ctx:    ctx,
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			CheckOrigin:       config.CheckOrigin,
			EnableCompression: config.EnableCompression,
		},
		runner: runner,
		router: NewMessageRouter(),
		logger: logger,
	}
}

// Router returns the router handling client messages
func (u *Upgrader) Router() *MessageRouter {
	return u.router
}

// ServeTask upgrades the request and streams the progress of task id until
// it finishes or the client goes away. Unknown tasks are reported before the
// upgrade so the caller can answer with a regular error response.
func (u *Upgrader) ServeTask(w http.ResponseWriter, r *http.Request, id uuid.UUID) error {
	if _, err := u.runner.Get(r.Context(), id); err != nil {
		return err
	}

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		u.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}

	s := newStream(u.ctx, id, conn, u.runner, u.router, u.logger)
	s.logger.Debug("progress stream opened")

	go s.WritePump()
	go s.ReadPump()
	s.Watch(u.config.PollInterval)
	return nil
}
