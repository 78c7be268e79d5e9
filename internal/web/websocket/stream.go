package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send small control messages
	maxMessageSize = 4 * 1024
)

var errStreamClosed = errors.New("stream closed")

// Stream pushes the progress of one task to one websocket connection
type Stream struct {
	taskID uuid.UUID
	conn   *websocket.Conn
	runner *task.Runner
	router *MessageRouter
	logger *zap.Logger

	// Buffered channel of outbound messages
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closed atomic.Bool
}

func newStream(ctx context.Context, id uuid.UUID, conn *websocket.Conn, runner *task.Runner, router *MessageRouter, logger *zap.Logger) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		taskID: id,
		conn:   conn,
		runner: runner,
		router: router,
		logger: logger.With(zap.String("task_id", id.String())),
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// TaskID returns the id of the watched task
func (s *Stream) TaskID() uuid.UUID {
	return s.taskID
}

// ReadPump routes client messages until the connection closes
func (s *Stream) ReadPump() {
	defer s.cancel()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			s.SendError("invalid message")
			continue
		}
		if err := s.router.Route(s.ctx, s, &message); err != nil {
			s.logger.Debug("message rejected", zap.String("type", message.Type), zap.Error(err))
			s.SendError(err.Error())
		}
	}
}

// WritePump writes queued messages and keepalive pings. A closed send
// channel ends the stream with a close frame.
func (s *Stream) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.cancel()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// Watch polls the task every interval and sends a progress message whenever
// its record changed. It sends done and closes the stream once the task has
// finished, and returns early when the stream is cancelled.
func (s *Stream) Watch(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	for {
		p, err := s.runner.Get(s.ctx, s.taskID)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("task poll failed", zap.Error(err))
			s.SendError("task is no longer available")
			s.finish()
			return
		}

		if p.Done() {
			s.SendJSON(TypeDone, NewProgressPayload(p))
			s.finish()
			return
		}
		if !p.UpdatedAt.Equal(last) {
			last = p.UpdatedAt
			s.SendJSON(TypeProgress, NewProgressPayload(p))
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Send queues a message for the client
func (s *Stream) Send(message *Message) (err error) {
	// Protect against send on closed channel
	defer func() {
		if r := recover(); r != nil {
			err = errStreamClosed
		}
	}()

	if s.closed.Load() {
		return errStreamClosed
	}

	data, err := marshalMessage(message)
	if err != nil {
		return err
	}

	select {
	case s.send <- data:
		return nil
	case <-s.ctx.Done():
		return context.Canceled
	default:
		return fmt.Errorf("send channel full")
	}
}

// SendJSON queues a message with payload as its data
func (s *Stream) SendJSON(messageType string, payload interface{}) error {
	return s.Send(&Message{Type: messageType, Payload: payload})
}

// SendError queues an error message. Failures are ignored; the client may be gone.
func (s *Stream) SendError(errorMsg string) {
	_ = s.SendJSON(TypeError, map[string]string{"message": errorMsg})
}

// finish closes the send channel so WritePump flushes and closes the connection
func (s *Stream) finish() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.send)
	}
}
