package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conduit-lang/admin/internal/admin/task"
)

// Message types sent to and accepted from a progress stream
const (
	TypeProgress      = "progress"
	TypeDone          = "done"
	TypeError         = "error"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeStop          = "stop"
	TypeStopRequested = "stop_requested"
)

// Message is one frame of a progress stream
type Message struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload interface{}     `json:"-"`
}

// ProgressPayload is the data of progress and done messages
type ProgressPayload struct {
	*task.Progress
	Percent float64 `json:"percent"`
}

// NewProgressPayload wraps p with its completion percentage
func NewProgressPayload(p *task.Progress) ProgressPayload {
	return ProgressPayload{Progress: p, Percent: p.Percent()}
}

// marshalMessage converts a Message to JSON bytes
func marshalMessage(message *Message) ([]byte, error) {
	if message.Payload != nil {
		data, err := json.Marshal(message.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		message.Data = data
	}

	return json.Marshal(message)
}

// MessageHandler handles one message received from the client
type MessageHandler func(ctx context.Context, s *Stream, message *Message) error

// MessageRouter routes messages based on type
type MessageRouter struct {
	handlers map[string]MessageHandler
}

// NewMessageRouter creates a router with the ping and stop handlers
func NewMessageRouter() *MessageRouter {
	r := &MessageRouter{handlers: make(map[string]MessageHandler)}
	r.Register(TypePing, PingHandler)
	r.Register(TypeStop, StopHandler)
	return r
}

// Register registers a handler for a message type
func (r *MessageRouter) Register(messageType string, handler MessageHandler) {
	r.handlers[messageType] = handler
}

// Route routes a message to the appropriate handler
func (r *MessageRouter) Route(ctx context.Context, s *Stream, message *Message) error {
	handler, ok := r.handlers[message.Type]
	if !ok {
		return fmt.Errorf("no handler for message type: %s", message.Type)
	}

	return handler(ctx, s, message)
}

// PingHandler answers with a pong echoing the ping's data
func PingHandler(ctx context.Context, s *Stream, message *Message) error {
	return s.Send(&Message{Type: TypePong, Data: message.Data})
}

// StopHandler asks the watched task to stop. The task notices on its next
// check; the stream reports the outcome with the final done message.
func StopHandler(ctx context.Context, s *Stream, message *Message) error {
	if err := s.runner.Stop(ctx, s.taskID); err != nil {
		return err
	}
	return s.SendJSON(TypeStopRequested, map[string]string{"id": s.taskID.String()})
}
