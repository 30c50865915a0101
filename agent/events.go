package agent

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventThinking         EventKind = "thinking"
	EventToolCall         EventKind = "tool_call"
	EventToolResult       EventKind = "tool_result"
	EventApprovalRequired EventKind = "approval_required"
	EventMessage          EventKind = "message"
	EventError            EventKind = "error"
	EventDone             EventKind = "done"
)

// Event is a typed event emitted by the engine.
type Event struct {
	Kind           EventKind      `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data,omitempty"`
}

// MarshalJSON flattens Data next to the type, conversation id and timestamp,
// which is the shape transports send to clients.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = string(e.Kind)
	out["conversation_id"] = e.ConversationID
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// String returns a string field of the event data, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

func thinkingEvent(iteration int, message string) (EventKind, map[string]any) {
	return EventThinking, map[string]any{"iteration": iteration, "message": message}
}

func reasoningEvent(message, content string) (EventKind, map[string]any) {
	return EventThinking, map[string]any{"message": message, "content": content}
}

func errorEvent(err error, message string) (EventKind, map[string]any) {
	data := map[string]any{"message": message}
	if err != nil {
		data["error"] = err.Error()
	}
	return EventError, data
}

// emitter delivers events for one engine run. Sends block until the
// consumer reads them or the run's context is cancelled; nothing is dropped
// while the consumer keeps draining.
type emitter struct {
	ctx            context.Context
	conversationID string
	ch             chan Event
}

func newEmitter(ctx context.Context, conversationID string, bufferSize int) *emitter {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &emitter{
		ctx:            ctx,
		conversationID: conversationID,
		ch:             make(chan Event, bufferSize),
	}
}

// emit sends an event and reports whether the consumer is still listening.
func (e *emitter) emit(kind EventKind, data map[string]any) bool {
	event := Event{
		Kind:           kind,
		ConversationID: e.conversationID,
		Timestamp:      time.Now().UTC(),
		Data:           data,
	}
	// A cancelled run never blocks on a full channel.
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.ch <- event:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) events() <-chan Event {
	return e.ch
}

func (e *emitter) close() {
	close(e.ch)
}
