// Package broadcaster fans agent events out to channel adapters, web
// sockets, and log shippers. Grounded on the teacher's EventSink/MultiSink
// idiom in internal/agent/event_sink.go, generalized to spec.md §6's
// outbound event taxonomy and per-broadcaster monotonic sequencing.
package broadcaster

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventType names one of the outbound events spec.md §6 requires.
type EventType string

const (
	EventAgentResponse     EventType = "agent.response"
	EventToolResult        EventType = "tool.result"
	EventAgentSubtypeChg   EventType = "agent.subtype_change"
	EventSessionComplete   EventType = "session.complete"
	EventTaskStatusChange  EventType = "task.status_change"
	EventTaskQueueUpdate   EventType = "task.queue_update"
)

// Event is a single broadcast item. Sequence is assigned by the
// Broadcaster and is monotonic across every event it emits, letting a
// disconnected consumer resume from the last sequence it saw.
type Event struct {
	Sequence  uint64         `json:"sequence"`
	Type      EventType      `json:"type"`
	ChannelID string         `json:"channel_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Success   bool           `json:"success,omitempty"`
	Content   string         `json:"content,omitempty"`
	Key       string         `json:"key,omitempty"`
	Label     string         `json:"label,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Sink receives broadcast events. Implementations must be safe for
// concurrent use and must not block the broadcaster for long — websocket
// and log-shipper sinks should buffer or drop rather than stall dispatch.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Broadcaster is multi-producer, multi-consumer: any number of dispatcher
// goroutines may call its emit methods concurrently, and any number of
// sinks (websocket fan-out, log shipper) independently consume every
// event, per spec.md §5's "Shared resources" list.
type Broadcaster struct {
	mu    sync.RWMutex
	sinks []Sink
	seq   uint64 // atomic
}

// New creates a Broadcaster with an initial set of sinks.
func New(sinks ...Sink) *Broadcaster {
	b := &Broadcaster{}
	for _, s := range sinks {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
	return b
}

// AddSink registers an additional sink (e.g. a newly connected websocket).
func (b *Broadcaster) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Broadcaster) nextSeq() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}

func (b *Broadcaster) emit(ctx context.Context, e Event) {
	e.Sequence = b.nextSeq()
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Emit(ctx, e)
	}
}

// AgentResponse broadcasts the dispatcher's returned text to the channel.
// Never called when the text was already delivered via SayToUser — see
// spec.md §4.5's exactly-once delivery invariant.
func (b *Broadcaster) AgentResponse(ctx context.Context, channelID, text string) {
	if text == "" {
		return
	}
	b.emit(ctx, Event{Type: EventAgentResponse, ChannelID: channelID, Text: text})
}

// ToolResult broadcasts a single tool call's outcome.
func (b *Broadcaster) ToolResult(ctx context.Context, channelID, sessionID, toolName string, success bool, content string) {
	b.emit(ctx, Event{
		Type: EventToolResult, ChannelID: channelID, SessionID: sessionID,
		ToolName: toolName, Success: success, Content: content,
	})
}

// SubtypeChange broadcasts a subtype transition (only fired when the key
// actually changed, per orchestrator.Context.SetSubtype).
func (b *Broadcaster) SubtypeChange(ctx context.Context, channelID, key, label string) {
	b.emit(ctx, Event{Type: EventAgentSubtypeChg, ChannelID: channelID, Key: key, Label: label})
}

// SessionComplete broadcasts a terminal session transition.
func (b *Broadcaster) SessionComplete(ctx context.Context, channelID, sessionID string) {
	b.emit(ctx, Event{Type: EventSessionComplete, ChannelID: channelID, SessionID: sessionID})
}

// TaskStatusChange broadcasts a single task's status transition.
func (b *Broadcaster) TaskStatusChange(ctx context.Context, channelID, sessionID, taskID, status string) {
	b.emit(ctx, Event{
		Type: EventTaskStatusChange, ChannelID: channelID, SessionID: sessionID,
		Meta: map[string]any{"task_id": taskID, "status": status},
	})
}

// TaskQueueUpdate broadcasts a whole-queue snapshot change.
func (b *Broadcaster) TaskQueueUpdate(ctx context.Context, channelID, sessionID string, pending, inProgress, completed, failed int) {
	b.emit(ctx, Event{
		Type: EventTaskQueueUpdate, ChannelID: channelID, SessionID: sessionID,
		Meta: map[string]any{
			"pending": pending, "in_progress": inProgress,
			"completed": completed, "failed": failed,
		},
	})
}

// ChanSink sends events to a buffered channel, dropping on backpressure —
// mirrors internal/agent/event_sink.go's ChanSink semantics.
type ChanSink struct {
	ch chan<- Event
}

// NewChanSink creates a sink backed by a channel. The channel should be
// buffered; a full channel causes the event to be dropped, not block.
func NewChanSink(ch chan<- Event) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}
