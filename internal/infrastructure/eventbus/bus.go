// Package eventbus implements the Event Bus (C11, §4.10): fire-and-forget
// typed delivery of dialog lifecycle events to per-rootId or global
// subscribers. The bus never blocks producers — a slow or absent subscriber
// drops events rather than stalling a drive.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event type constants — the §4.10 minimum event-type set.
const (
	TypeRunState        = "dlg_run_state_evt"
	TypeNewQ4H          = "new_q4h_asked"
	TypeQ4HAnswered     = "q4h_answered"
	TypeDiligenceBudget = "diligence_budget_evt"
	TypeLLMRetry        = "llm_retry_evt"
	TypeTeammateCall    = "teammate_call_start_evt"
	TypeGeneratingStart = "generating_start_evt"
	TypeGeneratingFinish = "generating_finish_evt"

	// typeEOS is never published by producers; it is synthesized per
	// subscriber channel when the bus or the subscription is closed, per
	// the §9 "End-Of-Stream sentinel terminates" subscriber contract.
	typeEOS = "__end_of_stream__"
)

// Event is a single typed occurrence on a dialog (or global, for RootID="").
type Event struct {
	Type      string
	RootID    string
	Timestamp time.Time
	Payload   interface{}
}

// IsEndOfStream reports whether this event is the terminal sentinel a
// subscriber channel receives right before it closes.
func (e Event) IsEndOfStream() bool { return e.Type == typeEOS }

// RunStatePayload backs dlg_run_state_evt.
type RunStatePayload struct {
	DialogID string
	State    string // entity.RunState.String()
}

// NewQ4HPayload backs new_q4h_asked.
type NewQ4HPayload struct {
	DialogID string
	Q4HID    string
	Content  string
}

// Q4HAnsweredPayload backs q4h_answered.
type Q4HAnsweredPayload struct {
	DialogID string
	Q4HID    string
}

// DiligenceBudgetPayload backs diligence_budget_evt.
type DiligenceBudgetPayload struct {
	DialogID       string
	MaxInjectCount int
	InjectedCount  int
	RemainingCount int
}

// LLMRetryPayload backs llm_retry_evt.
type LLMRetryPayload struct {
	DialogID   string
	Phase      string // "retrying" | "exhausted"
	Attempt    int
	Total      int
	BackoffMs  int64
	Suggestion string
}

// TeammateCallPayload backs teammate_call_start_evt.
type TeammateCallPayload struct {
	DialogID string
	CallType string
	TargetAgentID string
}

// GeneratingPayload backs generating_start_evt/generating_finish_evt.
type GeneratingPayload struct {
	DialogID string
	Model    string
}

type subscriber struct {
	rootID string // "" means global
	ch     chan Event
}

// Bus is the C11 event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	closed      bool
	logger      *zap.Logger
}

func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{subscribers: make(map[int]*subscriber), bufferSize: bufferSize, logger: logger}
}

// Subscribe returns a channel of events scoped to rootID, or every event if
// rootID is "". The channel receives an End-Of-Stream event and is closed
// when Unsubscribe or Close is called.
func (b *Bus) Subscribe(rootID string) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{rootID: rootID, ch: make(chan Event, b.bufferSize)}
	b.subscribers[id] = sub
	b.mu.Unlock()

	return sub.ch, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	sub.ch <- Event{Type: typeEOS, Timestamp: time.Now()}
	close(sub.ch)
}

// Publish fire-and-forgets an event to every matching subscriber; a full
// subscriber channel has the event dropped rather than blocking the
// producer, and the drop is logged for observability.
func (b *Bus) Publish(eventType, rootID string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev := Event{Type: eventType, RootID: rootID, Timestamp: time.Now(), Payload: payload}
	for _, sub := range b.subscribers {
		if sub.rootID != "" && sub.rootID != rootID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event bus: subscriber buffer full, dropping event",
				zap.String("type", eventType), zap.String("root_id", rootID))
		}
	}
}

// Close terminates every subscription with an End-Of-Stream event.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	ids := make([]int, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.unsubscribe(id)
	}
}
