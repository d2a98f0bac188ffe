package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Well-known event types.
const (
	EventCommandHandled       = "command.handled"
	EventPublishCompleted     = "publish.completed"
	EventTempFileCleanupError = "tempfile.cleanup_failed"
)

// Outcome values carried by events.
const (
	OutcomeSuccess     = "success"
	OutcomeUsageError  = "usage_error"
	OutcomeRemoteError = "remote_error"
	OutcomeInternal    = "internal_error"
	OutcomeDenied      = "denied"
)

// Event is a record of something a command did. Fields not relevant to the
// event type are left zero.
type Event struct {
	Type      string
	RequestID string
	Command   string // start | help | post | upload
	ChatID    int64
	UserID    int64
	Site      string
	Mode      string // text | file
	Title     string
	PostID    string
	Outcome   string
	Error     string
	Path      string // temp file, for cleanup failures
	Duration  time.Duration
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus for internal events.
// Handlers are expected to be registered before the bot starts polling.
type EventBus struct {
	handlers map[string][]namedHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events.
func (eb *EventBus) On(eventType string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + strconv.Itoa(len(eb.handlers[eventType]))
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
}

// Emit delivers the event to all matching handlers synchronously, in
// registration order. A panicking handler is logged and skipped.
// A nil bus drops the event.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}
