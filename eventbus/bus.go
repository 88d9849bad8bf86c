package eventbus

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler receives the payload passed to [Bus.Emit].
type Handler func(data any)

// subscription is a single registered handler. Its pointer is its identity,
// which lets the same Handler be registered several times and removed one
// registration at a time.
type subscription struct {
	event   string
	handler Handler
	once    bool

	// fired is claimed before a once handler runs so that nested emits
	// cannot deliver to it a second time.
	fired   atomic.Bool
	removed atomic.Bool
}

// Bus is a synchronous, in-process event registry.
//
// Bus is safe for concurrent use. Registry mutations are serialized by a
// mutex; handlers always run outside of it.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	logger *slog.Logger
}

// Option configures a [Bus].
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
// A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an empty [Bus].
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string][]*subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers handler for event and returns a function that removes exactly
// this registration. Calling the returned function more than once is a no-op.
//
// A nil handler registers nothing.
func (b *Bus) On(event string, handler Handler) (unsubscribe func()) {
	return b.add(event, handler, false)
}

// Once registers handler for event for a single delivery. The subscription is
// removed once the Emit that delivered to it completes. The returned function
// removes it earlier if it has not fired yet.
func (b *Bus) Once(event string, handler Handler) (unsubscribe func()) {
	return b.add(event, handler, true)
}

func (b *Bus) add(event string, handler Handler, once bool) func() {
	if handler == nil {
		return func() {}
	}

	sub := &subscription{event: event, handler: handler, once: once}

	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()

	return func() { b.remove(sub) }
}

// Emit delivers data to every handler subscribed to event, in the order they
// subscribed. Emit returns after all handlers have run. Emitting an event
// nobody listens to does nothing.
func (b *Bus) Emit(event string, data any) {
	b.mu.Lock()
	snapshot := slices.Clone(b.subs[event])
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	var spent []*subscription
	for _, sub := range snapshot {
		if sub.removed.Load() {
			continue
		}
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			spent = append(spent, sub)
		}
		b.invoke(sub, data)
	}

	for _, sub := range spent {
		b.remove(sub)
	}
}

// invoke runs a handler with panic recovery.
func (b *Bus) invoke(sub *subscription, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"correlation_id", uuid.NewString(),
				"event", sub.event,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	sub.handler(data)
}

// remove deletes sub from the registry and prunes the event when it has no
// subscribers left.
func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.removed.Swap(true) {
		return
	}

	subs := b.subs[sub.event]
	idx := slices.Index(subs, sub)
	if idx < 0 {
		return
	}

	// build a new slice: snapshots taken by in-flight emits share the old array
	remaining := make([]*subscription, 0, len(subs)-1)
	remaining = append(remaining, subs[:idx]...)
	remaining = append(remaining, subs[idx+1:]...)

	if len(remaining) == 0 {
		delete(b.subs, sub.event)
		return
	}
	b.subs[sub.event] = remaining
}

// Count returns the number of live subscriptions for event.
func (b *Bus) Count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}

// Events returns the names of all events that currently have subscribers,
// sorted alphabetically.
func (b *Bus) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every subscription. Unsubscribe functions handed out earlier
// become no-ops.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.removed.Store(true)
		}
	}
	b.subs = make(map[string][]*subscription)
}

// Listen subscribes fn to event, passing only payloads of type T. Payloads of
// any other type are logged and dropped.
//
// Example:
//
//	unsubscribe := eventbus.Listen(bus, "status", func(r poller.StatusResult) {
//	    st.Update(toStoreResult(r))
//	})
func Listen[T any](b *Bus, event string, fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return b.On(event, func(data any) {
		v, ok := data.(T)
		if !ok {
			b.logger.Warn("dropping event with unexpected payload type",
				"event", event,
				"payload_type", fmt.Sprintf("%T", data),
			)
			return
		}
		fn(v)
	})
}
