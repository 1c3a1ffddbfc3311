package chat

import (
	"context"
	"sync/atomic"

	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/syncmap"
)

// ReactionFunc handles a reaction event on a subscribed message.
type ReactionFunc func(ctx context.Context, ev *message.ReactionEvent)

// Hub demultiplexes reaction events to per-message subscribers.
// At most one subscriber exists per message; subscribing again replaces it.
type Hub struct {
	subs *syncmap.Map[string, *Subscription]
	// self is the bot's own user ID. Events from it are dropped.
	self atomic.Value
}

// NewHub creates a new reaction hub.
func NewHub() *Hub {
	return &Hub{subs: syncmap.New[string, *Subscription]()}
}

// Subscription is a live reaction listener on a single message.
type Subscription struct {
	hub *Hub
	msg string
	fn  ReactionFunc
}

// SetSelf records the bot's own user ID so that its reactions are ignored.
func (h *Hub) SetSelf(id string) {
	h.self.Store(id)
}

// Subscribe installs fn as the reaction listener for a message, replacing
// any existing listener.
func (h *Hub) Subscribe(msg string, fn ReactionFunc) *Subscription {
	s := &Subscription{hub: h, msg: msg, fn: fn}
	h.subs.Store(msg, s)
	return s
}

// Stop removes the subscription if it is still the active listener for its
// message. It is safe to call more than once.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.hub.subs.CompareAndDelete(s.msg, func(cur *Subscription) bool { return cur == s })
}

// Active reports whether the subscription is still installed.
func (s *Subscription) Active() bool {
	if s == nil {
		return false
	}
	cur, ok := s.hub.subs.Load(s.msg)
	return ok && cur == s
}

// Publish delivers a reaction event to the subscriber for its message, if
// any. It reports whether a subscriber received the event.
func (h *Hub) Publish(ctx context.Context, ev *message.ReactionEvent) bool {
	if self, _ := h.self.Load().(string); self != "" && ev.User.ID == self {
		return false
	}
	s, ok := h.subs.Load(ev.Message)
	if !ok {
		return false
	}
	s.fn(ctx, ev)
	return true
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	return h.subs.Len()
}
