// Package actionmessage binds application state to a live chat message.
//
// A Message renders its settings to text and makes the live message match,
// creating it when it does not exist and editing it only when its content
// differs. Reactions on the live message are delivered to a handler along
// with the settings current at the time of the event.
package actionmessage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/metrics"
)

// Options are the behaviors of a Message.
type Options[S any] struct {
	// Render computes the desired message content.
	Render func(S) string
	// OnCreate is called once after each creation of the live message,
	// typically to attach initial reactions. id is the new message's ID.
	// May be nil.
	OnCreate func(ctx context.Context, id string, s S) error
	// OnReaction handles reactions on the live message. May be nil.
	OnReaction func(ctx context.Context, ev *message.ReactionEvent, s S)
	// Count observes reconciliations labeled with their result. May be nil.
	Count metrics.Observer
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
}

// Message is a settings value bound to zero or one live chat message.
// Messages are not safe for concurrent use; callers serialize access along
// with reaction delivery.
type Message[S any] struct {
	platform chat.Platform
	hub      *chat.Hub
	channel  string
	id       string
	settings S
	opts     Options[S]
	sub      *chat.Subscription
}

// New creates a Message. id is the ID of an existing live message, or the
// empty string if none has been created yet. No platform calls are made
// until Reconcile.
func New[S any](p chat.Platform, hub *chat.Hub, channel, id string, settings S, opts Options[S]) *Message[S] {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Message[S]{
		platform: p,
		hub:      hub,
		channel:  channel,
		id:       id,
		settings: settings,
		opts:     opts,
	}
}

// ID returns the ID of the live message, or the empty string if there is
// none.
func (m *Message[S]) ID() string {
	return m.id
}

// Channel returns the ID of the channel holding the message.
func (m *Message[S]) Channel() string {
	return m.channel
}

// Settings returns the current settings.
func (m *Message[S]) Settings() S {
	return m.settings
}

// Update replaces the settings. The live message is unchanged until the next
// Reconcile, but reaction handlers see the new settings immediately.
func (m *Message[S]) Update(s S) {
	m.settings = s
}

// Reconcile makes the live message match the current settings.
// It is idempotent: with unchanged settings, calling it again makes no edits
// and does not rerun OnCreate.
// Failures to fetch or edit an existing message are treated as the message
// being gone, so it is recreated. Only failure to create a message is
// returned.
func (m *Message[S]) Reconcile(ctx context.Context) error {
	text := m.opts.Render(m.settings)
	if m.id == "" {
		return m.create(ctx, text, "create")
	}
	live, err := m.platform.Fetch(ctx, m.channel, m.id)
	if err != nil {
		m.opts.Log.InfoContext(ctx, "action message gone", slog.String("channel", m.channel), slog.String("id", m.id), slog.Any("err", err))
		return m.create(ctx, text, "recreate")
	}
	if live.Text != text {
		if _, err := m.platform.Edit(ctx, m.channel, m.id, text); err != nil {
			m.opts.Log.WarnContext(ctx, "couldn't edit action message", slog.String("channel", m.channel), slog.String("id", m.id), slog.Any("err", err))
			// Don't leave a stale copy behind.
			m.platform.Delete(ctx, m.channel, m.id)
			return m.create(ctx, text, "recreate")
		}
		m.observe("edit")
	} else {
		m.observe("unchanged")
	}
	m.subscribe()
	return nil
}

func (m *Message[S]) create(ctx context.Context, text, result string) error {
	m.sub.Stop()
	m.sub = nil
	msg, err := m.platform.Send(ctx, m.channel, text)
	if err != nil {
		m.id = ""
		return fmt.Errorf("couldn't create action message in %s: %w", m.channel, err)
	}
	m.id = msg.ID
	m.observe(result)
	m.subscribe()
	if m.opts.OnCreate != nil {
		if err := m.opts.OnCreate(ctx, m.id, m.settings); err != nil {
			return fmt.Errorf("couldn't finish creating action message %s: %w", m.id, err)
		}
	}
	return nil
}

// subscribe installs the reaction listener if it is not already active.
func (m *Message[S]) subscribe() {
	if m.opts.OnReaction == nil || m.sub.Active() {
		return
	}
	m.sub = m.hub.Subscribe(m.id, func(ctx context.Context, ev *message.ReactionEvent) {
		m.opts.OnReaction(ctx, ev, m.settings)
	})
}

func (m *Message[S]) observe(result string) {
	if m.opts.Count != nil {
		m.opts.Count.Observe(1, result)
	}
}

// Teardown stops the reaction listener and, if del is true, deletes the live
// message. A message that is already gone is not an error.
func (m *Message[S]) Teardown(ctx context.Context, del bool) {
	m.sub.Stop()
	m.sub = nil
	if !del || m.id == "" {
		return
	}
	if err := m.platform.Delete(ctx, m.channel, m.id); err != nil {
		m.opts.Log.InfoContext(ctx, "couldn't delete action message", slog.String("channel", m.channel), slog.String("id", m.id), slog.Any("err", err))
	}
	m.id = ""
}
