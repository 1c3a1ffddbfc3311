// Package chattest provides an in-memory chat platform for tests.
package chattest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/message"
)

// Self is the user ID of the bot on a Fake.
const Self = "bot"

// Fake is an in-memory chat.Platform. Every method records its call so tests
// can assert on the exact interaction count.
type Fake struct {
	mu       sync.Mutex
	next     int
	msgs     map[string]*stored
	members  map[[2]string]*message.Member
	channels map[string]*message.Channel

	// Counts of calls by method name.
	calls map[string]int
	// Log of messages sent, in order.
	sent []Sent
}

// Sent is a message sent through a Fake.
type Sent struct {
	Channel string
	ID      string
	Text    string
}

type stored struct {
	msg message.Message
	// reactions maps emoji keys to the set of user IDs reacting with it,
	// along with the emoji itself for reconstruction.
	reactions map[string]map[string]bool
	emoji     map[string]message.Emoji
	order     []string
}

var _ chat.Platform = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		msgs:     make(map[string]*stored),
		members:  make(map[[2]string]*message.Member),
		channels: make(map[string]*message.Channel),
		calls:    make(map[string]int),
	}
}

// Calls returns the number of times a method has been called.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Sent returns all messages sent so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// SentTo returns the texts of messages sent to a channel.
func (f *Fake) SentTo(channel string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var r []string
	for _, s := range f.sent {
		if s.Channel == channel {
			r = append(r, s.Text)
		}
	}
	return r
}

// AddMember registers a server member.
func (f *Fake) AddMember(m *message.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[[2]string{m.Server, m.User.ID}] = m
}

// AddChannel registers a channel.
func (f *Fake) AddChannel(c *message.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[c.ID] = c
}

// Remove deletes a message as though it were deleted outside the bot.
func (f *Fake) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.msgs, id)
}

// Has reports whether a message exists.
func (f *Fake) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.msgs[id]
	return ok
}

// Text returns the current text of a message.
func (f *Fake) Text(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.msgs[id]
	if m == nil {
		return ""
	}
	return m.msg.Text
}

// Put inserts a message authored by a user, as though the user sent it.
func (f *Fake) Put(channel, server string, author message.User, text string) *message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(channel, server, author, text)
}

func (f *Fake) putLocked(channel, server string, author message.User, text string) *message.Message {
	f.next++
	id := strconv.Itoa(f.next)
	if server == "" {
		if c := f.channels[channel]; c != nil {
			server = c.Server
		}
	}
	s := &stored{
		msg: message.Message{
			ID:        id,
			Channel:   channel,
			Server:    server,
			Author:    author,
			Text:      text,
			Timestamp: time.Now().UnixMilli(),
		},
		reactions: make(map[string]map[string]bool),
		emoji:     make(map[string]message.Emoji),
	}
	f.msgs[id] = s
	r := s.msg
	return &r
}

// UserReact adds a reaction by a user without recording a call.
// It returns the event the platform would deliver.
func (f *Fake) UserReact(id string, e message.Emoji, user string) *message.ReactionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.msgs[id]
	if s == nil {
		return nil
	}
	s.add(e, user)
	return &message.ReactionEvent{
		Message: id,
		Channel: s.msg.Channel,
		Server:  s.msg.Server,
		User:    message.User{ID: user},
		Emoji:   e,
		Added:   true,
	}
}

// UserUnreact removes a reaction by a user without recording a call.
func (f *Fake) UserUnreact(id string, e message.Emoji, user string) *message.ReactionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.msgs[id]
	if s == nil {
		return nil
	}
	s.remove(e, user)
	return &message.ReactionEvent{
		Message: id,
		Channel: s.msg.Channel,
		Server:  s.msg.Server,
		User:    message.User{ID: user},
		Emoji:   e,
		Added:   false,
	}
}

// Reacted reports whether a user has reacted to a message with an emoji.
func (f *Fake) Reacted(id string, e message.Emoji, user string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.msgs[id]
	if s == nil {
		return false
	}
	return s.reactions[e.Key()][user]
}

// Reactions returns the emoji keys the bot itself has reacted with, in order.
func (f *Fake) Reactions(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.msgs[id]
	if s == nil {
		return nil
	}
	var r []string
	for _, k := range s.order {
		if s.reactions[k][Self] {
			r = append(r, k)
		}
	}
	return r
}

func (s *stored) add(e message.Emoji, user string) {
	k := e.Key()
	if s.reactions[k] == nil {
		s.reactions[k] = make(map[string]bool)
		s.emoji[k] = e
		s.order = append(s.order, k)
	}
	s.reactions[k][user] = true
}

func (s *stored) remove(e message.Emoji, user string) {
	delete(s.reactions[e.Key()], user)
}

func (s *stored) snapshot() *message.Message {
	m := s.msg
	m.Reactions = nil
	for _, k := range s.order {
		n := len(s.reactions[k])
		if n == 0 {
			continue
		}
		m.Reactions = append(m.Reactions, message.Reaction{
			Emoji: s.emoji[k],
			Count: n,
			Me:    s.reactions[k][Self],
		})
	}
	return &m
}

func (f *Fake) Send(ctx context.Context, channel, text string) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Send"]++
	m := f.putLocked(channel, "", message.User{ID: Self, Name: Self, Bot: true}, text)
	f.sent = append(f.sent, Sent{Channel: channel, ID: m.ID, Text: text})
	return m, nil
}

func (f *Fake) Edit(ctx context.Context, channel, id, text string) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Edit"]++
	s := f.msgs[id]
	if s == nil {
		return nil, fmt.Errorf("edit %s: %w", id, chat.ErrNotFound)
	}
	s.msg.Text = text
	return s.snapshot(), nil
}

func (f *Fake) Delete(ctx context.Context, channel, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Delete"]++
	if f.msgs[id] == nil {
		return fmt.Errorf("delete %s: %w", id, chat.ErrNotFound)
	}
	delete(f.msgs, id)
	return nil
}

func (f *Fake) Fetch(ctx context.Context, channel, id string) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Fetch"]++
	s := f.msgs[id]
	if s == nil {
		return nil, fmt.Errorf("fetch %s: %w", id, chat.ErrNotFound)
	}
	return s.snapshot(), nil
}

func (f *Fake) React(ctx context.Context, channel, id string, e message.Emoji) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["React"]++
	s := f.msgs[id]
	if s == nil {
		return fmt.Errorf("react %s: %w", id, chat.ErrNotFound)
	}
	s.add(e, Self)
	return nil
}

func (f *Fake) Unreact(ctx context.Context, channel, id string, e message.Emoji, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Unreact"]++
	s := f.msgs[id]
	if s == nil {
		return fmt.Errorf("unreact %s: %w", id, chat.ErrNotFound)
	}
	if user == chat.Me {
		user = Self
	}
	s.remove(e, user)
	return nil
}

func (f *Fake) Reactors(ctx context.Context, channel, id string, e message.Emoji) ([]message.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Reactors"]++
	s := f.msgs[id]
	if s == nil {
		return nil, fmt.Errorf("reactors %s: %w", id, chat.ErrNotFound)
	}
	var r []message.User
	for u := range s.reactions[e.Key()] {
		r = append(r, message.User{ID: u})
	}
	slices.SortFunc(r, func(a, b message.User) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return r, nil
}

func (f *Fake) Member(ctx context.Context, server, user string) (*message.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Member"]++
	m := f.members[[2]string{server, user}]
	if m == nil {
		return nil, fmt.Errorf("member %s/%s: %w", server, user, chat.ErrNotFound)
	}
	r := *m
	return &r, nil
}

func (f *Fake) Channel(ctx context.Context, channel string) (*message.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Channel"]++
	c := f.channels[channel]
	if c == nil {
		return nil, fmt.Errorf("channel %s: %w", channel, chat.ErrNotFound)
	}
	r := *c
	return &r, nil
}

func (f *Fake) DirectChannel(ctx context.Context, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DirectChannel"]++
	id := "dm-" + user
	if f.channels[id] == nil {
		f.channels[id] = &message.Channel{ID: id}
	}
	return id, nil
}
