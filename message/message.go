// Package message holds the platform-neutral shapes of chat messages, users,
// and reactions that the rest of the bot works with.
package message

import (
	"fmt"
	"strings"
	"time"
)

// User is a chat user.
type User struct {
	// ID is the platform's stable identifier for the user.
	ID string
	// Name is the user's display name.
	Name string
	// Bot indicates whether the user is an automated account.
	Bot bool
}

// Mention formats a mention of the user.
func (u User) Mention() string {
	return "<@" + u.ID + ">"
}

// Member is a user's membership in a server.
type Member struct {
	User User
	// Server is the ID of the server.
	Server string
	// Roles is the list of role IDs the member holds.
	Roles []string
	// JoinedAt is the time the member joined the server.
	JoinedAt time.Time
	// Permissions is the member's computed permission bit set in the channel
	// where it was observed. It is zero when unknown.
	Permissions int64
}

// HasRole reports whether the member holds any of the given roles.
func (m *Member) HasRole(roles ...string) bool {
	if m == nil {
		return false
	}
	for _, r := range roles {
		for _, h := range m.Roles {
			if r == h {
				return true
			}
		}
	}
	return false
}

// Channel is a chat channel.
type Channel struct {
	ID string
	// Server is the ID of the server owning the channel. It is empty for
	// direct message channels.
	Server string
	// Name is the channel name, if known.
	Name string
}

// Direct reports whether the channel is a direct message channel.
func (c *Channel) Direct() bool {
	return c.Server == ""
}

// Emoji is a reaction glyph. Unicode emoji have only a name. Custom emoji
// have both a name and an ID.
type Emoji struct {
	ID   string
	Name string
}

// Unicode creates an Emoji from a unicode glyph.
func Unicode(s string) Emoji {
	return Emoji{Name: s}
}

// ParseEmoji parses either a unicode glyph or a custom emoji in any of the
// forms <:name:id>, <a:name:id>, or name:id.
func ParseEmoji(s string) Emoji {
	s = strings.TrimPrefix(strings.TrimSuffix(s, ">"), "<")
	s = strings.TrimPrefix(s, "a:")
	s = strings.TrimPrefix(s, ":")
	name, id, ok := strings.Cut(s, ":")
	if !ok {
		return Emoji{Name: s}
	}
	return Emoji{ID: id, Name: name}
}

// Key is the canonical string identifying the emoji. It is the glyph for
// unicode emoji and name:id for custom emoji.
func (e Emoji) Key() string {
	if e.ID != "" {
		return e.Name + ":" + e.ID
	}
	return e.Name
}

// String formats the emoji for inclusion in message text.
func (e Emoji) String() string {
	if e.ID != "" {
		return "<:" + e.Name + ":" + e.ID + ">"
	}
	return e.Name
}

// Reaction is an aggregated reaction on a message.
type Reaction struct {
	Emoji Emoji
	// Count is the number of users who reacted with the emoji.
	Count int
	// Me indicates whether the bot is among those users.
	Me bool
}

// Message is a message received from or sent to a chat platform.
type Message struct {
	// ID is the unique ID of the message.
	ID string
	// Channel is the ID of the channel containing the message.
	Channel string
	// Server is the ID of the server containing the channel. It is empty for
	// direct messages.
	Server string
	// Author is the sender of the message.
	Author User
	// Text is the text of the message.
	Text string
	// Timestamp is the timestamp of the message as milliseconds since the
	// Unix epoch.
	Timestamp int64
	// Reactions is the list of reactions on the message, if known.
	Reactions []Reaction
}

func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// ReactionEvent is the addition or removal of a single user's reaction.
type ReactionEvent struct {
	// Message is the ID of the message reacted to.
	Message string
	// Channel is the ID of the channel containing the message.
	Channel string
	// Server is the ID of the server, empty for direct messages.
	Server string
	// User is the user who reacted.
	User User
	// Emoji is the reaction.
	Emoji Emoji
	// Added is true for a reaction addition and false for a removal.
	Added bool
}

// formatString is a type to prevent misuse of format strings passed to [Format].
type formatString string

// Format constructs message text from a format string literal and formatting
// arguments.
func Format(f formatString, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(string(f), args...))
}
