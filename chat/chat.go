// Package chat defines the narrow view of a chat platform that the bot's
// command and UI layers depend on, along with the reaction event hub which
// routes reaction changes to the single subscriber for each message.
package chat

import (
	"context"
	"errors"

	"github.com/zephyrtronium/pollbot/message"
)

// ErrNotFound is returned by a Platform when a message, channel, or member
// does not exist or is not visible.
var ErrNotFound = errors.New("not found")

// Me is the user argument to Unreact which names the bot itself.
const Me = "@me"

// Platform is the set of chat primitives the bot consumes.
type Platform interface {
	// Send sends a new message to a channel.
	Send(ctx context.Context, channel, text string) (*message.Message, error)
	// Edit replaces the text of an existing message.
	Edit(ctx context.Context, channel, id, text string) (*message.Message, error)
	// Delete deletes a message.
	Delete(ctx context.Context, channel, id string) error
	// Fetch retrieves a message including its aggregated reactions.
	Fetch(ctx context.Context, channel, id string) (*message.Message, error)
	// React adds the bot's own reaction to a message.
	React(ctx context.Context, channel, id string, e message.Emoji) error
	// Unreact removes a user's reaction from a message. user may be [Me].
	Unreact(ctx context.Context, channel, id string, e message.Emoji, user string) error
	// Reactors lists the users who reacted to a message with an emoji.
	Reactors(ctx context.Context, channel, id string, e message.Emoji) ([]message.User, error)
	// Member retrieves a user's membership in a server.
	Member(ctx context.Context, server, user string) (*message.Member, error)
	// Channel retrieves a channel.
	Channel(ctx context.Context, channel string) (*message.Channel, error)
	// DirectChannel opens or retrieves the direct message channel with a user.
	DirectChannel(ctx context.Context, user string) (string, error)
}
