package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/zephyrtronium/pollbot/message"
)

// Discord is a Platform backed by a discordgo session.
type Discord struct {
	s *discordgo.Session
	// rate is the global limiter for requests that create or change
	// messages or reactions.
	rate *rate.Limiter
}

var _ Platform = (*Discord)(nil)

// NewDiscord wraps a session. If lim is nil, requests are not limited beyond
// discordgo's own bucket handling.
func NewDiscord(s *discordgo.Session, lim *rate.Limiter) *Discord {
	if lim == nil {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	return &Discord{s: s, rate: lim}
}

// Session returns the underlying session.
func (d *Discord) Session() *discordgo.Session {
	return d.s
}

func (d *Discord) wait(ctx context.Context) error {
	if err := d.rate.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// notFound translates Discord 404 responses into ErrNotFound.
func notFound(err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func (d *Discord) Send(ctx context.Context, channel, text string) (*message.Message, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	m, err := d.s.ChannelMessageSend(channel, text, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("couldn't send message: %w", notFound(err))
	}
	return FromDiscord(m), nil
}

func (d *Discord) Edit(ctx context.Context, channel, id, text string) (*message.Message, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	m, err := d.s.ChannelMessageEdit(channel, id, text, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("couldn't edit message: %w", notFound(err))
	}
	return FromDiscord(m), nil
}

func (d *Discord) Delete(ctx context.Context, channel, id string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	if err := d.s.ChannelMessageDelete(channel, id, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("couldn't delete message: %w", notFound(err))
	}
	return nil
}

func (d *Discord) Fetch(ctx context.Context, channel, id string) (*message.Message, error) {
	m, err := d.s.ChannelMessage(channel, id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("couldn't fetch message: %w", notFound(err))
	}
	return FromDiscord(m), nil
}

func (d *Discord) React(ctx context.Context, channel, id string, e message.Emoji) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	if err := d.s.MessageReactionAdd(channel, id, e.Key(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("couldn't add reaction: %w", notFound(err))
	}
	return nil
}

func (d *Discord) Unreact(ctx context.Context, channel, id string, e message.Emoji, user string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	if err := d.s.MessageReactionRemove(channel, id, e.Key(), user, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("couldn't remove reaction: %w", notFound(err))
	}
	return nil
}

func (d *Discord) Reactors(ctx context.Context, channel, id string, e message.Emoji) ([]message.User, error) {
	var r []message.User
	after := ""
	for {
		l, err := d.s.MessageReactions(channel, id, e.Key(), 100, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return r, fmt.Errorf("couldn't list reactions: %w", notFound(err))
		}
		for _, u := range l {
			r = append(r, userFromDiscord(u))
		}
		if len(l) < 100 {
			return r, nil
		}
		after = l[len(l)-1].ID
	}
}

func (d *Discord) Member(ctx context.Context, server, user string) (*message.Member, error) {
	m, err := d.s.GuildMember(server, user, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("couldn't get member: %w", notFound(err))
	}
	return memberFromDiscord(m), nil
}

func (d *Discord) Channel(ctx context.Context, channel string) (*message.Channel, error) {
	c, err := d.s.Channel(channel, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("couldn't get channel: %w", notFound(err))
	}
	return &message.Channel{ID: c.ID, Server: c.GuildID, Name: c.Name}, nil
}

func (d *Discord) DirectChannel(ctx context.Context, user string) (string, error) {
	c, err := d.s.UserChannelCreate(user, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("couldn't open direct channel: %w", notFound(err))
	}
	return c.ID, nil
}

// Permissions computes a user's permissions in a channel from the session
// state, falling back to the REST API.
func (d *Discord) Permissions(ctx context.Context, user, channel string) int64 {
	p, err := d.s.State.UserChannelPermissions(user, channel)
	if err == nil {
		return p
	}
	p, err = d.s.UserChannelPermissions(user, channel, discordgo.WithContext(ctx))
	if err != nil {
		return 0
	}
	return p
}

// FromDiscord adapts a discordgo message.
func FromDiscord(m *discordgo.Message) *message.Message {
	r := message.Message{
		ID:        m.ID,
		Channel:   m.ChannelID,
		Server:    m.GuildID,
		Text:      m.Content,
		Timestamp: m.Timestamp.UnixMilli(),
	}
	if m.Author != nil {
		r.Author = userFromDiscord(m.Author)
	}
	for _, x := range m.Reactions {
		if x == nil || x.Emoji == nil {
			continue
		}
		r.Reactions = append(r.Reactions, message.Reaction{
			Emoji: message.Emoji{ID: x.Emoji.ID, Name: x.Emoji.Name},
			Count: x.Count,
			Me:    x.Me,
		})
	}
	return &r
}

// ReactionFromDiscord adapts a discordgo reaction event.
func ReactionFromDiscord(r *discordgo.MessageReaction, added bool) *message.ReactionEvent {
	return &message.ReactionEvent{
		Message: r.MessageID,
		Channel: r.ChannelID,
		Server:  r.GuildID,
		User:    message.User{ID: r.UserID},
		Emoji:   message.Emoji{ID: r.Emoji.ID, Name: r.Emoji.Name},
		Added:   added,
	}
}

func userFromDiscord(u *discordgo.User) message.User {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return message.User{ID: u.ID, Name: name, Bot: u.Bot}
}

func memberFromDiscord(m *discordgo.Member) *message.Member {
	r := message.Member{
		Server:      m.GuildID,
		Roles:       m.Roles,
		JoinedAt:    m.JoinedAt,
		Permissions: m.Permissions,
	}
	if m.User != nil {
		r.User = userFromDiscord(m.User)
	}
	return &r
}
