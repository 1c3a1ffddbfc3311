package main

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/message"
)

const intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentGuildMessageReactions |
	discordgo.IntentDirectMessages |
	discordgo.IntentDirectMessageReactions |
	discordgo.IntentMessageContent

// handlers registers the Discord event handlers.
func (robo *Robot) handlers(ctx context.Context) {
	s := robo.session
	s.Identify.Intents = intents
	s.AddHandler(func(s *discordgo.Session, ev *discordgo.Ready) {
		robo.onReady(ctx, ev)
	})
	s.AddHandler(func(s *discordgo.Session, ev *discordgo.MessageCreate) {
		robo.onMessage(ctx, ev.Message)
	})
	s.AddHandler(func(s *discordgo.Session, ev *discordgo.MessageReactionAdd) {
		robo.onReaction(ctx, chat.ReactionFromDiscord(ev.MessageReaction, true))
	})
	s.AddHandler(func(s *discordgo.Session, ev *discordgo.MessageReactionRemove) {
		robo.onReaction(ctx, chat.ReactionFromDiscord(ev.MessageReaction, false))
	})
}

func (robo *Robot) onReady(ctx context.Context, ev *discordgo.Ready) {
	robo.event("ready", func() {
		robo.self = ev.User.ID
		robo.hub.SetSelf(ev.User.ID)
		slog.InfoContext(ctx, "Discord ready", slog.String("user", ev.User.Username), slog.String("id", ev.User.ID), slog.Int("servers", len(ev.Guilds)))
		robo.ready.Do(func() {
			if err := robo.voting.Rehydrate(ctx); err != nil {
				slog.ErrorContext(ctx, "couldn't rehydrate polls", slog.Any("err", err))
			}
		})
	})
}

// onMessage handles a new message: text input to an open editor first, then
// commands.
func (robo *Robot) onMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	msg := chat.FromDiscord(m)
	robo.event("message", func() {
		if robo.editors.Consume(ctx, msg) {
			return
		}
		text, ok := command.Parse(robo.self, robo.prefix, msg.Text)
		if !ok {
			return
		}
		log := slog.With(slog.String("trace", msg.ID), slog.String("in", msg.Server))
		if srv := robo.servers[msg.Server]; srv != nil {
			if srv.History.Has(msg.ID) {
				log.InfoContext(ctx, "duplicate command message")
				return
			}
			srv.History.Add(msg.ID, msg.Author.ID, msg.Text)
		}
		inv := &command.Invocation{
			Message: msg,
			Channel: &message.Channel{ID: msg.Channel, Server: msg.Server},
		}
		if m.Member != nil && msg.Server != "" {
			inv.Member = &message.Member{
				User:        msg.Author,
				Server:      msg.Server,
				Roles:       m.Member.Roles,
				JoinedAt:    m.Member.JoinedAt,
				Permissions: robo.platform.Permissions(ctx, msg.Author.ID, msg.Channel),
			}
		}
		name, ok := robo.dispatch.Dispatch(ctx, text, inv)
		if ok {
			log.DebugContext(ctx, "dispatched", slog.String("command", name))
		}
	})
}

func (robo *Robot) onReaction(ctx context.Context, ev *message.ReactionEvent) {
	robo.event("reaction", func() {
		robo.hub.Publish(ctx, ev)
	})
}
