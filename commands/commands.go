// Package commands implements the bot's commands.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zephyrtronium/pollbot/channel"
	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/privacy"
	"github.com/zephyrtronium/pollbot/requirement"
	"github.com/zephyrtronium/pollbot/store"
	"github.com/zephyrtronium/pollbot/userhash"
)

// PermissionAdministrator is the platform permission bit granting every
// permission in a server.
const PermissionAdministrator = 1 << 3

// Deps are the collaborators of the commands.
type Deps struct {
	Platform  chat.Platform
	Polls     *store.Collection[poll.Poll]
	Responses *store.Collection[poll.Response]
	Editors   *poll.Editors
	Voting    *poll.Voting
	Privacy   *privacy.List
	Hasher    userhash.Hasher
	// Servers maps server IDs to their configuration. It must not be
	// modified once commands are created.
	Servers map[string]*channel.Server
	// Owner is the user ID of the bot's owner, who passes every admin
	// requirement.
	Owner string
	// Log defaults to slog.Default().
	Log *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// All returns every command in priority order.
func All(d *Deps) []command.Command {
	admin := d.admin()
	return []command.Command{
		d.vote(),
		d.pollResults(admin),
		d.serverPoll(admin),
		d.pollEdit(admin),
		d.editPoll(admin),
		d.polls(),
		d.privacy(),
	}
}

// admin passes the owner, server administrators, and holders of the
// server's configured admin roles.
func (d *Deps) admin() *requirement.Requirement {
	r := requirement.Any(
		requirement.User(d.Owner),
		requirement.Permission(PermissionAdministrator),
		requirement.Func("an admin role", func(s *requirement.Subject) bool {
			srv := d.Servers[s.Server]
			return srv != nil && s.Member.HasRole(srv.Admins...)
		}),
	)
	return &r
}

func (d *Deps) log() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// reply sends text to the invocation's channel, splitting it into messages
// the platform accepts.
func (d *Deps) reply(ctx context.Context, inv *command.Invocation, text string) error {
	for _, s := range chunks(text, maxMessage) {
		if _, err := d.Platform.Send(ctx, inv.Channel.ID, s); err != nil {
			return err
		}
	}
	return nil
}

// confirm sends a decorated confirmation, unless the server's reply rate
// limit is exhausted.
func (d *Deps) confirm(ctx context.Context, inv *command.Invocation, text string) {
	srv := d.Servers[inv.Server()]
	if srv != nil && srv.Rate != nil && !srv.Rate.Allow() {
		d.log().InfoContext(ctx, "confirmation rate limited", slog.String("server", srv.Name))
		return
	}
	if err := d.reply(ctx, inv, srv.Decorate(text, rand.Uint32())); err != nil {
		d.log().ErrorContext(ctx, "couldn't send confirmation", slog.String("channel", inv.Channel.ID), slog.Any("err", err))
	}
}

// pollError converts errors from loading or voting in a poll to errors for
// the user.
func pollError(id string, err error) error {
	var ie *poll.IneligibleError
	switch {
	case errors.As(err, &ie):
		return &command.Error{Message: ie.Message}
	case errors.Is(err, store.ErrNotFound):
		return command.Errorf(false, "There's no poll %s.", id)
	case errors.Is(err, poll.ErrNotDirect):
		return command.Errorf(false, "Vote in %s by reacting to its messages.", id)
	case errors.Is(err, poll.ErrThrottled):
		return command.Errorf(false, "I just sent you a ballot for %s. Check your direct messages!", id)
	}
	return err
}

const maxMessage = 2000

// chunks splits text at line boundaries into pieces of at most n bytes.
// Single lines longer than n are split at n.
func chunks(text string, n int) []string {
	var r []string
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > n {
			if b.Len() > 0 {
				r = append(r, strings.TrimRight(b.String(), "\n"))
				b.Reset()
			}
			k := n
			for k > 0 && !utf8.RuneStart(line[k]) {
				k--
			}
			r = append(r, line[:k])
			line = line[k:]
		}
		if b.Len()+len(line) > n {
			r = append(r, strings.TrimRight(b.String(), "\n"))
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		r = append(r, strings.TrimRight(b.String(), "\n"))
	}
	return slices.DeleteFunc(r, func(s string) bool { return s == "" })
}
