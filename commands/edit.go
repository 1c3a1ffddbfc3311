package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/requirement"
	"github.com/zephyrtronium/pollbot/store"
)

func (d *Deps) pollEdit(admin *requirement.Requirement) command.Command {
	return &command.Spec[string, *poll.Edit]{
		Name:        "polledit",
		Description: "Change a poll's settings directly.",
		Usage:       "polledit (poll|object|array|question|option) <poll-id> [keypath|question-id] [option-id] (<key>='<string>'|<key>=<int>|<key>=<int>ms|<key>=<bool>)* | delete",
		Parse: command.Regex(`(?is)^polledit\s+(?P<edit>.+)$`, `(?i)^polledit\b`, func(m command.Submatches) string {
			return m["edit"]
		}),
		Validate: func(ctx context.Context, s string, inv *command.Invocation) (*poll.Edit, error) {
			e, err := poll.ParseEdit(s)
			if err != nil {
				return nil, command.Errorf(true, "%s.", capital(err.Error()))
			}
			return e, nil
		},
		Require: admin,
		Execute: func(ctx context.Context, e *poll.Edit, inv *command.Invocation) error {
			p, err := d.Polls.Get(ctx, e.Poll)
			switch {
			case err == nil:
			case errors.Is(err, store.ErrNotFound):
				p = nil
			default:
				return fmt.Errorf("couldn't load poll %s: %w", e.Poll, err)
			}
			r, err := e.Apply(p, d.now())
			if err != nil {
				return command.Errorf(false, "%s.", capital(err.Error()))
			}
			if r == nil {
				if err := d.Voting.Delete(ctx, e.Poll); err != nil {
					return err
				}
				d.confirm(ctx, inv, message.Format("Deleted poll %s.", e.Poll))
				return nil
			}
			if err := d.Polls.Set(ctx, r.ID, r); err != nil {
				return fmt.Errorf("couldn't save poll %s: %w", r.ID, err)
			}
			if p == nil {
				d.confirm(ctx, inv, message.Format("Created poll %s.", r.ID))
			} else {
				d.confirm(ctx, inv, message.Format("Updated poll %s.", r.ID))
			}
			return nil
		},
	}
}

func capital(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (d *Deps) editPoll(admin *requirement.Requirement) command.Command {
	return &command.Spec[pollArgs, pollArgs]{
		Name:        "editpoll",
		Description: "Edit a poll interactively with reactions.",
		Usage:       "editpoll <poll-id>",
		Parse: command.Regex(`(?i)^editpoll\s+(?P<id>\S+)\s*$`, `(?i)^editpoll\b`, func(m command.Submatches) pollArgs {
			return pollArgs{id: m["id"]}
		}),
		Validate: command.Same[pollArgs],
		Require:  admin,
		Execute: func(ctx context.Context, a pollArgs, inv *command.Invocation) error {
			return d.Editors.Open(ctx, a.id, inv.Channel.ID, inv.Actor().ID)
		},
	}
}

func (d *Deps) polls() command.Command {
	return &command.Spec[struct{}, struct{}]{
		Name:        "polls",
		Description: "List the polls of this server.",
		Usage:       "polls",
		Parse: command.Regex(`(?i)^polls\s*$`, "", func(command.Submatches) struct{} {
			return struct{}{}
		}),
		Validate: command.Same[struct{}],
		Execute: func(ctx context.Context, _ struct{}, inv *command.Invocation) error {
			docs, err := d.Polls.All(ctx)
			if err != nil {
				return fmt.Errorf("couldn't list polls: %w", err)
			}
			now := d.now()
			var lines []string
			for _, doc := range docs {
				p := doc.Value
				if p.Server != "" && p.Server != inv.Server() {
					continue
				}
				var state string
				switch {
				case p.Tallied || !now.Before(p.CloseTime()):
					state = "closed"
				case now.Before(p.OpenTime()):
					state = "opens " + stamp(p.Open)
				default:
					state = "open until " + stamp(p.Close)
				}
				lines = append(lines, fmt.Sprintf("`%s` **%s** (%s): %s", p.ID, p.Name, kindName(p.Kind), state))
			}
			if len(lines) == 0 {
				d.confirm(ctx, inv, message.Format("There are no polls here."))
				return nil
			}
			slices.Sort(lines)
			return d.reply(ctx, inv, strings.Join(lines, "\n"))
		},
	}
}

func stamp(ms int64) string {
	return fmt.Sprintf("<t:%d:R>", ms/1000)
}

func kindName(k poll.Kind) string {
	if k == poll.Server {
		return "reactions"
	}
	return "ballot"
}
