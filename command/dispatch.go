package command

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zephyrtronium/pollbot/audit"
	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/metrics"
	"github.com/zephyrtronium/pollbot/requirement"
)

// Auditor records command outcomes.
type Auditor interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// Dispatcher runs the first command appropriate for each message.
type Dispatcher struct {
	platform chat.Platform
	log      *slog.Logger
	audit    Auditor
	count    metrics.Observer
	cmds     []Command
}

// Options are optional collaborators of a Dispatcher.
type Options struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Audit records outcomes other than parse misses. May be nil.
	Audit Auditor
	// Count observes each handled command with labels name and outcome.
	// May be nil.
	Count metrics.Observer
}

// NewDispatcher creates a dispatcher over an ordered list of commands.
// Earlier commands take priority. A help command is always first.
func NewDispatcher(p chat.Platform, opts Options, cmds ...Command) *Dispatcher {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	d := &Dispatcher{
		platform: p,
		log:      opts.Log,
		audit:    opts.Audit,
		count:    opts.Count,
	}
	d.cmds = append([]Command{d.help()}, cmds...)
	return d
}

// Commands returns the dispatcher's commands in priority order.
func (d *Dispatcher) Commands() []Command {
	return slices.Clone(d.cmds)
}

// Dispatch tries each command in order against the command text and stops at
// the first which handles it. It returns the name of that command and whether
// any command handled the text.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, inv *Invocation) (string, bool) {
	for _, c := range d.cmds {
		if c.try(ctx, d, text, inv) {
			return c.Info().Name, true
		}
	}
	return "", false
}

// Reply sends a message to the invocation's channel, logging failures.
func (d *Dispatcher) Reply(ctx context.Context, inv *Invocation, text string) {
	if _, err := d.platform.Send(ctx, inv.Channel.ID, text); err != nil {
		d.log.ErrorContext(ctx, "couldn't reply", slog.String("channel", inv.Channel.ID), slog.Any("err", err))
	}
}

func (d *Dispatcher) usage(ctx context.Context, inv *Invocation, c Info) {
	d.log.InfoContext(ctx, "command usage", slog.String("name", c.Name), slog.String("user", inv.Actor().ID))
	d.Reply(ctx, inv, "Usage: "+c.Usage)
	d.record(ctx, inv, c, "usage", "")
}

func (d *Dispatcher) fail(ctx context.Context, inv *Invocation, c Info, outcome string, err error) {
	var cerr *Error
	if !errors.As(err, &cerr) {
		d.log.ErrorContext(ctx, "command failed",
			slog.String("name", c.Name),
			slog.String("user", inv.Actor().ID),
			slog.Any("err", err),
		)
		d.Reply(ctx, inv, message.Format("Something went wrong while running %s. Sorry!", c.Name))
		d.record(ctx, inv, c, outcome, err.Error())
		return
	}
	d.log.InfoContext(ctx, "command error",
		slog.String("name", c.Name),
		slog.String("user", inv.Actor().ID),
		slog.String("err", cerr.Message),
	)
	text := cerr.Message
	if cerr.ShowUsage {
		text += "\nUsage: " + c.Usage
	}
	d.Reply(ctx, inv, text)
	d.record(ctx, inv, c, outcome, cerr.Message)
}

func (d *Dispatcher) deny(ctx context.Context, inv *Invocation, c Info) {
	desc := c.Require.String()
	d.log.WarnContext(ctx, "requirement denied",
		slog.String("name", c.Name),
		slog.String("user", inv.Actor().ID),
		slog.String("channel", inv.Channel.ID),
		slog.String("requirement", desc),
	)
	d.Reply(ctx, inv, message.Format("Sorry %s, you don't have permission to use %s.", inv.Actor().Mention(), c.Name))
	d.record(ctx, inv, c, "denied", desc)
}

func (d *Dispatcher) ok(ctx context.Context, inv *Invocation, c Info) {
	d.log.InfoContext(ctx, "command", slog.String("name", c.Name), slog.String("user", inv.Actor().ID))
	d.record(ctx, inv, c, "ok", "")
}

func (d *Dispatcher) record(ctx context.Context, inv *Invocation, c Info, outcome, detail string) {
	if d.count != nil {
		d.count.Observe(1, c.Name, outcome)
	}
	if d.audit == nil {
		return
	}
	e := audit.Entry{
		Time:     time.Now(),
		Command:  c.Name,
		User:     inv.Actor().ID,
		Channel:  inv.Channel.ID,
		Server:   inv.Server(),
		Outcome:  outcome,
		Detail:   detail,
		Indirect: inv.Indirect,
	}
	if err := d.audit.Record(ctx, &e); err != nil {
		d.log.ErrorContext(ctx, "couldn't audit command", slog.String("name", c.Name), slog.Any("err", err))
	}
}

type helpArgs struct {
	name string
}

// help creates the built-in help command. It lists only commands whose
// requirements the caller passes, which is possible because requirements are
// pure.
func (d *Dispatcher) help() Command {
	return &Spec[helpArgs, helpArgs]{
		Name:        "help",
		Description: "Show the commands you can use, or how to use one.",
		Usage:       "help [command]",
		Parse: Regex(`(?i)^help(?:\s+(?P<name>\S+))?\s*$`, "", func(m Submatches) helpArgs {
			return helpArgs{name: m["name"]}
		}),
		Validate: Same[helpArgs],
		Execute: func(ctx context.Context, p helpArgs, inv *Invocation) error {
			s := requirement.Subject{
				Actor:    inv.Actor(),
				Member:   inv.Member,
				Message:  inv.Message,
				Channel:  inv.Channel,
				Server:   inv.Server(),
				Indirect: inv.Indirect,
			}
			allowed := func(c Info) bool { return c.Require == nil || c.Require.Test(&s) }
			if p.name != "" {
				for _, c := range d.cmds {
					i := c.Info()
					if !strings.EqualFold(i.Name, p.name) || !allowed(i) {
						continue
					}
					d.Reply(ctx, inv, message.Format("%s: %s\nUsage: %s", i.Name, i.Description, i.Usage))
					return nil
				}
				return Errorf(false, "There's no command named %q that you can use.", p.name)
			}
			var b strings.Builder
			b.WriteString("Commands you can use:")
			for _, c := range d.cmds {
				i := c.Info()
				if !allowed(i) {
					continue
				}
				b.WriteString("\n`")
				b.WriteString(i.Usage)
				b.WriteString("` ")
				b.WriteString(i.Description)
			}
			d.Reply(ctx, inv, b.String())
			return nil
		},
	}
}

// Parse extracts a command invocation from message text. A command
// invocation is a message beginning with a mention of the bot, optionally
// followed by punctuation, or with the configured text prefix.
func Parse(me, prefix, text string) (cmd string, ok bool) {
	text = strings.TrimSpace(text)
	for _, m := range []string{"<@" + me + ">", "<@!" + me + ">"} {
		if me == "" || !strings.HasPrefix(text, m) {
			continue
		}
		text = text[len(m):]
		r, n := utf8.DecodeRuneInString(text)
		if r == ':' || r == ',' {
			text = text[n:]
		} else if r != utf8.RuneError && !unicode.IsSpace(r) {
			// Something like <@id>abc is not addressing us.
			return "", false
		}
		return strings.TrimSpace(text), true
	}
	if prefix != "" && strings.HasPrefix(text, prefix) {
		return strings.TrimSpace(text[len(prefix):]), true
	}
	return "", false
}
