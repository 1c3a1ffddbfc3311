package commands

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/rangetable"

	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/requirement"
)

// ServerPollArgs are the arguments of the serverpoll command.
type ServerPollArgs struct {
	Name    string
	Channel string
	Role    string
	// Hours is the poll duration. It is zero when not given.
	Hours         float64
	DeleteOnClose bool
	// Emoji are the option emoji keys in order.
	Emoji  []string
	Prompt string
}

var serverPollRE = regexp.MustCompile(`(?is)^serverpoll` +
	`\s+(?P<name>\S+)` +
	`(?:\s+<?#?(?P<channel>\d+)>?)?` +
	`(?:\s+<?@?&?(?P<role>\d+)>?)?` +
	`(?:\s+(?P<hours>\d+\.\d*|\d*\.\d+|\d+))?` +
	`(?:\s+(?P<del>true|false))?` +
	`\s+(?P<emoji>(?:<a?:\w+:\d+>|[^\s\w<>])+)` +
	`\s+(?P<prompt>.+)$`)

var serverPollPartial = regexp.MustCompile(`(?i)^serverpoll\b`)

// maxPollHours is the longest duration of a server poll, about ten years.
const maxPollHours = 24 * 366 * 10

// ParseServerPoll parses the text of a serverpoll command.
func ParseServerPoll(text string) (ServerPollArgs, command.Match) {
	m := serverPollRE.FindStringSubmatch(text)
	if m == nil {
		if serverPollPartial.MatchString(text) {
			return ServerPollArgs{}, command.Partial
		}
		return ServerPollArgs{}, command.NoMatch
	}
	g := func(name string) string { return m[serverPollRE.SubexpIndex(name)] }
	a := ServerPollArgs{
		Name:          g("name"),
		Channel:       g("channel"),
		Role:          g("role"),
		DeleteOnClose: strings.EqualFold(g("del"), "true"),
		Prompt:        strings.TrimSpace(g("prompt")),
	}
	if h := g("hours"); h != "" {
		a.Hours, _ = strconv.ParseFloat(h, 64)
	}
	for _, e := range splitEmoji(g("emoji")) {
		a.Emoji = append(a.Emoji, message.ParseEmoji(e).Key())
	}
	return a, command.Full
}

func (d *Deps) serverPoll(admin *requirement.Requirement) command.Command {
	return &command.Spec[ServerPollArgs, *poll.Poll]{
		Name:        "serverpoll",
		Description: "Start a poll voted by reactions in a channel.",
		Usage:       "serverpoll <name> [channel] [role] [hours] [delete-on-close] <emoji...> <prompt>",
		Parse:       ParseServerPoll,
		Validate: func(ctx context.Context, a ServerPollArgs, inv *command.Invocation) (*poll.Poll, error) {
			if inv.Server() == "" {
				return nil, command.Errorf(false, "Server polls can only be started in a server.")
			}
			if len(a.Emoji) < 2 {
				return nil, command.Errorf(true, "A poll needs at least two options.")
			}
			seen := make(map[string]bool, len(a.Emoji))
			for _, e := range a.Emoji {
				if seen[e] {
					return nil, command.Errorf(true, "Each option needs a different emoji.")
				}
				seen[e] = true
			}
			switch {
			case a.Hours == 0:
				a.Hours = 24
			case a.Hours > maxPollHours:
				return nil, command.Errorf(true, "A poll can run for at most %d hours.", maxPollHours)
			}
			now := d.now()
			ch := a.Channel
			if ch == "" {
				ch = inv.Channel.ID
			}
			p := &poll.Poll{
				ID:            poll.NewID(),
				Name:          a.Name,
				Kind:          poll.Server,
				Open:          now.UnixMilli(),
				Close:         now.Add(time.Duration(a.Hours * float64(time.Hour))).UnixMilli(),
				Server:        inv.Server(),
				Message:       &poll.MessageSettings{Channel: ch},
				DeleteOnClose: a.DeleteOnClose,
				Questions: []poll.Question{
					{ID: poll.NewID(), Prompt: a.Prompt},
				},
			}
			if a.Role != "" {
				p.Roles = []string{a.Role}
			}
			for _, e := range a.Emoji {
				o := poll.Option{ID: poll.NewID(), Name: message.ParseEmoji(e).String(), Emoji: e}
				p.Questions[0].Options = append(p.Questions[0].Options, o)
			}
			return p, nil
		},
		Require: admin,
		Execute: func(ctx context.Context, p *poll.Poll, inv *command.Invocation) error {
			if err := d.Polls.Set(ctx, p.ID, p); err != nil {
				return err
			}
			d.confirm(ctx, inv, message.Format("Started poll %s (%s) in <#%s>.", p.Name, p.ID, p.Message.Channel))
			return nil
		},
	}
}

var (
	// extenders are runes which continue the emoji before them: variation
	// selectors, combining marks like the keycap, and skin tones.
	extenders = rangetable.Merge(
		unicode.Variation_Selector,
		unicode.Mn,
		unicode.Me,
		rangetable.New(0x1f3fb, 0x1f3fc, 0x1f3fd, 0x1f3fe, 0x1f3ff),
		tags(),
	)
	regional     = &unicode.RangeTable{R32: []unicode.Range32{{Lo: 0x1f1e6, Hi: 0x1f1ff, Stride: 1}}}
	customEmojiR = regexp.MustCompile(`^<a?:\w+:\d+>`)
)

// tags is the table of emoji tag characters used in subdivision flags.
func tags() *unicode.RangeTable {
	var r []rune
	for c := rune(0xe0020); c <= 0xe007f; c++ {
		r = append(r, c)
	}
	return rangetable.New(r...)
}

const zwj = '\u200d'

// splitEmoji splits a run of emoji into individual emoji. Custom emoji are
// written as <:name:id> or <a:name:id>.
func splitEmoji(s string) []string {
	var r []string
	for len(s) > 0 {
		if m := customEmojiR.FindString(s); m != "" {
			r = append(r, m)
			s = s[len(m):]
			continue
		}
		c, k := utf8.DecodeRuneInString(s)
		pair := unicode.Is(regional, c)
	cluster:
		for k < len(s) {
			d, n := utf8.DecodeRuneInString(s[k:])
			switch {
			case unicode.Is(extenders, d):
				k += n
			case d == zwj:
				k += n
				if k < len(s) {
					_, n = utf8.DecodeRuneInString(s[k:])
					k += n
				}
			case pair && unicode.Is(regional, d):
				k += n
				pair = false
			default:
				break cluster
			}
		}
		r = append(r, s[:k])
		s = s[k:]
	}
	return r
}
