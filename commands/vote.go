package commands

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/requirement"
)

type pollArgs struct {
	id string
}

func (d *Deps) vote() command.Command {
	return &command.Spec[pollArgs, pollArgs]{
		Name:        "vote",
		Description: "Get a private ballot for a poll by direct message.",
		Usage:       "vote <poll-id>",
		Parse: command.Regex(`(?i)^vote\s+(?P<id>\S+)\s*$`, `(?i)^vote\b`, func(m command.Submatches) pollArgs {
			return pollArgs{id: m["id"]}
		}),
		Validate: command.Same[pollArgs],
		Execute: func(ctx context.Context, a pollArgs, inv *command.Invocation) error {
			if err := d.Voting.Vote(ctx, a.id, inv.Actor(), inv.Server()); err != nil {
				return pollError(a.id, err)
			}
			if !inv.Channel.Direct() {
				d.confirm(ctx, inv, message.Format("%s, I sent you a ballot for %s.", inv.Actor().Mention(), a.id))
			}
			return nil
		},
	}
}

type resultsArgs struct {
	id   string
	tags bool
}

type results struct {
	poll      *poll.Poll
	responses []*poll.Response
	tags      bool
}

func (d *Deps) pollResults(admin *requirement.Requirement) command.Command {
	req := requirement.Func("admin or on the poll's export list", func(s *requirement.Subject) bool {
		if admin.Test(s) {
			return true
		}
		// Help tests requirements without a payload.
		if r, ok := s.Payload.(*results); ok && slices.Contains(r.poll.Export, s.Actor.ID) {
			return true
		}
		srv := d.Servers[s.Server]
		return srv != nil && slices.Contains(srv.Export, s.Actor.ID)
	})
	return &command.Spec[resultsArgs, *results]{
		Name:        "pollresults",
		Description: "Show the results of a poll.",
		Usage:       "pollresults <poll-id> [show-tags]",
		Parse: command.Regex(`(?i)^pollresults\s+(?P<id>\S+)(?:\s+(?P<tags>show-tags))?\s*$`, `(?i)^pollresults\b`, func(m command.Submatches) resultsArgs {
			return resultsArgs{id: m["id"], tags: m["tags"] != ""}
		}),
		Validate: func(ctx context.Context, a resultsArgs, inv *command.Invocation) (*results, error) {
			p, err := d.Polls.Get(ctx, a.id)
			if err != nil {
				return nil, pollError(a.id, err)
			}
			docs, err := d.Responses.Scan(ctx, a.id+"/")
			if err != nil {
				return nil, fmt.Errorf("couldn't load responses to %s: %w", a.id, err)
			}
			r := &results{poll: p, tags: a.tags}
			for _, doc := range docs {
				if len(doc.Value.Answers) > 0 {
					r.responses = append(r.responses, doc.Value)
				}
			}
			return r, nil
		},
		Require: &req,
		Execute: func(ctx context.Context, r *results, inv *command.Invocation) error {
			text, err := d.formatResults(ctx, r)
			if err != nil {
				return err
			}
			return d.reply(ctx, inv, text)
		},
	}
}

func (d *Deps) formatResults(ctx context.Context, r *results) (string, error) {
	p := r.poll
	var b strings.Builder
	state := "open"
	switch {
	case p.Tallied || !d.now().Before(p.CloseTime()):
		state = "closed"
	case d.now().Before(p.OpenTime()):
		state = "not open yet"
	}
	fmt.Fprintf(&b, "Results for **%s** (`%s`): %d voters, %s.\n", p.Name, p.ID, len(r.responses), state)
	for _, t := range poll.Tally(p, r.responses) {
		b.WriteString("**" + t.Prompt + "**\n")
		for _, c := range t.Counts {
			fmt.Fprintf(&b, "%s %s: %d\n", message.ParseEmoji(c.Option.Emoji), c.Option.Name, c.Votes)
		}
		switch l := t.Leaders(); len(l) {
		case 0:
		case 1:
			b.WriteString("Leader: " + l[0].Name + "\n")
		default:
			names := make([]string, len(l))
			for i, o := range l {
				names[i] = o.Name
			}
			b.WriteString("Tied: " + strings.Join(names, ", ") + "\n")
		}
	}
	if !r.tags || len(r.responses) == 0 {
		return b.String(), nil
	}
	users := make([]string, len(r.responses))
	for i, resp := range r.responses {
		users[i] = resp.User
	}
	private, err := d.Privacy.Filter(ctx, users)
	if err != nil {
		return "", fmt.Errorf("couldn't check privacy list: %w", err)
	}
	type row struct {
		label, answers string
	}
	rows := make([]row, 0, len(r.responses))
	for _, resp := range r.responses {
		label := "<@" + resp.User + ">"
		if private[resp.User] {
			label = "`" + d.Hasher.Tag(resp.User, p.ID) + "`"
		}
		var ans []string
		for _, q := range p.Questions {
			o, _ := q.Option(resp.Answers[q.ID])
			if o == nil {
				continue
			}
			ans = append(ans, message.ParseEmoji(o.Emoji).String()+" "+o.Name)
		}
		rows = append(rows, row{label: label, answers: strings.Join(ans, "; ")})
	}
	slices.SortFunc(rows, func(a, b row) int { return strings.Compare(a.label, b.label) })
	b.WriteString("**Voters (" + strconv.Itoa(len(rows)) + ")**\n")
	for _, r := range rows {
		b.WriteString(r.label + ": " + r.answers + "\n")
	}
	return b.String(), nil
}
