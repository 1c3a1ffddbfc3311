package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zephyrtronium/pollbot/actionmessage"
	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/message"
)

const ballotEmoji = "🗳️"

// pollUI is the set of live messages of a poll: one message per question for
// server polls, or one announcement for direct polls.
type pollUI struct {
	poll      *Poll
	channel   string
	announce  *actionmessage.Message[*liveView]
	questions map[string]*actionmessage.Message[*liveView]
	// tallies are the results by question ID once the poll is tallied.
	tallies map[string]*QuestionTally
	// retired holds the IDs of messages whose voting reactions are cleared.
	retired map[string]bool
}

type liveView struct {
	ui *pollUI
	// q is the question ID, or empty for the announcement.
	q string
}

func (ui *pollUI) teardown(ctx context.Context, del bool) {
	if ui.announce != nil {
		ui.announce.Teardown(ctx, del)
		ui.announce = nil
	}
	for id, m := range ui.questions {
		m.Teardown(ctx, del)
		delete(ui.questions, id)
	}
}

// sync makes the live messages of a poll match its configuration and writes
// back the IDs of any messages it creates.
func (v *Voting) sync(ctx context.Context, p *Poll) error {
	ch := ""
	if p.Message != nil {
		ch = p.Message.Channel
	}
	ui, ok := v.live.Load(p.ID)
	if ok && ui.channel != ch {
		v.live.Delete(p.ID)
		ui.teardown(ctx, true)
		ok = false
	}
	if ch == "" {
		return nil
	}
	if !ok {
		ui = &pollUI{channel: ch, questions: make(map[string]*actionmessage.Message[*liveView])}
		v.live.Store(p.ID, ui)
	}
	ui.poll = p
	ui.tallies = nil
	if p.Tallied {
		rs, err := v.env.responses(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("couldn't load responses: %w", err)
		}
		ui.tallies = make(map[string]*QuestionTally, len(p.Questions))
		for _, t := range Tally(p, rs) {
			ui.tallies[t.Question] = &t
		}
	}
	changed := false
	switch p.Kind {
	case Server:
		if ui.announce != nil {
			ui.announce.Teardown(ctx, true)
			ui.announce = nil
		}
		for id, m := range ui.questions {
			if q, _ := p.Question(id); q == nil {
				m.Teardown(ctx, true)
				delete(ui.questions, id)
			}
		}
		for i := range p.Questions {
			q := &p.Questions[i]
			m := ui.questions[q.ID]
			if m == nil {
				m = v.liveMessage(ui, q.ID, q.Message)
				ui.questions[q.ID] = m
			}
			if err := m.Reconcile(ctx); err != nil {
				v.env.log().ErrorContext(ctx, "couldn't reconcile question message", slog.String("poll", p.ID), slog.String("question", q.ID), slog.Any("err", err))
				continue
			}
			if m.ID() != q.Message {
				q.Message = m.ID()
				changed = true
			}
			if p.Tallied {
				es := make([]message.Emoji, len(q.Options))
				for j, o := range q.Options {
					es[j] = o.emoji()
				}
				v.retire(ctx, ui, m.ID(), es)
			}
		}
	default:
		for id, m := range ui.questions {
			m.Teardown(ctx, true)
			delete(ui.questions, id)
		}
		if ui.announce == nil {
			ui.announce = v.liveMessage(ui, "", p.Message.ID)
		}
		if err := ui.announce.Reconcile(ctx); err != nil {
			return err
		}
		if ui.announce.ID() != p.Message.ID {
			p.Message.ID = ui.announce.ID()
			changed = true
		}
		if p.Tallied {
			v.retire(ctx, ui, ui.announce.ID(), []message.Emoji{message.Unicode(ballotEmoji)})
		}
	}
	if changed {
		if err := v.env.Polls.Set(ctx, p.ID, p); err != nil {
			return fmt.Errorf("couldn't write message IDs: %w", err)
		}
	}
	return nil
}

// retire removes the bot's voting reactions from a tallied poll's message.
func (v *Voting) retire(ctx context.Context, ui *pollUI, id string, es []message.Emoji) {
	if id == "" || ui.retired[id] {
		return
	}
	for _, e := range es {
		if err := v.env.Platform.Unreact(ctx, ui.channel, id, e, chat.Me); err != nil {
			v.env.log().WarnContext(ctx, "couldn't remove voting reaction", slog.String("poll", ui.poll.ID), slog.String("message", id), slog.String("emoji", e.Key()), slog.Any("err", err))
		}
	}
	if ui.retired == nil {
		ui.retired = make(map[string]bool)
	}
	ui.retired[id] = true
}

func (v *Voting) liveMessage(ui *pollUI, q, id string) *actionmessage.Message[*liveView] {
	return actionmessage.New(v.env.Platform, v.env.Hub, ui.channel, id, &liveView{ui: ui, q: q}, actionmessage.Options[*liveView]{
		Render:     renderLive,
		OnCreate:   v.liveCreated,
		OnReaction: v.liveReact,
		Count:      v.env.Metrics.ReconcileCount,
		Log:        v.env.log(),
	})
}

func (v *Voting) liveCreated(ctx context.Context, id string, lv *liveView) error {
	p := lv.ui.poll
	if p.Tallied {
		return nil
	}
	if lv.q == "" {
		return v.env.Platform.React(ctx, lv.ui.channel, id, message.Unicode(ballotEmoji))
	}
	q, _ := p.Question(lv.q)
	if q == nil {
		return nil
	}
	for _, o := range q.Options {
		if err := v.env.Platform.React(ctx, lv.ui.channel, id, o.emoji()); err != nil {
			return err
		}
	}
	return nil
}

func (v *Voting) liveReact(ctx context.Context, ev *message.ReactionEvent, lv *liveView) {
	ui := lv.ui
	if cur, ok := v.live.Load(ui.poll.ID); !ok || cur != ui {
		return
	}
	p := ui.poll
	if p.Tallied {
		return
	}
	key := ev.Emoji.Key()
	if lv.q == "" {
		if !ev.Added || key != ballotEmoji {
			return
		}
		// Leave the button ready for the next press.
		v.unreact(ctx, ui.channel, ev.Message, key, ev.User.ID)
		err := v.Vote(ctx, p.ID, ev.User, ev.Server)
		var ie *IneligibleError
		switch {
		case err == nil, errors.Is(err, ErrThrottled):
		case errors.As(err, &ie):
			v.tell(ctx, ev.User.ID, ie.Message)
		default:
			v.env.log().ErrorContext(ctx, "couldn't send ballot", slog.String("poll", p.ID), slog.String("user", ev.User.ID), slog.Any("err", err))
		}
		return
	}
	q, _ := p.Question(lv.q)
	if q == nil {
		return
	}
	o := q.OptionByEmoji(key)
	if o == nil {
		if ev.Added {
			v.unreact(ctx, ui.channel, ev.Message, key, ev.User.ID)
		}
		return
	}
	if ev.Added {
		v.serverVote(ctx, ui, q, o, ev)
	} else {
		v.serverUnvote(ctx, p, q, o, ev.User.ID)
	}
}

// serverVote records a reaction vote on a server poll, replacing the user's
// previous answer to the question.
func (v *Voting) serverVote(ctx context.Context, ui *pollUI, q *Question, o *Option, ev *message.ReactionEvent) {
	p := ui.poll
	user := ev.User.ID
	resp, existed, err := v.env.response(ctx, p.ID, user)
	if err != nil {
		v.env.log().ErrorContext(ctx, "couldn't load response", slog.String("poll", p.ID), slog.String("user", user), slog.Any("err", err))
		return
	}
	vt, err := v.voter(ctx, p, ev.User, ev.Server)
	if err == nil {
		err = v.eligible(ctx, p, vt, q, existed && len(resp.Answers) > 0)
	}
	if err != nil {
		v.reject(ctx, p, user, err)
		v.unreact(ctx, ui.channel, ev.Message, o.Emoji, user)
		var ie *IneligibleError
		if errors.As(err, &ie) {
			v.tell(ctx, user, ie.Message)
		}
		return
	}
	prev := resp.Answers[q.ID]
	if prev == o.ID {
		return
	}
	resp.Answers[q.ID] = o.ID
	resp.Updated = v.env.now().UnixMilli()
	if err := v.env.Responses.Set(ctx, ResponseID(p.ID, user), resp); err != nil {
		v.env.log().ErrorContext(ctx, "couldn't save vote", slog.String("poll", p.ID), slog.String("user", user), slog.Any("err", err))
		return
	}
	observe(v.env.Metrics.VoteCount, string(Server))
	v.env.log().DebugContext(ctx, "vote", slog.String("poll", p.ID), slog.String("question", q.ID), slog.String("user", user))
	if old, _ := q.Option(prev); old != nil {
		v.unreact(ctx, ui.channel, ev.Message, old.Emoji, user)
	}
	v.env.writeVoters(ctx, p)
}

// serverUnvote clears a user's answer when they remove the reaction for the
// option currently recorded.
func (v *Voting) serverUnvote(ctx context.Context, p *Poll, q *Question, o *Option, user string) {
	resp, existed, err := v.env.response(ctx, p.ID, user)
	if err != nil {
		v.env.log().ErrorContext(ctx, "couldn't load response", slog.String("poll", p.ID), slog.String("user", user), slog.Any("err", err))
		return
	}
	if !existed || resp.Answers[q.ID] != o.ID {
		return
	}
	delete(resp.Answers, q.ID)
	resp.Updated = v.env.now().UnixMilli()
	id := ResponseID(p.ID, user)
	if len(resp.Answers) == 0 {
		err = v.env.Responses.Delete(ctx, id)
	} else {
		err = v.env.Responses.Set(ctx, id, resp)
	}
	if err != nil {
		v.env.log().ErrorContext(ctx, "couldn't clear vote", slog.String("poll", p.ID), slog.String("user", user), slog.Any("err", err))
		return
	}
	v.env.writeVoters(ctx, p)
}

func (v *Voting) unreact(ctx context.Context, channel, msg, key, user string) {
	if err := v.env.Platform.Unreact(ctx, channel, msg, message.ParseEmoji(key), user); err != nil {
		v.env.log().WarnContext(ctx, "couldn't remove reaction", slog.String("message", msg), slog.String("emoji", key), slog.Any("err", err))
	}
}

func renderLive(lv *liveView) string {
	ui := lv.ui
	p := ui.poll
	var b strings.Builder
	if lv.q == "" {
		b.WriteString("📊 **" + p.Name + "**\n")
		if p.Message != nil && p.Message.Text != "" {
			b.WriteString(p.Message.Text + "\n")
		}
		if p.Tallied {
			b.WriteString("Voting closed " + stamp(p.Close, 'f') + ". Voters: " + strconv.Itoa(p.Voters) + "\n")
			for _, q := range p.Questions {
				if t := ui.tallies[q.ID]; t != nil {
					b.WriteString("**" + q.Prompt + "**\n")
					writeCounts(&b, t)
				}
			}
			return strings.TrimSpace(b.String())
		}
		b.WriteString("Voting from " + stamp(p.Open, 'f') + " to " + stamp(p.Close, 'f') + ".\n")
		b.WriteString("React with " + ballotEmoji + " to get a ballot by direct message.")
		return b.String()
	}
	q, k := p.Question(lv.q)
	if q == nil {
		return "This question was removed."
	}
	b.WriteString("📊 **" + p.Name + "** · " + strconv.Itoa(k+1) + "/" + strconv.Itoa(len(p.Questions)) + "\n")
	if k == 0 && p.Message != nil && p.Message.Text != "" {
		b.WriteString(p.Message.Text + "\n")
	}
	b.WriteString("**" + q.Prompt + "**\n")
	if t := ui.tallies[q.ID]; t != nil {
		writeCounts(&b, t)
		b.WriteString("Voting closed " + stamp(p.Close, 'f') + ".")
		return b.String()
	}
	for _, o := range q.Options {
		b.WriteString(o.emoji().String() + " " + o.Name + "\n")
	}
	roles := q.Roles
	if len(roles) == 0 {
		roles = p.Roles
	}
	if len(roles) > 0 {
		b.WriteString("Open to " + roleList(roles) + ".\n")
	}
	b.WriteString("React to vote, from " + stamp(p.Open, 'f') + " to " + stamp(p.Close, 'f') + ".")
	return b.String()
}

func writeCounts(b *strings.Builder, t *QuestionTally) {
	for _, c := range t.Counts {
		b.WriteString(c.Option.emoji().String() + " " + c.Option.Name + ": " + strconv.Itoa(c.Votes) + "\n")
	}
}
