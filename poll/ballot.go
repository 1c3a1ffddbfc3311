package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/zephyrtronium/pollbot/actionmessage"
	"github.com/zephyrtronium/pollbot/message"
)

const submitEmoji = "✅"

// ballot is a user's private ballot for a direct poll. Answers are held in
// memory until the user submits.
type ballot struct {
	key     string
	poll    *Poll
	voter   *Voter
	channel string
	answers map[string]string
	// existing is whether the user had already voted when the ballot was
	// sent, so capacity doesn't apply.
	existing  bool
	questions map[string]*actionmessage.Message[*ballotView]
	order     []string
	submit    *actionmessage.Message[*ballotView]
	done      bool
}

type ballotView struct {
	b *ballot
	// q is the question ID, or empty for the submit message.
	q string
}

// Vote sends a private ballot for a direct poll to a user. server is the
// server where the user asked for it, used for eligibility when the poll
// has no server of its own.
// Asking again replaces the previous ballot, but no more often than the
// resend interval; within it, the result is ErrThrottled.
func (v *Voting) Vote(ctx context.Context, id string, u message.User, server string) error {
	p, err := v.env.Polls.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("couldn't load poll %s: %w", id, err)
	}
	if p.Kind != Direct {
		return ErrNotDirect
	}
	vt, err := v.voter(ctx, p, u, server)
	if err != nil {
		return err
	}
	resp, existed, err := v.env.response(ctx, p.ID, u.ID)
	if err != nil {
		return err
	}
	existing := existed && len(resp.Answers) > 0
	if err := v.eligible(ctx, p, vt, nil, existing); err != nil {
		v.reject(ctx, p, u.ID, err)
		return err
	}
	key := ResponseID(p.ID, u.ID)
	lim, ok := v.throttle.Load(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(v.opts.Resend), 1)
		v.throttle.Store(key, lim)
	}
	if !lim.AllowN(v.env.now(), 1) {
		v.env.log().InfoContext(ctx, "ballot throttled", slog.String("poll", p.ID), slog.String("user", u.ID))
		return ErrThrottled
	}
	if old, ok := v.ballots.LoadAndDelete(key); ok {
		old.teardown(ctx)
	}
	dm, err := v.env.Platform.DirectChannel(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("couldn't open direct messages with %s: %w", u.ID, err)
	}
	b := &ballot{
		key:       key,
		poll:      p,
		voter:     vt,
		channel:   dm,
		answers:   maps.Clone(resp.Answers),
		existing:  existing,
		questions: make(map[string]*actionmessage.Message[*ballotView]),
	}
	for i := range p.Questions {
		q := &p.Questions[i]
		if len(q.Options) == 0 || !CanAnswer(q, vt) {
			continue
		}
		b.questions[q.ID] = v.ballotMessage(b, q.ID)
		b.order = append(b.order, q.ID)
	}
	if len(b.order) == 0 {
		return &IneligibleError{
			Reason:  "question-roles",
			Message: message.Format("There are no questions in %s that you can answer.", p.Name),
		}
	}
	v.ballots.Store(key, b)
	for _, q := range b.order {
		if err := b.questions[q].Reconcile(ctx); err != nil {
			v.ballots.CompareAndDelete(key, func(cur *ballot) bool { return cur == b })
			b.teardown(ctx)
			return err
		}
	}
	b.submit = v.ballotMessage(b, "")
	if err := b.submit.Reconcile(ctx); err != nil {
		v.ballots.CompareAndDelete(key, func(cur *ballot) bool { return cur == b })
		b.teardown(ctx)
		return err
	}
	v.env.log().InfoContext(ctx, "sent ballot", slog.String("poll", p.ID), slog.String("user", u.ID), slog.Int("questions", len(b.order)))
	return nil
}

func (v *Voting) ballotMessage(b *ballot, q string) *actionmessage.Message[*ballotView] {
	return actionmessage.New(v.env.Platform, v.env.Hub, b.channel, "", &ballotView{b: b, q: q}, actionmessage.Options[*ballotView]{
		Render:     renderBallot,
		OnCreate:   v.ballotCreated,
		OnReaction: v.ballotReact,
		Count:      v.env.Metrics.ReconcileCount,
		Log:        v.env.log(),
	})
}

func (v *Voting) ballotCreated(ctx context.Context, id string, bv *ballotView) error {
	if bv.q == "" {
		return v.env.Platform.React(ctx, bv.b.channel, id, message.Unicode(submitEmoji))
	}
	q, _ := bv.b.poll.Question(bv.q)
	if q == nil {
		return nil
	}
	for _, o := range q.Options {
		if err := v.env.Platform.React(ctx, bv.b.channel, id, o.emoji()); err != nil {
			return err
		}
	}
	return nil
}

func (v *Voting) ballotReact(ctx context.Context, ev *message.ReactionEvent, bv *ballotView) {
	b := bv.b
	if cur, ok := v.ballots.Load(b.key); !ok || cur != b || b.done {
		return
	}
	if ev.User.ID != b.voter.User.ID {
		return
	}
	key := ev.Emoji.Key()
	if bv.q == "" {
		if ev.Added && key == submitEmoji {
			v.submitBallot(ctx, b)
		}
		return
	}
	q, _ := b.poll.Question(bv.q)
	if q == nil {
		return
	}
	o := q.OptionByEmoji(key)
	if o == nil {
		return
	}
	switch {
	case ev.Added:
		prev := b.answers[q.ID]
		b.answers[q.ID] = o.ID
		if old, _ := q.Option(prev); old != nil && prev != o.ID {
			// Platforms may not allow removing reactions in direct messages,
			// in which case the stale reaction stays but isn't counted.
			if err := v.env.Platform.Unreact(ctx, b.channel, ev.Message, old.emoji(), ev.User.ID); err != nil {
				v.env.log().DebugContext(ctx, "couldn't remove previous ballot reaction", slog.String("poll", b.poll.ID), slog.Any("err", err))
			}
		}
	case b.answers[q.ID] == o.ID:
		delete(b.answers, q.ID)
	default:
		// A removal of an option that is no longer selected.
		return
	}
	if m := b.questions[q.ID]; m != nil {
		if err := m.Reconcile(ctx); err != nil {
			v.env.log().ErrorContext(ctx, "couldn't update ballot", slog.String("poll", b.poll.ID), slog.Any("err", err))
		}
	}
}

func (v *Voting) submitBallot(ctx context.Context, b *ballot) {
	p := b.poll
	if len(b.answers) == 0 {
		v.env.say(ctx, b.channel, "Choose at least one answer before submitting.")
		return
	}
	if err := v.eligible(ctx, p, b.voter, nil, b.existing); err != nil {
		v.reject(ctx, p, b.voter.User.ID, err)
		var ie *IneligibleError
		if errors.As(err, &ie) {
			v.env.say(ctx, b.channel, ie.Message)
		}
		return
	}
	resp := &Response{
		Poll:     p.ID,
		User:     b.voter.User.ID,
		Answers:  maps.Clone(b.answers),
		Updated:  v.env.now().UnixMilli(),
		Messages: b.messages(),
	}
	if err := v.env.Responses.Set(ctx, b.key, resp); err != nil {
		v.env.log().ErrorContext(ctx, "couldn't save ballot", slog.String("poll", p.ID), slog.String("user", resp.User), slog.Any("err", err))
		v.env.say(ctx, b.channel, "Sorry, I couldn't save your ballot. Please try submitting again.")
		return
	}
	b.done = true
	v.ballots.CompareAndDelete(b.key, func(cur *ballot) bool { return cur == b })
	observe(v.env.Metrics.VoteCount, string(Direct))
	v.env.log().InfoContext(ctx, "ballot submitted", slog.String("poll", p.ID), slog.String("user", resp.User), slog.Int("answers", len(resp.Answers)))
	for _, m := range b.questions {
		m.Teardown(ctx, true)
	}
	if err := b.submit.Reconcile(ctx); err != nil {
		v.env.log().WarnContext(ctx, "couldn't mark ballot submitted", slog.String("poll", p.ID), slog.Any("err", err))
	}
	b.submit.Teardown(ctx, false)
	cur, err := v.env.Polls.Get(ctx, p.ID)
	if err != nil {
		v.env.log().ErrorContext(ctx, "couldn't reload poll", slog.String("poll", p.ID), slog.Any("err", err))
		return
	}
	v.env.writeVoters(ctx, cur)
}

func (b *ballot) messages() []string {
	var r []string
	for _, q := range b.order {
		if id := b.questions[q].ID(); id != "" {
			r = append(r, id)
		}
	}
	if b.submit != nil && b.submit.ID() != "" {
		r = append(r, b.submit.ID())
	}
	return r
}

func (b *ballot) teardown(ctx context.Context) {
	for _, m := range b.questions {
		m.Teardown(ctx, true)
	}
	if b.submit != nil {
		b.submit.Teardown(ctx, true)
	}
}

// endBallots discards every open ballot for a poll.
func (v *Voting) endBallots(ctx context.Context, poll string) {
	for key, b := range v.ballots.All() {
		if b.poll.ID != poll {
			continue
		}
		v.ballots.Delete(key)
		b.teardown(ctx)
	}
}

func renderBallot(bv *ballotView) string {
	b := bv.b
	var s strings.Builder
	if bv.q == "" {
		if b.done {
			s.WriteString("Your ballot for **" + b.poll.Name + "** was submitted. Thanks for voting!")
			return s.String()
		}
		s.WriteString("React with " + submitEmoji + " to submit your ballot for **" + b.poll.Name + "**.\n")
		s.WriteString("Answers aren't saved until you submit. Voting closes " + stamp(b.poll.Close, 'R') + ".")
		return s.String()
	}
	q, _ := b.poll.Question(bv.q)
	if q == nil {
		return "This question was removed."
	}
	k := 0
	for i, id := range b.order {
		if id == bv.q {
			k = i
		}
	}
	s.WriteString("**" + b.poll.Name + "** · " + strconv.Itoa(k+1) + "/" + strconv.Itoa(len(b.order)) + "\n")
	s.WriteString(q.Prompt + "\n")
	for _, o := range q.Options {
		t := o.emoji().String() + " " + o.Name
		if b.answers[q.ID] == o.ID {
			t = "**" + t + "** ← your choice"
		}
		s.WriteString(t + "\n")
	}
	s.WriteString("React with an option to choose it.")
	return s.String()
}
