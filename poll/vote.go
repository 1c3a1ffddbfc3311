package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/store"
	"github.com/zephyrtronium/pollbot/syncmap"
)

var (
	// ErrThrottled is returned when a ballot was sent to the same user for
	// the same poll too recently.
	ErrThrottled = errors.New("ballot sent too recently")
	// ErrNotDirect is returned when asking for a ballot for a server poll.
	ErrNotDirect = errors.New("poll is not voted by ballot")
)

// VotingOptions are the tunables of a Voting engine.
type VotingOptions struct {
	// Resend is the minimum time between ballots sent to the same user for
	// the same poll. Defaults to 10 seconds.
	Resend time.Duration
	// TallyDelay is the time after a poll closes before a poll marked
	// DeleteOnClose is deleted.
	TallyDelay time.Duration
}

// Voting runs private ballots and the live messages of polls.
// Like the editor, it is not safe for concurrent use; callers serialize
// events.
type Voting struct {
	env  *Env
	opts VotingOptions
	// ballots are the open private ballots by response ID.
	ballots *syncmap.Map[string, *ballot]
	// throttle holds the resend limiter for each response ID.
	throttle *syncmap.Map[string, *rate.Limiter]
	// live holds the live messages of each poll.
	live *syncmap.Map[string, *pollUI]
}

// NewVoting creates a voting engine.
func NewVoting(env *Env, opts VotingOptions) *Voting {
	if opts.Resend <= 0 {
		opts.Resend = 10 * time.Second
	}
	return &Voting{
		env:      env,
		opts:     opts,
		ballots:  syncmap.New[string, *ballot](),
		throttle: syncmap.New[string, *rate.Limiter](),
		live:     syncmap.New[string, *pollUI](),
	}
}

// voter looks up a user's membership for eligibility checks. The poll's own
// server takes priority over the server where the user acted.
func (v *Voting) voter(ctx context.Context, p *Poll, u message.User, server string) (*Voter, error) {
	if p.Server != "" {
		server = p.Server
	}
	r := &Voter{User: u}
	if server == "" {
		return r, nil
	}
	m, err := v.env.Platform.Member(ctx, server, u.ID)
	switch {
	case err == nil:
		r.Member = m
	case errors.Is(err, chat.ErrNotFound):
	default:
		return nil, fmt.Errorf("couldn't get member %s of %s: %w", u.ID, server, err)
	}
	return r, nil
}

// eligible runs every check on a new or changed answer.
func (v *Voting) eligible(ctx context.Context, p *Poll, vt *Voter, q *Question, existing bool) error {
	if err := CheckVote(p, vt, v.env.now()); err != nil {
		return err
	}
	if q != nil && !CanAnswer(q, vt) {
		return &IneligibleError{
			Reason:  "question-roles",
			Message: message.Format("You don't have any of the roles needed to answer that question in %s.", p.Name),
		}
	}
	if existing {
		return nil
	}
	n, err := v.env.countVoters(ctx, p.ID)
	if err != nil {
		return err
	}
	return checkCapacity(p, false, n)
}

// reject records a refused vote.
func (v *Voting) reject(ctx context.Context, p *Poll, user string, err error) {
	var ie *IneligibleError
	if !errors.As(err, &ie) {
		v.env.log().ErrorContext(ctx, "couldn't check vote", slog.String("poll", p.ID), slog.String("user", user), slog.Any("err", err))
		return
	}
	v.env.log().InfoContext(ctx, "vote refused", slog.String("poll", p.ID), slog.String("user", user), slog.String("reason", ie.Reason))
	observe(v.env.Metrics.RejectedVotes, ie.Reason)
}

// tell sends a direct message to a user, logging failures.
func (v *Voting) tell(ctx context.Context, user, text string) {
	dm, err := v.env.Platform.DirectChannel(ctx, user)
	if err != nil {
		v.env.log().WarnContext(ctx, "couldn't open direct messages", slog.String("user", user), slog.Any("err", err))
		return
	}
	v.env.say(ctx, dm, text)
}

// Apply handles a change to a poll document: removals tear down the poll's
// live messages and ballots, and other changes reconcile them.
func (v *Voting) Apply(ctx context.Context, ev store.Event[Poll]) {
	v.env.log().DebugContext(ctx, "poll changed", slog.String("poll", ev.ID), slog.String("op", ev.Op.String()))
	if ev.Op == store.Removed {
		v.remove(ctx, ev.ID)
		return
	}
	if err := v.sync(ctx, ev.Value); err != nil {
		v.env.log().ErrorContext(ctx, "couldn't sync poll", slog.String("poll", ev.ID), slog.Any("err", err))
	}
}

// Rehydrate reattaches the live messages of every stored poll.
func (v *Voting) Rehydrate(ctx context.Context) error {
	docs, err := v.env.Polls.All(ctx)
	if err != nil {
		return fmt.Errorf("couldn't load polls: %w", err)
	}
	for _, d := range docs {
		if err := v.sync(ctx, d.Value); err != nil {
			v.env.log().ErrorContext(ctx, "couldn't rehydrate poll", slog.String("poll", d.ID), slog.Any("err", err))
		}
	}
	v.env.log().InfoContext(ctx, "rehydrated polls", slog.Int("count", len(docs)))
	return nil
}

// remove tears down everything live for a poll.
func (v *Voting) remove(ctx context.Context, id string) {
	if ui, ok := v.live.LoadAndDelete(id); ok {
		ui.teardown(ctx, true)
	}
	v.endBallots(ctx, id)
}

// Sweep tallies polls which have closed and deletes tallied polls marked
// DeleteOnClose once the tally delay has passed.
func (v *Voting) Sweep(ctx context.Context) error {
	docs, err := v.env.Polls.All(ctx)
	if err != nil {
		return fmt.Errorf("couldn't load polls: %w", err)
	}
	now := v.env.now().UnixMilli()
	for _, d := range docs {
		p := d.Value
		if !p.Tallied && now >= p.Close {
			if err := v.tally(ctx, p); err != nil {
				v.env.log().ErrorContext(ctx, "couldn't tally poll", slog.String("poll", p.ID), slog.Any("err", err))
				continue
			}
		}
		if p.Tallied && p.DeleteOnClose && now >= p.Close+v.opts.TallyDelay.Milliseconds() {
			if err := v.Delete(ctx, p.ID); err != nil {
				v.env.log().ErrorContext(ctx, "couldn't delete closed poll", slog.String("poll", p.ID), slog.Any("err", err))
			}
		}
	}
	return nil
}

func (v *Voting) tally(ctx context.Context, p *Poll) error {
	n, err := v.env.countVoters(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Voters = n
	p.Tallied = true
	if err := v.env.Polls.Set(ctx, p.ID, p); err != nil {
		return fmt.Errorf("couldn't mark poll tallied: %w", err)
	}
	v.endBallots(ctx, p.ID)
	v.env.log().InfoContext(ctx, "tallied poll", slog.String("poll", p.ID), slog.Int("voters", n))
	return v.sync(ctx, p)
}

// Delete removes a poll along with its responses and messages.
func (v *Voting) Delete(ctx context.Context, id string) error {
	docs, err := v.env.Responses.Scan(ctx, id+"/")
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := v.env.Responses.Delete(ctx, d.ID); err != nil {
			return err
		}
	}
	if err := v.env.Polls.Delete(ctx, id); err != nil {
		return err
	}
	v.remove(ctx, id)
	v.env.log().InfoContext(ctx, "deleted poll", slog.String("poll", id))
	return nil
}
