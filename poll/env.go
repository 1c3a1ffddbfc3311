package poll

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/metrics"
	"github.com/zephyrtronium/pollbot/store"
)

// Env is what the editor and the voting engine share.
type Env struct {
	Platform  chat.Platform
	Hub       *chat.Hub
	Polls     *store.Collection[Poll]
	Responses *store.Collection[Response]
	// Metrics may have nil observers.
	Metrics metrics.Metrics
	// Log defaults to slog.Default().
	Log *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *Env) log() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func observe(o metrics.Observer, labels ...string) {
	if o != nil {
		o.Observe(1, labels...)
	}
}

// say sends a message, logging failures.
func (e *Env) say(ctx context.Context, channel, text string) {
	if _, err := e.Platform.Send(ctx, channel, text); err != nil {
		e.log().ErrorContext(ctx, "couldn't send message", slog.String("channel", channel), slog.Any("err", err))
	}
}

// responses loads every response to a poll.
func (e *Env) responses(ctx context.Context, poll string) ([]*Response, error) {
	docs, err := e.Responses.Scan(ctx, poll+"/")
	if err != nil {
		return nil, err
	}
	r := make([]*Response, 0, len(docs))
	for _, d := range docs {
		r = append(r, d.Value)
	}
	return r, nil
}

// response loads a user's response, reporting whether it existed.
func (e *Env) response(ctx context.Context, poll, user string) (*Response, bool, error) {
	r, err := e.Responses.Get(ctx, ResponseID(poll, user))
	switch {
	case err == nil:
		if r.Answers == nil {
			r.Answers = make(map[string]string)
		}
		return r, true, nil
	case errors.Is(err, store.ErrNotFound):
		return &Response{Poll: poll, User: user, Answers: make(map[string]string)}, false, nil
	default:
		return nil, false, err
	}
}

// countVoters recomputes the derived voter count of a poll.
func (e *Env) countVoters(ctx context.Context, poll string) (int, error) {
	docs, err := e.Responses.Scan(ctx, poll+"/")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		if len(d.Value.Answers) > 0 {
			n++
		}
	}
	return n, nil
}

// writeVoters writes back the derived voter count of a poll if it changed.
func (e *Env) writeVoters(ctx context.Context, p *Poll) {
	n, err := e.countVoters(ctx, p.ID)
	if err != nil {
		e.log().ErrorContext(ctx, "couldn't count voters", slog.String("poll", p.ID), slog.Any("err", err))
		return
	}
	if n == p.Voters {
		return
	}
	p.Voters = n
	if err := e.Polls.Set(ctx, p.ID, p); err != nil {
		e.log().ErrorContext(ctx, "couldn't write voter count", slog.String("poll", p.ID), slog.Any("err", err))
	}
}

// roleList formats role IDs for display.
func roleList(roles []string) string {
	if len(roles) == 0 {
		return "anyone"
	}
	var b strings.Builder
	for i, r := range roles {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("<@&")
		b.WriteString(r)
		b.WriteString(">")
	}
	return b.String()
}
