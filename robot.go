package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/pollbot/audit"
	"github.com/zephyrtronium/pollbot/channel"
	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/metrics"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/store"
)

// Robot is the poll bot.
type Robot struct {
	// mu serializes every event: messages, reactions, store changes, and
	// sweeps. Handlers run one at a time in arrival order.
	mu sync.Mutex
	// session is the Discord session. It is nil in tests.
	session  *discordgo.Session
	platform *chat.Discord
	hub      *chat.Hub
	env      *poll.Env
	editors  *poll.Editors
	voting   *poll.Voting
	dispatch *command.Dispatcher
	audit    *audit.Log
	// servers is the configuration of each server by ID.
	servers map[string]*channel.Server
	// prefix is the text prefix for commands.
	prefix string
	// sweep is the cron expression for close sweeps.
	sweep   string
	metrics metrics.Metrics
	// self is the bot's own user ID, set once connected.
	self string
	// ready ensures polls are rehydrated only on the first connection.
	ready sync.Once
}

// Run connects to Discord and serves until ctx is canceled.
func (robo *Robot) Run(ctx context.Context, listen string) error {
	group, ctx := errgroup.WithContext(ctx)
	robo.handlers(ctx)
	group.Go(func() error {
		if err := robo.session.Open(); err != nil {
			return fmt.Errorf("couldn't connect to Discord: %w", err)
		}
		slog.InfoContext(ctx, "connected to Discord")
		<-ctx.Done()
		return robo.session.Close()
	})
	group.Go(func() error {
		err := robo.env.Polls.Watch(ctx, robo.onPoll)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error { return robo.sweeper(ctx) })
	if listen != "" {
		group.Go(func() error { return robo.api(ctx, listen, http.NewServeMux(), robo.metrics.Collectors()) })
	}
	return group.Wait()
}

// event runs f as a serialized event and observes its latency. A panic in f
// is logged and ends only that event.
func (robo *Robot) event(kind string, f func()) {
	robo.mu.Lock()
	defer robo.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event panicked", slog.String("kind", kind), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	t := time.Now()
	f()
	if o := robo.metrics.EventLatency; o != nil {
		o.Observe(time.Since(t).Seconds(), kind)
	}
}

// onPoll reconciles live messages with a changed poll document.
func (robo *Robot) onPoll(ctx context.Context, ev store.Event[poll.Poll]) {
	robo.event("poll", func() { robo.voting.Apply(ctx, ev) })
}

// sweeper tallies closed polls on the sweep schedule.
func (robo *Robot) sweeper(ctx context.Context) error {
	for {
		next, err := nextSweep(robo.sweep, time.Now())
		if err != nil {
			return err
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		robo.event("sweep", func() {
			if err := robo.voting.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "sweep failed", slog.Any("err", err))
			}
		})
	}
}
