package commands_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/pollbot/channel"
	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/chat/chattest"
	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/commands"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/privacy"
	"github.com/zephyrtronium/pollbot/store"
	"github.com/zephyrtronium/pollbot/userhash"
)

var dbcount atomic.Uint64

type fixture struct {
	deps *commands.Deps
	env  *poll.Env
	p    *chattest.Fake
	disp *command.Dispatcher
}

// newFixture creates commands over a fake platform in server starry, whose
// admin role is staff and whose export list has kita. The clock reads
// 1500ms past the epoch.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	k := dbcount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:commands%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	if err := privacy.Init(ctx, pool); err != nil {
		t.Fatal(err)
	}
	priv, err := privacy.Open(ctx, pool)
	if err != nil {
		t.Fatal(err)
	}
	p := chattest.New()
	hub := chat.NewHub()
	hub.SetSelf(chattest.Self)
	now := func() time.Time { return time.UnixMilli(1500) }
	env := &poll.Env{
		Platform:  p,
		Hub:       hub,
		Polls:     store.New[poll.Poll](db, "polls"),
		Responses: store.New[poll.Response](db, "responses"),
		Now:       now,
	}
	d := &commands.Deps{
		Platform:  p,
		Polls:     env.Polls,
		Responses: env.Responses,
		Editors:   poll.NewEditors(env),
		Voting:    poll.NewVoting(env, poll.VotingOptions{}),
		Privacy:   priv,
		Hasher:    userhash.New([]byte("kessoku")),
		Servers: map[string]*channel.Server{
			"starry": {ID: "starry", Name: "starry", Admins: []string{"staff"}, Export: []string{"kita"}},
		},
		Owner: "seika",
		Now:   now,
	}
	return &fixture{
		deps: d,
		env:  env,
		p:    p,
		disp: command.NewDispatcher(p, command.Options{}, commands.All(d)...),
	}
}

// run dispatches text as user in channel stage of server starry.
func (f *fixture) run(t *testing.T, user, text string, roles ...string) {
	t.Helper()
	m := f.p.Put("stage", "starry", message.User{ID: user}, text)
	inv := &command.Invocation{
		Message: m,
		Channel: &message.Channel{ID: "stage", Server: "starry"},
		Member:  &message.Member{User: message.User{ID: user}, Server: "starry", Roles: roles},
	}
	if _, ok := f.disp.Dispatch(context.Background(), text, inv); !ok {
		t.Fatalf("%q wasn't handled", text)
	}
}

// last returns the last message sent to stage.
func (f *fixture) last(t *testing.T) string {
	t.Helper()
	s := f.p.SentTo("stage")
	if len(s) == 0 {
		t.Fatal("nothing sent to stage")
	}
	return s[len(s)-1]
}

func lunch() *poll.Poll {
	return &poll.Poll{
		ID:    "lunch",
		Name:  "Lunch",
		Kind:  poll.Direct,
		Open:  1000,
		Close: 2000,
		Questions: []poll.Question{
			{
				ID:     "q1",
				Prompt: "What's for lunch?",
				Options: []poll.Option{
					{ID: "o1", Name: "Pizza", Emoji: "🍕"},
					{ID: "o2", Name: "Burger", Emoji: "🍔"},
				},
			},
		},
	}
}

func (f *fixture) save(t *testing.T, p *poll.Poll) {
	t.Helper()
	if err := f.env.Polls.Set(context.Background(), p.ID, p); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) answer(t *testing.T, user, opt string) {
	t.Helper()
	r := &poll.Response{Poll: "lunch", User: user, Answers: map[string]string{"q1": opt}, Updated: 1200}
	if err := f.env.Responses.Set(context.Background(), poll.ResponseID("lunch", user), r); err != nil {
		t.Fatal(err)
	}
}

func TestVote(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.save(t, lunch())
	f.run(t, "bocchi", "vote lunch")
	if got, want := f.last(t), "<@bocchi>, I sent you a ballot for lunch."; got != want {
		t.Errorf("wrong confirmation: want %q, got %q", want, got)
	}
	if len(f.p.SentTo("dm-bocchi")) == 0 {
		t.Errorf("no ballot sent")
	}
	f.run(t, "bocchi", "vote lunch")
	if got, want := f.last(t), "I just sent you a ballot for lunch. Check your direct messages!"; got != want {
		t.Errorf("wrong throttle reply: want %q, got %q", want, got)
	}
	f.run(t, "bocchi", "vote dinner")
	if got, want := f.last(t), "There's no poll dinner."; got != want {
		t.Errorf("wrong missing poll reply: want %q, got %q", want, got)
	}
	srv := lunch()
	srv.ID = "stagepoll"
	srv.Kind = poll.Server
	f.save(t, srv)
	f.run(t, "bocchi", "vote stagepoll")
	if got, want := f.last(t), "Vote in stagepoll by reacting to its messages."; got != want {
		t.Errorf("wrong server poll reply: want %q, got %q", want, got)
	}
	f.run(t, "bocchi", "vote")
	if got, want := f.last(t), "Usage: vote <poll-id>"; got != want {
		t.Errorf("wrong usage: want %q, got %q", want, got)
	}
}

func TestVoteIneligible(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := lunch()
	p.Close = 1400
	f.save(t, p)
	f.run(t, "bocchi", "vote lunch")
	if got := f.last(t); !strings.Contains(got, "closed") {
		t.Errorf("reply doesn't explain the poll is closed: %q", got)
	}
	if s := f.p.SentTo("dm-bocchi"); len(s) != 0 {
		t.Errorf("ballot sent for closed poll: %q", s)
	}
}

func TestPollResults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.save(t, lunch())
	f.answer(t, "bocchi", "o1")
	f.answer(t, "kita", "o2")
	f.answer(t, "nijika", "o1")
	if err := f.deps.Privacy.Add(context.Background(), "nijika"); err != nil {
		t.Fatal(err)
	}
	tally := "Results for **Lunch** (`lunch`): 3 voters, open.\n" +
		"**What's for lunch?**\n" +
		"🍕 Pizza: 2\n" +
		"🍔 Burger: 1\n" +
		"Leader: Pizza"
	cases := []struct {
		name  string
		user  string
		roles []string
		text  string
		want  string
	}{
		{
			name:  "admin",
			user:  "bocchi",
			roles: []string{"staff"},
			text:  "pollresults lunch",
			want:  tally,
		},
		{
			name: "export",
			user: "kita",
			text: "pollresults lunch",
			want: tally,
		},
		{
			name: "owner",
			user: "seika",
			text: "pollresults lunch show-tags",
			want: tally + "\n**Voters (3)**\n" +
				"<@bocchi>: 🍕 Pizza\n" +
				"<@kita>: 🍔 Burger\n" +
				"`" + userhash.New([]byte("kessoku")).Tag("nijika", "lunch") + "`: 🍕 Pizza",
		},
		{
			name: "denied",
			user: "ryou",
			text: "pollresults lunch",
			want: "Sorry <@ryou>, you don't have permission to use pollresults.",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f.run(t, c.user, c.text, c.roles...)
			if diff := cmp.Diff(c.want, f.last(t)); diff != "" {
				t.Errorf("wrong reply (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPollEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.run(t, "seika", "polledit poll cake name='Cake?' maxVoters=3")
	if got, want := f.last(t), "Created poll cake."; got != want {
		t.Errorf("wrong reply: want %q, got %q", want, got)
	}
	p, err := f.env.Polls.Get(ctx, "cake")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Cake?" || p.MaxVoters != 3 {
		t.Errorf("wrong poll after creation: %+v", p)
	}
	f.run(t, "bocchi", "polledit poll cake name='Mine'", "staff")
	if got, want := f.last(t), "Updated poll cake."; got != want {
		t.Errorf("wrong reply: want %q, got %q", want, got)
	}
	f.run(t, "ryou", "polledit poll cake delete")
	if got, want := f.last(t), "Sorry <@ryou>, you don't have permission to use polledit."; got != want {
		t.Errorf("wrong reply: want %q, got %q", want, got)
	}
	f.run(t, "seika", "polledit poll cake delete")
	if got, want := f.last(t), "Deleted poll cake."; got != want {
		t.Errorf("wrong reply: want %q, got %q", want, got)
	}
	if _, err := f.env.Polls.Get(ctx, "cake"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("poll wasn't deleted: %v", err)
	}
	f.run(t, "seika", "polledit nonsense cake")
	if got := f.last(t); !strings.HasPrefix(got, "An edit starts with") || !strings.Contains(got, "\nUsage: polledit") {
		t.Errorf("wrong parse error reply: %q", got)
	}
}

func TestServerPollCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.run(t, "bocchi", "serverpoll Lunch? 🍕🍔 Pick one", "staff")
	docs, err := f.env.Polls.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("wrong number of polls: %d", len(docs))
	}
	p := docs[0].Value
	if p.Kind != poll.Server || p.Server != "starry" || p.Message.Channel != "stage" {
		t.Errorf("wrong poll placement: %+v", p)
	}
	if p.Close-p.Open != (24 * time.Hour).Milliseconds() {
		t.Errorf("wrong duration: %d", p.Close-p.Open)
	}
	if len(p.Questions) != 1 || p.Questions[0].Prompt != "Pick one" || len(p.Questions[0].Options) != 2 {
		t.Errorf("wrong questions: %+v", p.Questions)
	}
	want := "Started poll Lunch? (" + p.ID + ") in <#stage>."
	if got := f.last(t); got != want {
		t.Errorf("wrong confirmation: want %q, got %q", want, got)
	}
	f.run(t, "bocchi", "serverpoll Lunch? 🍕🍕 Pick one", "staff")
	if got := f.last(t); !strings.HasPrefix(got, "Each option needs a different emoji.") {
		t.Errorf("wrong duplicate emoji reply: %q", got)
	}
	for _, hours := range []string{"87841", "99999999999", "87840.5"} {
		f.run(t, "bocchi", "serverpoll Lunch? 123 456 "+hours+" 🍕🍔 Pick one", "staff")
		if got := f.last(t); !strings.HasPrefix(got, "A poll can run for at most 87840 hours.") {
			t.Errorf("wrong reply for %s hours: %q", hours, got)
		}
	}
	docs, err = f.env.Polls.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("long polls were created: %d polls", len(docs))
	}
}

func TestHelpListsAllowedCommands(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		user  string
		roles []string
		want  []string
		deny  []string
	}{
		{
			name: "member",
			user: "bocchi",
			want: []string{"`vote <poll-id>`", "`polls`", "`privacy on|off`"},
			deny: []string{"pollresults", "serverpoll", "polledit", "editpoll"},
		},
		{
			name: "export",
			user: "kita",
			want: []string{"`vote <poll-id>`", "`pollresults <poll-id> [show-tags]`"},
			deny: []string{"serverpoll", "polledit", "editpoll"},
		},
		{
			name:  "admin",
			user:  "nijika",
			roles: []string{"staff"},
			want:  []string{"`pollresults <poll-id> [show-tags]`", "`serverpoll ", "`editpoll <poll-id>`"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.run(t, c.user, "help", c.roles...)
			got := f.last(t)
			for _, w := range c.want {
				if !strings.Contains(got, w) {
					t.Errorf("help is missing %q:\n%s", w, got)
				}
			}
			for _, d := range c.deny {
				if strings.Contains(got, d) {
					t.Errorf("help lists %q:\n%s", d, got)
				}
			}
		})
	}
}

func TestPolls(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.run(t, "bocchi", "polls")
	if got, want := f.last(t), "There are no polls here."; got != want {
		t.Errorf("wrong empty list: want %q, got %q", want, got)
	}
	f.save(t, lunch())
	other := lunch()
	other.ID = "elsewhere"
	other.Server = "sick"
	f.save(t, other)
	closed := lunch()
	closed.ID = "breakfast"
	closed.Name = "Breakfast"
	closed.Close = 1200
	f.save(t, closed)
	f.run(t, "bocchi", "polls")
	want := "`breakfast` **Breakfast** (ballot): closed\n" +
		"`lunch` **Lunch** (ballot): open until <t:2:R>"
	if diff := cmp.Diff(want, f.last(t)); diff != "" {
		t.Errorf("wrong list (-want +got):\n%s", diff)
	}
}

func TestPrivacy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.run(t, "nijika", "privacy on")
	if ok, err := f.deps.Privacy.Private(ctx, "nijika"); err != nil || !ok {
		t.Errorf("user not private after privacy on: %t, %v", ok, err)
	}
	if got, want := f.last(t), "<@nijika>, poll results will show you by tag instead of by name."; got != want {
		t.Errorf("wrong reply: want %q, got %q", want, got)
	}
	f.run(t, "nijika", "PRIVACY off")
	if ok, err := f.deps.Privacy.Private(ctx, "nijika"); err != nil || ok {
		t.Errorf("user private after privacy off: %t, %v", ok, err)
	}
	f.run(t, "nijika", "privacy maybe")
	if got, want := f.last(t), "Usage: privacy on|off"; got != want {
		t.Errorf("wrong usage: want %q, got %q", want, got)
	}
}

func TestEditPoll(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.run(t, "seika", "editpoll fresh")
	d, ok := f.deps.Editors.Draft("fresh")
	if !ok {
		t.Fatal("no editor opened")
	}
	if d.ID != "fresh" || d.Kind != poll.Direct {
		t.Errorf("wrong draft: %+v", d)
	}
	if len(f.p.SentTo("stage")) == 0 {
		t.Errorf("editor sent nothing")
	}
}

func TestParseServerPoll(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		text  string
		want  commands.ServerPollArgs
		match command.Match
	}{
		{
			name: "full",
			text: "serverpoll Lunch? 123 456 2.5 true 🍕🍔 Pick one",
			want: commands.ServerPollArgs{
				Name:          "Lunch?",
				Channel:       "123",
				Role:          "456",
				Hours:         2.5,
				DeleteOnClose: true,
				Emoji:         []string{"🍕", "🍔"},
				Prompt:        "Pick one",
			},
			match: command.Full,
		},
		{
			name: "mentions",
			text: "serverpoll Lunch <#123> <@&456> 🍕 🍔 Pick one",
			want: commands.ServerPollArgs{
				Name:    "Lunch",
				Channel: "123",
				Role:    "456",
				Emoji:   []string{"🍕"},
				Prompt:  "🍔 Pick one",
			},
			match: command.Full,
		},
		{
			name: "minimal",
			text: "serverpoll Lunch \U0001F44D\U0001F3FD<:kita:789>\U0001F1EF\U0001F1F5 Well?",
			want: commands.ServerPollArgs{
				Name:   "Lunch",
				Emoji:  []string{"\U0001F44D\U0001F3FD", "kita:789", "\U0001F1EF\U0001F1F5"},
				Prompt: "Well?",
			},
			match: command.Full,
		},
		{
			name:  "partial",
			text:  "serverpoll Lunch",
			match: command.Partial,
		},
		{
			name:  "miss",
			text:  "serverpolls",
			match: command.NoMatch,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got, m := commands.ParseServerPoll(c.text)
			if m != c.match {
				t.Errorf("wrong match: want %v, got %v", c.match, m)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("wrong args (-want +got):\n%s", diff)
			}
		})
	}
}
