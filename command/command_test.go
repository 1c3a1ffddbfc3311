package command_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/pollbot/audit"
	"github.com/zephyrtronium/pollbot/chat/chattest"
	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/requirement"
)

type recorder struct {
	entries []audit.Entry
}

func (r *recorder) Record(ctx context.Context, e *audit.Entry) error {
	r.entries = append(r.entries, *e)
	return nil
}

type countArgs struct {
	n string
}

// counter is a command which parses "count <n>" and validates that n is an
// integer.
func counter(ran *[]int, req *requirement.Requirement) command.Command {
	return &command.Spec[countArgs, int]{
		Name:        "count",
		Description: "Count to a number.",
		Usage:       "count <n>",
		Parse: command.Regex(`(?i)^count\s+(?P<n>\S+)$`, `(?i)^count\b`, func(m command.Submatches) countArgs {
			return countArgs{n: m["n"]}
		}),
		Validate: func(ctx context.Context, args countArgs, inv *command.Invocation) (int, error) {
			n, err := strconv.Atoi(args.n)
			if err != nil {
				return 0, command.Errorf(true, "%q isn't a number.", args.n)
			}
			return n, nil
		},
		Require: req,
		Execute: func(ctx context.Context, n int, inv *command.Invocation) error {
			if n < 0 {
				return errors.New("negative")
			}
			*ran = append(*ran, n)
			return nil
		},
	}
}

// shadow is a command with the same trigger as counter, to check that
// commands after a handling one never run.
func shadow(ran *bool) command.Command {
	return &command.Spec[struct{}, struct{}]{
		Name:  "shadow",
		Usage: "count anything",
		Parse: command.Regex(`(?i)^count\b.*$`, "", func(command.Submatches) struct{} { return struct{}{} }),
		Validate: command.Same[struct{}],
		Execute: func(ctx context.Context, p struct{}, inv *command.Invocation) error {
			*ran = true
			return nil
		},
	}
}

func invocation(user string, roles ...string) *command.Invocation {
	ch := &message.Channel{ID: "stage", Server: "starry"}
	return &command.Invocation{
		Message: &message.Message{ID: "1", Channel: "stage", Server: "starry", Author: message.User{ID: user}},
		Channel: ch,
		Member:  &message.Member{User: message.User{ID: user}, Server: "starry", Roles: roles},
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	admin := requirement.Role("admin")
	cases := []struct {
		name    string
		text    string
		roles   []string
		handled bool
		ran     []int
		shadow  bool
		reply   []string
		outcome string
	}{
		{
			name:    "ok",
			text:    "count 3",
			roles:   []string{"admin"},
			handled: true,
			ran:     []int{3},
			outcome: "ok",
		},
		{
			name:    "partial",
			text:    "count",
			roles:   []string{"admin"},
			handled: true,
			reply:   []string{"Usage: count <n>"},
			outcome: "usage",
		},
		{
			name:    "invalid",
			text:    "count three",
			roles:   []string{"admin"},
			handled: true,
			reply:   []string{"\"three\" isn't a number.\nUsage: count <n>"},
			outcome: "invalid",
		},
		{
			name:    "denied",
			text:    "count 3",
			handled: true,
			reply:   []string{"Sorry <@bocchi>, you don't have permission to use count."},
			outcome: "denied",
		},
		{
			name:    "failed",
			text:    "count -1",
			roles:   []string{"admin"},
			handled: true,
			reply:   []string{"Something went wrong while running count. Sorry!"},
			outcome: "error",
		},
		{
			name:    "miss",
			text:    "vote kessoku",
			handled: false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			p := chattest.New()
			var rec recorder
			var ran []int
			var shadowed bool
			d := command.NewDispatcher(p, command.Options{Audit: &rec}, counter(&ran, &admin), shadow(&shadowed))
			name, ok := d.Dispatch(context.Background(), c.text, invocation("bocchi", c.roles...))
			if ok != c.handled {
				t.Errorf("wrong handled: want %t, got %t", c.handled, ok)
			}
			if ok && name != "count" {
				t.Errorf("wrong command handled: want count, got %q", name)
			}
			if shadowed {
				t.Errorf("lower priority command ran")
			}
			if diff := cmp.Diff(c.ran, ran); diff != "" {
				t.Errorf("wrong executions (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(c.reply, p.SentTo("stage")); diff != "" {
				t.Errorf("wrong replies (-want +got):\n%s", diff)
			}
			switch {
			case c.outcome == "" && len(rec.entries) != 0:
				t.Errorf("audited unhandled message: %v", rec.entries)
			case c.outcome != "" && len(rec.entries) != 1:
				t.Errorf("wrong number of audit entries: %v", rec.entries)
			case c.outcome != "" && rec.entries[0].Outcome != c.outcome:
				t.Errorf("wrong audit outcome: want %q, got %q", c.outcome, rec.entries[0].Outcome)
			}
		})
	}
}

func TestDeniedAuditDetail(t *testing.T) {
	t.Parallel()
	p := chattest.New()
	var rec recorder
	var ran []int
	admin := requirement.Any(requirement.Role("1"), requirement.User("2"))
	d := command.NewDispatcher(p, command.Options{Audit: &rec}, counter(&ran, &admin))
	d.Dispatch(context.Background(), "count 1", invocation("kita"))
	if len(rec.entries) != 1 {
		t.Fatalf("wrong audit entries: %v", rec.entries)
	}
	want := audit.Entry{
		Time:    rec.entries[0].Time,
		Command: "count",
		User:    "kita",
		Channel: "stage",
		Server:  "starry",
		Outcome: "denied",
		Detail:  "(role <@&1> or user <@2>)",
	}
	if diff := cmp.Diff(want, rec.entries[0]); diff != "" {
		t.Errorf("wrong audit entry (-want +got):\n%s", diff)
	}
}

func TestHelp(t *testing.T) {
	t.Parallel()
	p := chattest.New()
	var ran []int
	admin := requirement.Role("admin")
	var shadowed bool
	d := command.NewDispatcher(p, command.Options{}, counter(&ran, &admin), shadow(&shadowed))
	ctx := context.Background()
	if _, ok := d.Dispatch(ctx, "help", invocation("bocchi")); !ok {
		t.Fatal("help not handled")
	}
	got := p.SentTo("stage")
	if len(got) != 1 {
		t.Fatalf("wrong replies: %q", got)
	}
	if strings.Contains(got[0], "count <n>") {
		t.Errorf("help lists command the user can't run: %q", got[0])
	}
	if !strings.Contains(got[0], "help [command]") || !strings.Contains(got[0], "count anything") {
		t.Errorf("help omits allowed commands: %q", got[0])
	}
	d.Dispatch(ctx, "help", invocation("bocchi", "admin"))
	got = p.SentTo("stage")
	if len(got) != 2 || !strings.Contains(got[1], "count <n>") {
		t.Errorf("help omits command for admin: %q", got)
	}
	d.Dispatch(ctx, "help count", invocation("bocchi", "admin"))
	got = p.SentTo("stage")
	if want := "count: Count to a number.\nUsage: count <n>"; len(got) != 3 || got[2] != want {
		t.Errorf("wrong command help: want %q, got %q", want, got)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		text string
		cmd  string
		ok   bool
	}{
		{"mention", "<@99> vote kessoku", "vote kessoku", true},
		{"nick-mention", "<@!99> vote kessoku", "vote kessoku", true},
		{"comma", "<@99>, help", "help", true},
		{"bare-mention", "<@99>", "", true},
		{"glued", "<@99>vote", "", false},
		{"other", "<@98> vote kessoku", "", false},
		{"prefix", "!vote kessoku", "vote kessoku", true},
		{"prefix-space", "!  help ", "help", true},
		{"plain", "vote kessoku", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cmd, ok := command.Parse("99", "!", c.text)
			if cmd != c.cmd || ok != c.ok {
				t.Errorf("wrong parse of %q: want %q %t, got %q %t", c.text, c.cmd, c.ok, cmd, ok)
			}
		})
	}
}
