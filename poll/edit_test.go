package poll_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/pollbot/poll"
)

func TestParseEdit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want *poll.Edit
	}{
		{
			name: "question",
			in:   "question abc123 q1 prompt='New prompt?'",
			want: &poll.Edit{
				Target: poll.TargetQuestion,
				Poll:   "abc123",
				Path:   "q1",
				Assign: []poll.Assignment{{Key: "prompt", Value: poll.Value{Kind: poll.String, Str: "New prompt?"}}},
			},
		},
		{
			name: "kinds",
			in:   `POLL abc name='Bocchi\'s poll' open=1700000000000ms maxVoters=3 deleteOnClose=true`,
			want: &poll.Edit{
				Target: poll.TargetPoll,
				Poll:   "abc",
				Assign: []poll.Assignment{
					{Key: "name", Value: poll.Value{Kind: poll.String, Str: "Bocchi's poll"}},
					{Key: "open", Value: poll.Value{Kind: poll.Millis, Int: 1700000000000}},
					{Key: "maxVoters", Value: poll.Value{Kind: poll.Int, Int: 3}},
					{Key: "deleteOnClose", Value: poll.Value{Kind: poll.Bool, Bool: true}},
				},
			},
		},
		{
			name: "option",
			in:   "option abc q1 o2 name='Pizza' emoji='🍕'",
			want: &poll.Edit{
				Target: poll.TargetOption,
				Poll:   "abc",
				Path:   "q1",
				Option: "o2",
				Assign: []poll.Assignment{
					{Key: "name", Value: poll.Value{Kind: poll.String, Str: "Pizza"}},
					{Key: "emoji", Value: poll.Value{Kind: poll.String, Str: "🍕"}},
				},
			},
		},
		{
			name: "delete",
			in:   "question abc q1 delete",
			want: &poll.Edit{Target: poll.TargetQuestion, Poll: "abc", Path: "q1", Delete: true},
		},
		{
			name: "array",
			in:   "array abc roles 0='123' 1='456'",
			want: &poll.Edit{
				Target: poll.TargetArray,
				Poll:   "abc",
				Path:   "roles",
				Assign: []poll.Assignment{
					{Key: "0", Value: poll.Value{Kind: poll.String, Str: "123"}},
					{Key: "1", Value: poll.Value{Kind: poll.String, Str: "456"}},
				},
			},
		},
		{name: "bad-target", in: "thing abc"},
		{name: "missing-path", in: "question abc"},
		{name: "missing-option", in: "option abc q1 delete"},
		{name: "bad-value", in: "poll abc name=bocchi"},
		{name: "unterminated", in: "poll abc name='bocchi"},
		{name: "int-range", in: "poll abc maxVoters=99999999999999999999"},
		{name: "millis-range", in: "poll abc close=-99999999999999999999ms"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got, err := poll.ParseEdit(c.in)
			if c.want == nil {
				if err == nil {
					t.Errorf("no error parsing %q: got %+v", c.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("couldn't parse %q: %v", c.in, err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("wrong edit (-want +got):\n%s", diff)
			}
		})
	}
}

func basePoll() *poll.Poll {
	return &poll.Poll{
		ID:    "abc123",
		Name:  "Band poll",
		Kind:  poll.Direct,
		Open:  1000,
		Close: 2000,
		Questions: []poll.Question{
			{
				ID:     "q1",
				Prompt: "Old prompt?",
				Roles:  []string{"guitar"},
				Options: []poll.Option{
					{ID: "o1", Name: "Yes", Emoji: "👍"},
					{ID: "o2", Name: "No", Emoji: "👎"},
				},
			},
		},
	}
}

func TestApplyEdit(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(1500)
	cases := []struct {
		name string
		in   string
		p    *poll.Poll
		want func(p *poll.Poll) *poll.Poll
		err  bool
	}{
		{
			name: "update-prompt",
			in:   "question abc123 q1 prompt='New prompt?'",
			p:    basePoll(),
			want: func(p *poll.Poll) *poll.Poll {
				p.Questions[0].Prompt = "New prompt?"
				return p
			},
		},
		{
			name: "create-question",
			in:   "question abc123 q2 prompt='New prompt?'",
			p:    basePoll(),
			want: func(p *poll.Poll) *poll.Poll {
				p.Questions = append(p.Questions, poll.Question{ID: "q2", Prompt: "New prompt?"})
				return p
			},
		},
		{
			name: "create-poll",
			in:   "question abc123 q1 prompt='New prompt?'",
			p:    nil,
			want: func(*poll.Poll) *poll.Poll {
				p := poll.Draft("abc123", now)
				p.Questions = []poll.Question{{ID: "q1", Prompt: "New prompt?"}}
				return p
			},
		},
		{
			name: "poll-fields",
			in:   "poll abc123 name='Renamed' close=3000ms kind='server' maxVoters=10",
			p:    basePoll(),
			want: func(p *poll.Poll) *poll.Poll {
				p.Name = "Renamed"
				p.Close = 3000
				p.Kind = poll.Server
				p.MaxVoters = 10
				return p
			},
		},
		{
			name: "close-before-open",
			in:   "poll abc123 close=500ms",
			p:    basePoll(),
			err:  true,
		},
		{
			name: "object",
			in:   "object abc123 message channel='99' text='Vote!'",
			p:    basePoll(),
			want: func(p *poll.Poll) *poll.Poll {
				p.Message = &poll.MessageSettings{Channel: "99", Text: "Vote!"}
				return p
			},
		},
		{
			name: "array-append",
			in:   "array abc123 q1.roles 1='bass'",
			p:    basePoll(),
			want: func(p *poll.Poll) *poll.Poll {
				p.Questions[0].Roles = []string{"guitar", "bass"}
				return p
			},
		},
		{
			name: "array-gap",
			in:   "array abc123 roles 2='bass'",
			p:    basePoll(),
			err:  true,
		},
		{
			name: "option-new",
			in:   "option abc123 q1 o3 name='Maybe' emoji='🤔'",
			p:    basePoll(),
			want: func(p *poll.Poll) *poll.Poll {
				p.Questions[0].Options = append(p.Questions[0].Options, poll.Option{ID: "o3", Name: "Maybe", Emoji: "🤔"})
				return p
			},
		},
		{
			name: "option-duplicate-emoji",
			in:   "option abc123 q1 o3 name='Maybe' emoji='👍'",
			p:    basePoll(),
			err:  true,
		},
		{
			name: "option-no-emoji",
			in:   "option abc123 q1 o3 name='Maybe'",
			p:    basePoll(),
			err:  true,
		},
		{
			name: "option-delete",
			in:   "option abc123 q1 o1 delete",
			p:    basePoll(),
			want: func(p *poll.Poll) *poll.Poll {
				p.Questions[0].Options = p.Questions[0].Options[1:]
				return p
			},
		},
		{
			name: "poll-delete",
			in:   "poll abc123 delete",
			p:    basePoll(),
			want: func(*poll.Poll) *poll.Poll { return nil },
		},
		{
			name: "wrong-type",
			in:   "poll abc123 maxVoters='many'",
			p:    basePoll(),
			err:  true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			e, err := poll.ParseEdit(c.in)
			if err != nil {
				t.Fatalf("couldn't parse %q: %v", c.in, err)
			}
			var orig *poll.Poll
			if c.p != nil {
				orig = c.p.Clone()
			}
			got, err := e.Apply(c.p, now)
			if c.err {
				if err == nil {
					t.Errorf("no error applying %q", c.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("couldn't apply %q: %v", c.in, err)
			}
			var base *poll.Poll
			if c.p != nil {
				base = c.p.Clone()
			}
			if diff := cmp.Diff(c.want(base), got); diff != "" {
				t.Errorf("wrong poll (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(orig, c.p); diff != "" {
				t.Errorf("original modified (-before +after):\n%s", diff)
			}
		})
	}
}
