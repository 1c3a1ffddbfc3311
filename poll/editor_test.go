package poll_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zephyrtronium/pollbot/chat/chattest"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/store"
)

// openEditor opens an editor on basePoll in channel "edit" for user "admin"
// and returns the IDs of the title and first question messages.
func openEditor(t *testing.T) (*poll.Editors, *poll.Env, *chattest.Fake, string, string) {
	t.Helper()
	env, p := testEnv(t)
	savePoll(t, env, basePoll())
	e := poll.NewEditors(env)
	if err := e.Open(context.Background(), "abc123", "edit", "admin"); err != nil {
		t.Fatalf("couldn't open editor: %v", err)
	}
	sent := p.Sent()
	if len(sent) != 2 {
		t.Fatalf("wrong editor messages: %+v", sent)
	}
	return e, env, p, sent[0].ID, sent[1].ID
}

func admin(p *chattest.Fake, text string) *message.Message {
	return p.Put("edit", "", message.User{ID: "admin"}, text)
}

func TestEditorCreatesControls(t *testing.T) {
	t.Parallel()
	_, _, p, title, q1 := openEditor(t)
	want := []string{"📝", "🕐", "🔒", "👥", "📅", "📣", "➕", "💾", "❌"}
	if got := p.Reactions(title); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("wrong title controls: want %v, got %v", want, got)
	}
	want = []string{"👍", "👎", "✏️", "👥", "🗑️", "ℹ️", "📋"}
	if got := p.Reactions(q1); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("wrong question controls: want %v, got %v", want, got)
	}
}

func TestEditorCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, _ := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("📝"), "admin"))
	c, ok := e.Cursor("abc123")
	if !ok || c.Field != poll.FieldTitle {
		t.Fatalf("title not armed: %+v %t", c, ok)
	}
	if !strings.Contains(p.Text(title), "**» 📝 Title: Band poll «**") {
		t.Errorf("armed field not shown: %q", p.Text(title))
	}
	env.Hub.Publish(ctx, p.UserUnreact(title, message.Unicode("📝"), "admin"))
	if c, ok := e.Cursor("abc123"); ok {
		t.Errorf("cursor not cleared: %+v", c)
	}
	if strings.Contains(p.Text(title), "»") {
		t.Errorf("disarmed field still shown: %q", p.Text(title))
	}
	if e.Consume(ctx, admin(p, "Sick Hack")) {
		t.Errorf("consumed text with no armed field")
	}
	d, _ := e.Draft("abc123")
	if d.Name != "Band poll" {
		t.Errorf("name changed to %q", d.Name)
	}
}

func TestEditorTitle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, _ := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("📝"), "admin"))
	// Other users can't type into the field.
	if e.Consume(ctx, p.Put("edit", "", message.User{ID: "kita"}, "Kita's poll")) {
		t.Errorf("consumed text from another user")
	}
	in := admin(p, "Sick Hack")
	if !e.Consume(ctx, in) {
		t.Fatalf("didn't consume text for armed field")
	}
	d, _ := e.Draft("abc123")
	if d.Name != "Sick Hack" {
		t.Errorf("wrong name: want Sick Hack, got %q", d.Name)
	}
	if p.Has(in.ID) {
		t.Errorf("input message not deleted")
	}
	if _, ok := e.Cursor("abc123"); ok {
		t.Errorf("cursor not cleared after input")
	}
	if p.Reacted(title, message.Unicode("📝"), "admin") {
		t.Errorf("arming reaction not removed")
	}
	if !strings.Contains(p.Text(title), "📝 Title: Sick Hack") {
		t.Errorf("title not updated: %q", p.Text(title))
	}
	// The stored poll is unchanged until saved.
	stored, err := env.Polls.Get(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "Band poll" {
		t.Errorf("unsaved edit stored: %q", stored.Name)
	}
}

func TestEditorOneArmed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, q1 := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("📝"), "admin"))
	env.Hub.Publish(ctx, p.UserReact(q1, message.Unicode("✏️"), "admin"))
	c, ok := e.Cursor("abc123")
	if !ok || c.Field != poll.FieldPrompt || c.Question != "q1" {
		t.Fatalf("wrong cursor: %+v %t", c, ok)
	}
	if p.Reacted(title, message.Unicode("📝"), "admin") {
		t.Errorf("previous arming reaction not removed")
	}
	if strings.Contains(p.Text(title), "»") {
		t.Errorf("previous field still shown armed: %q", p.Text(title))
	}
	// Removing the stale reaction doesn't disarm the new field.
	env.Hub.Publish(ctx, p.UserUnreact(title, message.Unicode("📝"), "admin"))
	if _, ok := e.Cursor("abc123"); !ok {
		t.Errorf("stale removal cleared cursor")
	}
	if !e.Consume(ctx, admin(p, "Who is the best guitarist?")) {
		t.Fatal("prompt not consumed")
	}
	d, _ := e.Draft("abc123")
	if d.Questions[0].Prompt != "Who is the best guitarist?" {
		t.Errorf("wrong prompt: %q", d.Questions[0].Prompt)
	}
}

func TestEditorTimes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, _ := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("🔒"), "admin"))
	// Closing before opening is refused and the field stays armed.
	if !e.Consume(ctx, admin(p, "500")) {
		t.Fatal("time not consumed")
	}
	if got := p.SentTo("edit"); !strings.Contains(got[len(got)-1], "close before it opens") {
		t.Errorf("no explanation for bad close time: %q", got)
	}
	if _, ok := e.Cursor("abc123"); !ok {
		t.Errorf("cursor cleared after bad input")
	}
	if !e.Consume(ctx, admin(p, "1970-01-01 00:00:03")) {
		t.Fatal("time not consumed")
	}
	d, _ := e.Draft("abc123")
	if d.Close != 3000 {
		t.Errorf("wrong close time: want 3000, got %d", d.Close)
	}
}

func TestEditorNewOption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, _, q1 := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(q1, message.Unicode("🍕"), "admin"))
	d, _ := e.Draft("abc123")
	o := d.Questions[0].OptionByEmoji("🍕")
	if o == nil {
		t.Fatalf("no option created: %+v", d.Questions[0].Options)
	}
	c, ok := e.Cursor("abc123")
	if !ok || c.Field != poll.FieldOption || c.Option != o.ID {
		t.Errorf("new option not armed: %+v", c)
	}
	if !p.Reacted(q1, message.Unicode("🍕"), chattest.Self) {
		t.Errorf("bot didn't react with new option")
	}
	if !e.Consume(ctx, admin(p, "Pizza")) {
		t.Fatal("option name not consumed")
	}
	d, _ = e.Draft("abc123")
	if o := d.Questions[0].OptionByEmoji("🍕"); o == nil || o.Name != "Pizza" {
		t.Errorf("option not renamed: %+v", o)
	}
	// Selecting an existing option arms it rather than adding another.
	env.Hub.Publish(ctx, p.UserReact(q1, message.Unicode("👍"), "admin"))
	d, _ = e.Draft("abc123")
	if n := len(d.Questions[0].Options); n != 3 {
		t.Errorf("wrong option count: want 3, got %d", n)
	}
	c, _ = e.Cursor("abc123")
	if c.Field != poll.FieldOption || c.Option != "o1" {
		t.Errorf("existing option not armed: %+v", c)
	}
}

func TestEditorDeleteOption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, _, q1 := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(q1, message.Unicode("👎"), "admin"))
	if !e.Consume(ctx, admin(p, "delete")) {
		t.Fatal("delete not consumed")
	}
	c, _ := e.Cursor("abc123")
	if c.Field != poll.FieldDeleteOption {
		t.Fatalf("delete not armed: %+v", c)
	}
	if e.Consume(ctx, admin(p, "hmm")) {
		t.Errorf("consumed text other than confirmation")
	}
	if !e.Consume(ctx, admin(p, "confirm")) {
		t.Fatal("confirmation not consumed")
	}
	d, _ := e.Draft("abc123")
	if o, _ := d.Questions[0].Option("o2"); o != nil {
		t.Errorf("option not deleted")
	}
	if p.Reacted(q1, message.Unicode("👎"), chattest.Self) {
		t.Errorf("deleted option still has bot reaction")
	}
}

func TestEditorDeleteQuestion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, _, q1 := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(q1, message.Unicode("🗑️"), "admin"))
	fetches := p.Calls("Fetch")
	if e.Consume(ctx, admin(p, "no")) {
		t.Errorf("consumed text other than confirmation")
	}
	if p.Calls("Fetch") == fetches {
		t.Errorf("question message not shown again after unconfirmed text")
	}
	if c, _ := e.Cursor("abc123"); c.Field != poll.FieldDeleteQuestion {
		t.Errorf("delete disarmed by unconfirmed text: %+v", c)
	}
	d, _ := e.Draft("abc123")
	if len(d.Questions) != 1 {
		t.Fatalf("question deleted without confirmation")
	}
	if !e.Consume(ctx, admin(p, "y")) {
		t.Fatal("confirmation not consumed")
	}
	d, _ = e.Draft("abc123")
	if len(d.Questions) != 0 {
		t.Errorf("question not deleted: %+v", d.Questions)
	}
	if p.Has(q1) {
		t.Errorf("question message not deleted")
	}
}

func TestEditorStructural(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, q1 := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("➕"), "admin"))
	env.Hub.Publish(ctx, p.UserReact(q1, message.Unicode("📋"), "admin"))
	if _, ok := e.Cursor("abc123"); ok {
		t.Errorf("action armed a field")
	}
	d, _ := e.Draft("abc123")
	if len(d.Questions) != 3 {
		t.Fatalf("wrong question count: want 3, got %d", len(d.Questions))
	}
	dup := d.Questions[2]
	if dup.ID == "q1" || dup.Prompt != "Old prompt?" || len(dup.Options) != 2 || dup.Options[0].ID == "o1" {
		t.Errorf("bad duplicate: %+v", dup)
	}
	if p.Reacted(title, message.Unicode("➕"), "admin") || p.Reacted(q1, message.Unicode("📋"), "admin") {
		t.Errorf("action reactions not removed")
	}
	if got := p.Calls("Send"); got != 4 {
		t.Errorf("wrong message count: want 4, got %d", got)
	}
}

func TestEditorSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, _ := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("📝"), "admin"))
	e.Consume(ctx, admin(p, "Kessoku Band"))
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("💾"), "admin"))
	stored, err := env.Polls.Get(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "Kessoku Band" {
		t.Errorf("wrong saved name: %q", stored.Name)
	}
	if _, ok := e.Draft("abc123"); ok {
		t.Errorf("editor still open after save")
	}
	if p.Has(title) {
		t.Errorf("editor message survived save")
	}
	if env.Hub.Len() != 0 {
		t.Errorf("subscriptions survived save: %d", env.Hub.Len())
	}
}

func TestEditorCloseDiscards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, _ := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("📝"), "admin"))
	e.Consume(ctx, admin(p, "Kessoku Band"))
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("❌"), "admin"))
	stored, err := env.Polls.Get(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "Band poll" {
		t.Errorf("closing saved changes: %q", stored.Name)
	}
	if _, ok := e.Draft("abc123"); ok {
		t.Errorf("editor still open after close")
	}
}

func TestEditorOtherUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, env, p, title, _ := openEditor(t)
	env.Hub.Publish(ctx, p.UserReact(title, message.Unicode("📝"), "kita"))
	if _, ok := e.Cursor("abc123"); ok {
		t.Errorf("another user armed a field")
	}
	if p.Reacted(title, message.Unicode("📝"), "kita") {
		t.Errorf("another user's reaction not removed")
	}
}

func TestEditorDraft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env, _ := testEnv(t)
	e := poll.NewEditors(env)
	if err := e.Open(ctx, "fresh", "edit", "admin"); err != nil {
		t.Fatal(err)
	}
	d, ok := e.Draft("fresh")
	if !ok || d.Name != "fresh" || d.Kind != poll.Direct || d.Open != 1500 {
		t.Errorf("wrong draft: %+v", d)
	}
	if _, err := env.Polls.Get(ctx, "fresh"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("draft stored before saving: %v", err)
	}
}
