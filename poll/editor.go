package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/zephyrtronium/pollbot/actionmessage"
	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/store"
	"github.com/zephyrtronium/pollbot/syncmap"
)

// Field is an editable part of a poll, or an editor action.
type Field int

const (
	FieldNone Field = iota
	FieldTitle
	FieldOpen
	FieldClose
	FieldRoles
	FieldCutoff
	FieldMessage
	FieldPrompt
	FieldQuestionRoles
	FieldDeleteQuestion
	FieldInfo
	// FieldOption arms an option for renaming. Sending "delete" rearms it as
	// FieldDeleteOption.
	FieldOption
	FieldDeleteOption

	// Actions happen immediately instead of arming a field.

	FieldNewQuestion
	FieldDuplicate
	FieldSave
	FieldCloseEditor
)

func (f Field) action() bool {
	return f >= FieldNewQuestion
}

type control struct {
	emoji string
	field Field
}

var titleControls = []control{
	{"📝", FieldTitle},
	{"🕐", FieldOpen},
	{"🔒", FieldClose},
	{"👥", FieldRoles},
	{"📅", FieldCutoff},
	{"📣", FieldMessage},
	{"➕", FieldNewQuestion},
	{"💾", FieldSave},
	{"❌", FieldCloseEditor},
}

var questionControls = []control{
	{"✏️", FieldPrompt},
	{"👥", FieldQuestionRoles},
	{"🗑️", FieldDeleteQuestion},
	{"ℹ️", FieldInfo},
	{"📋", FieldDuplicate},
}

func lookup(cs []control, key string) (Field, bool) {
	for _, c := range cs {
		if c.emoji == key {
			return c.field, true
		}
	}
	return FieldNone, false
}

// Cursor is the armed field of a poll being edited. The next message from
// User in Channel becomes the field's value.
type Cursor struct {
	Poll     string
	Question string
	Option   string
	Field    Field
	Channel  string
	User     string
	// Message and Emoji identify the reaction which armed the field.
	Message string
	Emoji   string
}

// Editors runs the interactive poll editors.
type Editors struct {
	env      *Env
	sessions *syncmap.Map[string, *session]
	// cursors holds at most one armed field per poll.
	cursors *syncmap.Map[string, *Cursor]
}

type session struct {
	poll      *Poll
	channel   string
	user      string
	title     *actionmessage.Message[*editView]
	questions map[string]*actionmessage.Message[*editView]
	// held is the set of (message, emoji) reactions the editing user has on
	// the editor's messages.
	held map[[2]string]bool
}

type editView struct {
	s *session
	// q is the question ID, or empty for the title message.
	q string
}

// NewEditors creates the poll editor registry.
func NewEditors(env *Env) *Editors {
	return &Editors{
		env:      env,
		sessions: syncmap.New[string, *session](),
		cursors:  syncmap.New[string, *Cursor](),
	}
}

// Cursor returns the armed field of a poll.
func (e *Editors) Cursor(poll string) (Cursor, bool) {
	c, ok := e.cursors.Load(poll)
	if !ok {
		return Cursor{}, false
	}
	return *c, true
}

// Draft returns a copy of the poll being edited.
func (e *Editors) Draft(poll string) (*Poll, bool) {
	s, ok := e.sessions.Load(poll)
	if !ok {
		return nil, false
	}
	return s.poll.Clone(), true
}

// Open opens an editor for a poll in a channel for a user. If the poll does
// not exist, the editor starts from a draft. An editor already open for the
// same poll is closed first.
func (e *Editors) Open(ctx context.Context, id, channel, user string) error {
	p, err := e.env.Polls.Get(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		p = Draft(id, e.env.now())
	default:
		return fmt.Errorf("couldn't load poll %s: %w", id, err)
	}
	if old, ok := e.sessions.LoadAndDelete(id); ok {
		e.teardown(ctx, old)
	}
	e.cursors.Delete(id)
	s := &session{
		poll:      p,
		channel:   channel,
		user:      user,
		questions: make(map[string]*actionmessage.Message[*editView]),
		held:      make(map[[2]string]bool),
	}
	s.title = e.message(s, "")
	e.sessions.Store(id, s)
	if err := s.title.Reconcile(ctx); err != nil {
		e.sessions.CompareAndDelete(id, func(cur *session) bool { return cur == s })
		e.teardown(ctx, s)
		return err
	}
	for _, q := range p.Questions {
		if err := e.addQuestion(ctx, s, q.ID); err != nil {
			e.sessions.CompareAndDelete(id, func(cur *session) bool { return cur == s })
			e.teardown(ctx, s)
			return err
		}
	}
	e.env.log().InfoContext(ctx, "opened editor", slog.String("poll", id), slog.String("channel", channel), slog.String("user", user))
	return nil
}

// Close closes the editor for a poll without saving.
func (e *Editors) Close(ctx context.Context, id string) bool {
	s, ok := e.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	e.teardown(ctx, s)
	return true
}

func (e *Editors) message(s *session, q string) *actionmessage.Message[*editView] {
	return actionmessage.New(e.env.Platform, e.env.Hub, s.channel, "", &editView{s: s, q: q}, actionmessage.Options[*editView]{
		Render:     e.render,
		OnCreate:   e.created,
		OnReaction: e.react,
		Count:      e.env.Metrics.ReconcileCount,
		Log:        e.env.log(),
	})
}

func (e *Editors) addQuestion(ctx context.Context, s *session, q string) error {
	m := e.message(s, q)
	s.questions[q] = m
	return m.Reconcile(ctx)
}

func (e *Editors) teardown(ctx context.Context, s *session) {
	e.cursors.Delete(s.poll.ID)
	s.title.Teardown(ctx, true)
	for _, m := range s.questions {
		m.Teardown(ctx, true)
	}
}

// current reports whether s is the live session for its poll.
func (e *Editors) current(s *session) bool {
	cur, ok := e.sessions.Load(s.poll.ID)
	return ok && cur == s
}

// refresh reconciles the messages affected by a cursor.
func (e *Editors) refresh(ctx context.Context, s *session, c *Cursor) {
	if c == nil {
		return
	}
	m := s.title
	if c.Question != "" {
		m = s.questions[c.Question]
	}
	if m == nil {
		return
	}
	if err := m.Reconcile(ctx); err != nil {
		e.env.log().ErrorContext(ctx, "couldn't reconcile editor message", slog.String("poll", s.poll.ID), slog.Any("err", err))
	}
}

func (e *Editors) created(ctx context.Context, id string, v *editView) error {
	var emoji []string
	if v.q == "" {
		for _, c := range titleControls {
			emoji = append(emoji, c.emoji)
		}
	} else {
		if q, _ := v.s.poll.Question(v.q); q != nil {
			for _, o := range q.Options {
				emoji = append(emoji, o.Emoji)
			}
		}
		for _, c := range questionControls {
			emoji = append(emoji, c.emoji)
		}
	}
	for _, k := range emoji {
		if err := e.env.Platform.React(ctx, v.s.channel, id, message.ParseEmoji(k)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Editors) react(ctx context.Context, ev *message.ReactionEvent, v *editView) {
	s := v.s
	if !e.current(s) {
		return
	}
	key := ev.Emoji.Key()
	if ev.User.ID != s.user {
		// Only the user who opened the editor may use it.
		if ev.Added {
			e.unreact(ctx, s, ev.Message, key, ev.User.ID)
		}
		return
	}
	if !ev.Added {
		delete(s.held, [2]string{ev.Message, key})
		c, ok := e.cursors.Load(s.poll.ID)
		if ok && c.Message == ev.Message && c.Emoji == key && c.User == ev.User.ID {
			e.cursors.Delete(s.poll.ID)
			e.refresh(ctx, s, c)
		}
		return
	}
	s.held[[2]string{ev.Message, key}] = true
	cs := titleControls
	if v.q != "" {
		cs = questionControls
	}
	c := &Cursor{
		Poll:     s.poll.ID,
		Question: v.q,
		Channel:  ev.Channel,
		User:     ev.User.ID,
		Message:  ev.Message,
		Emoji:    key,
	}
	f, ok := lookup(cs, key)
	switch {
	case ok && f.action():
		e.act(ctx, s, v.q, f)
	case ok:
		c.Field = f
		e.arm(ctx, s, c)
	case v.q == "":
		e.unreact(ctx, s, ev.Message, key, ev.User.ID)
	default:
		q, _ := s.poll.Question(v.q)
		if q == nil {
			return
		}
		if o := q.OptionByEmoji(key); o != nil {
			c.Field = FieldOption
			c.Option = o.ID
			e.arm(ctx, s, c)
			return
		}
		if _, armed := e.cursors.Load(s.poll.ID); armed {
			e.unreact(ctx, s, ev.Message, key, ev.User.ID)
			return
		}
		o := Option{ID: NewID(), Name: "New option", Emoji: key}
		q.Options = append(q.Options, o)
		if err := e.env.Platform.React(ctx, s.channel, ev.Message, ev.Emoji); err != nil {
			e.env.log().WarnContext(ctx, "couldn't react with new option", slog.String("poll", s.poll.ID), slog.Any("err", err))
		}
		c.Field = FieldOption
		c.Option = o.ID
		e.arm(ctx, s, c)
	}
}

func (e *Editors) unreact(ctx context.Context, s *session, msg, key, user string) {
	if err := e.env.Platform.Unreact(ctx, s.channel, msg, message.ParseEmoji(key), user); err != nil {
		e.env.log().WarnContext(ctx, "couldn't remove reaction", slog.String("poll", s.poll.ID), slog.String("emoji", key), slog.Any("err", err))
	}
	if user == s.user {
		delete(s.held, [2]string{msg, key})
	}
}

// cleanup removes every reaction the editing user holds on the editor's
// messages except keep.
func (e *Editors) cleanup(ctx context.Context, s *session, keep [2]string) {
	for k := range s.held {
		if k != keep {
			e.unreact(ctx, s, k[0], k[1], s.user)
		}
	}
}

// arm makes c the poll's only armed field.
func (e *Editors) arm(ctx context.Context, s *session, c *Cursor) {
	prev, _ := e.cursors.Swap(s.poll.ID, c)
	if prev != nil && prev.Question != c.Question {
		e.refresh(ctx, s, prev)
	}
	e.refresh(ctx, s, c)
	e.cleanup(ctx, s, [2]string{c.Message, c.Emoji})
}

// disarm clears the poll's cursor along with the reaction which armed it.
func (e *Editors) disarm(ctx context.Context, s *session) {
	c, _ := e.cursors.LoadAndDelete(s.poll.ID)
	e.refresh(ctx, s, c)
	e.cleanup(ctx, s, [2]string{})
}

func (e *Editors) act(ctx context.Context, s *session, q string, f Field) {
	switch f {
	case FieldNewQuestion:
		nq := Question{ID: NewID(), Prompt: "New question"}
		s.poll.Questions = append(s.poll.Questions, nq)
		e.disarm(ctx, s)
		if err := e.addQuestion(ctx, s, nq.ID); err != nil {
			e.env.log().ErrorContext(ctx, "couldn't add question", slog.String("poll", s.poll.ID), slog.Any("err", err))
		}
	case FieldDuplicate:
		src, _ := s.poll.Question(q)
		if src == nil {
			return
		}
		nq := src.clone()
		nq.ID = NewID()
		nq.Message = ""
		for i := range nq.Options {
			nq.Options[i].ID = NewID()
		}
		s.poll.Questions = append(s.poll.Questions, nq)
		e.disarm(ctx, s)
		if err := e.addQuestion(ctx, s, nq.ID); err != nil {
			e.env.log().ErrorContext(ctx, "couldn't duplicate question", slog.String("poll", s.poll.ID), slog.Any("err", err))
		}
	case FieldSave:
		e.disarm(ctx, s)
		if err := e.env.Polls.Set(ctx, s.poll.ID, s.poll); err != nil {
			e.env.log().ErrorContext(ctx, "couldn't save poll", slog.String("poll", s.poll.ID), slog.Any("err", err))
			e.env.say(ctx, s.channel, message.Format("Sorry, I couldn't save %s.", s.poll.ID))
			return
		}
		e.env.log().InfoContext(ctx, "saved poll", slog.String("poll", s.poll.ID), slog.String("user", s.user))
		e.Close(ctx, s.poll.ID)
		e.env.say(ctx, s.channel, message.Format("Saved poll %s.", s.poll.ID))
	case FieldCloseEditor:
		e.Close(ctx, s.poll.ID)
		e.env.say(ctx, s.channel, message.Format("Closed the editor for %s without saving.", s.poll.ID))
	}
}

// Consume offers a message to the editors as input for an armed field.
// It reports whether the message was used.
func (e *Editors) Consume(ctx context.Context, msg *message.Message) bool {
	for id, c := range e.cursors.All() {
		if c.Channel != msg.Channel || c.User != msg.Author.ID {
			continue
		}
		s, ok := e.sessions.Load(id)
		if !ok {
			e.cursors.Delete(id)
			continue
		}
		return e.input(ctx, s, c, msg)
	}
	return false
}

func (e *Editors) input(ctx context.Context, s *session, c *Cursor, msg *message.Message) bool {
	text := strings.TrimSpace(msg.Text)
	var err error
	switch c.Field {
	case FieldInfo:
		return false
	case FieldDeleteQuestion, FieldDeleteOption:
		if !confirmed(text) {
			e.refresh(ctx, s, c)
			return false
		}
		if c.Field == FieldDeleteQuestion {
			e.deleteQuestion(ctx, s, c.Question)
		} else {
			e.deleteOption(ctx, s, c)
		}
	case FieldOption:
		if strings.EqualFold(text, "delete") {
			d := *c
			d.Field = FieldDeleteOption
			e.cursors.Store(s.poll.ID, &d)
			e.refresh(ctx, s, &d)
			e.deleteInput(ctx, s, msg)
			return true
		}
		err = e.set(s, c, text)
	default:
		err = e.set(s, c, text)
	}
	if err != nil {
		e.env.say(ctx, msg.Channel, err.Error())
		return true
	}
	e.deleteInput(ctx, s, msg)
	e.disarm(ctx, s)
	e.refreshAll(ctx, s)
	return true
}

// refreshAll reconciles every message of an editor.
func (e *Editors) refreshAll(ctx context.Context, s *session) {
	e.refresh(ctx, s, &Cursor{})
	for _, q := range s.poll.Questions {
		e.refresh(ctx, s, &Cursor{Question: q.ID})
	}
}

func (e *Editors) deleteInput(ctx context.Context, s *session, msg *message.Message) {
	if err := e.env.Platform.Delete(ctx, msg.Channel, msg.ID); err != nil {
		e.env.log().WarnContext(ctx, "couldn't delete editor input", slog.String("poll", s.poll.ID), slog.Any("err", err))
	}
}

func confirmed(text string) bool {
	return strings.EqualFold(text, "y") || strings.EqualFold(text, "confirm")
}

func (e *Editors) deleteQuestion(ctx context.Context, s *session, q string) {
	_, k := s.poll.Question(q)
	if k < 0 {
		return
	}
	s.poll.Questions = slices.Delete(s.poll.Questions, k, k+1)
	if m := s.questions[q]; m != nil {
		for h := range s.held {
			if h[0] == m.ID() {
				delete(s.held, h)
			}
		}
		m.Teardown(ctx, true)
		delete(s.questions, q)
	}
	// The cursor pointed at the deleted question.
	e.cursors.Delete(s.poll.ID)
}

func (e *Editors) deleteOption(ctx context.Context, s *session, c *Cursor) {
	q, _ := s.poll.Question(c.Question)
	if q == nil {
		return
	}
	o, k := q.Option(c.Option)
	if o == nil {
		return
	}
	emoji := o.emoji()
	q.Options = slices.Delete(q.Options, k, k+1)
	if m := s.questions[q.ID]; m != nil && m.ID() != "" {
		if err := e.env.Platform.Unreact(ctx, s.channel, m.ID(), emoji, chat.Me); err != nil {
			e.env.log().WarnContext(ctx, "couldn't remove option reaction", slog.String("poll", s.poll.ID), slog.Any("err", err))
		}
	}
}

var (
	roleMention    = regexp.MustCompile(`<@&(\d+)>|\b(\d+)\b`)
	channelMention = regexp.MustCompile(`^<#(\d+)>\s*(.*)$`)
)

func nothing(text string) bool {
	switch strings.ToLower(text) {
	case "none", "anyone", "everyone", "-":
		return true
	}
	return false
}

func parseRoles(text string) ([]string, error) {
	if nothing(text) {
		return nil, nil
	}
	var r []string
	for _, m := range roleMention.FindAllStringSubmatch(text, -1) {
		r = append(r, m[1]+m[2])
	}
	if len(r) == 0 {
		return nil, errors.New("Mention some roles, or send none for anyone.")
	}
	return r, nil
}

// set applies text input to the armed field.
func (e *Editors) set(s *session, c *Cursor, text string) error {
	p := s.poll
	if text == "" {
		return errors.New("That can't be empty.")
	}
	var q *Question
	if c.Question != "" {
		q, _ = p.Question(c.Question)
		if q == nil {
			return errors.New("That question no longer exists.")
		}
	}
	switch c.Field {
	case FieldTitle:
		p.Name = text
	case FieldOpen, FieldClose, FieldCutoff:
		if c.Field == FieldCutoff && nothing(text) {
			p.JoinedBefore = 0
			return nil
		}
		t, err := ParseTime(text)
		if err != nil {
			return fmt.Errorf("Send a time like 2024-01-02 15:04 UTC: %w", err)
		}
		ms := t.UnixMilli()
		switch c.Field {
		case FieldOpen:
			if ms > p.Close {
				return errors.New("The poll can't open after it closes.")
			}
			p.Open = ms
		case FieldClose:
			if ms < p.Open {
				return errors.New("The poll can't close before it opens.")
			}
			p.Close = ms
		default:
			p.JoinedBefore = ms
		}
	case FieldRoles:
		r, err := parseRoles(text)
		if err != nil {
			return err
		}
		p.Roles = r
	case FieldMessage:
		if nothing(text) {
			p.Message = nil
			return nil
		}
		m := channelMention.FindStringSubmatch(text)
		if m == nil {
			return errors.New("Mention a channel followed by the message text, or send none.")
		}
		ms := &MessageSettings{Channel: m[1], Text: m[2]}
		if p.Message != nil && p.Message.Channel == ms.Channel {
			ms.ID = p.Message.ID
		}
		p.Message = ms
	case FieldPrompt:
		q.Prompt = text
	case FieldQuestionRoles:
		r, err := parseRoles(text)
		if err != nil {
			return err
		}
		q.Roles = r
	case FieldOption:
		o, _ := q.Option(c.Option)
		if o == nil {
			return errors.New("That option no longer exists.")
		}
		o.Name = text
	default:
		return errors.New("That field doesn't take text.")
	}
	return nil
}

func (e *Editors) render(v *editView) string {
	c, _ := e.cursors.Load(v.s.poll.ID)
	if c == nil {
		c = &Cursor{}
	}
	if v.q == "" {
		return renderTitle(v.s.poll, c)
	}
	return renderQuestion(v.s.poll, v.q, c)
}

func line(b *strings.Builder, armed bool, text string) {
	if armed {
		b.WriteString("**» ")
		b.WriteString(text)
		b.WriteString(" «**\n")
		return
	}
	b.WriteString(text)
	b.WriteByte('\n')
}

func renderTitle(p *Poll, c *Cursor) string {
	var b strings.Builder
	armed := func(f Field) bool { return c.Question == "" && c.Field == f }
	b.WriteString("**Editing poll** `" + p.ID + "` (" + string(p.Kind) + ")\n")
	line(&b, armed(FieldTitle), "📝 Title: "+p.Name)
	line(&b, armed(FieldOpen), "🕐 Opens: "+stamp(p.Open, 'f'))
	line(&b, armed(FieldClose), "🔒 Closes: "+stamp(p.Close, 'f'))
	line(&b, armed(FieldRoles), "👥 Roles: "+roleList(p.Roles))
	cutoff := "no cutoff"
	if p.JoinedBefore != 0 {
		cutoff = stamp(p.JoinedBefore, 'f')
	}
	line(&b, armed(FieldCutoff), "📅 Joined before: "+cutoff)
	vm := "none"
	if p.Message != nil {
		vm = "<#" + p.Message.Channel + "> " + p.Message.Text
	}
	line(&b, armed(FieldMessage), "📣 Vote message: "+strings.TrimSpace(vm))
	b.WriteString("➕ add question · 💾 save · ❌ close without saving")
	if c.Field != FieldNone && c.Question == "" {
		b.WriteString("\nSend the new value in this channel, or remove your reaction to cancel.")
	}
	return b.String()
}

func renderQuestion(p *Poll, id string, c *Cursor) string {
	q, k := p.Question(id)
	if q == nil {
		return "This question was deleted."
	}
	var b strings.Builder
	mine := c.Question == id
	armed := func(f Field) bool { return mine && c.Field == f }
	info := armed(FieldInfo)
	head := "**Question " + strconv.Itoa(k+1) + "**"
	if info {
		head += " `" + q.ID + "`"
	}
	b.WriteString(head + "\n")
	if armed(FieldDeleteQuestion) {
		line(&b, true, "🗑️ Delete this question? Send y to confirm.")
	}
	line(&b, armed(FieldPrompt), "✏️ "+q.Prompt)
	line(&b, armed(FieldQuestionRoles), "👥 Roles: "+roleList(q.Roles))
	for _, o := range q.Options {
		t := message.ParseEmoji(o.Emoji).String() + " " + o.Name
		if info {
			t += " `" + o.ID + "`"
		}
		on := mine && c.Option == o.ID
		if on && c.Field == FieldDeleteOption {
			t += ": delete? Send y to confirm."
		}
		line(&b, on && (c.Field == FieldOption || c.Field == FieldDeleteOption), t)
	}
	b.WriteString("React with a new emoji to add an option, or with an option's emoji to rename it.\n")
	b.WriteString("✏️ prompt · 👥 roles · 🗑️ delete · ℹ️ info · 📋 duplicate")
	return b.String()
}
