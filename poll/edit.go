package poll

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Target is the part of a poll a declarative edit changes.
type Target string

const (
	TargetPoll     Target = "poll"
	TargetObject   Target = "object"
	TargetArray    Target = "array"
	TargetQuestion Target = "question"
	TargetOption   Target = "option"
)

// ValueKind is the syntactic kind of an assigned value.
type ValueKind int

const (
	String ValueKind = iota
	Int
	Millis
	Bool
)

// Value is an assigned value.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Bool bool
}

// Assignment is a single key=value of a declarative edit.
type Assignment struct {
	Key   string
	Value Value
}

// Edit is a declarative poll edit.
type Edit struct {
	Target Target
	Poll   string
	// Path is the key path for object and array edits or the question ID
	// for question and option edits.
	Path string
	// Option is the option ID for option edits.
	Option string
	Assign []Assignment
	Delete bool
}

var (
	editHead   = regexp.MustCompile(`(?i)^(poll|object|array|question|option)\s+(\S+)`)
	editWord   = regexp.MustCompile(`^\s+([^\s=]+)`)
	editDelete = regexp.MustCompile(`(?i)^\s+delete\s*$`)
	editAssign = regexp.MustCompile(`^\s+(\w+)=(?:'((?:[^'\\]|\\.)*)'|(-?\d+)ms\b|(-?\d+)\b|(true|false)\b)`)
)

// ParseEdit parses the arguments of a declarative edit:
//
//	(poll|object|array|question|option) <poll-id> [keypath|question-id] [option-id] (<key>='<string>'|<key>=<int>|<key>=<int>ms|<key>=<bool>)* | delete
func ParseEdit(s string) (*Edit, error) {
	s = strings.TrimRight(s, " \t\n")
	m := editHead.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("an edit starts with poll, object, array, question, or option and a poll ID")
	}
	e := &Edit{Target: Target(strings.ToLower(m[1])), Poll: m[2]}
	s = s[len(m[0]):]
	words := 0
	switch e.Target {
	case TargetObject, TargetArray, TargetQuestion:
		words = 1
	case TargetOption:
		words = 2
	}
	for i := range words {
		w := editWord.FindStringSubmatch(s)
		if w == nil || strings.EqualFold(w[1], "delete") {
			return nil, fmt.Errorf("a %s edit needs %d more word(s) before its values", e.Target, words-i)
		}
		s = s[len(w[0]):]
		if i == 0 {
			e.Path = w[1]
		} else {
			e.Option = w[1]
		}
	}
	if editDelete.MatchString(s) {
		e.Delete = true
		return e, nil
	}
	for s != "" {
		a := editAssign.FindStringSubmatch(s)
		if a == nil {
			return nil, fmt.Errorf("couldn't understand %q; values look like key='text', key=1, key=1700000000000ms, or key=true", strings.TrimSpace(s))
		}
		v := Value{}
		var err error
		switch {
		case a[3] != "":
			v.Kind = Millis
			v.Int, err = strconv.ParseInt(a[3], 10, 64)
		case a[4] != "":
			v.Kind = Int
			v.Int, err = strconv.ParseInt(a[4], 10, 64)
		case a[5] != "":
			v.Kind = Bool
			v.Bool = a[5] == "true"
		default:
			v.Kind = String
			v.Str = unescape(a[2])
		}
		if err != nil {
			return nil, fmt.Errorf("value of %s is out of range", a[1])
		}
		e.Assign = append(e.Assign, Assignment{Key: a[1], Value: v})
		s = s[len(a[0]):]
	}
	return e, nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Apply applies the edit to a poll. p may be nil when the poll does not yet
// exist, in which case a draft is created. The result is the edited poll, or
// nil if the edit deletes the poll. p is not modified.
func (e *Edit) Apply(p *Poll, now time.Time) (*Poll, error) {
	if p == nil {
		if e.Delete && e.Target == TargetPoll {
			return nil, fmt.Errorf("there's no poll %s to delete", e.Poll)
		}
		p = Draft(e.Poll, now)
	} else {
		p = p.Clone()
	}
	var err error
	switch e.Target {
	case TargetPoll:
		if e.Delete {
			return nil, nil
		}
		err = e.applyPoll(p)
	case TargetObject:
		err = e.applyObject(p)
	case TargetArray:
		err = e.applyArray(p)
	case TargetQuestion:
		err = e.applyQuestion(p)
	case TargetOption:
		err = e.applyOption(p)
	default:
		err = fmt.Errorf("unknown edit target %q", e.Target)
	}
	if err != nil {
		return nil, err
	}
	if p.Close < p.Open {
		return nil, fmt.Errorf("the poll would close before it opens")
	}
	return p, nil
}

func (e *Edit) applyPoll(p *Poll) error {
	for _, a := range e.Assign {
		var err error
		switch a.Key {
		case "name":
			p.Name, err = str(a)
		case "kind":
			var k string
			k, err = str(a)
			if err == nil {
				switch Kind(k) {
				case Direct, Server:
					p.Kind = Kind(k)
				default:
					err = fmt.Errorf("kind must be %q or %q", Direct, Server)
				}
			}
		case "open":
			p.Open, err = millis(a)
		case "close":
			p.Close, err = millis(a)
		case "joinedBefore":
			p.JoinedBefore, err = millis(a)
		case "server":
			p.Server, err = str(a)
		case "maxVoters":
			var n int64
			n, err = integer(a)
			p.MaxVoters = int(n)
		case "deleteOnClose":
			p.DeleteOnClose, err = boolean(a)
		default:
			err = fmt.Errorf("polls have no field %q", a.Key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Edit) applyObject(p *Poll) error {
	switch e.Path {
	case "message":
		if e.Delete {
			p.Message = nil
			return nil
		}
		if p.Message == nil {
			p.Message = new(MessageSettings)
		}
		for _, a := range e.Assign {
			var err error
			switch a.Key {
			case "channel":
				p.Message.Channel, err = str(a)
			case "text":
				p.Message.Text, err = str(a)
			default:
				err = fmt.Errorf("message settings have no field %q", a.Key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("polls have no object %q", e.Path)
	}
}

func (e *Edit) applyArray(p *Poll) error {
	var l *[]string
	qid, field, nested := strings.Cut(e.Path, ".")
	switch {
	case !nested && e.Path == "roles":
		l = &p.Roles
	case !nested && e.Path == "export":
		l = &p.Export
	case nested && field == "roles":
		q, _ := p.Question(qid)
		if q == nil {
			return fmt.Errorf("there's no question %s", qid)
		}
		l = &q.Roles
	default:
		return fmt.Errorf("polls have no array %q", e.Path)
	}
	if e.Delete {
		*l = nil
		return nil
	}
	for _, a := range e.Assign {
		k, err := strconv.Atoi(a.Key)
		if err != nil || k < 0 || k > len(*l) {
			return fmt.Errorf("array keys are indices from 0 to %d, not %q", len(*l), a.Key)
		}
		v, err := str(a)
		if err != nil {
			return err
		}
		if k == len(*l) {
			*l = append(*l, v)
		} else {
			(*l)[k] = v
		}
	}
	return nil
}

func (e *Edit) applyQuestion(p *Poll) error {
	q, k := p.Question(e.Path)
	if e.Delete {
		if q == nil {
			return fmt.Errorf("there's no question %s to delete", e.Path)
		}
		p.Questions = slices.Delete(p.Questions, k, k+1)
		return nil
	}
	if q == nil {
		p.Questions = append(p.Questions, Question{ID: e.Path})
		q = &p.Questions[len(p.Questions)-1]
	}
	for _, a := range e.Assign {
		var err error
		switch a.Key {
		case "prompt":
			q.Prompt, err = str(a)
		default:
			err = fmt.Errorf("questions have no field %q", a.Key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Edit) applyOption(p *Poll) error {
	q, _ := p.Question(e.Path)
	if q == nil {
		return fmt.Errorf("there's no question %s", e.Path)
	}
	o, k := q.Option(e.Option)
	if e.Delete {
		if o == nil {
			return fmt.Errorf("question %s has no option %s to delete", q.ID, e.Option)
		}
		q.Options = slices.Delete(q.Options, k, k+1)
		return nil
	}
	if o == nil {
		q.Options = append(q.Options, Option{ID: e.Option, Name: e.Option})
		k = len(q.Options) - 1
		o = &q.Options[k]
	}
	for _, a := range e.Assign {
		var err error
		switch a.Key {
		case "name":
			o.Name, err = str(a)
		case "emoji":
			var s string
			s, err = str(a)
			if err == nil {
				err = setEmoji(q, k, s)
			}
		default:
			err = fmt.Errorf("options have no field %q", a.Key)
		}
		if err != nil {
			return err
		}
	}
	if o.Emoji == "" {
		return fmt.Errorf("option %s needs an emoji", o.ID)
	}
	return nil
}

// setEmoji assigns an emoji to the option at index k, keeping emoji unique
// within the question.
func setEmoji(q *Question, k int, s string) error {
	key := parseEmojiKey(s)
	if key == "" {
		return fmt.Errorf("an option's emoji can't be empty")
	}
	for i, o := range q.Options {
		if i != k && o.Emoji == key {
			return fmt.Errorf("option %s already uses %s", o.ID, s)
		}
	}
	q.Options[k].Emoji = key
	return nil
}

func str(a Assignment) (string, error) {
	if a.Value.Kind != String {
		return "", fmt.Errorf("%s takes a quoted string", a.Key)
	}
	return a.Value.Str, nil
}

func integer(a Assignment) (int64, error) {
	if a.Value.Kind != Int {
		return 0, fmt.Errorf("%s takes an integer", a.Key)
	}
	return a.Value.Int, nil
}

func boolean(a Assignment) (bool, error) {
	if a.Value.Kind != Bool {
		return false, fmt.Errorf("%s takes true or false", a.Key)
	}
	return a.Value.Bool, nil
}

// millis accepts either <int>ms or a quoted time.
func millis(a Assignment) (int64, error) {
	switch a.Value.Kind {
	case Millis:
		return a.Value.Int, nil
	case String:
		t, err := ParseTime(a.Value.Str)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	default:
		return 0, fmt.Errorf("%s takes a time like 1700000000000ms or '2024-01-02 15:04'", a.Key)
	}
}
