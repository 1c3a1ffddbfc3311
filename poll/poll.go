// Package poll implements polls: their data model, voter eligibility,
// tallies, the reaction-driven editor, and the voting engine for private
// ballots and public server polls.
package poll

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zephyrtronium/pollbot/message"
)

// Kind is the kind of a poll.
type Kind string

const (
	// Direct polls collect votes through private ballots sent by direct
	// message and persisted on submission.
	Direct Kind = "dm"
	// Server polls collect votes as reactions on messages in a server
	// channel, persisted on every reaction.
	Server Kind = "server"
)

// Poll is a poll configuration.
type Poll struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// Open and Close bound the voting window as milliseconds since the Unix
	// epoch. Votes are accepted in [Open, Close).
	Open  int64 `json:"open"`
	Close int64 `json:"close"`
	// Roles restricts voting to holders of any listed role.
	Roles []string `json:"roles,omitempty"`
	// Server restricts voting to members of a server.
	Server string `json:"server,omitempty"`
	// JoinedBefore restricts voting to members who joined before the given
	// time in milliseconds since the Unix epoch.
	JoinedBefore int64 `json:"joinedBefore,omitzero"`
	// MaxVoters limits the number of distinct voters.
	MaxVoters int        `json:"maxVoters,omitzero"`
	Questions []Question `json:"questions"`
	// Message is the announcement message for direct polls or the channel
	// holding the question messages of server polls.
	Message *MessageSettings `json:"message,omitempty"`
	// Export lists users who may see results in addition to admins.
	Export []string `json:"export,omitempty"`
	// DeleteOnClose deletes the poll and its messages once it is tallied.
	DeleteOnClose bool `json:"deleteOnClose,omitzero"`

	// Derived fields.

	// Tallied is set once the poll has closed and its messages show results.
	Tallied bool `json:"tallied,omitzero"`
	// Voters is the number of distinct users with responses.
	Voters int `json:"voters,omitzero"`
}

// MessageSettings describes a message the bot maintains for a poll.
type MessageSettings struct {
	Channel string `json:"channel"`
	// ID is the ID of the live message, assigned by the bot.
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

// Question is a poll question.
type Question struct {
	ID     string   `json:"id"`
	Prompt string   `json:"prompt"`
	Roles  []string `json:"roles,omitempty"`
	// Options are the question's choices. Option emoji are unique within a
	// question.
	Options []Option `json:"options"`
	// Message is the ID of the live question message of a server poll.
	Message string `json:"message,omitempty"`
}

// Option is a choice for a question.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Emoji is the key of the emoji used to select the option.
	Emoji string `json:"emoji"`
}

// Response is a user's answers to a poll.
type Response struct {
	Poll string `json:"poll"`
	User string `json:"user"`
	// Answers maps question IDs to selected option IDs.
	Answers map[string]string `json:"answers"`
	// Updated is the time of the last change in milliseconds since the Unix
	// epoch.
	Updated int64 `json:"updated"`
	// Messages are the IDs of the private ballot messages last sent.
	Messages []string `json:"messages,omitempty"`
}

// ResponseID is the document ID of a user's response to a poll.
func ResponseID(poll, user string) string {
	return poll + "/" + user
}

// OpenTime returns the opening time of the poll.
func (p *Poll) OpenTime() time.Time {
	return time.UnixMilli(p.Open)
}

// CloseTime returns the closing time of the poll.
func (p *Poll) CloseTime() time.Time {
	return time.UnixMilli(p.Close)
}

// Accepting reports whether the poll accepts votes at the given time.
func (p *Poll) Accepting(now time.Time) bool {
	t := now.UnixMilli()
	return p.Open <= t && t < p.Close
}

// Question returns the question with the given ID and its index, or nil and
// -1 if there is none.
func (p *Poll) Question(id string) (*Question, int) {
	k := slices.IndexFunc(p.Questions, func(q Question) bool { return q.ID == id })
	if k < 0 {
		return nil, -1
	}
	return &p.Questions[k], k
}

// QuestionByMessage returns the question rendered in a message.
func (p *Poll) QuestionByMessage(id string) *Question {
	for i := range p.Questions {
		if p.Questions[i].Message == id {
			return &p.Questions[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the poll.
func (p *Poll) Clone() *Poll {
	r := *p
	r.Roles = slices.Clone(p.Roles)
	r.Export = slices.Clone(p.Export)
	if p.Message != nil {
		m := *p.Message
		r.Message = &m
	}
	r.Questions = make([]Question, len(p.Questions))
	for i, q := range p.Questions {
		r.Questions[i] = q.clone()
	}
	return &r
}

func (q *Question) clone() Question {
	r := *q
	r.Roles = slices.Clone(q.Roles)
	r.Options = slices.Clone(q.Options)
	return r
}

// Option returns the option with the given ID and its index.
func (q *Question) Option(id string) (*Option, int) {
	k := slices.IndexFunc(q.Options, func(o Option) bool { return o.ID == id })
	if k < 0 {
		return nil, -1
	}
	return &q.Options[k], k
}

// OptionByEmoji returns the option selected by an emoji.
func (q *Question) OptionByEmoji(key string) *Option {
	for i := range q.Options {
		if q.Options[i].Emoji == key {
			return &q.Options[i]
		}
	}
	return nil
}

// emoji returns the option's emoji for reacting.
func (o *Option) emoji() message.Emoji {
	return message.ParseEmoji(o.Emoji)
}

// parseEmojiKey converts emoji text as typed in a message to an emoji key.
func parseEmojiKey(s string) string {
	return message.ParseEmoji(strings.TrimSpace(s)).Key()
}

// NewID generates a short random ID for a poll, question, or option.
func NewID() string {
	u := uuid.New()
	return strconv.FormatUint(uint64(u[0])<<24|uint64(u[1])<<16|uint64(u[2])<<8|uint64(u[3]), 36)
}

// Draft creates a new direct poll with default settings.
func Draft(id string, now time.Time) *Poll {
	return &Poll{
		ID:    id,
		Name:  id,
		Kind:  Direct,
		Open:  now.UnixMilli(),
		Close: now.Add(7 * 24 * time.Hour).UnixMilli(),
	}
}

// stamp formats a time in milliseconds for display by the platform in each
// reader's own time zone.
func stamp(ms int64, style byte) string {
	return "<t:" + strconv.FormatInt(ms/1000, 10) + ":" + string(style) + ">"
}
