// Package command implements the command dispatch framework: parsing free
// text into typed arguments, validating them, gating on requirements, and
// executing, uniformly for every command.
package command

import (
	"context"
	"fmt"
	"regexp"

	"github.com/zephyrtronium/pollbot/message"
	"github.com/zephyrtronium/pollbot/requirement"
)

// Invocation is a command invocation. An Invocation and its fields must not
// be modified or retained by any command.
type Invocation struct {
	// Message is the message which triggered the invocation. It is always
	// non-nil, but not all fields are guaranteed to be populated.
	Message *message.Message
	// Channel is the channel where the invocation occurred.
	Channel *message.Channel
	// Member is the invoking user's membership in the server. It is nil in
	// direct messages.
	Member *message.Member
	// Indirect is true when the bot itself issued the invocation.
	Indirect bool
}

// Actor is the user who invoked the command.
func (inv *Invocation) Actor() message.User {
	return inv.Message.Author
}

// Server is the ID of the server where the invocation occurred, or the empty
// string for direct messages.
func (inv *Invocation) Server() string {
	if inv.Channel == nil {
		return inv.Message.Server
	}
	return inv.Channel.Server
}

// Match is the result of parsing a message against a command's grammar.
type Match int

const (
	// NoMatch means the message is not intended for the command.
	NoMatch Match = iota
	// Partial means the message looks like an attempt at the command but is
	// malformed. The dispatcher shows usage and stops.
	Partial
	// Full means the message parsed into arguments.
	Full
)

// Error is an error intended for the user who invoked a command.
type Error struct {
	// Message is shown to the user.
	Message string
	// ShowUsage indicates whether the command's usage follows the message.
	ShowUsage bool
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf creates an Error with a formatted message.
func Errorf(usage bool, format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...), ShowUsage: usage}
}

// Info is the identity of a command.
type Info struct {
	// Name is the name of this command. Names should be unique.
	Name string
	// Description is a short description of what the command does.
	Description string
	// Usage is the command's syntax.
	Usage string
	// Require is the requirement to run the command, or nil if anyone may.
	Require *requirement.Requirement
}

// Command is a command the dispatcher can try. Obtain one from [Spec].
type Command interface {
	Info() Info
	try(ctx context.Context, d *Dispatcher, text string, inv *Invocation) bool
}

// Spec defines a command over argument type A and validated payload type P.
type Spec[A, P any] struct {
	Name        string
	Description string
	Usage       string
	// Parse parses the trailing text of a message. See [Regex].
	Parse func(text string) (A, Match)
	// Validate converts arguments into a payload or returns an error,
	// preferably an *Error. Use [Same] when no validation is needed.
	Validate func(ctx context.Context, args A, inv *Invocation) (P, error)
	// Require is an optional requirement evaluated against the payload.
	Require *requirement.Requirement
	// Execute performs the command. Sending its output is its own
	// responsibility. A returned *Error is shown to the user.
	Execute func(ctx context.Context, p P, inv *Invocation) error
}

// Info returns the command's identity.
func (c *Spec[A, P]) Info() Info {
	return Info{Name: c.Name, Description: c.Description, Usage: c.Usage, Require: c.Require}
}

func (c *Spec[A, P]) try(ctx context.Context, d *Dispatcher, text string, inv *Invocation) bool {
	args, m := c.Parse(text)
	switch m {
	case NoMatch:
		return false
	case Partial:
		d.usage(ctx, inv, c.Info())
		return true
	}
	p, err := c.Validate(ctx, args, inv)
	if err != nil {
		d.fail(ctx, inv, c.Info(), "invalid", err)
		return true
	}
	if c.Require != nil {
		s := requirement.Subject{
			Payload:  p,
			Actor:    inv.Actor(),
			Member:   inv.Member,
			Message:  inv.Message,
			Channel:  inv.Channel,
			Server:   inv.Server(),
			Indirect: inv.Indirect,
		}
		if !c.Require.Test(&s) {
			d.deny(ctx, inv, c.Info())
			return true
		}
	}
	if err := c.Execute(ctx, p, inv); err != nil {
		d.fail(ctx, inv, c.Info(), "error", err)
		return true
	}
	d.ok(ctx, inv, c.Info())
	return true
}

// Same is a Validate function which accepts any arguments unchanged.
func Same[A any](ctx context.Context, args A, inv *Invocation) (A, error) {
	return args, nil
}

// Submatches maps the named groups of a regular expression to their matches.
type Submatches map[string]string

// Regex creates a Parse function. full must match the entire command text
// for a full match; named groups are passed to capture to build the typed
// arguments. partial, if non-empty, is a looser expression: when it matches
// but full does not, the result is a partial match.
// Both expressions are used as given, so they should normally start with
// (?i)^ and full should end with $.
func Regex[A any](full, partial string, capture func(Submatches) A) func(string) (A, Match) {
	fre := regexp.MustCompile(full)
	var pre *regexp.Regexp
	if partial != "" {
		pre = regexp.MustCompile(partial)
	}
	return func(text string) (A, Match) {
		var zero A
		u := fre.FindStringSubmatch(text)
		if u == nil {
			if pre != nil && pre.MatchString(text) {
				return zero, Partial
			}
			return zero, NoMatch
		}
		m := make(Submatches, len(u)-1)
		for k, s := range fre.SubexpNames() {
			if k == 0 || s == "" {
				continue
			}
			m[s] = u[k]
		}
		return capture(m), Full
	}
}
