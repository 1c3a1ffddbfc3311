// Package requirement implements the composable permission predicates that
// gate command execution.
//
// A Requirement is a tagged variant evaluated by a single function. Leaf
// variants each check exactly one dimension of an invocation. Any, All, and
// Not combine them. Evaluation is a pure function of the Subject, so a
// requirement may be tested speculatively, e.g. to filter a help listing.
package requirement

import (
	"strconv"
	"strings"

	"github.com/zephyrtronium/pollbot/message"
)

// Kind is the variant of a requirement.
type Kind int

const (
	// KindUser passes when the actor is one of the listed users.
	KindUser Kind = iota
	// KindRole passes when the actor holds any of the listed roles.
	KindRole
	// KindPermission passes when the actor's permissions include every bit
	// of the listed permission set.
	KindPermission
	// KindChannel passes when the invocation is in one of the listed channels.
	KindChannel
	// KindServer passes when the invocation is in one of the listed servers.
	KindServer
	// KindIndirect passes when the command was invoked indirectly, i.e. by
	// the bot itself rather than by a message a user typed.
	KindIndirect
	// KindAny passes when any sub-requirement passes.
	KindAny
	// KindAll passes when every sub-requirement passes.
	KindAll
	// KindNot inverts its single sub-requirement.
	KindNot
)

// Subject is everything a requirement may inspect.
type Subject struct {
	// Payload is the validated command payload. No built-in requirement
	// inspects it, but it is part of the contract for command-specific
	// predicates composed through Func.
	Payload any
	Actor   message.User
	// Member is the actor's membership in Server. It is nil for direct
	// messages or when unknown.
	Member  *message.Member
	Message *message.Message
	Channel *message.Channel
	Server  string
	// Indirect is true when the command was invoked by the bot.
	Indirect bool
}

// Requirement is a predicate over a Subject.
// The zero value is a KindUser requirement listing no users, which never
// passes.
type Requirement struct {
	kind  Kind
	ids   []string
	perms int64
	subs  []Requirement
	// fn is a payload predicate, only set for Func requirements which are
	// represented as KindAll with no subs.
	fn   func(*Subject) bool
	desc string
}

// User requires the actor to be one of the given users.
func User(ids ...string) Requirement {
	return Requirement{kind: KindUser, ids: ids}
}

// Role requires the actor to hold at least one of the given roles.
func Role(ids ...string) Requirement {
	return Requirement{kind: KindRole, ids: ids}
}

// Permission requires the actor to hold every permission bit in p.
func Permission(p int64) Requirement {
	return Requirement{kind: KindPermission, perms: p}
}

// Channel requires the invocation to be in one of the given channels.
func Channel(ids ...string) Requirement {
	return Requirement{kind: KindChannel, ids: ids}
}

// Server requires the invocation to be in one of the given servers.
func Server(ids ...string) Requirement {
	return Requirement{kind: KindServer, ids: ids}
}

// Indirect requires the command to have been invoked by the bot itself.
func Indirect() Requirement {
	return Requirement{kind: KindIndirect}
}

// Any is the union of requirements. It stops at the first that passes.
// An empty union never passes.
func Any(rs ...Requirement) Requirement {
	return Requirement{kind: KindAny, subs: rs}
}

// All is the intersection of requirements. It stops at the first that fails.
// An empty intersection always passes.
func All(rs ...Requirement) Requirement {
	return Requirement{kind: KindAll, subs: rs}
}

// Not inverts a requirement.
func Not(r Requirement) Requirement {
	return Requirement{kind: KindNot, subs: []Requirement{r}}
}

// Func wraps a custom predicate, typically over the payload. The predicate
// must be pure. desc describes it for denial logs.
func Func(desc string, f func(*Subject) bool) Requirement {
	return Requirement{kind: KindAll, fn: f, desc: desc}
}

// Kind returns the variant of the requirement.
func (r Requirement) Kind() Kind {
	return r.kind
}

// Test evaluates the requirement.
func (r Requirement) Test(s *Subject) bool {
	switch r.kind {
	case KindUser:
		return contains(r.ids, s.Actor.ID)
	case KindRole:
		return s.Member.HasRole(r.ids...)
	case KindPermission:
		return s.Member != nil && s.Member.Permissions&r.perms == r.perms
	case KindChannel:
		return s.Channel != nil && contains(r.ids, s.Channel.ID)
	case KindServer:
		return s.Server != "" && contains(r.ids, s.Server)
	case KindIndirect:
		return s.Indirect
	case KindAny:
		for _, sub := range r.subs {
			if sub.Test(s) {
				return true
			}
		}
		return false
	case KindAll:
		if r.fn != nil {
			return r.fn(s)
		}
		for _, sub := range r.subs {
			if !sub.Test(s) {
				return false
			}
		}
		return true
	case KindNot:
		return !r.subs[0].Test(s)
	default:
		panic("requirement: unknown kind " + strconv.Itoa(int(r.kind)))
	}
}

// String describes the requirement for humans.
func (r Requirement) String() string {
	var b strings.Builder
	r.describe(&b)
	return b.String()
}

func (r Requirement) describe(b *strings.Builder) {
	switch r.kind {
	case KindUser:
		list(b, "user", r.ids, func(id string) string { return "<@" + id + ">" })
	case KindRole:
		list(b, "role", r.ids, func(id string) string { return "<@&" + id + ">" })
	case KindPermission:
		b.WriteString("permissions 0x")
		b.WriteString(strconv.FormatInt(r.perms, 16))
	case KindChannel:
		list(b, "channel", r.ids, func(id string) string { return "<#" + id + ">" })
	case KindServer:
		list(b, "server", r.ids, func(id string) string { return id })
	case KindIndirect:
		b.WriteString("invoked by the bot")
	case KindAny, KindAll:
		if r.fn != nil {
			b.WriteString(r.desc)
			return
		}
		if len(r.subs) == 0 {
			if r.kind == KindAny {
				b.WriteString("nothing")
			} else {
				b.WriteString("anything")
			}
			return
		}
		sep := " or "
		if r.kind == KindAll {
			sep = " and "
		}
		b.WriteByte('(')
		for i, sub := range r.subs {
			if i > 0 {
				b.WriteString(sep)
			}
			sub.describe(b)
		}
		b.WriteByte(')')
	case KindNot:
		b.WriteString("not ")
		r.subs[0].describe(b)
	}
}

func list(b *strings.Builder, what string, ids []string, f func(string) string) {
	b.WriteString(what)
	if len(ids) != 1 {
		b.WriteString("s")
	}
	b.WriteString(" ")
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f(id))
	}
}

func contains(l []string, s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}
