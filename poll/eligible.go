package poll

import (
	"errors"
	"time"

	"github.com/zephyrtronium/pollbot/message"
)

// ErrIneligible matches every *IneligibleError.
var ErrIneligible = errors.New("ineligible to vote")

// IneligibleError explains why a user may not vote.
type IneligibleError struct {
	// Reason is a short machine-readable reason.
	Reason string
	// Message is the explanation shown to the user.
	Message string
}

func (e *IneligibleError) Error() string {
	return e.Message
}

func (e *IneligibleError) Is(err error) bool {
	return err == ErrIneligible
}

// Voter is a user attempting to vote.
type Voter struct {
	User message.User
	// Member is the user's membership in the poll's server, or nil if the
	// user is not a member or the poll is not scoped to a server.
	Member *message.Member
}

// CheckVote checks whether a voter may vote in a poll at a time.
// A voter is eligible when the time is within the voting window, and the
// voter is a member of the poll's server if it has one, and joined before
// the cutoff if there is one, and holds an eligible role if there are any.
// Otherwise the result is an *IneligibleError.
func CheckVote(p *Poll, v *Voter, now time.Time) error {
	t := now.UnixMilli()
	switch {
	case t < p.Open:
		return &IneligibleError{
			Reason:  "not-open",
			Message: message.Format("%s isn't open yet. It opens %s.", p.Name, stamp(p.Open, 'R')),
		}
	case t >= p.Close:
		return &IneligibleError{
			Reason:  "closed",
			Message: message.Format("%s closed %s.", p.Name, stamp(p.Close, 'R')),
		}
	}
	if p.Server != "" && (v.Member == nil || v.Member.Server != p.Server) {
		return &IneligibleError{
			Reason:  "server",
			Message: message.Format("Only members of the poll's server can vote in %s.", p.Name),
		}
	}
	if p.JoinedBefore != 0 {
		if v.Member == nil || v.Member.JoinedAt.IsZero() || v.Member.JoinedAt.UnixMilli() >= p.JoinedBefore {
			return &IneligibleError{
				Reason:  "joined",
				Message: message.Format("Only members who joined before %s can vote in %s.", stamp(p.JoinedBefore, 'f'), p.Name),
			}
		}
	}
	if len(p.Roles) > 0 && !v.Member.HasRole(p.Roles...) {
		return &IneligibleError{
			Reason:  "roles",
			Message: message.Format("You don't have any of the roles needed to vote in %s.", p.Name),
		}
	}
	return nil
}

// CanAnswer reports whether a voter may answer a question, which may be
// restricted to a subset of roles.
func CanAnswer(q *Question, v *Voter) bool {
	return len(q.Roles) == 0 || v.Member.HasRole(q.Roles...)
}

// checkCapacity refuses a new voter when a poll already has its maximum
// number of voters.
func checkCapacity(p *Poll, existing bool, voters int) error {
	if existing || p.MaxVoters <= 0 || voters < p.MaxVoters {
		return nil
	}
	return &IneligibleError{
		Reason:  "full",
		Message: message.Format("%s already has the maximum number of voters.", p.Name),
	}
}
