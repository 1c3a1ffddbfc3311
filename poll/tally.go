package poll

import (
	"cmp"
	"slices"
)

// Count is the number of votes for an option.
type Count struct {
	Option Option
	Votes  int
}

// QuestionTally is the result of one question.
type QuestionTally struct {
	Question string
	Prompt   string
	// Counts has one entry per option in the question's order.
	Counts []Count
	// Total is the number of users who answered.
	Total int
}

// Tally counts the responses to a poll. Answers naming questions or options
// which no longer exist are ignored.
func Tally(p *Poll, rs []*Response) []QuestionTally {
	r := make([]QuestionTally, len(p.Questions))
	for i, q := range p.Questions {
		t := QuestionTally{Question: q.ID, Prompt: q.Prompt, Counts: make([]Count, len(q.Options))}
		for j, o := range q.Options {
			t.Counts[j].Option = o
		}
		for _, resp := range rs {
			a, ok := resp.Answers[q.ID]
			if !ok {
				continue
			}
			_, k := q.Option(a)
			if k < 0 {
				continue
			}
			t.Counts[k].Votes++
			t.Total++
		}
		r[i] = t
	}
	return r
}

// Leaders returns the options with the most votes, or nil if there are no
// votes.
func (t *QuestionTally) Leaders() []Option {
	if t.Total == 0 {
		return nil
	}
	m := slices.MaxFunc(t.Counts, func(a, b Count) int { return cmp.Compare(a.Votes, b.Votes) })
	var r []Option
	for _, c := range t.Counts {
		if c.Votes == m.Votes {
			r = append(r, c.Option)
		}
	}
	return r
}
