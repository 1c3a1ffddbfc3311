package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/message"
)

func (d *Deps) privacy() command.Command {
	return &command.Spec[bool, bool]{
		Name:        "privacy",
		Description: "Hide or show your name in poll result exports.",
		Usage:       "privacy on|off",
		Parse: command.Regex(`(?i)^privacy\s+(?P<mode>on|off)\s*$`, `(?i)^privacy\b`, func(m command.Submatches) bool {
			return strings.EqualFold(m["mode"], "on")
		}),
		Validate: command.Same[bool],
		Execute: func(ctx context.Context, on bool, inv *command.Invocation) error {
			u := inv.Actor()
			if on {
				if err := d.Privacy.Add(ctx, u.ID); err != nil {
					return fmt.Errorf("couldn't add %s to privacy list: %w", u.ID, err)
				}
				d.confirm(ctx, inv, message.Format("%s, poll results will show you by tag instead of by name.", u.Mention()))
				return nil
			}
			if err := d.Privacy.Remove(ctx, u.ID); err != nil {
				return fmt.Errorf("couldn't remove %s from privacy list: %w", u.ID, err)
			}
			d.confirm(ctx, inv, message.Format("%s, poll results will show you by name.", u.Mention()))
			return nil
		},
	}
}
