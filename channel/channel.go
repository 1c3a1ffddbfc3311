// Package channel holds the runtime configuration of each server the bot
// serves.
package channel

import (
	"gitlab.com/zephyrtronium/pick"
	"golang.org/x/time/rate"
)

// Server is the runtime configuration of a server.
type Server struct {
	// ID is the platform's ID for the server.
	ID string
	// Name is the name of the server in configuration.
	Name string
	// Admins is the list of role IDs whose holders may create and edit polls.
	Admins []string
	// Export is the list of user IDs who may see any poll's results.
	Export []string
	// Emotes is the distribution of emotes decorating confirmations.
	// The empty string is a valid emote meaning no decoration.
	Emotes *pick.Dist[string]
	// Rate is the rate limiter for replies. Replies in excess of the rate
	// limit are dropped.
	Rate *rate.Limiter
	// History is a list of recent command messages seen in the server.
	// The platform can deliver the same message more than once after
	// reconnecting, so it is used to drop duplicates.
	History *History
}

// Decorate appends a random emote to a message.
func (s *Server) Decorate(text string, r uint32) string {
	if s == nil || s.Emotes == nil {
		return text
	}
	e := s.Emotes.Pick(r)
	if e == "" {
		return text
	}
	return text + " " + e
}
