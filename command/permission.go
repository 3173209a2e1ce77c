package command

import (
	"fmt"
	"strings"
)

// Permission is a role requirement attached to a command.
type Permission int

const (
	Moderator Permission = iota + 1
	Subscriber
	Broadcaster
)

func (p Permission) String() string {
	switch p {
	case Moderator:
		return "moderator"
	case Subscriber:
		return "subscriber"
	case Broadcaster:
		return "broadcaster"
	default:
		return fmt.Sprintf("permission(%d)", int(p))
	}
}

// ParsePermission maps a configuration string onto a Permission. Both the
// short chat-badge names and the long names are accepted.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mod", "moderator":
		return Moderator, nil
	case "sub", "subscriber":
		return Subscriber, nil
	case "streamer", "broadcaster":
		return Broadcaster, nil
	default:
		return 0, fmt.Errorf("unknown permission %q", s)
	}
}

// UnmarshalText lets Permission be decoded directly from YAML/JSON/env values.
func (p *Permission) UnmarshalText(text []byte) error {
	v, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (p Permission) MarshalText() ([]byte, error) {
	switch p {
	case Moderator, Subscriber, Broadcaster:
		return []byte(p.String()), nil
	default:
		return nil, fmt.Errorf("invalid permission %d", int(p))
	}
}

// Sender carries the role flags the chat platform attached to a message.
type Sender struct {
	Name          string
	IsBroadcaster bool
	IsModerator   bool
	IsSubscriber  bool
}

// Satisfies reports whether the sender holds p. Unknown values never match.
func (s Sender) Satisfies(p Permission) bool {
	switch p {
	case Moderator:
		return s.IsModerator
	case Subscriber:
		return s.IsSubscriber
	case Broadcaster:
		return s.IsBroadcaster
	default:
		return false
	}
}

// Authorize reports whether the invocation's sender may run its command.
// The broadcaster may run anything; an empty requirement set is public.
func Authorize(inv *Invocation) bool {
	if inv.Sender.IsBroadcaster {
		return true
	}
	for _, p := range inv.Command.Permissions {
		if !inv.Sender.Satisfies(p) {
			return false
		}
	}
	return true
}
