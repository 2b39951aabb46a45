package app

import "time"

// Session identifies one run of fg (a CLI command or a server lifetime) in the log.
type Session struct {
	Command   string
	StartedAt time.Time
}

func NewSession(command string, now time.Time) Session {
	return Session{Command: command, StartedAt: now.UTC()}
}

// ID renders the session as <command>-<UTC timestamp>.
func (s Session) ID() string {
	return s.Command + "-" + s.StartedAt.UTC().Format("20060102T150405Z")
}
