package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies who started a batch. Only authenticated sessions may run one.
type Session struct {
	ID            uuid.UUID
	Operator      string
	Authenticated bool
	StartedAt     time.Time
}

// NewSession opens a session for operator.
func NewSession(operator string, authenticated bool) *Session {
	return &Session{
		ID:            uuid.New(),
		Operator:      operator,
		Authenticated: authenticated,
		StartedAt:     time.Now(),
	}
}

// LocalSession is used by the command line, where the invoking user is trusted.
func LocalSession(operator string) *Session {
	if operator == "" {
		operator = "local"
	}
	return NewSession(operator, true)
}
