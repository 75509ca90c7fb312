// Package debate runs the state machine for two-persona exchanges and
// selects interrupt speakers.
package debate

import (
	"council/internal/logging"
	"council/internal/persona"
)

// State of a debate session.
type State int

const (
	// Open allows both personas to introduce new positions.
	Open State = iota
	// SoftLimit injects a scene note; positions may be restated, not grown.
	SoftLimit
	// HardLimit replaces the next generation with a forced decision interrupt.
	HardLimit
	// AwaitingUser freezes the debate until the user responds.
	AwaitingUser
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case SoftLimit:
		return "soft_limit"
	case HardLimit:
		return "hard_limit"
	case AwaitingUser:
		return "awaiting_user"
	}
	return "unknown"
}

// SceneNote is injected into prompts once the soft limit is reached.
const SceneNote = "[The debate has run long. Restate your position briefly; do not introduce new arguments.]"

// Session tracks one two-persona debate.
type Session struct {
	A, B      *persona.Persona
	turn      int
	state     State
	softLimit int
	hardLimit int
}

// NewSession starts a debate between two personas at turn 1, state Open.
func NewSession(a, b *persona.Persona, softLimit, hardLimit int) *Session {
	s := &Session{A: a, B: b, turn: 1, state: Open, softLimit: softLimit, hardLimit: hardLimit}
	logging.Debate("debate opened: %s vs %s", a.DisplayName, b.DisplayName)
	return s
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Turn returns the current turn counter.
func (s *Session) Turn() int { return s.turn }

// Active reports whether the debate still accepts generation calls.
func (s *Session) Active() bool {
	return s.state != AwaitingUser
}

// Participants returns the two debaters.
func (s *Session) Participants() []*persona.Persona {
	return []*persona.Persona{s.A, s.B}
}

// IsDebater reports whether p is one of the two active debaters.
func (s *Session) IsDebater(p *persona.Persona) bool {
	return p == s.A || p == s.B
}

// Advance moves the counter forward after one completed debate turn and
// returns the resulting state.
func (s *Session) Advance() State {
	if s.state == AwaitingUser {
		return s.state
	}
	s.turn++
	switch {
	case s.turn >= s.hardLimit:
		s.state = HardLimit
	case s.turn >= s.softLimit:
		s.state = SoftLimit
	}
	logging.Debate("debate turn %d, state %s", s.turn, s.state)
	return s.state
}

// Freeze moves the debate to AwaitingUser after the forced decision
// interrupt has been delivered.
func (s *Session) Freeze() {
	s.state = AwaitingUser
	logging.Debate("debate frozen, awaiting user decision")
}

// Abandon ends the debate without resolution, on a new unrelated query.
func (s *Session) Abandon() {
	if s.state != AwaitingUser {
		logging.Debate("debate abandoned at turn %d", s.turn)
	}
	s.state = AwaitingUser
}

// Degrade removes a blocked debater. The debate ends and the remaining
// persona continues alone; the caller handles the refusal line.
func (s *Session) Degrade(blocked *persona.Persona) *persona.Persona {
	s.state = AwaitingUser
	if blocked == s.A {
		logging.Debate("debate degraded: %s blocked, %s continues", s.A.DisplayName, s.B.DisplayName)
		return s.B
	}
	logging.Debate("debate degraded: %s blocked, %s continues", s.B.DisplayName, s.A.DisplayName)
	return s.A
}
