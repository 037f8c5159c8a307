package session

import (
	"encoding/json"
	"errors"
	"time"
)

// Role identifies what a participant may do in a session.
type Role string

const (
	// RoleDM is the session moderator. At most one user identity holds it.
	RoleDM Role = "dm"
	// RolePlayer is a regular participant.
	RolePlayer Role = "player"
	// RoleSpectator observes without acting.
	RoleSpectator Role = "spectator"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDM, RolePlayer, RoleSpectator:
		return Role(s), nil
	default:
		return "", errors.New("role must be dm, player or spectator")
	}
}

// Sender delivers one pre-serialized frame to a connection. Implementations
// must preserve send order per connection.
type Sender interface {
	Send(payload []byte) error
}

// WorldSnapshot is the world context handed to joining participants. The
// payload is opaque to the registry.
type WorldSnapshot struct {
	WorldID   string          `json:"world_id"`
	WorldName string          `json:"world_name"`
	SceneID   string          `json:"scene_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Participant is one connection inside a session. The same user identity may
// hold several connections (multiple tabs).
type Participant struct {
	ConnID        string
	UserID        string
	Role          Role
	JoinedAt      time.Time
	CurrentRegion string

	sender Sender
}

// ConversationTurn is one entry of the bounded conversation history kept for
// generative context.
type ConversationTurn struct {
	Speaker  string    `json:"speaker"`
	Text     string    `json:"text"`
	IsPlayer bool      `json:"is_player"`
	At       time.Time `json:"at"`
}

// gameSession is a live session for one world. Owned by the Manager; never
// leaves the package.
type gameSession struct {
	id        string
	worldID   string
	snapshot  WorldSnapshot
	createdAt time.Time
	sceneID   string

	// dmUserID is the authoritative DM identity, set on first DM join.
	dmUserID string

	participants map[string]*Participant

	history    []ConversationTurn
	maxHistory int

	gameTime time.Time
}

func (s *gameSession) hasDM() bool {
	for _, p := range s.participants {
		if p.Role == RoleDM {
			return true
		}
	}
	return false
}

func (s *gameSession) dm() *Participant {
	for _, p := range s.participants {
		if p.Role == RoleDM {
			return p
		}
	}
	return nil
}

// appendTurn enforces the history bound on every append by evicting the
// oldest entries.
func (s *gameSession) appendTurn(turn ConversationTurn) {
	s.history = append(s.history, turn)
	if len(s.history) > s.maxHistory {
		excess := len(s.history) - s.maxHistory
		s.history = append(s.history[:0], s.history[excess:]...)
	}
}

func (s *gameSession) recentHistory(n int) []ConversationTurn {
	turns := s.history
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

func (s *gameSession) setMaxHistory(n int) {
	if n <= 0 {
		return
	}
	s.maxHistory = n
	if len(s.history) > n {
		excess := len(s.history) - n
		s.history = append(s.history[:0], s.history[excess:]...)
	}
}
