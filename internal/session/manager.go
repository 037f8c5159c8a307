package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/tessera/internal/platform/id"
)

var (
	// ErrSessionNotFound indicates the session id is not registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotConnected indicates the connection is not in any session.
	ErrNotConnected = errors.New("connection is not in a session")
	// ErrDMAlreadyPresent indicates a different user identity already holds
	// the DM role in the session.
	ErrDMAlreadyPresent = errors.New("a dm with a different identity is already present")
)

// DefaultMaxHistory bounds conversation history when no override is given.
const DefaultMaxHistory = 30

// Manager owns all live sessions. It is the single choke point for the
// one-DM-per-identity and teardown-on-empty invariants; callers never touch
// the underlying maps.
type Manager struct {
	mu sync.Mutex

	sessions   map[string]*gameSession
	worldIndex map[string]string // world id -> session id
	connIndex  map[string]string // connection id -> session id
	maxHistory int
	clock      func() time.Time
	newID      func() (string, error)
}

// NewManager creates a Manager keeping up to maxHistory conversation turns
// per session.
func NewManager(maxHistory int) *Manager {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Manager{
		sessions:   make(map[string]*gameSession),
		worldIndex: make(map[string]string),
		connIndex:  make(map[string]string),
		maxHistory: maxHistory,
		clock:      time.Now,
		newID:      id.NewID,
	}
}

// CreateSession allocates a session for a world. One active session exists
// per world; creating again for the same world replaces the index entry only
// if no session is registered.
func (m *Manager) CreateSession(worldID string, snapshot WorldSnapshot) (string, error) {
	sessionID, err := m.newID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return m.CreateSessionWithID(sessionID, worldID, snapshot)
}

// CreateSessionWithID allocates a session with an explicit id.
func (m *Manager) CreateSessionWithID(sessionID, worldID string, snapshot WorldSnapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.worldIndex[worldID]; ok {
		return existing, nil
	}

	now := m.clock()
	m.sessions[sessionID] = &gameSession{
		id:           sessionID,
		worldID:      worldID,
		snapshot:     snapshot,
		createdAt:    now,
		sceneID:      snapshot.SceneID,
		participants: make(map[string]*Participant),
		maxHistory:   m.maxHistory,
		gameTime:     now,
	}
	m.worldIndex[worldID] = sessionID
	log.Printf("session: created %s for world %s", sessionID, worldID)
	return sessionID, nil
}

// FindSessionForWorld returns the active session for a world, if any.
func (m *Manager) FindSessionForWorld(worldID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID, ok := m.worldIndex[worldID]
	return sessionID, ok
}

// JoinSession registers a participant. Joining as DM fails with
// ErrDMAlreadyPresent when a DM of a different user identity already holds the
// session; the same identity may join again on additional connections. The
// first DM join records the identity as session-authoritative.
func (m *Manager) JoinSession(sessionID, connID, userID string, role Role, sender Sender) (WorldSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return WorldSnapshot{}, ErrSessionNotFound
	}

	if role == RoleDM {
		if dm := s.dm(); dm != nil && dm.UserID != userID {
			return WorldSnapshot{}, ErrDMAlreadyPresent
		}
		if s.dmUserID == "" {
			s.dmUserID = userID
		}
	}

	s.participants[connID] = &Participant{
		ConnID:   connID,
		UserID:   userID,
		Role:     role,
		JoinedAt: m.clock(),
		sender:   sender,
	}
	m.connIndex[connID] = sessionID

	log.Printf("session: connection %s (user %s) joined %s as %s", connID, userID, sessionID, role)
	return s.snapshot, nil
}

// LeaveInfo describes the result of a leave.
type LeaveInfo struct {
	SessionID      string
	UserID         string
	Role           Role
	SessionRemoved bool
}

// LeaveSession removes a participant. When the session becomes empty it is
// deleted synchronously together with its world index entry.
func (m *Manager) LeaveSession(connID string) (LeaveInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.connIndex[connID]
	if !ok {
		return LeaveInfo{}, false
	}
	delete(m.connIndex, connID)

	s := m.sessions[sessionID]
	if s == nil {
		return LeaveInfo{}, false
	}
	p, ok := s.participants[connID]
	if !ok {
		return LeaveInfo{}, false
	}
	delete(s.participants, connID)

	info := LeaveInfo{SessionID: sessionID, UserID: p.UserID, Role: p.Role}
	if len(s.participants) == 0 {
		delete(m.sessions, sessionID)
		delete(m.worldIndex, s.worldID)
		info.SessionRemoved = true
		log.Printf("session: removed empty session %s", sessionID)
	}
	return info, true
}

// SessionOfConnection resolves the session a connection belongs to.
func (m *Manager) SessionOfConnection(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID, ok := m.connIndex[connID]
	return sessionID, ok
}

// ParticipantInfo is a read-only view of a participant.
type ParticipantInfo struct {
	ConnID        string
	UserID        string
	Role          Role
	CurrentRegion string
}

// Participants lists participants of a session.
func (m *Manager) Participants(sessionID string) []ParticipantInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]ParticipantInfo, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, ParticipantInfo{
			ConnID:        p.ConnID,
			UserID:        p.UserID,
			Role:          p.Role,
			CurrentRegion: p.CurrentRegion,
		})
	}
	return out
}

// IsDM reports whether the connection holds the DM role.
func (m *Manager) IsDM(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.connIndex[connID]
	if !ok {
		return false
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	p, ok := s.participants[connID]
	return ok && p.Role == RoleDM
}

// UserOfConnection resolves the user identity behind a connection.
func (m *Manager) UserOfConnection(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.connIndex[connID]
	if !ok {
		return "", false
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	p, ok := s.participants[connID]
	if !ok {
		return "", false
	}
	return p.UserID, true
}

// WorldOfSession resolves the world a session runs.
func (m *Manager) WorldOfSession(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.worldID, true
}

// SetParticipantRegion records the region a participant currently occupies.
func (m *Manager) SetParticipantRegion(connID, regionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.connIndex[connID]
	if !ok {
		return ErrNotConnected
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	p, ok := s.participants[connID]
	if !ok {
		return ErrNotConnected
	}
	p.CurrentRegion = regionID
	return nil
}

// SceneID returns the session's current scene pointer.
func (m *Manager) SceneID(sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return s.sceneID, nil
}

// SetSceneID updates the session's current scene pointer.
func (m *Manager) SetSceneID(sessionID, sceneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.sceneID = sceneID
	return nil
}

// GameTime returns the session's in-game clock.
func (m *Manager) GameTime(sessionID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return time.Time{}, ErrSessionNotFound
	}
	return s.gameTime, nil
}

// AdvanceGameTime moves the session's in-game clock forward.
func (m *Manager) AdvanceGameTime(sessionID string, d time.Duration) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return time.Time{}, ErrSessionNotFound
	}
	s.gameTime = s.gameTime.Add(d)
	return s.gameTime, nil
}

// AppendTurn appends a conversation turn, evicting the oldest entries past
// the configured maximum.
func (m *Manager) AppendTurn(sessionID, speaker, text string, isPlayer bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.appendTurn(ConversationTurn{Speaker: speaker, Text: text, IsPlayer: isPlayer, At: m.clock()})
	return nil
}

// RecentHistory returns the last n turns; n == 0 returns all retained turns.
func (m *Manager) RecentHistory(sessionID string, n int) ([]ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.recentHistory(n), nil
}

// SetMaxHistory changes the history bound for one session. Lowering it trims
// immediately, keeping the most recent entries.
func (m *Manager) SetMaxHistory(sessionID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.setMaxHistory(n)
	return nil
}

// SessionCount reports the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
