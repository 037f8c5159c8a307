package session

import "log"

// target pairs a sender with its connection id for failure logging.
type target struct {
	connID string
	sender Sender
}

// deliver sends a payload to every target. Sending happens outside the
// Manager lock; a failure to one recipient is logged and never blocks
// delivery to the rest.
func deliver(targets []target, payload []byte) {
	for _, t := range targets {
		if err := t.sender.Send(payload); err != nil {
			log.Printf("session: failed to send to connection %s: %v", t.connID, err)
		}
	}
}

func (m *Manager) collect(sessionID string, include func(*Participant) bool) []target {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	var targets []target
	for _, p := range s.participants {
		if include(p) {
			targets = append(targets, target{connID: p.ConnID, sender: p.sender})
		}
	}
	return targets
}

// Broadcast sends a payload to every participant in a session.
func (m *Manager) Broadcast(sessionID string, payload []byte) {
	deliver(m.collect(sessionID, func(*Participant) bool { return true }), payload)
}

// BroadcastExcept sends a payload to every participant except one connection.
func (m *Manager) BroadcastExcept(sessionID, excludedConnID string, payload []byte) {
	deliver(m.collect(sessionID, func(p *Participant) bool {
		return p.ConnID != excludedConnID
	}), payload)
}

// BroadcastToPlayers sends a payload to players only, excluding the DM and
// spectators.
func (m *Manager) BroadcastToPlayers(sessionID string, payload []byte) {
	deliver(m.collect(sessionID, func(p *Participant) bool {
		return p.Role == RolePlayer
	}), payload)
}

// SendToDM sends a payload to every connection of the authoritative DM
// identity. When no identity has been recorded yet, any one DM connection
// receives it.
func (m *Manager) SendToDM(sessionID string, payload []byte) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	var targets []target
	if s.dmUserID != "" {
		for _, p := range s.participants {
			if p.Role == RoleDM && p.UserID == s.dmUserID {
				targets = append(targets, target{connID: p.ConnID, sender: p.sender})
			}
		}
	} else if dm := s.dm(); dm != nil {
		targets = append(targets, target{connID: dm.ConnID, sender: dm.sender})
	}
	m.mu.Unlock()

	deliver(targets, payload)
}

// SendToParticipant sends a payload to every connection held by a user
// identity within a session.
func (m *Manager) SendToParticipant(sessionID, userID string, payload []byte) {
	deliver(m.collect(sessionID, func(p *Participant) bool {
		return p.UserID == userID
	}), payload)
}

// SendToConnection sends a payload to one connection. Returns ErrNotConnected
// when the connection is in no session.
func (m *Manager) SendToConnection(connID string, payload []byte) error {
	m.mu.Lock()
	sessionID, ok := m.connIndex[connID]
	if !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	p, ok := s.participants[connID]
	if !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := target{connID: p.ConnID, sender: p.sender}
	m.mu.Unlock()

	deliver([]target{t}, payload)
	return nil
}
