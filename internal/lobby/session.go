package lobby

import (
	"sort"
	"sync"
)

// onlineEntry is the manager's view of one logged-in player, snapshotted for
// player_list.
type onlineEntry struct {
	playerID int64
	username string
	roomID   int64
}

// sessionManager enforces the single-login rule: a playerId maps to at most
// one live authenticated connection. It also mirrors each player's current
// room so player_list never has to peek at another connection's state.
type sessionManager struct {
	mu       sync.Mutex
	byPlayer map[int64]*session
	info     map[int64]*onlineEntry
}

func newSessionManager() *sessionManager {
	return &sessionManager{
		byPlayer: make(map[int64]*session),
		info:     make(map[int64]*onlineEntry),
	}
}

// login claims playerID for sess. Fails when another live connection holds it.
func (m *sessionManager) login(playerID int64, username string, sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byPlayer[playerID]; taken {
		return false
	}
	m.byPlayer[playerID] = sess
	m.info[playerID] = &onlineEntry{playerID: playerID, username: username}
	return true
}

// logout releases playerID if sess still owns it.
func (m *sessionManager) logout(playerID int64, sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byPlayer[playerID] == sess {
		delete(m.byPlayer, playerID)
		delete(m.info, playerID)
	}
}

// setRoom records which room playerID currently occupies (0 for none).
func (m *sessionManager) setRoom(playerID, roomID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, online := m.info[playerID]; online {
		e.roomID = roomID
	}
}

// get returns the live session for playerID, or nil.
func (m *sessionManager) get(playerID int64) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPlayer[playerID]
}

// entries snapshots the online players sorted by playerId, for player_list.
func (m *sessionManager) entries() []onlineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]onlineEntry, 0, len(m.info))
	for _, e := range m.info {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].playerID < out[j].playerID })
	return out
}

// push delivers an event to one player if they are online. Best-effort: a
// dead socket is the reader goroutine's problem, not ours.
func (m *sessionManager) push(playerID int64, name string, data map[string]any) {
	if sess := m.get(playerID); sess != nil {
		_ = sess.conn.PushEvent(name, data)
	}
}

// broadcast pushes an event to every listed player.
func (m *sessionManager) broadcast(playerIDs []int64, name string, data map[string]any) {
	for _, id := range playerIDs {
		m.push(id, name, data)
	}
}
