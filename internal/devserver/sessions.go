package devserver

import "sync"

// onlineDevs enforces the single-login rule: a developerId maps to at most
// one live authenticated connection.
type onlineDevs struct {
	mu   sync.Mutex
	byID map[int64]*session
}

func newOnlineDevs() *onlineDevs {
	return &onlineDevs{byID: make(map[int64]*session)}
}

// claim takes devID for sess. Fails when another live connection holds it.
func (m *onlineDevs) claim(devID int64, sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byID[devID]; taken {
		return false
	}
	m.byID[devID] = sess
	return true
}

// release frees devID if sess still owns it.
func (m *onlineDevs) release(devID int64, sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[devID] == sess {
		delete(m.byID, devID)
	}
}
