package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"sync"

	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
)

// liveRoom is the mutable cache entry for one room. mu serializes every
// mutation of the room — join, leave, start, finish — including the store
// writes those mutations make, so concurrent operations on one room cannot
// interleave. The store stays authoritative: operations refetch the member
// list under the lock before deciding anything.
type liveRoom struct {
	mu sync.Mutex
	id int64

	// Ephemeral match state, set while status is playing.
	playing      bool
	token        string
	port         int
	cmd          *exec.Cmd
	exited       chan struct{} // closed by the supervisor after Wait returns
	participants []int64       // member snapshot at start, recorded in the MatchLog
	startedAt    int64
	gameRef      int64
	versionRef   int64
}

// roomManager hands out liveRoom entries keyed by roomId.
type roomManager struct {
	mu    sync.Mutex
	rooms map[int64]*liveRoom
}

func newRoomManager() *roomManager {
	return &roomManager{rooms: make(map[int64]*liveRoom)}
}

func (m *roomManager) get(roomID int64) *liveRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	lr, ok := m.rooms[roomID]
	if !ok {
		lr = &liveRoom{id: roomID}
		m.rooms[roomID] = lr
	}
	return lr
}

func (m *roomManager) drop(roomID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}

// roomCode maps store errors onto the room edge.
func roomCode(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return protocol.CodeNoSuchRoom
	}
	return store.Code(err)
}

func roomSummaryFields(d *model.RoomDetail) map[string]any {
	return map[string]any{
		"roomId":     d.ID,
		"gameId":     d.GameID,
		"gameName":   d.GameName,
		"version":    d.Version,
		"status":     d.Status,
		"hostId":     d.HostPlayerID,
		"players":    d.Players,
		"minPlayers": d.MinPlayers,
		"maxPlayers": d.MaxPlayers,
	}
}

func (s *session) roomList(ctx context.Context) error {
	rooms, err := s.srv.repo.ListRooms(ctx)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	return s.conn.SendOK(map[string]any{"rooms": rooms})
}

type byRoomIDReq struct {
	RoomID int64 `json:"roomId"`
}

func (s *session) roomDetail(ctx context.Context, data json.RawMessage) error {
	var p byRoomIDReq
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID <= 0 {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	d, err := s.srv.repo.GetRoom(ctx, p.RoomID)
	if err != nil {
		return s.conn.SendErr(roomCode(err), nil)
	}
	return s.conn.SendOK(roomSummaryFields(d))
}

type roomCreateReq struct {
	GameID string `json:"gameId"`
}

func (s *session) roomCreate(ctx context.Context, data json.RawMessage) error {
	var p roomCreateReq
	if err := json.Unmarshal(data, &p); err != nil || p.GameID == "" {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	if s.roomID != 0 {
		return s.conn.SendErr(protocol.CodeAlreadyInRoom, nil)
	}
	g, err := s.srv.repo.GetGameByGameID(ctx, p.GameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.conn.SendErr(protocol.CodeNoSuchGame, nil)
		}
		return s.conn.SendErr(store.Code(err), nil)
	}
	if g.Delisted {
		return s.conn.SendErr(protocol.CodeGameDelisted, nil)
	}
	latest, err := s.srv.repo.LatestVersion(ctx, p.GameID)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	roomID, err := s.srv.repo.CreateRoom(ctx, s.playerID, g.ID, latest.ID)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	s.setRoom(roomID)
	s.log.Info("room created", "roomId", roomID, "gameId", p.GameID)
	return s.conn.SendOK(map[string]any{"roomId": roomID, "gameId": p.GameID, "version": latest.Version})
}

func (s *session) roomJoin(ctx context.Context, data json.RawMessage) error {
	var p byRoomIDReq
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID <= 0 {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	if s.roomID == p.RoomID {
		d, err := s.srv.repo.GetRoom(ctx, p.RoomID)
		if err != nil {
			return s.conn.SendErr(roomCode(err), nil)
		}
		return s.conn.SendOK(roomSummaryFields(d))
	}
	if s.roomID != 0 {
		return s.conn.SendErr(protocol.CodeAlreadyInRoom, nil)
	}

	lr := s.srv.rooms.get(p.RoomID)
	lr.mu.Lock()
	defer lr.mu.Unlock()

	d, err := s.srv.repo.GetRoom(ctx, p.RoomID)
	if err != nil {
		return s.conn.SendErr(roomCode(err), nil)
	}
	alreadyMember := false
	for _, id := range d.Players {
		if id == s.playerID {
			alreadyMember = true
		}
	}
	switch {
	case alreadyMember:
		// Re-login after a drop: membership survived, just reattach.
	case d.Status == model.RoomPlaying:
		return s.conn.SendErr(protocol.CodeRoomPlaying, nil)
	case len(d.Players) >= d.MaxPlayers:
		return s.conn.SendErr(protocol.CodeRoomFull, nil)
	default:
		if err := s.srv.repo.AddMember(ctx, p.RoomID, s.playerID); err != nil {
			return s.conn.SendErr(roomCode(err), nil)
		}
		d, err = s.srv.repo.GetRoom(ctx, p.RoomID)
		if err != nil {
			return s.conn.SendErr(roomCode(err), nil)
		}
		for _, id := range d.Players {
			if id != s.playerID {
				s.srv.sessions.push(id, "player_joined", map[string]any{
					"roomId": p.RoomID, "playerId": s.playerID, "username": s.username,
				})
			}
		}
	}
	s.setRoom(p.RoomID)
	s.log.Info("room joined", "roomId", p.RoomID)
	return s.conn.SendOK(roomSummaryFields(d))
}

func (s *session) roomLeave(ctx context.Context) error {
	if s.roomID == 0 {
		return s.conn.SendErr(protocol.CodeNoSuchRoom, nil)
	}
	roomID := s.roomID
	lr := s.srv.rooms.get(roomID)
	lr.mu.Lock()
	defer lr.mu.Unlock()

	d, err := s.srv.repo.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.setRoom(0)
			return s.conn.SendOK(nil)
		}
		return s.conn.SendErr(store.Code(err), nil)
	}
	if d.Status == model.RoomPlaying {
		return s.conn.SendErr(protocol.CodeRoomPlaying, nil)
	}
	if err := s.leaveLocked(ctx, lr, d); err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	s.log.Info("room left", "roomId", roomID)
	return s.conn.SendOK(nil)
}

// leaveLocked removes the session's player from the room, reassigns the
// host to the earliest-joined remaining member, deletes the room when it
// empties, and emits the membership events. Caller holds lr.mu.
func (s *session) leaveLocked(ctx context.Context, lr *liveRoom, d *model.RoomDetail) error {
	if err := s.srv.repo.RemoveMember(ctx, lr.id, s.playerID); err != nil {
		return err
	}
	s.setRoom(0)

	after, err := s.srv.repo.GetRoom(ctx, lr.id)
	if err != nil {
		return err
	}
	if len(after.Players) == 0 {
		if err := s.srv.repo.DeleteRoomIfEmpty(ctx, lr.id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		s.srv.rooms.drop(lr.id)
		return nil
	}

	if d.HostPlayerID == s.playerID {
		newHost := after.Players[0]
		if err := s.srv.repo.SetHost(ctx, lr.id, newHost); err != nil {
			return err
		}
		s.srv.sessions.broadcast(after.Players, "host_changed", map[string]any{
			"roomId": lr.id, "hostId": newHost,
		})
	}
	s.srv.sessions.broadcast(after.Players, "player_left", map[string]any{
		"roomId": lr.id, "playerId": s.playerID, "username": s.username,
	})
	return nil
}

// forcedLeave is the disconnect path: if this player hosted a live match,
// the match is finalized first; then the player leaves regardless of room
// status.
func (s *session) forcedLeave(ctx context.Context) {
	if s.roomID == 0 {
		return
	}
	roomID := s.roomID
	lr := s.srv.rooms.get(roomID)

	d, err := s.srv.repo.GetRoom(ctx, roomID)
	if err != nil {
		s.setRoom(0)
		return
	}
	if d.Status == model.RoomPlaying && d.HostPlayerID == s.playerID {
		s.srv.finalize(ctx, roomID, matchResult{Reason: "host_disconnect"}, false, nil)
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	d, err = s.srv.repo.GetRoom(ctx, roomID)
	if err != nil {
		s.setRoom(0)
		return
	}
	if err := s.leaveLocked(ctx, lr, d); err != nil {
		s.log.Warn("disconnect cleanup", "roomId", roomID, "err", err)
		s.setRoom(0)
	}
}
