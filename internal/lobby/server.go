// Package lobby implements the player-facing service: accounts, catalog
// browsing, chunked downloads, and the room & match engine.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/Ian0520/gamestore/internal/config"
	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
)

// errResultPosted ends an unauthenticated callback connection after its one
// reply.
var errResultPosted = errors.New("result callback complete")

// Server accepts player connections and the unauthenticated post_result
// callbacks from spawned game servers, on the same listener.
type Server struct {
	cfg      config.LobbyServer
	repo     store.Repository
	log      *slog.Logger
	sessions *sessionManager
	rooms    *roomManager

	mu       sync.Mutex
	listener net.Listener
}

// New builds a lobby service over repo.
func New(cfg config.LobbyServer, repo store.Repository, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		repo:     repo,
		log:      log.With("component", "lobby"),
		sessions: newSessionManager(),
		rooms:    newRoomManager(),
	}
}

// Listen binds the configured address and blocks serving connections until
// ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr())
	if err != nil {
		return fmt.Errorf("binding lobby listener: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("lobby service listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting lobby connection: %w", err)
		}
		sess := &session{
			srv:       s,
			conn:      protocol.NewConn(conn),
			log:       s.log.With("remote", conn.RemoteAddr().String()),
			downloads: make(map[string]*download),
		}
		go sess.run(ctx)
	}
}

// Addr returns the bound listen address, for tests that bind port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port, advertised to spawned games as lobbyPort.
func (s *Server) Port() int {
	addr := s.Addr()
	if addr == nil {
		return s.cfg.Port
	}
	return addr.(*net.TCPAddr).Port
}

// session is the per-connection player state, touched only by its own
// connection goroutine. The conn itself carries a write lock so event pushes
// from other goroutines serialize against replies.
type session struct {
	srv  *Server
	conn *protocol.Conn
	log  *slog.Logger

	playerID  int64
	username  string
	roomID    int64
	downloads map[string]*download
}

func (s *session) run(ctx context.Context) {
	defer s.disconnect(ctx)
	for {
		req, err := s.conn.ReadRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("lobby connection closed", "err", err)
			}
			return
		}
		if err := s.dispatch(ctx, req); err != nil {
			if !errors.Is(err, errResultPosted) {
				s.log.Warn("lobby session ending", "type", req.Type, "err", err)
			}
			return
		}
	}
}

// disconnect runs the forced cleanup path: discard transfers, leave the
// room (finalizing the match first if this player hosted it), release the
// single-login slot, close the socket.
func (s *session) disconnect(ctx context.Context) {
	s.discardDownloads()
	if s.playerID != 0 {
		s.forcedLeave(ctx)
		s.srv.sessions.logout(s.playerID, s)
	}
	s.conn.Close()
}

func (s *session) dispatch(ctx context.Context, req *protocol.Request) error {
	switch req.Type {
	case "player_register":
		return s.register(ctx, req.Data)
	case "player_login":
		return s.login(ctx, req.Data)
	case "player_logout":
		return s.logout(ctx)
	case "player_list":
		return s.playerList(ctx)
	case "post_result":
		// Game servers use a fresh connection and no auth; such a
		// connection is closed after its single reply.
		if err := s.postResult(ctx, req.Data); err != nil {
			return err
		}
		if s.playerID == 0 {
			return errResultPosted
		}
		return nil
	}

	if s.playerID == 0 {
		return s.conn.SendErr(protocol.CodeNotLoggedIn, nil)
	}
	switch req.Type {
	case "store_list_games":
		return s.listGames(ctx)
	case "store_game_detail":
		return s.gameDetail(ctx, req.Data)
	case "store_download_init":
		return s.downloadInit(ctx, req.Data)
	case "store_download_chunk":
		return s.downloadChunk(req.Data)
	case "review_create_or_update":
		return s.reviewUpsert(ctx, req.Data)
	case "match_list_mine":
		return s.matchListMine(ctx)
	case "room_list":
		return s.roomList(ctx)
	case "room_detail":
		return s.roomDetail(ctx, req.Data)
	case "room_create":
		return s.roomCreate(ctx, req.Data)
	case "room_join":
		return s.roomJoin(ctx, req.Data)
	case "room_leave":
		return s.roomLeave(ctx)
	case "room_start":
		return s.roomStart(ctx, req.Data)
	}
	return s.conn.SendErr(protocol.CodeUnknownType, nil)
}

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *session) register(ctx context.Context, data json.RawMessage) error {
	var p credentialsReq
	if err := json.Unmarshal(data, &p); err != nil {
		return s.conn.SendErr(protocol.CodeBadRequest, nil)
	}
	acc, err := s.srv.repo.RegisterPlayer(ctx, p.Username, p.Password)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	s.log.Info("player registered", "username", acc.Username)
	return s.conn.SendOK(map[string]any{"playerId": acc.ID, "username": acc.Username})
}

func (s *session) login(ctx context.Context, data json.RawMessage) error {
	var p credentialsReq
	if err := json.Unmarshal(data, &p); err != nil {
		return s.conn.SendErr(protocol.CodeBadRequest, nil)
	}
	acc, err := s.srv.repo.LoginPlayer(ctx, p.Username, p.Password)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	if s.playerID == acc.ID {
		return s.conn.SendOK(map[string]any{"playerId": acc.ID, "username": acc.Username})
	}
	if !s.srv.sessions.login(acc.ID, acc.Username, s) {
		return s.conn.SendErr(protocol.CodeAlreadyOnline, nil)
	}
	if s.playerID != 0 {
		// Switching accounts on one socket: release the old identity first.
		s.forcedLeave(ctx)
		s.srv.sessions.logout(s.playerID, s)
	}
	s.playerID = acc.ID
	s.username = acc.Username
	s.roomID = 0
	s.log.Info("player logged in", "username", acc.Username)
	return s.conn.SendOK(map[string]any{"playerId": acc.ID, "username": acc.Username})
}

func (s *session) logout(ctx context.Context) error {
	if s.playerID != 0 {
		s.forcedLeave(ctx)
		s.srv.sessions.logout(s.playerID, s)
		s.playerID = 0
		s.username = ""
		s.roomID = 0
	}
	s.discardDownloads()
	return s.conn.SendOK(nil)
}

// setRoom updates the session's own room pointer and the shared online table
// player_list reads from.
func (s *session) setRoom(roomID int64) {
	s.roomID = roomID
	if s.playerID != 0 {
		s.srv.sessions.setRoom(s.playerID, roomID)
	}
}

// playerList reports every online player with their room status, sorted by
// playerId. Players outside a room carry null room fields.
func (s *session) playerList(ctx context.Context) error {
	entries := s.srv.sessions.entries()
	rooms := make(map[int64]*model.RoomDetail)
	players := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		row := map[string]any{
			"playerId":   e.playerID,
			"username":   e.username,
			"roomId":     nil,
			"roomStatus": nil,
			"gameId":     nil,
			"version":    nil,
		}
		if e.roomID != 0 {
			d, seen := rooms[e.roomID]
			if !seen {
				var err error
				if d, err = s.srv.repo.GetRoom(ctx, e.roomID); err != nil {
					d = nil
				}
				rooms[e.roomID] = d
			}
			if d != nil {
				row["roomId"] = e.roomID
				row["roomStatus"] = d.Status
				row["gameId"] = d.GameID
				row["version"] = d.Version
			}
		}
		players = append(players, row)
	}
	return s.conn.SendOK(map[string]any{"players": players})
}
