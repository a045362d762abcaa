package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/Ian0520/gamestore/internal/protocol"
)

// Server exposes a Repository over the framed JSON RPC. Connections are
// persistent: each accepted conn serves any number of sequential
// request/reply exchanges until the peer closes it.
type Server struct {
	repo Repository
	log  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer wraps repo in the RPC front-end.
func NewServer(repo Repository, log *slog.Logger) *Server {
	return &Server{repo: repo, log: log.With("component", "store")}
}

// Listen binds addr and blocks serving connections until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding store listener: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("store service listening", "addr", ln.Addr().String())

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
			return fmt.Errorf("accepting store connection: %w", err)
		}
		go s.handleConn(ctx, conn)
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

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	for {
		raw, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("store connection closed", "remote", remote, "err", err)
			}
			return
		}
		var req Request
		reply := Reply{}
		if err := json.Unmarshal(raw, &req); err != nil {
			reply = errReply(ErrBadRequest)
		} else {
			reply = s.dispatch(ctx, req)
		}
		if err := protocol.WriteMessage(conn, reply); err != nil {
			s.log.Warn("writing store reply", "remote", remote, "err", err)
			return
		}
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, ErrBadRequest
	}
	return v, nil
}

// dispatch routes one request to the repository. Every caller-induced
// failure comes back as a stable code; repository internals surface as
// db_error:<detail>.
func (s *Server) dispatch(ctx context.Context, req Request) Reply {
	s.log.Debug("store request", "collection", req.Collection, "action", req.Action)
	switch req.Collection {
	case "DevUser":
		return s.devUser(ctx, req.Action, req.Data)
	case "PlayerUser":
		return s.playerUser(ctx, req.Action, req.Data)
	case "Game":
		return s.game(ctx, req.Action, req.Data)
	case "GameVersion":
		return s.gameVersion(ctx, req.Action, req.Data)
	case "Review":
		return s.review(ctx, req.Action, req.Data)
	case "Room":
		return s.room(ctx, req.Action, req.Data)
	case "MatchLog":
		return s.matchLog(ctx, req.Action, req.Data)
	}
	return errReply(ErrUnknownColl)
}

func (s *Server) devUser(ctx context.Context, action string, data json.RawMessage) Reply {
	switch action {
	case "register":
		p, err := decode[credentials](data)
		if err != nil {
			return errReply(err)
		}
		acc, err := s.repo.RegisterDev(ctx, p.Username, p.Password)
		if err != nil {
			return errReply(err)
		}
		return okData(authData{DeveloperID: acc.ID, Username: acc.Username})
	case "login":
		p, err := decode[credentials](data)
		if err != nil {
			return errReply(err)
		}
		acc, err := s.repo.LoginDev(ctx, p.Username, p.Password)
		if err != nil {
			return errReply(err)
		}
		return okData(authData{DeveloperID: acc.ID, Username: acc.Username})
	case "get_by_username":
		p, err := decode[byUsername](data)
		if err != nil {
			return errReply(err)
		}
		acc, err := s.repo.GetDevByUsername(ctx, p.Username)
		if err != nil {
			return errReply(err)
		}
		return okData(acc)
	case "get_by_id":
		p, err := decode[byDeveloperID](data)
		if err != nil {
			return errReply(err)
		}
		acc, err := s.repo.GetDevByID(ctx, p.DeveloperID)
		if err != nil {
			return errReply(err)
		}
		return okData(acc)
	}
	return errReply(ErrUnknownAction)
}

func (s *Server) playerUser(ctx context.Context, action string, data json.RawMessage) Reply {
	switch action {
	case "register":
		p, err := decode[credentials](data)
		if err != nil {
			return errReply(err)
		}
		acc, err := s.repo.RegisterPlayer(ctx, p.Username, p.Password)
		if err != nil {
			return errReply(err)
		}
		return okData(authData{PlayerID: acc.ID, Username: acc.Username})
	case "login":
		p, err := decode[credentials](data)
		if err != nil {
			return errReply(err)
		}
		acc, err := s.repo.LoginPlayer(ctx, p.Username, p.Password)
		if err != nil {
			return errReply(err)
		}
		return okData(authData{PlayerID: acc.ID, Username: acc.Username})
	case "get_by_username":
		p, err := decode[byUsername](data)
		if err != nil {
			return errReply(err)
		}
		acc, err := s.repo.GetPlayerByUsername(ctx, p.Username)
		if err != nil {
			return errReply(err)
		}
		return okData(acc)
	}
	return errReply(ErrUnknownAction)
}

func (s *Server) game(ctx context.Context, action string, data json.RawMessage) Reply {
	switch action {
	case "create":
		p, err := decode[NewGame](data)
		if err != nil {
			return errReply(err)
		}
		id, err := s.repo.CreateGame(ctx, p)
		if err != nil {
			return errReply(err)
		}
		return okData(gameCreated{GameDbID: id})
	case "get_by_gameId":
		p, err := decode[byGameID](data)
		if err != nil {
			return errReply(err)
		}
		g, err := s.repo.GetGameByGameID(ctx, p.GameID)
		if err != nil {
			return errReply(err)
		}
		return okData(g)
	case "list_public":
		games, err := s.repo.ListPublicGames(ctx)
		if err != nil {
			return errReply(err)
		}
		return Reply{Status: statusOK, Games: games}
	case "list_by_dev":
		p, err := decode[byDeveloperID](data)
		if err != nil {
			return errReply(err)
		}
		games, err := s.repo.ListGamesByDeveloper(ctx, p.DeveloperID)
		if err != nil {
			return errReply(err)
		}
		return Reply{Status: statusOK, Games: games}
	case "set_delisted":
		p, err := decode[delistParams](data)
		if err != nil {
			return errReply(err)
		}
		if err := s.repo.SetDelisted(ctx, p.GameID, p.Delisted, p.DeveloperID); err != nil {
			return errReply(err)
		}
		return okReply()
	}
	return errReply(ErrUnknownAction)
}

func (s *Server) gameVersion(ctx context.Context, action string, data json.RawMessage) Reply {
	switch action {
	case "create":
		p, err := decode[NewVersion](data)
		if err != nil {
			return errReply(err)
		}
		id, err := s.repo.CreateVersion(ctx, p)
		if err != nil {
			return errReply(err)
		}
		return okData(versionCreated{GameVersionID: id})
	case "list_for_gameId":
		p, err := decode[byGameID](data)
		if err != nil {
			return errReply(err)
		}
		versions, err := s.repo.ListVersions(ctx, p.GameID)
		if err != nil {
			return errReply(err)
		}
		return Reply{Status: statusOK, Versions: versions}
	case "get_for_gameId_version":
		p, err := decode[gameIDVersion](data)
		if err != nil {
			return errReply(err)
		}
		v, err := s.repo.GetVersion(ctx, p.GameID, p.Version)
		if err != nil {
			return errReply(err)
		}
		return okData(v)
	case "latest_for_gameId":
		p, err := decode[byGameID](data)
		if err != nil {
			return errReply(err)
		}
		v, err := s.repo.LatestVersion(ctx, p.GameID)
		if err != nil {
			return errReply(err)
		}
		return okData(v)
	case "get_by_id":
		p, err := decode[byVersionID](data)
		if err != nil {
			return errReply(err)
		}
		v, err := s.repo.GetVersionByID(ctx, p.GameVersionID)
		if err != nil {
			return errReply(err)
		}
		return okData(v)
	}
	return errReply(ErrUnknownAction)
}

func (s *Server) review(ctx context.Context, action string, data json.RawMessage) Reply {
	switch action {
	case "upsert":
		p, err := decode[reviewParams](data)
		if err != nil {
			return errReply(err)
		}
		if err := s.repo.UpsertReview(ctx, p.GameID, p.PlayerID, p.Rating, p.Comment); err != nil {
			return errReply(err)
		}
		return okReply()
	case "list_for_gameId":
		p, err := decode[byGameID](data)
		if err != nil {
			return errReply(err)
		}
		reviews, err := s.repo.ListReviews(ctx, p.GameID)
		if err != nil {
			return errReply(err)
		}
		return Reply{Status: statusOK, Reviews: reviews}
	}
	return errReply(ErrUnknownAction)
}

func (s *Server) room(ctx context.Context, action string, data json.RawMessage) Reply {
	switch action {
	case "create":
		p, err := decode[newRoomParams](data)
		if err != nil {
			return errReply(err)
		}
		id, err := s.repo.CreateRoom(ctx, p.HostPlayerID, p.GameRef, p.GameVersionID)
		if err != nil {
			return errReply(err)
		}
		return okData(roomCreated{RoomID: id})
	case "get":
		p, err := decode[byRoomID](data)
		if err != nil {
			return errReply(err)
		}
		d, err := s.repo.GetRoom(ctx, p.RoomID)
		if err != nil {
			return errReply(err)
		}
		return okData(d)
	case "list":
		rooms, err := s.repo.ListRooms(ctx)
		if err != nil {
			return errReply(err)
		}
		return Reply{Status: statusOK, Rooms: rooms}
	case "add_member":
		p, err := decode[roomMemberParams](data)
		if err != nil {
			return errReply(err)
		}
		if err := s.repo.AddMember(ctx, p.RoomID, p.PlayerID); err != nil {
			return errReply(err)
		}
		return okReply()
	case "remove_member":
		p, err := decode[roomMemberParams](data)
		if err != nil {
			return errReply(err)
		}
		if err := s.repo.RemoveMember(ctx, p.RoomID, p.PlayerID); err != nil {
			return errReply(err)
		}
		return okReply()
	case "set_host":
		p, err := decode[setHostParams](data)
		if err != nil {
			return errReply(err)
		}
		if err := s.repo.SetHost(ctx, p.RoomID, p.HostPlayerID); err != nil {
			return errReply(err)
		}
		return okReply()
	case "set_status":
		p, err := decode[setStatusParams](data)
		if err != nil {
			return errReply(err)
		}
		if err := s.repo.SetRoomStatus(ctx, p.RoomID, p.Status); err != nil {
			return errReply(err)
		}
		return okReply()
	case "delete_if_empty":
		p, err := decode[byRoomID](data)
		if err != nil {
			return errReply(err)
		}
		if err := s.repo.DeleteRoomIfEmpty(ctx, p.RoomID); err != nil {
			return errReply(err)
		}
		return okReply()
	case "has_playing_for_gameId":
		p, err := decode[byGameID](data)
		if err != nil {
			return errReply(err)
		}
		playing, err := s.repo.HasPlayingForGame(ctx, p.GameID)
		if err != nil {
			return errReply(err)
		}
		return okData(playingFlag{Playing: playing})
	}
	return errReply(ErrUnknownAction)
}

func (s *Server) matchLog(ctx context.Context, action string, data json.RawMessage) Reply {
	switch action {
	case "create":
		p, err := decode[NewMatchLog](data)
		if err != nil {
			return errReply(err)
		}
		id, err := s.repo.CreateMatchLog(ctx, p)
		if err != nil {
			return errReply(err)
		}
		return okData(matchLogCreated{MatchLogID: id})
	case "has_player_played":
		p, err := decode[playedParams](data)
		if err != nil {
			return errReply(err)
		}
		played, err := s.repo.HasPlayerPlayed(ctx, p.GameID, p.PlayerID)
		if err != nil {
			return errReply(err)
		}
		return okData(playedFlag{Played: played})
	case "list_by_player":
		p, err := decode[byPlayerID](data)
		if err != nil {
			return errReply(err)
		}
		logs, err := s.repo.ListMatchesByPlayer(ctx, p.PlayerID)
		if err != nil {
			return errReply(err)
		}
		return Reply{Status: statusOK, Logs: logs}
	}
	return errReply(ErrUnknownAction)
}
