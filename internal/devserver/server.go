// Package devserver implements the developer-facing service: account
// sessions and the chunked package ingestion pipeline.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/Ian0520/gamestore/internal/config"
	"github.com/Ian0520/gamestore/internal/manifest"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
)

// Server accepts developer connections and serves per-connection sessions.
type Server struct {
	cfg    config.DeveloperServer
	repo   store.Repository
	log    *slog.Logger
	online *onlineDevs

	mu       sync.Mutex
	listener net.Listener
}

// New builds a developer service over repo.
func New(cfg config.DeveloperServer, repo store.Repository, log *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		repo:   repo,
		log:    log.With("component", "devserver"),
		online: newOnlineDevs(),
	}
}

// Listen binds the configured address and blocks serving connections until
// ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr())
	if err != nil {
		return fmt.Errorf("binding developer listener: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("developer service listening", "addr", ln.Addr().String())

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
			return fmt.Errorf("accepting developer connection: %w", err)
		}
		sess := &session{
			srv:     s,
			conn:    protocol.NewConn(conn),
			log:     s.log.With("remote", conn.RemoteAddr().String()),
			uploads: make(map[string]*upload),
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

// session is the per-connection developer state. It is only ever touched by
// its own connection goroutine.
type session struct {
	srv  *Server
	conn *protocol.Conn
	log  *slog.Logger

	developerID int64
	username    string
	uploads     map[string]*upload
}

func (s *session) run(ctx context.Context) {
	defer s.cleanup()
	for {
		req, err := s.conn.ReadRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("developer connection closed", "err", err)
			}
			return
		}
		if err := s.dispatch(ctx, req); err != nil {
			s.log.Warn("developer session ending", "type", req.Type, "err", err)
			return
		}
	}
}

func (s *session) cleanup() {
	if s.developerID != 0 {
		s.srv.online.release(s.developerID, s)
	}
	for _, u := range s.uploads {
		u.discard()
	}
	s.uploads = nil
	s.conn.Close()
}

func (s *session) dispatch(ctx context.Context, req *protocol.Request) error {
	switch req.Type {
	case "dev_register":
		return s.register(ctx, req.Data)
	case "dev_login":
		return s.login(ctx, req.Data)
	case "dev_logout":
		return s.logout()
	case "game_list_mine":
		return s.listMine(ctx)
	case "game_delist":
		return s.delist(ctx, req.Data)
	case "game_list_versions":
		return s.listVersions(ctx, req.Data)
	case "game_upload_init":
		return s.uploadInit(ctx, req.Data)
	case "game_upload_chunk":
		return s.uploadChunk(req.Data)
	case "game_upload_finish":
		return s.uploadFinish(ctx, req.Data)
	}
	return s.conn.SendErr(protocol.CodeUnknownType, nil)
}

func (s *session) loggedIn() bool { return s.developerID != 0 }

// gameCode maps store errors onto the developer edge, where a missing game
// is reported as no_such_game.
func gameCode(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return protocol.CodeNoSuchGame
	}
	return store.Code(err)
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
	acc, err := s.srv.repo.RegisterDev(ctx, p.Username, p.Password)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	s.log.Info("developer registered", "username", acc.Username)
	return s.conn.SendOK(map[string]any{"developerId": acc.ID, "username": acc.Username})
}

func (s *session) login(ctx context.Context, data json.RawMessage) error {
	var p credentialsReq
	if err := json.Unmarshal(data, &p); err != nil {
		return s.conn.SendErr(protocol.CodeBadRequest, nil)
	}
	acc, err := s.srv.repo.LoginDev(ctx, p.Username, p.Password)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	if s.developerID == acc.ID {
		return s.conn.SendOK(map[string]any{"developerId": acc.ID, "username": acc.Username})
	}
	if !s.srv.online.claim(acc.ID, s) {
		return s.conn.SendErr(protocol.CodeAlreadyOnline, nil)
	}
	if s.developerID != 0 {
		// Switching accounts on one socket: release the old identity first.
		s.srv.online.release(s.developerID, s)
	}
	s.developerID = acc.ID
	s.username = acc.Username
	s.log.Info("developer logged in", "username", acc.Username)
	return s.conn.SendOK(map[string]any{"developerId": acc.ID, "username": acc.Username})
}

func (s *session) logout() error {
	if s.developerID != 0 {
		s.srv.online.release(s.developerID, s)
	}
	s.developerID = 0
	s.username = ""
	for id, u := range s.uploads {
		u.discard()
		delete(s.uploads, id)
	}
	return s.conn.SendOK(nil)
}

func (s *session) listMine(ctx context.Context) error {
	if !s.loggedIn() {
		return s.conn.SendErr(protocol.CodeNotLoggedIn, nil)
	}
	games, err := s.srv.repo.ListGamesByDeveloper(ctx, s.developerID)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	return s.conn.SendOK(map[string]any{"games": games})
}

type delistReq struct {
	GameID   string `json:"gameId"`
	Delisted bool   `json:"delisted"`
}

func (s *session) delist(ctx context.Context, data json.RawMessage) error {
	if !s.loggedIn() {
		return s.conn.SendErr(protocol.CodeNotLoggedIn, nil)
	}
	var p delistReq
	if err := json.Unmarshal(data, &p); err != nil || p.GameID == "" {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	// Delisting is refused while any room for the game is mid-match.
	if p.Delisted {
		playing, err := s.srv.repo.HasPlayingForGame(ctx, p.GameID)
		if err != nil {
			return s.conn.SendErr(gameCode(err), nil)
		}
		if playing {
			return s.conn.SendErr(protocol.CodeGameInProgress, nil)
		}
	}
	if err := s.srv.repo.SetDelisted(ctx, p.GameID, p.Delisted, s.developerID); err != nil {
		return s.conn.SendErr(gameCode(err), nil)
	}
	s.log.Info("game delist toggled", "gameId", p.GameID, "delisted", p.Delisted)
	return s.conn.SendOK(nil)
}

type byGameIDReq struct {
	GameID string `json:"gameId"`
}

func (s *session) listVersions(ctx context.Context, data json.RawMessage) error {
	if !s.loggedIn() {
		return s.conn.SendErr(protocol.CodeNotLoggedIn, nil)
	}
	var p byGameIDReq
	if err := json.Unmarshal(data, &p); err != nil || p.GameID == "" {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	g, err := s.srv.repo.GetGameByGameID(ctx, p.GameID)
	if err != nil {
		return s.conn.SendErr(gameCode(err), nil)
	}
	if g.DeveloperID != s.developerID {
		return s.conn.SendErr(protocol.CodeNotOwner, nil)
	}
	versions, err := s.srv.repo.ListVersions(ctx, p.GameID)
	if err != nil {
		return s.conn.SendErr(gameCode(err), nil)
	}
	return s.conn.SendOK(map[string]any{"versions": versions})
}

type uploadInitReq struct {
	GameID      string `json:"gameId"`
	Version     string `json:"version"`
	FileName    string `json:"fileName"`
	SizeBytes   int64  `json:"sizeBytes"`
	SHA256      string `json:"sha256"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *session) uploadInit(ctx context.Context, data json.RawMessage) error {
	if !s.loggedIn() {
		return s.conn.SendErr(protocol.CodeNotLoggedIn, nil)
	}
	var p uploadInitReq
	if err := json.Unmarshal(data, &p); err != nil {
		return s.conn.SendErr(protocol.CodeBadRequest, nil)
	}
	if p.Version == "" || p.FileName == "" || p.SHA256 == "" || p.SizeBytes <= 0 {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	if !manifest.ValidVersion(p.Version) {
		return s.conn.SendErr(protocol.CodeBadVersion, nil)
	}

	gameID, gameRef, created, errCode := s.resolveGame(ctx, &p)
	if errCode != "" {
		return s.conn.SendErr(errCode, nil)
	}

	versions, err := s.srv.repo.ListVersions(ctx, gameID)
	if err != nil {
		return s.conn.SendErr(gameCode(err), nil)
	}
	for _, v := range versions {
		if v.Version == p.Version {
			return s.conn.SendErr(protocol.CodeVersionExists, nil)
		}
	}

	u, err := newUpload(s.srv.cfg.TmpRoot, gameRef, created, gameID, p.Version, p.FileName, p.SHA256, p.SizeBytes)
	if err != nil {
		s.log.Error("allocating upload", "err", err)
		return s.conn.SendErr(protocol.CodeBadRequest, nil)
	}
	s.uploads[u.id] = u
	s.log.Info("upload opened", "gameId", gameID, "version", p.Version, "sizeBytes", p.SizeBytes)
	return s.conn.SendOK(map[string]any{"uploadId": u.id, "gameId": gameID, "created": created})
}

// resolveGame finds or creates the Game row the upload targets. Returns the
// slug, its row id, whether this call created it, and an error code.
func (s *session) resolveGame(ctx context.Context, p *uploadInitReq) (string, int64, bool, string) {
	if p.GameID != "" {
		if !manifest.ValidGameID(p.GameID) {
			return "", 0, false, protocol.CodeBadGameID
		}
		g, err := s.srv.repo.GetGameByGameID(ctx, p.GameID)
		if err == nil {
			if g.DeveloperID != s.developerID {
				return "", 0, false, protocol.CodeNotOwner
			}
			return g.GameID, g.ID, false, ""
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", 0, false, store.Code(err)
		}
		return s.createGame(ctx, p.GameID, p)
	}

	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Description) == "" {
		return "", 0, false, protocol.CodeMissingFields
	}
	gameID, err := uniqueGameID(ctx, s.srv.repo, p.Name)
	if err != nil {
		return "", 0, false, store.Code(err)
	}
	return s.createGame(ctx, gameID, p)
}

func (s *session) createGame(ctx context.Context, gameID string, p *uploadInitReq) (string, int64, bool, string) {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Description) == "" {
		return "", 0, false, protocol.CodeMissingFields
	}
	id, err := s.srv.repo.CreateGame(ctx, store.NewGame{
		GameID:      gameID,
		Name:        p.Name,
		Description: p.Description,
		DeveloperID: s.developerID,
	})
	if err != nil {
		return "", 0, false, store.Code(err)
	}
	s.log.Info("game created", "gameId", gameID)
	return gameID, id, true, ""
}

type uploadChunkReq struct {
	UploadID string `json:"uploadId"`
	Seq      int    `json:"seq"`
	DataB64  string `json:"dataB64"`
}

func (s *session) uploadChunk(data json.RawMessage) error {
	if !s.loggedIn() {
		return s.conn.SendErr(protocol.CodeNotLoggedIn, nil)
	}
	var p uploadChunkReq
	if err := json.Unmarshal(data, &p); err != nil {
		return s.conn.SendErr(protocol.CodeBadRequest, nil)
	}
	u, ok := s.uploads[p.UploadID]
	if !ok {
		return s.conn.SendErr(protocol.CodeNoSuchUpload, nil)
	}
	if err := u.appendChunk(p.Seq, p.DataB64); err != nil {
		u.discard()
		delete(s.uploads, p.UploadID)
		s.log.Warn("upload aborted", "gameId", u.gameID, "version", u.version, "err", err)
		return s.conn.SendErr(uploadCode(err), nil)
	}
	return s.conn.SendOK(map[string]any{"received": u.received, "expected": u.sizeBytes})
}

type uploadFinishReq struct {
	UploadID  string `json:"uploadId"`
	Changelog string `json:"changelog"`
}

func (s *session) uploadFinish(ctx context.Context, data json.RawMessage) error {
	if !s.loggedIn() {
		return s.conn.SendErr(protocol.CodeNotLoggedIn, nil)
	}
	var p uploadFinishReq
	if err := json.Unmarshal(data, &p); err != nil {
		return s.conn.SendErr(protocol.CodeBadRequest, nil)
	}
	u, ok := s.uploads[p.UploadID]
	if !ok {
		return s.conn.SendErr(protocol.CodeNoSuchUpload, nil)
	}
	delete(s.uploads, p.UploadID)

	versionID, err := u.finish(ctx, s.srv.repo, s.srv.cfg.UploadRoot, p.Changelog)
	if err != nil {
		u.discard()
		s.log.Warn("upload finish failed", "gameId", u.gameID, "version", u.version, "err", err)
		return s.conn.SendErr(uploadCode(err), nil)
	}
	s.log.Info("version published", "gameId", u.gameID, "version", u.version, "gameVersionId", versionID)
	return s.conn.SendOK(map[string]any{"gameVersionId": versionID})
}
