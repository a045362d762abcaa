package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Ian0520/gamestore/internal/ident"
	"github.com/Ian0520/gamestore/internal/manifest"
	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
)

const (
	// exitGrace is how long the supervisor waits for a late post_result
	// after the child exits before synthesizing a process_exit result.
	exitGrace = 500 * time.Millisecond

	// termEscalation bounds the SIGTERM-to-SIGKILL wait on match end.
	termEscalation = 2 * time.Second
)

// matchResult is the post_result payload, also used internally for
// synthesized finishes (host disconnect, child exit).
type matchResult struct {
	RoomID    int64           `json:"roomId"`
	StartedAt int64           `json:"startedAt"`
	EndedAt   int64           `json:"endedAt"`
	Reason    string          `json:"reason"`
	Winner    int64           `json:"winner"`
	Results   json.RawMessage `json:"results"`
	Token     string          `json:"token"`
}

func (s *session) roomStart(ctx context.Context, data json.RawMessage) error {
	var p byRoomIDReq
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID <= 0 {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}

	lr := s.srv.rooms.get(p.RoomID)
	lr.mu.Lock()
	defer lr.mu.Unlock()

	d, err := s.srv.repo.GetRoom(ctx, p.RoomID)
	if err != nil {
		return s.conn.SendErr(roomCode(err), nil)
	}
	if d.HostPlayerID != s.playerID {
		return s.conn.SendErr(protocol.CodeNotHost, nil)
	}
	if d.Status == model.RoomPlaying {
		if lr.playing {
			return s.conn.SendErr(protocol.CodeAlreadyPlaying, nil)
		}
		// Persisted playing with no live child: a previous lobby run died
		// mid-match. Record the orphaned match, then fall through to a
		// fresh start.
		s.srv.lateAppend(ctx, p.RoomID, matchResult{Reason: "stale_state"})
		if err := s.srv.repo.SetRoomStatus(ctx, p.RoomID, model.RoomWaiting); err != nil {
			return s.conn.SendErr(store.Code(err), nil)
		}
	}
	if len(d.Players) < d.MinPlayers {
		return s.conn.SendErr(protocol.CodeNeedMorePlayers, nil)
	}

	v, err := s.srv.repo.GetVersionByID(ctx, d.GameVersionID)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	m, err := manifest.Parse([]byte(v.ManifestJSON))
	if err != nil {
		return s.conn.SendErr(protocol.CodeBadManifest, nil)
	}

	port, ok := s.srv.findFreePort()
	if !ok {
		return s.conn.SendErr(protocol.CodeNoFreePort, nil)
	}
	token := ident.New()

	cmd, err := s.srv.spawnGame(d, v, m, port, token, len(d.Players))
	if err != nil {
		s.log.Error("spawning game server", "roomId", d.ID, "err", err)
		return s.conn.SendErr(protocol.CodeSpawnFailed, nil)
	}

	if err := s.srv.repo.SetRoomStatus(ctx, d.ID, model.RoomPlaying); err != nil {
		terminate(cmd, nil, s.srv.log)
		return s.conn.SendErr(store.Code(err), nil)
	}

	lr.playing = true
	lr.token = token
	lr.port = port
	lr.cmd = cmd
	lr.exited = make(chan struct{})
	lr.participants = append([]int64(nil), d.Players...)
	lr.startedAt = time.Now().Unix()
	lr.gameRef = d.GameRef
	lr.versionRef = d.GameVersionID

	go s.srv.supervise(lr, cmd, lr.exited)

	info := map[string]any{
		"roomId":  d.ID,
		"gameId":  d.GameID,
		"version": d.Version,
		"host":    s.srv.cfg.GameHostPublic,
		"port":    port,
		"token":   token,
	}
	s.srv.sessions.broadcast(d.Players, "game_info", info)
	s.log.Info("match started", "roomId", d.ID, "gameId", d.GameID, "port", port, "pid", cmd.Process.Pid)
	return s.conn.SendOK(map[string]any{"roomId": d.ID})
}

// findFreePort probes the configured range and reserves nothing: the child
// is expected to bind it immediately.
func (s *Server) findFreePort() (int, bool) {
	for port := s.cfg.GamePortMin; port <= s.cfg.GamePortMax; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.InternalHost, port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, true
	}
	return 0, false
}

// spawnGame renders the server entrypoint argv and launches the child with
// stdout/stderr combined into the per-room log file.
func (s *Server) spawnGame(d *model.RoomDetail, v *model.GameVersion, m *manifest.Manifest, port int, token string, members int) (*exec.Cmd, error) {
	vars := map[string]string{
		"host":      s.cfg.GameHostPublic,
		"port":      strconv.Itoa(port),
		"token":     token,
		"roomId":    strconv.FormatInt(d.ID, 10),
		"gameId":    d.GameID,
		"version":   d.Version,
		"lobbyHost": s.cfg.InternalHost,
		"lobbyPort": strconv.Itoa(s.Port()),
	}
	argv, err := manifest.RenderArgv(m.Entrypoints.Server.Argv, vars)
	if err != nil {
		return nil, fmt.Errorf("rendering server argv: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty server argv")
	}

	logDir := filepath.Join(s.cfg.RunRoot, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating game log dir: %w", err)
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("game_room_%d.log", d.ID))
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening game log: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = v.ExtractedPath
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"GAMESTORE_LOBBY_HOST="+s.cfg.InternalHost,
		"GAMESTORE_LOBBY_PORT="+vars["lobbyPort"],
		"GAMESTORE_ROOM_ID="+vars["roomId"],
		"GAMESTORE_TOKEN="+token,
		"GAMESTORE_GAME_ID="+d.GameID,
		"GAMESTORE_VERSION="+d.Version,
		"HW3_EXPECTED_PLAYERS="+strconv.Itoa(members),
	)
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting game server: %w", err)
	}
	// The child holds its own descriptor now.
	logFile.Close()
	return cmd, nil
}

// supervise owns cmd.Wait for one match. After the child exits it allows a
// short grace window for a late post_result, then finalizes with a
// synthesized process_exit result if nobody else got there first.
func (s *Server) supervise(lr *liveRoom, cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)
	s.log.Debug("game server exited", "roomId", lr.id, "err", err)

	time.Sleep(exitGrace)
	s.finalize(context.Background(), lr.id, matchResult{Reason: "process_exit"}, false, exited)
}

// finalize is the single playing→waiting transition. Exactly one caller wins
// the race: it terminates the child, persists the MatchLog, resets the room,
// and broadcasts game_ready. Losers either no-op or, for a post_result that
// arrives after the room closed, append an extra MatchLog without any event.
// A non-nil watch pins the caller to one match: when it no longer matches the
// live exited channel, a newer match owns the room and the call is a no-op.
func (s *Server) finalize(ctx context.Context, roomID int64, res matchResult, isCallback bool, watch chan struct{}) {
	lr := s.rooms.get(roomID)
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if watch != nil && watch != lr.exited {
		return
	}
	if !lr.playing {
		if isCallback {
			s.lateAppend(ctx, roomID, res)
		}
		return
	}
	cmd, exited := lr.cmd, lr.exited
	participants := lr.participants
	startedAt := lr.startedAt
	lr.playing = false
	lr.token = ""
	lr.port = 0
	lr.cmd = nil
	lr.participants = nil

	terminate(cmd, exited, s.log)

	if res.StartedAt == 0 {
		res.StartedAt = startedAt
	}
	if res.EndedAt == 0 {
		res.EndedAt = time.Now().Unix()
	}
	if res.Reason == "" {
		res.Reason = "finished"
	}

	if err := s.repo.SetRoomStatus(ctx, roomID, model.RoomWaiting); err != nil {
		s.log.Error("resetting room status", "roomId", roomID, "err", err)
	}
	resultsJSON, err := model.EncodeResults(participants, res.Results)
	if err != nil {
		s.log.Error("encoding match results", "roomId", roomID, "err", err)
		resultsJSON = "{}"
	}
	if _, err := s.repo.CreateMatchLog(ctx, store.NewMatchLog{
		RoomID:         roomID,
		GameRef:        lr.gameRef,
		GameVersionRef: lr.versionRef,
		StartedAt:      res.StartedAt,
		EndedAt:        res.EndedAt,
		Reason:         res.Reason,
		WinnerPlayerID: res.Winner,
		ResultsJSON:    resultsJSON,
	}); err != nil {
		s.log.Error("persisting match log", "roomId", roomID, "err", err)
	}

	s.sessions.broadcast(participants, "game_ready", map[string]any{
		"roomId": roomID,
		"result": map[string]any{"reason": res.Reason, "winner": res.Winner},
	})
	s.log.Info("match finalized", "roomId", roomID, "reason", res.Reason)
}

// lateAppend records a post_result that raced in after the room was already
// back in waiting. History grows; no event is re-emitted.
func (s *Server) lateAppend(ctx context.Context, roomID int64, res matchResult) {
	d, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		s.log.Warn("late post_result for unknown room", "roomId", roomID, "err", err)
		return
	}
	if res.EndedAt == 0 {
		res.EndedAt = time.Now().Unix()
	}
	if res.StartedAt == 0 {
		res.StartedAt = res.EndedAt
	}
	if res.Reason == "" {
		res.Reason = "finished"
	}
	resultsJSON, err := model.EncodeResults(d.Players, res.Results)
	if err != nil {
		resultsJSON = "{}"
	}
	if _, err := s.repo.CreateMatchLog(ctx, store.NewMatchLog{
		RoomID:         roomID,
		GameRef:        d.GameRef,
		GameVersionRef: d.GameVersionID,
		StartedAt:      res.StartedAt,
		EndedAt:        res.EndedAt,
		Reason:         res.Reason,
		WinnerPlayerID: res.Winner,
		ResultsJSON:    resultsJSON,
	}); err != nil {
		s.log.Error("appending late match log", "roomId", roomID, "err", err)
	}
}

// terminate escalates SIGTERM→SIGKILL with a bounded wait. exited is closed
// by the supervisor once Wait returns; nil means nobody is waiting yet and
// the kill is fire-and-forget.
func terminate(cmd *exec.Cmd, exited chan struct{}, log *slog.Logger) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-exitedOrNil(exited):
		return
	default:
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	if exited == nil {
		return
	}
	select {
	case <-exited:
		return
	case <-time.After(termEscalation):
	}
	log.Warn("game server ignored SIGTERM, killing", "pid", cmd.Process.Pid)
	_ = cmd.Process.Kill()
	select {
	case <-exited:
	case <-time.After(termEscalation):
	}
}

func exitedOrNil(exited chan struct{}) chan struct{} {
	if exited == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return exited
}

// postResult handles the unauthenticated finish callback from a spawned
// game server (or anything else that knows the room id). When the optional
// token field is supplied it must match the live match's token.
func (s *session) postResult(ctx context.Context, data json.RawMessage) error {
	var res matchResult
	if err := json.Unmarshal(data, &res); err != nil || res.RoomID <= 0 {
		return s.conn.SendErr(protocol.CodeBadRoomID, nil)
	}
	if _, err := s.srv.repo.GetRoom(ctx, res.RoomID); err != nil {
		return s.conn.SendErr(roomCode(err), nil)
	}
	if res.Token != "" {
		lr := s.srv.rooms.get(res.RoomID)
		lr.mu.Lock()
		mismatch := lr.playing && res.Token != lr.token
		lr.mu.Unlock()
		if mismatch {
			return s.conn.SendErr(protocol.CodeBadToken, nil)
		}
	}
	s.srv.finalize(ctx, res.RoomID, res, true, nil)
	return s.conn.SendOK(nil)
}
