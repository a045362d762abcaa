package store

import (
	"encoding/json"

	"github.com/Ian0520/gamestore/internal/model"
)

// Request is the store RPC envelope: one frame in, one frame out.
type Request struct {
	Collection string          `json:"collection"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Reply is the store RPC response envelope. List-returning actions use their
// own top-level field, matching the per-collection reply shapes of the wire
// contract; single records travel in Data.
type Reply struct {
	Status   string                `json:"status"`
	Error    string                `json:"error,omitempty"`
	Data     json.RawMessage       `json:"data,omitempty"`
	Games    []model.Game          `json:"games,omitempty"`
	Versions []model.GameVersion   `json:"versions,omitempty"`
	Reviews  []model.Review        `json:"reviews,omitempty"`
	Rooms    []model.RoomSummary   `json:"rooms,omitempty"`
	Logs     []model.MatchLogEntry `json:"logs,omitempty"`
}

const (
	statusOK  = "OK"
	statusErr = "ERR"
)

func okReply() Reply { return Reply{Status: statusOK} }

func okData(v any) Reply {
	raw, err := json.Marshal(v)
	if err != nil {
		return errReply(err)
	}
	return Reply{Status: statusOK, Data: raw}
}

func errReply(err error) Reply {
	return Reply{Status: statusErr, Error: Code(err)}
}

// Per-action request payloads.

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authData struct {
	DeveloperID int64  `json:"developerId,omitempty"`
	PlayerID    int64  `json:"playerId,omitempty"`
	Username    string `json:"username"`
}

type byUsername struct {
	Username string `json:"username"`
}

type byDeveloperID struct {
	DeveloperID int64 `json:"developerId"`
}

type byGameID struct {
	GameID string `json:"gameId"`
}

type gameIDVersion struct {
	GameID  string `json:"gameId"`
	Version string `json:"version"`
}

type byVersionID struct {
	GameVersionID int64 `json:"gameVersionId"`
}

type delistParams struct {
	GameID      string `json:"gameId"`
	Delisted    bool   `json:"delisted"`
	DeveloperID int64  `json:"developerId"`
}

type reviewParams struct {
	GameID   string `json:"gameId"`
	PlayerID int64  `json:"playerId"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

type newRoomParams struct {
	HostPlayerID  int64 `json:"hostPlayerId"`
	GameRef       int64 `json:"gameDbId"`
	GameVersionID int64 `json:"gameVersionId"`
}

type byRoomID struct {
	RoomID int64 `json:"roomId"`
}

type roomMemberParams struct {
	RoomID   int64 `json:"roomId"`
	PlayerID int64 `json:"playerId"`
}

type setHostParams struct {
	RoomID       int64 `json:"roomId"`
	HostPlayerID int64 `json:"hostPlayerId"`
}

type setStatusParams struct {
	RoomID int64  `json:"roomId"`
	Status string `json:"status"`
}

type playedParams struct {
	GameID   string `json:"gameId"`
	PlayerID int64  `json:"playerId"`
}

type byPlayerID struct {
	PlayerID int64 `json:"playerId"`
}

// Per-action reply payloads.

type gameCreated struct {
	GameDbID int64 `json:"gameDbId"`
}

type versionCreated struct {
	GameVersionID int64 `json:"gameVersionId"`
}

type roomCreated struct {
	RoomID int64 `json:"roomId"`
}

type matchLogCreated struct {
	MatchLogID int64 `json:"matchLogId"`
}

type playingFlag struct {
	Playing bool `json:"playing"`
}

type playedFlag struct {
	Played bool `json:"played"`
}
