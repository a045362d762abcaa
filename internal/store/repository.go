// Package store implements the record-store service: the sole owner of the
// platform's persistent records, exposed to the developer and lobby services
// as a length-prefixed JSON RPC over TCP.
package store

import (
	"context"

	"github.com/Ian0520/gamestore/internal/model"
)

// NewGame carries the fields for Game.create.
type NewGame struct {
	GameID      string `json:"gameId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DeveloperID int64  `json:"developerId"`
}

// NewVersion carries the fields for GameVersion.create.
type NewVersion struct {
	GameRef       int64  `json:"gameDbId"`
	Version       string `json:"version"`
	Changelog     string `json:"changelog"`
	FileName      string `json:"fileName"`
	SizeBytes     int64  `json:"sizeBytes"`
	SHA256        string `json:"sha256"`
	ZipPath       string `json:"zipPath"`
	ExtractedPath string `json:"extractedPath"`
	ManifestJSON  string `json:"manifestJson"`
	ClientType    string `json:"clientType"`
	MinPlayers    int    `json:"minPlayers"`
	MaxPlayers    int    `json:"maxPlayers"`
}

// NewMatchLog carries the fields for MatchLog.create.
type NewMatchLog struct {
	RoomID         int64  `json:"roomId"`
	GameRef        int64  `json:"gameDbId"`
	GameVersionRef int64  `json:"gameVersionId"`
	StartedAt      int64  `json:"startedAt"`
	EndedAt        int64  `json:"endedAt"`
	Reason         string `json:"reason"`
	WinnerPlayerID int64  `json:"winnerPlayerId,omitempty"`
	ResultsJSON    string `json:"resultsJson"`
}

// Repository is the full set of record operations the platform depends on.
// Two implementations exist: Postgres (authoritative) and Memory (tests and
// the memory driver). Client implements it as well, over the store RPC, so
// the developer and lobby services are indifferent to whether the store is
// local or remote.
type Repository interface {
	// DevUser
	RegisterDev(ctx context.Context, username, password string) (*model.Account, error)
	LoginDev(ctx context.Context, username, password string) (*model.Account, error)
	GetDevByUsername(ctx context.Context, username string) (*model.Account, error)
	GetDevByID(ctx context.Context, id int64) (*model.Account, error)

	// PlayerUser
	RegisterPlayer(ctx context.Context, username, password string) (*model.Account, error)
	LoginPlayer(ctx context.Context, username, password string) (*model.Account, error)
	GetPlayerByUsername(ctx context.Context, username string) (*model.Account, error)

	// Game
	CreateGame(ctx context.Context, p NewGame) (int64, error)
	GetGameByGameID(ctx context.Context, gameID string) (*model.Game, error)
	ListPublicGames(ctx context.Context) ([]model.Game, error)
	ListGamesByDeveloper(ctx context.Context, developerID int64) ([]model.Game, error)
	SetDelisted(ctx context.Context, gameID string, delisted bool, developerID int64) error

	// GameVersion
	CreateVersion(ctx context.Context, p NewVersion) (int64, error)
	ListVersions(ctx context.Context, gameID string) ([]model.GameVersion, error)
	GetVersion(ctx context.Context, gameID, version string) (*model.GameVersion, error)
	LatestVersion(ctx context.Context, gameID string) (*model.GameVersion, error)
	GetVersionByID(ctx context.Context, id int64) (*model.GameVersion, error)

	// Review
	UpsertReview(ctx context.Context, gameID string, playerID int64, rating int, comment string) error
	ListReviews(ctx context.Context, gameID string) ([]model.Review, error)

	// Room
	CreateRoom(ctx context.Context, hostPlayerID, gameRef, gameVersionRef int64) (int64, error)
	GetRoom(ctx context.Context, roomID int64) (*model.RoomDetail, error)
	ListRooms(ctx context.Context) ([]model.RoomSummary, error)
	AddMember(ctx context.Context, roomID, playerID int64) error
	RemoveMember(ctx context.Context, roomID, playerID int64) error
	SetHost(ctx context.Context, roomID, hostPlayerID int64) error
	SetRoomStatus(ctx context.Context, roomID int64, status string) error
	DeleteRoomIfEmpty(ctx context.Context, roomID int64) error
	HasPlayingForGame(ctx context.Context, gameID string) (bool, error)

	// MatchLog
	CreateMatchLog(ctx context.Context, p NewMatchLog) (int64, error)
	HasPlayerPlayed(ctx context.Context, gameID string, playerID int64) (bool, error)
	ListMatchesByPlayer(ctx context.Context, playerID int64) ([]model.MatchLogEntry, error)
}
