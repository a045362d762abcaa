package model

import "encoding/json"

// Account is a registered user in either the developer or the player
// namespace. The two namespaces are independent: the same username may exist
// in both.
type Account struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	CreatedAt   int64  `json:"createdAt"`
	LastLoginAt int64  `json:"lastLoginAt"`
}

// Game is a published title. Never deleted; visibility is the soft Delisted
// toggle. DeveloperID is immutable after creation.
type Game struct {
	ID          int64  `json:"id"`
	GameID      string `json:"gameId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DeveloperID int64  `json:"developerId"`
	Delisted    bool   `json:"delisted"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// GameVersion is one immutable release of a Game. ZipPath and ExtractedPath
// are local paths on the upload host, visible to the lobby for downloads and
// match spawning.
type GameVersion struct {
	ID            int64  `json:"id"`
	GameRef       int64  `json:"gameRef"`
	Version       string `json:"version"`
	Changelog     string `json:"changelog"`
	UploadedAt    int64  `json:"uploadedAt"`
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

// Review is one player's rating of a game, upserted on (GameRef, PlayerID).
type Review struct {
	ID        int64  `json:"id"`
	GameRef   int64  `json:"gameRef"`
	PlayerID  int64  `json:"playerId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Room statuses.
const (
	RoomWaiting = "waiting"
	RoomPlaying = "playing"
)

// RoomSummary is the joined row returned by Room.list.
type RoomSummary struct {
	ID           int64   `json:"id"`
	HostPlayerID int64   `json:"hostPlayerId"`
	Status       string  `json:"status"`
	CreatedAt    int64   `json:"createdAt"`
	UpdatedAt    int64   `json:"updatedAt"`
	GameID       string  `json:"gameId"`
	GameName     string  `json:"gameName"`
	Version      string  `json:"version"`
	Players      []int64 `json:"players"`
}

// RoomDetail is the joined row returned by Room.get. Players is ordered by
// join time, which is what host succession relies on.
type RoomDetail struct {
	ID            int64   `json:"id"`
	HostPlayerID  int64   `json:"hostPlayerId"`
	Status        string  `json:"status"`
	CreatedAt     int64   `json:"createdAt"`
	UpdatedAt     int64   `json:"updatedAt"`
	GameRef       int64   `json:"gameDbId"`
	GameID        string  `json:"gameId"`
	GameName      string  `json:"gameName"`
	Delisted      bool    `json:"delisted"`
	GameVersionID int64   `json:"gameVersionId"`
	Version       string  `json:"version"`
	ClientType    string  `json:"clientType"`
	MinPlayers    int     `json:"minPlayers"`
	MaxPlayers    int     `json:"maxPlayers"`
	Players       []int64 `json:"players"`
}

// MatchLog is the append-only record of one playing excursion of a room.
type MatchLog struct {
	ID             int64  `json:"id"`
	RoomID         int64  `json:"roomId"`
	GameRef        int64  `json:"gameRef"`
	GameVersionRef int64  `json:"gameVersionRef"`
	StartedAt      int64  `json:"startedAt"`
	EndedAt        int64  `json:"endedAt"`
	Reason         string `json:"reason"`
	WinnerPlayerID int64  `json:"winnerPlayerId,omitempty"`
	ResultsJSON    string `json:"resultsJson"`
}

// MatchLogEntry is the joined row returned by MatchLog.list_by_player.
type MatchLogEntry struct {
	MatchLog
	GameID  string `json:"gameId"`
	Version string `json:"version"`
}

// Participant marks one player inside a results envelope.
type Participant struct {
	UserID int64 `json:"userId"`
}

// ResultsEnvelope is what the lobby persists as MatchLog.ResultsJSON. It
// always carries the participant list; Results is whatever the game reported.
type ResultsEnvelope struct {
	Players []Participant   `json:"players"`
	Results json.RawMessage `json:"results"`
}

// EncodeResults builds the ResultsJSON envelope for the given participants.
// A nil results payload is stored as an empty list.
func EncodeResults(players []int64, results json.RawMessage) (string, error) {
	env := ResultsEnvelope{Players: make([]Participant, 0, len(players)), Results: results}
	for _, id := range players {
		env.Players = append(env.Players, Participant{UserID: id})
	}
	if len(env.Results) == 0 {
		env.Results = json.RawMessage(`[]`)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeParticipants extracts the participant ids from a stored ResultsJSON.
// Malformed envelopes yield an empty list rather than an error: the log row
// itself is still valid history.
func DecodeParticipants(resultsJSON string) []int64 {
	var env ResultsEnvelope
	if err := json.Unmarshal([]byte(resultsJSON), &env); err != nil {
		return nil
	}
	ids := make([]int64, 0, len(env.Players))
	for _, p := range env.Players {
		ids = append(ids, p.UserID)
	}
	return ids
}
