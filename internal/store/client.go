package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
)

// callTimeout bounds one dial+request+reply exchange with the store.
const callTimeout = 5 * time.Second

// Client is the Repository implementation the developer and lobby services
// use: each call dials the store, performs one framed exchange, and closes.
// ERR replies come back as store.Error carrying the wire code, so callers
// handle remote failures exactly as they would local ones.
type Client struct {
	addr string
}

// NewClient returns a store client for addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) call(ctx context.Context, collection, action string, payload any) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s.%s request: %w", collection, action, err)
		}
		data = raw
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dialing store: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := Request{Collection: collection, Action: action, Data: data}
	if err := protocol.WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("sending %s.%s: %w", collection, action, err)
	}
	var reply Reply
	if err := protocol.ReadMessage(conn, &reply); err != nil {
		return nil, fmt.Errorf("reading %s.%s reply: %w", collection, action, err)
	}
	if reply.Status != statusOK {
		return nil, Error(reply.Error)
	}
	return &reply, nil
}

func callData[T any](c *Client, ctx context.Context, collection, action string, payload any) (*T, error) {
	reply, err := c.call(ctx, collection, action, payload)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(reply.Data, &out); err != nil {
		return nil, fmt.Errorf("decoding %s.%s reply: %w", collection, action, err)
	}
	return &out, nil
}

// ---- accounts ----

func (c *Client) auth(ctx context.Context, collection, action, username, password string) (*model.Account, error) {
	out, err := callData[authData](c, ctx, collection, action, credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	id := out.DeveloperID
	if collection == "PlayerUser" {
		id = out.PlayerID
	}
	return &model.Account{ID: id, Username: out.Username}, nil
}

func (c *Client) RegisterDev(ctx context.Context, username, password string) (*model.Account, error) {
	return c.auth(ctx, "DevUser", "register", username, password)
}

func (c *Client) LoginDev(ctx context.Context, username, password string) (*model.Account, error) {
	return c.auth(ctx, "DevUser", "login", username, password)
}

func (c *Client) GetDevByUsername(ctx context.Context, username string) (*model.Account, error) {
	return callData[model.Account](c, ctx, "DevUser", "get_by_username", byUsername{Username: username})
}

func (c *Client) GetDevByID(ctx context.Context, id int64) (*model.Account, error) {
	return callData[model.Account](c, ctx, "DevUser", "get_by_id", byDeveloperID{DeveloperID: id})
}

func (c *Client) RegisterPlayer(ctx context.Context, username, password string) (*model.Account, error) {
	return c.auth(ctx, "PlayerUser", "register", username, password)
}

func (c *Client) LoginPlayer(ctx context.Context, username, password string) (*model.Account, error) {
	return c.auth(ctx, "PlayerUser", "login", username, password)
}

func (c *Client) GetPlayerByUsername(ctx context.Context, username string) (*model.Account, error) {
	return callData[model.Account](c, ctx, "PlayerUser", "get_by_username", byUsername{Username: username})
}

// ---- games ----

func (c *Client) CreateGame(ctx context.Context, p NewGame) (int64, error) {
	out, err := callData[gameCreated](c, ctx, "Game", "create", p)
	if err != nil {
		return 0, err
	}
	return out.GameDbID, nil
}

func (c *Client) GetGameByGameID(ctx context.Context, gameID string) (*model.Game, error) {
	return callData[model.Game](c, ctx, "Game", "get_by_gameId", byGameID{GameID: gameID})
}

func (c *Client) ListPublicGames(ctx context.Context) ([]model.Game, error) {
	reply, err := c.call(ctx, "Game", "list_public", nil)
	if err != nil {
		return nil, err
	}
	return reply.Games, nil
}

func (c *Client) ListGamesByDeveloper(ctx context.Context, developerID int64) ([]model.Game, error) {
	reply, err := c.call(ctx, "Game", "list_by_dev", byDeveloperID{DeveloperID: developerID})
	if err != nil {
		return nil, err
	}
	return reply.Games, nil
}

func (c *Client) SetDelisted(ctx context.Context, gameID string, delisted bool, developerID int64) error {
	_, err := c.call(ctx, "Game", "set_delisted", delistParams{GameID: gameID, Delisted: delisted, DeveloperID: developerID})
	return err
}

// ---- versions ----

func (c *Client) CreateVersion(ctx context.Context, p NewVersion) (int64, error) {
	out, err := callData[versionCreated](c, ctx, "GameVersion", "create", p)
	if err != nil {
		return 0, err
	}
	return out.GameVersionID, nil
}

func (c *Client) ListVersions(ctx context.Context, gameID string) ([]model.GameVersion, error) {
	reply, err := c.call(ctx, "GameVersion", "list_for_gameId", byGameID{GameID: gameID})
	if err != nil {
		return nil, err
	}
	return reply.Versions, nil
}

func (c *Client) GetVersion(ctx context.Context, gameID, version string) (*model.GameVersion, error) {
	return callData[model.GameVersion](c, ctx, "GameVersion", "get_for_gameId_version", gameIDVersion{GameID: gameID, Version: version})
}

func (c *Client) LatestVersion(ctx context.Context, gameID string) (*model.GameVersion, error) {
	return callData[model.GameVersion](c, ctx, "GameVersion", "latest_for_gameId", byGameID{GameID: gameID})
}

func (c *Client) GetVersionByID(ctx context.Context, id int64) (*model.GameVersion, error) {
	return callData[model.GameVersion](c, ctx, "GameVersion", "get_by_id", byVersionID{GameVersionID: id})
}

// ---- reviews ----

func (c *Client) UpsertReview(ctx context.Context, gameID string, playerID int64, rating int, comment string) error {
	_, err := c.call(ctx, "Review", "upsert", reviewParams{GameID: gameID, PlayerID: playerID, Rating: rating, Comment: comment})
	return err
}

func (c *Client) ListReviews(ctx context.Context, gameID string) ([]model.Review, error) {
	reply, err := c.call(ctx, "Review", "list_for_gameId", byGameID{GameID: gameID})
	if err != nil {
		return nil, err
	}
	return reply.Reviews, nil
}

// ---- rooms ----

func (c *Client) CreateRoom(ctx context.Context, hostPlayerID, gameRef, gameVersionRef int64) (int64, error) {
	out, err := callData[roomCreated](c, ctx, "Room", "create", newRoomParams{
		HostPlayerID:  hostPlayerID,
		GameRef:       gameRef,
		GameVersionID: gameVersionRef,
	})
	if err != nil {
		return 0, err
	}
	return out.RoomID, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID int64) (*model.RoomDetail, error) {
	return callData[model.RoomDetail](c, ctx, "Room", "get", byRoomID{RoomID: roomID})
}

func (c *Client) ListRooms(ctx context.Context) ([]model.RoomSummary, error) {
	reply, err := c.call(ctx, "Room", "list", nil)
	if err != nil {
		return nil, err
	}
	return reply.Rooms, nil
}

func (c *Client) AddMember(ctx context.Context, roomID, playerID int64) error {
	_, err := c.call(ctx, "Room", "add_member", roomMemberParams{RoomID: roomID, PlayerID: playerID})
	return err
}

func (c *Client) RemoveMember(ctx context.Context, roomID, playerID int64) error {
	_, err := c.call(ctx, "Room", "remove_member", roomMemberParams{RoomID: roomID, PlayerID: playerID})
	return err
}

func (c *Client) SetHost(ctx context.Context, roomID, hostPlayerID int64) error {
	_, err := c.call(ctx, "Room", "set_host", setHostParams{RoomID: roomID, HostPlayerID: hostPlayerID})
	return err
}

func (c *Client) SetRoomStatus(ctx context.Context, roomID int64, status string) error {
	_, err := c.call(ctx, "Room", "set_status", setStatusParams{RoomID: roomID, Status: status})
	return err
}

func (c *Client) DeleteRoomIfEmpty(ctx context.Context, roomID int64) error {
	_, err := c.call(ctx, "Room", "delete_if_empty", byRoomID{RoomID: roomID})
	return err
}

func (c *Client) HasPlayingForGame(ctx context.Context, gameID string) (bool, error) {
	out, err := callData[playingFlag](c, ctx, "Room", "has_playing_for_gameId", byGameID{GameID: gameID})
	if err != nil {
		return false, err
	}
	return out.Playing, nil
}

// ---- match logs ----

func (c *Client) CreateMatchLog(ctx context.Context, p NewMatchLog) (int64, error) {
	out, err := callData[matchLogCreated](c, ctx, "MatchLog", "create", p)
	if err != nil {
		return 0, err
	}
	return out.MatchLogID, nil
}

func (c *Client) HasPlayerPlayed(ctx context.Context, gameID string, playerID int64) (bool, error) {
	out, err := callData[playedFlag](c, ctx, "MatchLog", "has_player_played", playedParams{GameID: gameID, PlayerID: playerID})
	if err != nil {
		return false, err
	}
	return out.Played, nil
}

func (c *Client) ListMatchesByPlayer(ctx context.Context, playerID int64) ([]model.MatchLogEntry, error) {
	reply, err := c.call(ctx, "MatchLog", "list_by_player", byPlayerID{PlayerID: playerID})
	if err != nil {
		return nil, err
	}
	return reply.Logs, nil
}

var _ Repository = (*Client)(nil)
var _ Repository = (*Memory)(nil)
var _ Repository = (*Postgres)(nil)
