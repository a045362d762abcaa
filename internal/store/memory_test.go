package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian0520/gamestore/internal/model"
)

// seedGame registers a developer and publishes one game with one version.
func seedGame(t *testing.T, m *Memory, gameID string) (devID, gameRef, versionID int64) {
	t.Helper()
	ctx := context.Background()

	dev, err := m.RegisterDev(ctx, "dev-"+gameID, "secret")
	require.NoError(t, err)

	gameRef, err = m.CreateGame(ctx, NewGame{
		GameID:      gameID,
		Name:        "Game " + gameID,
		Description: "test title",
		DeveloperID: dev.ID,
	})
	require.NoError(t, err)

	versionID, err = m.CreateVersion(ctx, NewVersion{
		GameRef:    gameRef,
		Version:    "1.0.0",
		ClientType: "terminal",
		MinPlayers: 2,
		MaxPlayers: 4,
	})
	require.NoError(t, err)
	return dev.ID, gameRef, versionID
}

func TestMemoryAccounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t.Run("register and login", func(t *testing.T) {
		acc, err := m.RegisterDev(ctx, "alice", "pw")
		require.NoError(t, err)
		assert.NotZero(t, acc.ID)

		got, err := m.LoginDev(ctx, "alice", "pw")
		require.NoError(t, err)
		assert.Equal(t, acc.ID, got.ID)
		assert.NotZero(t, got.LastLoginAt)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := m.RegisterDev(ctx, "alice", "other")
		assert.ErrorIs(t, err, ErrUsernameExists)
	})

	t.Run("wrong password and unknown user both map to bad_credentials", func(t *testing.T) {
		_, err := m.LoginDev(ctx, "alice", "nope")
		assert.ErrorIs(t, err, ErrBadCredentials)
		_, err = m.LoginDev(ctx, "nobody", "pw")
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := m.RegisterDev(ctx, "  ", "pw")
		assert.ErrorIs(t, err, ErrMissingFields)
		_, err = m.LoginDev(ctx, "alice", "")
		assert.ErrorIs(t, err, ErrMissingFields)
	})

	t.Run("namespaces are independent", func(t *testing.T) {
		_, err := m.RegisterPlayer(ctx, "alice", "pw")
		require.NoError(t, err)
		_, err = m.GetPlayerByUsername(ctx, "alice")
		require.NoError(t, err)
	})
}

func TestMemoryGames(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	devID, _, _ := seedGame(t, m, "tetris")

	t.Run("duplicate game_id", func(t *testing.T) {
		_, err := m.CreateGame(ctx, NewGame{GameID: "tetris", Name: "x", Description: "y", DeveloperID: devID})
		assert.ErrorIs(t, err, ErrGameExists)
	})

	t.Run("delist requires owner", func(t *testing.T) {
		err := m.SetDelisted(ctx, "tetris", true, devID+999)
		assert.ErrorIs(t, err, ErrNotOwner)

		require.NoError(t, m.SetDelisted(ctx, "tetris", true, devID))
		games, err := m.ListPublicGames(ctx)
		require.NoError(t, err)
		assert.Empty(t, games)

		// Delisted games stay visible to their developer.
		mine, err := m.ListGamesByDeveloper(ctx, devID)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.True(t, mine[0].Delisted)
	})

	t.Run("delisted blocks version access but not metadata", func(t *testing.T) {
		_, err := m.GetVersion(ctx, "tetris", "1.0.0")
		assert.ErrorIs(t, err, ErrGameDelisted)
		_, err = m.LatestVersion(ctx, "tetris")
		assert.ErrorIs(t, err, ErrGameDelisted)

		_, err = m.GetGameByGameID(ctx, "tetris")
		assert.NoError(t, err)

		require.NoError(t, m.SetDelisted(ctx, "tetris", false, devID))
		v, err := m.GetVersion(ctx, "tetris", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", v.Version)
	})
}

func TestMemoryVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, gameRef, _ := seedGame(t, m, "pong")

	t.Run("duplicate version", func(t *testing.T) {
		_, err := m.CreateVersion(ctx, NewVersion{GameRef: gameRef, Version: "1.0.0"})
		assert.ErrorIs(t, err, ErrVersionExists)
	})

	t.Run("latest prefers newest upload", func(t *testing.T) {
		_, err := m.CreateVersion(ctx, NewVersion{GameRef: gameRef, Version: "1.1.0"})
		require.NoError(t, err)

		latest, err := m.LatestVersion(ctx, "pong")
		require.NoError(t, err)
		assert.Equal(t, "1.1.0", latest.Version)

		versions, err := m.ListVersions(ctx, "pong")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, "1.1.0", versions[0].Version)
	})

	t.Run("unknown version vs no versions", func(t *testing.T) {
		_, err := m.GetVersion(ctx, "pong", "9.9.9")
		assert.ErrorIs(t, err, ErrNoSuchVersion)

		dev, err := m.RegisterDev(ctx, "emptydev", "pw")
		require.NoError(t, err)
		_, err = m.CreateGame(ctx, NewGame{GameID: "empty", Name: "Empty", Description: "d", DeveloperID: dev.ID})
		require.NoError(t, err)
		_, err = m.LatestVersion(ctx, "empty")
		assert.ErrorIs(t, err, ErrNoVersion)
	})
}

func TestMemoryReviews(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedGame(t, m, "chess")

	player, err := m.RegisterPlayer(ctx, "bob", "pw")
	require.NoError(t, err)

	t.Run("rating bounds", func(t *testing.T) {
		assert.ErrorIs(t, m.UpsertReview(ctx, "chess", player.ID, 0, ""), ErrBadRequest)
		assert.ErrorIs(t, m.UpsertReview(ctx, "chess", player.ID, 6, ""), ErrBadRequest)
	})

	t.Run("upsert replaces instead of duplicating", func(t *testing.T) {
		require.NoError(t, m.UpsertReview(ctx, "chess", player.ID, 3, "ok"))
		require.NoError(t, m.UpsertReview(ctx, "chess", player.ID, 5, "great"))

		reviews, err := m.ListReviews(ctx, "chess")
		require.NoError(t, err)
		require.Len(t, reviews, 1)
		assert.Equal(t, 5, reviews[0].Rating)
		assert.Equal(t, "great", reviews[0].Comment)
	})
}

func TestMemoryRooms(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, gameRef, versionID := seedGame(t, m, "rps")

	host, err := m.RegisterPlayer(ctx, "host", "pw")
	require.NoError(t, err)
	guest, err := m.RegisterPlayer(ctx, "guest", "pw")
	require.NoError(t, err)

	roomID, err := m.CreateRoom(ctx, host.ID, gameRef, versionID)
	require.NoError(t, err)

	t.Run("host joins on create", func(t *testing.T) {
		d, err := m.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, model.RoomWaiting, d.Status)
		assert.Equal(t, []int64{host.ID}, d.Players)
		assert.Equal(t, 2, d.MinPlayers)
	})

	t.Run("join order survives and add is idempotent", func(t *testing.T) {
		require.NoError(t, m.AddMember(ctx, roomID, guest.ID))
		require.NoError(t, m.AddMember(ctx, roomID, guest.ID))

		d, err := m.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, []int64{host.ID, guest.ID}, d.Players)
	})

	t.Run("delete refuses a populated room", func(t *testing.T) {
		assert.ErrorIs(t, m.DeleteRoomIfEmpty(ctx, roomID), ErrNotEmpty)

		require.NoError(t, m.RemoveMember(ctx, roomID, host.ID))
		require.NoError(t, m.RemoveMember(ctx, roomID, guest.ID))
		require.NoError(t, m.DeleteRoomIfEmpty(ctx, roomID))

		_, err := m.GetRoom(ctx, roomID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("playing flag per game", func(t *testing.T) {
		id, err := m.CreateRoom(ctx, host.ID, gameRef, versionID)
		require.NoError(t, err)

		playing, err := m.HasPlayingForGame(ctx, "rps")
		require.NoError(t, err)
		assert.False(t, playing)

		require.NoError(t, m.SetRoomStatus(ctx, id, model.RoomPlaying))
		playing, err = m.HasPlayingForGame(ctx, "rps")
		require.NoError(t, err)
		assert.True(t, playing)
	})
}

func TestMemoryMatchLogs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, gameRef, versionID := seedGame(t, m, "go9x9")

	results, err := model.EncodeResults([]int64{7, 8}, nil)
	require.NoError(t, err)

	id, err := m.CreateMatchLog(ctx, NewMatchLog{
		RoomID:         1,
		GameRef:        gameRef,
		GameVersionRef: versionID,
		StartedAt:      100,
		EndedAt:        200,
		Reason:         "finished",
		WinnerPlayerID: 7,
		ResultsJSON:    results,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	t.Run("participants drive played checks", func(t *testing.T) {
		played, err := m.HasPlayerPlayed(ctx, "go9x9", 7)
		require.NoError(t, err)
		assert.True(t, played)

		played, err = m.HasPlayerPlayed(ctx, "go9x9", 9)
		require.NoError(t, err)
		assert.False(t, played)
	})

	t.Run("history joins game and version", func(t *testing.T) {
		logs, err := m.ListMatchesByPlayer(ctx, 8)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "go9x9", logs[0].GameID)
		assert.Equal(t, "1.0.0", logs[0].Version)
		assert.Equal(t, "finished", logs[0].Reason)
	})

	t.Run("no history for outsiders", func(t *testing.T) {
		logs, err := m.ListMatchesByPlayer(ctx, 999)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}
