package lobby

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian0520/gamestore/internal/config"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
	"github.com/Ian0520/gamestore/internal/testutil"
)

type lobbyFixture struct {
	repo *store.Memory
	srv  *Server
	addr string
}

func startLobby(t *testing.T) *lobbyFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := store.NewMemory()
	cfg := config.LobbyServer{
		BindHost:       "127.0.0.1",
		Port:           0,
		InternalHost:   "127.0.0.1",
		GameHostPublic: "127.0.0.1",
		RunRoot:        t.TempDir(),
		GamePortMin:    36000,
		GamePortMax:    36063,
	}
	srv := New(cfg, repo, testutil.Logger(t))
	go func() {
		_ = srv.Listen(ctx)
	}()
	require.Eventually(t, func() bool { return srv.Addr() != nil },
		2*time.Second, 10*time.Millisecond, "lobby service never bound")

	return &lobbyFixture{repo: repo, srv: srv, addr: srv.Addr().String()}
}

// player registers and logs in a fresh connection, returning it with the
// assigned player id.
func (f *lobbyFixture) player(t *testing.T, username string) (*testutil.ServiceClient, int64) {
	t.Helper()
	c := testutil.Connect(t, f.addr)
	c.CallOK("player_register", map[string]any{"username": username, "password": "pw-" + username})
	reply := c.CallOK("player_login", map[string]any{"username": username, "password": "pw-" + username})
	return c, asInt(reply["playerId"])
}

// seedServedGame publishes one version of a game whose server entrypoint is a
// shell script, so room_start spawns a real child process.
func seedServedGame(t *testing.T, repo *store.Memory, gameID, script string, minPlayers, maxPlayers int) {
	t.Helper()
	ctx := context.Background()
	dev, err := repo.RegisterDev(ctx, "dev-"+gameID, "p")
	require.NoError(t, err)
	gameRef, err := repo.CreateGame(ctx, store.NewGame{
		GameID: gameID, Name: "Game " + gameID, Description: "seeded", DeveloperID: dev.ID,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.sh"), []byte(script), 0o755))

	mj := fmt.Sprintf(`{
		"gameId": %q, "name": "Game", "version": "1.0.0",
		"developer": "dev", "description": "seeded",
		"clientType": "cli", "minPlayers": %d, "maxPlayers": %d,
		"entrypoints": {
			"server": {"module": "server.sh", "argv": ["/bin/sh", "server.sh", "{port}", "{token}"]},
			"client": {"module": "client.sh", "argv": ["/bin/sh", "client.sh", "{host}", "{port}"]}
		}
	}`, gameID, minPlayers, maxPlayers)
	_, err = repo.CreateVersion(ctx, store.NewVersion{
		GameRef: gameRef, Version: "1.0.0", FileName: "pkg.zip",
		ManifestJSON: mj, ExtractedPath: dir,
		ClientType: "cli", MinPlayers: minPlayers, MaxPlayers: maxPlayers,
	})
	require.NoError(t, err)
}

func asInt(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func evData(t testing.TB, ev map[string]any) map[string]any {
	t.Helper()
	d, ok := ev["data"].(map[string]any)
	require.True(t, ok, "event without data: %v", ev)
	return d
}

func TestPlayerAuth(t *testing.T) {
	f := startLobby(t)

	t.Run("authenticated ops require login", func(t *testing.T) {
		c := testutil.Connect(t, f.addr)
		c.CallErr(protocol.CodeNotLoggedIn, "room_list", nil)
		c.CallErr(protocol.CodeNotLoggedIn, "store_list_games", nil)
		c.Close()
	})

	alice, _ := f.player(t, "alice")

	t.Run("duplicate username", func(t *testing.T) {
		c := testutil.Connect(t, f.addr)
		c.CallErr(protocol.CodeUsernameExists, "player_register",
			map[string]any{"username": "alice", "password": "other"})
		c.CallErr(protocol.CodeBadCredentials, "player_login",
			map[string]any{"username": "alice", "password": "wrong"})
		c.Close()
	})

	t.Run("single login per player", func(t *testing.T) {
		c := testutil.Connect(t, f.addr)
		c.CallErr(protocol.CodeAlreadyOnline, "player_login",
			map[string]any{"username": "alice", "password": "pw-alice"})

		// Logging out on the first socket frees the slot.
		alice.CallOK("player_logout", nil)
		c.CallOK("player_login", map[string]any{"username": "alice", "password": "pw-alice"})
		c.CallOK("player_logout", nil)
	})

	t.Run("player_list shows who is online", func(t *testing.T) {
		c, bobID := f.player(t, "bob")
		reply := c.CallOK("player_list", nil)
		players, ok := reply["players"].([]any)
		require.True(t, ok)
		require.Len(t, players, 1)

		row := players[0].(map[string]any)
		assert.Equal(t, float64(bobID), row["playerId"])
		assert.Equal(t, "bob", row["username"])
		assert.Nil(t, row["roomId"])
		assert.Nil(t, row["roomStatus"])
		assert.Nil(t, row["gameId"])
		assert.Nil(t, row["version"])
	})

	t.Run("unknown type", func(t *testing.T) {
		c, _ := f.player(t, "carol")
		c.CallErr(protocol.CodeUnknownType, "explode", nil)
	})
}

func TestRoomLifecycle(t *testing.T) {
	f := startLobby(t)
	seedServedGame(t, f.repo, "duel", "exec sleep 30\n", 2, 2)

	alice, aliceID := f.player(t, "alice")
	bob, bobID := f.player(t, "bob")
	carol, _ := f.player(t, "carol")

	alice.CallErr(protocol.CodeNoSuchGame, "room_create", map[string]any{"gameId": "ghost"})

	reply := alice.CallOK("room_create", map[string]any{"gameId": "duel"})
	roomID := asInt(reply["roomId"])
	require.NotZero(t, roomID)
	assert.Equal(t, "1.0.0", reply["version"])

	t.Run("creator cannot join a second room", func(t *testing.T) {
		alice.CallErr(protocol.CodeAlreadyInRoom, "room_create", map[string]any{"gameId": "duel"})
	})

	t.Run("join fills the room and notifies members", func(t *testing.T) {
		reply := bob.CallOK("room_join", map[string]any{"roomId": roomID})
		assert.Equal(t, []any{float64(aliceID), float64(bobID)}, reply["players"])
		assert.Equal(t, float64(aliceID), reply["hostId"])

		ev := alice.WaitEvent("player_joined")
		assert.Equal(t, float64(bobID), evData(t, ev)["playerId"])
		assert.Equal(t, "bob", evData(t, ev)["username"])

		// Re-joining the same room is idempotent.
		bob.CallOK("room_join", map[string]any{"roomId": roomID})

		carol.CallErr(protocol.CodeRoomFull, "room_join", map[string]any{"roomId": roomID})
	})

	t.Run("player_list reflects room membership", func(t *testing.T) {
		reply := carol.CallOK("player_list", nil)
		players, ok := reply["players"].([]any)
		require.True(t, ok)
		require.Len(t, players, 3)

		// Sorted by playerId: registration order.
		first := players[0].(map[string]any)
		assert.Equal(t, float64(aliceID), first["playerId"])

		byName := make(map[string]map[string]any)
		for _, p := range players {
			row := p.(map[string]any)
			byName[row["username"].(string)] = row
		}
		assert.Equal(t, float64(roomID), byName["alice"]["roomId"])
		assert.Equal(t, "waiting", byName["alice"]["roomStatus"])
		assert.Equal(t, "duel", byName["alice"]["gameId"])
		assert.Equal(t, "1.0.0", byName["alice"]["version"])
		assert.Equal(t, float64(roomID), byName["bob"]["roomId"])
		assert.Nil(t, byName["carol"]["roomId"])
	})

	t.Run("room_list and room_detail agree", func(t *testing.T) {
		reply := carol.CallOK("room_list", nil)
		assert.Len(t, reply["rooms"], 1)

		detail := carol.CallOK("room_detail", map[string]any{"roomId": roomID})
		assert.Equal(t, "duel", detail["gameId"])
		assert.Equal(t, "waiting", detail["status"])
		assert.Equal(t, float64(2), detail["maxPlayers"])
	})

	t.Run("host leave promotes the earliest joiner", func(t *testing.T) {
		alice.CallOK("room_leave", nil)

		ev := bob.WaitEvent("host_changed")
		assert.Equal(t, float64(bobID), evData(t, ev)["hostId"])
		ev = bob.WaitEvent("player_left")
		assert.Equal(t, float64(aliceID), evData(t, ev)["playerId"])

		detail := bob.CallOK("room_detail", map[string]any{"roomId": roomID})
		assert.Equal(t, float64(bobID), detail["hostId"])
		assert.Equal(t, []any{float64(bobID)}, detail["players"])
	})

	t.Run("last leaver deletes the room", func(t *testing.T) {
		bob.CallOK("room_leave", nil)
		bob.CallErr(protocol.CodeNoSuchRoom, "room_detail", map[string]any{"roomId": roomID})
		reply := bob.CallOK("room_list", nil)
		assert.Empty(t, reply["rooms"])
	})

	t.Run("leave while not in a room", func(t *testing.T) {
		carol.CallErr(protocol.CodeNoSuchRoom, "room_leave", nil)
		carol.CallErr(protocol.CodeNoSuchRoom, "room_join", map[string]any{"roomId": 99999})
	})

	t.Run("delisted games cannot host new rooms", func(t *testing.T) {
		g, err := f.repo.GetGameByGameID(context.Background(), "duel")
		require.NoError(t, err)
		require.NoError(t, f.repo.SetDelisted(context.Background(), "duel", true, g.DeveloperID))
		carol.CallErr(protocol.CodeGameDelisted, "room_create", map[string]any{"gameId": "duel"})
	})
}
