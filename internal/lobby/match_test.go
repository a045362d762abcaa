package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/testutil"
)

func TestMatchCycle(t *testing.T) {
	f := startLobby(t)
	ctx := context.Background()
	seedServedGame(t, f.repo, "arena", "exec sleep 30\n", 2, 4)

	alice, aliceID := f.player(t, "alice")
	bob, bobID := f.player(t, "bob")

	reply := alice.CallOK("room_create", map[string]any{"gameId": "arena"})
	roomID := asInt(reply["roomId"])

	t.Run("start guards", func(t *testing.T) {
		alice.CallErr(protocol.CodeNeedMorePlayers, "room_start", map[string]any{"roomId": roomID})
		bob.CallOK("room_join", map[string]any{"roomId": roomID})
		bob.CallErr(protocol.CodeNotHost, "room_start", map[string]any{"roomId": roomID})
	})

	alice.CallOK("room_start", map[string]any{"roomId": roomID})

	infoA := evData(t, alice.WaitEvent("game_info"))
	infoB := evData(t, bob.WaitEvent("game_info"))
	token, _ := infoA["token"].(string)

	t.Run("both members get the same endpoint", func(t *testing.T) {
		require.NotEmpty(t, token)
		assert.Equal(t, infoA["port"], infoB["port"])
		assert.Equal(t, token, infoB["token"])
		assert.Equal(t, "127.0.0.1", infoA["host"])
		assert.Equal(t, "arena", infoA["gameId"])
		assert.Equal(t, "1.0.0", infoA["version"])
	})

	t.Run("playing room rejects churn", func(t *testing.T) {
		alice.CallErr(protocol.CodeAlreadyPlaying, "room_start", map[string]any{"roomId": roomID})
		bob.CallErr(protocol.CodeRoomPlaying, "room_leave", nil)

		carol, _ := f.player(t, "carol")
		carol.CallErr(protocol.CodeRoomPlaying, "room_join", map[string]any{"roomId": roomID})
		carol.CallOK("player_logout", nil)
	})

	// Each callback opens its own connection, like a real game server would;
	// the lobby closes it after the single reply.
	t.Run("post_result validation", func(t *testing.T) {
		testutil.Connect(t, f.addr).CallErr(protocol.CodeBadRoomID, "post_result", map[string]any{"roomId": 0})
		testutil.Connect(t, f.addr).CallErr(protocol.CodeNoSuchRoom, "post_result", map[string]any{"roomId": 99999})
		testutil.Connect(t, f.addr).CallErr(protocol.CodeBadToken, "post_result", map[string]any{"roomId": roomID, "token": "forged"})
	})

	testutil.Connect(t, f.addr).CallOK("post_result", map[string]any{
		"roomId": roomID, "token": token, "reason": "finished", "winner": aliceID,
		"results": []map[string]any{{"userId": aliceID, "score": 3}, {"userId": bobID, "score": 1}},
	})

	t.Run("both members get one game_ready", func(t *testing.T) {
		for _, c := range []*testutil.ServiceClient{alice, bob} {
			ev := evData(t, c.WaitEvent("game_ready"))
			assert.Equal(t, float64(roomID), ev["roomId"])
			result, _ := ev["result"].(map[string]any)
			require.NotNil(t, result)
			assert.Equal(t, "finished", result["reason"])
			assert.Equal(t, float64(aliceID), result["winner"])
		}
	})

	t.Run("room returns to waiting with members intact", func(t *testing.T) {
		detail := alice.CallOK("room_detail", map[string]any{"roomId": roomID})
		assert.Equal(t, "waiting", detail["status"])
		assert.Equal(t, []any{float64(aliceID), float64(bobID)}, detail["players"])
	})

	t.Run("match history records both players", func(t *testing.T) {
		reply := alice.CallOK("match_list_mine", nil)
		require.Len(t, reply["matches"], 1)
		entry := reply["matches"].([]any)[0].(map[string]any)
		assert.Equal(t, "arena", entry["gameId"])
		assert.Equal(t, "finished", entry["reason"])
		assert.Equal(t, float64(aliceID), entry["winnerPlayerId"])

		played, err := f.repo.HasPlayerPlayed(ctx, "arena", bobID)
		require.NoError(t, err)
		assert.True(t, played)
	})

	t.Run("duplicate post_result appends history without a second event", func(t *testing.T) {
		testutil.Connect(t, f.addr).CallOK("post_result", map[string]any{
			"roomId": roomID, "token": token, "reason": "finished", "winner": aliceID,
		})
		time.Sleep(150 * time.Millisecond)

		logs, err := f.repo.ListMatchesByPlayer(ctx, aliceID)
		require.NoError(t, err)
		assert.Len(t, logs, 2)

		alice.CallOK("room_detail", map[string]any{"roomId": roomID})
		assert.Zero(t, alice.BufferedEvents())
		bob.CallOK("room_detail", map[string]any{"roomId": roomID})
		assert.Zero(t, bob.BufferedEvents())
	})

	t.Run("reviews open up after playing", func(t *testing.T) {
		alice.CallOK("review_create_or_update",
			map[string]any{"gameId": "arena", "rating": 5, "comment": "good"})

		dave, _ := f.player(t, "dave")
		dave.CallErr(protocol.CodeNotPlayed, "review_create_or_update",
			map[string]any{"gameId": "arena", "rating": 1, "comment": "never played"})

		detail := alice.CallOK("store_game_detail", map[string]any{"gameId": "arena"})
		assert.Len(t, detail["reviews"], 1)
	})
}

func TestProcessExitFinalizesMatch(t *testing.T) {
	f := startLobby(t)
	seedServedGame(t, f.repo, "solo", "exit 0\n", 1, 4)

	alice, _ := f.player(t, "alice")
	reply := alice.CallOK("room_create", map[string]any{"gameId": "solo"})
	roomID := asInt(reply["roomId"])

	alice.CallOK("room_start", map[string]any{"roomId": roomID})
	alice.WaitEvent("game_info")

	ev := evData(t, alice.WaitEvent("game_ready"))
	result, _ := ev["result"].(map[string]any)
	require.NotNil(t, result)
	assert.Equal(t, "process_exit", result["reason"])

	detail := alice.CallOK("room_detail", map[string]any{"roomId": roomID})
	assert.Equal(t, "waiting", detail["status"])

	history := alice.CallOK("match_list_mine", nil)
	require.Len(t, history["matches"], 1)
	entry := history["matches"].([]any)[0].(map[string]any)
	assert.Equal(t, "process_exit", entry["reason"])
}

func TestHostDisconnectFinalizesMatch(t *testing.T) {
	f := startLobby(t)
	ctx := context.Background()
	seedServedGame(t, f.repo, "fragile", "exec sleep 30\n", 2, 4)

	alice, aliceID := f.player(t, "alice")
	bob, bobID := f.player(t, "bob")

	reply := alice.CallOK("room_create", map[string]any{"gameId": "fragile"})
	roomID := asInt(reply["roomId"])
	bob.CallOK("room_join", map[string]any{"roomId": roomID})

	alice.CallOK("room_start", map[string]any{"roomId": roomID})
	alice.WaitEvent("game_info")
	bob.WaitEvent("game_info")

	alice.Close()

	ev := evData(t, bob.WaitEvent("game_ready"))
	result, _ := ev["result"].(map[string]any)
	require.NotNil(t, result)
	assert.Equal(t, "host_disconnect", result["reason"])

	t.Run("host succession after the forced leave", func(t *testing.T) {
		ev := bob.WaitEvent("host_changed")
		assert.Equal(t, float64(bobID), evData(t, ev)["hostId"])

		detail := bob.CallOK("room_detail", map[string]any{"roomId": roomID})
		assert.Equal(t, "waiting", detail["status"])
		assert.Equal(t, float64(bobID), detail["hostId"])
		assert.Equal(t, []any{float64(bobID)}, detail["players"])
	})

	t.Run("match log lists both participants", func(t *testing.T) {
		for _, id := range []int64{aliceID, bobID} {
			played, err := f.repo.HasPlayerPlayed(ctx, "fragile", id)
			require.NoError(t, err)
			assert.True(t, played, "player %d missing from match log", id)
		}
	})

	t.Run("single-login slot is released", func(t *testing.T) {
		c := testutil.Connect(t, f.addr)
		require.Eventually(t, func() bool {
			reply := c.Call("player_login", map[string]any{"username": "alice", "password": "pw-alice"})
			return reply["ok"] == true
		}, 2*time.Second, 50*time.Millisecond)
	})
}

func TestStaleWatcherCannotFinalizeNewerMatch(t *testing.T) {
	f := startLobby(t)
	ctx := context.Background()
	seedServedGame(t, f.repo, "relay", "exec sleep 30\n", 1, 4)

	alice, aliceID := f.player(t, "alice")
	reply := alice.CallOK("room_create", map[string]any{"gameId": "relay"})
	roomID := asInt(reply["roomId"])

	alice.CallOK("room_start", map[string]any{"roomId": roomID})
	info := evData(t, alice.WaitEvent("game_info"))
	token, _ := info["token"].(string)
	require.NotEmpty(t, token)

	// A watcher from an earlier match wakes up late: its exited channel no
	// longer matches the live one, so the running match is left alone.
	stale := make(chan struct{})
	close(stale)
	f.srv.finalize(ctx, roomID, matchResult{Reason: "process_exit"}, false, stale)

	detail := alice.CallOK("room_detail", map[string]any{"roomId": roomID})
	assert.Equal(t, "playing", detail["status"])
	assert.Zero(t, alice.BufferedEvents())

	logs, err := f.repo.ListMatchesByPlayer(ctx, aliceID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	testutil.Connect(t, f.addr).CallOK("post_result",
		map[string]any{"roomId": roomID, "token": token})
	ev := evData(t, alice.WaitEvent("game_ready"))
	result, _ := ev["result"].(map[string]any)
	require.NotNil(t, result)
	assert.Equal(t, "finished", result["reason"])
}

func TestStalePlayingStatusIsReset(t *testing.T) {
	f := startLobby(t)
	ctx := context.Background()
	seedServedGame(t, f.repo, "sticky", "exec sleep 30\n", 1, 4)

	alice, aliceID := f.player(t, "alice")
	reply := alice.CallOK("room_create", map[string]any{"gameId": "sticky"})
	roomID := asInt(reply["roomId"])

	// A previous lobby run died mid-match: status says playing but no child
	// process exists. The next start must recover instead of wedging the room.
	require.NoError(t, f.repo.SetRoomStatus(ctx, roomID, model.RoomPlaying))

	alice.CallOK("room_start", map[string]any{"roomId": roomID})

	t.Run("orphaned match is recorded", func(t *testing.T) {
		logs, err := f.repo.ListMatchesByPlayer(ctx, aliceID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "stale_state", logs[0].Reason)
	})

	info := evData(t, alice.WaitEvent("game_info"))
	token, _ := info["token"].(string)
	require.NotEmpty(t, token)

	poster := testutil.Connect(t, f.addr)
	poster.CallOK("post_result", map[string]any{"roomId": roomID, "token": token})
	ev := evData(t, alice.WaitEvent("game_ready"))
	result, _ := ev["result"].(map[string]any)
	assert.Equal(t, "finished", result["reason"])
}

func TestPostResultForIdleRoomAppendsHistory(t *testing.T) {
	f := startLobby(t)
	ctx := context.Background()
	seedServedGame(t, f.repo, "quiet", "exec sleep 30\n", 2, 4)

	alice, aliceID := f.player(t, "alice")
	reply := alice.CallOK("room_create", map[string]any{"gameId": "quiet"})
	roomID := asInt(reply["roomId"])

	poster := testutil.Connect(t, f.addr)
	poster.CallOK("post_result", map[string]any{"roomId": roomID, "reason": "external"})

	logs, err := f.repo.ListMatchesByPlayer(ctx, aliceID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "external", logs[0].Reason)
}
