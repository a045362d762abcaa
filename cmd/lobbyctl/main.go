// Command lobbyctl is the interactive player console: browse the store,
// download games, sit in rooms, and play. Pushed events are demultiplexed
// from replies by a reader goroutine and printed as they arrive; on
// game_info the downloaded client entrypoint is launched automatically.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ian0520/gamestore/internal/protocol"
)

const (
	chunkSize   = 32 * 1024
	callTimeout = 10 * time.Second
)

type client struct {
	conn    net.Conn
	replies chan map[string]any

	mu            sync.Mutex
	userID        int64
	username      string
	roomID        int64
	downloadsRoot string
}

// reader owns the socket's read side, splitting pushed events from replies.
func (c *client) reader() {
	for {
		raw, err := protocol.ReadFrame(c.conn)
		if err != nil {
			fmt.Println("\nconnection closed")
			close(c.replies)
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg["type"] == "event" {
			c.handleEvent(msg)
			continue
		}
		c.replies <- msg
	}
}

func (c *client) call(msgType string, data map[string]any) (map[string]any, error) {
	if err := protocol.WriteMessage(c.conn, map[string]any{"type": msgType, "data": data}); err != nil {
		return nil, fmt.Errorf("sending %s: %w", msgType, err)
	}
	select {
	case reply, alive := <-c.replies:
		if !alive {
			return nil, fmt.Errorf("connection closed")
		}
		return reply, nil
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("timed out waiting for reply to %s", msgType)
	}
}

func ok(reply map[string]any) bool {
	if reply["ok"] == true {
		return true
	}
	code, _ := reply["error"].(string)
	fmt.Printf("error: %s\n", friendly(code))
	return false
}

func friendly(code string) string {
	switch code {
	case protocol.CodeUsernameExists:
		return "that username is taken"
	case protocol.CodeBadCredentials:
		return "wrong username or password"
	case protocol.CodeAlreadyOnline:
		return "that player is already logged in elsewhere"
	case protocol.CodeNotLoggedIn:
		return "log in first"
	case protocol.CodeNotPlayed:
		return "play the game before reviewing it"
	case protocol.CodeGameDelisted:
		return "that game has been delisted"
	case protocol.CodeAlreadyInRoom:
		return "leave your current room first"
	case protocol.CodeRoomFull:
		return "the room is full"
	case protocol.CodeRoomPlaying:
		return "a match is in progress in that room"
	case protocol.CodeNeedMorePlayers:
		return "not enough players to start"
	case protocol.CodeNotHost:
		return "only the host can start the match"
	case protocol.CodeNoSuchRoom:
		return "no such room"
	case protocol.CodeNoSuchGame:
		return "no such game"
	case "":
		return "request failed"
	}
	return code
}

func asID(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:10103", "lobby service address")
	downloads := flag.String("downloads", "downloads", "directory for downloaded games")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connecting to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{
		conn:          conn,
		replies:       make(chan map[string]any, 1),
		downloadsRoot: *downloads,
	}
	go c.reader()

	fmt.Printf("connected to %s\n", *addr)
	printHelp()

	in := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); in.Scan(); fmt.Print("> ") {
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "help":
			printHelp()
		case "quit", "exit":
			return
		case "register":
			c.auth(in, "player_register")
		case "login":
			c.auth(in, "player_login")
		case "logout":
			if reply, err := c.call("player_logout", nil); err == nil && ok(reply) {
				c.mu.Lock()
				c.userID, c.username, c.roomID = 0, "", 0
				c.mu.Unlock()
				fmt.Println("logged out")
			}
		case "players":
			c.listPlayers()
		case "games":
			c.listGames()
		case "detail":
			if len(args) != 1 {
				fmt.Println("usage: detail <gameId>")
				continue
			}
			c.gameDetail(args[0])
		case "download":
			if len(args) < 1 || len(args) > 2 {
				fmt.Println("usage: download <gameId> [version]")
				continue
			}
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			c.download(args[0], version)
		case "review":
			if len(args) < 2 {
				fmt.Println("usage: review <gameId> <rating 1-5> [comment...]")
				continue
			}
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Println("rating must be a number 1-5")
				continue
			}
			reply, err := c.call("review_create_or_update", map[string]any{
				"gameId": args[0], "rating": rating, "comment": strings.Join(args[2:], " "),
			})
			if err == nil && ok(reply) {
				fmt.Println("review saved")
			}
		case "matches":
			c.listMatches()
		case "rooms":
			c.listRooms()
		case "create":
			if len(args) != 1 {
				fmt.Println("usage: create <gameId>")
				continue
			}
			c.createRoom(args[0])
		case "join":
			if len(args) != 1 {
				fmt.Println("usage: join <roomId>")
				continue
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fmt.Println("roomId must be a number")
				continue
			}
			c.joinRoom(id)
		case "leave":
			if reply, err := c.call("room_leave", nil); err == nil && ok(reply) {
				c.mu.Lock()
				c.roomID = 0
				c.mu.Unlock()
				fmt.Println("left the room")
			}
		case "start":
			c.startMatch()
		default:
			fmt.Printf("unknown command %q, try help\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  register / login / logout
  players                     who is online
  games                       browse the store
  detail <gameId>             one game with reviews
  download <gameId> [version] fetch and unpack a game
  review <gameId> <1-5> [..]  rate a game you have played
  matches                     your match history
  rooms                       open rooms
  create <gameId>             open a room for a game you own locally
  join <roomId> / leave       room membership
  start                       start the match (host only)
  quit
`)
}

func (c *client) auth(in *bufio.Scanner, msgType string) {
	username := prompt(in, "username")
	password := prompt(in, "password")
	reply, err := c.call(msgType, map[string]any{"username": username, "password": password})
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	if msgType == "player_login" {
		c.mu.Lock()
		c.userID = asID(reply["playerId"])
		c.username, _ = reply["username"].(string)
		c.roomID = 0
		c.mu.Unlock()
	}
	fmt.Printf("welcome, %s\n", username)
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Printf("%s: ", label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func (c *client) listPlayers() {
	reply, err := c.call("player_list", nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	players, _ := reply["players"].([]any)
	fmt.Printf("%d online:\n", len(players))
	for _, p := range players {
		row, _ := p.(map[string]any)
		if row == nil {
			continue
		}
		line := fmt.Sprintf("  [%v] %v", row["playerId"], row["username"])
		if row["roomId"] != nil {
			line += fmt.Sprintf("  in room %v (%v %v, %v)",
				row["roomId"], row["gameId"], row["version"], row["roomStatus"])
		}
		fmt.Println(line)
	}
}

func (c *client) listGames() {
	reply, err := c.call("store_list_games", nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	games, _ := reply["games"].([]any)
	if len(games) == 0 {
		fmt.Println("the store is empty")
		return
	}
	for _, g := range games {
		m, _ := g.(map[string]any)
		fmt.Printf("  %-24v v%-10v %v-%v players  by %v\n",
			m["gameId"], m["version"], m["minPlayers"], m["maxPlayers"], m["developer"])
	}
}

func (c *client) gameDetail(gameID string) {
	reply, err := c.call("store_game_detail", map[string]any{"gameId": gameID})
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	game, _ := reply["game"].(map[string]any)
	fmt.Printf("%v — %v\n", game["name"], game["description"])
	if latest, _ := reply["latestVersion"].(map[string]any); latest != nil {
		fmt.Printf("latest version %v (%v bytes)\n", latest["version"], latest["sizeBytes"])
	}
	reviews, _ := reply["reviews"].([]any)
	for _, r := range reviews {
		m, _ := r.(map[string]any)
		fmt.Printf("  %v/5  %v\n", m["rating"], m["comment"])
	}
}

func (c *client) listMatches() {
	reply, err := c.call("match_list_mine", nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	matches, _ := reply["matches"].([]any)
	if len(matches) == 0 {
		fmt.Println("no matches yet")
		return
	}
	for _, m := range matches {
		e, _ := m.(map[string]any)
		fmt.Printf("  %v v%v  %v  winner %v\n", e["gameId"], e["version"], e["reason"], e["winnerPlayerId"])
	}
}

func (c *client) listRooms() {
	reply, err := c.call("room_list", nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	rooms, _ := reply["rooms"].([]any)
	if len(rooms) == 0 {
		fmt.Println("no open rooms")
		return
	}
	for _, r := range rooms {
		m, _ := r.(map[string]any)
		players, _ := m["players"].([]any)
		fmt.Printf("  room %v  %v v%v  %d players  %v\n",
			m["id"], m["gameId"], m["version"], len(players), m["status"])
	}
}

func (c *client) createRoom(gameID string) {
	reply, err := c.call("room_create", map[string]any{"gameId": gameID})
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	c.mu.Lock()
	c.roomID = asID(reply["roomId"])
	c.mu.Unlock()
	fmt.Printf("room %v open for %v v%v, waiting for players\n", reply["roomId"], gameID, reply["version"])
}

func (c *client) joinRoom(roomID int64) {
	reply, err := c.call("room_join", map[string]any{"roomId": roomID})
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
	players, _ := reply["players"].([]any)
	fmt.Printf("joined room %d (%v, %d/%v players)\n", roomID, reply["gameId"], len(players), reply["maxPlayers"])
}

func (c *client) startMatch() {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == 0 {
		fmt.Println("join or create a room first")
		return
	}
	reply, err := c.call("room_start", map[string]any{"roomId": roomID})
	if err != nil {
		fmt.Println(err)
		return
	}
	if ok(reply) {
		fmt.Println("match starting")
	}
}
