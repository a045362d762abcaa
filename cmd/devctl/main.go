// Command devctl is the interactive developer console: register, inspect
// your games, and publish new versions as chunked zip uploads.
package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ian0520/gamestore/internal/protocol"
)

const chunkSize = 32 * 1024

type client struct {
	conn net.Conn
}

func (c *client) call(msgType string, data map[string]any) (map[string]any, error) {
	if err := protocol.WriteMessage(c.conn, map[string]any{"type": msgType, "data": data}); err != nil {
		return nil, fmt.Errorf("sending %s: %w", msgType, err)
	}
	raw, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("reading reply to %s: %w", msgType, err)
	}
	var reply map[string]any
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decoding reply to %s: %w", msgType, err)
	}
	return reply, nil
}

// ok prints the error for a failed reply and reports whether it succeeded.
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
		return "that developer is already logged in elsewhere"
	case protocol.CodeNotLoggedIn:
		return "log in first"
	case protocol.CodeNotOwner:
		return "that game belongs to another developer"
	case protocol.CodeVersionExists:
		return "that version already exists"
	case protocol.CodeGameInProgress:
		return "a match is running on this game, try again later"
	case protocol.CodeHashMismatch:
		return "upload corrupted in transit (hash mismatch)"
	case protocol.CodeSizeMismatch:
		return "upload size does not match the declared size"
	case protocol.CodeUnsafeZipEntry:
		return "the zip contains unsafe paths"
	case protocol.CodeMissingManifest:
		return "the zip has no manifest.json at its root"
	case protocol.CodeBadManifest, protocol.CodeBadManifestJSON:
		return "manifest.json is invalid"
	case "":
		return "request failed"
	}
	return code
}

func main() {
	addr := flag.String("addr", "127.0.0.1:10102", "developer service address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connecting to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	c := &client{conn: conn}

	fmt.Printf("connected to %s\n", *addr)
	printHelp()

	in := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); in.Scan(); fmt.Print("> ") {
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		switch cmd, args := fields[0], fields[1:]; cmd {
		case "help":
			printHelp()
		case "quit", "exit":
			return
		case "register":
			auth(c, in, "dev_register")
		case "login":
			auth(c, in, "dev_login")
		case "logout":
			if reply, err := c.call("dev_logout", nil); err == nil && ok(reply) {
				fmt.Println("logged out")
			}
		case "games":
			listGames(c)
		case "versions":
			if len(args) != 1 {
				fmt.Println("usage: versions <gameId>")
				continue
			}
			listVersions(c, args[0])
		case "delist", "relist":
			if len(args) != 1 {
				fmt.Printf("usage: %s <gameId>\n", cmd)
				continue
			}
			reply, err := c.call("game_delist", map[string]any{"gameId": args[0], "delisted": cmd == "delist"})
			if err == nil && ok(reply) {
				fmt.Printf("%sed %s\n", cmd, args[0])
			}
		case "upload":
			if len(args) < 1 || len(args) > 2 {
				fmt.Println("usage: upload <zipPath> [gameId]")
				continue
			}
			gameID := ""
			if len(args) == 2 {
				gameID = args[1]
			}
			upload(c, in, args[0], gameID)
		default:
			fmt.Printf("unknown command %q, try help\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  register              create a developer account
  login                 log in
  logout                log out
  games                 list your games
  versions <gameId>     list versions of one of your games
  upload <zip> [gameId] publish a new version from a package zip
  delist <gameId>       hide a game from the store
  relist <gameId>       make a delisted game visible again
  quit
`)
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Printf("%s: ", label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func auth(c *client, in *bufio.Scanner, msgType string) {
	username := prompt(in, "username")
	password := prompt(in, "password")
	reply, err := c.call(msgType, map[string]any{"username": username, "password": password})
	if err != nil {
		fmt.Println(err)
		return
	}
	if ok(reply) {
		fmt.Printf("welcome, %s\n", username)
	}
}

func listGames(c *client) {
	reply, err := c.call("game_list_mine", nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	games, _ := reply["games"].([]any)
	if len(games) == 0 {
		fmt.Println("no games yet, publish one with upload")
		return
	}
	for _, g := range games {
		m, _ := g.(map[string]any)
		state := ""
		if m["delisted"] == true {
			state = " [delisted]"
		}
		fmt.Printf("  %-24v %v%s\n", m["gameId"], m["name"], state)
	}
}

func listVersions(c *client, gameID string) {
	reply, err := c.call("game_list_versions", map[string]any{"gameId": gameID})
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	versions, _ := reply["versions"].([]any)
	for _, v := range versions {
		m, _ := v.(map[string]any)
		fmt.Printf("  %-12v %8.0f bytes  %v\n", m["version"], m["sizeBytes"], m["changelog"])
	}
}

func upload(c *client, in *bufio.Scanner, zipPath, gameID string) {
	data, err := os.ReadFile(zipPath)
	if err != nil {
		fmt.Printf("reading %s: %v\n", zipPath, err)
		return
	}
	sum := sha256.Sum256(data)

	version := prompt(in, "version")
	changelog := prompt(in, "changelog")
	init := map[string]any{
		"gameId":    gameID,
		"version":   version,
		"fileName":  filepath.Base(zipPath),
		"sizeBytes": len(data),
		"sha256":    hex.EncodeToString(sum[:]),
	}
	if gameID == "" {
		// A brand-new game needs its store listing.
		init["name"] = prompt(in, "game name")
		init["description"] = prompt(in, "description")
	}

	reply, err := c.call("game_upload_init", init)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	uploadID, _ := reply["uploadId"].(string)
	fmt.Printf("uploading %s as %v version %s\n", zipPath, reply["gameId"], version)

	for seq, off := 0, 0; off < len(data); seq, off = seq+1, off+chunkSize {
		end := min(off+chunkSize, len(data))
		reply, err := c.call("game_upload_chunk", map[string]any{
			"uploadId": uploadID,
			"seq":      seq,
			"dataB64":  base64.StdEncoding.EncodeToString(data[off:end]),
		})
		if err != nil {
			fmt.Println(err)
			return
		}
		if !ok(reply) {
			return
		}
		fmt.Printf("\r  %d / %d bytes", end, len(data))
	}
	fmt.Println()

	reply, err = c.call("game_upload_finish", map[string]any{"uploadId": uploadID, "changelog": changelog})
	if err != nil {
		fmt.Println(err)
		return
	}
	if ok(reply) {
		fmt.Printf("published, version id %.0f\n", reply["gameVersionId"])
	}
}
