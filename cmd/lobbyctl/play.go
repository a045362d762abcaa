package main

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ian0520/gamestore/internal/manifest"
)

// handleEvent runs on the reader goroutine: print what happened, and on
// game_info launch the downloaded client.
func (c *client) handleEvent(msg map[string]any) {
	name, _ := msg["name"].(string)
	data, _ := msg["data"].(map[string]any)
	switch name {
	case "player_joined":
		fmt.Printf("\n[room] %v joined\n> ", data["username"])
	case "player_left":
		fmt.Printf("\n[room] %v left\n> ", data["username"])
	case "host_changed":
		fmt.Printf("\n[room] player %v is now the host\n> ", data["hostId"])
	case "game_info":
		fmt.Printf("\n[match] game server up at %v:%v\n> ", data["host"], data["port"])
		go c.launchClient(data)
	case "game_ready":
		result, _ := data["result"].(map[string]any)
		if result == nil {
			result = map[string]any{}
		}
		fmt.Printf("\n[match] finished (%v), winner: %v\n> ", result["reason"], result["winner"])
	default:
		fmt.Printf("\n[event] %s: %v\n> ", name, data)
	}
}

// pkgDir is where one downloaded version lives, per logged-in user so two
// players on one machine do not clobber each other.
func (c *client) pkgDir(gameID, version string) string {
	c.mu.Lock()
	user := c.username
	c.mu.Unlock()
	if user == "" {
		user = "anonymous"
	}
	return filepath.Join(c.downloadsRoot, user, gameID, version)
}

func (c *client) download(gameID, version string) {
	reply, err := c.call("store_download_init", map[string]any{"gameId": gameID, "version": version})
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok(reply) {
		return
	}
	downloadID, _ := reply["downloadId"].(string)
	version, _ = reply["version"].(string)
	size := int64(0)
	if f, isNum := reply["sizeBytes"].(float64); isNum {
		size = int64(f)
	}
	wantSHA, _ := reply["sha256"].(string)

	dir := c.pkgDir(gameID, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Printf("creating %s: %v\n", dir, err)
		return
	}
	zipPath := filepath.Join(dir, "package.zip")
	out, err := os.Create(zipPath)
	if err != nil {
		fmt.Printf("creating %s: %v\n", zipPath, err)
		return
	}

	hasher := sha256.New()
	var offset int64
	for {
		chunk, err := c.call("store_download_chunk", map[string]any{
			"downloadId": downloadID, "offset": offset, "limit": chunkSize,
		})
		if err != nil {
			fmt.Println(err)
			out.Close()
			return
		}
		if !ok(chunk) {
			out.Close()
			return
		}
		encoded, _ := chunk["dataB64"].(string)
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			fmt.Printf("decoding chunk: %v\n", err)
			out.Close()
			return
		}
		if _, err := out.Write(raw); err != nil {
			fmt.Printf("writing %s: %v\n", zipPath, err)
			out.Close()
			return
		}
		hasher.Write(raw)
		offset += int64(len(raw))
		fmt.Printf("\r  %d / %d bytes", offset, size)
		if chunk["done"] == true {
			break
		}
	}
	fmt.Println()
	if err := out.Close(); err != nil {
		fmt.Printf("closing %s: %v\n", zipPath, err)
		return
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(got, wantSHA) {
		fmt.Println("checksum mismatch, discarding the download")
		os.Remove(zipPath)
		return
	}
	if err := extract(zipPath, dir); err != nil {
		fmt.Printf("unpacking: %v\n", err)
		return
	}
	fmt.Printf("downloaded %s v%s into %s\n", gameID, version, dir)
}

// extract unpacks a verified package zip next to it, refusing entries that
// would escape the destination directory.
func extract(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") || strings.Contains(name, ":") {
			return fmt.Errorf("unsafe zip entry %q", f.Name)
		}
	}
	for _, f := range zr.File {
		name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		target := filepath.Join(dest, filepath.FromSlash(name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening entry %q: %w", f.Name, err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing entry %q: %w", f.Name, err)
		}
	}
	return nil
}

// launchClient starts the downloaded game client for a live match. It needs
// the version announced in game_info to already be downloaded.
func (c *client) launchClient(info map[string]any) {
	gameID, _ := info["gameId"].(string)
	version, _ := info["version"].(string)

	root := manifest.ResolvePackageRoot(c.pkgDir(gameID, version))
	m, _, err := manifest.Load(root)
	if err != nil {
		fmt.Printf("\n[match] cannot launch %s v%s: download it first (%v)\n> ", gameID, version, err)
		return
	}

	c.mu.Lock()
	userID := c.userID
	username := c.username
	c.mu.Unlock()

	vars := map[string]string{
		"host":     fmt.Sprint(info["host"]),
		"port":     strconv.FormatInt(asID(info["port"]), 10),
		"token":    fmt.Sprint(info["token"]),
		"roomId":   strconv.FormatInt(asID(info["roomId"]), 10),
		"userId":   strconv.FormatInt(userID, 10),
		"username": username,
		"gameId":   gameID,
		"version":  version,
	}
	argv, err := manifest.RenderArgv(m.Entrypoints.Client.Argv, vars)
	if err != nil || len(argv) == 0 {
		fmt.Printf("\n[match] bad client entrypoint for %s: %v\n> ", gameID, err)
		return
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = root
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	fmt.Printf("\n[match] launching %s\n", strings.Join(argv, " "))
	if err := cmd.Run(); err != nil {
		fmt.Printf("\n[match] game client exited: %v\n> ", err)
		return
	}
	fmt.Print("\n[match] game client exited\n> ")
}
