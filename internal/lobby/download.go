package lobby

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/Ian0520/gamestore/internal/ident"
	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
)

const (
	// maxDownloadChunk caps one raw read, keeping base64+JSON inside the
	// frame limit.
	maxDownloadChunk = 32 * 1024

	// downloadIdleExpiry frees sessions the client abandoned; an unbounded
	// session table would leak descriptors.
	downloadIdleExpiry = 5 * time.Minute
)

// download is one in-flight chunked package transfer, owned by a single
// player session. The client drives offsets; the session only holds the
// open file and its declared size.
type download struct {
	id        string
	file      *os.File
	sizeBytes int64
	lastUsed  time.Time
}

func (d *download) close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}

func (s *session) discardDownloads() {
	for id, dl := range s.downloads {
		dl.close()
		delete(s.downloads, id)
	}
}

// expireDownloads drops sessions idle past the expiry. Called on every
// download operation; the session map is per-connection so the scan is tiny.
func (s *session) expireDownloads() {
	cutoff := time.Now().Add(-downloadIdleExpiry)
	for id, dl := range s.downloads {
		if dl.lastUsed.Before(cutoff) {
			dl.close()
			delete(s.downloads, id)
		}
	}
}

type downloadInitReq struct {
	GameID  string `json:"gameId"`
	Version string `json:"version"`
}

func (s *session) downloadInit(ctx context.Context, data json.RawMessage) error {
	var p downloadInitReq
	if err := json.Unmarshal(data, &p); err != nil || p.GameID == "" {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	s.expireDownloads()

	var (
		v   *model.GameVersion
		err error
	)
	if p.Version == "" {
		v, err = s.srv.repo.LatestVersion(ctx, p.GameID)
	} else {
		v, err = s.srv.repo.GetVersion(ctx, p.GameID, p.Version)
	}
	if err != nil {
		return s.conn.SendErr(catalogCode(err), nil)
	}

	f, err := os.Open(v.ZipPath)
	if err != nil {
		s.log.Error("opening package for download", "gameId", p.GameID, "path", v.ZipPath, "err", err)
		return s.conn.SendErr(protocol.CodeMissingZipOnServer, nil)
	}
	dl := &download{
		id:        ident.New(),
		file:      f,
		sizeBytes: v.SizeBytes,
		lastUsed:  time.Now(),
	}
	s.downloads[dl.id] = dl
	s.log.Info("download opened", "gameId", p.GameID, "version", v.Version, "sizeBytes", v.SizeBytes)
	return s.conn.SendOK(map[string]any{
		"downloadId": dl.id,
		"version":    v.Version,
		"fileName":   v.FileName,
		"sizeBytes":  v.SizeBytes,
		"sha256":     v.SHA256,
	})
}

type downloadChunkReq struct {
	DownloadID string `json:"downloadId"`
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
}

func (s *session) downloadChunk(data json.RawMessage) error {
	var p downloadChunkReq
	if err := json.Unmarshal(data, &p); err != nil || p.DownloadID == "" || p.Offset < 0 || p.Limit <= 0 {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	s.expireDownloads()
	dl, ok := s.downloads[p.DownloadID]
	if !ok {
		return s.conn.SendErr(protocol.CodeNoSuchDownload, nil)
	}
	dl.lastUsed = time.Now()

	limit := min(p.Limit, maxDownloadChunk)
	buf := make([]byte, limit)
	n, err := dl.file.ReadAt(buf, p.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		dl.close()
		delete(s.downloads, p.DownloadID)
		s.log.Error("reading download chunk", "offset", p.Offset, "err", err)
		return s.conn.SendErr(protocol.CodeReadFailed, nil)
	}

	done := p.Offset+int64(n) >= dl.sizeBytes
	if done {
		dl.close()
		delete(s.downloads, p.DownloadID)
	}
	return s.conn.SendOK(map[string]any{
		"dataB64": base64.StdEncoding.EncodeToString(buf[:n]),
		"n":       n,
		"done":    done,
	})
}
