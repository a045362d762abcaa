package devserver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ian0520/gamestore/internal/ident"
	"github.com/Ian0520/gamestore/internal/manifest"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
)

// maxRawChunk caps the decoded size of one upload chunk, keeping the
// base64+JSON envelope under the frame limit.
const maxRawChunk = 32 * 1024

// strictB64 rejects non-canonical padding and stray characters.
var strictB64 = base64.StdEncoding.Strict()

// upload is one in-flight chunked package transfer. It lives in the owning
// developer session's map and is discarded on any error.
type upload struct {
	id        string
	gameID    string
	version   string
	fileName  string
	sizeBytes int64
	sha256    string
	gameRef   int64
	created   bool

	tmpPath  string
	file     *os.File
	hasher   hash.Hash
	received int64
	nextSeq  int
}

// uploadError pairs a wire code with the underlying cause.
type uploadError struct {
	code string
	err  error
}

func (e *uploadError) Error() string {
	if e.err == nil {
		return e.code
	}
	return e.code + ": " + e.err.Error()
}

func (e *uploadError) Unwrap() error { return e.err }

func failUpload(code string, err error) *uploadError {
	return &uploadError{code: code, err: err}
}

// uploadCode extracts the wire code for an upload pipeline failure.
func uploadCode(err error) string {
	var ue *uploadError
	if errors.As(err, &ue) {
		return ue.code
	}
	switch {
	case errors.Is(err, errUnsafeZipEntry):
		return protocol.CodeUnsafeZipEntry
	case errors.Is(err, manifest.ErrMissing):
		return protocol.CodeMissingManifest
	case errors.Is(err, manifest.ErrBadJSON):
		return protocol.CodeBadManifestJSON
	case errors.Is(err, manifest.ErrInvalid):
		return protocol.CodeBadManifest
	}
	return store.Code(err)
}

// discard closes and removes the temp file. Safe to call twice.
func (u *upload) discard() {
	if u.file != nil {
		u.file.Close()
		u.file = nil
	}
	if u.tmpPath != "" {
		os.Remove(u.tmpPath)
		u.tmpPath = ""
	}
}

// appendChunk validates and appends one chunk. Any failure poisons the
// upload; the caller removes it from the session map.
func (u *upload) appendChunk(seq int, dataB64 string) error {
	if seq != u.nextSeq {
		return failUpload(protocol.CodeBadSeq, fmt.Errorf("got %d, want %d", seq, u.nextSeq))
	}
	if dataB64 == "" {
		return failUpload(protocol.CodeEmptyChunk, nil)
	}
	raw, err := strictB64.DecodeString(dataB64)
	if err != nil {
		return failUpload(protocol.CodeBadBase64, err)
	}
	if len(raw) == 0 {
		return failUpload(protocol.CodeEmptyChunk, nil)
	}
	if len(raw) > maxRawChunk || u.received+int64(len(raw)) > u.sizeBytes {
		return failUpload(protocol.CodeTooLarge, fmt.Errorf("%d+%d exceeds limit", u.received, len(raw)))
	}
	if _, err := u.file.Write(raw); err != nil {
		return fmt.Errorf("writing chunk to temp file: %w", err)
	}
	u.hasher.Write(raw)
	u.received += int64(len(raw))
	u.nextSeq++
	return nil
}

// finish verifies the assembled archive, places it under uploadRoot,
// extracts it, validates the manifest against the init declaration, and
// commits the GameVersion row. On any failure everything placed under
// uploadRoot for this version is removed.
func (u *upload) finish(ctx context.Context, repo store.Repository, uploadRoot, changelog string) (int64, error) {
	if u.received != u.sizeBytes {
		return 0, failUpload(protocol.CodeSizeMismatch, fmt.Errorf("received %d of %d bytes", u.received, u.sizeBytes))
	}
	digest := fmt.Sprintf("%x", u.hasher.Sum(nil))
	if !strings.EqualFold(digest, u.sha256) {
		return 0, failUpload(protocol.CodeHashMismatch, nil)
	}
	if err := u.file.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	u.file = nil

	versionDir := filepath.Join(uploadRoot, u.gameID, u.version)
	zipPath := filepath.Join(versionDir, "package.zip")
	extractDir := filepath.Join(versionDir, "extracted")

	id, err := u.publish(ctx, repo, versionDir, zipPath, extractDir, changelog, digest)
	if err != nil {
		os.RemoveAll(versionDir)
		os.Remove(filepath.Dir(versionDir)) // drop the game dir too when this was its only version
		return 0, err
	}
	u.tmpPath = ""
	return id, nil
}

func (u *upload) publish(ctx context.Context, repo store.Repository, versionDir, zipPath, extractDir, changelog, digest string) (int64, error) {
	if err := os.RemoveAll(extractDir); err != nil {
		return 0, fmt.Errorf("clearing prior extraction: %w", err)
	}
	if err := moveFile(u.tmpPath, zipPath); err != nil {
		return 0, fmt.Errorf("placing package zip: %w", err)
	}
	if err := extractZip(zipPath, extractDir); err != nil {
		return 0, err
	}

	root := manifest.ResolvePackageRoot(extractDir)
	m, raw, err := manifest.Load(root)
	if err != nil {
		return 0, err
	}
	if m.GameID != u.gameID {
		return 0, failUpload(protocol.CodeManifestGameIDMismatch, fmt.Errorf("manifest %q, upload %q", m.GameID, u.gameID))
	}
	if m.Version != u.version {
		return 0, failUpload(protocol.CodeManifestVersionMismatch, fmt.Errorf("manifest %q, upload %q", m.Version, u.version))
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(m.Entrypoints.Server.Module))); err != nil {
		return 0, failUpload(protocol.CodeMissingServerEntry, err)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(m.Entrypoints.Client.Module))); err != nil {
		return 0, failUpload(protocol.CodeMissingClientEntry, err)
	}

	return repo.CreateVersion(ctx, store.NewVersion{
		GameRef:       u.gameRef,
		Version:       u.version,
		Changelog:     changelog,
		FileName:      u.fileName,
		SizeBytes:     u.sizeBytes,
		SHA256:        strings.ToLower(digest),
		ZipPath:       zipPath,
		ExtractedPath: root,
		ManifestJSON:  string(raw),
		ClientType:    m.ClientType,
		MinPlayers:    m.MinPlayers,
		MaxPlayers:    m.MaxPlayers,
	})
}

// newUpload allocates the temp file and registers the session state.
func newUpload(tmpRoot string, gameRef int64, created bool, gameID, version, fileName, sha string, sizeBytes int64) (*upload, error) {
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating tmp root: %w", err)
	}
	f, err := os.CreateTemp(tmpRoot, "upload-*.zip")
	if err != nil {
		return nil, fmt.Errorf("allocating temp file: %w", err)
	}
	return &upload{
		id:        ident.New(),
		gameID:    gameID,
		version:   version,
		fileName:  fileName,
		sizeBytes: sizeBytes,
		sha256:    strings.ToLower(sha),
		gameRef:   gameRef,
		created:   created,
		tmpPath:   f.Name(),
		file:      f,
		hasher:    sha256.New(),
	}, nil
}

// slugify derives a store-friendly gameId from a display name.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == '_' || r == '-':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 48 {
		slug = strings.Trim(slug[:48], "-")
	}
	if slug == "" {
		slug = "game"
	}
	return slug
}

// uniqueGameID probes the store for a free slug, appending random suffixes
// until one is unused.
func uniqueGameID(ctx context.Context, repo store.Repository, name string) (string, error) {
	base := slugify(name)
	candidate := base
	for i := 0; i < 16; i++ {
		_, err := repo.GetGameByGameID(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		suffix := ident.New()[:6]
		candidate = base + "-" + suffix
		if len(candidate) > 64 {
			candidate = candidate[:64]
		}
	}
	return "", fmt.Errorf("no free slug for %q", name)
}
