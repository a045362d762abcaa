package devserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian0520/gamestore/internal/config"
	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
	"github.com/Ian0520/gamestore/internal/testutil"
)

type devFixture struct {
	repo       *store.Memory
	uploadRoot string
	addr       string
	client     *testutil.ServiceClient
}

func startDev(t *testing.T) *devFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := store.NewMemory()
	cfg := config.DeveloperServer{
		BindHost:   "127.0.0.1",
		Port:       0,
		UploadRoot: filepath.Join(t.TempDir(), "uploads"),
		TmpRoot:    filepath.Join(t.TempDir(), "tmp"),
	}
	srv := New(cfg, repo, testutil.Logger(t))
	go func() {
		_ = srv.Listen(ctx)
	}()
	require.Eventually(t, func() bool { return srv.Addr() != nil },
		2*time.Second, 10*time.Millisecond, "developer service never bound")

	return &devFixture{
		repo:       repo,
		uploadRoot: cfg.UploadRoot,
		addr:       srv.Addr().String(),
		client:     testutil.Connect(t, srv.Addr().String()),
	}
}

func (f *devFixture) login(t *testing.T, username string) {
	t.Helper()
	f.client.CallOK("dev_register", map[string]any{"username": username, "password": "p"})
	f.client.CallOK("dev_login", map[string]any{"username": username, "password": "p"})
}

func manifestJSON(gameID, version string) string {
	return fmt.Sprintf(`{
		"gameId": %q, "name": "Test Game", "version": %q,
		"developer": "dev1", "description": "a test game",
		"clientType": "cli", "minPlayers": 2, "maxPlayers": 4,
		"entrypoints": {
			"server": {"module": "server.py", "argv": ["python3", "server.py", "{port}"]},
			"client": {"module": "client.py", "argv": ["python3", "client.py", "{host}", "{port}"]}
		}
	}`, gameID, version)
}

func packageZip(t *testing.T, gameID, version string) []byte {
	t.Helper()
	return testutil.BuildZip(t, map[string]string{
		"manifest.json": manifestJSON(gameID, version),
		"server.py":     "print('server')\n",
		"client.py":     "print('client')\n",
	})
}

// uploadZip drives init+chunks, returning the uploadId.
func (f *devFixture) uploadZip(t *testing.T, gameID, version string, data []byte, chunkSize int) string {
	t.Helper()
	reply := f.client.CallOK("game_upload_init", map[string]any{
		"gameId": gameID, "version": version, "fileName": "pkg.zip",
		"sizeBytes": len(data), "sha256": testutil.SHA256Hex(data),
		"name": "Test Game", "description": "a test game",
	})
	uploadID := reply["uploadId"].(string)
	for seq, off := 0, 0; off < len(data); seq, off = seq+1, off+chunkSize {
		end := min(off+chunkSize, len(data))
		f.client.CallOK("game_upload_chunk", map[string]any{
			"uploadId": uploadID, "seq": seq,
			"dataB64": base64.StdEncoding.EncodeToString(data[off:end]),
		})
	}
	return uploadID
}

func TestUploadPublishesVersion(t *testing.T) {
	f := startDev(t)
	f.login(t, "dev1")

	data := packageZip(t, "g1", "1.0.0")
	uploadID := f.uploadZip(t, "g1", "1.0.0", data, 300)
	reply := f.client.CallOK("game_upload_finish", map[string]any{"uploadId": uploadID, "changelog": "first"})
	assert.NotZero(t, reply["gameVersionId"])

	t.Run("files land under uploadRoot", func(t *testing.T) {
		zipPath := filepath.Join(f.uploadRoot, "g1", "1.0.0", "package.zip")
		onDisk, err := os.ReadFile(zipPath)
		require.NoError(t, err)
		assert.Equal(t, data, onDisk)

		_, err = os.Stat(filepath.Join(f.uploadRoot, "g1", "1.0.0", "extracted", "manifest.json"))
		assert.NoError(t, err)
	})

	t.Run("version row carries manifest fields", func(t *testing.T) {
		v, err := f.repo.GetVersion(context.Background(), "g1", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "cli", v.ClientType)
		assert.Equal(t, 2, v.MinPlayers)
		assert.Equal(t, 4, v.MaxPlayers)
		assert.Equal(t, int64(len(data)), v.SizeBytes)
		assert.Equal(t, testutil.SHA256Hex(data), v.SHA256)
		assert.Equal(t, "first", v.Changelog)

		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(v.ManifestJSON), &m))
		assert.Equal(t, "g1", m["gameId"])
	})

	t.Run("second version of the same game", func(t *testing.T) {
		data2 := packageZip(t, "g1", "1.1.0")
		id := f.uploadZip(t, "g1", "1.1.0", data2, 500)
		f.client.CallOK("game_upload_finish", map[string]any{"uploadId": id})

		reply := f.client.CallOK("game_list_versions", map[string]any{"gameId": "g1"})
		assert.Len(t, reply["versions"], 2)
	})
}

func TestUploadPerturbations(t *testing.T) {
	f := startDev(t)
	f.login(t, "dev1")
	data := packageZip(t, "g2", "1.0.0")

	initUpload := func(t *testing.T, declaredSize int, sha string) string {
		t.Helper()
		reply := f.client.CallOK("game_upload_init", map[string]any{
			"gameId": "g2", "version": "1.0.0", "fileName": "pkg.zip",
			"sizeBytes": declaredSize, "sha256": sha,
			"name": "Test Game", "description": "a test game",
		})
		return reply["uploadId"].(string)
	}
	b64 := func(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

	t.Run("skipped seq", func(t *testing.T) {
		id := initUpload(t, len(data), testutil.SHA256Hex(data))
		f.client.CallOK("game_upload_chunk", map[string]any{"uploadId": id, "seq": 0, "dataB64": b64(data[:100])})
		f.client.CallErr(protocol.CodeBadSeq, "game_upload_chunk", map[string]any{"uploadId": id, "seq": 2, "dataB64": b64(data[100:200])})
		// The upload is discarded; further chunks see no_such_upload.
		f.client.CallErr(protocol.CodeNoSuchUpload, "game_upload_chunk", map[string]any{"uploadId": id, "seq": 1, "dataB64": b64(data[100:200])})
	})

	t.Run("corrupted byte fails the hash check", func(t *testing.T) {
		id := initUpload(t, len(data), testutil.SHA256Hex(data))
		corrupted := append([]byte(nil), data...)
		corrupted[10] ^= 0xFF
		f.client.CallOK("game_upload_chunk", map[string]any{"uploadId": id, "seq": 0, "dataB64": b64(corrupted)})
		f.client.CallErr(protocol.CodeHashMismatch, "game_upload_finish", map[string]any{"uploadId": id})
	})

	t.Run("short upload fails size check", func(t *testing.T) {
		id := initUpload(t, len(data)+1, testutil.SHA256Hex(data))
		f.client.CallOK("game_upload_chunk", map[string]any{"uploadId": id, "seq": 0, "dataB64": b64(data)})
		f.client.CallErr(protocol.CodeSizeMismatch, "game_upload_finish", map[string]any{"uploadId": id})
	})

	t.Run("overshoot is rejected at the chunk", func(t *testing.T) {
		id := initUpload(t, 10, testutil.SHA256Hex(data[:10]))
		f.client.CallErr(protocol.CodeTooLarge, "game_upload_chunk", map[string]any{"uploadId": id, "seq": 0, "dataB64": b64(data[:11])})
	})

	t.Run("bad base64", func(t *testing.T) {
		id := initUpload(t, len(data), testutil.SHA256Hex(data))
		f.client.CallErr(protocol.CodeBadBase64, "game_upload_chunk", map[string]any{"uploadId": id, "seq": 0, "dataB64": "%%%not-base64%%%"})
	})

	t.Run("empty chunk", func(t *testing.T) {
		id := initUpload(t, len(data), testutil.SHA256Hex(data))
		f.client.CallErr(protocol.CodeEmptyChunk, "game_upload_chunk", map[string]any{"uploadId": id, "seq": 0, "dataB64": ""})
	})

	t.Run("no version row was ever committed", func(t *testing.T) {
		_, err := f.repo.GetVersion(context.Background(), "g2", "1.0.0")
		assert.ErrorIs(t, err, store.ErrNoSuchVersion)
	})
}

func TestManifestCrossCheck(t *testing.T) {
	f := startDev(t)
	f.login(t, "dev1")

	cases := []struct {
		name    string
		files   map[string]string
		errCode string
	}{
		{
			name: "gameId mismatch",
			files: map[string]string{
				"manifest.json": manifestJSON("other", "1.0.0"),
				"server.py":     "x", "client.py": "x",
			},
			errCode: protocol.CodeManifestGameIDMismatch,
		},
		{
			name: "version mismatch",
			files: map[string]string{
				"manifest.json": manifestJSON("g3", "9.9.9"),
				"server.py":     "x", "client.py": "x",
			},
			errCode: protocol.CodeManifestVersionMismatch,
		},
		{
			name:    "missing manifest",
			files:   map[string]string{"server.py": "x", "client.py": "x"},
			errCode: protocol.CodeMissingManifest,
		},
		{
			name: "manifest is not JSON",
			files: map[string]string{
				"manifest.json": "{nope",
				"server.py":     "x", "client.py": "x",
			},
			errCode: protocol.CodeBadManifestJSON,
		},
		{
			name: "missing server entrypoint file",
			files: map[string]string{
				"manifest.json": manifestJSON("g3", "1.0.0"),
				"client.py":     "x",
			},
			errCode: protocol.CodeMissingServerEntry,
		},
		{
			name: "missing client entrypoint file",
			files: map[string]string{
				"manifest.json": manifestJSON("g3", "1.0.0"),
				"server.py":     "x",
			},
			errCode: protocol.CodeMissingClientEntry,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := testutil.BuildZip(t, tc.files)
			id := f.uploadZip(t, "g3", "1.0.0", data, 1024)
			f.client.CallErr(tc.errCode, "game_upload_finish", map[string]any{"uploadId": id})
		})
	}

	_, err := f.repo.GetVersion(context.Background(), "g3", "1.0.0")
	assert.ErrorIs(t, err, store.ErrNoSuchVersion)
}

func TestZipTraversalRejected(t *testing.T) {
	f := startDev(t)
	f.login(t, "dev1")

	data := testutil.BuildZip(t, map[string]string{
		"manifest.json": manifestJSON("g4", "1.0.0"),
		"server.py":     "x", "client.py": "x",
		"../evil": "pwned",
	})
	id := f.uploadZip(t, "g4", "1.0.0", data, 1024)
	f.client.CallErr(protocol.CodeUnsafeZipEntry, "game_upload_finish", map[string]any{"uploadId": id})

	t.Run("nothing lands under uploadRoot", func(t *testing.T) {
		entries, err := os.ReadDir(f.uploadRoot)
		if err == nil {
			assert.Empty(t, entries)
		} else {
			assert.True(t, os.IsNotExist(err))
		}
		_, err = os.Stat(filepath.Join(filepath.Dir(f.uploadRoot), "evil"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("no version row", func(t *testing.T) {
		_, err := f.repo.GetVersion(context.Background(), "g4", "1.0.0")
		assert.ErrorIs(t, err, store.ErrNoSuchVersion)
	})
}

func TestAuthAndOwnership(t *testing.T) {
	f := startDev(t)

	t.Run("authenticated ops require login", func(t *testing.T) {
		f.client.CallErr(protocol.CodeNotLoggedIn, "game_list_mine", nil)
		f.client.CallErr(protocol.CodeNotLoggedIn, "game_upload_init", map[string]any{"version": "1.0.0"})
	})

	t.Run("unknown type", func(t *testing.T) {
		f.client.CallErr(protocol.CodeUnknownType, "explode", nil)
	})

	f.login(t, "dev1")
	data := packageZip(t, "g5", "1.0.0")
	id := f.uploadZip(t, "g5", "1.0.0", data, 1024)
	f.client.CallOK("game_upload_finish", map[string]any{"uploadId": id})

	t.Run("bad identifiers", func(t *testing.T) {
		f.client.CallErr(protocol.CodeBadGameID, "game_upload_init", map[string]any{
			"gameId": "has spaces!", "version": "1.0.0", "fileName": "a.zip", "sizeBytes": 1, "sha256": "ab",
		})
		f.client.CallErr(protocol.CodeBadVersion, "game_upload_init", map[string]any{
			"gameId": "g5", "version": "no spaces allowed", "fileName": "a.zip", "sizeBytes": 1, "sha256": "ab",
		})
		f.client.CallErr(protocol.CodeVersionExists, "game_upload_init", map[string]any{
			"gameId": "g5", "version": "1.0.0", "fileName": "a.zip", "sizeBytes": 1, "sha256": "ab",
		})
	})
}

func TestDeveloperSingleLogin(t *testing.T) {
	f := startDev(t)
	f.login(t, "dev1")

	second := testutil.Connect(t, f.addr)
	second.CallErr(protocol.CodeAlreadyOnline, "dev_login",
		map[string]any{"username": "dev1", "password": "p"})

	t.Run("logout frees the slot", func(t *testing.T) {
		f.client.CallOK("dev_logout", nil)
		second.CallOK("dev_login", map[string]any{"username": "dev1", "password": "p"})
	})

	t.Run("re-login on the same connection is idempotent", func(t *testing.T) {
		second.CallOK("dev_login", map[string]any{"username": "dev1", "password": "p"})
	})

	t.Run("disconnect frees the slot", func(t *testing.T) {
		second.Close()
		c := testutil.Connect(t, f.addr)
		require.Eventually(t, func() bool {
			reply := c.Call("dev_login", map[string]any{"username": "dev1", "password": "p"})
			return reply["ok"] == true
		}, 2*time.Second, 50*time.Millisecond)
	})
}

func TestSecondDeveloperOwnership(t *testing.T) {
	f := startDev(t)
	f.login(t, "dev1")
	data := packageZip(t, "g6", "1.0.0")
	id := f.uploadZip(t, "g6", "1.0.0", data, 1024)
	f.client.CallOK("game_upload_finish", map[string]any{"uploadId": id})

	f.client.CallOK("dev_logout", nil)
	f.login(t, "dev2")

	f.client.CallErr(protocol.CodeNotOwner, "game_upload_init", map[string]any{
		"gameId": "g6", "version": "2.0.0", "fileName": "a.zip", "sizeBytes": 1, "sha256": "ab",
	})
	f.client.CallErr(protocol.CodeNotOwner, "game_delist", map[string]any{"gameId": "g6", "delisted": true})
	f.client.CallErr(protocol.CodeNotOwner, "game_list_versions", map[string]any{"gameId": "g6"})
}

func TestDelistBlockedWhilePlaying(t *testing.T) {
	f := startDev(t)
	ctx := context.Background()
	f.login(t, "dev1")

	data := packageZip(t, "g7", "1.0.0")
	id := f.uploadZip(t, "g7", "1.0.0", data, 1024)
	f.client.CallOK("game_upload_finish", map[string]any{"uploadId": id})

	g, err := f.repo.GetGameByGameID(ctx, "g7")
	require.NoError(t, err)
	v, err := f.repo.GetVersion(ctx, "g7", "1.0.0")
	require.NoError(t, err)
	player, err := f.repo.RegisterPlayer(ctx, "p1", "p")
	require.NoError(t, err)
	roomID, err := f.repo.CreateRoom(ctx, player.ID, g.ID, v.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.SetRoomStatus(ctx, roomID, model.RoomPlaying))

	f.client.CallErr(protocol.CodeGameInProgress, "game_delist", map[string]any{"gameId": "g7", "delisted": true})

	require.NoError(t, f.repo.SetRoomStatus(ctx, roomID, model.RoomWaiting))
	f.client.CallOK("game_delist", map[string]any{"gameId": "g7", "delisted": true})

	t.Run("upload to a delisted game still works", func(t *testing.T) {
		data2 := packageZip(t, "g7", "1.1.0")
		id := f.uploadZip(t, "g7", "1.1.0", data2, 1024)
		f.client.CallOK("game_upload_finish", map[string]any{"uploadId": id})
	})
}

func TestSlugGeneration(t *testing.T) {
	t.Run("slugify", func(t *testing.T) {
		cases := map[string]string{
			"Space Raiders!": "space-raiders",
			"  Trim Me  ":    "trim-me",
			"snake_case-ok":  "snake_case-ok",
			"":               "game",
			"***":            "game",
		}
		for in, want := range cases {
			assert.Equal(t, want, slugify(in), "slugify(%q)", in)
		}
	})

	t.Run("auto slug probes for a free id", func(t *testing.T) {
		f := startDev(t)
		f.login(t, "dev1")

		init := func(t *testing.T) string {
			t.Helper()
			reply := f.client.CallOK("game_upload_init", map[string]any{
				"version": "1.0.0", "fileName": "a.zip", "sizeBytes": 1, "sha256": "ab",
				"name": "Space Raiders", "description": "d",
			})
			return reply["gameId"].(string)
		}
		first := init(t)
		assert.Equal(t, "space-raiders", first)

		second := init(t)
		assert.NotEqual(t, first, second)
		assert.Contains(t, second, "space-raiders-")
	})
}
