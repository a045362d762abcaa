package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ian0520/gamestore/internal/model"
)

// Memory is an in-process Repository. It backs the memory driver and the
// test suites; semantics mirror the Postgres implementation exactly.
type Memory struct {
	mu sync.Mutex

	nextID int64

	devs       map[int64]*memAccount
	players    map[int64]*memAccount
	games      map[int64]*model.Game
	gameBySlug map[string]int64
	versions   map[int64]*model.GameVersion
	reviews    map[int64]*model.Review
	rooms      map[int64]*memRoom
	logs       []*memLog
}

type memAccount struct {
	model.Account
	salt []byte
	hash []byte
}

type memRoom struct {
	ID             int64
	HostPlayerID   int64
	GameRef        int64
	GameVersionRef int64
	Status         string
	CreatedAt      int64
	UpdatedAt      int64
	Members        []memMember // join order
}

type memMember struct {
	PlayerID int64
	JoinedAt int64
}

type memLog struct {
	model.MatchLog
	participants []int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		devs:       make(map[int64]*memAccount),
		players:    make(map[int64]*memAccount),
		games:      make(map[int64]*model.Game),
		gameBySlug: make(map[string]int64),
		versions:   make(map[int64]*model.GameVersion),
		reviews:    make(map[int64]*model.Review),
		rooms:      make(map[int64]*memRoom),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func now() int64 { return time.Now().Unix() }

// ---- accounts ----

func (m *Memory) register(accounts map[int64]*memAccount, username, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}
	for _, acc := range accounts {
		if acc.Username == username {
			return nil, ErrUsernameExists
		}
	}
	salt, hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	acc := &memAccount{
		Account: model.Account{ID: m.id(), Username: username, CreatedAt: now()},
		salt:    salt,
		hash:    hash,
	}
	accounts[acc.ID] = acc
	out := acc.Account
	return &out, nil
}

func (m *Memory) login(accounts map[int64]*memAccount, username, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}
	for _, acc := range accounts {
		if acc.Username == username {
			if !VerifyPassword(password, acc.salt, acc.hash) {
				return nil, ErrBadCredentials
			}
			acc.LastLoginAt = now()
			out := acc.Account
			return &out, nil
		}
	}
	return nil, ErrBadCredentials
}

func (m *Memory) byUsername(accounts map[int64]*memAccount, username string) (*model.Account, error) {
	for _, acc := range accounts {
		if acc.Username == username {
			out := acc.Account
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) RegisterDev(_ context.Context, username, password string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.register(m.devs, username, password)
}

func (m *Memory) LoginDev(_ context.Context, username, password string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.login(m.devs, username, password)
}

func (m *Memory) GetDevByUsername(_ context.Context, username string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUsername(m.devs, username)
}

func (m *Memory) GetDevByID(_ context.Context, id int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.devs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := acc.Account
	return &out, nil
}

func (m *Memory) RegisterPlayer(_ context.Context, username, password string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.register(m.players, username, password)
}

func (m *Memory) LoginPlayer(_ context.Context, username, password string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.login(m.players, username, password)
}

func (m *Memory) GetPlayerByUsername(_ context.Context, username string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUsername(m.players, username)
}

// ---- games ----

func (m *Memory) CreateGame(_ context.Context, p NewGame) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.GameID == "" || p.Name == "" || p.Description == "" || p.DeveloperID <= 0 {
		return 0, ErrMissingFields
	}
	if _, exists := m.gameBySlug[p.GameID]; exists {
		return 0, ErrGameExists
	}
	ts := now()
	g := &model.Game{
		ID:          m.id(),
		GameID:      p.GameID,
		Name:        p.Name,
		Description: p.Description,
		DeveloperID: p.DeveloperID,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	m.games[g.ID] = g
	m.gameBySlug[g.GameID] = g.ID
	return g.ID, nil
}

func (m *Memory) gameBySlugLocked(gameID string) (*model.Game, error) {
	id, ok := m.gameBySlug[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.games[id], nil
}

func (m *Memory) GetGameByGameID(_ context.Context, gameID string) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return nil, err
	}
	out := *g
	return &out, nil
}

func sortGames(games []model.Game) {
	sort.Slice(games, func(i, j int) bool {
		if games[i].UpdatedAt != games[j].UpdatedAt {
			return games[i].UpdatedAt > games[j].UpdatedAt
		}
		return games[i].ID > games[j].ID
	})
}

func (m *Memory) ListPublicGames(_ context.Context) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Game, 0, len(m.games))
	for _, g := range m.games {
		if !g.Delisted {
			out = append(out, *g)
		}
	}
	sortGames(out)
	return out, nil
}

func (m *Memory) ListGamesByDeveloper(_ context.Context, developerID int64) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Game, 0)
	for _, g := range m.games {
		if g.DeveloperID == developerID {
			out = append(out, *g)
		}
	}
	sortGames(out)
	return out, nil
}

func (m *Memory) SetDelisted(_ context.Context, gameID string, delisted bool, developerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return err
	}
	if g.DeveloperID != developerID {
		return ErrNotOwner
	}
	g.Delisted = delisted
	g.UpdatedAt = now()
	return nil
}

// ---- versions ----

func (m *Memory) CreateVersion(_ context.Context, p NewVersion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.GameRef <= 0 || p.Version == "" {
		return 0, ErrMissingFields
	}
	g, ok := m.games[p.GameRef]
	if !ok {
		return 0, ErrNotFound
	}
	for _, v := range m.versions {
		if v.GameRef == p.GameRef && v.Version == p.Version {
			return 0, ErrVersionExists
		}
	}
	v := &model.GameVersion{
		ID:            m.id(),
		GameRef:       p.GameRef,
		Version:       p.Version,
		Changelog:     p.Changelog,
		UploadedAt:    now(),
		FileName:      p.FileName,
		SizeBytes:     p.SizeBytes,
		SHA256:        p.SHA256,
		ZipPath:       p.ZipPath,
		ExtractedPath: p.ExtractedPath,
		ManifestJSON:  p.ManifestJSON,
		ClientType:    p.ClientType,
		MinPlayers:    p.MinPlayers,
		MaxPlayers:    p.MaxPlayers,
	}
	m.versions[v.ID] = v
	g.UpdatedAt = v.UploadedAt
	return v.ID, nil
}

func (m *Memory) versionsForLocked(gameRef int64) []*model.GameVersion {
	out := make([]*model.GameVersion, 0)
	for _, v := range m.versions {
		if v.GameRef == gameRef {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt != out[j].UploadedAt {
			return out[i].UploadedAt > out[j].UploadedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *Memory) ListVersions(_ context.Context, gameID string) ([]model.GameVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return nil, err
	}
	vs := m.versionsForLocked(g.ID)
	out := make([]model.GameVersion, 0, len(vs))
	for _, v := range vs {
		out = append(out, *v)
	}
	return out, nil
}

func (m *Memory) GetVersion(_ context.Context, gameID, version string) (*model.GameVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return nil, err
	}
	if g.Delisted {
		return nil, ErrGameDelisted
	}
	for _, v := range m.versions {
		if v.GameRef == g.ID && v.Version == version {
			out := *v
			return &out, nil
		}
	}
	return nil, ErrNoSuchVersion
}

func (m *Memory) LatestVersion(_ context.Context, gameID string) (*model.GameVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return nil, err
	}
	if g.Delisted {
		return nil, ErrGameDelisted
	}
	vs := m.versionsForLocked(g.ID)
	if len(vs) == 0 {
		return nil, ErrNoVersion
	}
	out := *vs[0]
	return &out, nil
}

func (m *Memory) GetVersionByID(_ context.Context, id int64) (*model.GameVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

// ---- reviews ----

func (m *Memory) UpsertReview(_ context.Context, gameID string, playerID int64, rating int, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gameID == "" || playerID <= 0 || rating < 1 || rating > 5 {
		return ErrBadRequest
	}
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return err
	}
	ts := now()
	for _, r := range m.reviews {
		if r.GameRef == g.ID && r.PlayerID == playerID {
			r.Rating = rating
			r.Comment = comment
			r.UpdatedAt = ts
			return nil
		}
	}
	r := &model.Review{
		ID:        m.id(),
		GameRef:   g.ID,
		PlayerID:  playerID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	m.reviews[r.ID] = r
	return nil
}

func (m *Memory) ListReviews(_ context.Context, gameID string) ([]model.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Review, 0)
	for _, r := range m.reviews {
		if r.GameRef == g.ID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ---- rooms ----

func (m *Memory) CreateRoom(_ context.Context, hostPlayerID, gameRef, gameVersionRef int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hostPlayerID <= 0 || gameRef <= 0 || gameVersionRef <= 0 {
		return 0, ErrMissingFields
	}
	ts := now()
	r := &memRoom{
		ID:             m.id(),
		HostPlayerID:   hostPlayerID,
		GameRef:        gameRef,
		GameVersionRef: gameVersionRef,
		Status:         model.RoomWaiting,
		CreatedAt:      ts,
		UpdatedAt:      ts,
		Members:        []memMember{{PlayerID: hostPlayerID, JoinedAt: ts}},
	}
	m.rooms[r.ID] = r
	return r.ID, nil
}

func (r *memRoom) playerIDs() []int64 {
	out := make([]int64, 0, len(r.Members))
	for _, mm := range r.Members {
		out = append(out, mm.PlayerID)
	}
	return out
}

func (m *Memory) GetRoom(_ context.Context, roomID int64) (*model.RoomDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	g := m.games[r.GameRef]
	v := m.versions[r.GameVersionRef]
	if g == nil || v == nil {
		return nil, ErrNotFound
	}
	return &model.RoomDetail{
		ID:            r.ID,
		HostPlayerID:  r.HostPlayerID,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		GameRef:       g.ID,
		GameID:        g.GameID,
		GameName:      g.Name,
		Delisted:      g.Delisted,
		GameVersionID: v.ID,
		Version:       v.Version,
		ClientType:    v.ClientType,
		MinPlayers:    v.MinPlayers,
		MaxPlayers:    v.MaxPlayers,
		Players:       r.playerIDs(),
	}, nil
}

func (m *Memory) ListRooms(_ context.Context) ([]model.RoomSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RoomSummary, 0, len(m.rooms))
	for _, r := range m.rooms {
		g := m.games[r.GameRef]
		v := m.versions[r.GameVersionRef]
		if g == nil || v == nil {
			continue
		}
		out = append(out, model.RoomSummary{
			ID:           r.ID,
			HostPlayerID: r.HostPlayerID,
			Status:       r.Status,
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.UpdatedAt,
			GameID:       g.GameID,
			GameName:     g.Name,
			Version:      v.Version,
			Players:      r.playerIDs(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) AddMember(_ context.Context, roomID, playerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	for _, mm := range r.Members {
		if mm.PlayerID == playerID {
			r.UpdatedAt = now()
			return nil
		}
	}
	ts := now()
	r.Members = append(r.Members, memMember{PlayerID: playerID, JoinedAt: ts})
	r.UpdatedAt = ts
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, roomID, playerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	kept := r.Members[:0]
	for _, mm := range r.Members {
		if mm.PlayerID != playerID {
			kept = append(kept, mm)
		}
	}
	r.Members = kept
	r.UpdatedAt = now()
	return nil
}

func (m *Memory) SetHost(_ context.Context, roomID, hostPlayerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	r.HostPlayerID = hostPlayerID
	r.UpdatedAt = now()
	return nil
}

func (m *Memory) SetRoomStatus(_ context.Context, roomID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = now()
	return nil
}

func (m *Memory) DeleteRoomIfEmpty(_ context.Context, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if len(r.Members) != 0 {
		return ErrNotEmpty
	}
	delete(m.rooms, roomID)
	return nil
}

func (m *Memory) HasPlayingForGame(_ context.Context, gameID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return false, err
	}
	for _, r := range m.rooms {
		if r.GameRef == g.ID && r.Status == model.RoomPlaying {
			return true, nil
		}
	}
	return false, nil
}

// ---- match logs ----

func (m *Memory) CreateMatchLog(_ context.Context, p NewMatchLog) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.RoomID <= 0 || p.GameRef <= 0 || p.GameVersionRef <= 0 || p.Reason == "" {
		return 0, ErrMissingFields
	}
	l := &memLog{
		MatchLog: model.MatchLog{
			ID:             m.id(),
			RoomID:         p.RoomID,
			GameRef:        p.GameRef,
			GameVersionRef: p.GameVersionRef,
			StartedAt:      p.StartedAt,
			EndedAt:        p.EndedAt,
			Reason:         p.Reason,
			WinnerPlayerID: p.WinnerPlayerID,
			ResultsJSON:    p.ResultsJSON,
		},
		participants: model.DecodeParticipants(p.ResultsJSON),
	}
	m.logs = append(m.logs, l)
	return l.ID, nil
}

func (l *memLog) hasParticipant(playerID int64) bool {
	for _, id := range l.participants {
		if id == playerID {
			return true
		}
	}
	return false
}

func (m *Memory) HasPlayerPlayed(_ context.Context, gameID string, playerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.gameBySlugLocked(gameID)
	if err != nil {
		return false, err
	}
	for _, l := range m.logs {
		if l.GameRef == g.ID && l.hasParticipant(playerID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListMatchesByPlayer(_ context.Context, playerID int64) ([]model.MatchLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MatchLogEntry, 0)
	for _, l := range m.logs {
		if !l.hasParticipant(playerID) {
			continue
		}
		g := m.games[l.GameRef]
		v := m.versions[l.GameVersionRef]
		if g == nil || v == nil {
			continue
		}
		out = append(out, model.MatchLogEntry{MatchLog: l.MatchLog, GameID: g.GameID, Version: v.Version})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndedAt != out[j].EndedAt {
			return out[i].EndedAt > out[j].EndedAt
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > 50 {
		out = out[:50]
	}
	return out, nil
}
