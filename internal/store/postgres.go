package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ian0520/gamestore/internal/model"
)

// Postgres is the pgxpool-backed Repository.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL and returns the repository handle.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- accounts ----

func (p *Postgres) register(ctx context.Context, table, username, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}
	salt, hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	acc := model.Account{Username: username, CreatedAt: time.Now().Unix()}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (username, salt, password_hash, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		username, salt, hash, acc.CreatedAt,
	).Scan(&acc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("inserting into %s: %w", table, err)
	}
	return &acc, nil
}

func (p *Postgres) login(ctx context.Context, table, username, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}
	var (
		acc        model.Account
		salt, hash []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, salt, password_hash, created_at, last_login_at
		 FROM `+table+` WHERE username = $1`, username,
	).Scan(&acc.ID, &acc.Username, &salt, &hash, &acc.CreatedAt, &acc.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s %q: %w", table, username, err)
	}
	if !VerifyPassword(password, salt, hash) {
		return nil, ErrBadCredentials
	}
	acc.LastLoginAt = time.Now().Unix()
	if _, err := p.pool.Exec(ctx,
		`UPDATE `+table+` SET last_login_at = $1 WHERE id = $2`,
		acc.LastLoginAt, acc.ID,
	); err != nil {
		return nil, fmt.Errorf("updating last login for %q: %w", username, err)
	}
	return &acc, nil
}

func (p *Postgres) accountBy(ctx context.Context, table, where string, arg any) (*model.Account, error) {
	var acc model.Account
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, created_at, last_login_at FROM `+table+` WHERE `+where, arg,
	).Scan(&acc.ID, &acc.Username, &acc.CreatedAt, &acc.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	return &acc, nil
}

func (p *Postgres) RegisterDev(ctx context.Context, username, password string) (*model.Account, error) {
	return p.register(ctx, "dev_user", username, password)
}

func (p *Postgres) LoginDev(ctx context.Context, username, password string) (*model.Account, error) {
	return p.login(ctx, "dev_user", username, password)
}

func (p *Postgres) GetDevByUsername(ctx context.Context, username string) (*model.Account, error) {
	return p.accountBy(ctx, "dev_user", "username = $1", username)
}

func (p *Postgres) GetDevByID(ctx context.Context, id int64) (*model.Account, error) {
	return p.accountBy(ctx, "dev_user", "id = $1", id)
}

func (p *Postgres) RegisterPlayer(ctx context.Context, username, password string) (*model.Account, error) {
	return p.register(ctx, "player_user", username, password)
}

func (p *Postgres) LoginPlayer(ctx context.Context, username, password string) (*model.Account, error) {
	return p.login(ctx, "player_user", username, password)
}

func (p *Postgres) GetPlayerByUsername(ctx context.Context, username string) (*model.Account, error) {
	return p.accountBy(ctx, "player_user", "username = $1", username)
}

// ---- games ----

const gameColumns = `id, game_id, name, description, developer_id, delisted, created_at, updated_at`

func scanGame(row pgx.Row) (*model.Game, error) {
	var g model.Game
	err := row.Scan(&g.ID, &g.GameID, &g.Name, &g.Description, &g.DeveloperID, &g.Delisted, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (p *Postgres) CreateGame(ctx context.Context, np NewGame) (int64, error) {
	if np.GameID == "" || np.Name == "" || np.Description == "" || np.DeveloperID <= 0 {
		return 0, ErrMissingFields
	}
	ts := time.Now().Unix()
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO game (game_id, name, description, developer_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		np.GameID, np.Name, np.Description, np.DeveloperID, ts,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrGameExists
		}
		return 0, fmt.Errorf("inserting game %q: %w", np.GameID, err)
	}
	return id, nil
}

func (p *Postgres) GetGameByGameID(ctx context.Context, gameID string) (*model.Game, error) {
	g, err := scanGame(p.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM game WHERE game_id = $1`, gameID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying game %q: %w", gameID, err)
	}
	return g, nil
}

func (p *Postgres) listGames(ctx context.Context, where string, args ...any) ([]model.Game, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+gameColumns+` FROM game `+where+` ORDER BY updated_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying games: %w", err)
	}
	defer rows.Close()
	out := make([]model.Game, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (p *Postgres) ListPublicGames(ctx context.Context) ([]model.Game, error) {
	return p.listGames(ctx, `WHERE NOT delisted`)
}

func (p *Postgres) ListGamesByDeveloper(ctx context.Context, developerID int64) ([]model.Game, error) {
	return p.listGames(ctx, `WHERE developer_id = $1`, developerID)
}

func (p *Postgres) SetDelisted(ctx context.Context, gameID string, delisted bool, developerID int64) error {
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return err
	}
	if g.DeveloperID != developerID {
		return ErrNotOwner
	}
	if _, err := p.pool.Exec(ctx,
		`UPDATE game SET delisted = $1, updated_at = $2 WHERE id = $3`,
		delisted, time.Now().Unix(), g.ID,
	); err != nil {
		return fmt.Errorf("updating delisted for %q: %w", gameID, err)
	}
	return nil
}

// ---- versions ----

const versionColumns = `id, game_ref, version, changelog, uploaded_at, file_name, size_bytes,
	 sha256, zip_path, extracted_path, manifest_json, client_type, min_players, max_players`

func scanVersion(row pgx.Row) (*model.GameVersion, error) {
	var v model.GameVersion
	err := row.Scan(&v.ID, &v.GameRef, &v.Version, &v.Changelog, &v.UploadedAt, &v.FileName,
		&v.SizeBytes, &v.SHA256, &v.ZipPath, &v.ExtractedPath, &v.ManifestJSON,
		&v.ClientType, &v.MinPlayers, &v.MaxPlayers)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *Postgres) CreateVersion(ctx context.Context, nv NewVersion) (int64, error) {
	if nv.GameRef <= 0 || nv.Version == "" {
		return 0, ErrMissingFields
	}
	ts := time.Now().Unix()
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO game_version (game_ref, version, changelog, uploaded_at, file_name,
		     size_bytes, sha256, zip_path, extracted_path, manifest_json, client_type,
		     min_players, max_players)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		nv.GameRef, nv.Version, nv.Changelog, ts, nv.FileName, nv.SizeBytes, nv.SHA256,
		nv.ZipPath, nv.ExtractedPath, nv.ManifestJSON, nv.ClientType, nv.MinPlayers, nv.MaxPlayers,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrVersionExists
		}
		return 0, fmt.Errorf("inserting version %q: %w", nv.Version, err)
	}
	if _, err := p.pool.Exec(ctx,
		`UPDATE game SET updated_at = $1 WHERE id = $2`, ts, nv.GameRef,
	); err != nil {
		return 0, fmt.Errorf("touching game after version insert: %w", err)
	}
	return id, nil
}

func (p *Postgres) ListVersions(ctx context.Context, gameID string) ([]model.GameVersion, error) {
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM game_version WHERE game_ref = $1
		 ORDER BY uploaded_at DESC, id DESC`, g.ID)
	if err != nil {
		return nil, fmt.Errorf("querying versions for %q: %w", gameID, err)
	}
	defer rows.Close()
	out := make([]model.GameVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (p *Postgres) GetVersion(ctx context.Context, gameID, version string) (*model.GameVersion, error) {
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Delisted {
		return nil, ErrGameDelisted
	}
	v, err := scanVersion(p.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM game_version WHERE game_ref = $1 AND version = $2`,
		g.ID, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSuchVersion
	}
	if err != nil {
		return nil, fmt.Errorf("querying version %q of %q: %w", version, gameID, err)
	}
	return v, nil
}

func (p *Postgres) LatestVersion(ctx context.Context, gameID string) (*model.GameVersion, error) {
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Delisted {
		return nil, ErrGameDelisted
	}
	v, err := scanVersion(p.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM game_version WHERE game_ref = $1
		 ORDER BY uploaded_at DESC, id DESC LIMIT 1`, g.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoVersion
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest version of %q: %w", gameID, err)
	}
	return v, nil
}

func (p *Postgres) GetVersionByID(ctx context.Context, id int64) (*model.GameVersion, error) {
	v, err := scanVersion(p.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM game_version WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying version %d: %w", id, err)
	}
	return v, nil
}

// ---- reviews ----

func (p *Postgres) UpsertReview(ctx context.Context, gameID string, playerID int64, rating int, comment string) error {
	if gameID == "" || playerID <= 0 || rating < 1 || rating > 5 {
		return ErrBadRequest
	}
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO review (game_ref, player_id, rating, comment, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (game_ref, player_id)
		 DO UPDATE SET rating = $3, comment = $4, updated_at = $5`,
		g.ID, playerID, rating, comment, ts,
	); err != nil {
		return fmt.Errorf("upserting review for %q: %w", gameID, err)
	}
	return nil
}

func (p *Postgres) ListReviews(ctx context.Context, gameID string) ([]model.Review, error) {
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, game_ref, player_id, rating, comment, created_at, updated_at
		 FROM review WHERE game_ref = $1 ORDER BY updated_at DESC, id DESC`, g.ID)
	if err != nil {
		return nil, fmt.Errorf("querying reviews for %q: %w", gameID, err)
	}
	defer rows.Close()
	out := make([]model.Review, 0)
	for rows.Next() {
		var r model.Review
		if err := rows.Scan(&r.ID, &r.GameRef, &r.PlayerID, &r.Rating, &r.Comment, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- rooms ----

func (p *Postgres) CreateRoom(ctx context.Context, hostPlayerID, gameRef, gameVersionRef int64) (int64, error) {
	if hostPlayerID <= 0 || gameRef <= 0 || gameVersionRef <= 0 {
		return 0, ErrMissingFields
	}
	ts := time.Now().Unix()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning room insert: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO room (host_player_id, game_ref, game_version_ref, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		hostPlayerID, gameRef, gameVersionRef, model.RoomWaiting, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting room: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO room_member (room_id, player_id, joined_at) VALUES ($1, $2, $3)`,
		id, hostPlayerID, ts,
	); err != nil {
		return 0, fmt.Errorf("inserting host member: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing room insert: %w", err)
	}
	return id, nil
}

func (p *Postgres) roomPlayers(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT player_id FROM room_member WHERE room_id = $1 ORDER BY joined_at, player_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying room members: %w", err)
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning room member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) GetRoom(ctx context.Context, roomID int64) (*model.RoomDetail, error) {
	var d model.RoomDetail
	err := p.pool.QueryRow(ctx,
		`SELECT r.id, r.host_player_id, r.status, r.created_at, r.updated_at,
		        g.id, g.game_id, g.name, g.delisted,
		        v.id, v.version, v.client_type, v.min_players, v.max_players
		 FROM room r
		 JOIN game g ON g.id = r.game_ref
		 JOIN game_version v ON v.id = r.game_version_ref
		 WHERE r.id = $1`, roomID,
	).Scan(&d.ID, &d.HostPlayerID, &d.Status, &d.CreatedAt, &d.UpdatedAt,
		&d.GameRef, &d.GameID, &d.GameName, &d.Delisted,
		&d.GameVersionID, &d.Version, &d.ClientType, &d.MinPlayers, &d.MaxPlayers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room %d: %w", roomID, err)
	}
	if d.Players, err = p.roomPlayers(ctx, roomID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *Postgres) ListRooms(ctx context.Context) ([]model.RoomSummary, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.host_player_id, r.status, r.created_at, r.updated_at,
		        g.game_id, g.name, v.version
		 FROM room r
		 JOIN game g ON g.id = r.game_ref
		 JOIN game_version v ON v.id = r.game_version_ref
		 ORDER BY r.updated_at DESC, r.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()
	out := make([]model.RoomSummary, 0)
	for rows.Next() {
		var s model.RoomSummary
		if err := rows.Scan(&s.ID, &s.HostPlayerID, &s.Status, &s.CreatedAt, &s.UpdatedAt,
			&s.GameID, &s.GameName, &s.Version); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Players, err = p.roomPlayers(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) roomExists(ctx context.Context, roomID int64) error {
	var id int64
	err := p.pool.QueryRow(ctx, `SELECT id FROM room WHERE id = $1`, roomID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying room %d: %w", roomID, err)
	}
	return nil
}

func (p *Postgres) touchRoom(ctx context.Context, roomID int64) error {
	if _, err := p.pool.Exec(ctx,
		`UPDATE room SET updated_at = $1 WHERE id = $2`, time.Now().Unix(), roomID,
	); err != nil {
		return fmt.Errorf("touching room %d: %w", roomID, err)
	}
	return nil
}

func (p *Postgres) AddMember(ctx context.Context, roomID, playerID int64) error {
	if err := p.roomExists(ctx, roomID); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO room_member (room_id, player_id, joined_at) VALUES ($1, $2, $3)
		 ON CONFLICT (room_id, player_id) DO NOTHING`,
		roomID, playerID, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("adding member %d to room %d: %w", playerID, roomID, err)
	}
	return p.touchRoom(ctx, roomID)
}

func (p *Postgres) RemoveMember(ctx context.Context, roomID, playerID int64) error {
	if err := p.roomExists(ctx, roomID); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM room_member WHERE room_id = $1 AND player_id = $2`, roomID, playerID,
	); err != nil {
		return fmt.Errorf("removing member %d from room %d: %w", playerID, roomID, err)
	}
	return p.touchRoom(ctx, roomID)
}

func (p *Postgres) SetHost(ctx context.Context, roomID, hostPlayerID int64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE room SET host_player_id = $1, updated_at = $2 WHERE id = $3`,
		hostPlayerID, time.Now().Unix(), roomID)
	if err != nil {
		return fmt.Errorf("setting host for room %d: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetRoomStatus(ctx context.Context, roomID int64, status string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE room SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().Unix(), roomID)
	if err != nil {
		return fmt.Errorf("setting status for room %d: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteRoomIfEmpty(ctx context.Context, roomID int64) error {
	if err := p.roomExists(ctx, roomID); err != nil {
		return err
	}
	var members int64
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM room_member WHERE room_id = $1`, roomID,
	).Scan(&members); err != nil {
		return fmt.Errorf("counting members of room %d: %w", roomID, err)
	}
	if members != 0 {
		return ErrNotEmpty
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM room WHERE id = $1`, roomID); err != nil {
		return fmt.Errorf("deleting room %d: %w", roomID, err)
	}
	return nil
}

func (p *Postgres) HasPlayingForGame(ctx context.Context, gameID string) (bool, error) {
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room WHERE game_ref = $1 AND status = $2)`,
		g.ID, model.RoomPlaying,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking playing rooms for %q: %w", gameID, err)
	}
	return exists, nil
}

// ---- match logs ----

func (p *Postgres) CreateMatchLog(ctx context.Context, nl NewMatchLog) (int64, error) {
	if nl.RoomID <= 0 || nl.GameRef <= 0 || nl.GameVersionRef <= 0 || nl.Reason == "" {
		return 0, ErrMissingFields
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning match log insert: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO match_log (room_id, game_ref, game_version_ref, started_at, ended_at,
		     reason, winner_player_id, results_json)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), $8) RETURNING id`,
		nl.RoomID, nl.GameRef, nl.GameVersionRef, nl.StartedAt, nl.EndedAt,
		nl.Reason, nl.WinnerPlayerID, nl.ResultsJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting match log: %w", err)
	}
	for _, playerID := range model.DecodeParticipants(nl.ResultsJSON) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO match_participant (match_ref, player_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, id, playerID,
		); err != nil {
			return 0, fmt.Errorf("inserting match participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing match log insert: %w", err)
	}
	return id, nil
}

func (p *Postgres) HasPlayerPlayed(ctx context.Context, gameID string, playerID int64) (bool, error) {
	g, err := p.GetGameByGameID(ctx, gameID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM match_log l
		     JOIN match_participant mp ON mp.match_ref = l.id
		     WHERE l.game_ref = $1 AND mp.player_id = $2)`,
		g.ID, playerID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking match history for %q: %w", gameID, err)
	}
	return exists, nil
}

func (p *Postgres) ListMatchesByPlayer(ctx context.Context, playerID int64) ([]model.MatchLogEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT l.id, l.room_id, l.game_ref, l.game_version_ref, l.started_at, l.ended_at,
		        l.reason, COALESCE(l.winner_player_id, 0), l.results_json,
		        g.game_id, v.version
		 FROM match_log l
		 JOIN match_participant mp ON mp.match_ref = l.id
		 JOIN game g ON g.id = l.game_ref
		 JOIN game_version v ON v.id = l.game_version_ref
		 WHERE mp.player_id = $1
		 ORDER BY l.ended_at DESC, l.id DESC LIMIT 50`, playerID)
	if err != nil {
		return nil, fmt.Errorf("querying match history: %w", err)
	}
	defer rows.Close()
	out := make([]model.MatchLogEntry, 0)
	for rows.Next() {
		var e model.MatchLogEntry
		if err := rows.Scan(&e.ID, &e.RoomID, &e.GameRef, &e.GameVersionRef, &e.StartedAt,
			&e.EndedAt, &e.Reason, &e.WinnerPlayerID, &e.ResultsJSON,
			&e.GameID, &e.Version); err != nil {
			return nil, fmt.Errorf("scanning match log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
