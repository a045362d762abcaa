package lobby

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Ian0520/gamestore/internal/model"
	"github.com/Ian0520/gamestore/internal/protocol"
	"github.com/Ian0520/gamestore/internal/store"
)

// catalogCode maps store errors onto the storefront edge.
func catalogCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.CodeNoSuchGame
	case errors.Is(err, store.ErrNoSuchVersion):
		return protocol.CodeNoVersion
	}
	return store.Code(err)
}

// listGames joins each listed game with its latest version metadata and the
// developer's username. Games with no published version are skipped: there
// is nothing a player could download.
func (s *session) listGames(ctx context.Context) error {
	games, err := s.srv.repo.ListPublicGames(ctx)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	out := make([]map[string]any, 0, len(games))
	for _, g := range games {
		latest, err := s.srv.repo.LatestVersion(ctx, g.GameID)
		if err != nil {
			if errors.Is(err, store.ErrNoVersion) {
				continue
			}
			return s.conn.SendErr(store.Code(err), nil)
		}
		developer := ""
		if dev, err := s.srv.repo.GetDevByID(ctx, g.DeveloperID); err == nil {
			developer = dev.Username
		}
		out = append(out, map[string]any{
			"gameId":      g.GameID,
			"name":        g.Name,
			"description": g.Description,
			"developer":   developer,
			"version":     latest.Version,
			"clientType":  latest.ClientType,
			"minPlayers":  latest.MinPlayers,
			"maxPlayers":  latest.MaxPlayers,
			"sizeBytes":   latest.SizeBytes,
			"updatedAt":   g.UpdatedAt,
		})
	}
	return s.conn.SendOK(map[string]any{"games": out})
}

type gameDetailReq struct {
	GameID string `json:"gameId"`
}

func (s *session) gameDetail(ctx context.Context, data json.RawMessage) error {
	var p gameDetailReq
	if err := json.Unmarshal(data, &p); err != nil || p.GameID == "" {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	g, err := s.srv.repo.GetGameByGameID(ctx, p.GameID)
	if err != nil {
		return s.conn.SendErr(catalogCode(err), nil)
	}
	reply := map[string]any{"game": g}
	if latest, err := s.srv.repo.LatestVersion(ctx, p.GameID); err == nil {
		reply["latestVersion"] = latest
	}
	reviews, err := s.srv.repo.ListReviews(ctx, p.GameID)
	if err != nil {
		return s.conn.SendErr(catalogCode(err), nil)
	}
	reply["reviews"] = reviews
	return s.conn.SendOK(reply)
}

type reviewReq struct {
	GameID  string `json:"gameId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// reviewUpsert gates reviews on match history: only players who appear in
// at least one MatchLog for the game may rate it.
func (s *session) reviewUpsert(ctx context.Context, data json.RawMessage) error {
	var p reviewReq
	if err := json.Unmarshal(data, &p); err != nil || p.GameID == "" {
		return s.conn.SendErr(protocol.CodeMissingFields, nil)
	}
	played, err := s.srv.repo.HasPlayerPlayed(ctx, p.GameID, s.playerID)
	if err != nil {
		return s.conn.SendErr(catalogCode(err), nil)
	}
	if !played {
		return s.conn.SendErr(protocol.CodeNotPlayed, nil)
	}
	if err := s.srv.repo.UpsertReview(ctx, p.GameID, s.playerID, p.Rating, p.Comment); err != nil {
		return s.conn.SendErr(catalogCode(err), nil)
	}
	return s.conn.SendOK(nil)
}

func (s *session) matchListMine(ctx context.Context) error {
	logs, err := s.srv.repo.ListMatchesByPlayer(ctx, s.playerID)
	if err != nil {
		return s.conn.SendErr(store.Code(err), nil)
	}
	if logs == nil {
		logs = []model.MatchLogEntry{}
	}
	return s.conn.SendOK(map[string]any{"matches": logs})
}
