package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/scoreboard-engine/internal/domain"
)

type registerGameRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RegisterGame registers a new game
func (h *Handler) RegisterGame(w http.ResponseWriter, r *http.Request) {
	var req registerGameRequest
	if err := decode(r, &req); err != nil {
		h.writeDomainError(w, "register game", err)
		return
	}

	game, err := h.service.RegisterGame(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeDomainError(w, "register game", err)
		return
	}
	h.writeCreated(w, game)
}

// ListGames lists registered games
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.service.ListGames(r.Context())
	if err != nil {
		h.writeDomainError(w, "list games", err)
		return
	}
	h.writeSuccess(w, games)
}

// GetGame returns a single game
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		h.writeDomainError(w, "get game", err)
		return
	}

	game, err := h.service.GetGame(r.Context(), gameID)
	if err != nil {
		h.writeDomainError(w, "get game", err)
		return
	}
	h.writeSuccess(w, game)
}

// SubmitScore handles score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var submission domain.ScoreSubmission
	if err := decode(r, &submission); err != nil {
		h.writeDomainError(w, "submit score", err)
		return
	}

	res, err := h.service.SubmitScore(r.Context(), submission)
	if domain.IsValidationError(err) {
		h.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Data:    res,
			Error:   err.Error(),
		})
		return
	}
	if err != nil {
		h.writeDomainError(w, "submit score", err)
		return
	}
	h.writeCreated(w, res)
}

// SubmitScoreBatch handles batch score submission
func (h *Handler) SubmitScoreBatch(w http.ResponseWriter, r *http.Request) {
	var batch domain.BatchScoreSubmission
	if err := decode(r, &batch); err != nil {
		h.writeDomainError(w, "submit score batch", err)
		return
	}

	if len(batch.Scores) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if len(batch.Scores) > h.opts.MaxBatchSize {
		h.writeError(w, http.StatusBadRequest,
			fmt.Errorf("%w: batch of %d exceeds the limit of %d", domain.ErrInvalidRequest, len(batch.Scores), h.opts.MaxBatchSize))
		return
	}

	results := h.service.SubmitScoreBatch(r.Context(), batch)
	accepted := 0
	for _, item := range results {
		if item.Result != nil && item.Result.Accepted {
			accepted++
		}
	}

	h.writeSuccess(w, map[string]interface{}{
		"received": len(batch.Scores),
		"accepted": accepted,
		"results":  results,
	})
}

type validateRequest struct {
	GameID   int64   `json:"game_id"`
	Score    float64 `json:"score_value"`
	Playtime int64   `json:"playtime_seconds"`
}

// ValidateScore checks a candidate score without recording it
func (h *Handler) ValidateScore(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decode(r, &req); err != nil {
		h.writeDomainError(w, "validate score", err)
		return
	}
	if req.GameID <= 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: game_id is required", domain.ErrInvalidRequest))
		return
	}

	verdict, err := h.service.ValidateOnly(r.Context(), req.GameID, req.Score, req.Playtime)
	if err != nil {
		h.writeDomainError(w, "validate score", err)
		return
	}
	h.writeSuccess(w, verdict)
}

// GetTopScores returns the top of a game's leaderboard
func (h *Handler) GetTopScores(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		h.writeDomainError(w, "top scores", err)
		return
	}
	window, err := queryWindow(r)
	if err != nil {
		h.writeDomainError(w, "top scores", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeDomainError(w, "top scores", err)
		return
	}
	var difficulty domain.Difficulty
	if raw := r.URL.Query().Get("difficulty"); raw != "" {
		if difficulty, err = domain.ParseDifficulty(raw); err != nil {
			h.writeDomainError(w, "top scores", err)
			return
		}
	}

	rows, err := h.service.TopScores(r.Context(), gameID, window, limit, difficulty)
	if err != nil {
		h.writeDomainError(w, "top scores", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"game_id":     gameID,
		"time_period": window,
		"entries":     rows,
	})
}

// GetPlayerRank returns a player's rank in a game's leaderboard
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		h.writeDomainError(w, "player rank", err)
		return
	}
	playerID, err := pathID(r, "playerID")
	if err != nil {
		h.writeDomainError(w, "player rank", err)
		return
	}
	window, err := queryWindow(r)
	if err != nil {
		h.writeDomainError(w, "player rank", err)
		return
	}

	rank, err := h.service.PlayerRank(r.Context(), playerID, gameID, window)
	if err != nil {
		h.writeDomainError(w, "player rank", err)
		return
	}
	h.writeSuccess(w, rank)
}

// CompareUsers returns the ranks of a comma-separated list of players
func (h *Handler) CompareUsers(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		h.writeDomainError(w, "compare users", err)
		return
	}
	window, err := queryWindow(r)
	if err != nil {
		h.writeDomainError(w, "compare users", err)
		return
	}
	playerIDs, err := parseIDList(r.URL.Query().Get("players"))
	if err != nil {
		h.writeDomainError(w, "compare users", err)
		return
	}

	ranks, err := h.service.CompareUsers(r.Context(), playerIDs, gameID, window)
	if err != nil {
		h.writeDomainError(w, "compare users", err)
		return
	}
	h.writeSuccess(w, ranks)
}

func parseIDList(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid player id %q", domain.ErrInvalidRequest, p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetUserScores returns a player's valid scores, best first
func (h *Handler) GetUserScores(w http.ResponseWriter, r *http.Request) {
	playerID, err := pathID(r, "playerID")
	if err != nil {
		h.writeDomainError(w, "user scores", err)
		return
	}
	gameID, err := queryID(r, "game_id")
	if err != nil {
		h.writeDomainError(w, "user scores", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeDomainError(w, "user scores", err)
		return
	}

	scores, err := h.service.UserScores(r.Context(), playerID, gameID, limit)
	if err != nil {
		h.writeDomainError(w, "user scores", err)
		return
	}
	h.writeSuccess(w, scores)
}

// GetPersonalBests returns a player's personal bests
func (h *Handler) GetPersonalBests(w http.ResponseWriter, r *http.Request) {
	playerID, err := pathID(r, "playerID")
	if err != nil {
		h.writeDomainError(w, "personal bests", err)
		return
	}

	bests, err := h.service.PersonalBests(r.Context(), playerID)
	if err != nil {
		h.writeDomainError(w, "personal bests", err)
		return
	}
	h.writeSuccess(w, bests)
}

// GetGameStats returns per-game statistics
func (h *Handler) GetGameStats(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		h.writeDomainError(w, "game stats", err)
		return
	}

	stats, err := h.service.GameStats(r.Context(), gameID)
	if err != nil {
		h.writeDomainError(w, "game stats", err)
		return
	}
	h.writeSuccess(w, stats)
}

// GetGlobalStats returns statistics across all games
func (h *Handler) GetGlobalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GlobalStats(r.Context())
	if err != nil {
		h.writeDomainError(w, "global stats", err)
		return
	}
	h.writeSuccess(w, stats)
}
