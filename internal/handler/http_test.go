package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreboard-engine/internal/backup"
	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/ledger"
	"github.com/scoreboard-engine/internal/memory"
	"github.com/scoreboard-engine/internal/personalbest"
	"github.com/scoreboard-engine/internal/ranking"
	"github.com/scoreboard-engine/internal/rules"
	"github.com/scoreboard-engine/internal/service"
	"github.com/scoreboard-engine/internal/storage"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	return newTestRouterWithStore(t, memory.NewStore(), opts)
}

func newTestRouterWithStore(t *testing.T, store storage.Store, opts Options) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := ranking.NewEngine(store, domain.DefaultCalendar(), logger)
	tracker := personalbest.NewTracker(logger)
	cfg := config.DefaultConfig().Leaderboard

	svc := service.NewLeaderboardService(
		store,
		rules.NewStore(store, logger),
		ledger.New(store, engine, tracker, nil, logger),
		engine,
		tracker,
		&cfg,
		nil,
		logger,
	)
	_, err := svc.RegisterGame(context.Background(), "tetris", "")
	require.NoError(t, err)

	backups := backup.NewService(store, engine, tracker, t.TempDir(), logger)
	return NewHandler(svc, backups, opts, logger).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func TestHealthAndReady(t *testing.T) {
	h := newTestRouter(t, Options{})

	code, resp := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestGames(t *testing.T) {
	h := newTestRouter(t, Options{})

	code, resp := do(t, h, http.MethodPost, "/api/v1/games", `{"name":"chess","description":"board"}`)
	require.Equal(t, http.StatusCreated, code)
	var game domain.Game
	require.NoError(t, json.Unmarshal(resp.Data, &game))
	assert.Equal(t, int64(2), game.ID)

	code, _ = do(t, h, http.MethodGet, "/api/v1/games/2", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, h, http.MethodGet, "/api/v1/games/99", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)

	code, _ = do(t, h, http.MethodGet, "/api/v1/games/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/games", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubmitAndRank(t *testing.T) {
	h := newTestRouter(t, Options{})

	for _, body := range []string{
		`{"player_id":1,"game_id":1,"score_value":50}`,
		`{"player_id":2,"game_id":1,"score_value":80}`,
		`{"player_id":3,"game_id":1,"score_value":80}`,
		`{"player_id":4,"game_id":1,"score_value":30}`,
	} {
		code, resp := do(t, h, http.MethodPost, "/api/v1/scores", body)
		require.Equal(t, http.StatusCreated, code, resp.Error)
	}

	code, resp := do(t, h, http.MethodGet, "/api/v1/games/1/leaderboard?period=all_time&limit=10", "")
	require.Equal(t, http.StatusOK, code)
	var board struct {
		Entries []domain.LeaderboardRow `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &board))
	ranks := make(map[int64]int64)
	for _, row := range board.Entries {
		ranks[row.PlayerID] = row.Rank
	}
	assert.Equal(t, map[int64]int64{2: 1, 3: 1, 1: 2, 4: 3}, ranks)

	code, resp = do(t, h, http.MethodGet, "/api/v1/games/1/leaderboard/players/4", "")
	require.Equal(t, http.StatusOK, code)
	var rank domain.PlayerRank
	require.NoError(t, json.Unmarshal(resp.Data, &rank))
	assert.Equal(t, int64(3), rank.Rank)
	assert.Equal(t, int64(4), rank.TotalPlayers)

	code, _ = do(t, h, http.MethodGet, "/api/v1/games/1/leaderboard?period=monthly", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, h, http.MethodGet, "/api/v1/games/1/compare?players=1,2", "")
	require.Equal(t, http.StatusOK, code)
	var compared []domain.PlayerRank
	require.NoError(t, json.Unmarshal(resp.Data, &compared))
	require.Len(t, compared, 2)
	assert.Equal(t, int64(2), compared[0].PlayerID)

	code, _ = do(t, h, http.MethodGet, "/api/v1/games/1/compare?players=1,x", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, h, http.MethodGet, "/api/v1/users/2/personal-bests", "")
	require.Equal(t, http.StatusOK, code)
	var bests []domain.PersonalBest
	require.NoError(t, json.Unmarshal(resp.Data, &bests))
	require.Len(t, bests, 1)
	assert.Equal(t, 80.0, bests[0].BestScore)
}

func TestSubmitRejectedByRule(t *testing.T) {
	h := newTestRouter(t, Options{})

	code, resp := do(t, h, http.MethodPost, "/api/v1/admin/rules", `{"game_id":1,"min_score":0,"max_score":99,"is_active":true}`)
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":1,"game_id":1,"score_value":100}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "maximum 99")

	code, resp = do(t, h, http.MethodPost, "/api/v1/scores/validate", `{"game_id":1,"score_value":100}`)
	require.Equal(t, http.StatusOK, code)
	var verdict domain.Verdict
	require.NoError(t, json.Unmarshal(resp.Data, &verdict))
	assert.False(t, verdict.Valid)

	code, _ = do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":1,"game_id":42,"score_value":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubmitBatch(t *testing.T) {
	h := newTestRouter(t, Options{})

	code, resp := do(t, h, http.MethodPost, "/api/v1/scores/batch", `{"scores":[
		{"player_id":1,"game_id":1,"score_value":10},
		{"player_id":2,"game_id":1,"score_value":-5}
	]}`)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Received int `json:"received"`
		Accepted int `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, 2, out.Received)
	assert.Equal(t, 1, out.Accepted)

	code, _ = do(t, h, http.MethodPost, "/api/v1/scores/batch", `{"scores":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubmitBatch_TooLarge(t *testing.T) {
	h := newTestRouter(t, Options{MaxBatchSize: 2})

	body := `{"scores":[
		{"player_id":1,"game_id":1,"score_value":10},
		{"player_id":2,"game_id":1,"score_value":11},
		{"player_id":3,"game_id":1,"score_value":12}
	]}`
	code, resp := do(t, h, http.MethodPost, "/api/v1/scores/batch", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "exceeds the limit of 2")

	code, _ = do(t, h, http.MethodGet, "/api/v1/games/1/leaderboard/players/1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

// unavailableStore fails every write once down is set.
type unavailableStore struct {
	storage.Store
	down atomic.Bool
}

func (s *unavailableStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if s.down.Load() {
		return domain.NewStorageError("begin", errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	}
	return s.Store.Update(ctx, fn)
}

func TestSubmitBatch_StorageFailureIsGeneric(t *testing.T) {
	store := &unavailableStore{Store: memory.NewStore()}
	h := newTestRouterWithStore(t, store, Options{})
	store.down.Store(true)

	code, resp := do(t, h, http.MethodPost, "/api/v1/scores/batch", `{"scores":[
		{"player_id":1,"game_id":1,"score_value":10},
		{"player_id":2,"game_id":1,"score_value":-5},
		{"player_id":3,"game_id":7,"score_value":10}
	]}`)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(resp.Data), "10.0.0.5")

	var out struct {
		Accepted int `json:"accepted"`
		Results  []struct {
			Index int    `json:"index"`
			Error string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, 0, out.Accepted)
	require.Len(t, out.Results, 3)
	assert.Equal(t, domain.ErrInternalError.Error(), out.Results[0].Error)
	assert.Contains(t, out.Results[1].Error, "non-negative")
	assert.Contains(t, out.Results[2].Error, "not found")

	code, resp = do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":1,"game_id":1,"score_value":10}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, domain.ErrInternalError.Error(), resp.Error)
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, Options{SubmitRatePerSecond: 0.001, SubmitBurst: 1})

	code, _ := do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":1,"game_id":1,"score_value":10}`)
	assert.Equal(t, http.StatusCreated, code)

	code, resp := do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":1,"game_id":1,"score_value":11}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, domain.ErrRateLimited.Error(), resp.Error)

	code, _ = do(t, h, http.MethodGet, "/api/v1/games/1/leaderboard", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestAdminAuth(t *testing.T) {
	h := newTestRouter(t, Options{AdminToken: "s3cret"})

	code, _ := do(t, h, http.MethodGet, "/api/v1/admin/rules", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, http.MethodGet, "/api/v1/admin/rules", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, http.MethodGet, "/api/v1/admin/rules", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, code)
}

func TestInvalidateScore(t *testing.T) {
	h := newTestRouter(t, Options{})

	code, resp := do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":1,"game_id":1,"score_value":10}`)
	require.Equal(t, http.StatusCreated, code)
	var res domain.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/scores/"+jsonID(res.ScoreID)+"/invalidate", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodGet, "/api/v1/games/1/leaderboard/players/1", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/scores/999/invalidate", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestBackups(t *testing.T) {
	h := newTestRouter(t, Options{})

	code, _ := do(t, h, http.MethodPost, "/api/v1/scores", `{"player_id":1,"game_id":1,"score_value":10}`)
	require.Equal(t, http.StatusCreated, code)

	code, resp := do(t, h, http.MethodPost, "/api/v1/admin/backups", `{"scope":"scores"}`)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var created domain.BackupResult
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, domain.ScopeScores, created.Scope)
	assert.Equal(t, 1, created.Counts["scores"])

	code, resp = do(t, h, http.MethodGet, "/api/v1/admin/backups", "")
	require.Equal(t, http.StatusOK, code)
	var infos []domain.BackupInfo
	require.NoError(t, json.Unmarshal(resp.Data, &infos))
	require.Len(t, infos, 1)

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/backups/restore", `{"name":"`+infos[0].Name+`","scope":"scores"}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/backups/restore", `{"name":"../etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, h, http.MethodPost, "/api/v1/admin/backups/restore", `{"name":"leaderboard_backup_missing.json","scope":"scores"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotContains(t, resp.Error, "/")

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/backups", `{"scope":"everything"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/backups/cleanup", `{"retention_days":0}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/maintenance/rebuild", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/admin/maintenance/sweep", `{"game_id":1}`)
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	h := newTestRouter(t, Options{Metrics: metrics})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
