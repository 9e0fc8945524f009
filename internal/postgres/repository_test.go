package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreboard-engine/internal/domain"
)

func TestScoreFilterClause(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name      string
		filter    domain.ScoreFilter
		wantWhere string
		wantArgs  []any
	}{
		{name: "empty", filter: domain.ScoreFilter{}},
		{
			name:      "player only",
			filter:    domain.ScoreFilter{PlayerID: 4},
			wantWhere: " WHERE player_id = $1",
			wantArgs:  []any{int64(4)},
		},
		{
			name:      "valid only has no argument",
			filter:    domain.ScoreFilter{GameID: 2, ValidOnly: true},
			wantWhere: " WHERE game_id = $1 AND is_valid",
			wantArgs:  []any{int64(2)},
		},
		{
			name:      "all fields",
			filter:    domain.ScoreFilter{PlayerID: 1, GameID: 2, ValidOnly: true, Since: since, Until: until},
			wantWhere: " WHERE player_id = $1 AND game_id = $2 AND is_valid AND achieved_at >= $3 AND achieved_at < $4",
			wantArgs:  []any{int64(1), int64(2), since, until},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := scoreFilterClause(tt.filter)
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestJSONColumns(t *testing.T) {
	data, err := encodeJSON(domain.Metrics{})
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = encodeJSON(map[string]float64{domain.AdvancedMaxScorePerMinute: 120})
	require.NoError(t, err)

	var advanced map[string]float64
	require.NoError(t, decodeJSON(data, &advanced))
	assert.Equal(t, 120.0, advanced[domain.AdvancedMaxScorePerMinute])

	var metrics domain.Metrics
	require.NoError(t, decodeJSON(nil, &metrics))
	assert.Nil(t, metrics)
}

func TestBoardLockKey(t *testing.T) {
	seen := make(map[int64]string)
	for _, game := range []int64{1, 2, 10, 11} {
		for _, w := range domain.Windows {
			key := boardLockKey(game, w)
			assert.Equal(t, key, boardLockKey(game, w))
			name := fmt.Sprintf("%d/%s", game, w)
			prev, dup := seen[key]
			assert.False(t, dup, "%s collides with %s", name, prev)
			seen[key] = name
		}
	}
}
