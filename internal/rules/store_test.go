package rules

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/memory"
	"github.com/scoreboard-engine/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *memory.Store) {
	t.Helper()
	mem := memory.NewStore()
	require.NoError(t, mem.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutGame(context.Background(), &domain.Game{Name: "one"}); err != nil {
			return err
		}
		return tx.PutGame(context.Background(), &domain.Game{Name: "two"})
	}))
	return NewStore(mem, slog.New(slog.NewTextHandler(io.Discard, nil))), mem
}

func TestActiveRules_OrderAndScope(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	global := &domain.ValidationRule{MaxScore: domain.Float64(1000), Active: true}
	game1 := &domain.ValidationRule{GameID: domain.Int64(1), MaxScore: domain.Float64(99), Active: true}
	game2 := &domain.ValidationRule{GameID: domain.Int64(2), MaxScore: domain.Float64(5), Active: true}
	inactive := &domain.ValidationRule{GameID: domain.Int64(1), MaxScore: domain.Float64(1), Active: false}
	for _, r := range []*domain.ValidationRule{global, game1, game2, inactive} {
		require.NoError(t, s.Save(ctx, r))
	}

	got, err := s.ActiveRules(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, game1.ID, got[0].ID)
	assert.Equal(t, global.ID, got[1].ID)

	got, err = s.ActiveRules(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Global())
}

func TestSave(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		rule    domain.ValidationRule
		wantErr error
	}{
		{name: "valid", rule: domain.ValidationRule{GameID: domain.Int64(1), MinScore: domain.Float64(0), MaxScore: domain.Float64(10), Active: true}},
		{name: "min above max", rule: domain.ValidationRule{MinScore: domain.Float64(10), MaxScore: domain.Float64(1)}, wantErr: domain.ErrInvalidRequest},
		{name: "unknown advanced", rule: domain.ValidationRule{AdvancedRules: map[string]float64{"speed": 1}}, wantErr: domain.ErrInvalidRequest},
		{name: "unknown game", rule: domain.ValidationRule{GameID: domain.Int64(9)}, wantErr: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			r := tt.rule
			err := s.Save(ctx, &r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, r.ID)
			assert.Equal(t, 1.0, r.ScoreMultiplier)
		})
	}
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	r := &domain.ValidationRule{GameID: domain.Int64(1), MaxScore: domain.Float64(10), Active: true}
	require.NoError(t, s.Save(ctx, r))
	require.NoError(t, s.SetActive(ctx, r.ID, false))

	got, err := s.ActiveRules(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)

	assert.True(t, domain.IsNotFoundError(s.SetActive(ctx, 99, true)))
}
