package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreboard-engine/internal/domain"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: memory\nmaintenance:\n  backup_dir: " + backups + "\n  retention_days: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, backups
}

func TestBackupThenList(t *testing.T) {
	cfgPath, backups := writeConfig(t)

	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run([]string{"lbctl", "--config", cfgPath, "backup", "--scope", "rules"}))

	var res domain.BackupResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, domain.ScopeValidationRules, res.Scope)
	assert.Equal(t, backups, filepath.Dir(res.Path))

	out.Reset()
	require.NoError(t, newApp(&out).Run([]string{"lbctl", "--config", cfgPath, "list"}))
	assert.Contains(t, out.String(), filepath.Base(res.Path))
	assert.Contains(t, out.String(), "validation_rules")

	out.Reset()
	require.NoError(t, newApp(&out).Run([]string{"lbctl", "--config", cfgPath, "cleanup"}))
	assert.Equal(t, "removed 0 backup(s)\n", out.String())
}

func TestBackupRejectsUnknownScope(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	err := newApp(&bytes.Buffer{}).Run([]string{"lbctl", "--config", cfgPath, "backup", "--scope", "everything"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRestoreRequiresFile(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	err := newApp(&bytes.Buffer{}).Run([]string{"lbctl", "--config", cfgPath, "restore"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "file"))
}

func TestFakeSubmissions(t *testing.T) {
	subs := fakeSubmissions(gofakeit.New(42), 200, 3, 50)
	require.Len(t, subs, 200)

	sessions := make(map[string]bool)
	for _, s := range subs {
		s := s
		require.NoError(t, s.Check())
		assert.Equal(t, int64(3), s.GameID)
		assert.GreaterOrEqual(t, s.PlayerID, int64(1))
		assert.LessOrEqual(t, s.PlayerID, int64(50))
		sessions[s.SessionID] = true
	}
	assert.Len(t, sessions, 200)
}
