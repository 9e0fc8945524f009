package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/scoreboard-engine/internal/domain"
)

var errNoBackups = errors.New("backups are not configured")

// ListRules returns every validation rule
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		h.writeDomainError(w, "list rules", err)
		return
	}
	h.writeSuccess(w, rules)
}

// SaveRule creates a rule, or replaces the rule named in the path
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.ValidationRule
	if err := decode(r, &rule); err != nil {
		h.writeDomainError(w, "save rule", err)
		return
	}

	created := true
	if r.Method == http.MethodPut {
		id, err := pathID(r, "ruleID")
		if err != nil {
			h.writeDomainError(w, "save rule", err)
			return
		}
		rule.ID = id
		created = false
	} else {
		rule.ID = 0
	}

	if err := h.service.SaveRule(r.Context(), &rule); err != nil {
		h.writeDomainError(w, "save rule", err)
		return
	}
	if created {
		h.writeCreated(w, rule)
		return
	}
	h.writeSuccess(w, rule)
}

// SetRuleActive returns a handler that toggles a rule
func (h *Handler) SetRuleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "ruleID")
		if err != nil {
			h.writeDomainError(w, "set rule active", err)
			return
		}
		if err := h.service.SetRuleActive(r.Context(), id, active); err != nil {
			h.writeDomainError(w, "set rule active", err)
			return
		}
		h.writeSuccess(w, map[string]interface{}{"id": id, "is_active": active})
	}
}

// InvalidateScore excludes a score from rankings
func (h *Handler) InvalidateScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "scoreID")
	if err != nil {
		h.writeDomainError(w, "invalidate score", err)
		return
	}
	score, err := h.service.InvalidateScore(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "invalidate score", err)
		return
	}
	h.writeSuccess(w, score)
}

// RevalidateScore restores an invalidated score
func (h *Handler) RevalidateScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "scoreID")
	if err != nil {
		h.writeDomainError(w, "revalidate score", err)
		return
	}
	score, err := h.service.RevalidateScore(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "revalidate score", err)
		return
	}
	h.writeSuccess(w, score)
}

type backupRequest struct {
	Scope string `json:"scope"`
}

type restoreRequest struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days"`
}

type maintenanceRequest struct {
	PlayerID int64 `json:"player_id"`
	GameID   int64 `json:"game_id"`
}

// decodeOptional reads a JSON body when one is present
func decodeOptional(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

// CreateBackup writes a backup artifact
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoBackups)
		return
	}
	var req backupRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeDomainError(w, "create backup", err)
		return
	}
	scope, err := domain.ParseBackupScope(req.Scope)
	if err != nil {
		h.writeDomainError(w, "create backup", err)
		return
	}

	res, err := h.backups.CreateBackup(r.Context(), scope)
	if err != nil {
		h.writeDomainError(w, "create backup", err)
		return
	}
	h.writeCreated(w, res)
}

// ListBackups lists backup artifacts, newest first
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoBackups)
		return
	}
	infos, err := h.backups.ListBackups()
	if err != nil {
		h.writeDomainError(w, "list backups", err)
		return
	}
	h.writeSuccess(w, infos)
}

// GetBackupStats summarizes backup artifacts
func (h *Handler) GetBackupStats(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoBackups)
		return
	}
	stats, err := h.backups.BackupStats()
	if err != nil {
		h.writeDomainError(w, "backup stats", err)
		return
	}
	h.writeSuccess(w, stats)
}

// RestoreBackup restores an artifact from the backup directory by name
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoBackups)
		return
	}
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		h.writeDomainError(w, "restore backup", err)
		return
	}
	name := filepath.Base(req.Name)
	if req.Name == "" || name != req.Name {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: name must be a backup file name", domain.ErrInvalidRequest))
		return
	}
	scope, err := domain.ParseBackupScope(req.Scope)
	if err != nil {
		h.writeDomainError(w, "restore backup", err)
		return
	}

	res, err := h.backups.RestoreBackup(r.Context(), filepath.Join(h.backups.Dir(), name), scope)
	if err != nil {
		h.writeDomainError(w, "restore backup", err)
		return
	}
	h.writeSuccess(w, res)
}

// CleanupBackups removes artifacts older than the retention period
func (h *Handler) CleanupBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoBackups)
		return
	}
	var req cleanupRequest
	if err := decode(r, &req); err != nil {
		h.writeDomainError(w, "cleanup backups", err)
		return
	}
	removed, err := h.backups.CleanupOldBackups(req.RetentionDays)
	if err != nil {
		h.writeDomainError(w, "cleanup backups", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{"removed": removed, "count": len(removed)})
}

// RebuildRankings recomputes rankings for one game or all of them
func (h *Handler) RebuildRankings(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoBackups)
		return
	}
	var req maintenanceRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeDomainError(w, "rebuild rankings", err)
		return
	}
	if err := h.backups.RebuildRankingsCache(r.Context(), req.GameID); err != nil {
		h.writeDomainError(w, "rebuild rankings", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{"status": "rebuilt", "game_id": req.GameID})
}

// SweepSuspicious invalidates scores that fail the advanced rules
func (h *Handler) SweepSuspicious(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoBackups)
		return
	}
	var req maintenanceRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeDomainError(w, "sweep suspicious scores", err)
		return
	}
	res, err := h.backups.InvalidateSuspiciousScores(r.Context(), req.PlayerID, req.GameID)
	if err != nil {
		h.writeDomainError(w, "sweep suspicious scores", err)
		return
	}
	h.writeSuccess(w, res)
}
