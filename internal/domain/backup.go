package domain

import (
	"fmt"
	"time"
)

// BackupScope selects the collections a backup or restore touches
type BackupScope string

const (
	ScopeFull            BackupScope = "full"
	ScopeScores          BackupScope = "scores"
	ScopePersonalBests   BackupScope = "personal_bests"
	ScopeValidationRules BackupScope = "validation_rules"
	ScopeRankings        BackupScope = "rankings"
)

// ParseBackupScope accepts the scope names used by the CLI and API. Empty
// means full.
func ParseBackupScope(s string) (BackupScope, error) {
	switch BackupScope(s) {
	case "", ScopeFull:
		return ScopeFull, nil
	case ScopeScores, "scores_only":
		return ScopeScores, nil
	case ScopePersonalBests, "personal_bests_only":
		return ScopePersonalBests, nil
	case ScopeValidationRules, "rules", "rules_only":
		return ScopeValidationRules, nil
	case ScopeRankings, "rankings_only":
		return ScopeRankings, nil
	}
	return "", fmt.Errorf("%w: unknown backup scope %q", ErrInvalidRequest, s)
}

// Includes reports whether the scope covers the collection named by other.
func (s BackupScope) Includes(other BackupScope) bool {
	return s == ScopeFull || s == other
}

// Manifest describes a snapshot.
type Manifest struct {
	CreatedAt time.Time   `json:"created_at"`
	Scope     BackupScope `json:"scope"`
	Version   int         `json:"version"`
}

// SnapshotVersion is written into every manifest.
const SnapshotVersion = 1

// Snapshot is a self-describing export of the engine's collections. Games are
// carried with scores so a restored ledger can be submitted to again.
type Snapshot struct {
	Manifest        Manifest         `json:"manifest"`
	Games           []Game           `json:"games,omitempty"`
	Scores          []Score          `json:"scores,omitempty"`
	PersonalBests   []PersonalBest   `json:"personal_bests,omitempty"`
	ValidationRules []ValidationRule `json:"validation_rules,omitempty"`
	RankingEntries  []RankingEntry   `json:"rankings,omitempty"`
}

// Counts returns the number of records per collection included in the scope.
func (s *Snapshot) Counts() map[string]int {
	counts := make(map[string]int)
	scope := s.Manifest.Scope
	if scope.Includes(ScopeScores) {
		counts["games"] = len(s.Games)
		counts[string(ScopeScores)] = len(s.Scores)
	}
	if scope.Includes(ScopePersonalBests) {
		counts[string(ScopePersonalBests)] = len(s.PersonalBests)
	}
	if scope.Includes(ScopeValidationRules) {
		counts[string(ScopeValidationRules)] = len(s.ValidationRules)
	}
	if scope.Includes(ScopeRankings) {
		counts[string(ScopeRankings)] = len(s.RankingEntries)
	}
	return counts
}

// BackupResult is returned after a backup artifact is written
type BackupResult struct {
	Path      string         `json:"path"`
	Scope     BackupScope    `json:"scope"`
	SizeBytes int64          `json:"size_bytes"`
	Counts    map[string]int `json:"counts"`
	CreatedAt time.Time      `json:"created_at"`
}

// RestoreResult is returned after a snapshot is applied
type RestoreResult struct {
	Scope  BackupScope    `json:"scope"`
	Counts map[string]int `json:"counts"`
}

// BackupInfo describes one artifact on disk
type BackupInfo struct {
	Path       string         `json:"path"`
	Name       string         `json:"name"`
	Scope      BackupScope    `json:"scope"`
	SizeBytes  int64          `json:"size_bytes"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt time.Time      `json:"modified_at"`
	Counts     map[string]int `json:"counts"`
}

// BackupStats summarizes the artifact directory
type BackupStats struct {
	TotalBackups   int                 `json:"total_backups"`
	TotalSizeBytes int64               `json:"total_size_bytes"`
	ByScope        map[BackupScope]int `json:"by_scope"`
	Newest         *BackupInfo         `json:"newest,omitempty"`
	Oldest         *BackupInfo         `json:"oldest,omitempty"`
}

// SweepResult reports a suspicious-score sweep
type SweepResult struct {
	Checked     int     `json:"checked"`
	Invalidated []int64 `json:"invalidated_score_ids"`
}
