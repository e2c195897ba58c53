package domain

import (
	"time"
)

type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// SyncState is a snapshot copy; the orchestrator owns the live value.
type SyncState struct {
	Status     SyncStatus
	LastSyncAt *time.Time
	LastError  string
}

type ProviderResult struct {
	Provider string
	Err      error
}

// SyncReport is the outcome of one outbound sync cycle.
type SyncReport struct {
	CycleID   string
	Artifact  Artifact
	Results   []ProviderResult
	StartedAt time.Time
	Duration  time.Duration
}

func (r *SyncReport) Succeeded() []string {
	var names []string
	for _, res := range r.Results {
		if res.Err == nil {
			names = append(names, res.Provider)
		}
	}
	return names
}

func (r *SyncReport) Failed() []ProviderResult {
	var failed []ProviderResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Partial is true when at least one provider failed but not all of them.
func (r *SyncReport) Partial() bool {
	failed := len(r.Failed())
	return failed > 0 && failed < len(r.Results)
}

type RestoreState string

const (
	RestoreValidating RestoreState = "validating"
	RestoreStaging    RestoreState = "staging"
	RestoreVerifying  RestoreState = "verifying"
	RestoreSwapping   RestoreState = "swapping"
	RestoreCommitted  RestoreState = "committed"
	RestoreRolledBack RestoreState = "rolled_back"
)

type RestoreResult struct {
	ArtifactPath string
	State        RestoreState
	Manifest     *Manifest
	Duration     time.Duration
	Warnings     []string
}
