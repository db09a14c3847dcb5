// Package audit persists finished runs so they can be inspected later with
// `patchr status`, `patchr doctor` or the HTTP API.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jorge-barreto/patchr/internal/config"
	"github.com/jorge-barreto/patchr/internal/pipeline"
	"github.com/jorge-barreto/patchr/internal/state"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("audit: record not found")

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is the persisted summary of one run.
type Record struct {
	ID           string               `json:"id"`
	Created      time.Time            `json:"created"`
	Instruction  string               `json:"instruction"`
	Status       string               `json:"status"`
	FailureKind  state.Kind           `json:"failure_kind,omitempty"`
	FailurePhase string               `json:"failure_phase,omitempty"`
	Diagnostic   string               `json:"diagnostic,omitempty"`
	Attempt      int                  `json:"attempt"`
	Generations  int                  `json:"generations"`
	Tasks        []state.Task         `json:"tasks,omitempty"`
	History      []state.HistoryEntry `json:"history"`
	Diagnostics  []string             `json:"diagnostics,omitempty"`
	Verdict      *state.Verdict       `json:"verdict,omitempty"`
	Recap        string               `json:"recap,omitempty"`
	Diff         string               `json:"diff,omitempty"`
}

// Succeeded reports whether the run passed the gate.
func (r *Record) Succeeded() bool { return r.Status == StatusSuccess }

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// FromRun builds the record of a finished run from the orchestrator's result.
func FromRun(res *pipeline.Success, runErr error, now time.Time) (*Record, error) {
	var b *state.Blackboard
	rec := &Record{Created: now.UTC()}
	switch {
	case runErr == nil && res != nil:
		b = res.Board
		rec.Status = StatusSuccess
		rec.Recap = res.Recap
	default:
		var f *pipeline.Failure
		if !errors.As(runErr, &f) {
			return nil, fmt.Errorf("audit: run ended without a failure record: %v", runErr)
		}
		b = f.Board
		rec.Status = StatusFailed
		rec.FailureKind = f.Kind
		rec.FailurePhase = f.Phase
		rec.Diagnostic = f.Diagnostic
	}
	rec.ID = b.RunID
	rec.Instruction = b.Instruction
	rec.Attempt = b.Attempt
	rec.Generations = b.Generations()
	rec.Tasks = b.Tasks
	rec.History = b.History
	rec.Diagnostics = b.Diagnostics
	rec.Verdict = b.Verdict
	if b.Patch != nil {
		rec.Diff = b.Patch.Diff
	}
	return rec, nil
}

// Store saves and loads run records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Latest(ctx context.Context) (*Record, error)
	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg config.Audit) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", cfg.Backend)
	}
}

func validID(id string) bool {
	return uuid.Validate(id) == nil
}
