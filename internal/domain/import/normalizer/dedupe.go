package normalizer

import (
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// Strategy decides what happens to a row whose fingerprint is already staged.
type Strategy string

const (
	StrategySkip    Strategy = "skip"    // drop the new row
	StrategyReplace Strategy = "replace" // delete the staged row, stage the new one, unless it is decided
	StrategyAllow   Strategy = "allow"   // stage both
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategySkip, StrategyReplace, StrategyAllow:
		return st, nil
	case "":
		return StrategySkip, nil
	default:
		return "", apperror.NewValidation("duplicate strategy", s, "must be skip, replace or allow")
	}
}

// Action is the outcome of a dedupe decision.
type Action int

const (
	ActionInsert Action = iota
	ActionSkip
	ActionReplace
)

// Deduper applies a Strategy against the fingerprints already staged for an
// account. Each staged row absorbs at most one incoming row, so a statement
// that legitimately repeats a row keeps both copies on first import and
// drops both on re-import. Replace never removes a decided row
// (MATCHED, REVIEWED or VERIFIED); the incoming copy is skipped instead.
type Deduper struct {
	strategy Strategy
	staged   map[string][]repository.StagedRef
}

// NewDeduper copies staged so decisions do not mutate the caller's map.
func NewDeduper(strategy Strategy, staged map[string][]repository.StagedRef) *Deduper {
	cp := make(map[string][]repository.StagedRef, len(staged))
	for fp, refs := range staged {
		cp[fp] = append([]repository.StagedRef(nil), refs...)
	}
	return &Deduper{strategy: strategy, staged: cp}
}

// Decide returns the action for a fingerprint and, for ActionReplace, the
// staged row to delete.
func (d *Deduper) Decide(fingerprint string) (Action, uuid.UUID) {
	if d.strategy == StrategyAllow {
		return ActionInsert, uuid.Nil
	}

	refs := d.staged[fingerprint]
	if len(refs) == 0 {
		return ActionInsert, uuid.Nil
	}
	d.staged[fingerprint] = refs[1:]

	if d.strategy == StrategyReplace && !refs[0].Status.Decided() {
		return ActionReplace, refs[0].ID
	}
	return ActionSkip, uuid.Nil
}
