// Package review moves staged rows through the reconciliation review states.
//
//	UNMATCHED                     (terminal until commit)
//	POTENTIAL --accept--> MATCHED
//	POTENTIAL --reject--> REVIEWED
//	MATCHED   --reject--> REVIEWED
//	POTENTIAL --verify--> VERIFIED
//	MATCHED   --verify--> VERIFIED
//
// VERIFIED is terminal. Any other edge is an apperror.StateError.
package review

import (
	"github.com/FACorreiaa/bank-reconciler/internal/domain/reconcile/repository"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// Action is a reviewer decision.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionVerify Action = "verify"
)

var transitions = map[Action]map[repository.MatchStatus]repository.MatchStatus{
	ActionAccept: {
		repository.StatusPotential: repository.StatusMatched,
	},
	ActionReject: {
		repository.StatusPotential: repository.StatusReviewed,
		repository.StatusMatched:   repository.StatusReviewed,
	},
	ActionVerify: {
		repository.StatusPotential: repository.StatusVerified,
		repository.StatusMatched:   repository.StatusVerified,
	},
}

// Next returns the status reached by applying action from status from.
func Next(action Action, from repository.MatchStatus) (repository.MatchStatus, error) {
	edges, ok := transitions[action]
	if !ok {
		return "", apperror.NewValidation("action", string(action), "must be accept, reject or verify")
	}
	to, ok := edges[from]
	if !ok {
		return "", &apperror.StateError{Action: string(action), From: string(from)}
	}
	return to, nil
}

// InitialStatus is the status a row gets when it is first matched.
func InitialStatus(confidence repository.Confidence, autoAcceptHigh bool) repository.MatchStatus {
	switch {
	case confidence == repository.ConfidenceNone || confidence == "":
		return repository.StatusUnmatched
	case confidence == repository.ConfidenceHigh && autoAcceptHigh:
		return repository.StatusMatched
	default:
		return repository.StatusPotential
	}
}

// Rematchable reports whether a row's match may be recomputed. Rows a
// reviewer has decided on keep their status.
func Rematchable(status repository.MatchStatus) bool {
	return !status.Decided()
}
