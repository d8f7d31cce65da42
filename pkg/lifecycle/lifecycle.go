// Package lifecycle declares the status graphs of pledges and allocations.
package lifecycle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mxpv/pledgesync/pkg/model"
)

var pledgeGraph = map[model.PledgeStatus][]model.PledgeStatus{
	model.PledgePledged:            {model.PledgeProofSubmitted},
	model.PledgeProofSubmitted:     {model.PledgeVerified, model.PledgePartialReceipt},
	model.PledgePartialReceipt:     {model.PledgeVerified, model.PledgePartiallyAllocated},
	model.PledgeVerified:           {model.PledgePartiallyAllocated},
	model.PledgePartiallyAllocated: {model.PledgeFullyFunded},
	model.PledgeFullyFunded:        {},
}

// allocationStart is the pseudo state an allocation is created from.
const allocationStart = model.AllocationStatus("")

var allocationGraph = map[model.AllocationStatus][]model.AllocationStatus{
	allocationStart:                {model.AllocationPendingHostel},
	model.AllocationPendingHostel:  {model.AllocationHostelVerified},
	model.AllocationHostelVerified: {},
}

// TransitionError is returned for an undeclared edge. It matches model.ErrInvalidTransition.
type TransitionError struct {
	Kind model.EntityKind
	From string
	To   string
}

func (e *TransitionError) Error() string {
	from := e.From
	if from == "" {
		from = "(none)"
	}
	return fmt.Sprintf("%s: %s cannot move from %s to %s", model.ErrInvalidTransition, e.Kind, from, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == model.ErrInvalidTransition
}

// CanTransition reports whether the edge from -> to is declared for kind.
// Unknown statuses never have edges.
func CanTransition(kind model.EntityKind, from, to string) bool {
	switch kind {
	case model.KindPledge:
		return canTransitionPledge(model.PledgeStatus(from), model.PledgeStatus(to))
	case model.KindAllocation:
		return canTransitionAllocation(model.AllocationStatus(from), model.AllocationStatus(to))
	default:
		return false
	}
}

func canTransitionPledge(from, to model.PledgeStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}

	// Cancellation and rejection are reachable from every non-terminal state
	if to == model.PledgeCancelled || to == model.PledgeRejected {
		return true
	}

	for _, next := range pledgeGraph[from] {
		if next == to {
			return true
		}
	}

	return false
}

func canTransitionAllocation(from, to model.AllocationStatus) bool {
	for _, next := range allocationGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyPledge moves the pledge to the given status, leaving it untouched on error.
func ApplyPledge(pledge *model.Pledge, to model.PledgeStatus) error {
	if !CanTransition(model.KindPledge, string(pledge.Status), string(to)) {
		return &TransitionError{Kind: model.KindPledge, From: string(pledge.Status), To: string(to)}
	}

	pledge.Status = to
	return nil
}

// ApplyAllocation moves the allocation to the given status, leaving it untouched on error.
func ApplyAllocation(allocation *model.Allocation, to model.AllocationStatus) error {
	if !CanTransition(model.KindAllocation, string(allocation.Status), string(to)) {
		return &TransitionError{Kind: model.KindAllocation, From: string(allocation.Status), To: string(to)}
	}

	allocation.Status = to
	return nil
}

// DerivePledgeStatus recomputes a pledge status from its ledger rows.
// Derivation is not a transition and is not checked against the graph.
// Terminal statuses are never overwritten, and a pledge without
// allocations keeps the status the receipt workflow gave it.
func DerivePledgeStatus(current model.PledgeStatus, balance decimal.Decimal, allocations int) model.PledgeStatus {
	if current.IsTerminal() || allocations == 0 {
		return current
	}

	if balance.Sign() <= 0 {
		return model.PledgeFullyFunded
	}

	return model.PledgePartiallyAllocated
}
