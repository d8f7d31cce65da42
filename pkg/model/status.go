package model

import (
	"github.com/pkg/errors"
)

// EntityKind names a ledger entity governed by a lifecycle.
type EntityKind string

const (
	KindPledge     = EntityKind("pledge")
	KindAllocation = EntityKind("allocation")
)

// PledgeStatus is the lifecycle state of a pledge
type PledgeStatus string

const (
	PledgePledged            = PledgeStatus("PLEDGED")
	PledgeProofSubmitted     = PledgeStatus("PROOF_SUBMITTED")
	PledgePartialReceipt     = PledgeStatus("PARTIAL_RECEIPT")
	PledgeVerified           = PledgeStatus("VERIFIED")
	PledgePartiallyAllocated = PledgeStatus("PARTIALLY_ALLOCATED")
	PledgeFullyFunded        = PledgeStatus("FULLY_FUNDED")
	PledgeCancelled          = PledgeStatus("CANCELLED")
	PledgeRejected           = PledgeStatus("REJECTED")
)

var pledgeStatuses = []PledgeStatus{
	PledgePledged,
	PledgeProofSubmitted,
	PledgePartialReceipt,
	PledgeVerified,
	PledgePartiallyAllocated,
	PledgeFullyFunded,
	PledgeCancelled,
	PledgeRejected,
}

// PledgeStatuses returns every declared pledge status.
func PledgeStatuses() []PledgeStatus {
	out := make([]PledgeStatus, len(pledgeStatuses))
	copy(out, pledgeStatuses)
	return out
}

func ParsePledgeStatus(s string) (PledgeStatus, error) {
	for _, status := range pledgeStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownStatus, "pledge status %q", s)
}

func (s PledgeStatus) Valid() bool {
	_, err := ParsePledgeStatus(string(s))
	return err == nil
}

// IsTerminal reports whether no lifecycle edge leaves s.
func (s PledgeStatus) IsTerminal() bool {
	return s == PledgeCancelled || s == PledgeRejected
}

// Allocatable reports whether new allocations may be drawn against a pledge in this status.
func (s PledgeStatus) Allocatable() bool {
	switch s {
	case PledgePledged, PledgeProofSubmitted, PledgeVerified, PledgePartialReceipt, PledgePartiallyAllocated:
		return true
	default:
		return false
	}
}

func (s *PledgeStatus) UnmarshalText(text []byte) error {
	status, err := ParsePledgeStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// AllocationStatus is the lifecycle state of an allocation
type AllocationStatus string

const (
	AllocationPendingHostel  = AllocationStatus("PENDING_HOSTEL")
	AllocationHostelVerified = AllocationStatus("HOSTEL_VERIFIED")
)

func ParseAllocationStatus(s string) (AllocationStatus, error) {
	switch AllocationStatus(s) {
	case AllocationPendingHostel, AllocationHostelVerified:
		return AllocationStatus(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownStatus, "allocation status %q", s)
	}
}

func (s AllocationStatus) Valid() bool {
	_, err := ParseAllocationStatus(string(s))
	return err == nil
}

func (s AllocationStatus) IsTerminal() bool {
	return s == AllocationHostelVerified
}

func (s *AllocationStatus) UnmarshalText(text []byte) error {
	status, err := ParseAllocationStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ReceiptStatus is the validation state of a receipt
type ReceiptStatus string

const (
	ReceiptPending = ReceiptStatus("PENDING")
	ReceiptValid   = ReceiptStatus("VALID")
	ReceiptInvalid = ReceiptStatus("INVALID")
)

func ParseReceiptStatus(s string) (ReceiptStatus, error) {
	switch ReceiptStatus(s) {
	case ReceiptPending, ReceiptValid, ReceiptInvalid:
		return ReceiptStatus(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownStatus, "receipt status %q", s)
	}
}

func (s *ReceiptStatus) UnmarshalText(text []byte) error {
	status, err := ParseReceiptStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}
