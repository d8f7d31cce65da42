package model

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Allocation is a portion of a pledge committed to one beneficiary,
// pending confirmation by the hostel.
type Allocation struct {
	AllocID         string           `json:"alloc_id" sql:",pk"`
	PledgeID        string           `json:"pledge_id"`
	CmsID           string           `json:"cms_id"`
	Amount          decimal.Decimal  `json:"amount" sql:",notnull"`
	Status          AllocationStatus `json:"status"`
	HostelReplyID   string           `json:"hostel_reply_id,omitempty"`
	HostelReplyDate time.Time        `json:"hostel_reply_date,omitempty"`
	DonorNotifyID   string           `json:"donor_notify_id,omitempty"`
	DonorNotifyDate time.Time        `json:"donor_notify_date,omitempty"`
	CreatedBy       string           `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (a *Allocation) Validate() error {
	if a.AllocID == "" {
		return errors.New("allocation id is empty")
	}
	if _, err := ParseAllocationStatus(string(a.Status)); err != nil {
		return errors.Wrapf(err, "allocation %s", a.AllocID)
	}
	return nil
}

// Candidate is the projection of an open allocation handed to the classifier.
type Candidate struct {
	AllocID string          `json:"alloc_id"`
	CmsID   string          `json:"cms_id"`
	Amount  decimal.Decimal `json:"amount"`
}

func (a *Allocation) Candidate() Candidate {
	return Candidate{
		AllocID: a.AllocID,
		CmsID:   a.CmsID,
		Amount:  a.Amount,
	}
}
