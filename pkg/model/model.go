package model

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Pledge is a donor's committed sum awaiting allocation.
// Created by intake, never deleted.
type Pledge struct {
	PledgeID             string          `json:"pledge_id" sql:",pk"`
	DonorName            string          `json:"donor_name"`
	DonorEmail           string          `json:"donor_email"`
	PledgedAmount        decimal.Decimal `json:"pledged_amount" sql:",notnull"`
	VerifiedReceiptTotal decimal.Decimal `json:"verified_receipt_total" sql:",notnull"` // Denormalized, recomputed from receipts
	Status               PledgeStatus    `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (p *Pledge) Validate() error {
	if _, _, err := ParsePledgeID(p.PledgeID); err != nil {
		return err
	}
	if _, err := ParsePledgeStatus(string(p.Status)); err != nil {
		return errors.Wrapf(err, "pledge %s", p.PledgeID)
	}
	return nil
}

// Receipt is proof of a funds transfer against a pledge.
// Owned by the receipt validation workflow, read-only here.
type Receipt struct {
	ReceiptID      string          `json:"receipt_id" sql:",pk"`
	PledgeID       string          `json:"pledge_id"`
	Status         ReceiptStatus   `json:"status"`
	VerifiedAmount decimal.Decimal `json:"verified_amount" sql:",notnull"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (r *Receipt) Validate() error {
	if _, err := ParseReceiptStatus(string(r.Status)); err != nil {
		return errors.Wrapf(err, "receipt %s", r.ReceiptID)
	}
	return nil
}

// BeneficiaryNeed is the sanitized projection of a beneficiary record.
type BeneficiaryNeed struct {
	CmsID       string          `json:"cms_id" sql:",pk"`
	PendingNeed decimal.Decimal `json:"pending_need" sql:",notnull"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SignalAttempt counts reconciliation runs that made no progress on a signal.
type SignalAttempt struct {
	SignalID   string    `json:"signal_id" sql:",pk"`
	StaleCount int       `json:"stale_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}
