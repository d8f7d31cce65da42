// Package ledger computes pledge balances and beneficiary needs from source rows.
// Nothing here writes, and nothing is cached between calls.
package ledger

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mxpv/pledgesync/pkg/model"
)

type Store interface {
	GetPledge(ctx context.Context, pledgeID string) (*model.Pledge, error)
	WalkReceipts(ctx context.Context, pledgeID string, cb func(receipt *model.Receipt) error) error
	WalkAllocations(ctx context.Context, pledgeID string, cb func(allocation *model.Allocation) error) error
}

// NeedProvider serves the sanitized beneficiary projection.
type NeedProvider interface {
	GetNeed(ctx context.Context, cmsID string) (*model.BeneficiaryNeed, error)
}

type Calculator struct {
	store Store
	needs NeedProvider
}

func NewCalculator(store Store, needs NeedProvider) *Calculator {
	return &Calculator{store: store, needs: needs}
}

// Snapshot is a consistent-enough view of one pledge, read in a single pass.
// It is only authoritative when taken under the pledge lock.
type Snapshot struct {
	Pledge        *model.Pledge       `json:"pledge"`
	Allocations   []*model.Allocation `json:"allocations"`
	VerifiedTotal decimal.Decimal     `json:"verified_total"`
	Allocated     decimal.Decimal     `json:"allocated"`
	Balance       decimal.Decimal     `json:"balance"`
}

func (c *Calculator) Snapshot(ctx context.Context, pledgeID string) (*Snapshot, error) {
	pledge, err := c.store.GetPledge(ctx, pledgeID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pledge %s", pledgeID)
	}

	verified, err := c.VerifiedTotal(ctx, pledgeID)
	if err != nil {
		return nil, err
	}

	var allocations []*model.Allocation
	if err := c.store.WalkAllocations(ctx, pledgeID, func(allocation *model.Allocation) error {
		allocations = append(allocations, allocation)
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to read allocations of %s", pledgeID)
	}

	allocated := Allocated(allocations)

	return &Snapshot{
		Pledge:        pledge,
		Allocations:   allocations,
		VerifiedTotal: verified,
		Allocated:     allocated,
		Balance:       verified.Sub(allocated),
	}, nil
}

// PledgeBalance is the verified receipt total minus everything allocated so far.
// A pledge without rows has a zero balance, an unknown pledge is model.ErrNotFound.
func (c *Calculator) PledgeBalance(ctx context.Context, pledgeID string) (decimal.Decimal, error) {
	snapshot, err := c.Snapshot(ctx, pledgeID)
	if err != nil {
		return decimal.Zero, err
	}

	return snapshot.Balance, nil
}

// VerifiedTotal sums the verified amount of VALID receipts.
func (c *Calculator) VerifiedTotal(ctx context.Context, pledgeID string) (decimal.Decimal, error) {
	total := decimal.Zero
	if err := c.store.WalkReceipts(ctx, pledgeID, func(receipt *model.Receipt) error {
		if receipt.Status == model.ReceiptValid {
			total = total.Add(receipt.VerifiedAmount)
		}
		return nil
	}); err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to read receipts of %s", pledgeID)
	}

	return total, nil
}

// BeneficiaryRemainingNeed is the projected need minus everything already
// allocated to the beneficiary across all pledges. A beneficiary missing
// from the projection has no need. It is only authoritative when taken
// under the beneficiary lock.
func (c *Calculator) BeneficiaryRemainingNeed(ctx context.Context, cmsID string) (decimal.Decimal, error) {
	need, err := c.needs.GetNeed(ctx, cmsID)
	if errors.Is(err, model.ErrNotFound) {
		return decimal.Zero, nil
	} else if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to read need of %s", cmsID)
	}

	var allocations []*model.Allocation
	if err := c.store.WalkAllocations(ctx, "", func(allocation *model.Allocation) error {
		if allocation.CmsID == cmsID {
			allocations = append(allocations, allocation)
		}
		return nil
	}); err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to read allocations of %s", cmsID)
	}

	remaining := need.PendingNeed.Sub(Allocated(allocations))
	if remaining.Sign() < 0 {
		return decimal.Zero, nil
	}

	return remaining, nil
}

// Allocated sums allocation amounts. Allocations are never cancelled, so every row counts.
func Allocated(allocations []*model.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, allocation := range allocations {
		total = total.Add(allocation.Amount)
	}
	return total
}
