package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxpv/pledgesync/pkg/db"
	"github.com/mxpv/pledgesync/pkg/model"
)

var testCtx = context.TODO()

func TestCalculator_PledgeBalance(t *testing.T) {
	storage := createStorage(t)
	calc := NewCalculator(storage, storage)

	require.NoError(t, storage.AddPledge(testCtx, &model.Pledge{PledgeID: "PLEDGE-2024-001", Status: model.PledgeVerified}))

	// New pledge without any rows
	balance, err := calc.PledgeBalance(testCtx, "PLEDGE-2024-001")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	addReceipt(t, storage, "R1", "PLEDGE-2024-001", model.ReceiptValid, 3000)
	addReceipt(t, storage, "R2", "PLEDGE-2024-001", model.ReceiptValid, 2000)
	addReceipt(t, storage, "R3", "PLEDGE-2024-001", model.ReceiptPending, 700)
	addReceipt(t, storage, "R4", "PLEDGE-2024-001", model.ReceiptInvalid, 900)

	addAllocation(t, storage, "a1", "PLEDGE-2024-001", model.AllocationPendingHostel, "1200.50")
	addAllocation(t, storage, "a2", "PLEDGE-2024-001", model.AllocationHostelVerified, "800")

	verified, err := calc.VerifiedTotal(testCtx, "PLEDGE-2024-001")
	require.NoError(t, err)
	assert.Equal(t, "5000", verified.String())

	balance, err = calc.PledgeBalance(testCtx, "PLEDGE-2024-001")
	require.NoError(t, err)
	assert.Equal(t, "2999.5", balance.String())
}

func TestCalculator_PledgeNotFound(t *testing.T) {
	storage := createStorage(t)
	calc := NewCalculator(storage, storage)

	_, err := calc.PledgeBalance(testCtx, "PLEDGE-2024-404")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestCalculator_Snapshot(t *testing.T) {
	storage := createStorage(t)
	calc := NewCalculator(storage, storage)

	require.NoError(t, storage.AddPledge(testCtx, &model.Pledge{PledgeID: "PLEDGE-2024-002", Status: model.PledgePartiallyAllocated}))
	addReceipt(t, storage, "R1", "PLEDGE-2024-002", model.ReceiptValid, 1000)
	addAllocation(t, storage, "a1", "PLEDGE-2024-002", model.AllocationPendingHostel, "700")

	snapshot, err := calc.Snapshot(testCtx, "PLEDGE-2024-002")
	require.NoError(t, err)

	assert.Equal(t, model.PledgePartiallyAllocated, snapshot.Pledge.Status)
	assert.Len(t, snapshot.Allocations, 1)
	assert.Equal(t, "1000", snapshot.VerifiedTotal.String())
	assert.Equal(t, "700", snapshot.Allocated.String())
	assert.Equal(t, "300", snapshot.Balance.String())
}

func TestCalculator_BeneficiaryRemainingNeed(t *testing.T) {
	storage := createStorage(t)
	calc := NewCalculator(storage, storage)

	need, err := calc.BeneficiaryRemainingNeed(testCtx, "S1")
	require.NoError(t, err)
	assert.True(t, need.IsZero())

	require.NoError(t, storage.PutNeed(testCtx, &model.BeneficiaryNeed{CmsID: "S1", PendingNeed: decimal.NewFromInt(4500)}))

	need, err = calc.BeneficiaryRemainingNeed(testCtx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "4500", need.String())

	// Allocations from any pledge count against the same beneficiary
	addAllocation(t, storage, "a1", "PLEDGE-2024-001", model.AllocationPendingHostel, "1000")
	addAllocation(t, storage, "a2", "PLEDGE-2024-002", model.AllocationHostelVerified, "2000.25")

	need, err = calc.BeneficiaryRemainingNeed(testCtx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "1499.75", need.String())

	require.NoError(t, storage.AddAllocation(testCtx, &model.Allocation{
		AllocID:  "a3",
		PledgeID: "PLEDGE-2024-001",
		CmsID:    "S2",
		Amount:   decimal.NewFromInt(500),
		Status:   model.AllocationPendingHostel,
	}))

	need, err = calc.BeneficiaryRemainingNeed(testCtx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "1499.75", need.String())

	// Projection dropped below what is already committed
	require.NoError(t, storage.PutNeed(testCtx, &model.BeneficiaryNeed{CmsID: "S1", PendingNeed: decimal.NewFromInt(2000)}))

	need, err = calc.BeneficiaryRemainingNeed(testCtx, "S1")
	require.NoError(t, err)
	assert.True(t, need.IsZero())
}

func TestAllocated(t *testing.T) {
	assert.True(t, Allocated(nil).IsZero())

	list := []*model.Allocation{
		{Amount: decimal.RequireFromString("0.1")},
		{Amount: decimal.RequireFromString("0.2")},
	}
	assert.Equal(t, "0.3", Allocated(list).String())
}

func createStorage(t *testing.T) *db.Badger {
	t.Helper()

	storage, err := db.NewBadger(&db.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = storage.Close()
	})

	return storage
}

func addReceipt(t *testing.T, storage db.Storage, id, pledgeID string, status model.ReceiptStatus, amount int64) {
	t.Helper()

	require.NoError(t, storage.AddReceipt(testCtx, &model.Receipt{
		ReceiptID:      id,
		PledgeID:       pledgeID,
		Status:         status,
		VerifiedAmount: decimal.NewFromInt(amount),
	}))
}

func addAllocation(t *testing.T, storage db.Storage, id, pledgeID string, status model.AllocationStatus, amount string) {
	t.Helper()

	require.NoError(t, storage.AddAllocation(testCtx, &model.Allocation{
		AllocID:  id,
		PledgeID: pledgeID,
		CmsID:    "S1",
		Amount:   decimal.RequireFromString(amount),
		Status:   status,
	}))
}
