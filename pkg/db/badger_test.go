package db

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxpv/pledgesync/pkg/model"
)

var testCtx = context.TODO()

func TestNewBadger(t *testing.T) {
	dir := t.TempDir()

	db, err := NewBadger(&Config{Dir: dir})
	require.NoError(t, err)

	err = db.Close()
	assert.NoError(t, err)
}

func TestBadger_Version(t *testing.T) {
	db := createBadger(t)

	ver, err := db.Version()
	assert.NoError(t, err)
	assert.Equal(t, CurrentVersion, ver)
}

func TestBadger_AddPledge(t *testing.T) {
	db := createBadger(t)

	pledge := getPledge("PLEDGE-2024-001")
	err := db.AddPledge(testCtx, pledge)
	assert.NoError(t, err)

	err = db.AddPledge(testCtx, pledge)
	assert.Equal(t, model.ErrAlreadyExists, err)
}

func TestBadger_AddInvalidPledge(t *testing.T) {
	db := createBadger(t)

	pledge := getPledge("PLEDGE-24-1")
	assert.Error(t, db.AddPledge(testCtx, pledge))

	pledge = getPledge("PLEDGE-2024-001")
	pledge.Status = "UNKNOWN"
	err := db.AddPledge(testCtx, pledge)
	assert.True(t, errors.Is(err, model.ErrUnknownStatus))
}

func TestBadger_GetPledge(t *testing.T) {
	db := createBadger(t)

	pledge := getPledge("PLEDGE-2024-001")
	require.NoError(t, db.AddPledge(testCtx, pledge))

	actual, err := db.GetPledge(testCtx, pledge.PledgeID)
	require.NoError(t, err)
	assert.Equal(t, pledge.PledgeID, actual.PledgeID)
	assert.Equal(t, pledge.DonorEmail, actual.DonorEmail)
	assert.Equal(t, model.PledgeVerified, actual.Status)
	assert.True(t, pledge.PledgedAmount.Equal(actual.PledgedAmount))

	_, err = db.GetPledge(testCtx, "PLEDGE-2024-999")
	assert.Equal(t, model.ErrNotFound, err)
}

func TestBadger_GetPledgeWithUnknownStatus(t *testing.T) {
	db := createBadger(t)

	key := db.getKey(pledgePath, "PLEDGE-2024-001")
	err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(`{"pledge_id": "PLEDGE-2024-001", "status": "ON_HOLD"}`))
	})
	require.NoError(t, err)

	_, err = db.GetPledge(testCtx, "PLEDGE-2024-001")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnknownStatus))
}

func TestBadger_UpdatePledge(t *testing.T) {
	db := createBadger(t)

	pledge := getPledge("PLEDGE-2024-001")
	require.NoError(t, db.AddPledge(testCtx, pledge))

	err := db.UpdatePledge(testCtx, pledge.PledgeID, func(pledge *model.Pledge) error {
		pledge.Status = model.PledgePartiallyAllocated
		return nil
	})
	require.NoError(t, err)

	actual, err := db.GetPledge(testCtx, pledge.PledgeID)
	require.NoError(t, err)
	assert.Equal(t, model.PledgePartiallyAllocated, actual.Status)
}

func TestBadger_UpdatePledgeCallbackError(t *testing.T) {
	db := createBadger(t)

	pledge := getPledge("PLEDGE-2024-001")
	require.NoError(t, db.AddPledge(testCtx, pledge))

	failure := errors.New("stop")
	err := db.UpdatePledge(testCtx, pledge.PledgeID, func(pledge *model.Pledge) error {
		pledge.Status = model.PledgeCancelled
		return failure
	})
	assert.Equal(t, failure, err)

	actual, err := db.GetPledge(testCtx, pledge.PledgeID)
	require.NoError(t, err)
	assert.Equal(t, model.PledgeVerified, actual.Status)

	err = db.UpdatePledge(testCtx, pledge.PledgeID, func(pledge *model.Pledge) error {
		pledge.PledgeID = "PLEDGE-2024-002"
		return nil
	})
	assert.Error(t, err)

	err = db.UpdatePledge(testCtx, "PLEDGE-2024-404", func(pledge *model.Pledge) error {
		return nil
	})
	assert.Equal(t, model.ErrNotFound, err)
}

func TestBadger_WalkPledges(t *testing.T) {
	db := createBadger(t)

	require.NoError(t, db.AddPledge(testCtx, getPledge("PLEDGE-2024-001")))
	require.NoError(t, db.AddPledge(testCtx, getPledge("PLEDGE-2024-002")))

	var ids []string
	err := db.WalkPledges(testCtx, func(pledge *model.Pledge) error {
		ids = append(ids, pledge.PledgeID)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"PLEDGE-2024-001", "PLEDGE-2024-002"}, ids)
}

func TestBadger_Receipts(t *testing.T) {
	db := createBadger(t)

	require.NoError(t, db.AddReceipt(testCtx, &model.Receipt{
		ReceiptID:      "R1",
		PledgeID:       "PLEDGE-2024-001",
		Status:         model.ReceiptValid,
		VerifiedAmount: decimal.NewFromInt(1000),
	}))
	require.NoError(t, db.AddReceipt(testCtx, &model.Receipt{
		ReceiptID: "R2",
		PledgeID:  "PLEDGE-2024-001",
		Status:    model.ReceiptPending,
	}))
	require.NoError(t, db.AddReceipt(testCtx, &model.Receipt{
		ReceiptID:      "R3",
		PledgeID:       "PLEDGE-2024-0010",
		Status:         model.ReceiptValid,
		VerifiedAmount: decimal.NewFromInt(50),
	}))

	var ids []string
	err := db.WalkReceipts(testCtx, "PLEDGE-2024-001", func(receipt *model.Receipt) error {
		ids = append(ids, receipt.ReceiptID)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, ids)
}

func TestBadger_Allocations(t *testing.T) {
	db := createBadger(t)

	first := getAllocation("PLEDGE-2024-1", "a1")
	require.NoError(t, db.AddAllocation(testCtx, first))
	require.NoError(t, db.AddAllocation(testCtx, getAllocation("PLEDGE-2024-1", "a2")))
	require.NoError(t, db.AddAllocation(testCtx, getAllocation("PLEDGE-2024-10", "a3")))

	assert.Equal(t, model.ErrAlreadyExists, db.AddAllocation(testCtx, first))

	var ids []string
	err := db.WalkAllocations(testCtx, "PLEDGE-2024-1", func(allocation *model.Allocation) error {
		ids = append(ids, allocation.AllocID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)

	ids = nil
	err = db.WalkAllocations(testCtx, "", func(allocation *model.Allocation) error {
		ids = append(ids, allocation.AllocID)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
}

func TestBadger_UpdateAllocation(t *testing.T) {
	db := createBadger(t)

	require.NoError(t, db.AddAllocation(testCtx, getAllocation("PLEDGE-2024-1", "a1")))

	replied := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	err := db.UpdateAllocation(testCtx, "PLEDGE-2024-1", "a1", func(allocation *model.Allocation) error {
		allocation.Status = model.AllocationHostelVerified
		allocation.HostelReplyID = "msg-1"
		allocation.HostelReplyDate = replied
		return nil
	})
	require.NoError(t, err)

	actual, err := db.GetAllocation(testCtx, "PLEDGE-2024-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AllocationHostelVerified, actual.Status)
	assert.Equal(t, "msg-1", actual.HostelReplyID)
	assert.True(t, replied.Equal(actual.HostelReplyDate))

	err = db.UpdateAllocation(testCtx, "PLEDGE-2024-1", "a1", func(allocation *model.Allocation) error {
		allocation.Status = "BROKEN"
		return nil
	})
	assert.True(t, errors.Is(err, model.ErrUnknownStatus))

	_, err = db.GetAllocation(testCtx, "PLEDGE-2024-1", "missing")
	assert.Equal(t, model.ErrNotFound, err)
}

func TestBadger_Needs(t *testing.T) {
	db := createBadger(t)

	_, err := db.GetNeed(testCtx, "S1")
	assert.Equal(t, model.ErrNotFound, err)

	require.NoError(t, db.PutNeed(testCtx, &model.BeneficiaryNeed{CmsID: "S1", PendingNeed: decimal.NewFromInt(4000)}))
	require.NoError(t, db.PutNeed(testCtx, &model.BeneficiaryNeed{CmsID: "S1", PendingNeed: decimal.NewFromInt(2500)}))

	need, err := db.GetNeed(testCtx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "2500", need.PendingNeed.String())

	assert.Error(t, db.PutNeed(testCtx, &model.BeneficiaryNeed{}))
}

func TestBadger_Audit(t *testing.T) {
	db := createBadger(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"x3", "x1", "x2"} {
		require.NoError(t, db.AddAudit(testCtx, &model.AuditRecord{
			ID:        id,
			Actor:     "tester",
			EventType: model.AuditAllocation,
			TargetID:  "a1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, db.AddAudit(testCtx, &model.AuditRecord{ID: "y1", TargetID: "a10", CreatedAt: base}))

	var ids []string
	err := db.WalkAudit(testCtx, "a1", func(record *model.AuditRecord) error {
		ids = append(ids, record.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x3", "x1", "x2"}, ids)
}

func TestBadger_StaleCounter(t *testing.T) {
	db := createBadger(t)

	for i := 1; i <= 3; i++ {
		count, err := db.IncrementStale(testCtx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	require.NoError(t, db.ResetStale(testCtx, "thread-1"))
	require.NoError(t, db.ResetStale(testCtx, "thread-unknown"))

	count, err := db.IncrementStale(testCtx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOpen(t *testing.T) {
	storage, err := Open(&Config{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, storage.Close())

	_, err = Open(&Config{Driver: DriverPostgres})
	assert.Error(t, err)

	_, err = Open(&Config{Driver: "sqlite"})
	assert.Error(t, err)
}

func createBadger(t *testing.T) *Badger {
	t.Helper()

	db, err := NewBadger(&Config{Dir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func getPledge(id string) *model.Pledge {
	return &model.Pledge{
		PledgeID:             id,
		DonorName:            "Jane Donor",
		DonorEmail:           "jane@example.com",
		PledgedAmount:        decimal.NewFromInt(5000),
		VerifiedReceiptTotal: decimal.NewFromInt(5000),
		Status:               model.PledgeVerified,
		CreatedAt:            time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func getAllocation(pledgeID, allocID string) *model.Allocation {
	return &model.Allocation{
		AllocID:   allocID,
		PledgeID:  pledgeID,
		CmsID:     "S1",
		Amount:    decimal.NewFromInt(100),
		Status:    model.AllocationPendingHostel,
		CreatedBy: "tester",
		CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}
