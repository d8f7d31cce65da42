package lifecycle

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxpv/pledgesync/pkg/model"
)

func TestCanTransition_Pledge(t *testing.T) {
	tests := []struct {
		from, to model.PledgeStatus
		ok       bool
	}{
		{model.PledgePledged, model.PledgeProofSubmitted, true},
		{model.PledgeProofSubmitted, model.PledgeVerified, true},
		{model.PledgeProofSubmitted, model.PledgePartialReceipt, true},
		{model.PledgePartialReceipt, model.PledgeVerified, true},
		{model.PledgePartialReceipt, model.PledgePartiallyAllocated, true},
		{model.PledgeVerified, model.PledgePartiallyAllocated, true},
		{model.PledgePartiallyAllocated, model.PledgeFullyFunded, true},

		{model.PledgePledged, model.PledgeVerified, false},
		{model.PledgeVerified, model.PledgeFullyFunded, false},
		{model.PledgeFullyFunded, model.PledgePartiallyAllocated, false},
		{model.PledgeVerified, model.PledgePledged, false},
		{model.PledgeVerified, model.PledgeVerified, false},
		{model.PledgeVerified, "ON_HOLD", false},
		{"ON_HOLD", model.PledgeVerified, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(model.KindPledge, string(tt.from), string(tt.to)))
		})
	}
}

func TestCanTransition_PledgeTerminal(t *testing.T) {
	for _, from := range model.PledgeStatuses() {
		for _, to := range []model.PledgeStatus{model.PledgeCancelled, model.PledgeRejected} {
			assert.Equal(t, !from.IsTerminal(), CanTransition(model.KindPledge, string(from), string(to)), "%s -> %s", from, to)
		}
	}

	for _, from := range []model.PledgeStatus{model.PledgeCancelled, model.PledgeRejected} {
		for _, to := range model.PledgeStatuses() {
			assert.False(t, CanTransition(model.KindPledge, string(from), string(to)), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_Allocation(t *testing.T) {
	assert.True(t, CanTransition(model.KindAllocation, "", string(model.AllocationPendingHostel)))
	assert.True(t, CanTransition(model.KindAllocation, string(model.AllocationPendingHostel), string(model.AllocationHostelVerified)))

	assert.False(t, CanTransition(model.KindAllocation, "", string(model.AllocationHostelVerified)))
	assert.False(t, CanTransition(model.KindAllocation, string(model.AllocationHostelVerified), string(model.AllocationPendingHostel)))
	assert.False(t, CanTransition(model.KindAllocation, string(model.AllocationHostelVerified), string(model.AllocationHostelVerified)))

	assert.False(t, CanTransition("receipt", "PENDING", "VALID"))
}

func TestApplyPledge(t *testing.T) {
	pledge := &model.Pledge{Status: model.PledgeVerified}

	require.NoError(t, ApplyPledge(pledge, model.PledgePartiallyAllocated))
	assert.Equal(t, model.PledgePartiallyAllocated, pledge.Status)

	err := ApplyPledge(pledge, model.PledgePledged)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	assert.Equal(t, model.PledgePartiallyAllocated, pledge.Status)

	var transition *TransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, model.KindPledge, transition.Kind)
}

func TestApplyAllocation_Monotonic(t *testing.T) {
	allocation := &model.Allocation{}

	require.NoError(t, ApplyAllocation(allocation, model.AllocationPendingHostel))
	require.NoError(t, ApplyAllocation(allocation, model.AllocationHostelVerified))

	err := ApplyAllocation(allocation, model.AllocationPendingHostel)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	assert.Equal(t, model.AllocationHostelVerified, allocation.Status)
	assert.Contains(t, err.Error(), "HOSTEL_VERIFIED")
}

func TestDerivePledgeStatus(t *testing.T) {
	var (
		zero     = decimal.Zero
		positive = decimal.NewFromInt(2000)
	)

	tests := []struct {
		name        string
		current     model.PledgeStatus
		balance     decimal.Decimal
		allocations int
		expected    model.PledgeStatus
	}{
		{"no allocations", model.PledgeVerified, positive, 0, model.PledgeVerified},
		{"no allocations zero balance", model.PledgeProofSubmitted, zero, 0, model.PledgeProofSubmitted},
		{"partially allocated", model.PledgeVerified, positive, 1, model.PledgePartiallyAllocated},
		{"fully funded", model.PledgePartiallyAllocated, zero, 2, model.PledgeFullyFunded},
		{"bypasses graph", model.PledgePledged, zero, 1, model.PledgeFullyFunded},
		{"cancelled stays", model.PledgeCancelled, zero, 1, model.PledgeCancelled},
		{"rejected stays", model.PledgeRejected, positive, 1, model.PledgeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DerivePledgeStatus(tt.current, tt.balance, tt.allocations))
		})
	}
}
