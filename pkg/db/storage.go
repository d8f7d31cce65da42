package db

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mxpv/pledgesync/pkg/model"
)

type Version int

const (
	CurrentVersion = 1
)

// Storage is the ledger of record. It is shared by several writers, so
// callers must never assume a value read outside a lock is still current.
type Storage interface {
	Close() error
	Version() (int, error)

	// AddPledge inserts a new pledge, fails with model.ErrAlreadyExists if the ID is taken
	AddPledge(ctx context.Context, pledge *model.Pledge) error

	// GetPledge gets a pledge by ID
	GetPledge(ctx context.Context, pledgeID string) (*model.Pledge, error)

	// UpdatePledge reads the current pledge row, passes it to cb and writes it back.
	// Nothing is written if cb returns an error.
	UpdatePledge(ctx context.Context, pledgeID string, cb func(pledge *model.Pledge) error) error

	// WalkPledges iterates over all pledges
	WalkPledges(ctx context.Context, cb func(pledge *model.Pledge) error) error

	// AddReceipt records a receipt against a pledge (intake side)
	AddReceipt(ctx context.Context, receipt *model.Receipt) error

	// WalkReceipts iterates over receipts that belong to the given pledge ID
	WalkReceipts(ctx context.Context, pledgeID string, cb func(receipt *model.Receipt) error) error

	// AddAllocation appends a new allocation row
	AddAllocation(ctx context.Context, allocation *model.Allocation) error

	// GetAllocation gets allocation by identifier
	GetAllocation(ctx context.Context, pledgeID string, allocID string) (*model.Allocation, error)

	// UpdateAllocation is a guarded read-modify-write of one allocation row
	UpdateAllocation(ctx context.Context, pledgeID string, allocID string, cb func(allocation *model.Allocation) error) error

	// WalkAllocations iterates over allocations of a pledge, or over all allocations if pledgeID is empty
	WalkAllocations(ctx context.Context, pledgeID string, cb func(allocation *model.Allocation) error) error

	// GetNeed reads the sanitized beneficiary projection
	GetNeed(ctx context.Context, cmsID string) (*model.BeneficiaryNeed, error)

	// PutNeed inserts or replaces a beneficiary projection
	PutNeed(ctx context.Context, need *model.BeneficiaryNeed) error

	// AddAudit appends an audit record
	AddAudit(ctx context.Context, record *model.AuditRecord) error

	// WalkAudit iterates over audit records of a target in creation order
	WalkAudit(ctx context.Context, targetID string, cb func(record *model.AuditRecord) error) error

	// IncrementStale bumps the no-progress counter of a signal and returns the new value
	IncrementStale(ctx context.Context, signalID string) (int, error)

	// ResetStale forgets the no-progress counter of a signal
	ResetStale(ctx context.Context, signalID string) error
}

// Open creates the ledger backend selected by config.Driver
func Open(config *Config) (Storage, error) {
	switch config.Driver {
	case "", DriverBadger:
		return NewBadger(config)
	case DriverPostgres:
		if config.Postgres == nil || config.Postgres.URL == "" {
			return nil, errors.New("postgres url is required")
		}
		return NewPostgres(config.Postgres)
	default:
		return nil, errors.Errorf("unsupported database driver %q", config.Driver)
	}
}
