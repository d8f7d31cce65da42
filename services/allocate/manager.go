package allocate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/ledger"
	"github.com/mxpv/pledgesync/pkg/lifecycle"
	"github.com/mxpv/pledgesync/pkg/lock"
	"github.com/mxpv/pledgesync/pkg/metrics"
	"github.com/mxpv/pledgesync/pkg/model"
	"github.com/mxpv/pledgesync/pkg/queue"
)

type Store interface {
	ledger.Store
	ledger.NeedProvider
	AddAllocation(ctx context.Context, allocation *model.Allocation) error
	UpdatePledge(ctx context.Context, pledgeID string, cb func(pledge *model.Pledge) error) error
	WalkPledges(ctx context.Context, cb func(pledge *model.Pledge) error) error
}

type Auditor interface {
	Record(ctx context.Context, record model.AuditRecord)
}

type IDGenerator interface {
	Generate() (string, error)
}

type Request struct {
	PledgeID string          `json:"pledge_id"`
	CmsID    string          `json:"cms_id"`
	Amount   decimal.Decimal `json:"amount"`
	Actor    string          `json:"actor"`
}

type Config struct {
	// LockTimeout bounds the wait for a pledge lock
	LockTimeout time.Duration
	// HostelAddress receives allocation requests
	HostelAddress string
}

// errUnchanged aborts a pledge update that would write the same status back.
var errUnchanged = errors.New("status unchanged")

type Manager struct {
	db       Store
	calc     *ledger.Calculator
	locker   lock.Locker
	ids      IDGenerator
	audit    Auditor
	notifier queue.Notifier
	cfg      Config
	now      func() time.Time
}

func NewManager(
	db Store,
	locker lock.Locker,
	ids IDGenerator,
	audit Auditor,
	notifier queue.Notifier,
	cfg Config,
) *Manager {
	return &Manager{
		db:       db,
		calc:     ledger.NewCalculator(db, db),
		locker:   locker,
		ids:      ids,
		audit:    audit,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAllocation commits part of a pledge balance to a beneficiary.
// The whole read-check-write runs under the pledge lock and the beneficiary
// lock, taken in that order, and either fully succeeds or writes nothing.
func (m *Manager) CreateAllocation(ctx context.Context, req Request) (string, error) {
	logger := log.WithFields(log.Fields{
		"pledge_id": req.PledgeID,
		"cms_id":    req.CmsID,
		"amount":    req.Amount.String(),
	})

	if req.Actor == "" {
		req.Actor = model.DefaultActor
	}

	if err := validateRequest(req); err != nil {
		metrics.RecordAllocation("rejected")
		return "", err
	}

	pledgeKey := lock.PledgeKey(req.PledgeID)
	pledgeGuard, err := m.acquire(ctx, pledgeKey)
	if err != nil {
		metrics.RecordAllocation(lockOutcome(err))
		logger.WithError(err).Warn("failed to lock pledge")
		return "", err
	}

	needKey := lock.BeneficiaryKey(req.CmsID)
	needGuard, err := m.acquire(ctx, needKey)
	if err != nil {
		m.release(pledgeGuard, pledgeKey)
		metrics.RecordAllocation(lockOutcome(err))
		logger.WithError(err).Warn("failed to lock beneficiary")
		return "", err
	}

	allocation, err := m.allocate(ctx, req)
	m.release(needGuard, needKey)
	m.release(pledgeGuard, pledgeKey)

	if err != nil {
		if model.IsValidation(err) {
			metrics.RecordAllocation("rejected")
			logger.WithError(err).Info("allocation rejected")
		} else {
			metrics.RecordAllocation("failed")
			logger.WithError(err).Error("allocation failed")
		}
		return "", err
	}

	metrics.RecordAllocation("created")
	logger.WithField("alloc_id", allocation.AllocID).Info("allocation created")

	m.audit.Record(ctx, model.AuditRecord{
		Actor:       req.Actor,
		EventType:   model.AuditAllocation,
		TargetID:    allocation.AllocID,
		Description: fmt.Sprintf("Allocated %s from %s to %s", allocation.Amount, allocation.PledgeID, allocation.CmsID),
		NewValue:    string(allocation.Status),
		Metadata: map[string]string{
			"pledge_id": allocation.PledgeID,
			"cms_id":    allocation.CmsID,
			"amount":    allocation.Amount.String(),
		},
	})

	if err := m.notifier.Notify(ctx, m.hostelRequest(allocation)); err != nil {
		logger.WithError(err).Warn("failed to queue hostel notification")
	}

	return allocation.AllocID, nil
}

func validateRequest(req Request) error {
	if _, _, err := model.ParsePledgeID(req.PledgeID); err != nil {
		return model.NewValidationError("pledge_id", "%q is not a pledge id", req.PledgeID)
	}

	if strings.TrimSpace(req.CmsID) == "" {
		return model.NewValidationError("cms_id", "beneficiary is required")
	}

	if req.Amount.Sign() <= 0 {
		return model.NewValidationError("amount", "must be positive, got %s", req.Amount)
	}

	return nil
}

// allocate must be called with both the pledge and beneficiary locks held.
func (m *Manager) allocate(ctx context.Context, req Request) (*model.Allocation, error) {
	snapshot, err := m.calc.Snapshot(ctx, req.PledgeID)
	if err != nil {
		return nil, err
	}

	status := snapshot.Pledge.Status
	if !status.Allocatable() {
		return nil, model.NewValidationError("pledge_id", "pledge is %s and can't be allocated", status)
	}

	if req.Amount.GreaterThan(snapshot.Balance) {
		return nil, model.NewValidationError("amount", "%s exceeds pledge balance %s", req.Amount, snapshot.Balance)
	}

	need, err := m.calc.BeneficiaryRemainingNeed(ctx, req.CmsID)
	if err != nil {
		return nil, err
	}

	if need.Sign() <= 0 {
		return nil, model.NewValidationError("cms_id", "beneficiary %s has no pending need", req.CmsID)
	}

	if req.Amount.GreaterThan(need) {
		return nil, model.NewValidationError("amount", "%s exceeds remaining need %s of %s", req.Amount, need, req.CmsID)
	}

	allocID, err := m.ids.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate allocation id")
	}

	allocation := &model.Allocation{
		AllocID:   allocID,
		PledgeID:  req.PledgeID,
		CmsID:     req.CmsID,
		Amount:    req.Amount,
		CreatedBy: req.Actor,
		CreatedAt: m.now(),
	}

	if err := lifecycle.ApplyAllocation(allocation, model.AllocationPendingHostel); err != nil {
		return nil, err
	}

	if err := m.db.AddAllocation(ctx, allocation); err != nil {
		return nil, errors.Wrap(err, "failed to append allocation")
	}

	// The allocation stands even if the status write fails, repair re-derives it later
	if _, err := m.derive(ctx, req.PledgeID, req.Actor); err != nil {
		log.WithError(err).WithField("pledge_id", req.PledgeID).Warn("failed to derive pledge status after allocation")
	}

	return allocation, nil
}

// Derive recomputes and stores the status of one pledge under its lock.
// Returns true if the stored status changed.
func (m *Manager) Derive(ctx context.Context, pledgeID string, actor string) (bool, error) {
	key := lock.PledgeKey(pledgeID)
	guard, err := m.acquire(ctx, key)
	if err != nil {
		return false, err
	}
	defer m.release(guard, key)

	return m.derive(ctx, pledgeID, actor)
}

// derive must be called with the pledge lock held.
func (m *Manager) derive(ctx context.Context, pledgeID string, actor string) (bool, error) {
	snapshot, err := m.calc.Snapshot(ctx, pledgeID)
	if err != nil {
		return false, err
	}

	var previous, derived model.PledgeStatus
	err = m.db.UpdatePledge(ctx, pledgeID, func(pledge *model.Pledge) error {
		previous = pledge.Status
		derived = lifecycle.DerivePledgeStatus(pledge.Status, snapshot.Balance, len(snapshot.Allocations))
		if derived == previous {
			return errUnchanged
		}

		pledge.Status = derived
		pledge.UpdatedAt = m.now()
		return nil
	})

	if errors.Is(err, errUnchanged) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "failed to update status of %s", pledgeID)
	}

	log.WithFields(log.Fields{
		"pledge_id":   pledgeID,
		"actor":       actor,
		"from":        previous,
		"to":          derived,
		"balance":     snapshot.Balance.String(),
		"allocations": len(snapshot.Allocations),
	}).Info("pledge status derived")

	return true, nil
}

// Repair re-derives every non-terminal pledge whose stored status drifted
// from its ledger rows. Failures are collected, the pass always completes.
func (m *Manager) Repair(ctx context.Context) (int, error) {
	var ids []string
	if err := m.db.WalkPledges(ctx, func(pledge *model.Pledge) error {
		if !pledge.Status.IsTerminal() {
			ids = append(ids, pledge.PledgeID)
		}
		return nil
	}); err != nil {
		return 0, errors.Wrap(err, "failed to walk pledges")
	}

	var (
		result   *multierror.Error
		repaired int
	)

	for _, pledgeID := range ids {
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}

		changed, err := m.Derive(ctx, pledgeID, model.DefaultActor)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "pledge %s", pledgeID))
			continue
		}

		if changed {
			repaired++
		}
	}

	log.Infof("repair pass checked %d pledge(s), repaired %d", len(ids), repaired)
	return repaired, result.ErrorOrNil()
}

// Transition moves a pledge along its lifecycle on behalf of an operator.
func (m *Manager) Transition(ctx context.Context, pledgeID string, to model.PledgeStatus, actor string) error {
	if actor == "" {
		actor = model.DefaultActor
	}

	if !to.Valid() {
		return model.NewValidationError("status", "unknown pledge status %q", to)
	}

	key := lock.PledgeKey(pledgeID)
	guard, err := m.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer m.release(guard, key)

	var previous model.PledgeStatus
	if err := m.db.UpdatePledge(ctx, pledgeID, func(pledge *model.Pledge) error {
		previous = pledge.Status
		if err := lifecycle.ApplyPledge(pledge, to); err != nil {
			return err
		}
		pledge.UpdatedAt = m.now()
		return nil
	}); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			log.WithError(err).WithField("pledge_id", pledgeID).Warn("transition refused")
		}
		return err
	}

	m.audit.Record(ctx, model.AuditRecord{
		Actor:         actor,
		EventType:     model.AuditStatusTransition,
		TargetID:      pledgeID,
		Description:   fmt.Sprintf("Pledge moved to %s", to),
		PreviousValue: string(previous),
		NewValue:      string(to),
	})

	return nil
}

func (m *Manager) acquire(ctx context.Context, key string) (lock.Guard, error) {
	started := time.Now()
	guard, err := m.locker.Acquire(ctx, key, m.cfg.LockTimeout)
	metrics.RecordLockWait(time.Since(started), err == nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock %s", key)
	}
	return guard, nil
}

func (m *Manager) release(guard lock.Guard, key string) {
	if err := guard.Release(context.Background()); err != nil {
		log.WithError(err).WithField("lock", key).Error("failed to release lock")
	}
}

// lockOutcome labels a failed acquire. Only an exhausted wait is a timeout.
func lockOutcome(err error) string {
	if errors.Is(err, model.ErrLockTimeout) {
		return "lock_timeout"
	}
	return "failed"
}

func (m *Manager) hostelRequest(allocation *model.Allocation) *model.Notification {
	return &model.Notification{
		ID:      allocation.AllocID,
		Kind:    model.NotifyHostelRequest,
		To:      []string{m.cfg.HostelAddress},
		Subject: fmt.Sprintf("Allocation request %s for %s", allocation.PledgeID, allocation.CmsID),
		Body: fmt.Sprintf(
			"Please credit %s to student %s and reply to this message once received.\n\nPledge: %s\nAllocation: %s\n",
			allocation.Amount.StringFixed(2),
			allocation.CmsID,
			allocation.PledgeID,
			allocation.AllocID,
		),
	}
}
