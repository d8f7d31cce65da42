package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/classifier"
	"github.com/mxpv/pledgesync/pkg/lifecycle"
	"github.com/mxpv/pledgesync/pkg/metrics"
	"github.com/mxpv/pledgesync/pkg/model"
)

const (
	OutcomeNoKey          = "no_key"
	OutcomeResolved       = "resolved"
	OutcomeDeferred       = "deferred"
	OutcomeEscalated      = "escalated"
	OutcomeConfirmed      = "confirmed"
	OutcomeStale          = "stale"
	OutcomeStaleEscalated = "stale_escalated"
	OutcomeError          = "error"
)

type Inbox interface {
	Pending(ctx context.Context, limit int) ([]*model.Signal, error)
	MarkProcessed(ctx context.Context, signal *model.Signal) error
	MarkManualReview(ctx context.Context, signal *model.Signal) error
}

type Store interface {
	GetPledge(ctx context.Context, pledgeID string) (*model.Pledge, error)
	WalkAllocations(ctx context.Context, pledgeID string, cb func(allocation *model.Allocation) error) error
	UpdateAllocation(ctx context.Context, pledgeID string, allocID string, cb func(allocation *model.Allocation) error) error
	IncrementStale(ctx context.Context, signalID string) (int, error)
	ResetStale(ctx context.Context, signalID string) error
}

type Mailer interface {
	Send(ctx context.Context, notification *model.Notification) (string, error)
}

// Deriver recomputes a pledge status under the pledge lock.
type Deriver interface {
	Derive(ctx context.Context, pledgeID string, actor string) (bool, error)
}

type Auditor interface {
	Record(ctx context.Context, record model.AuditRecord)
}

type Config struct {
	BatchSize        int
	MaxStaleAttempts int
	Operators        []string
}

// Summary reports what one run did. Err aggregates per-signal failures,
// none of which stopped the run.
type Summary struct {
	Signals   int            `json:"signals"`
	Outcomes  map[string]int `json:"outcomes"`
	Confirmed int            `json:"confirmed"`
	Err       error          `json:"-"`
}

func (s *Summary) record(outcome string) {
	s.Outcomes[outcome]++
	metrics.RecordSignal(outcome)
}

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("reconciliation already running")

var (
	errAlreadyVerified = errors.New("allocation already verified")
	errAlreadyNotified = errors.New("donor already notified")
)

// Engine matches hostel replies to open allocations. It keeps no state
// between runs: labels and ledger rows are re-read every time.
type Engine struct {
	inbox      Inbox
	db         Store
	classifier classifier.Classifier
	mailer     Mailer
	deriver    Deriver
	audit      Auditor
	cfg        Config
	running    sync.Mutex
}

func NewEngine(
	inbox Inbox,
	db Store,
	oracle classifier.Classifier,
	mailer Mailer,
	deriver Deriver,
	audit Auditor,
	cfg Config,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = model.DefaultBatchSize
	}
	if cfg.MaxStaleAttempts <= 0 {
		cfg.MaxStaleAttempts = model.DefaultMaxStaleAttempts
	}

	return &Engine{
		inbox:      inbox,
		db:         db,
		classifier: oracle,
		mailer:     mailer,
		deriver:    deriver,
		audit:      audit,
		cfg:        cfg,
	}
}

// Run handles one batch of pending signals. The returned error is set only
// when the batch could not be fetched, per-signal failures go to Summary.Err.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if !e.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.running.Unlock()

	started := time.Now()
	defer func() {
		metrics.RecordRun(time.Since(started))
	}()

	summary := &Summary{Outcomes: map[string]int{}}

	signals, err := e.inbox.Pending(ctx, e.cfg.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch pending signals")
	}

	summary.Signals = len(signals)
	if len(signals) == 0 {
		log.Debug("no pending signals")
		return summary, nil
	}

	open, err := e.openAllocations(ctx)
	if err != nil {
		return nil, err
	}

	log.Infof("-> reconciling %d signal(s) against %d pledge(s) with open allocations", len(signals), len(open))

	var result *multierror.Error
	for _, signal := range signals {
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}

		outcome, confirmed, err := e.handle(ctx, signal, open)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "signal %s", signal.ID))
		}

		summary.record(outcome)
		summary.Confirmed += confirmed
	}

	summary.Err = result.ErrorOrNil()

	log.WithFields(log.Fields{
		"signals":   summary.Signals,
		"confirmed": summary.Confirmed,
		"outcomes":  summary.Outcomes,
	}).Infof("reconciliation finished in %s", time.Since(started))

	return summary, nil
}

// openAllocations reads every PENDING_HOSTEL allocation once per run.
func (e *Engine) openAllocations(ctx context.Context) (map[string][]*model.Allocation, error) {
	open := map[string][]*model.Allocation{}
	if err := e.db.WalkAllocations(ctx, "", func(allocation *model.Allocation) error {
		if allocation.Status == model.AllocationPendingHostel {
			open[allocation.PledgeID] = append(open[allocation.PledgeID], allocation)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "failed to read open allocations")
	}

	return open, nil
}

func (e *Engine) handle(ctx context.Context, signal *model.Signal, open map[string][]*model.Allocation) (string, int, error) {
	logger := log.WithFields(log.Fields{
		"signal_id": signal.ID,
	})

	pledgeID, ok := matchPledge(signal, logger)
	if !ok {
		if err := e.escalate(ctx, signal, "", OutcomeNoKey, "subject has no pledge id"); err != nil {
			return OutcomeError, 0, err
		}
		return OutcomeNoKey, 0, nil
	}

	logger = logger.WithField("pledge_id", pledgeID)

	candidates := open[pledgeID]
	if len(candidates) == 0 {
		logger.Info("no open allocations, marking processed")
		if err := e.inbox.MarkProcessed(ctx, signal); err != nil {
			return OutcomeError, 0, err
		}
		e.resetStale(ctx, signal, logger)
		return OutcomeResolved, 0, nil
	}

	list := make([]model.Candidate, 0, len(candidates))
	for _, allocation := range candidates {
		list = append(list, allocation.Candidate())
	}

	verdict, err := e.classifier.Classify(ctx, signal.Conversation(), list)
	if err == nil && verdict == nil {
		err = errors.New("classifier returned no verdict")
	}
	if err != nil {
		// Labels stay untouched, the next run retries this signal
		logger.WithError(err).Warn("classifier failed, deferring signal")
		return OutcomeDeferred, 0, nil
	}

	logger = logger.WithField("verdict", verdict.Status)

	if verdict.Status.Escalates() {
		if err := e.escalate(ctx, signal, pledgeID, string(verdict.Status), verdict.Reasoning); err != nil {
			return OutcomeError, 0, err
		}
		return OutcomeEscalated, 0, nil
	}

	matched := confirmedSet(candidates, verdict.ConfirmedAllocIDs, logger)

	var (
		result    *multierror.Error
		confirmed int
		reply     = signal.Latest()
	)

	for _, allocation := range matched {
		ok, err := e.confirm(ctx, allocation, reply, verdict, logger)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if ok {
			confirmed++
		}
	}

	// Confirmed rows are no longer open for the rest of the run
	open[pledgeID] = remaining(candidates, matched)

	if confirmed == 0 {
		if result != nil {
			// Write failures are not a stale reply, retry without counting
			logger.WithError(result).Warn("no allocation confirmed due to store errors")
			return OutcomeError, 0, result.ErrorOrNil()
		}
		return e.stale(ctx, signal, pledgeID, logger)
	}

	metrics.RecordConfirmed(confirmed)

	if err := e.inbox.MarkProcessed(ctx, signal); err != nil {
		result = multierror.Append(result, err)
	}
	e.resetStale(ctx, signal, logger)

	// Derive only after the confirming writes are visible
	if _, err := e.deriver.Derive(ctx, pledgeID, model.DefaultActor); err != nil {
		if errors.Is(err, model.ErrLockTimeout) {
			logger.WithError(err).Warn("pledge is busy, leaving status derivation to repair")
		} else {
			result = multierror.Append(result, err)
		}
	}

	logger.Infof("confirmed %d allocation(s)", confirmed)
	return OutcomeConfirmed, confirmed, result.ErrorOrNil()
}

// confirm moves one allocation to HOSTEL_VERIFIED and notifies the donor.
// Returns false if another run got there first.
func (e *Engine) confirm(
	ctx context.Context,
	allocation *model.Allocation,
	reply *model.Message,
	verdict *classifier.Verdict,
	logger log.FieldLogger,
) (bool, error) {
	logger = logger.WithField("alloc_id", allocation.AllocID)

	var verified *model.Allocation
	err := e.db.UpdateAllocation(ctx, allocation.PledgeID, allocation.AllocID, func(current *model.Allocation) error {
		if current.Status == model.AllocationHostelVerified {
			return errAlreadyVerified
		}

		if err := lifecycle.ApplyAllocation(current, model.AllocationHostelVerified); err != nil {
			return err
		}

		if reply != nil {
			current.HostelReplyID = reply.ID
			current.HostelReplyDate = reply.Date
		}

		verified = current
		return nil
	})

	if errors.Is(err, errAlreadyVerified) {
		logger.Info("allocation was verified concurrently, skipping")
		return false, nil
	} else if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			logger.WithError(err).Warn("refusing allocation transition")
		}
		return false, errors.Wrapf(err, "failed to verify allocation %s", allocation.AllocID)
	}

	logger.Info("allocation verified by hostel")

	notifyID, notifiedAt := e.notifyDonor(ctx, verified, logger)

	metadata := map[string]string{
		"pledge_id":       verified.PledgeID,
		"hostel_reply_id": verified.HostelReplyID,
		"verdict":         string(verdict.Status),
		"reasoning":       verdict.Reasoning,
	}
	if notifyID != "" {
		metadata["donor_notify_id"] = notifyID
		metadata["donor_notify_date"] = notifiedAt.Format(time.RFC3339)
	}

	e.audit.Record(ctx, model.AuditRecord{
		EventType:     model.AuditHostelVerification,
		TargetID:      verified.AllocID,
		Description:   fmt.Sprintf("Hostel confirmed %s for %s", verified.Amount, verified.CmsID),
		PreviousValue: string(model.AllocationPendingHostel),
		NewValue:      string(verified.Status),
		Metadata:      metadata,
	})

	return true, nil
}

// notifyDonor sends the final donor message at most once. Only the run that
// won the status transition gets here, and a failed send is not retried.
// Returns the stamped message id, empty when nothing was sent.
func (e *Engine) notifyDonor(ctx context.Context, allocation *model.Allocation, logger log.FieldLogger) (string, time.Time) {
	pledge, err := e.db.GetPledge(ctx, allocation.PledgeID)
	if err != nil {
		logger.WithError(err).Error("failed to read pledge for donor notification")
		return "", time.Time{}
	}

	if pledge.DonorEmail == "" {
		logger.Warn("pledge has no donor email, skipping notification")
		return "", time.Time{}
	}

	messageID, err := e.mailer.Send(ctx, &model.Notification{
		ID:      allocation.AllocID,
		Kind:    model.NotifyDonorFinal,
		To:      []string{pledge.DonorEmail},
		Subject: fmt.Sprintf("Your gift %s has reached a student", pledge.PledgeID),
		Body: fmt.Sprintf(
			"Dear %s,\n\nThe hostel confirmed that %s from your pledge %s was credited to student %s.\n\nThank you for your support.\n",
			pledge.DonorName,
			allocation.Amount.StringFixed(2),
			pledge.PledgeID,
			allocation.CmsID,
		),
	})
	metrics.RecordNotification(string(model.NotifyDonorFinal), err == nil)
	if err != nil {
		logger.WithError(err).Error("failed to notify donor")
		return "", time.Time{}
	}

	sentAt := time.Now().UTC()
	err = e.db.UpdateAllocation(ctx, allocation.PledgeID, allocation.AllocID, func(current *model.Allocation) error {
		if current.DonorNotifyID != "" {
			return errAlreadyNotified
		}
		current.DonorNotifyID = messageID
		current.DonorNotifyDate = sentAt
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("failed to stamp donor notification")
		return "", time.Time{}
	}

	logger.WithField("message_id", messageID).Info("donor notified")
	return messageID, sentAt
}

// stale handles a confirming verdict that confirmed nothing new. The signal
// stays unlabeled, and is escalated once it keeps making no progress.
func (e *Engine) stale(ctx context.Context, signal *model.Signal, pledgeID string, logger log.FieldLogger) (string, int, error) {
	attempts, err := e.db.IncrementStale(ctx, signal.ID)
	if err != nil {
		return OutcomeStale, 0, errors.Wrap(err, "failed to count stale attempt")
	}

	logger = logger.WithField("attempts", attempts)

	if attempts < e.cfg.MaxStaleAttempts {
		logger.Warn("no allocation confirmed, will retry")
		return OutcomeStale, 0, nil
	}

	reason := fmt.Sprintf("No progress after %d attempts, the reply only names unknown or already verified allocations", attempts)
	if err := e.escalate(ctx, signal, pledgeID, OutcomeStale, reason); err != nil {
		return OutcomeStale, 0, err
	}

	return OutcomeStaleEscalated, 0, nil
}

// escalate hands a signal to an operator. No ledger row is touched.
func (e *Engine) escalate(ctx context.Context, signal *model.Signal, pledgeID string, reason string, details string) error {
	logger := log.WithFields(log.Fields{
		"signal_id": signal.ID,
		"pledge_id": pledgeID,
		"reason":    reason,
	})

	if err := e.inbox.MarkManualReview(ctx, signal); err != nil {
		return err
	}

	logger.Warn("signal needs manual review")

	e.alert(ctx, signal, pledgeID, reason, details)
	e.resetStale(ctx, signal, logger)

	e.audit.Record(ctx, model.AuditRecord{
		EventType:   model.AuditAlert,
		TargetID:    signal.ID,
		Description: fmt.Sprintf("Manual review required (%s)", reason),
		NewValue:    strings.ToUpper(reason),
		Metadata: map[string]string{
			"pledge_id": pledgeID,
			"subject":   signal.Subject,
			"details":   details,
		},
	})

	return nil
}

func (e *Engine) alert(ctx context.Context, signal *model.Signal, pledgeID string, reason string, details string) {
	if len(e.cfg.Operators) == 0 {
		return
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Signal %s needs manual review.\n\n", signal.ID)
	fmt.Fprintf(&body, "Pledge: %s\nReason: %s\n", pledgeID, reason)
	if details != "" {
		fmt.Fprintf(&body, "Details: %s\n", details)
	}
	body.WriteString("\n")
	body.WriteString(signal.Conversation())

	_, err := e.mailer.Send(ctx, &model.Notification{
		ID:      "alert-" + signal.ID,
		Kind:    model.NotifyOperatorAlert,
		To:      e.cfg.Operators,
		Subject: "Manual review: " + signal.Subject,
		Body:    body.String(),
	})
	metrics.RecordNotification(string(model.NotifyOperatorAlert), err == nil)
	if err != nil {
		log.WithError(err).WithField("signal_id", signal.ID).Error("failed to alert operators")
	}
}

func (e *Engine) resetStale(ctx context.Context, signal *model.Signal, logger log.FieldLogger) {
	if err := e.db.ResetStale(ctx, signal.ID); err != nil {
		logger.WithError(err).Warn("failed to reset stale counter")
	}
}

func remaining(open []*model.Allocation, matched []*model.Allocation) []*model.Allocation {
	if len(matched) == 0 {
		return open
	}

	done := make(map[string]struct{}, len(matched))
	for _, allocation := range matched {
		done[allocation.AllocID] = struct{}{}
	}

	var rest []*model.Allocation
	for _, allocation := range open {
		if _, ok := done[allocation.AllocID]; !ok {
			rest = append(rest, allocation)
		}
	}
	return rest
}
